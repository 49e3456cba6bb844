package domain

import (
	"math/big"
	"time"
)

// PaymentInfo is the price locked at booking time. It is never recomputed.
type PaymentInfo struct {
	TotalDayPriceInFiatCents int64 `json:"total_day_price_in_fiat_cents"`
	TotalTripDays            int64 `json:"total_trip_days"`
	DiscountAmount           int64 `json:"discount_amount"`
	ReferralDiscountPercent  int64 `json:"referral_discount_percent,omitempty"`
	SalesTaxInFiatCents      int64 `json:"sales_tax_in_fiat_cents"`
	GovernmentTaxInFiatCents int64 `json:"government_tax_in_fiat_cents"`
	DepositInFiatCents       int64 `json:"deposit_in_fiat_cents"`
	DeliveryFeeInFiatCents   int64 `json:"delivery_fee_in_fiat_cents"`
	TotalInFiatCents         int64 `json:"total_in_fiat_cents"`

	SettlementCurrency      string   `json:"settlement_currency"`
	SettlementRate          *big.Int `json:"settlement_rate"`
	SettlementRateDecimals  uint8    `json:"settlement_rate_decimals"`
	SettlementTokenDecimals uint8    `json:"settlement_token_decimals"`
	TotalInTokens           *big.Int `json:"total_in_tokens"`
}

// RentalInFiatCents is the day price net of discount.
func (p PaymentInfo) RentalInFiatCents() int64 {
	return p.TotalDayPriceInFiatCents - p.DiscountAmount
}

// TaxesInFiatCents is the sum of sales and government tax.
func (p PaymentInfo) TaxesInFiatCents() int64 {
	return p.SalesTaxInFiatCents + p.GovernmentTaxInFiatCents
}

// TransactionInfo records the final money movement of a trip.
type TransactionInfo struct {
	DateTime                 time.Time  `json:"date_time"`
	DepositRefundInFiatCents int64      `json:"deposit_refund_in_fiat_cents"`
	TripEarningsInFiatCents  int64      `json:"trip_earnings_in_fiat_cents"`
	PlatformFeeInFiatCents   int64      `json:"platform_fee_in_fiat_cents"`
	TaxesInFiatCents         int64      `json:"taxes_in_fiat_cents"`
	ForfeitedInFiatCents     int64      `json:"forfeited_in_fiat_cents,omitempty"`
	ForfeitedTo              string     `json:"forfeited_to,omitempty"`
	DepositHeld              bool       `json:"deposit_held,omitempty"`
	StatusBeforeCancellation TripStatus `json:"status_before_cancellation"`
	StartFuelLevel           int64      `json:"start_fuel_level"`
	EndFuelLevel             int64      `json:"end_fuel_level"`
	StartOdometer            int64      `json:"start_odometer"`
	EndOdometer              int64      `json:"end_odometer"`
}

// EscrowStatus represents the state of funds held for a trip.
type EscrowStatus string

const (
	EscrowStatusHeld        EscrowStatus = "HELD"
	EscrowStatusDepositHeld EscrowStatus = "DEPOSIT_HELD"
	EscrowStatusSettled     EscrowStatus = "SETTLED"
	EscrowStatusRefunded    EscrowStatus = "REFUNDED"
)

// Escrow holds the guest's payment between request and settlement.
type Escrow struct {
	TripID      int64
	Currency    string
	Amount      *big.Int // Total received at request time.
	Remaining   *big.Int // Still held.
	HeldDeposit *big.Int // Deposit kept back while claims are pending.
	Guest       string
	Status      EscrowStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransferKind labels a journal entry.
type TransferKind string

const (
	TransferKindEscrowIn      TransferKind = "ESCROW_IN"
	TransferKindRefund        TransferKind = "REFUND"
	TransferKindForfeit       TransferKind = "FORFEIT"
	TransferKindDepositRefund TransferKind = "DEPOSIT_REFUND"
	TransferKindPlatformFee   TransferKind = "PLATFORM_FEE"
	TransferKindTax           TransferKind = "TAX"
	TransferKindTripEarnings  TransferKind = "TRIP_EARNINGS"
	TransferKindClaimPayment  TransferKind = "CLAIM_PAYMENT"
	TransferKindClaimChange   TransferKind = "CLAIM_CHANGE"
)

// Transfer is one journal line of value moving between accounts.
type Transfer struct {
	ID        string
	TripID    int64
	ClaimID   int64
	From      string
	To        string
	Currency  string
	Amount    *big.Int
	Kind      TransferKind
	CreatedAt time.Time
}

// EscrowAccount is the pseudo-address value is held under between request and settlement.
const EscrowAccount = "escrow"
