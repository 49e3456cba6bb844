package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rental/internal/domain"
)

// ReceiptService handles receipt generation.
type ReceiptService struct {
	notificationService *NotificationService
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(notificationService *NotificationService) *ReceiptService {
	return &ReceiptService{
		notificationService: notificationService,
	}
}

// GenerateReceipt builds the receipt of a trip whose money movement is final.
func (s *ReceiptService) GenerateReceipt(ctx context.Context, trip *domain.Trip) (*domain.Receipt, error) {
	if trip == nil {
		return nil, ErrReceiptNotReady
	}
	if trip.TransactionInfo == nil {
		return nil, ErrReceiptNotReady
	}

	info := trip.PaymentInfo
	tx := trip.TransactionInfo

	receipt := &domain.Receipt{
		ID:                       uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("receipt:%d", trip.ID))).String(),
		TripID:                   trip.ID,
		CarID:                    trip.CarID,
		Guest:                    trip.Guest,
		Host:                     trip.Host,
		TotalDayPriceInFiatCents: info.TotalDayPriceInFiatCents,
		TotalTripDays:            info.TotalTripDays,
		DiscountAmount:           info.DiscountAmount,
		SalesTax:                 info.SalesTaxInFiatCents,
		GovernmentTax:            info.GovernmentTaxInFiatCents,
		DeliveryFee:              info.DeliveryFeeInFiatCents,
		DepositReceived:          info.DepositInFiatCents,
		DepositRefund:            tx.DepositRefundInFiatCents,
		PlatformFee:              tx.PlatformFeeInFiatCents,
		TripEarnings:             tx.TripEarningsInFiatCents,
		TotalInFiatCents:         info.TotalInFiatCents,
		Currency:                 info.SettlementCurrency,
		StartFuelLevel:           tx.StartFuelLevel,
		EndFuelLevel:             tx.EndFuelLevel,
		StartOdometer:            tx.StartOdometer,
		EndOdometer:              tx.EndOdometer,
		StartDateTime:            trip.StartDateTime,
		EndDateTime:              trip.EndDateTime,
		Status:                   trip.Status,
		CreatedAt:                time.Now(),
	}

	return receipt, nil
}

// PublishReceipt generates the receipt of a trip that just reached a terminal
// status and notifies the guest that it is ready.
func (s *ReceiptService) PublishReceipt(ctx context.Context, trip *domain.Trip) {
	receipt, err := s.GenerateReceipt(ctx, trip)
	if err != nil {
		return
	}
	if s.notificationService != nil {
		_ = s.notificationService.NotifyReceiptReady(ctx, receipt)
	}
}

// FormatReceipt formats the receipt as a string (for email/print).
func FormatReceipt(receipt *domain.Receipt) string {
	return `
=====================================
        RENTAL RECEIPT
=====================================
Receipt ID: ` + receipt.ID + `
Trip ID: ` + fmt.Sprint(receipt.TripID) + `
Car ID: ` + fmt.Sprint(receipt.CarID) + `
Date: ` + receipt.CreatedAt.Format("Jan 02, 2006 3:04 PM") + `

TRIP DETAILS
-------------------------------------
From:      ` + receipt.StartDateTime.Format("Jan 02, 2006 3:04 PM") + `
To:        ` + receipt.EndDateTime.Format("Jan 02, 2006 3:04 PM") + `
Days:      ` + fmt.Sprint(receipt.TotalTripDays) + `
Fuel:      ` + fmt.Sprintf("%d -> %d", receipt.StartFuelLevel, receipt.EndFuelLevel) + `
Odometer:  ` + fmt.Sprintf("%d -> %d", receipt.StartOdometer, receipt.EndOdometer) + `

PRICE BREAKDOWN
-------------------------------------
Day Price:        $` + formatCents(receipt.TotalDayPriceInFiatCents) + `
Discount:        -$` + formatCents(receipt.DiscountAmount) + `
Sales Tax:        $` + formatCents(receipt.SalesTax) + `
Government Tax:   $` + formatCents(receipt.GovernmentTax) + `
Delivery:         $` + formatCents(receipt.DeliveryFee) + `
Deposit:          $` + formatCents(receipt.DepositReceived) + `
-------------------------------------
TOTAL:            $` + formatCents(receipt.TotalInFiatCents) + ` (` + receipt.Currency + `)

SETTLEMENT
-------------------------------------
Deposit Refund:   $` + formatCents(receipt.DepositRefund) + `
Host Earnings:    $` + formatCents(receipt.TripEarnings) + `
Status: ` + string(receipt.Status) + `

=====================================
     Thank you for renting with us!
=====================================
`
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
