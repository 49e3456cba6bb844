package service

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"rental/internal/config"
	"rental/internal/currency"
	"rental/internal/domain"
	"rental/internal/repository"
)

// SettlementService holds trip payments in escrow and performs every payout.
// All methods run inside the caller's unit of work.
type SettlementService struct {
	policy *config.Policy
	now    func() time.Time
}

// NewSettlementService creates a new SettlementService.
func NewSettlementService(policy *config.Policy) *SettlementService {
	return &SettlementService{
		policy: policy,
		now:    time.Now,
	}
}

// Hold moves the guest's payment into escrow. The amount must match the locked price exactly.
func (s *SettlementService) Hold(ctx context.Context, repos repository.Repositories, trip *domain.Trip, paid *big.Int) (*domain.Escrow, error) {
	required := trip.PaymentInfo.TotalInTokens
	if required == nil {
		required = new(big.Int)
	}
	if paid == nil || paid.Cmp(required) != 0 {
		received := new(big.Int)
		if paid != nil {
			received.Set(paid)
		}
		return nil, &PaymentMismatchError{
			Currency: trip.PaymentInfo.SettlementCurrency,
			Required: new(big.Int).Set(required),
			Received: received,
		}
	}

	now := s.now()
	escrow := &domain.Escrow{
		TripID:      trip.ID,
		Currency:    trip.PaymentInfo.SettlementCurrency,
		Amount:      new(big.Int).Set(paid),
		Remaining:   new(big.Int).Set(paid),
		HeldDeposit: new(big.Int),
		Guest:       trip.Guest,
		Status:      domain.EscrowStatusHeld,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repos.Escrows.Create(ctx, escrow); err != nil {
		return nil, err
	}

	if err := s.journal(ctx, repos, &domain.Transfer{
		TripID:   trip.ID,
		From:     trip.Guest,
		To:       domain.EscrowAccount,
		Currency: escrow.Currency,
		Amount:   paid,
		Kind:     domain.TransferKindEscrowIn,
	}); err != nil {
		return nil, err
	}

	return escrow, nil
}

// SettleCancellation refunds a canceled trip according to the refund table.
// The rental portion is split by the rule; taxes and deposit always go back to the guest.
func (s *SettlementService) SettleCancellation(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role, prior domain.TripStatus) (*domain.TransactionInfo, error) {
	escrow, err := s.lockHeld(ctx, repos, trip.ID)
	if err != nil {
		return nil, err
	}

	rule, ok := s.policy.RefundRule(role, prior)
	if !ok {
		rule = config.RefundRule{Role: role, Status: prior, RefundPercent: 100, ForfeitTo: config.ForfeitToPlatform}
	}

	info := trip.PaymentInfo
	rental := info.RentalInFiatCents() + info.DeliveryFeeInFiatCents
	forfeited := rental - rental*rule.RefundPercent/100
	refund := info.TotalInFiatCents - forfeited

	forfeitTokens := s.toTokens(info, forfeited)
	if forfeitTokens.Cmp(escrow.Remaining) > 0 {
		forfeitTokens.Set(escrow.Remaining)
	}
	refundTokens := new(big.Int).Sub(escrow.Remaining, forfeitTokens)

	if err := s.payout(ctx, repos, escrow, trip.Guest, refundTokens, domain.TransferKindRefund); err != nil {
		return nil, err
	}
	if forfeitTokens.Sign() > 0 {
		to := s.policy.PlatformAccount
		if rule.ForfeitTo == config.ForfeitToHost {
			to = trip.Host
		}
		if err := s.payout(ctx, repos, escrow, to, forfeitTokens, domain.TransferKindForfeit); err != nil {
			return nil, err
		}
	}

	escrow.Status = domain.EscrowStatusRefunded
	escrow.UpdatedAt = s.now()
	if err := repos.Escrows.Update(ctx, escrow); err != nil {
		return nil, err
	}

	tx := s.transactionInfo(trip)
	tx.DepositRefundInFiatCents = refund
	tx.TripEarningsInFiatCents = 0
	tx.StatusBeforeCancellation = prior
	if forfeited > 0 {
		tx.ForfeitedInFiatCents = forfeited
		tx.ForfeitedTo = rule.ForfeitTo
	}

	log.Printf("[SETTLEMENT] trip=%d canceled by %s from %s: refund=%d forfeited=%d (%s)",
		trip.ID, role, prior, refund, forfeited, rule.ForfeitTo)
	return tx, nil
}

// SettleFinish splits the escrow of a finished trip between the guest's deposit,
// the platform fee, taxes, and the host's earnings. When holdDeposit is set the
// deposit stays in escrow until ReleaseHeldDeposit.
// feeDiscountPercent reduces the platform fee in favor of the host.
func (s *SettlementService) SettleFinish(ctx context.Context, repos repository.Repositories, trip *domain.Trip, holdDeposit bool, feeDiscountPercent int64) (*domain.TransactionInfo, error) {
	escrow, err := s.lockHeld(ctx, repos, trip.ID)
	if err != nil {
		return nil, err
	}

	info := trip.PaymentInfo
	rental := info.RentalInFiatCents()
	fee := rental * s.policy.Pricing.PlatformFeePercent / 100
	if feeDiscountPercent > 0 {
		fee -= fee * feeDiscountPercent / 100
	}
	earnings := rental - fee + info.DeliveryFeeInFiatCents
	taxes := info.TaxesInFiatCents()
	deposit := info.DepositInFiatCents

	feeTokens := s.toTokens(info, fee)
	taxTokens := s.toTokens(info, taxes)
	depositTokens := s.toTokens(info, deposit)

	// The host receives the token remainder so the escrow is emptied exactly.
	hostTokens := new(big.Int).Sub(escrow.Remaining, feeTokens)
	hostTokens.Sub(hostTokens, taxTokens)
	hostTokens.Sub(hostTokens, depositTokens)
	if hostTokens.Sign() < 0 {
		return nil, fmt.Errorf("escrow of trip %d underfunded by %s", trip.ID, new(big.Int).Neg(hostTokens))
	}

	if err := s.payout(ctx, repos, escrow, s.policy.PlatformAccount, feeTokens, domain.TransferKindPlatformFee); err != nil {
		return nil, err
	}
	if err := s.payout(ctx, repos, escrow, s.policy.TaxAccount, taxTokens, domain.TransferKindTax); err != nil {
		return nil, err
	}
	if err := s.payout(ctx, repos, escrow, trip.Host, hostTokens, domain.TransferKindTripEarnings); err != nil {
		return nil, err
	}

	if holdDeposit && depositTokens.Sign() > 0 {
		escrow.HeldDeposit = new(big.Int).Set(depositTokens)
		escrow.Status = domain.EscrowStatusDepositHeld
	} else {
		if err := s.payout(ctx, repos, escrow, trip.Guest, depositTokens, domain.TransferKindDepositRefund); err != nil {
			return nil, err
		}
		escrow.Status = domain.EscrowStatusSettled
	}

	escrow.UpdatedAt = s.now()
	if err := repos.Escrows.Update(ctx, escrow); err != nil {
		return nil, err
	}

	tx := s.transactionInfo(trip)
	tx.DepositRefundInFiatCents = deposit
	tx.TripEarningsInFiatCents = earnings
	tx.PlatformFeeInFiatCents = fee
	tx.TaxesInFiatCents = taxes
	tx.DepositHeld = escrow.Status == domain.EscrowStatusDepositHeld
	tx.StatusBeforeCancellation = trip.Status

	return tx, nil
}

// ReleaseHeldDeposit returns a held deposit to the guest. It reports false when nothing was held.
func (s *SettlementService) ReleaseHeldDeposit(ctx context.Context, repos repository.Repositories, tripID int64) (bool, error) {
	// Trip before escrow, the same order as the transitions.
	trip, err := repos.Trips.GetByIDForUpdate(ctx, tripID)
	if err != nil {
		return false, err
	}
	escrow, err := repos.Escrows.GetByTripIDForUpdate(ctx, tripID)
	if err != nil {
		return false, err
	}
	if escrow.Status != domain.EscrowStatusDepositHeld {
		return false, nil
	}

	held := new(big.Int).Set(escrow.HeldDeposit)
	if err := s.payout(ctx, repos, escrow, escrow.Guest, held, domain.TransferKindDepositRefund); err != nil {
		return false, err
	}
	escrow.HeldDeposit = new(big.Int)
	escrow.Status = domain.EscrowStatusSettled
	escrow.UpdatedAt = s.now()
	if err := repos.Escrows.Update(ctx, escrow); err != nil {
		return false, err
	}

	if trip.TransactionInfo != nil {
		trip.TransactionInfo.DepositHeld = false
		if err := repos.Trips.Update(ctx, trip); err != nil {
			return false, err
		}
	}

	return true, nil
}

// TransferDirect credits amount to "to" outside of any escrow, journaled as coming from "from".
func (s *SettlementService) TransferDirect(ctx context.Context, repos repository.Repositories, tripID, claimID int64, from, to, currencyCode string, amount *big.Int, kind domain.TransferKind) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := repos.Accounts.Credit(ctx, to, currencyCode, amount); err != nil {
		return err
	}
	return s.journal(ctx, repos, &domain.Transfer{
		TripID:   tripID,
		ClaimID:  claimID,
		From:     from,
		To:       to,
		Currency: currencyCode,
		Amount:   amount,
		Kind:     kind,
	})
}

func (s *SettlementService) lockHeld(ctx context.Context, repos repository.Repositories, tripID int64) (*domain.Escrow, error) {
	escrow, err := repos.Escrows.GetByTripIDForUpdate(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != domain.EscrowStatusHeld {
		return nil, fmt.Errorf("escrow of trip %d already %s", tripID, escrow.Status)
	}
	return escrow, nil
}

// payout moves amount out of escrow to an internal account.
func (s *SettlementService) payout(ctx context.Context, repos repository.Repositories, escrow *domain.Escrow, to string, amount *big.Int, kind domain.TransferKind) error {
	if amount.Sign() == 0 {
		return nil
	}
	if amount.Cmp(escrow.Remaining) > 0 {
		return fmt.Errorf("escrow of trip %d holds %s, cannot pay %s", escrow.TripID, escrow.Remaining, amount)
	}
	escrow.Remaining = new(big.Int).Sub(escrow.Remaining, amount)
	return s.TransferDirect(ctx, repos, escrow.TripID, 0, domain.EscrowAccount, to, escrow.Currency, amount, kind)
}

func (s *SettlementService) journal(ctx context.Context, repos repository.Repositories, t *domain.Transfer) error {
	t.ID = uuid.New().String()
	t.Amount = new(big.Int).Set(t.Amount)
	t.CreatedAt = s.now()
	return repos.Accounts.RecordTransfer(ctx, t)
}

func (s *SettlementService) toTokens(info domain.PaymentInfo, cents int64) *big.Int {
	return currency.FiatCentsToToken(cents, info.SettlementRate, info.SettlementRateDecimals, info.SettlementTokenDecimals)
}

func (s *SettlementService) transactionInfo(trip *domain.Trip) *domain.TransactionInfo {
	start := trip.StartReadings()
	end := trip.EndReadings()
	return &domain.TransactionInfo{
		DateTime:       s.now(),
		StartFuelLevel: start.FuelLevel,
		EndFuelLevel:   end.FuelLevel,
		StartOdometer:  start.Odometer,
		EndOdometer:    end.Odometer,
	}
}
