package tests

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"rental/internal/currency"
	"rental/internal/domain"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 5. ESCROW SETTLEMENT
// ──────────────────────────────────────────────

func TestSettlement_RequestEscrowsExactTotal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.request(t, nextWeek(), 1)

	// $10.02/day + 7% sales tax (70.14, floored) + $2.00 government tax + $0.03 deposit.
	info := trip.PaymentInfo
	if info.TotalDayPriceInFiatCents != 1002 {
		t.Errorf("expected day price 1002, got %d", info.TotalDayPriceInFiatCents)
	}
	if info.SalesTaxInFiatCents != 70 {
		t.Errorf("expected sales tax 70, got %d", info.SalesTaxInFiatCents)
	}
	if info.GovernmentTaxInFiatCents != 200 {
		t.Errorf("expected government tax 200, got %d", info.GovernmentTaxInFiatCents)
	}
	if info.TotalInFiatCents != 1275 {
		t.Fatalf("expected total 1275, got %d", info.TotalInFiatCents)
	}
	if want := f.tokens(1275); info.TotalInTokens.Cmp(want) != 0 {
		t.Errorf("expected %s tokens, got %s", want, info.TotalInTokens)
	}
	if len(f.store.Transfers(trip.ID, domain.TransferKindEscrowIn)) != 1 {
		t.Error("expected one escrow-in journal entry")
	}
}

func TestSettlement_PaymentMustMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := nextWeek()
	end := start.Add(24 * time.Hour)
	info := f.quote(t, start, end, 0)

	for _, paid := range []*big.Int{
		nil,
		new(big.Int).Sub(info.TotalInTokens, big.NewInt(1)),
		new(big.Int).Add(info.TotalInTokens, big.NewInt(1)),
	} {
		_, err := f.trips.CreateTripRequest(context.Background(), guestAddr, service.TripRequest{
			CarID:         testCarID,
			StartDateTime: start,
			EndDateTime:   end,
			Currency:      testCurrency,
			Payment:       paid,
		})
		if !errors.Is(err, service.ErrInsufficientPayment) {
			t.Errorf("paid %v: expected ErrInsufficientPayment, got %v", paid, err)
		}
	}

	if f.store.Trip(1) != nil {
		t.Error("rejected request left a trip behind")
	}
	if rec := f.store.Referral(guestAddr); rec != nil {
		t.Error("rejected request accrued referral points")
	}
}

func TestSettlement_UnsupportedCurrency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := nextWeek()
	_, err := f.trips.CreateTripRequest(context.Background(), guestAddr, service.TripRequest{
		CarID:         testCarID,
		StartDateTime: start,
		EndDateTime:   start.Add(24 * time.Hour),
		Currency:      "DOGE",
		Payment:       big.NewInt(1),
	})
	if !errors.Is(err, currency.ErrUnsupportedCurrency) {
		t.Errorf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestSettlement_HostRejectBeforeApproval_FullRefund(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.request(t, nextWeek(), 1)

	canceled := mustTrip(t)(f.trips.RejectTripRequest(context.Background(), hostAddr, trip.ID))
	if canceled.Status != domain.TripStatusCanceled {
		t.Fatalf("expected %s, got %s", domain.TripStatusCanceled, canceled.Status)
	}

	if got := f.store.Balance(guestAddr, testCurrency); got.Cmp(trip.PaymentInfo.TotalInTokens) != 0 {
		t.Errorf("expected full refund %s, got %s", trip.PaymentInfo.TotalInTokens, got)
	}
	if f.store.Balance(hostAddr, testCurrency).Sign() != 0 {
		t.Error("host must receive nothing")
	}

	tx := canceled.TransactionInfo
	if tx.DepositRefundInFiatCents != 1275 || tx.TripEarningsInFiatCents != 0 {
		t.Errorf("expected refund 1275 and no earnings, got %+v", tx)
	}
	if tx.StatusBeforeCancellation != domain.TripStatusCreated {
		t.Errorf("expected prior status %s, got %s", domain.TripStatusCreated, tx.StatusBeforeCancellation)
	}

	escrow := f.store.Escrow(trip.ID)
	if escrow.Status != domain.EscrowStatusRefunded || escrow.Remaining.Sign() != 0 {
		t.Errorf("expected empty refunded escrow, got %+v", escrow)
	}
}

func TestSettlement_RefundTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		caller        string
		approve       bool
		wantForfeited int64
		wantTo        string
	}{
		{"guest cancels request", guestAddr, false, 0, hostAddr},
		{"host cancels approved trip", hostAddr, true, 0, hostAddr},
		// 50% of the 1002 cent rental is kept by the host.
		{"guest cancels approved trip", guestAddr, true, 501, hostAddr},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			trip := f.request(t, nextWeek(), 1)
			if tt.approve {
				mustTrip(t)(f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID))
			}

			canceled := mustTrip(t)(f.trips.RejectTripRequest(ctx, tt.caller, trip.ID))
			tx := canceled.TransactionInfo
			if tx.ForfeitedInFiatCents != tt.wantForfeited {
				t.Errorf("expected %d forfeited, got %d", tt.wantForfeited, tx.ForfeitedInFiatCents)
			}
			if tx.DepositRefundInFiatCents != 1275-tt.wantForfeited {
				t.Errorf("expected refund %d, got %d", 1275-tt.wantForfeited, tx.DepositRefundInFiatCents)
			}

			forfeit := f.tokens(tt.wantForfeited)
			if got := f.store.Balance(tt.wantTo, testCurrency); got.Cmp(forfeit) != 0 {
				t.Errorf("expected %s to receive %s, got %s", tt.wantTo, forfeit, got)
			}
			refund := new(big.Int).Sub(trip.PaymentInfo.TotalInTokens, forfeit)
			if got := f.store.Balance(guestAddr, testCurrency); got.Cmp(refund) != 0 {
				t.Errorf("expected guest refund %s, got %s", refund, got)
			}
		})
	}
}

func TestSettlement_FinishSplitsEscrow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.checkedOut(t, nextWeek(), 1)
	finished := mustTrip(t)(f.trips.FinishTrip(context.Background(), hostAddr, trip.ID, service.FinishTripRequest{}))

	tx := finished.TransactionInfo
	// 20% of 1002, floored.
	if tx.PlatformFeeInFiatCents != 200 {
		t.Errorf("expected platform fee 200, got %d", tx.PlatformFeeInFiatCents)
	}
	if tx.TripEarningsInFiatCents != 802 {
		t.Errorf("expected earnings 802, got %d", tx.TripEarningsInFiatCents)
	}
	if tx.DepositRefundInFiatCents != 3 || tx.TaxesInFiatCents != 270 {
		t.Errorf("expected deposit 3 and taxes 270, got %+v", tx)
	}

	assertConserved(t, f, finished)
	if got, want := f.store.Balance(guestAddr, testCurrency), f.tokens(3); got.Cmp(want) != 0 {
		t.Errorf("expected deposit %s back to guest, got %s", want, got)
	}
	if got, want := f.store.Balance(f.policy.PlatformAccount, testCurrency), f.tokens(200); got.Cmp(want) != 0 {
		t.Errorf("expected platform fee %s, got %s", want, got)
	}
}

// The 7-day bracket applies 10%, sales tax is taken on the discounted subtotal
// and government tax is $2.00 per day.
func TestSettlement_SevenDayTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.checkedOut(t, nextWeek(), 7)
	info := trip.PaymentInfo

	if info.TotalTripDays != 7 {
		t.Fatalf("expected 7 days, got %d", info.TotalTripDays)
	}
	dayPrice := int64(1002 * 7)
	withinCent(t, "discount", info.DiscountAmount, dayPrice/10)
	withinCent(t, "taxes", info.SalesTaxInFiatCents+info.GovernmentTaxInFiatCents, (dayPrice-dayPrice/10)*7/100+7*200)

	finished := mustTrip(t)(f.trips.FinishTrip(context.Background(), hostAddr, trip.ID, service.FinishTripRequest{}))
	assertConserved(t, f, finished)
}

func TestSettlement_IdentityAcrossPrices(t *testing.T) {
	t.Parallel()

	prices := []int64{1, 99, 1002, 4999, 12345}
	deposits := []int64{0, 3, 25000}
	days := []int{1, 3, 7, 31}
	currencies := []string{"USDT", "ETH"}

	for _, code := range currencies {
		for _, price := range prices {
			for _, deposit := range deposits {
				for _, d := range days {
					f := newFixture(t)
					f.cars.AddCar(&domain.Car{
						ID:                     testCarID,
						Host:                   hostAddr,
						PricePerDayInFiatCents: price,
						DepositInFiatCents:     deposit,
						Listed:                 true,
					})

					trip := f.checkedOutIn(t, code, d)
					finished := mustTrip(t)(f.trips.FinishTrip(context.Background(), hostAddr, trip.ID, service.FinishTripRequest{}))

					tx := finished.TransactionInfo
					withinCent(t, "identity",
						tx.DepositRefundInFiatCents+tx.PlatformFeeInFiatCents+tx.TripEarningsInFiatCents+tx.TaxesInFiatCents,
						finished.PaymentInfo.TotalInFiatCents)
					assertConserved(t, f, finished)
				}
			}
		}
	}
}

func TestSettlement_FeeDiscountFromHostPoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// 1000 AddCar points + 20 daily, enough for the tier-1 2% discount.
	if err := f.referral.RecordEvent(ctx, managerAddr, service.AccrualEvent{Address: hostAddr, Kind: domain.EventAddCar, Unit: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.referral.ClaimPoints(ctx, hostAddr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trip := f.checkedOut(t, nextWeek(), 1)
	finished := mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{UseReferralDiscount: true}))

	// 200 cent fee less 2%.
	if finished.TransactionInfo.PlatformFeeInFiatCents != 196 {
		t.Errorf("expected discounted fee 196, got %d", finished.TransactionInfo.PlatformFeeInFiatCents)
	}
	assertConserved(t, f, finished)

	if rec := f.store.Referral(hostAddr); rec.SpentPoints != 1000 {
		t.Errorf("expected 1000 points spent, got %d", rec.SpentPoints)
	}
}

// checkedOutIn drives a trip paid in code to CheckedOutByHost.
func (f *fixture) checkedOutIn(t *testing.T, code string, days int) *domain.Trip {
	t.Helper()
	ctx := context.Background()
	start := nextWeek()
	end := start.Add(time.Duration(days) * 24 * time.Hour)

	info, err := f.calculator.CalculatePayments(ctx, service.CalculatePaymentsRequest{
		CarID: testCarID, StartDateTime: start, EndDateTime: end, Currency: code,
	})
	if err != nil {
		t.Fatalf("failed to quote trip: %v", err)
	}
	trip := mustTrip(t)(f.trips.CreateTripRequest(ctx, guestAddr, service.TripRequest{
		CarID: testCarID, StartDateTime: start, EndDateTime: end, Currency: code, Payment: info.TotalInTokens,
	}))
	mustTrip(t)(f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID))
	mustTrip(t)(f.trips.CheckInByHost(ctx, hostAddr, trip.ID, service.CheckInByHostRequest{Readings: domain.Readings{FuelLevel: 100}}))
	mustTrip(t)(f.trips.CheckInByGuest(ctx, guestAddr, trip.ID, domain.Readings{FuelLevel: 100}))
	mustTrip(t)(f.trips.CheckOutByGuest(ctx, guestAddr, trip.ID, service.CheckOutRequest{Readings: &domain.Readings{FuelLevel: 50, Odometer: 10}}))
	return mustTrip(t)(f.trips.CheckOutByHost(ctx, hostAddr, trip.ID, service.CheckOutRequest{Readings: &domain.Readings{FuelLevel: 50, Odometer: 10}}))
}

// assertConserved checks that every token held in escrow was paid out exactly once.
func assertConserved(t *testing.T, f *fixture, trip *domain.Trip) {
	t.Helper()
	code := trip.PaymentInfo.SettlementCurrency

	escrow := f.store.Escrow(trip.ID)
	if escrow.Remaining.Sign() != 0 || escrow.Status != domain.EscrowStatusSettled {
		t.Errorf("expected settled empty escrow, got status=%s remaining=%s", escrow.Status, escrow.Remaining)
	}

	paid := new(big.Int)
	for _, addr := range []string{hostAddr, guestAddr, f.policy.PlatformAccount, f.policy.TaxAccount} {
		paid.Add(paid, f.store.Balance(addr, code))
	}
	if paid.Cmp(escrow.Amount) != 0 {
		t.Errorf("expected %s paid out, got %s", escrow.Amount, paid)
	}
}
