package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 7. REFERRAL POINT LEDGER
// ──────────────────────────────────────────────

func (f *fixture) record(t *testing.T, address string, kind domain.EventKind, unit, hash string) {
	t.Helper()
	err := f.referral.RecordEvent(context.Background(), managerAddr, service.AccrualEvent{
		Address:      address,
		Kind:         kind,
		Unit:         unit,
		ReferralHash: hash,
	})
	if err != nil {
		t.Fatalf("failed to record %s for %s: %v", kind, address, err)
	}
}

func (f *fixture) claim(t *testing.T, address string) int64 {
	t.Helper()
	n, err := f.referral.ClaimPoints(context.Background(), address)
	if err != nil {
		t.Fatalf("failed to claim points: %v", err)
	}
	return n
}

func (f *fixture) hash(t *testing.T, address string) string {
	t.Helper()
	h, err := f.referral.GenerateReferralHash(context.Background(), address)
	if err != nil {
		t.Fatalf("failed to generate hash: %v", err)
	}
	return h
}

func TestReferral_KYCWithHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	hash := f.hash(t, hostAddr)

	f.record(t, guestAddr, domain.EventSetKYC, "", hash)

	ready, err := f.referral.GetReadyToClaim(ctx, guestAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready.Total != 125 {
		t.Errorf("expected 125 pending, got %d", ready.Total)
	}
	referrer, err := f.referral.GetReadyToClaim(ctx, hostAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if referrer.HashTotal != 10 || referrer.ReferralHash != hash {
		t.Errorf("expected referrer share 10 on %s, got %d on %s", hash, referrer.HashTotal, referrer.ReferralHash)
	}

	// One-time KYC points plus the daily grant.
	if got := f.claim(t, guestAddr); got != 145 {
		t.Errorf("expected 145 claimed, got %d", got)
	}
	if got := f.claim(t, guestAddr); got != 0 {
		t.Errorf("expected nothing left to claim, got %d", got)
	}

	shares, err := f.referral.ClaimReferralPoints(ctx, hostAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 10 {
		t.Errorf("expected 10 referral points, got %d", shares)
	}
	if rec := f.store.Referral(hostAddr); rec.ClaimedPoints != 10 {
		t.Errorf("expected referrer total 10, got %d", rec.ClaimedPoints)
	}
}

func TestReferral_HashIsStable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.hash(t, hostAddr)
	if second := f.hash(t, hostAddr); second != first {
		t.Errorf("expected stable hash %s, got %s", first, second)
	}
	if other := f.hash(t, guestAddr); other == first {
		t.Error("expected distinct hashes per address")
	}
}

func TestReferral_WithoutHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.record(t, guestAddr, domain.EventSetKYC, "", "")

	if rec := f.store.Referral(guestAddr); rec.PendingTotal() != 100 {
		t.Errorf("expected 100 pending, got %d", rec.PendingTotal())
	}
}

func TestReferral_SelfReferralEarnsNoShare(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	own := f.hash(t, guestAddr)
	f.record(t, guestAddr, domain.EventSetKYC, "", own)

	rec := f.store.Referral(guestAddr)
	if rec.PendingTotal() != 100 {
		t.Errorf("expected plain 100 points, got %d", rec.PendingTotal())
	}
	if rec.ReferrerHash != "" || rec.HashPendingTotal() != 0 {
		t.Errorf("expected no referrer, got %q with %d shares", rec.ReferrerHash, rec.HashPendingTotal())
	}
}

func TestReferral_UnknownHashIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.record(t, guestAddr, domain.EventSetKYC, "", "no-such-hash")

	if rec := f.store.Referral(guestAddr); rec.PendingTotal() != 100 || rec.ReferrerHash != "" {
		t.Errorf("expected plain points without referrer, got %d %q", rec.PendingTotal(), rec.ReferrerHash)
	}
}

func TestReferral_AddCarAndPermanentBonus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hash := f.hash(t, managerAddr)

	f.record(t, hostAddr, domain.EventAddCar, "1", hash)
	if rec := f.store.Referral(hostAddr); rec.PendingTotal() != 2000 {
		t.Fatalf("expected 2000 pending, got %d", rec.PendingTotal())
	}
	if rec := f.store.Referral(managerAddr); rec.HashPendingTotal() != 250 {
		t.Errorf("expected referrer share 250, got %d", rec.HashPendingTotal())
	}

	// Same car again changes nothing.
	f.record(t, hostAddr, domain.EventAddCar, "1", "")
	// Second car only earns the permanent bonus.
	f.record(t, hostAddr, domain.EventAddCar, "2", "")

	rec := f.store.Referral(hostAddr)
	if rec.PendingTotal() != 2500 {
		t.Errorf("expected 2500 pending, got %d", rec.PendingTotal())
	}
	if rec.Occurrences[domain.EventAddCar] != 2 {
		t.Errorf("expected 2 cars counted, got %d", rec.Occurrences[domain.EventAddCar])
	}
}

func TestReferral_UnlistPenaltyFromPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hash := f.hash(t, managerAddr)
	f.record(t, hostAddr, domain.EventAddCar, "1", hash)
	f.record(t, hostAddr, domain.EventSetKYC, "", "")

	f.record(t, hostAddr, domain.EventUnlistedCar, "1", "")
	if rec := f.store.Referral(hostAddr); rec.PendingTotal() != 1625 {
		t.Fatalf("expected 2125-500 pending, got %d", rec.PendingTotal())
	}

	// Applied once per car, and only for cars that were added.
	f.record(t, hostAddr, domain.EventUnlistedCar, "1", "")
	f.record(t, hostAddr, domain.EventUnlistedCar, "9", "")

	if got := f.claim(t, hostAddr); got != 1645 {
		t.Errorf("expected 1645 claimed, got %d", got)
	}
	if rec := f.store.Referral(hostAddr); rec.Debt != 0 {
		t.Errorf("expected no debt, got %d", rec.Debt)
	}
}

func TestReferral_UnlistPenaltyBecomesDebt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hash := f.hash(t, managerAddr)
	f.record(t, hostAddr, domain.EventAddCar, "1", hash)
	f.record(t, hostAddr, domain.EventSetKYC, "", "")

	if got := f.claim(t, hostAddr); got != 2145 {
		t.Fatalf("expected 2145 claimed, got %d", got)
	}

	f.record(t, hostAddr, domain.EventUnlistedCar, "1", "")
	if rec := f.store.Referral(hostAddr); rec.Debt != 500 {
		t.Fatalf("expected debt 500, got %d", rec.Debt)
	}

	// 625 civic points with the referrer, less the debt.
	f.record(t, hostAddr, domain.EventPassCivic, "", "")
	if got := f.claim(t, hostAddr); got != 125 {
		t.Errorf("expected 125 claimed after debt, got %d", got)
	}

	rec := f.store.Referral(hostAddr)
	if rec.Debt != 0 || rec.ClaimedPoints != 2270 {
		t.Errorf("expected debt 0 and 2270 claimed, got %d and %d", rec.Debt, rec.ClaimedPoints)
	}
}

func TestReferral_DailyPointsOncePerDay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if got := f.claim(t, guestAddr); got != 0 {
		t.Errorf("an address with no activity earns no daily points, got %d", got)
	}

	f.record(t, guestAddr, domain.EventSetKYC, "", "")
	f.claim(t, guestAddr)
	f.record(t, guestAddr, domain.EventPassCivic, "", "")

	if got := f.claim(t, guestAddr); got != 500 {
		t.Errorf("expected civic points without a second daily grant, got %d", got)
	}
	rec := f.store.Referral(guestAddr)
	if time.Since(rec.LastDailyClaim) > time.Minute {
		t.Errorf("expected a recent daily claim, got %s", rec.LastDailyClaim)
	}
}

func TestReferral_TripLifecycleAccrual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		days int
		want int64
	}{
		// CreateTrip 100 + FinishTripAsGuest 1000.
		{"short trip", 9, 1100},
		// Plus the long-trip bonus.
		{"long trip", 10, 1600},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.checkedOut(t, nextWeek(), tt.days)

			if rec := f.store.Referral(guestAddr); rec.PendingTotal() != tt.want {
				t.Errorf("expected %d pending, got %d", tt.want, rec.PendingTotal())
			}
		})
	}
}

func TestReferral_GuestDiscountNeedsPoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	start := nextWeek()
	end := start.Add(24 * time.Hour)

	_, err := f.referral.DiscountFor(ctx, guestAddr, domain.EventCreateTrip)
	if !errors.Is(err, service.ErrInsufficientPoints) {
		t.Errorf("preview: expected ErrInsufficientPoints, got %v", err)
	}

	_, err = f.trips.CreateTripRequest(ctx, guestAddr, service.TripRequest{
		CarID:               testCarID,
		StartDateTime:       start,
		EndDateTime:         end,
		Currency:            testCurrency,
		Payment:             f.quote(t, start, end, 2).TotalInTokens,
		UseReferralDiscount: true,
	})
	if !errors.Is(err, service.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if f.store.Trip(1) != nil || f.store.Escrow(1) != nil {
		t.Error("failed redemption left a trip or escrow behind")
	}
}

func TestReferral_GuestDiscountApplied(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.record(t, guestAddr, domain.EventAddCar, "7", "")
	f.claim(t, guestAddr)

	discount, err := f.referral.DiscountFor(ctx, guestAddr, domain.EventCreateTrip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discount.Percent != 2 || discount.PointsCost != 1000 {
		t.Fatalf("expected tier 1 discount 2%% for 1000, got %+v", discount)
	}

	start := nextWeek()
	end := start.Add(24 * time.Hour)
	full := f.quote(t, start, end, 0)
	discounted := f.quote(t, start, end, discount.Percent)
	if discounted.TotalInFiatCents >= full.TotalInFiatCents {
		t.Fatalf("expected a cheaper quote, got %d >= %d", discounted.TotalInFiatCents, full.TotalInFiatCents)
	}

	trip := mustTrip(t)(f.trips.CreateTripRequest(ctx, guestAddr, service.TripRequest{
		CarID:               testCarID,
		StartDateTime:       start,
		EndDateTime:         end,
		Currency:            testCurrency,
		Payment:             discounted.TotalInTokens,
		UseReferralDiscount: true,
	}))
	if trip.PaymentInfo.ReferralDiscountPercent != 2 {
		t.Errorf("expected referral percent 2 on the trip, got %d", trip.PaymentInfo.ReferralDiscountPercent)
	}
	if trip.PaymentInfo.TotalInFiatCents != discounted.TotalInFiatCents {
		t.Errorf("expected total %d, got %d", discounted.TotalInFiatCents, trip.PaymentInfo.TotalInFiatCents)
	}

	rec := f.store.Referral(guestAddr)
	if rec.SpentPoints != 1000 || rec.Available() != 20 {
		t.Errorf("expected 1000 spent and 20 left, got %d and %d", rec.SpentPoints, rec.Available())
	}
}

func TestReferral_TierFromClaimedPoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hash := f.hash(t, managerAddr)
	f.record(t, hostAddr, domain.EventAddCar, "1", hash)
	f.record(t, hostAddr, domain.EventPassCivic, "", "")

	ready, err := f.referral.GetReadyToClaim(context.Background(), hostAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready.Tier != 1 || len(ready.Entries) != 2 {
		t.Errorf("expected tier 1 with 2 entries, got tier %d with %d", ready.Tier, len(ready.Entries))
	}

	f.claim(t, hostAddr)
	ready, err = f.referral.GetReadyToClaim(context.Background(), hostAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2000 + 625 + 20 puts the host past the tier 2 threshold.
	if ready.ClaimedPoints != 2645 || ready.Tier != 2 {
		t.Errorf("expected 2645 points in tier 2, got %d in tier %d", ready.ClaimedPoints, ready.Tier)
	}

	discount, err := f.referral.DiscountFor(context.Background(), hostAddr, domain.EventFinishTripAsHost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discount.Percent != 5 {
		t.Errorf("expected tier 2 host discount 5%%, got %d", discount.Percent)
	}
}

func TestReferral_ManageRequiresManager(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.referral.ManageOneTime(ctx, hostAddr, domain.EventSetKYC, 1, 2); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("ManageOneTime: expected ErrForbidden, got %v", err)
	}
	if _, err := f.referral.ManageReferrerShare(ctx, hostAddr, domain.EventSetKYC, 1); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("ManageReferrerShare: expected ErrForbidden, got %v", err)
	}
	if _, err := f.referral.ManageDiscount(ctx, hostAddr, config.ReferralDiscount{Kind: domain.EventCreateTrip, Tier: 1, PointsCost: 1, Percent: 1}); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("ManageDiscount: expected ErrForbidden, got %v", err)
	}
	if _, err := f.referral.ManageTier(ctx, hostAddr, 2, 1); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("ManageTier: expected ErrForbidden, got %v", err)
	}
	err := f.referral.RecordEvent(ctx, hostAddr, service.AccrualEvent{Address: hostAddr, Kind: domain.EventSetKYC})
	if !errors.Is(err, service.ErrForbidden) {
		t.Errorf("RecordEvent: expected ErrForbidden, got %v", err)
	}
}

func TestReferral_ManageBumpsVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	before := f.referral.GetPointsInfo().Version

	version, err := f.referral.ManageOneTime(ctx, managerAddr, domain.EventSetKYC, 200, 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != before+1 {
		t.Errorf("expected version %d, got %d", before+1, version)
	}
	if _, err := f.referral.ManageTier(ctx, managerAddr, 2, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := f.referral.GetPointsInfo()
	if info.Version != before+2 {
		t.Errorf("expected version %d, got %d", before+2, info.Version)
	}

	f.record(t, guestAddr, domain.EventSetKYC, "", "")
	if rec := f.store.Referral(guestAddr); rec.PendingTotal() != 200 {
		t.Errorf("expected the new rate of 200, got %d", rec.PendingTotal())
	}

	// The configured policy is not shared with the running program.
	for _, r := range f.policy.Referral.OneTime {
		if r.Kind == domain.EventSetKYC && r.Points != 100 {
			t.Errorf("expected the loaded policy untouched, got %d", r.Points)
		}
	}
}

func TestReferral_InvalidEventKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, kind := range []domain.EventKind{domain.EventDaily, "TELEPORT"} {
		err := f.referral.RecordEvent(ctx, managerAddr, service.AccrualEvent{Address: guestAddr, Kind: kind})
		if !errors.Is(err, service.ErrInvalidEventKind) {
			t.Errorf("%s: expected ErrInvalidEventKind, got %v", kind, err)
		}
	}
	if _, err := f.referral.ManageOneTime(ctx, managerAddr, "TELEPORT", 1, 1); !errors.Is(err, service.ErrInvalidEventKind) {
		t.Errorf("expected ErrInvalidEventKind, got %v", err)
	}
}

func TestReferral_ConcurrentFirstAccrualsKeepEveryOccurrence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cars.AddCar(&domain.Car{ID: 2, Host: hostAddr, PricePerDayInFiatCents: 1002, DepositInFiatCents: 3, Listed: true})

	start := nextWeek()
	end := start.Add(24 * time.Hour)
	info := f.quote(t, start, end, 0)

	var wg sync.WaitGroup
	for _, carID := range []int64{testCarID, 2} {
		wg.Add(1)
		go func(carID int64) {
			defer wg.Done()
			_, err := f.trips.CreateTripRequest(context.Background(), guestAddr, service.TripRequest{
				CarID:         carID,
				StartDateTime: start,
				EndDateTime:   end,
				Currency:      testCurrency,
				Payment:       info.TotalInTokens,
			})
			if err != nil {
				t.Errorf("car %d: unexpected error: %v", carID, err)
			}
		}(carID)
	}
	wg.Wait()

	rec := f.store.Referral(guestAddr)
	if rec == nil {
		t.Fatal("expected a ledger entry for the guest")
	}
	if got := rec.Occurrences[domain.EventCreateTrip]; got != 2 {
		t.Errorf("expected 2 trip requests counted, got %d", got)
	}
	if got := len(rec.Units[domain.EventCreateTrip]); got != 2 {
		t.Errorf("expected 2 trip units, got %d", got)
	}
	if got := rec.Pending[domain.EventCreateTrip]; got != 100 {
		t.Errorf("expected the one-time 100 points once, got %d", got)
	}
	if n := atomic.LoadInt32(&f.store.ReferralRowsCreated); n != 1 {
		t.Errorf("expected the entry created once, got %d", n)
	}
}
