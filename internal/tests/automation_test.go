package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 8. AUTOMATION
// ──────────────────────────────────────────────

func TestAutomation_RejectsUnansweredRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stale := f.request(t, time.Now().Add(-3*time.Hour).Truncate(time.Minute), 1)

	result, err := f.automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rejected != 1 {
		t.Fatalf("expected 1 rejected, got %+v", result)
	}

	trip := f.store.Trip(stale.ID)
	if trip.Status != domain.TripStatusCanceled {
		t.Fatalf("expected %s, got %s", domain.TripStatusCanceled, trip.Status)
	}
	if trip.TransactionInfo.ForfeitedInFiatCents != 0 {
		t.Errorf("expected a full refund, got %d forfeited", trip.TransactionInfo.ForfeitedInFiatCents)
	}
	if got := f.store.Balance(guestAddr, testCurrency); got.Cmp(stale.PaymentInfo.TotalInTokens) != 0 {
		t.Errorf("expected guest refunded %s, got %s", stale.PaymentInfo.TotalInTokens, got)
	}

	again, err := f.automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != (service.SweepResult{}) {
		t.Errorf("expected an idle second sweep, got %+v", again)
	}
}

func TestAutomation_SkipsFreshTrips(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	created := f.request(t, nextWeek(), 1)

	result, err := f.automation.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != (service.SweepResult{}) {
		t.Errorf("expected nothing forced, got %+v", result)
	}
	if got := f.store.Trip(created.ID).Status; got != domain.TripStatusCreated {
		t.Errorf("expected %s, got %s", domain.TripStatusCreated, got)
	}
}

func TestAutomation_ChecksOutAndFinishesOverdueTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	overdue := f.checkedIn(t, time.Now().Add(-3*24*time.Hour).Truncate(time.Hour), 1)

	result, err := f.automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CheckedOut != 1 || result.Finished != 1 {
		t.Fatalf("expected check-out and finish, got %+v", result)
	}

	trip := f.store.Trip(overdue.ID)
	if trip.Status != domain.TripStatusFinished || !trip.CheckedOutWithoutGuest {
		t.Fatalf("expected finished without guest check-out, got %s (%t)", trip.Status, trip.CheckedOutWithoutGuest)
	}
	// Without readings the host check-out repeats the start readings.
	if trip.HostCheckOut == nil || trip.HostCheckOut.Odometer != 12000 {
		t.Errorf("expected start readings at check-out, got %+v", trip.HostCheckOut)
	}
	assertConserved(t, f, trip)

	confirmed := mustTrip(t)(f.trips.ConfirmCheckOut(ctx, guestAddr, trip.ID))
	if confirmed.Status != domain.TripStatusFinished {
		t.Errorf("expected status unchanged, got %s", confirmed.Status)
	}
	if rec := f.store.Referral(guestAddr); rec.Pending[domain.EventFinishTripAsGuest] != 1000 {
		t.Errorf("expected guest finish points on confirmation, got %d", rec.Pending[domain.EventFinishTripAsGuest])
	}
}

func TestAutomation_FinishesAbandonedCheckOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.checkedIn(t, time.Now().Add(-3*24*time.Hour).Truncate(time.Hour), 1)
	mustTrip(t)(f.trips.CheckOutByGuest(context.Background(), guestAddr, trip.ID, service.CheckOutRequest{
		Readings: &domain.Readings{FuelLevel: 40, Odometer: 12100},
	}))

	result, err := f.automation.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CheckedOut != 0 || result.Finished != 1 {
		t.Fatalf("expected finish only, got %+v", result)
	}
	if got := f.store.Trip(trip.ID); got.Status != domain.TripStatusFinished || got.TransactionInfo.EndOdometer != 12100 {
		t.Errorf("expected finished at the guest's readings, got %s %+v", got.Status, got.TransactionInfo)
	}
}

func TestAutomation_ReleasesDepositAfterClaimDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.checkedOut(t, nextWeek(), 1)
	claim := f.fileClaim(t, hostAddr, trip.ID, domain.ClaimTypeSmoking, 2000)
	mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{}))

	result, err := f.automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DepositsReleased != 0 {
		t.Fatal("deposit released while the claim is still open")
	}

	f.store.SetClaimDeadline(claim.ID, time.Now().Add(-time.Minute))
	result, err = f.automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DepositsReleased != 1 {
		t.Fatalf("expected 1 deposit released, got %+v", result)
	}
	if got := f.store.Balance(guestAddr, testCurrency); got.Cmp(f.tokens(3)) != 0 {
		t.Errorf("expected deposit %s returned, got %s", f.tokens(3), got)
	}
	if escrow := f.store.Escrow(trip.ID); escrow.Status != domain.EscrowStatusSettled {
		t.Errorf("expected %s, got %s", domain.EscrowStatusSettled, escrow.Status)
	}
}

func TestAutomation_CannotForceParticipantSteps(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.request(t, nextWeek(), 1)

	_, err := f.trips.ApproveTripRequest(service.WithSystemActor(context.Background()), "", trip.ID)
	if !errors.Is(err, service.ErrStateViolation) {
		t.Errorf("expected ErrStateViolation, got %v", err)
	}
}

func TestAutomation_OverdueTripNotStarvedByFutureRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	automation := service.NewAutomationService(f.store, f.trips, f.claims, nil, config.AutomationConfig{
		Interval: time.Minute,
		Grace:    2 * time.Hour,
		Batch:    1,
	})

	future := f.request(t, nextWeek(), 1)
	stale := f.request(t, time.Now().Add(-3*time.Hour).Truncate(time.Minute), 1)

	result, err := automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rejected != 1 {
		t.Fatalf("expected the overdue request rejected, got %+v", result)
	}
	if got := f.store.Trip(stale.ID).Status; got != domain.TripStatusCanceled {
		t.Errorf("expected overdue trip %s, got %s", domain.TripStatusCanceled, got)
	}
	if got := f.store.Trip(future.ID).Status; got != domain.TripStatusCreated {
		t.Errorf("expected future trip %s, got %s", domain.TripStatusCreated, got)
	}
}

func TestAutomation_ReleasableDepositNotStarvedByOpenClaims(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	automation := service.NewAutomationService(f.store, f.trips, f.claims, nil, config.AutomationConfig{
		Interval: time.Minute,
		Grace:    2 * time.Hour,
		Batch:    1,
	})

	disputed := f.checkedOut(t, nextWeek(), 1)
	f.fileClaim(t, hostAddr, disputed.ID, domain.ClaimTypeSmoking, 2000)
	mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, disputed.ID, service.FinishTripRequest{}))

	lapsed := f.checkedOut(t, nextWeek().Add(10*24*time.Hour), 1)
	claim := f.fileClaim(t, hostAddr, lapsed.ID, domain.ClaimTypeSmoking, 2000)
	mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, lapsed.ID, service.FinishTripRequest{}))
	f.store.SetClaimDeadline(claim.ID, time.Now().Add(-time.Minute))

	result, err := automation.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DepositsReleased != 1 {
		t.Fatalf("expected 1 deposit released, got %+v", result)
	}
	if escrow := f.store.Escrow(lapsed.ID); escrow.Status != domain.EscrowStatusSettled {
		t.Errorf("expected lapsed escrow %s, got %s", domain.EscrowStatusSettled, escrow.Status)
	}
	if escrow := f.store.Escrow(disputed.ID); escrow.Status != domain.EscrowStatusDepositHeld {
		t.Errorf("expected disputed escrow %s, got %s", domain.EscrowStatusDepositHeld, escrow.Status)
	}
}
