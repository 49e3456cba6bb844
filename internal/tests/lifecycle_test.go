package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rental/internal/domain"
	"rental/internal/repository"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 1. TRIP LIFECYCLE
// ──────────────────────────────────────────────

func TestTrip_FullLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	trip := f.checkedOut(t, nextWeek(), 1)
	if trip.Status != domain.TripStatusCheckedOutByHost {
		t.Fatalf("expected %s, got %s", domain.TripStatusCheckedOutByHost, trip.Status)
	}
	if trip.CheckedOutWithoutGuest {
		t.Error("guest checked out, trip must not be marked as checked out without guest")
	}

	finished := mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{}))
	if finished.Status != domain.TripStatusFinished {
		t.Fatalf("expected %s, got %s", domain.TripStatusFinished, finished.Status)
	}

	tx := finished.TransactionInfo
	if tx == nil {
		t.Fatal("expected transaction info after finish")
	}
	if tx.StartOdometer != 12000 || tx.EndOdometer != 12250 {
		t.Errorf("expected odometer 12000 -> 12250, got %d -> %d", tx.StartOdometer, tx.EndOdometer)
	}
	if tx.StartFuelLevel != 90 || tx.EndFuelLevel != 70 {
		t.Errorf("expected fuel 90 -> 70, got %d -> %d", tx.StartFuelLevel, tx.EndFuelLevel)
	}
	if tx.StatusBeforeCancellation != domain.TripStatusCheckedOutByHost {
		t.Errorf("expected prior status %s, got %s", domain.TripStatusCheckedOutByHost, tx.StatusBeforeCancellation)
	}
}

func TestTrip_RequestCreatesTripInCreated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.request(t, nextWeek(), 1)

	if trip.Status != domain.TripStatusCreated {
		t.Errorf("expected %s, got %s", domain.TripStatusCreated, trip.Status)
	}
	if trip.Host != hostAddr || trip.Guest != guestAddr {
		t.Errorf("unexpected participants host=%s guest=%s", trip.Host, trip.Guest)
	}
	if f.publisher.Count(string(service.NotificationTripRequested)) != 2 {
		t.Errorf("expected guest and host to be notified of the request")
	}

	escrow := f.store.Escrow(trip.ID)
	if escrow == nil || escrow.Status != domain.EscrowStatusHeld {
		t.Fatalf("expected escrow in %s, got %+v", domain.EscrowStatusHeld, escrow)
	}
	if escrow.Amount.Cmp(trip.PaymentInfo.TotalInTokens) != 0 {
		t.Errorf("expected escrow %s, got %s", trip.PaymentInfo.TotalInTokens, escrow.Amount)
	}
}

func TestTrip_ApproveTwice_StateViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.request(t, nextWeek(), 1)

	mustTrip(t)(f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID))

	_, err := f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID)
	if !errors.Is(err, service.ErrStateViolation) {
		t.Fatalf("expected ErrStateViolation, got %v", err)
	}
	var sv *service.StateViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("expected *StateViolationError, got %T", err)
	}
	if sv.Found != domain.TripStatusApproved {
		t.Errorf("expected found status %s, got %s", domain.TripStatusApproved, sv.Found)
	}
	if len(sv.Expected) != 1 || sv.Expected[0] != domain.TripStatusCreated {
		t.Errorf("expected status %s, got %v", domain.TripStatusCreated, sv.Expected)
	}
}

func TestTrip_WrongCaller_StateViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.request(t, nextWeek(), 1)

	tests := []struct {
		name   string
		caller string
	}{
		{"guest approves own request", guestAddr},
		{"stranger approves", strangerAddr},
		{"empty caller", ""},
	}
	for _, tt := range tests {
		_, err := f.trips.ApproveTripRequest(ctx, tt.caller, trip.ID)
		if !errors.Is(err, service.ErrStateViolation) {
			t.Errorf("%s: expected ErrStateViolation, got %v", tt.name, err)
		}
	}

	if got := f.store.Trip(trip.ID).Status; got != domain.TripStatusCreated {
		t.Errorf("expected trip to stay %s, got %s", domain.TripStatusCreated, got)
	}
}

func TestTrip_HostWithoutHostRole_StateViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.request(t, nextWeek(), 1)

	// Roles are checked against the collaborator on every transition.
	f.roles.Revoke(hostAddr, domain.RoleHost)
	_, err := f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID)
	if !errors.Is(err, service.ErrStateViolation) {
		t.Fatalf("expected ErrStateViolation, got %v", err)
	}

	f.roles.Error = errInjected
	_, err = f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID)
	if !errors.Is(err, errInjected) {
		t.Errorf("expected role lookup failure, got %v", err)
	}
}

func TestTrip_SkippingCheckIn_StateViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.request(t, nextWeek(), 1)
	mustTrip(t)(f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID))

	_, err := f.trips.CheckInByGuest(ctx, guestAddr, trip.ID, domain.Readings{FuelLevel: 50, Odometer: 100})
	if !errors.Is(err, service.ErrStateViolation) {
		t.Errorf("expected ErrStateViolation for guest check-in before host, got %v", err)
	}

	_, err = f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{})
	if !errors.Is(err, service.ErrStateViolation) {
		t.Errorf("expected ErrStateViolation finishing an approved trip, got %v", err)
	}

	_, err = f.trips.RejectTripRequest(ctx, hostAddr, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = f.trips.RejectTripRequest(ctx, hostAddr, trip.ID)
	if !errors.Is(err, service.ErrStateViolation) {
		t.Errorf("expected ErrStateViolation rejecting a canceled trip, got %v", err)
	}
}

func TestTrip_InvalidReadings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.checkedIn(t, nextWeek(), 1)

	tests := []struct {
		name     string
		readings *domain.Readings
	}{
		{"missing readings", nil},
		{"fuel above full", &domain.Readings{FuelLevel: 101, Odometer: 12500}},
		{"negative odometer", &domain.Readings{FuelLevel: 50, Odometer: -1}},
		{"odometer rolled back", &domain.Readings{FuelLevel: 50, Odometer: 11999}},
	}
	for _, tt := range tests {
		_, err := f.trips.CheckOutByGuest(ctx, guestAddr, trip.ID, service.CheckOutRequest{Readings: tt.readings})
		if !errors.Is(err, service.ErrInvalidReadings) {
			t.Errorf("%s: expected ErrInvalidReadings, got %v", tt.name, err)
		}
	}

	if got := f.store.Trip(trip.ID).Status; got != domain.TripStatusCheckedInByGuest {
		t.Errorf("expected trip to stay %s, got %s", domain.TripStatusCheckedInByGuest, got)
	}
}

func TestTrip_OverlappingRequest_CarUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := nextWeek()
	f.request(t, start, 3)

	info := f.quote(t, start.Add(24*time.Hour), start.Add(48*time.Hour), 0)
	_, err := f.trips.CreateTripRequest(context.Background(), guestAddr, service.TripRequest{
		CarID:         testCarID,
		StartDateTime: start.Add(24 * time.Hour),
		EndDateTime:   start.Add(48 * time.Hour),
		Currency:      testCurrency,
		Payment:       info.TotalInTokens,
	})
	if !errors.Is(err, service.ErrCarUnavailable) {
		t.Errorf("expected ErrCarUnavailable, got %v", err)
	}
}

func TestTrip_HostCannotRentOwnCar(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.roles.Grant(context.Background(), hostAddr, domain.RoleGuest)

	start := nextWeek()
	info := f.quote(t, start, start.Add(24*time.Hour), 0)
	_, err := f.trips.CreateTripRequest(context.Background(), hostAddr, service.TripRequest{
		CarID:         testCarID,
		StartDateTime: start,
		EndDateTime:   start.Add(24 * time.Hour),
		Currency:      testCurrency,
		Payment:       info.TotalInTokens,
	})
	if !errors.Is(err, service.ErrCarUnavailable) {
		t.Errorf("expected ErrCarUnavailable, got %v", err)
	}
}

func TestTrip_RequestWithoutGuestRole_StateViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := nextWeek()
	_, err := f.trips.CreateTripRequest(context.Background(), strangerAddr, service.TripRequest{
		CarID:         testCarID,
		StartDateTime: start,
		EndDateTime:   start.Add(24 * time.Hour),
		Currency:      testCurrency,
	})
	if !errors.Is(err, service.ErrStateViolation) {
		t.Errorf("expected ErrStateViolation, got %v", err)
	}
}

func TestTrip_InvalidWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := nextWeek()
	_, err := f.trips.CreateTripRequest(context.Background(), guestAddr, service.TripRequest{
		CarID:         testCarID,
		StartDateTime: start,
		EndDateTime:   start,
		Currency:      testCurrency,
	})
	if !errors.Is(err, service.ErrInvalidTripWindow) {
		t.Errorf("expected ErrInvalidTripWindow, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 2. HOST CHECK-OUT WITHOUT GUEST
// ──────────────────────────────────────────────

func TestTrip_HostCheckOutWithoutGuest_GuestConfirms(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.checkedIn(t, nextWeek(), 1)

	trip = mustTrip(t)(f.trips.CheckOutByHost(ctx, hostAddr, trip.ID, service.CheckOutRequest{
		Readings: &domain.Readings{FuelLevel: 60, Odometer: 12300},
	}))
	if trip.Status != domain.TripStatusCheckedOutByHost || !trip.CheckedOutWithoutGuest {
		t.Fatalf("expected host-only check-out, got status=%s without_guest=%t", trip.Status, trip.CheckedOutWithoutGuest)
	}

	trip = mustTrip(t)(f.trips.ConfirmCheckOut(ctx, guestAddr, trip.ID))
	if trip.Status != domain.TripStatusFinished {
		t.Fatalf("expected %s, got %s", domain.TripStatusFinished, trip.Status)
	}
	if trip.TransactionInfo == nil || trip.TransactionInfo.EndOdometer != 12300 {
		t.Errorf("expected settlement with host readings, got %+v", trip.TransactionInfo)
	}

	rec := f.store.Referral(guestAddr)
	if rec == nil || rec.Occurrences[domain.EventFinishTripAsGuest] != 1 {
		t.Fatalf("expected guest finish points to accrue once, got %+v", rec)
	}

	// Confirming again changes nothing.
	again := mustTrip(t)(f.trips.ConfirmCheckOut(ctx, guestAddr, trip.ID))
	if again.Status != domain.TripStatusFinished {
		t.Errorf("expected %s, got %s", domain.TripStatusFinished, again.Status)
	}
	if f.store.Referral(guestAddr).Occurrences[domain.EventFinishTripAsGuest] != 1 {
		t.Error("guest finish points accrued twice")
	}
}

func TestTrip_ConfirmCheckOut_RequiresHostOnlyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.checkedOut(t, nextWeek(), 1)

	_, err := f.trips.ConfirmCheckOut(context.Background(), guestAddr, trip.ID)
	if !errors.Is(err, service.ErrStateViolation) {
		t.Errorf("expected ErrStateViolation, got %v", err)
	}
}

func TestTrip_FinishFromGuestCheckOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.checkedIn(t, nextWeek(), 1)
	mustTrip(t)(f.trips.CheckOutByGuest(ctx, guestAddr, trip.ID, service.CheckOutRequest{
		Readings: &domain.Readings{FuelLevel: 40, Odometer: 12100},
	}))

	finished := mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{}))
	if finished.Status != domain.TripStatusFinished {
		t.Fatalf("expected %s, got %s", domain.TripStatusFinished, finished.Status)
	}
	if finished.TransactionInfo.EndOdometer != 12100 || finished.TransactionInfo.EndFuelLevel != 40 {
		t.Errorf("expected guest readings as end readings, got %+v", finished.TransactionInfo)
	}
}

// ──────────────────────────────────────────────
// 3. ATOMICITY AND CONCURRENCY
// ──────────────────────────────────────────────

func TestTrip_FailedSettlementRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.checkedOut(t, nextWeek(), 1)

	f.store.RecordTransferFail = domain.TransferKindDepositRefund
	_, err := f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{})
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	stored := f.store.Trip(trip.ID)
	if stored.Status != domain.TripStatusCheckedOutByHost || stored.TransactionInfo != nil {
		t.Errorf("expected trip untouched, got status=%s info=%+v", stored.Status, stored.TransactionInfo)
	}
	if f.store.Balance(hostAddr, testCurrency).Sign() != 0 {
		t.Error("host was paid by a rolled back settlement")
	}
	if e := f.store.Escrow(trip.ID); e.Status != domain.EscrowStatusHeld || e.Remaining.Cmp(e.Amount) != 0 {
		t.Errorf("expected escrow untouched, got %+v", e)
	}
	if rec := f.store.Referral(hostAddr); rec != nil && rec.Occurrences[domain.EventFinishTripAsHost] != 0 {
		t.Error("host points accrued by a rolled back finish")
	}

	f.store.RecordTransferFail = ""
	finished := mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{}))
	if finished.Status != domain.TripStatusFinished {
		t.Errorf("expected %s after retry, got %s", domain.TripStatusFinished, finished.Status)
	}
}

func TestTrip_ConcurrentApprove_OneWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.request(t, nextWeek(), 1)

	const callers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		violations int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.trips.ApproveTripRequest(context.Background(), hostAddr, trip.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, service.ErrStateViolation):
				violations++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || violations != callers-1 {
		t.Errorf("expected 1 success and %d violations, got %d and %d", callers-1, successes, violations)
	}
}

func TestTrip_ConcurrentFinishAndReject_SettleOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trip := f.checkedOut(t, nextWeek(), 1)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.trips.FinishTrip(context.Background(), hostAddr, trip.ID, service.FinishTripRequest{})
		}()
	}
	wg.Wait()

	if n := len(f.store.Transfers(trip.ID, domain.TransferKindTripEarnings)); n != 1 {
		t.Errorf("expected one earnings payout, got %d", n)
	}
}

// ──────────────────────────────────────────────
// 4. QUERIES, CACHE AND RECEIPTS
// ──────────────────────────────────────────────

func TestTrip_GetTrip_ParticipantsOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.request(t, nextWeek(), 1)

	if _, err := f.trips.GetTrip(ctx, guestAddr, trip.ID); err != nil {
		t.Errorf("guest: unexpected error: %v", err)
	}
	if _, err := f.trips.GetTrip(ctx, strangerAddr, trip.ID); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := f.trips.GetTrip(ctx, guestAddr, 999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing trip: expected ErrNotFound, got %v", err)
	}

	trips, err := f.trips.ListTrips(ctx, hostAddr, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trips) != 1 || trips[0].ID != trip.ID {
		t.Errorf("expected host to see trip %d, got %d trips", trip.ID, len(trips))
	}
}

func TestTrip_CacheInvalidatedOnTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.request(t, nextWeek(), 1)

	mustTrip(t)(f.trips.GetTrip(ctx, guestAddr, trip.ID))
	if !f.cache.Cached(trip.ID) {
		t.Fatal("expected trip to be cached after read")
	}

	mustTrip(t)(f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID))
	if f.cache.Cached(trip.ID) {
		t.Error("expected cache entry to be dropped after transition")
	}

	got := mustTrip(t)(f.trips.GetTrip(ctx, guestAddr, trip.ID))
	if got.Status != domain.TripStatusApproved {
		t.Errorf("expected fresh status %s, got %s", domain.TripStatusApproved, got.Status)
	}
}

func TestTrip_Receipt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	trip := f.checkedOut(t, nextWeek(), 1)

	if _, err := f.trips.GetTripReceipt(ctx, guestAddr, trip.ID); !errors.Is(err, service.ErrReceiptNotReady) {
		t.Fatalf("expected ErrReceiptNotReady, got %v", err)
	}

	mustTrip(t)(f.trips.FinishTrip(ctx, hostAddr, trip.ID, service.FinishTripRequest{}))
	receipt, err := f.trips.GetTripReceipt(ctx, guestAddr, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TotalInFiatCents != 1275 || receipt.DepositRefund != 3 {
		t.Errorf("unexpected receipt totals: %+v", receipt)
	}
	if f.publisher.Count(string(service.NotificationReceiptReady)) != 1 {
		t.Error("expected exactly one receipt notification")
	}

	again, err := f.trips.GetTripReceipt(ctx, hostAddr, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != receipt.ID {
		t.Errorf("expected stable receipt id, got %s and %s", receipt.ID, again.ID)
	}
	if text := service.FormatReceipt(receipt); text == "" {
		t.Error("expected formatted receipt")
	}
}
