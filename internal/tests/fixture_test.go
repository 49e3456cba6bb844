package tests

import (
	"context"
	"math/big"
	"testing"
	"time"

	"rental/internal/config"
	"rental/internal/currency"
	"rental/internal/domain"
	"rental/internal/service"
)

const (
	hostAddr     = "0xhost"
	guestAddr    = "0xguest"
	managerAddr  = "0xmanager"
	strangerAddr = "0xstranger"

	testCarID    int64 = 1
	testCurrency       = "USDT"
)

type fixture struct {
	store      *MockStore
	roles      *MockRoles
	cars       *MockCars
	publisher  *MockPublisher
	cache      *MockTripCache
	policy     *config.Policy
	converter  *currency.Converter
	calculator *service.PaymentCalculator
	settlement *service.SettlementService
	referral   *service.ReferralService
	trips      *service.TripService
	claims     *service.ClaimService
	automation *service.AutomationService
}

// newFixture wires the services over in-memory collaborators. The car is
// priced at $10.02/day with a $0.03 deposit and no delivery.
func newFixture(t *testing.T, tweaks ...func(p *config.Policy)) *fixture {
	t.Helper()

	policy := config.DefaultPolicy()
	for _, tweak := range tweaks {
		tweak(policy)
	}

	rates, err := currency.NewStaticRates(policy.Currencies)
	if err != nil {
		t.Fatalf("failed to build rates: %v", err)
	}

	f := &fixture{
		store:     NewMockStore(),
		roles:     NewMockRoles(),
		cars:      NewMockCars(),
		publisher: &MockPublisher{},
		cache:     NewMockTripCache(),
		policy:    policy,
		converter: currency.NewConverter(rates),
	}

	ctx := context.Background()
	_ = f.roles.Grant(ctx, hostAddr, domain.RoleHost)
	_ = f.roles.Grant(ctx, guestAddr, domain.RoleGuest)
	_ = f.roles.Grant(ctx, managerAddr, domain.RoleManager)

	f.cars.AddCar(&domain.Car{
		ID:                     testCarID,
		Host:                   hostAddr,
		Brand:                  "Tesla",
		Model:                  "Model 3",
		YearOfProduction:       2022,
		PricePerDayInFiatCents: 1002,
		DepositInFiatCents:     3,
		Listed:                 true,
	})

	locker := service.NewLocalLocker()
	notifications := service.NewNotificationService(f.publisher)

	f.calculator = service.NewPaymentCalculator(policy.Pricing, f.cars, nil, f.converter)
	f.settlement = service.NewSettlementService(policy)
	f.referral = service.NewReferralService(f.store, locker, f.roles, policy)
	f.trips = service.NewTripService(service.TripServiceDeps{
		Store:         f.store,
		Locker:        locker,
		Roles:         f.roles,
		Cars:          f.cars,
		Calculator:    f.calculator,
		Settlement:    f.settlement,
		Referral:      f.referral,
		Notifications: notifications,
		Receipts:      service.NewReceiptService(notifications),
		Cache:         f.cache,
	})
	f.claims = service.NewClaimService(f.store, locker, f.settlement, f.converter, notifications, f.cache, policy.Claims)
	f.automation = service.NewAutomationService(f.store, f.trips, f.claims, nil, config.AutomationConfig{
		Interval: time.Minute,
		Grace:    2 * time.Hour,
		Batch:    100,
	})
	return f
}

// quote prices a trip the way the guest's client does before paying.
func (f *fixture) quote(t *testing.T, start, end time.Time, referralPercent int64) *domain.PaymentInfo {
	t.Helper()
	info, err := f.calculator.CalculatePayments(context.Background(), service.CalculatePaymentsRequest{
		CarID:                   testCarID,
		StartDateTime:           start,
		EndDateTime:             end,
		Currency:                testCurrency,
		ReferralDiscountPercent: referralPercent,
	})
	if err != nil {
		t.Fatalf("failed to quote trip: %v", err)
	}
	return info
}

// request creates a paid trip request over [start, start+days).
func (f *fixture) request(t *testing.T, start time.Time, days int) *domain.Trip {
	t.Helper()
	end := start.Add(time.Duration(days) * 24 * time.Hour)
	info := f.quote(t, start, end, 0)

	trip, err := f.trips.CreateTripRequest(context.Background(), guestAddr, service.TripRequest{
		CarID:         testCarID,
		StartDateTime: start,
		EndDateTime:   end,
		Currency:      testCurrency,
		Payment:       info.TotalInTokens,
	})
	if err != nil {
		t.Fatalf("failed to request trip: %v", err)
	}
	return trip
}

// checkedIn drives a fresh trip to CheckedInByGuest.
func (f *fixture) checkedIn(t *testing.T, start time.Time, days int) *domain.Trip {
	t.Helper()
	ctx := context.Background()
	trip := f.request(t, start, days)

	mustTrip(t)(f.trips.ApproveTripRequest(ctx, hostAddr, trip.ID))
	mustTrip(t)(f.trips.CheckInByHost(ctx, hostAddr, trip.ID, service.CheckInByHostRequest{
		Readings:  domain.Readings{FuelLevel: 90, Odometer: 12000},
		Insurance: &domain.InsuranceInfo{Company: "Acme", PolicyNumber: "P-1"},
	}))
	return mustTrip(t)(f.trips.CheckInByGuest(ctx, guestAddr, trip.ID, domain.Readings{FuelLevel: 90, Odometer: 12000}))
}

// checkedOut drives a fresh trip to CheckedOutByHost through the guest's check-out.
func (f *fixture) checkedOut(t *testing.T, start time.Time, days int) *domain.Trip {
	t.Helper()
	ctx := context.Background()
	trip := f.checkedIn(t, start, days)

	mustTrip(t)(f.trips.CheckOutByGuest(ctx, guestAddr, trip.ID, service.CheckOutRequest{
		Readings: &domain.Readings{FuelLevel: 70, Odometer: 12250},
	}))
	return mustTrip(t)(f.trips.CheckOutByHost(ctx, hostAddr, trip.ID, service.CheckOutRequest{
		Readings: &domain.Readings{FuelLevel: 70, Odometer: 12250},
	}))
}

func (f *fixture) tokens(cents int64) *big.Int {
	rate, _ := f.policy.Currency(testCurrency)
	value, _ := rate.RateValue()
	return currency.FiatCentsToToken(cents, value, rate.RateDecimals, rate.TokenDecimals)
}

func mustTrip(t *testing.T) func(*domain.Trip, error) *domain.Trip {
	t.Helper()
	return func(trip *domain.Trip, err error) *domain.Trip {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return trip
	}
}

func nextWeek() time.Time {
	return time.Now().Add(7 * 24 * time.Hour).Truncate(time.Hour)
}

// withinCent asserts the rounding tolerance of fiat arithmetic.
func withinCent(t *testing.T, name string, got, want int64) {
	t.Helper()
	if d := got - want; d < -1 || d > 1 {
		t.Errorf("%s: got %d, want %d (±1 cent)", name, got, want)
	}
}
