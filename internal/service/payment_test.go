package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"rental/internal/config"
	"rental/internal/currency"
	"rental/internal/domain"
	"rental/internal/repository"
)

type fakeCars map[int64]*domain.Car

func (f fakeCars) GetByID(ctx context.Context, id int64) (*domain.Car, error) {
	car, ok := f[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return car, nil
}

type fakeDistances struct {
	miles float64
	err   error
	calls int
}

func (f *fakeDistances) DistanceMiles(ctx context.Context, car *domain.Car, to *domain.Location) (float64, error) {
	f.calls++
	return f.miles, f.err
}

func newTestCalculator(t *testing.T, cars fakeCars, distances DistanceEstimator) *PaymentCalculator {
	t.Helper()
	policy := config.DefaultPolicy()
	rates, err := currency.NewStaticRates(policy.Currencies)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewPaymentCalculator(policy.Pricing, cars, distances, currency.NewConverter(rates))
}

func TestCalculate(t *testing.T) {
	t.Parallel()

	c := newTestCalculator(t, nil, nil)

	tests := []struct {
		name string
		in   CalculationInput
		want PaymentBreakdown
	}{
		{
			name: "one day floors sales tax",
			in:   CalculationInput{PricePerDayInFiatCents: 1002, Days: 1, DepositInFiatCents: 3},
			want: PaymentBreakdown{TotalDayPrice: 1002, SalesTax: 70, GovernmentTax: 200, Deposit: 3, Total: 1275},
		},
		{
			name: "zero days counts as one",
			in:   CalculationInput{PricePerDayInFiatCents: 1002, Days: 0, DepositInFiatCents: 3},
			want: PaymentBreakdown{TotalDayPrice: 1002, SalesTax: 70, GovernmentTax: 200, Deposit: 3, Total: 1275},
		},
		{
			name: "three day bracket",
			in:   CalculationInput{PricePerDayInFiatCents: 5000, Days: 3},
			want: PaymentBreakdown{TotalDayPrice: 15000, DiscountAmount: 300, SalesTax: 1029, GovernmentTax: 600, Total: 16329},
		},
		{
			name: "seven day bracket",
			in:   CalculationInput{PricePerDayInFiatCents: 5000, Days: 7},
			want: PaymentBreakdown{TotalDayPrice: 35000, DiscountAmount: 3500, SalesTax: 2205, GovernmentTax: 1400, Total: 35105},
		},
		{
			name: "thirty day bracket",
			in:   CalculationInput{PricePerDayInFiatCents: 1000, Days: 30},
			want: PaymentBreakdown{TotalDayPrice: 30000, DiscountAmount: 4500, SalesTax: 1785, GovernmentTax: 6000, Total: 33285},
		},
		{
			name: "referral discount stacks on the bracket",
			in:   CalculationInput{PricePerDayInFiatCents: 5000, Days: 7, ReferralDiscountPercent: 10},
			// 3500 + 10% of 31500.
			want: PaymentBreakdown{TotalDayPrice: 35000, DiscountAmount: 6650, SalesTax: 1984, GovernmentTax: 1400, Total: 31734},
		},
		{
			name: "delivery both legs",
			in:   CalculationInput{PricePerDayInFiatCents: 1000, Days: 1, PickUpMiles: 10, ReturnMiles: 60},
			want: PaymentBreakdown{TotalDayPrice: 1000, SalesTax: 70, GovernmentTax: 200, DeliveryFee: 8500, Total: 9770},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Calculate(tt.in); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDeliveryFee(t *testing.T) {
	t.Parallel()

	c := newTestCalculator(t, nil, nil)

	tests := []struct {
		miles float64
		want  int64
	}{
		{0, 0},
		{0.3, 0},
		{0.5, 0},
		{10, 2500},
		{25, 2500},
		{25.1, 5000},
		{50, 5000},
		{60, 6000},
		{50.2, 5100},
	}
	for _, tt := range tests {
		if got := c.DeliveryFee(tt.miles); got != tt.want {
			t.Errorf("DeliveryFee(%v): expected %d, got %d", tt.miles, tt.want, got)
		}
	}
}

func TestCalculatePayments_ConvertsTotal(t *testing.T) {
	t.Parallel()

	cars := fakeCars{1: {ID: 1, PricePerDayInFiatCents: 1002, DepositInFiatCents: 3, Listed: true}}
	c := newTestCalculator(t, cars, nil)
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	info, err := c.CalculatePayments(context.Background(), CalculatePaymentsRequest{
		CarID:         1,
		StartDateTime: start,
		EndDateTime:   start.Add(25 * time.Hour),
		Currency:      "USDT",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 25 hours is two rental days.
	if info.TotalTripDays != 2 || info.TotalInFiatCents != 2004+140+400+3 {
		t.Errorf("expected 2 days totalling 2547, got %d days totalling %d", info.TotalTripDays, info.TotalInFiatCents)
	}
	if info.TotalInTokens.Int64() != info.TotalInFiatCents*10_000 {
		t.Errorf("expected %d tokens, got %s", info.TotalInFiatCents*10_000, info.TotalInTokens)
	}
	if info.SettlementCurrency != "USDT" || info.SettlementTokenDecimals != 6 {
		t.Errorf("unexpected settlement terms %+v", info)
	}
}

func TestCalculatePayments_Errors(t *testing.T) {
	t.Parallel()

	cars := fakeCars{1: {ID: 1, PricePerDayInFiatCents: 1000}}
	c := newTestCalculator(t, cars, nil)
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := c.CalculatePayments(ctx, CalculatePaymentsRequest{CarID: 1, StartDateTime: start, EndDateTime: start, Currency: "USDT"}); !errors.Is(err, ErrInvalidTripWindow) {
		t.Errorf("expected ErrInvalidTripWindow, got %v", err)
	}
	if _, err := c.CalculatePayments(ctx, CalculatePaymentsRequest{CarID: 2, StartDateTime: start, EndDateTime: start.Add(time.Hour), Currency: "USDT"}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.CalculatePayments(ctx, CalculatePaymentsRequest{CarID: 1, StartDateTime: start, EndDateTime: start.Add(time.Hour), Currency: "XYZ"}); !errors.Is(err, currency.ErrUnsupportedCurrency) {
		t.Errorf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestCalculatePayments_Delivery(t *testing.T) {
	t.Parallel()

	carAt := domain.NewLocation(37.7749, -122.4194)
	cars := fakeCars{1: {ID: 1, PricePerDayInFiatCents: 1000, Location: carAt}}
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	req := CalculatePaymentsRequest{CarID: 1, StartDateTime: start, EndDateTime: start.Add(time.Hour), Currency: "USDT"}

	t.Run("pick-up at the car", func(t *testing.T) {
		t.Parallel()
		distances := &fakeDistances{miles: 40}
		c := newTestCalculator(t, cars, distances)
		r := req
		r.PickUp = domain.NewLocation(37.7749, -122.4194)
		info, err := c.CalculatePayments(context.Background(), r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.DeliveryFeeInFiatCents != 0 || distances.calls != 0 {
			t.Errorf("expected no delivery and no lookup, got fee %d after %d calls", info.DeliveryFeeInFiatCents, distances.calls)
		}
	})

	t.Run("estimator distance", func(t *testing.T) {
		t.Parallel()
		c := newTestCalculator(t, cars, &fakeDistances{miles: 10})
		r := req
		r.PickUp = domain.NewLocation(37.8044, -122.2712)
		info, err := c.CalculatePayments(context.Background(), r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.DeliveryFeeInFiatCents != 2500 {
			t.Errorf("expected 2500, got %d", info.DeliveryFeeInFiatCents)
		}
	})

	t.Run("great-circle fallback", func(t *testing.T) {
		t.Parallel()
		c := newTestCalculator(t, cars, &fakeDistances{err: errors.New("unavailable")})
		r := req
		// San Jose is about 42 miles away.
		r.Return = domain.NewLocation(37.3382, -121.8863)
		info, err := c.CalculatePayments(context.Background(), r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.DeliveryFeeInFiatCents != 5000 {
			t.Errorf("expected 5000, got %d", info.DeliveryFeeInFiatCents)
		}
	})

	t.Run("invalid location", func(t *testing.T) {
		t.Parallel()
		c := newTestCalculator(t, cars, nil)
		r := req
		r.PickUp = &domain.Location{Lat: 91}
		if _, err := c.CalculatePayments(context.Background(), r); !errors.Is(err, ErrInvalidLocation) {
			t.Errorf("expected ErrInvalidLocation, got %v", err)
		}
	})
}
