package service

import (
	"context"
	"math"
	"sort"
	"time"

	"rental/internal/config"
	"rental/internal/domain"
)

// CalculationInput holds everything the price of a trip depends on.
type CalculationInput struct {
	PricePerDayInFiatCents  int64
	Days                    int64
	DepositInFiatCents      int64
	PickUpMiles             float64
	ReturnMiles             float64
	ReferralDiscountPercent int64
}

// PaymentBreakdown is the fiat price of a trip. Every stage rounds down.
type PaymentBreakdown struct {
	TotalDayPrice  int64
	DiscountAmount int64
	SalesTax       int64
	GovernmentTax  int64
	DeliveryFee    int64
	Deposit        int64
	Total          int64
}

// PaymentCalculator prices trips from the pricing policy.
type PaymentCalculator struct {
	pricing   config.PricingPolicy
	cars      CarCatalog
	distances DistanceEstimator
	converter TokenConverter
}

// NewPaymentCalculator creates a new PaymentCalculator.
// distances may be nil, in which case the great-circle distance is used.
func NewPaymentCalculator(pricing config.PricingPolicy, cars CarCatalog, distances DistanceEstimator, converter TokenConverter) *PaymentCalculator {
	return &PaymentCalculator{
		pricing:   pricing,
		cars:      cars,
		distances: distances,
		converter: converter,
	}
}

// Calculate is a pure function of its input and the pricing policy.
func (c *PaymentCalculator) Calculate(in CalculationInput) PaymentBreakdown {
	days := in.Days
	if days < 1 {
		days = 1
	}

	totalDayPrice := in.PricePerDayInFiatCents * days
	discount := totalDayPrice * c.pricing.DiscountPercent(days) / 100
	if in.ReferralDiscountPercent > 0 {
		discount += (totalDayPrice - discount) * in.ReferralDiscountPercent / 100
	}

	salesTax := (totalDayPrice - discount) * c.pricing.SalesTaxBasisPoints / 10000
	governmentTax := c.pricing.GovernmentTaxPerDayInFiatCents * days
	deliveryFee := c.DeliveryFee(in.PickUpMiles) + c.DeliveryFee(in.ReturnMiles)

	return PaymentBreakdown{
		TotalDayPrice:  totalDayPrice,
		DiscountAmount: discount,
		SalesTax:       salesTax,
		GovernmentTax:  governmentTax,
		DeliveryFee:    deliveryFee,
		Deposit:        in.DepositInFiatCents,
		Total:          totalDayPrice - discount + salesTax + governmentTax + deliveryFee + in.DepositInFiatCents,
	}
}

// DeliveryFee prices one delivery leg of the given length.
func (c *PaymentCalculator) DeliveryFee(miles float64) int64 {
	if miles <= 0 {
		return 0
	}

	tiers := append([]config.DeliveryTier(nil), c.pricing.Delivery.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].UpToMiles < tiers[j].UpToMiles })

	for _, t := range tiers {
		if miles <= t.UpToMiles {
			return t.FeeInFiatCents
		}
	}

	var base int64
	var covered float64
	if len(tiers) > 0 {
		last := tiers[len(tiers)-1]
		base, covered = last.FeeInFiatCents, last.UpToMiles
	}
	extra := int64(math.Ceil(miles - covered))
	return base + extra*c.pricing.Delivery.PerMileBeyondInFiatCents
}

// CalculatePaymentsRequest contains the parameters for pricing a trip.
type CalculatePaymentsRequest struct {
	CarID                   int64
	StartDateTime           time.Time
	EndDateTime             time.Time
	Currency                string
	PickUp                  *domain.Location
	Return                  *domain.Location
	ReferralDiscountPercent int64
}

// CalculatePayments prices a trip on a car and converts the total into the settlement currency.
func (c *PaymentCalculator) CalculatePayments(ctx context.Context, req CalculatePaymentsRequest) (*domain.PaymentInfo, error) {
	if !req.EndDateTime.After(req.StartDateTime) {
		return nil, ErrInvalidTripWindow
	}

	car, err := c.cars.GetByID(ctx, req.CarID)
	if err != nil {
		return nil, err
	}
	return c.quote(ctx, car, domain.TripDays(req.StartDateTime, req.EndDateTime), req)
}

func (c *PaymentCalculator) quote(ctx context.Context, car *domain.Car, days int64, req CalculatePaymentsRequest) (*domain.PaymentInfo, error) {
	pickUpMiles, err := c.distance(ctx, car, req.PickUp)
	if err != nil {
		return nil, err
	}
	returnMiles, err := c.distance(ctx, car, req.Return)
	if err != nil {
		return nil, err
	}

	b := c.Calculate(CalculationInput{
		PricePerDayInFiatCents:  car.PricePerDayInFiatCents,
		Days:                    days,
		DepositInFiatCents:      car.DepositInFiatCents,
		PickUpMiles:             pickUpMiles,
		ReturnMiles:             returnMiles,
		ReferralDiscountPercent: req.ReferralDiscountPercent,
	})

	amount, rate, err := c.converter.ToTokenAmount(ctx, b.Total, req.Currency)
	if err != nil {
		return nil, err
	}

	return &domain.PaymentInfo{
		TotalDayPriceInFiatCents: b.TotalDayPrice,
		TotalTripDays:            days,
		DiscountAmount:           b.DiscountAmount,
		ReferralDiscountPercent:  req.ReferralDiscountPercent,
		SalesTaxInFiatCents:      b.SalesTax,
		GovernmentTaxInFiatCents: b.GovernmentTax,
		DepositInFiatCents:       b.Deposit,
		DeliveryFeeInFiatCents:   b.DeliveryFee,
		TotalInFiatCents:         b.Total,
		SettlementCurrency:       req.Currency,
		SettlementRate:           rate.Value,
		SettlementRateDecimals:   rate.Decimals,
		SettlementTokenDecimals:  rate.TokenDecimals,
		TotalInTokens:            amount,
	}, nil
}

// sameSpotPrecision is a geohash cell of roughly 38m by 19m.
const sameSpotPrecision = 8

func (c *PaymentCalculator) distance(ctx context.Context, car *domain.Car, to *domain.Location) (float64, error) {
	if to == nil || car.Location == nil {
		return 0, nil
	}
	if !to.IsValid() {
		return 0, ErrInvalidLocation
	}
	// Pick-up at the car itself is not a delivery.
	if car.Location.SameCell(to, sameSpotPrecision) {
		return 0, nil
	}
	if c.distances != nil {
		if miles, err := c.distances.DistanceMiles(ctx, car, to); err == nil {
			return miles, nil
		}
	}
	return domain.DistanceMiles(car.Location, to), nil
}
