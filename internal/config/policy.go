package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"rental/internal/domain"
)

// Policy is the versioned set of business tables injected into the core.
// Administrative updates produce a new Version without touching transition logic.
type Policy struct {
	Version         int64            `mapstructure:"version"`
	PlatformAccount string           `mapstructure:"platform_account"`
	TaxAccount      string           `mapstructure:"tax_account"`
	Pricing         PricingPolicy    `mapstructure:"pricing"`
	Refunds         []RefundRule     `mapstructure:"refunds"`
	Claims          ClaimPolicy      `mapstructure:"claims"`
	Referral        ReferralPolicy   `mapstructure:"referral"`
	Currencies      []CurrencyPolicy `mapstructure:"currencies"`
}

// PricingPolicy drives the payment calculator.
type PricingPolicy struct {
	DiscountBrackets               []DiscountBracket `mapstructure:"discount_brackets"`
	SalesTaxBasisPoints            int64             `mapstructure:"sales_tax_basis_points"`
	GovernmentTaxPerDayInFiatCents int64             `mapstructure:"government_tax_per_day_in_fiat_cents"`
	PlatformFeePercent             int64             `mapstructure:"platform_fee_percent"`
	Delivery                       DeliveryPolicy    `mapstructure:"delivery"`
}

// DiscountBracket applies Percent to trips of at least MinDays days.
type DiscountBracket struct {
	MinDays int64 `mapstructure:"min_days"`
	Percent int64 `mapstructure:"percent"`
}

// DeliveryPolicy is a distance based fee schedule, applied per delivery leg.
type DeliveryPolicy struct {
	Tiers                    []DeliveryTier `mapstructure:"tiers"`
	PerMileBeyondInFiatCents int64          `mapstructure:"per_mile_beyond_in_fiat_cents"`
}

// DeliveryTier charges FeeInFiatCents for legs up to UpToMiles.
type DeliveryTier struct {
	UpToMiles      float64 `mapstructure:"up_to_miles"`
	FeeInFiatCents int64   `mapstructure:"fee_in_fiat_cents"`
}

// Forfeit destinations for the non-refunded share of a canceled trip.
const (
	ForfeitToHost     = "host"
	ForfeitToPlatform = "platform"
)

// RefundRule is one row of the cancellation table keyed by (rejecting role, prior status).
type RefundRule struct {
	Role          domain.Role       `mapstructure:"role"`
	Status        domain.TripStatus `mapstructure:"status"`
	RefundPercent int64             `mapstructure:"refund_percent"`
	ForfeitTo     string            `mapstructure:"forfeit_to"`
}

// ClaimPolicy holds the claim deadline and taxonomy partitions.
type ClaimPolicy struct {
	Window      time.Duration `mapstructure:"window"`
	HostTypes   []int         `mapstructure:"host_types"`
	GuestTypes  []int         `mapstructure:"guest_types"`
	SharedTypes []int         `mapstructure:"shared_types"`
}

// ReferralPolicy holds every point table of the referral program.
type ReferralPolicy struct {
	OneTime       []OneTimeRule      `mapstructure:"one_time"`
	ReferrerShare []ShareRule        `mapstructure:"referrer_share"`
	Permanent     []PermanentRule    `mapstructure:"permanent"`
	Discounts     []ReferralDiscount `mapstructure:"discounts"`
	Tiers         []TierRule         `mapstructure:"tiers"`
	DailyPoints   int64              `mapstructure:"daily_points"`
	UnlistPenalty int64              `mapstructure:"unlist_penalty"`
}

// OneTimeRule is granted on the first occurrence of Kind.
type OneTimeRule struct {
	Kind           domain.EventKind `mapstructure:"kind"`
	Points         int64            `mapstructure:"points"`
	PointsWithHash int64            `mapstructure:"points_with_hash"`
}

// ShareRule is the referrer's share for Kind.
type ShareRule struct {
	Kind   domain.EventKind `mapstructure:"kind"`
	Points int64            `mapstructure:"points"`
}

// PermanentRule is a bonus granted once per qualifying unit after a threshold.
type PermanentRule struct {
	Kind          domain.EventKind `mapstructure:"kind"`
	Points        int64            `mapstructure:"points"`
	MinOccurrence int64            `mapstructure:"min_occurrence"`
	MinTripDays   int64            `mapstructure:"min_trip_days"`
}

// ReferralDiscount prices a percentage discount in points.
type ReferralDiscount struct {
	Kind       domain.EventKind `mapstructure:"kind"`
	Tier       int              `mapstructure:"tier"`
	PointsCost int64            `mapstructure:"points_cost"`
	Percent    int64            `mapstructure:"percent"`
}

// TierRule places addresses with at least MinPoints lifetime claimed points in Tier.
type TierRule struct {
	Tier      int   `mapstructure:"tier"`
	MinPoints int64 `mapstructure:"min_points"`
}

// CurrencyPolicy describes a settlement currency and its static rate.
type CurrencyPolicy struct {
	Code          string `mapstructure:"code"`
	TokenDecimals uint8  `mapstructure:"token_decimals"`
	Rate          string `mapstructure:"rate"`
	RateDecimals  uint8  `mapstructure:"rate_decimals"`
}

// RateValue parses Rate.
func (c CurrencyPolicy) RateValue() (*big.Int, error) {
	rate, ok := new(big.Int).SetString(c.Rate, 10)
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("currency %s: invalid rate %q", c.Code, c.Rate)
	}
	return rate, nil
}

// DefaultPolicy returns the reference policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Version:         1,
		PlatformAccount: "platform",
		TaxAccount:      "platform-tax",
		Pricing: PricingPolicy{
			DiscountBrackets: []DiscountBracket{
				{MinDays: 3, Percent: 2},
				{MinDays: 7, Percent: 10},
				{MinDays: 30, Percent: 15},
			},
			SalesTaxBasisPoints:            700,
			GovernmentTaxPerDayInFiatCents: 200,
			PlatformFeePercent:             20,
			Delivery: DeliveryPolicy{
				Tiers: []DeliveryTier{
					{UpToMiles: 0.5, FeeInFiatCents: 0},
					{UpToMiles: 25, FeeInFiatCents: 2500},
					{UpToMiles: 50, FeeInFiatCents: 5000},
				},
				PerMileBeyondInFiatCents: 100,
			},
		},
		Refunds: []RefundRule{
			{Role: domain.RoleHost, Status: domain.TripStatusCreated, RefundPercent: 100, ForfeitTo: ForfeitToHost},
			{Role: domain.RoleHost, Status: domain.TripStatusApproved, RefundPercent: 100, ForfeitTo: ForfeitToHost},
			{Role: domain.RoleGuest, Status: domain.TripStatusCreated, RefundPercent: 100, ForfeitTo: ForfeitToHost},
			{Role: domain.RoleGuest, Status: domain.TripStatusApproved, RefundPercent: 50, ForfeitTo: ForfeitToHost},
			{Role: domain.RoleSystem, Status: domain.TripStatusCreated, RefundPercent: 100, ForfeitTo: ForfeitToPlatform},
			{Role: domain.RoleSystem, Status: domain.TripStatusApproved, RefundPercent: 100, ForfeitTo: ForfeitToPlatform},
		},
		Claims: ClaimPolicy{
			Window:      72 * time.Hour,
			HostTypes:   []int{0, 1, 3, 4, 6, 7},
			GuestTypes:  []int{8, 9},
			SharedTypes: []int{2, 5, 10},
		},
		Referral: ReferralPolicy{
			OneTime: []OneTimeRule{
				{Kind: domain.EventSetKYC, Points: 100, PointsWithHash: 125},
				{Kind: domain.EventPassCivic, Points: 500, PointsWithHash: 625},
				{Kind: domain.EventAddCar, Points: 1000, PointsWithHash: 2000},
				{Kind: domain.EventCreateTrip, Points: 100, PointsWithHash: 125},
				{Kind: domain.EventFinishTripAsHost, Points: 1000, PointsWithHash: 1250},
				{Kind: domain.EventFinishTripAsGuest, Points: 1000, PointsWithHash: 1250},
			},
			ReferrerShare: []ShareRule{
				{Kind: domain.EventSetKYC, Points: 10},
				{Kind: domain.EventPassCivic, Points: 50},
				{Kind: domain.EventAddCar, Points: 250},
				{Kind: domain.EventFinishTripAsHost, Points: 1000},
				{Kind: domain.EventFinishTripAsGuest, Points: 1000},
			},
			Permanent: []PermanentRule{
				{Kind: domain.EventAddCar, Points: 500, MinOccurrence: 2},
				{Kind: domain.EventFinishTripAsHost, Points: 500, MinTripDays: 10},
				{Kind: domain.EventFinishTripAsGuest, Points: 500, MinTripDays: 10},
			},
			Discounts: []ReferralDiscount{
				{Kind: domain.EventCreateTrip, Tier: 1, PointsCost: 1000, Percent: 2},
				{Kind: domain.EventCreateTrip, Tier: 2, PointsCost: 2000, Percent: 5},
				{Kind: domain.EventCreateTrip, Tier: 3, PointsCost: 4000, Percent: 8},
				{Kind: domain.EventCreateTrip, Tier: 4, PointsCost: 6000, Percent: 10},
				{Kind: domain.EventFinishTripAsHost, Tier: 1, PointsCost: 1000, Percent: 2},
				{Kind: domain.EventFinishTripAsHost, Tier: 2, PointsCost: 2000, Percent: 5},
				{Kind: domain.EventFinishTripAsHost, Tier: 3, PointsCost: 4000, Percent: 8},
				{Kind: domain.EventFinishTripAsHost, Tier: 4, PointsCost: 6000, Percent: 10},
			},
			Tiers: []TierRule{
				{Tier: 1, MinPoints: 0},
				{Tier: 2, MinPoints: 2500},
				{Tier: 3, MinPoints: 5000},
				{Tier: 4, MinPoints: 10000},
			},
			DailyPoints:   20,
			UnlistPenalty: 500,
		},
		Currencies: []CurrencyPolicy{
			{Code: "ETH", TokenDecimals: 18, Rate: "200000000000", RateDecimals: 8},
			{Code: "USDT", TokenDecimals: 6, Rate: "100000000", RateDecimals: 8},
		},
	}
}

// LoadPolicy reads the policy file at path on top of the defaults.
// A missing file yields the defaults.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return policy, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	// Tables present in the file replace the default rows instead of merging into them.
	replaceTables := viper.DecoderConfigOption(func(c *mapstructure.DecoderConfig) {
		c.ZeroFields = true
	})
	if err := v.Unmarshal(policy, replaceTables); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// Validate checks the tables for values the core cannot work with.
func (p *Policy) Validate() error {
	if p.PlatformAccount == "" {
		return errors.New("policy: platform_account is required")
	}
	if p.Pricing.PlatformFeePercent < 0 || p.Pricing.PlatformFeePercent > 100 {
		return fmt.Errorf("policy: platform_fee_percent %d out of range", p.Pricing.PlatformFeePercent)
	}
	if p.Pricing.SalesTaxBasisPoints < 0 {
		return fmt.Errorf("policy: sales_tax_basis_points %d is negative", p.Pricing.SalesTaxBasisPoints)
	}
	for _, b := range p.Pricing.DiscountBrackets {
		if b.Percent < 0 || b.Percent > 100 || b.MinDays < 1 {
			return fmt.Errorf("policy: invalid discount bracket %+v", b)
		}
	}
	for _, r := range p.Refunds {
		if r.RefundPercent < 0 || r.RefundPercent > 100 {
			return fmt.Errorf("policy: refund percent %d out of range for %s/%s", r.RefundPercent, r.Role, r.Status)
		}
		if r.ForfeitTo != ForfeitToHost && r.ForfeitTo != ForfeitToPlatform {
			return fmt.Errorf("policy: unknown forfeit_to %q", r.ForfeitTo)
		}
	}
	if p.Claims.Window <= 0 {
		return errors.New("policy: claims.window must be positive")
	}
	seen := make(map[int]bool)
	for _, group := range [][]int{p.Claims.HostTypes, p.Claims.GuestTypes, p.Claims.SharedTypes} {
		for _, t := range group {
			if seen[t] {
				return fmt.Errorf("policy: claim type %d listed in more than one partition", t)
			}
			seen[t] = true
		}
	}
	for _, d := range p.Referral.Discounts {
		if d.Percent < 0 || d.Percent > 100 || d.PointsCost < 0 {
			return fmt.Errorf("policy: invalid referral discount %+v", d)
		}
	}
	for _, c := range p.Currencies {
		if _, err := c.RateValue(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// DiscountPercent returns the percent of the longest bracket that applies to days.
func (p PricingPolicy) DiscountPercent(days int64) int64 {
	brackets := append([]DiscountBracket(nil), p.DiscountBrackets...)
	sort.Slice(brackets, func(i, j int) bool { return brackets[i].MinDays < brackets[j].MinDays })

	var percent int64
	for _, b := range brackets {
		if days >= b.MinDays {
			percent = b.Percent
		}
	}
	return percent
}

// RefundRule looks up the cancellation rule for (role, status).
func (p *Policy) RefundRule(role domain.Role, status domain.TripStatus) (RefundRule, bool) {
	for _, r := range p.Refunds {
		if r.Role == role && r.Status == status {
			return r, true
		}
	}
	return RefundRule{}, false
}

// ClaimParty returns the taxonomy partition of claim type t.
func (c ClaimPolicy) ClaimParty(t domain.ClaimType) (domain.ClaimParty, bool) {
	for _, v := range c.HostTypes {
		if domain.ClaimType(v) == t {
			return domain.ClaimPartyHost, true
		}
	}
	for _, v := range c.GuestTypes {
		if domain.ClaimType(v) == t {
			return domain.ClaimPartyGuest, true
		}
	}
	for _, v := range c.SharedTypes {
		if domain.ClaimType(v) == t {
			return domain.ClaimPartyEither, true
		}
	}
	return "", false
}

// Currency looks up a settlement currency by code.
func (p *Policy) Currency(code string) (CurrencyPolicy, bool) {
	for _, c := range p.Currencies {
		if c.Code == code {
			return c, true
		}
	}
	return CurrencyPolicy{}, false
}

// Clone returns a deep copy of the referral tables.
func (r ReferralPolicy) Clone() ReferralPolicy {
	c := r
	c.OneTime = append([]OneTimeRule(nil), r.OneTime...)
	c.ReferrerShare = append([]ShareRule(nil), r.ReferrerShare...)
	c.Permanent = append([]PermanentRule(nil), r.Permanent...)
	c.Discounts = append([]ReferralDiscount(nil), r.Discounts...)
	c.Tiers = append([]TierRule(nil), r.Tiers...)
	return c
}
