package currency

import (
	"context"
	"errors"
	"math/big"
)

// ErrUnsupportedCurrency is returned when no rate is known for a currency.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Rate is the fiat price of one whole token, scaled by 10^Decimals.
type Rate struct {
	Currency      string
	Value         *big.Int
	Decimals      uint8
	TokenDecimals uint8
}

// RateProvider supplies exchange rates. Staleness is the provider's concern.
type RateProvider interface {
	Rate(ctx context.Context, currency string) (Rate, error)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FiatCentsToToken converts cents to token base units, rounding down.
func FiatCentsToToken(cents int64, rate *big.Int, rateDecimals, tokenDecimals uint8) *big.Int {
	if cents <= 0 || rate == nil || rate.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(big.NewInt(cents), pow10(tokenDecimals))
	num.Mul(num, pow10(rateDecimals))
	den := new(big.Int).Mul(rate, big.NewInt(100))
	return num.Quo(num, den)
}

// TokenToFiatCents converts token base units to cents, rounding down.
func TokenToFiatCents(amount, rate *big.Int, rateDecimals, tokenDecimals uint8) int64 {
	if amount == nil || amount.Sign() <= 0 || rate == nil {
		return 0
	}
	num := new(big.Int).Mul(amount, rate)
	num.Mul(num, big.NewInt(100))
	den := new(big.Int).Mul(pow10(tokenDecimals), pow10(rateDecimals))
	return num.Quo(num, den).Int64()
}

// Converter turns fiat prices into settlement token amounts.
type Converter struct {
	rates RateProvider
}

// NewConverter creates a new Converter.
func NewConverter(rates RateProvider) *Converter {
	return &Converter{rates: rates}
}

// ToTokenAmount converts cents into currency and returns the rate used.
func (c *Converter) ToTokenAmount(ctx context.Context, cents int64, currency string) (*big.Int, Rate, error) {
	rate, err := c.rates.Rate(ctx, currency)
	if err != nil {
		return nil, Rate{}, err
	}
	return FiatCentsToToken(cents, rate.Value, rate.Decimals, rate.TokenDecimals), rate, nil
}

// ToFiatCents converts a token amount of currency back into cents at the current rate.
func (c *Converter) ToFiatCents(ctx context.Context, amount *big.Int, currency string) (int64, error) {
	rate, err := c.rates.Rate(ctx, currency)
	if err != nil {
		return 0, err
	}
	return TokenToFiatCents(amount, rate.Value, rate.Decimals, rate.TokenDecimals), nil
}
