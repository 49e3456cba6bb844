package currency

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"rental/internal/config"
)

// StaticRates serves rates from the policy currency table.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

// NewStaticRates builds a provider from the policy currencies.
func NewStaticRates(currencies []config.CurrencyPolicy) (*StaticRates, error) {
	s := &StaticRates{rates: make(map[string]Rate, len(currencies))}
	for _, c := range currencies {
		value, err := c.RateValue()
		if err != nil {
			return nil, err
		}
		s.rates[c.Code] = Rate{
			Currency:      c.Code,
			Value:         value,
			Decimals:      c.RateDecimals,
			TokenDecimals: c.TokenDecimals,
		}
	}
	return s, nil
}

// Rate returns the configured rate for currency.
func (s *StaticRates) Rate(ctx context.Context, currency string) (Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[currency]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	rate.Value = new(big.Int).Set(rate.Value)
	return rate, nil
}

// Set replaces the rate for a currency.
func (s *StaticRates) Set(rate Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rate.Currency] = rate
}
