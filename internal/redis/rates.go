package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"rental/internal/currency"
)

const rateCachePrefix = "cache:rate:"

type cachedRate struct {
	Value         string `json:"value"`
	Decimals      uint8  `json:"decimals"`
	TokenDecimals uint8  `json:"token_decimals"`
}

// RateCache serves exchange rates from Redis and refreshes them from the
// underlying provider once they are older than ttl.
type RateCache struct {
	client *redis.Client
	next   currency.RateProvider
	ttl    time.Duration
}

// NewRateCache creates a new RateCache.
func NewRateCache(client *redis.Client, next currency.RateProvider, ttl time.Duration) *RateCache {
	return &RateCache{client: client, next: next, ttl: ttl}
}

// Rate returns the rate for code.
func (c *RateCache) Rate(ctx context.Context, code string) (currency.Rate, error) {
	key := rateCachePrefix + code

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedRate
		if err := json.Unmarshal(data, &cached); err == nil {
			if value, ok := new(big.Int).SetString(cached.Value, 10); ok {
				return currency.Rate{
					Currency:      code,
					Value:         value,
					Decimals:      cached.Decimals,
					TokenDecimals: cached.TokenDecimals,
				}, nil
			}
		}
	} else if err != redis.Nil {
		log.Printf("rate cache read failed for %s: %v", code, err)
	}

	rate, err := c.next.Rate(ctx, code)
	if err != nil {
		return currency.Rate{}, err
	}

	data, err = json.Marshal(cachedRate{
		Value:         rate.Value.String(),
		Decimals:      rate.Decimals,
		TokenDecimals: rate.TokenDecimals,
	})
	if err != nil {
		return currency.Rate{}, fmt.Errorf("encode rate: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("rate cache write failed for %s: %v", code, err)
	}
	return rate, nil
}
