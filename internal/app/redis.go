package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"rental/internal/config"
	"rental/internal/currency"
	internalRedis "rental/internal/redis"
	"rental/internal/repository"
)

// RedisStores are the entity locks, read caches and car geo index sharing one client.
type RedisStores struct {
	Client    *redis.Client
	Locks     *internalRedis.LockStore
	Cache     *internalRedis.CacheStore
	Locations *internalRedis.LocationStore
	rateTTL   time.Duration
}

// OpenRedis connects to Redis and builds the stores on top of the client.
// With nrApp set every command is reported as a datastore segment.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, locks config.LockConfig, nrApp *newrelic.Application) (*RedisStores, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if nrApp != nil {
		client.AddHook(nrRedisHook{})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStores{
		Client:    client,
		Locks:     internalRedis.NewLockStore(client, locks.TTL, locks.Wait),
		Cache:     internalRedis.NewCacheStore(client),
		Locations: internalRedis.NewLocationStore(client),
		rateTTL:   cfg.RateTTL,
	}, nil
}

// CarCatalog serves cars through the read cache and keeps the geo index in step.
func (s *RedisStores) CarCatalog(cars repository.CarRepository) *internalRedis.CarCatalog {
	return internalRedis.NewCarCatalog(cars, s.Cache, s.Locations)
}

// Rates caches the rates of next for the configured staleness window.
func (s *RedisStores) Rates(next currency.RateProvider) *internalRedis.RateCache {
	return internalRedis.NewRateCache(s.Client, next, s.rateTTL)
}

// Close closes the client.
func (s *RedisStores) Close() error {
	return s.Client.Close()
}

// nrRedisHook reports commands to the transaction in ctx, grouped by key family.
type nrRedisHook struct{}

func (nrRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (nrRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  cmd.Name(),
				Collection: keyFamily(cmd),
			}
			defer segment.End()
		}
		return next(ctx, cmd)
	}
}

func (nrRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil && len(cmds) > 0 {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  "pipeline",
				Collection: keyFamily(cmds[0]),
			}
			defer segment.End()
		}
		return next(ctx, cmds)
	}
}

// keyFamily names the key namespace a command touches: "lock", "cars",
// "idempotency", or "cache:<entity>" for the read caches.
func keyFamily(cmd redis.Cmder) string {
	args := cmd.Args()
	keyAt := 1
	switch cmd.Name() {
	case "eval", "evalsha":
		keyAt = 3 // script, numkeys, key
	}
	if len(args) <= keyAt {
		return "redis"
	}
	key, ok := args[keyAt].(string)
	if !ok || key == "" {
		return "redis"
	}

	parts := strings.SplitN(key, ":", 3)
	if parts[0] == "cache" && len(parts) > 1 {
		return parts[0] + ":" + parts[1]
	}
	return parts[0]
}
