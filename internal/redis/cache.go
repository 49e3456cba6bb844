package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rental/internal/domain"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	TripCacheTTL = 60 * time.Second // Invalidated on every transition anyway
	CarCacheTTL  = 5 * time.Minute  // Cars change only when the catalog reports an edit
)

// Key prefixes
const (
	tripCachePrefix = "cache:trip:"
	carCachePrefix  = "cache:car:"
)

func tripKey(id int64) string {
	return fmt.Sprintf("%s%d", tripCachePrefix, id)
}

func carKey(id int64) string {
	return fmt.Sprintf("%s%d", carCachePrefix, id)
}

// GetTrip retrieves a trip from cache.
func (s *CacheStore) GetTrip(ctx context.Context, id int64) (*domain.Trip, error) {
	data, err := s.client.Get(ctx, tripKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var trip domain.Trip
	if err := json.Unmarshal(data, &trip); err != nil {
		return nil, err
	}
	return &trip, nil
}

// SetTrip stores a trip in cache.
func (s *CacheStore) SetTrip(ctx context.Context, trip *domain.Trip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tripKey(trip.ID), data, TripCacheTTL).Err()
}

// InvalidateTrip removes a trip from cache.
func (s *CacheStore) InvalidateTrip(ctx context.Context, id int64) error {
	return s.client.Del(ctx, tripKey(id)).Err()
}

// GetTripsBatch retrieves multiple trips from cache using pipeline.
// Returns a map of id -> trip, and a slice of missing IDs.
func (s *CacheStore) GetTripsBatch(ctx context.Context, ids []int64) (map[int64]*domain.Trip, []int64, error) {
	if len(ids) == 0 {
		return make(map[int64]*domain.Trip), nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[int64]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, tripKey(id))
	}

	// Exec reports redis.Nil when any key is missing; each command is inspected below.
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}

	result := make(map[int64]*domain.Trip, len(ids))
	var missing []int64
	for id, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}
		var trip domain.Trip
		if err := json.Unmarshal(data, &trip); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &trip
	}

	return result, missing, nil
}

// SetTripsBatch stores multiple trips in cache using pipeline.
func (s *CacheStore) SetTripsBatch(ctx context.Context, trips []*domain.Trip) error {
	if len(trips) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, trip := range trips {
		data, err := json.Marshal(trip)
		if err != nil {
			continue // Skip invalid entries
		}
		pipe.Set(ctx, tripKey(trip.ID), data, TripCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetCar retrieves a car from cache.
func (s *CacheStore) GetCar(ctx context.Context, id int64) (*domain.Car, error) {
	data, err := s.client.Get(ctx, carKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var car domain.Car
	if err := json.Unmarshal(data, &car); err != nil {
		return nil, err
	}
	return &car, nil
}

// SetCar stores a car in cache.
func (s *CacheStore) SetCar(ctx context.Context, car *domain.Car) error {
	data, err := json.Marshal(car)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, carKey(car.ID), data, CarCacheTTL).Err()
}

// InvalidateCar removes a car from cache.
func (s *CacheStore) InvalidateCar(ctx context.Context, id int64) error {
	return s.client.Del(ctx, carKey(id)).Err()
}
