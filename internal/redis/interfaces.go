package redis

import (
	"context"
	"time"

	"rental/internal/currency"
	"rental/internal/domain"
	"rental/internal/repository"
	"rental/internal/service"
)

// LocationStoreInterface defines the interface for car location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, carID int64, lat, lng float64) error
	DistanceMiles(ctx context.Context, car *domain.Car, to *domain.Location) (float64, error)
	FindNearbyCars(ctx context.Context, lat, lng, radiusMiles float64) ([]service.NearbyCar, error)
	RemoveLocation(ctx context.Context, carID int64) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface    = (*LocationStore)(nil)
	_ LockStoreInterface        = (*LockStore)(nil)
	_ service.Locker            = (*LockStore)(nil)
	_ service.LeaderLock        = (*LockStore)(nil)
	_ service.TripCache         = (*CacheStore)(nil)
	_ service.DistanceEstimator = (*LocationStore)(nil)
	_ service.CarLocator        = (*LocationStore)(nil)
	_ currency.RateProvider     = (*RateCache)(nil)
	_ service.CarCatalog        = (*CarCatalog)(nil)
	_ repository.CarRepository  = (*CarCatalog)(nil)
)
