package redis

import (
	"context"
	"log"

	"rental/internal/domain"
	"rental/internal/repository"
)

// CarCatalog is a read-through cache over the car repository. It keeps the
// geo index in step with every reported car.
type CarCatalog struct {
	cars      repository.CarRepository
	cache     *CacheStore
	locations *LocationStore
}

// NewCarCatalog creates a new CarCatalog.
func NewCarCatalog(cars repository.CarRepository, cache *CacheStore, locations *LocationStore) *CarCatalog {
	return &CarCatalog{cars: cars, cache: cache, locations: locations}
}

// GetByID returns a car, from cache when possible.
func (c *CarCatalog) GetByID(ctx context.Context, id int64) (*domain.Car, error) {
	if car, err := c.cache.GetCar(ctx, id); err == nil && car != nil {
		return car, nil
	}

	car, err := c.cars.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetCar(ctx, car); err != nil {
		log.Printf("failed to cache car %d: %v", id, err)
	}
	return car, nil
}

// Upsert stores a car reported by the catalog collaborator.
func (c *CarCatalog) Upsert(ctx context.Context, car *domain.Car) error {
	if err := c.cars.Upsert(ctx, car); err != nil {
		return err
	}
	if err := c.cache.InvalidateCar(ctx, car.ID); err != nil {
		log.Printf("failed to invalidate car %d: %v", car.ID, err)
	}

	if car.Location == nil || !car.Listed {
		if err := c.locations.RemoveLocation(ctx, car.ID); err != nil {
			log.Printf("failed to remove car %d from geo index: %v", car.ID, err)
		}
		return nil
	}
	if err := c.locations.UpdateLocation(ctx, car.ID, car.Location.Lat, car.Location.Lng); err != nil {
		log.Printf("failed to index car %d: %v", car.ID, err)
	}
	return nil
}
