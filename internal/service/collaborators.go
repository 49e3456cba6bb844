package service

import (
	"context"
	"math/big"

	"rental/internal/currency"
	"rental/internal/domain"
)

// RoleChecker answers capability checks against the external role registry.
type RoleChecker interface {
	IsHost(ctx context.Context, address string) (bool, error)
	IsGuest(ctx context.Context, address string) (bool, error)
	IsManager(ctx context.Context, address string) (bool, error)
}

// CarCatalog supplies car pricing and availability.
type CarCatalog interface {
	GetByID(ctx context.Context, id int64) (*domain.Car, error)
}

// DistanceEstimator measures the distance from a car to a delivery point.
type DistanceEstimator interface {
	DistanceMiles(ctx context.Context, car *domain.Car, to *domain.Location) (float64, error)
}

// NearbyCar is a hit from the car geo index.
type NearbyCar struct {
	CarID int64
	Miles float64
}

// CarLocator finds indexed cars within a radius, nearest first.
type CarLocator interface {
	FindNearbyCars(ctx context.Context, lat, lng, radiusMiles float64) ([]NearbyCar, error)
}

// TokenConverter converts fiat cents into a settlement token amount.
type TokenConverter interface {
	ToTokenAmount(ctx context.Context, cents int64, currency string) (*big.Int, currency.Rate, error)
}

// TripCache is a read-through cache for trips.
type TripCache interface {
	GetTrip(ctx context.Context, id int64) (*domain.Trip, error)
	SetTrip(ctx context.Context, trip *domain.Trip) error
	InvalidateTrip(ctx context.Context, id int64) error
}

var _ TokenConverter = (*currency.Converter)(nil)
