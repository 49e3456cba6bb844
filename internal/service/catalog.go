package service

import (
	"context"
	"errors"
	"log"
	"time"

	"rental/internal/domain"
	"rental/internal/repository"
)

const (
	defaultSearchRadiusMiles = 10.0
	maxSearchRadiusMiles     = 100.0
	defaultSearchLimit       = 20
)

// CatalogService records what the car catalog and identity collaborators
// report, and answers car searches for guests.
type CatalogService struct {
	cars    repository.CarRepository
	grants  repository.RoleRepository
	roles   RoleChecker
	locator CarLocator
	store   repository.Store
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(
	cars repository.CarRepository,
	grants repository.RoleRepository,
	roles RoleChecker,
	locator CarLocator,
	store repository.Store,
) *CatalogService {
	return &CatalogService{
		cars:    cars,
		grants:  grants,
		roles:   roles,
		locator: locator,
		store:   store,
	}
}

// SearchRequest contains the parameters for finding cars around a point.
type SearchRequest struct {
	Lat         float64
	Lng         float64
	RadiusMiles float64 // Optional: 0 uses default
	// StartDateTime and EndDateTime, when both set, drop cars booked in that window.
	StartDateTime time.Time
	EndDateTime   time.Time
	Limit         int
}

// CarMatch is a listed car near the searched point.
type CarMatch struct {
	Car   *domain.Car
	Miles float64
}

// SearchNearby returns listed cars around a point, nearest first.
func (s *CatalogService) SearchNearby(ctx context.Context, req SearchRequest) ([]CarMatch, error) {
	at := domain.Location{Lat: req.Lat, Lng: req.Lng}
	if !at.IsValid() {
		return nil, ErrInvalidLocation
	}
	window := !req.StartDateTime.IsZero() && !req.EndDateTime.IsZero()
	if window && !req.EndDateTime.After(req.StartDateTime) {
		return nil, ErrInvalidTripWindow
	}

	radius := req.RadiusMiles
	if radius <= 0 {
		radius = defaultSearchRadiusMiles
	}
	radius = min(radius, maxSearchRadiusMiles)
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultSearchLimit
	}

	nearby, err := s.locator.FindNearbyCars(ctx, req.Lat, req.Lng, radius)
	if err != nil {
		return nil, err
	}

	trips := s.store.Repositories().Trips
	matches := make([]CarMatch, 0, min(limit, len(nearby)))
	for _, hit := range nearby {
		if len(matches) == limit {
			break
		}

		car, err := s.cars.GetByID(ctx, hit.CarID)
		if errors.Is(err, repository.ErrNotFound) {
			continue // Index entry outlived the car.
		}
		if err != nil {
			return nil, err
		}
		if !car.Listed {
			continue
		}

		if window {
			booked, err := trips.ListActiveForCar(ctx, car.ID, req.StartDateTime, req.EndDateTime)
			if err != nil {
				return nil, err
			}
			if len(booked) > 0 {
				continue
			}
		}
		matches = append(matches, CarMatch{Car: car, Miles: hit.Miles})
	}

	return matches, nil
}

// ReportCar stores a car as listed by the catalog collaborator.
func (s *CatalogService) ReportCar(ctx context.Context, caller string, car *domain.Car) error {
	if err := s.requireManager(ctx, caller); err != nil {
		return err
	}
	if car.Host == "" {
		return ErrInvalidAddress
	}
	if car.PricePerDayInFiatCents < 0 || car.DepositInFiatCents < 0 {
		return ErrInvalidCarPrice
	}
	if car.Location != nil && !car.Location.IsValid() {
		return ErrInvalidLocation
	}

	if err := s.cars.Upsert(ctx, car); err != nil {
		return err
	}
	log.Printf("[CATALOG] car=%d host=%s listed=%t price=%d", car.ID, car.Host, car.Listed, car.PricePerDayInFiatCents)
	return nil
}

// GrantRole records a role granted by the identity collaborator.
func (s *CatalogService) GrantRole(ctx context.Context, caller, address string, role domain.Role) error {
	if err := s.requireManager(ctx, caller); err != nil {
		return err
	}
	if address == "" {
		return ErrInvalidAddress
	}
	if role != domain.RoleHost && role != domain.RoleGuest && role != domain.RoleManager {
		return ErrForbidden
	}
	return s.grants.Grant(ctx, address, role)
}

func (s *CatalogService) requireManager(ctx context.Context, caller string) error {
	ok, err := s.roles.IsManager(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
