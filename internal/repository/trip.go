package repository

import (
	"context"
	"time"

	"rental/internal/domain"
)

// TripDeadline selects the trip time an overdue listing compares against.
type TripDeadline int

const (
	ByStartTime TripDeadline = iota
	ByEndTime
)

// TripRepository defines the persistence operations for trips.
type TripRepository interface {
	// Create persists a new trip and assigns its ID.
	Create(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id int64) (*domain.Trip, error)

	// GetByIDForUpdate retrieves a trip by ID and locks its row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Trip, error)

	// Update updates an existing trip.
	Update(ctx context.Context, trip *domain.Trip) error

	// ListByParticipant retrieves the trips where address is the guest or the host.
	ListByParticipant(ctx context.Context, address string, limit int) ([]*domain.Trip, error)

	// ListActiveForCar retrieves non-terminal trips of a car overlapping [start, end).
	ListActiveForCar(ctx context.Context, carID int64, start, end time.Time) ([]*domain.Trip, error)

	// ListOverdue retrieves trips in any of the given statuses whose start or end
	// time is before cutoff, earliest first.
	ListOverdue(ctx context.Context, statuses []domain.TripStatus, by TripDeadline, cutoff time.Time, limit int) ([]*domain.Trip, error)
}
