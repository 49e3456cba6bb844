package repository

import (
	"context"

	"rental/internal/domain"
)

// ClaimRepository defines the persistence operations for claims.
type ClaimRepository interface {
	// Create persists a new claim and assigns its ID.
	Create(ctx context.Context, claim *domain.Claim) error

	GetByID(ctx context.Context, id int64) (*domain.Claim, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Claim, error)
	Update(ctx context.Context, claim *domain.Claim) error

	// ListByTrip retrieves the claims of a trip ordered by sequence.
	ListByTrip(ctx context.Context, tripID int64) ([]*domain.Claim, error)

	// ListByParticipant retrieves claims on trips where address is the guest or the host.
	ListByParticipant(ctx context.Context, address string, limit int) ([]*domain.Claim, error)
}
