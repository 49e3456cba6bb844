package repository

import (
	"context"

	"rental/internal/domain"
)

// ReferralRepository defines the persistence operations for referral ledger entries.
type ReferralRepository interface {
	// Get retrieves the entry of address.
	Get(ctx context.Context, address string) (*domain.ReferralRecord, error)

	// GetForUpdate retrieves the entry of address and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, address string) (*domain.ReferralRecord, error)

	// GetOrCreateForUpdate locks the entry of address, creating an empty one first
	// when the address has none.
	GetOrCreateForUpdate(ctx context.Context, address string) (*domain.ReferralRecord, error)

	// GetByHash retrieves the entry owning a referral hash.
	GetByHash(ctx context.Context, hash string) (*domain.ReferralRecord, error)

	// Save inserts or replaces an entry.
	Save(ctx context.Context, record *domain.ReferralRecord) error
}
