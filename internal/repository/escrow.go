package repository

import (
	"context"
	"math/big"
	"time"

	"rental/internal/domain"
)

// EscrowRepository defines the persistence operations for trip escrows.
type EscrowRepository interface {
	Create(ctx context.Context, escrow *domain.Escrow) error
	GetByTripID(ctx context.Context, tripID int64) (*domain.Escrow, error)
	GetByTripIDForUpdate(ctx context.Context, tripID int64) (*domain.Escrow, error)
	Update(ctx context.Context, escrow *domain.Escrow) error

	// ListReleasable retrieves escrows holding a deposit whose trip has no claim
	// still open at now, oldest first.
	ListReleasable(ctx context.Context, now time.Time, limit int) ([]*domain.Escrow, error)
}

// AccountRepository holds payable balances and the transfer journal.
type AccountRepository interface {
	// Credit adds amount to the balance of (address, currency).
	Credit(ctx context.Context, address, currency string, amount *big.Int) error

	// Balance returns the balance of (address, currency), zero if unknown.
	Balance(ctx context.Context, address, currency string) (*big.Int, error)

	// RecordTransfer appends a journal entry.
	RecordTransfer(ctx context.Context, transfer *domain.Transfer) error

	// ListTransfers retrieves the journal entries of a trip.
	ListTransfers(ctx context.Context, tripID int64) ([]*domain.Transfer, error)
}
