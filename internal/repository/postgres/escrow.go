package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rental/internal/domain"
	"rental/internal/repository"
)

// EscrowRepository is a PostgreSQL implementation of repository.EscrowRepository.
type EscrowRepository struct {
	q Querier
}

// NewEscrowRepository creates a new PostgreSQL escrow repository.
func NewEscrowRepository(db *sql.DB) *EscrowRepository {
	return &EscrowRepository{q: db}
}

// NewEscrowRepositoryWithTx creates an escrow repository using a transaction.
func NewEscrowRepositoryWithTx(tx *sql.Tx) *EscrowRepository {
	return &EscrowRepository{q: tx}
}

const escrowColumns = `trip_id, currency, amount, remaining, held_deposit, guest, status, created_at, updated_at`

// Create persists a new escrow.
func (r *EscrowRepository) Create(ctx context.Context, escrow *domain.Escrow) error {
	query := `
		INSERT INTO escrows (` + escrowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		escrow.TripID,
		escrow.Currency,
		numeric(escrow.Amount),
		numeric(escrow.Remaining),
		numeric(escrow.HeldDeposit),
		escrow.Guest,
		escrow.Status,
		escrow.CreatedAt,
		escrow.UpdatedAt,
	)
	return err
}

// GetByTripID retrieves the escrow of a trip.
func (r *EscrowRepository) GetByTripID(ctx context.Context, tripID int64) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE trip_id = $1`
	return r.getOne(ctx, query, tripID)
}

// GetByTripIDForUpdate retrieves the escrow of a trip and locks its row.
func (r *EscrowRepository) GetByTripIDForUpdate(ctx context.Context, tripID int64) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE trip_id = $1 FOR UPDATE`
	return r.getOne(ctx, query, tripID)
}

func (r *EscrowRepository) getOne(ctx context.Context, query string, tripID int64) (*domain.Escrow, error) {
	escrow, err := scanEscrow(r.q.QueryRowContext(ctx, query, tripID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return escrow, nil
}

// Update updates the held amounts and status of an escrow.
func (r *EscrowRepository) Update(ctx context.Context, escrow *domain.Escrow) error {
	query := `
		UPDATE escrows
		SET remaining = $2, held_deposit = $3, status = $4, updated_at = $5
		WHERE trip_id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		escrow.TripID,
		numeric(escrow.Remaining),
		numeric(escrow.HeldDeposit),
		escrow.Status,
		escrow.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListReleasable retrieves escrows holding a deposit whose trip has no claim
// still open at now, oldest first.
func (r *EscrowRepository) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows e
		WHERE e.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM claims c
			WHERE c.trip_id = e.trip_id AND c.status = $2 AND c.deadline >= $3
		  )
		ORDER BY e.updated_at ASC LIMIT $4`

	rows, err := r.q.QueryContext(ctx, query, domain.EscrowStatusDepositHeld, domain.ClaimStatusCreated, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []*domain.Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, escrow)
	}

	return escrows, rows.Err()
}

func scanEscrow(row rowScanner) (*domain.Escrow, error) {
	var escrow domain.Escrow
	var amount, remaining, held string

	if err := row.Scan(
		&escrow.TripID,
		&escrow.Currency,
		&amount,
		&remaining,
		&held,
		&escrow.Guest,
		&escrow.Status,
		&escrow.CreatedAt,
		&escrow.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if escrow.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if escrow.Remaining, err = parseNumeric(remaining); err != nil {
		return nil, err
	}
	if escrow.HeldDeposit, err = parseNumeric(held); err != nil {
		return nil, err
	}

	return &escrow, nil
}
