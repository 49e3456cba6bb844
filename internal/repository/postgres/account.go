package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math/big"

	"rental/internal/domain"
)

// AccountRepository is a PostgreSQL implementation of repository.AccountRepository.
type AccountRepository struct {
	q Querier
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{q: db}
}

// NewAccountRepositoryWithTx creates an account repository using a transaction.
func NewAccountRepositoryWithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{q: tx}
}

// Credit adds amount to the balance of (address, currency).
func (r *AccountRepository) Credit(ctx context.Context, address, currency string, amount *big.Int) error {
	query := `
		INSERT INTO accounts (address, currency, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, currency)
		DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
	`

	_, err := r.q.ExecContext(ctx, query, address, currency, numeric(amount))
	return err
}

// Balance returns the balance of (address, currency).
func (r *AccountRepository) Balance(ctx context.Context, address, currency string) (*big.Int, error) {
	query := `SELECT balance FROM accounts WHERE address = $1 AND currency = $2`

	var balance string
	err := r.q.QueryRowContext(ctx, query, address, currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return parseNumeric(balance)
}

// RecordTransfer appends a journal entry.
func (r *AccountRepository) RecordTransfer(ctx context.Context, transfer *domain.Transfer) error {
	query := `
		INSERT INTO transfers (id, trip_id, claim_id, from_address, to_address, currency, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var claimID sql.NullInt64
	if transfer.ClaimID != 0 {
		claimID = sql.NullInt64{Int64: transfer.ClaimID, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		transfer.ID,
		transfer.TripID,
		claimID,
		transfer.From,
		transfer.To,
		transfer.Currency,
		numeric(transfer.Amount),
		transfer.Kind,
		transfer.CreatedAt,
	)
	return err
}

// ListTransfers retrieves the journal entries of a trip.
func (r *AccountRepository) ListTransfers(ctx context.Context, tripID int64) ([]*domain.Transfer, error) {
	query := `
		SELECT id, trip_id, claim_id, from_address, to_address, currency, amount, kind, created_at
		FROM transfers WHERE trip_id = $1 ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var claimID sql.NullInt64
		var amount string

		if err := rows.Scan(
			&t.ID,
			&t.TripID,
			&claimID,
			&t.From,
			&t.To,
			&t.Currency,
			&amount,
			&t.Kind,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}

		if claimID.Valid {
			t.ClaimID = claimID.Int64
		}
		if t.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		transfers = append(transfers, &t)
	}

	return transfers, rows.Err()
}
