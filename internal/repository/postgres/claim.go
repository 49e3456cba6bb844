package postgres

import (
	"context"
	"database/sql"
	"errors"

	"rental/internal/domain"
	"rental/internal/repository"
)

// ClaimRepository is a PostgreSQL implementation of repository.ClaimRepository.
type ClaimRepository struct {
	q Querier
}

// NewClaimRepository creates a new PostgreSQL claim repository.
func NewClaimRepository(db *sql.DB) *ClaimRepository {
	return &ClaimRepository{q: db}
}

// NewClaimRepositoryWithTx creates a claim repository using a transaction.
func NewClaimRepositoryWithTx(tx *sql.Tx) *ClaimRepository {
	return &ClaimRepository{q: tx}
}

const claimColumns = `c.id, c.trip_id, c.trip_sequence, c.claim_type, c.description, c.photos_url,
		c.amount_in_fiat_cents, c.created_by, c.creator_role, c.status, c.deadline, c.created_at,
		c.resolved_at, c.resolved_by, c.paid_currency, c.paid_amount`

// Create persists a new claim and assigns its ID.
func (r *ClaimRepository) Create(ctx context.Context, claim *domain.Claim) error {
	query := `
		INSERT INTO claims (trip_id, trip_sequence, claim_type, description, photos_url,
			amount_in_fiat_cents, created_by, creator_role, status, deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	return r.q.QueryRowContext(ctx, query,
		claim.TripID,
		claim.TripSequence,
		int(claim.Type),
		claim.Description,
		claim.PhotosURL,
		claim.AmountInFiatCents,
		claim.CreatedBy,
		claim.CreatorRole,
		claim.Status,
		claim.Deadline,
		claim.CreatedAt,
	).Scan(&claim.ID)
}

// GetByID retrieves a claim by ID.
func (r *ClaimRepository) GetByID(ctx context.Context, id int64) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims c WHERE c.id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a claim by ID and locks its row.
func (r *ClaimRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims c WHERE c.id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *ClaimRepository) getOne(ctx context.Context, query string, id int64) (*domain.Claim, error) {
	claim, err := scanClaim(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return claim, nil
}

// Update updates the resolution fields of a claim.
func (r *ClaimRepository) Update(ctx context.Context, claim *domain.Claim) error {
	query := `
		UPDATE claims
		SET status = $2, resolved_at = $3, resolved_by = $4, paid_currency = $5, paid_amount = $6
		WHERE id = $1
	`

	var resolvedAt sql.NullTime
	if !claim.ResolvedAt.IsZero() {
		resolvedAt = sql.NullTime{Time: claim.ResolvedAt, Valid: true}
	}

	var paidAmount sql.NullString
	if claim.PaidAmount != nil {
		paidAmount = sql.NullString{String: numeric(claim.PaidAmount), Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		claim.ID,
		claim.Status,
		resolvedAt,
		claim.ResolvedBy,
		claim.PaidCurrency,
		paidAmount,
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

// ListByTrip retrieves the claims of a trip ordered by sequence.
func (r *ClaimRepository) ListByTrip(ctx context.Context, tripID int64) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims c WHERE c.trip_id = $1 ORDER BY c.trip_sequence`
	return r.list(ctx, query, tripID)
}

// ListByParticipant retrieves claims on trips where address is the guest or the host.
func (r *ClaimRepository) ListByParticipant(ctx context.Context, address string, limit int) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims c
		JOIN trips t ON t.id = c.trip_id
		WHERE t.guest = $1 OR t.host = $1
		ORDER BY c.id DESC LIMIT $2`
	return r.list(ctx, query, address, limit)
}

func (r *ClaimRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Claim, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}

	return claims, rows.Err()
}

func scanClaim(row rowScanner) (*domain.Claim, error) {
	var claim domain.Claim
	var claimType int
	var resolvedAt sql.NullTime
	var paidAmount sql.NullString

	if err := row.Scan(
		&claim.ID,
		&claim.TripID,
		&claim.TripSequence,
		&claimType,
		&claim.Description,
		&claim.PhotosURL,
		&claim.AmountInFiatCents,
		&claim.CreatedBy,
		&claim.CreatorRole,
		&claim.Status,
		&claim.Deadline,
		&claim.CreatedAt,
		&resolvedAt,
		&claim.ResolvedBy,
		&claim.PaidCurrency,
		&paidAmount,
	); err != nil {
		return nil, err
	}

	claim.Type = domain.ClaimType(claimType)
	if resolvedAt.Valid {
		claim.ResolvedAt = resolvedAt.Time
	}
	if paidAmount.Valid {
		amount, err := parseNumeric(paidAmount.String)
		if err != nil {
			return nil, err
		}
		claim.PaidAmount = amount
	}

	return &claim, nil
}
