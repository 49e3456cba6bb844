package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"rental/internal/domain"
	"rental/internal/repository"
)

// ReferralRepository is a PostgreSQL implementation of repository.ReferralRepository.
type ReferralRepository struct {
	q Querier
}

// NewReferralRepository creates a new PostgreSQL referral repository.
func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{q: db}
}

// NewReferralRepositoryWithTx creates a referral repository using a transaction.
func NewReferralRepositoryWithTx(tx *sql.Tx) *ReferralRepository {
	return &ReferralRepository{q: tx}
}

const referralColumns = `address, referral_hash, referrer_hash, pending, hash_pending, claimed_points,
		spent_points, debt, occurrences, units, last_daily_claim, updated_at`

// Get retrieves the entry of address.
func (r *ReferralRepository) Get(ctx context.Context, address string) (*domain.ReferralRecord, error) {
	query := `SELECT ` + referralColumns + ` FROM referral_records WHERE address = $1`
	return r.getOne(ctx, query, address)
}

// GetForUpdate retrieves the entry of address and locks its row.
func (r *ReferralRepository) GetForUpdate(ctx context.Context, address string) (*domain.ReferralRecord, error) {
	query := `SELECT ` + referralColumns + ` FROM referral_records WHERE address = $1 FOR UPDATE`
	return r.getOne(ctx, query, address)
}

// GetOrCreateForUpdate locks the entry of address, creating an empty one first
// when the address has none.
func (r *ReferralRepository) GetOrCreateForUpdate(ctx context.Context, address string) (*domain.ReferralRecord, error) {
	insert := `INSERT INTO referral_records (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`
	if _, err := r.q.ExecContext(ctx, insert, address); err != nil {
		return nil, err
	}
	return r.GetForUpdate(ctx, address)
}

// GetByHash retrieves the entry owning a referral hash.
func (r *ReferralRepository) GetByHash(ctx context.Context, hash string) (*domain.ReferralRecord, error) {
	query := `SELECT ` + referralColumns + ` FROM referral_records WHERE referral_hash = $1`
	return r.getOne(ctx, query, hash)
}

func (r *ReferralRepository) getOne(ctx context.Context, query string, arg string) (*domain.ReferralRecord, error) {
	var record domain.ReferralRecord
	var referralHash sql.NullString
	var pending, hashPending, occurrences, units []byte
	var lastDaily sql.NullTime

	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&record.Address,
		&referralHash,
		&record.ReferrerHash,
		&pending,
		&hashPending,
		&record.ClaimedPoints,
		&record.SpentPoints,
		&record.Debt,
		&occurrences,
		&units,
		&lastDaily,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if referralHash.Valid {
		record.ReferralHash = referralHash.String
	}
	if lastDaily.Valid {
		record.LastDailyClaim = lastDaily.Time
	}

	for _, f := range []struct {
		data []byte
		dst  any
	}{
		{pending, &record.Pending},
		{hashPending, &record.HashPending},
		{occurrences, &record.Occurrences},
		{units, &record.Units},
	} {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, err
		}
	}

	normalizeRecord(&record)
	return &record, nil
}

func normalizeRecord(record *domain.ReferralRecord) {
	if record.Pending == nil {
		record.Pending = make(map[domain.EventKind]int64)
	}
	if record.HashPending == nil {
		record.HashPending = make(map[domain.EventKind]int64)
	}
	if record.Occurrences == nil {
		record.Occurrences = make(map[domain.EventKind]int64)
	}
	if record.Units == nil {
		record.Units = make(map[domain.EventKind][]string)
	}
}

// Save inserts or replaces an entry.
func (r *ReferralRepository) Save(ctx context.Context, record *domain.ReferralRecord) error {
	query := `
		INSERT INTO referral_records (` + referralColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (address) DO UPDATE SET
			referral_hash = EXCLUDED.referral_hash,
			referrer_hash = EXCLUDED.referrer_hash,
			pending = EXCLUDED.pending,
			hash_pending = EXCLUDED.hash_pending,
			claimed_points = EXCLUDED.claimed_points,
			spent_points = EXCLUDED.spent_points,
			debt = EXCLUDED.debt,
			occurrences = EXCLUDED.occurrences,
			units = EXCLUDED.units,
			last_daily_claim = EXCLUDED.last_daily_claim,
			updated_at = EXCLUDED.updated_at
	`

	var referralHash sql.NullString
	if record.ReferralHash != "" {
		referralHash = sql.NullString{String: record.ReferralHash, Valid: true}
	}
	var lastDaily sql.NullTime
	if !record.LastDailyClaim.IsZero() {
		lastDaily = sql.NullTime{Time: record.LastDailyClaim, Valid: true}
	}

	normalizeRecord(record)
	pending, err := json.Marshal(record.Pending)
	if err != nil {
		return err
	}
	hashPending, err := json.Marshal(record.HashPending)
	if err != nil {
		return err
	}
	occurrences, err := json.Marshal(record.Occurrences)
	if err != nil {
		return err
	}
	units, err := json.Marshal(record.Units)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query,
		record.Address,
		referralHash,
		record.ReferrerHash,
		pending,
		hashPending,
		record.ClaimedPoints,
		record.SpentPoints,
		record.Debt,
		occurrences,
		units,
		lastDaily,
		record.UpdatedAt,
	)
	return err
}
