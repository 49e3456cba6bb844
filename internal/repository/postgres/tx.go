package postgres

import (
	"context"
	"database/sql"

	"rental/internal/repository"
)

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	db *sql.DB
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Repositories returns repositories bound to the connection pool.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Trips:     NewTripRepository(s.db),
		Claims:    NewClaimRepository(s.db),
		Escrows:   NewEscrowRepository(s.db),
		Accounts:  NewAccountRepository(s.db),
		Referrals: NewReferralRepository(s.db),
	}
}

// WithinTx runs fn inside a transaction bound to all repositories.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	repos := repository.Repositories{
		Trips:     NewTripRepositoryWithTx(tx),
		Claims:    NewClaimRepositoryWithTx(tx),
		Escrows:   NewEscrowRepositoryWithTx(tx),
		Accounts:  NewAccountRepositoryWithTx(tx),
		Referrals: NewReferralRepositoryWithTx(tx),
	}
	if err = fn(ctx, repos); err != nil {
		return err
	}
	return tx.Commit()
}

var _ repository.Store = (*Store)(nil)
