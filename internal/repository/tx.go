package repository

import "context"

// Repositories groups the repositories that take part in one unit of work.
type Repositories struct {
	Trips     TripRepository
	Claims    ClaimRepository
	Escrows   EscrowRepository
	Accounts  AccountRepository
	Referrals ReferralRepository
}

// Store gives access to repositories outside and inside a transaction.
type Store interface {
	// Repositories returns repositories bound to no transaction, for reads.
	Repositories() Repositories

	// WithinTx runs fn in one transaction. The transaction commits if fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
