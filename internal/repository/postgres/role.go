package postgres

import (
	"context"
	"database/sql"

	"rental/internal/domain"
)

// RoleRepository implements repository.RoleRepository using PostgreSQL.
type RoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// HasRole reports whether address holds role.
func (r *RoleRepository) HasRole(ctx context.Context, address string, role domain.Role) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM user_roles WHERE address = $1 AND role = $2)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, address, role).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Grant adds role to address.
func (r *RoleRepository) Grant(ctx context.Context, address string, role domain.Role) error {
	query := `INSERT INTO user_roles (address, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, address, role)
	return err
}

// IsHost reports whether address may act as a host.
func (r *RoleRepository) IsHost(ctx context.Context, address string) (bool, error) {
	return r.HasRole(ctx, address, domain.RoleHost)
}

// IsGuest reports whether address may act as a guest.
func (r *RoleRepository) IsGuest(ctx context.Context, address string) (bool, error) {
	return r.HasRole(ctx, address, domain.RoleGuest)
}

// IsManager reports whether address may act as a manager.
func (r *RoleRepository) IsManager(ctx context.Context, address string) (bool, error) {
	return r.HasRole(ctx, address, domain.RoleManager)
}
