package repository

import (
	"context"

	"rental/internal/domain"
)

// CarRepository holds the catalog view of cars reported by the car collaborator.
type CarRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Car, error)
	Upsert(ctx context.Context, car *domain.Car) error
}

// RoleRepository holds role grants reported by the identity collaborator.
type RoleRepository interface {
	HasRole(ctx context.Context, address string, role domain.Role) (bool, error)
	Grant(ctx context.Context, address string, role domain.Role) error
}
