package postgres

import (
	"context"
	"database/sql"
	"errors"

	"rental/internal/domain"
	"rental/internal/repository"
)

// CarRepository is a PostgreSQL implementation of repository.CarRepository.
type CarRepository struct {
	db *sql.DB
}

// NewCarRepository creates a new CarRepository.
func NewCarRepository(db *sql.DB) *CarRepository {
	return &CarRepository{db: db}
}

// GetByID retrieves a car by ID.
func (r *CarRepository) GetByID(ctx context.Context, id int64) (*domain.Car, error) {
	query := `
		SELECT id, host, brand, model, year_of_production, price_per_day_in_fiat_cents,
			deposit_in_fiat_cents, listed, lat, lng
		FROM cars WHERE id = $1
	`

	var car domain.Car
	var lat, lng sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&car.ID,
		&car.Host,
		&car.Brand,
		&car.Model,
		&car.YearOfProduction,
		&car.PricePerDayInFiatCents,
		&car.DepositInFiatCents,
		&car.Listed,
		&lat,
		&lng,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		car.Location = domain.NewLocation(lat.Float64, lng.Float64)
	}
	return &car, nil
}

// Upsert inserts or replaces the catalog view of a car.
func (r *CarRepository) Upsert(ctx context.Context, car *domain.Car) error {
	query := `
		INSERT INTO cars (id, host, brand, model, year_of_production, price_per_day_in_fiat_cents,
			deposit_in_fiat_cents, listed, lat, lng, geohash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			brand = EXCLUDED.brand,
			model = EXCLUDED.model,
			year_of_production = EXCLUDED.year_of_production,
			price_per_day_in_fiat_cents = EXCLUDED.price_per_day_in_fiat_cents,
			deposit_in_fiat_cents = EXCLUDED.deposit_in_fiat_cents,
			listed = EXCLUDED.listed,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			geohash = EXCLUDED.geohash
	`

	var lat, lng sql.NullFloat64
	var geohash sql.NullString
	if car.Location != nil {
		lat = sql.NullFloat64{Float64: car.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: car.Location.Lng, Valid: true}
		geohash = sql.NullString{String: car.Location.Geohash, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		car.ID,
		car.Host,
		car.Brand,
		car.Model,
		car.YearOfProduction,
		car.PricePerDayInFiatCents,
		car.DepositInFiatCents,
		car.Listed,
		lat,
		lng,
		geohash,
	)
	return err
}
