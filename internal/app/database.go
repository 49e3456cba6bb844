package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"rental/internal/config"
	"rental/internal/repository/postgres"
)

// Database is the PostgreSQL handle together with the repositories built on it.
type Database struct {
	DB    *sql.DB
	Store *postgres.Store
	Roles *postgres.RoleRepository
	Cars  *postgres.CarRepository
}

// OpenDatabase connects to PostgreSQL, applies pending migrations when
// cfg.AutoMigrate is set and builds the repositories. With nrApp set every
// query goes through the instrumented nrpostgres driver.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*Database, error) {
	driver := "postgres"
	if nrApp != nil {
		driver = "nrpostgres"
	}

	db, err := sql.Open(driver, databaseDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driver, err)
	}

	// Every trip transition holds row locks for the whole unit of work, so the
	// pool bounds how many transitions run at once.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Database{
		DB:    db,
		Store: postgres.NewStore(db),
		Roles: postgres.NewRoleRepository(db),
		Cars:  postgres.NewCarRepository(db),
	}, nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	return d.DB.Close()
}

func databaseDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
}
