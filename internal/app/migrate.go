package app

import (
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"rental/internal/config"
)

// MigrationDSN builds the URL form of the database address expected by migrate.
func MigrationDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + cfg.SSLMode,
	}
	return u.String()
}

// RunMigrations applies every pending migration from cfg.MigrationsPath.
func RunMigrations(cfg config.DatabaseConfig) error {
	m, err := migrate.New(cfg.MigrationsPath, MigrationDSN(cfg))
	if err != nil {
		return fmt.Errorf("failed to start migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	log.Printf("Migrations applied: version=%d dirty=%t", version, dirty)
	return nil
}
