package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate применяет недостающие миграции схемы content_blocks и system_logs.
func Migrate(pool *pgxpool.Pool, logger zerolog.Logger) error {
	if pool == nil {
		return fmt.Errorf("migrate: pool is nil")
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: source: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate: driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("migrate: схема актуальна")
			return nil
		}
		return fmt.Errorf("migrate: up: %w", err)
	}
	version, _, _ := m.Version()
	logger.Info().Uint("version", version).Msg("migrate: миграции применены")
	return nil
}
