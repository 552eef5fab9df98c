// Package store owns the shared storage plumbing internal/budget and
// internal/registry build their SQLStore implementations on top of: a
// single *sqlx.DB handle selected by internal/config.StorageConfig.Driver
// (sqlite for single-node deployments, postgres via pgx for clustered
// ones) and the versioned goose migration runner used by `sark migrate`
// in production. Each domain package's own SQLStore.Migrate remains the
// idempotent CREATE TABLE IF NOT EXISTS fallback for the sqlite dev path;
// this package is what the pgx path uses instead to persist the budget
// ledger and capability registry through a SQL-compatible store.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" database/sql driver

	"github.com/apathy-ca/sark/internal/config"
)

// driverAndDSN maps the config's driver name to the database/sql driver
// actually registered and the connection string it expects.
func driverAndDSN(cfg config.StorageConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		path := cfg.Path
		if path == "" {
			path = "./sark.db"
		}
		return "sqlite3", path, nil
	case "postgres", "pgx":
		if cfg.DSN == "" {
			return "", "", fmt.Errorf("store: storage.dsn is required for driver %q", cfg.Driver)
		}
		return "pgx", cfg.DSN, nil
	default:
		return "", "", fmt.Errorf("store: unknown storage driver %q", cfg.Driver)
	}
}

// Open returns a ready-to-use *sqlx.DB for cfg. Callers are responsible
// for calling budget.SQLStore.Migrate / registry.SQLStore.Migrate (sqlite
// dev path) or Migrate (postgres production path, below) before first use.
func Open(cfg config.StorageConfig) (*sqlx.DB, error) {
	driver, dsn, err := driverAndDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	return db, nil
}

// gooseDialect translates the store's driver name into the dialect name
// goose expects, which differs from the database/sql driver name for
// sqlite ("sqlite3" driver, "sqlite3" dialect — they happen to agree; pgx
// driver, "postgres" dialect — they don't).
func gooseDialect(driver string) string {
	if driver == "pgx" {
		return "postgres"
	}
	return driver
}

// Migrate applies every pending versioned migration under cfg.MigrateDir
// (default "./migrations") to the store cfg describes. This is the path
// `sark migrate` and clustered postgres deployments use; sqlite's default
// single-node deployment can skip it entirely since every SQLStore.Migrate
// self-heals its own schema on startup.
func Migrate(cfg config.StorageConfig) error {
	driver, dsn, err := driverAndDSN(cfg)
	if err != nil {
		return err
	}
	dir := cfg.MigrateDir
	if dir == "" {
		dir = "migrations"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", driver, err)
	}
	defer db.Close()

	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(db.DB, dir); err != nil {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}
