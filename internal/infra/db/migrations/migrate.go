package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
)

//go:embed sql/*.sql
var embedded embed.FS

const dir = "sql"

// FS exposes the migration files, e.g. for tests that apply them by hand.
func FS() fs.FS {
	sub, _ := fs.Sub(embedded, dir)
	return sub
}

// Up applies all pending migrations on db. The handle is left open.
func Up(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	source, err := iofs.New(FS(), ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// UpWithPool runs Up over a database/sql handle built from the pool's config.
func UpWithPool(pool *pgxpool.Pool) error {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()
	return Up(db)
}
