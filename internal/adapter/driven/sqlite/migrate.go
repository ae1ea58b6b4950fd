package sqlite

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// schemaTable records the applied fitsync schema version.
const schemaTable = "fitsync_schema_version"

// Migrate brings the schema up to the newest embedded version through the
// writer connection and returns that version. A database left dirty by an
// interrupted migration is reported, not repaired.
func (db *DB) Migrate(logger *slog.Logger) (uint, error) {
	if logger == nil {
		logger = slog.Default()
	}

	src, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open embedded schema: %w", err)
	}
	target, err := migratesqlite.WithInstance(db.Writer, &migratesqlite.Config{MigrationsTable: schemaTable})
	if err != nil {
		return 0, fmt.Errorf("attach schema driver to %s: %w", db.path, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return 0, fmt.Errorf("prepare schema migration: %w", err)
	}

	from, err := schemaVersion(m)
	if err != nil {
		return 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return from, fmt.Errorf("migrate %s from version %d: %w", db.path, from, err)
	}

	to, err := schemaVersion(m)
	if err != nil {
		return from, err
	}
	if to != from {
		logger.Info("schema migrated", "db", db.path, "from", from, "to", to)
	}
	return to, nil
}

// schemaVersion is the applied version, 0 for a fresh database.
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("schema version %d is dirty; a previous migration did not finish", v)
	}
	return v, nil
}
