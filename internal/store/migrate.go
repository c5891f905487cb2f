package store

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations for the URL's backend.
func Migrate(databaseURL string) error {
	dir, target, err := migrationTarget(databaseURL)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrationTarget maps a database URL to its migration directory and the
// URL golang-migrate expects.
func migrationTarget(databaseURL string) (string, string, error) {
	switch {
	case isSQLite(databaseURL):
		return "migrations/sqlite", databaseURL, nil
	case isPostgres(databaseURL):
		_, rest, _ := strings.Cut(databaseURL, "://")
		return "migrations/postgres", "pgx5://" + rest, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(databaseURL))
}
