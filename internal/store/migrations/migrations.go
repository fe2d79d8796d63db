// Package migrations holds the versioned Postgres schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	sourceName    = "iofs"
	sourceDir     = "sql"
	pgxScheme     = "pgx5://"
	postgresURL   = "postgres://"
	postgresqlURL = "postgresql://"
)

//go:embed sql/*.sql
var files embed.FS

// ErrUnsupportedURL reports a database URL that is not Postgres.
var ErrUnsupportedURL = errors.New("migrations: only postgres urls are supported")

// Runner applies the embedded migrations to one database.
type Runner struct {
	migrator *migrate.Migrate
}

// NewRunner opens a migration session against databaseURL.
func NewRunner(databaseURL string) (*Runner, error) {
	driverURL, err := DriverURL(databaseURL)
	if err != nil {
		return nil, err
	}
	source, err := iofs.New(files, sourceDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open source: %w", err)
	}
	migrator, err := migrate.NewWithSourceInstance(sourceName, source, driverURL)
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	return &Runner{migrator: migrator}, nil
}

// Up applies all pending migrations. It reports false when the schema was already current.
func (runner *Runner) Up() (bool, error) {
	err := runner.migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migrations: up: %w", err)
	}
	return true, nil
}

// Down rolls back the given number of migrations.
func (runner *Runner) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrations: steps must be positive, got %d", steps)
	}
	if err := runner.migrator.Steps(-steps); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Version returns the applied version and whether the last migration left the schema dirty.
func (runner *Runner) Version() (uint, bool, error) {
	version, dirty, err := runner.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the source and database handles.
func (runner *Runner) Close() error {
	sourceErr, databaseErr := runner.migrator.Close()
	return errors.Join(sourceErr, databaseErr)
}

// DriverURL rewrites a postgres URL to the scheme registered by the pgx v5 driver.
func DriverURL(databaseURL string) (string, error) {
	trimmed := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(trimmed, pgxScheme):
		return trimmed, nil
	case strings.HasPrefix(trimmed, postgresURL):
		return pgxScheme + strings.TrimPrefix(trimmed, postgresURL), nil
	case strings.HasPrefix(trimmed, postgresqlURL):
		return pgxScheme + strings.TrimPrefix(trimmed, postgresqlURL), nil
	default:
		return "", ErrUnsupportedURL
	}
}
