package storage

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFS embed.FS

// Migration directions.
const (
	Up   = "up"
	Down = "down"
)

// Migrate applies the embedded schema migrations for the driver in the given
// direction. A schema already at the target version is not an error.
// Postgres DSNs must be URLs.
func Migrate(driver, dsn, direction string) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	url, dir, err := migrationTarget(driver, dsn)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == Up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate %s: %w", direction, err)
	}
	return nil
}

// migrationTarget maps a database/sql driver and DSN to the migrate URL and
// the embedded migration directory.
func migrationTarget(driver, dsn string) (string, string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", "", errors.New("database dsn is required")
	}
	switch driver {
	case DriverPostgres:
		if !hasScheme(dsn, "postgres://", "postgresql://") {
			return "", "", fmt.Errorf("postgres dsn must be a postgres:// URL")
		}
		return dsn, "migrations/postgres", nil
	case DriverPgx:
		for _, scheme := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, scheme) {
				return "pgx5://" + strings.TrimPrefix(dsn, scheme), "migrations/postgres", nil
			}
		}
		if strings.HasPrefix(dsn, "pgx5://") {
			return dsn, "migrations/postgres", nil
		}
		return "", "", fmt.Errorf("pgx dsn must be a postgres:// URL")
	case DriverSQLite:
		return "sqlite3://" + sqliteDSN(strings.TrimPrefix(dsn, "sqlite3://")), "migrations/sqlite3", nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func hasScheme(dsn string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(dsn, s) {
			return true
		}
	}
	return false
}
