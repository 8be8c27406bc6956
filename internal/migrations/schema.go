package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB, log *logger.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	currentVersion := uint(0)
	if v, dirty, verr := m.Version(); verr == nil {
		currentVersion = v
		log.Infow("migrations: current schema version", "version", v, "dirty", dirty)
	} else if errors.Is(verr, migrate.ErrNilVersion) {
		log.Infow("migrations: no existing migration version (fresh database)")
	} else {
		log.Warnw("migrations: unable to determine current version", "error", verr)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Infow("migrations: database is up to date", "version", currentVersion)
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.Infow("migrations: applied", "version", v)
	} else {
		log.Warnw("migrations: applied migrations but failed to read new version", "error", err)
	}

	return nil
}

// Version reports the applied schema version. A fresh database reports 0.
func Version(db *sql.DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: read version: %w", err)
	}
	return v, dirty, nil
}

// Force sets the recorded version without running migrations, clearing the dirty flag
// left by a failed run.
func Force(db *sql.DB, version int) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", version, err)
	}
	return nil
}

// Steps applies n migrations forward, or rolls back |n| when n is negative.
func Steps(db *sql.DB, n int) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: step %d: %w", n, err)
	}
	return nil
}

// FixDirty rolls the recorded version back to the last migration known to have
// completed when a previous run left the schema dirty. It is a no-op on a clean schema.
func FixDirty(db *sql.DB, log *logger.Logger) error {
	v, dirty, err := Version(db)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	target := int(v) - 1
	if target < 1 {
		target = database.NilVersion
	}
	log.Warnw("migrations: dirty schema, forcing previous version", "dirty_version", v, "forced_version", target)
	return Force(db, target)
}
