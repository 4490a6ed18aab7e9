package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// migrationsTable records the applied schema version.
const migrationsTable = "schema_migrations"

var (
	errNoDB   = errors.New("migrator: database is required")
	errNoPool = errors.New("migrator: database pool not initialized")
)

// Migrator applies the SQL files under migrations/ to the pool behind a DB.
// golang-migrate needs database/sql, so the pool is borrowed through the pgx
// stdlib adapter for the lifetime of the Migrator.
type Migrator struct {
	m      *migrate.Migrate
	conn   *sql.DB
	source string
	logger zerolog.Logger
}

// NewMigrator reads migrations from a directory on disk.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	if err := usable(db); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errors.New("migrator: migrations directory is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrator: stat migrations directory: %w", err)
	}

	url := "file://" + dir
	return open(db, url, logger, func(conn *sql.DB) (*migrate.Migrate, error) {
		drv, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: migrationsTable})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithDatabaseInstance(url, "postgres", drv)
	})
}

// NewEmbeddedMigrator reads migrations from dir inside fsys, normally the
// set compiled into the binary.
func NewEmbeddedMigrator(db *DB, fsys fs.FS, dir string, logger zerolog.Logger) (*Migrator, error) {
	if err := usable(db); err != nil {
		return nil, err
	}
	if fsys == nil {
		return nil, errors.New("migrator: migrations filesystem is required")
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migrator: open embedded migrations: %w", err)
	}

	return open(db, "embedded", logger, func(conn *sql.DB) (*migrate.Migrate, error) {
		drv, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: migrationsTable})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, "postgres", drv)
	})
}

func usable(db *DB) error {
	switch {
	case db == nil:
		return errNoDB
	case db.pool == nil:
		return errNoPool
	}
	return nil
}

func open(db *DB, source string, logger zerolog.Logger, build func(*sql.DB) (*migrate.Migrate, error)) (*Migrator, error) {
	conn := stdlib.OpenDBFromPool(db.pool)
	m, err := build(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrator: init %s: %w", source, err)
	}
	return &Migrator{
		m:      m,
		conn:   conn,
		source: source,
		logger: logger.With().Str("migrations", source).Logger(),
	}, nil
}

// step runs op and treats "nothing to do" as success. Stepping past the last
// file surfaces from golang-migrate as a missing file.
func (mg *Migrator) step(name string, op func() error) error {
	err := op()
	switch {
	case err == nil:
		mg.logger.Info().Str("op", name).Msg("schema migrated")
		return nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		mg.logger.Info().Str("op", name).Msg("schema already current")
		return nil
	default:
		return fmt.Errorf("migrator: %s: %w", name, err)
	}
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	return mg.step("up", mg.m.Up)
}

// Down reverts every applied migration.
func (mg *Migrator) Down() error {
	mg.logger.Warn().Msg("reverting all migrations")
	return mg.step("down", mg.m.Down)
}

// Steps moves n migrations forward, or back when n is negative.
func (mg *Migrator) Steps(n int) error {
	return mg.step(fmt.Sprintf("steps(%d)", n), func() error { return mg.m.Steps(n) })
}

// Version reports the applied version. An empty schema reports 0.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force records version as applied and clears the dirty flag without running
// any SQL. Used to recover from a half-applied migration.
func (mg *Migrator) Force(version int) error {
	mg.logger.Warn().Int("version", version).Msg("forcing schema version")
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("migrator: force %d: %w", version, err)
	}
	return nil
}

// Close releases the migration source and the borrowed sql.DB. The pool
// itself stays open.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr, mg.conn.Close())
}
