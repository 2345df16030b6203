package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// MigrationStatus is the migration state of one schema.
type MigrationStatus struct {
	Schema  string `json:"schema"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

// Migrator applies versioned SQL files from source to tenant schemas.
type Migrator struct {
	databaseURL string
	source      fs.FS
}

func NewMigrator(databaseURL string, source fs.FS) *Migrator {
	return &Migrator{databaseURL: databaseURL, source: source}
}

// schemaURL points the connection's search_path at schema so unqualified
// table names in the migrations land there.
func schemaURL(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Migrator) open(schema string) (*migrate.Migrate, error) {
	dsn, err := schemaURL(m.databaseURL, schema)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{SchemaName: schema})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db driver: %w", err)
	}
	src, err := iofs.New(m.source, ".")
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("source driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return mg, nil
}

// Up applies all pending migrations. It reports whether anything changed.
func (m *Migrator) Up(schema string) (bool, error) {
	mg, err := m.open(schema)
	if err != nil {
		return false, err
	}
	defer func() { _, _ = mg.Close() }()

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("migrate up: %w", err)
	}
	return true, nil
}

// Down rolls back the given number of migrations.
func (m *Migrator) Down(schema string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	mg, err := m.open(schema)
	if err != nil {
		return err
	}
	defer func() { _, _ = mg.Close() }()

	if err := mg.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Status returns the applied version of schema. Version 0 means none.
func (m *Migrator) Status(schema string) (*MigrationStatus, error) {
	mg, err := m.open(schema)
	if err != nil {
		return nil, err
	}
	defer func() { _, _ = mg.Close() }()

	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &MigrationStatus{Schema: schema}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &MigrationStatus{Schema: schema, Version: v, Dirty: dirty}, nil
}
