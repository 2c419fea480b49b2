// Package store persists connection settings, folder snapshots, sync
// status, and API tokens in SQLite via sqlx.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrNotConfigured is returned when a user has no stored connection
// settings. It is a hard precondition failure, not a retryable error.
var ErrNotConfigured = errors.New("no connection settings configured")

// ErrNotAuthenticated is returned when a bearer token resolves to no
// known user.
var ErrNotAuthenticated = errors.New("not authenticated")

// SchemaError marks a failure caused by missing storage structures.
// The remediation is a schema migration, not a retry, so callers must
// be able to tell it apart from transient I/O errors.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("storage schema incomplete: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// classifyErr wraps SQLite "no such table/column" failures in a
// SchemaError and passes everything else through.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") {
		return &SchemaError{Err: err}
	}
	return err
}

// Store wraps the SQLite database holding all per-user sync state.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at dbPath, enables WAL mode, and
// applies any pending schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite db")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling foreign keys")
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return errors.Wrap(err, "checking schema_version table")
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return errors.Wrap(err, "reading schema version")
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return errors.Wrapf(err, "applying migration v%d", m.version)
		}
	}

	return nil
}
