package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Schema is the DDL of one store family plus its version. Versions only
// grow; DDL must be idempotent (CREATE ... IF NOT EXISTS).
type Schema struct {
	Name    string
	Version int
	DDL     string
}

// DB wraps a sql.DB with flowtrace-specific helpers.
type DB struct {
	*sql.DB
	path   string
	schema Schema
}

// Open creates or opens a SQLite database at the given path and applies
// the schema.
func Open(path string, schema Schema) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path, schema: schema}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running %s migrations: %w", schema.Name, err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
func OpenMemory(schema Schema) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	// Each new connection to :memory: is a fresh database.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:", schema: schema}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running %s migrations: %w", schema.Name, err)
	}

	return d, nil
}

// Path returns the file the database lives in, or ":memory:".
func (d *DB) Path() string { return d.path }

// SchemaName returns the name of the applied schema.
func (d *DB) SchemaName() string { return d.schema.Name }

// migrate applies the DDL and records the schema version.
func (d *DB) migrate() error {
	var current int
	if err := d.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current > d.schema.Version {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, d.schema.Version)
	}
	if _, err := d.Exec(d.schema.DDL); err != nil {
		return err
	}
	if current < d.schema.Version {
		if _, err := d.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, d.schema.Version)); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
	}
	return nil
}

// Version returns the schema version recorded in the database.
func (d *DB) Version(ctx context.Context) (int, error) {
	var v int
	err := d.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v)
	return v, err
}

// LogicalSize returns the bytes occupied by live pages. Unlike the file
// size it shrinks as soon as rows are deleted, before Compact runs.
func (d *DB) LogicalSize(ctx context.Context) (int64, error) {
	var pages, free, pageSize int64
	if err := d.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, fmt.Errorf("reading page count: %w", err)
	}
	if err := d.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&free); err != nil {
		return 0, fmt.Errorf("reading freelist count: %w", err)
	}
	if err := d.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("reading page size: %w", err)
	}
	return (pages - free) * pageSize, nil
}

// Compact rebuilds the database file, returning free pages to the OS.
func (d *DB) Compact(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuuming %s: %w", d.schema.Name, err)
	}
	return nil
}

// IsMissingTable reports whether err is SQLite's "no such table" error.
func IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
