// Package dbopen opens SQLite databases with the production pragmas every
// fillreg store relies on: WAL journaling, foreign keys on, a busy timeout,
// and synchronous NORMAL.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("fillreg.db", dbopen.WithSchema(schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type options struct {
	busyTimeoutMS int
	foreignKeys   bool
	mkdirAll      bool
	schemas       []string
}

// Option customises Open behaviour.
type Option func(*options)

// WithSchema queues DDL to execute after the pragmas are applied. May be
// given more than once; schemas run in order.
func WithSchema(ddl string) Option {
	return func(o *options) { o.schemas = append(o.schemas, ddl) }
}

// WithMkdirAll creates the parent directories of the database path.
func WithMkdirAll() Option {
	return func(o *options) { o.mkdirAll = true }
}

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds). Default: 10000.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMS = ms }
}

// WithoutForeignKeys disables PRAGMA foreign_keys.
func WithoutForeignKeys() Option {
	return func(o *options) { o.foreignKeys = false }
}

// Open opens (or creates) an SQLite database at path, applies the pragmas,
// runs any queued schemas, and verifies the connection with a ping. The
// caller must blank-import modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeoutMS: 10_000, foreignKeys: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	// Each connection to ":memory:" is a separate database; pin to one so
	// the pragmas and schema below land on the database callers will use.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	fk := "ON"
	if !o.foreignKeys {
		fk = "OFF"
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = " + fk,
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	for _, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: apply schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. The handle is closed
// via t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
