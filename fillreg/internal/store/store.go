// Package store provides the SQLite persistence layer for fillreg.
package store

import (
	"database/sql"
	"errors"

	"github.com/hazyhaar/fillreg/dbopen"
)

// ErrConflict is returned by ApplyAggregate when the profile row changed
// between the aggregation read and the upsert. The caller retries the unit
// with a fresh read.
var ErrConflict = errors.New("store: profile version conflict")

// Store is the fillreg database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the fillreg SQLite database at path and applies
// the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
