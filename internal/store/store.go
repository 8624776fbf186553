// Package store is the persistence adapter between the entity services and
// the embedded SQLite engine. Two interchangeable backends exist: FileStore
// writes straight to a database file, SnapshotStore keeps the database in
// memory and persists a full image to a BlobStore after every write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Queryer is the statement surface shared by a Store and an open transaction.
// GetContext returns sql.ErrNoRows when no row matches.
type Queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is a persistence backend.
type Store interface {
	Queryer
	// WithTx runs fn in one transaction. A non-nil error from fn rolls back
	// every statement fn issued.
	WithTx(ctx context.Context, fn func(Queryer) error) error
	Close() error
}

// InTx runs fn inside a transaction when q is a Store, or directly on q when
// q is already a transaction.
func InTx(ctx context.Context, q Queryer, fn func(Queryer) error) error {
	if s, ok := q.(Store); ok {
		return s.WithTx(ctx, fn)
	}
	return fn(q)
}

func runTx(ctx context.Context, db *sqlx.DB, fn func(Queryer) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// IsForeignKeyViolation reports whether err is a foreign key failure. Only
// the file backend enforces foreign keys.
func IsForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
