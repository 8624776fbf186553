package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"meditrack/m/internal/database"
)

// FileStore passes every statement straight to a file-backed database.
// Writes are durable at the engine's commit granularity.
type FileStore struct {
	db *sqlx.DB
}

var _ Store = (*FileStore)(nil)

// OpenFile opens (creating if needed) the database file at path.
func OpenFile(path string) (*FileStore, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{db: db}, nil
}

func (s *FileStore) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.GetContext(ctx, dest, query, args...)
}

func (s *FileStore) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *FileStore) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *FileStore) WithTx(ctx context.Context, fn func(Queryer) error) error {
	return runTx(ctx, s.db, fn)
}

func (s *FileStore) Close() error {
	return s.db.Close()
}
