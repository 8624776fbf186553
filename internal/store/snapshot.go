package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"meditrack/m/internal/database"
)

// serializer is implemented by the modernc sqlite driver connection.
type serializer interface {
	Serialize() ([]byte, error)
	Deserialize(buf []byte) error
}

// SnapshotStore runs the database entirely in memory. After every successful
// mutating call the whole database image is serialized and written to one
// blob, so each write costs O(database size). Foreign keys are not enforced.
//
// If saving the image fails the in-memory state is kept, the store is marked
// dirty and the next successful write, Flush or Close persists it again.
type SnapshotStore struct {
	db     *sqlx.DB
	blobs  BlobStore
	key    string
	logger *logrus.Logger

	mu     sync.Mutex
	dirty  bool
	closed bool
}

var _ Store = (*SnapshotStore)(nil)

// OpenSnapshot creates the in-memory database and restores the image stored
// under key, if any.
func OpenSnapshot(ctx context.Context, blobs BlobStore, key string, logger *logrus.Logger) (*SnapshotStore, error) {
	db, err := database.OpenMemory()
	if err != nil {
		return nil, err
	}
	s := &SnapshotStore{db: db, blobs: blobs, key: key, logger: logger}

	image, err := blobs.Load(ctx, key)
	switch {
	case errors.Is(err, ErrBlobNotFound):
		logger.WithField("key", key).Info("no stored database image, starting empty")
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("load database image %q: %w", key, err)
	default:
		if err := s.withDriverConn(ctx, func(c serializer) error { return c.Deserialize(image) }); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("restore database image %q: %w", key, err)
		}
		logger.WithFields(logrus.Fields{"key": key, "bytes": len(image)}).Info("restored database image")
	}
	return s, nil
}

func (s *SnapshotStore) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.GetContext(ctx, dest, query, args...)
}

func (s *SnapshotStore) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *SnapshotStore) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	_ = s.save(ctx)
	return res, nil
}

func (s *SnapshotStore) WithTx(ctx context.Context, fn func(Queryer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := runTx(ctx, s.db, fn); err != nil {
		return err
	}
	_ = s.save(ctx)
	return nil
}

// Flush writes the current image regardless of the dirty flag.
func (s *SnapshotStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx)
}

// Dirty reports whether the last save attempt failed.
func (s *SnapshotStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Close saves the image one last time and releases the database. Closing an
// already closed store does nothing.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.save(context.Background())
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func (s *SnapshotStore) save(ctx context.Context) error {
	var image []byte
	err := s.withDriverConn(ctx, func(c serializer) error {
		var serr error
		image, serr = c.Serialize()
		return serr
	})
	if err == nil {
		err = s.blobs.Save(ctx, s.key, image)
	}
	if err != nil {
		s.dirty = true
		s.logger.WithFields(logrus.Fields{
			"module": "store",
			"key":    s.key,
		}).Error("failed to persist database image: " + err.Error())
		return err
	}
	s.dirty = false
	return nil
}

func (s *SnapshotStore) withDriverConn(ctx context.Context, fn func(serializer) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(serializer)
		if !ok {
			return fmt.Errorf("sqlite driver connection %T cannot serialize", driverConn)
		}
		return fn(c)
	})
}
