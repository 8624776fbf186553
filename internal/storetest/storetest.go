// Package storetest opens initialized databases for package tests.
package storetest

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"meditrack/m/internal/migrations"
	"meditrack/m/internal/seed"
	"meditrack/m/internal/store"
)

// Logger returns a logger that discards everything.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Open returns a migrated and seeded file store living in a temporary
// directory. It is closed when the test ends.
func Open(t testing.TB) *store.FileStore {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "meditrack.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	prepare(t, st)
	return st
}

// OpenSnapshot opens the snapshot store saved under dir, migrating and
// seeding it the way the server does at boot. Opening the same dir again
// restores the last saved image. The store is closed when the test ends;
// closing it earlier is fine.
func OpenSnapshot(t testing.TB, dir string) *store.SnapshotStore {
	t.Helper()
	blobs, err := store.NewDirBlobs(dir)
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}
	st, err := store.OpenSnapshot(context.Background(), blobs, "meditrack_db", Logger())
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	prepare(t, st)
	return st
}

func prepare(t testing.TB, st store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := migrations.Run(ctx, st); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := seed.Defaults(ctx, st, Logger()); err != nil {
		t.Fatalf("seed defaults: %v", err)
	}
	if err := seed.Settings(ctx, st, Logger()); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
}
