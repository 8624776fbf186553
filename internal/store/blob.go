package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrBlobNotFound is returned by BlobStore.Load when nothing is stored under a key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a key-value store holding serialized database images.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

var blobKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DirBlobs keeps one file per key inside a directory.
type DirBlobs struct {
	dir string
}

// NewDirBlobs creates dir if it does not exist.
func NewDirBlobs(dir string) (*DirBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &DirBlobs{dir: dir}, nil
}

func (b *DirBlobs) path(key string) (string, error) {
	if !blobKeyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(b.dir, key+".sqlite"), nil
}

func (b *DirBlobs) Load(_ context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	return data, err
}

// Save replaces the blob atomically: the image is written to a temporary
// file and renamed over the previous one.
func (b *DirBlobs) Save(_ context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
