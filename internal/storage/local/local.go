// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// Backend implements storage.Backend on a directory tree.
type Backend struct {
	rootPath   string
	createDirs bool
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{
		rootPath:   cfg.RootPath,
		createDirs: cfg.CreateDirs,
	}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(storage.KeyFor(key)))
}

func record(op string, start time.Time, err error) {
	metrics.RecordStorageOperation("local", op, time.Since(start), err == nil)
}

// GetObject opens a file for reading.
func (b *Backend) GetObject(_ context.Context, key string) (rc io.ReadCloser, size int64, err error) {
	start := time.Now()
	defer func() { record("get_object", start, err) }()

	f, err := os.Open(b.fullPath(key))
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("open %s: %w", key, os.ErrNotExist)
	}
	return f, info.Size(), nil
}

// PutObject writes content atomically: readers see either the old or the new
// object, never a partial one. Concurrent writers race and the last rename
// wins.
func (b *Backend) PutObject(_ context.Context, key string, body io.Reader, size int64) (err error) {
	start := time.Now()
	defer func() { record("put_object", start, err) }()

	path := b.fullPath(key)
	dir := filepath.Dir(path)

	if b.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	// Dot-prefixed so a concurrent catalog walk never lists it.
	tmp, err := os.CreateTemp(dir, ".datadict-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: short write (%d of %d bytes)", key, n, size)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// StatObject returns file size and mtime.
func (b *Backend) StatObject(_ context.Context, key string) (storage.ObjectInfo, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, os.ErrNotExist)
	}
	return storage.ObjectInfo{Key: storage.KeyFor(key), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// DeleteObject removes a file.
func (b *Backend) DeleteObject(_ context.Context, key string) error {
	err := os.Remove(b.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Root returns the directory the backend serves.
func (b *Backend) Root() string { return b.rootPath }

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
