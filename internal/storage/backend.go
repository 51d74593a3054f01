// Package storage defines the Backend interface the catalog publishes to and
// the server reads content from.
package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is the interface for content storage backends.
// Implementations handle raw object I/O (local filesystem, S3).
// Missing objects are reported with errors matching fs.ErrNotExist.
type Backend interface {
	// GetObject retrieves an object and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject stores body under key, replacing any previous object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// StatObject returns the size and modification time of an object.
	StatObject(ctx context.Context, key string) (ObjectInfo, error)

	// DeleteObject removes an object by key. Missing objects are not an error.
	DeleteObject(ctx context.Context, key string) error

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// KeyFor maps a catalog path ("/Bonds/2023/yields.csv") to a storage key
// ("Bonds/2023/yields.csv"). Dot segments are resolved so a key never climbs
// above the backend root.
func KeyFor(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// ReadAll fetches a whole object into memory.
func ReadAll(ctx context.Context, b Backend, key string) ([]byte, error) {
	rc, _, err := b.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
