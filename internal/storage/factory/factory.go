// Package factory builds a storage.Backend from its type name.
package factory

import (
	"context"
	"fmt"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage/local"
	s3backend "github.com/AbdurrudbA/snl-data-dictionaries/internal/storage/s3"
)

// Options selects and configures a backend.
type Options struct {
	Type       string // "local" or "s3"
	LocalRoot  string
	CreateDirs bool
	S3         s3backend.Config
}

// New creates the backend named by opts.Type.
func New(ctx context.Context, opts Options) (storage.Backend, error) {
	switch opts.Type {
	case "", "local":
		return local.New(local.Config{RootPath: opts.LocalRoot, CreateDirs: opts.CreateDirs})
	case "s3":
		return s3backend.New(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", opts.Type)
	}
}
