package bundle

import (
	"context"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
)

// BackendFetcher reads catalog files straight from a storage backend, for
// assembling bundles on the server without an HTTP round trip.
type BackendFetcher struct {
	Backend storage.Backend
}

// Fetch reads the object stored under path.
func (f BackendFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	return storage.ReadAll(ctx, f.Backend, storage.KeyFor(path))
}
