package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// Hash returns the hex xxh3 digest of an encoded manifest. It serves as the
// HTTP ETag and as the change marker for reloads and build history.
func Hash(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// Encode renders m exactly as Publish writes it.
func Encode(m *manifest.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := manifest.Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Publish writes m under key and returns the bytes written. Writers do not
// coordinate: the last one to finish wins.
func Publish(ctx context.Context, b storage.Backend, key string, m *manifest.Manifest) ([]byte, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	if err := b.PutObject(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}
	logging.Info("manifest published",
		zap.String("backend", b.Type()),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
		zap.String("hash", Hash(data)))
	return data, nil
}

// Load reads a published manifest and its raw bytes. A missing manifest
// yields an error matching fs.ErrNotExist.
func Load(ctx context.Context, b storage.Backend, key string) (*manifest.Manifest, []byte, error) {
	data, err := storage.ReadAll(ctx, b, key)
	if err != nil {
		return nil, nil, fmt.Errorf("load manifest: %w", err)
	}
	m, err := manifest.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}

// MirrorReport counts what Mirror did.
type MirrorReport struct {
	Uploaded int
	Current  int
	Failed   []SkippedEntry
}

// Mirror copies every file listed in m from src into dst, keyed by its
// catalog path, so a remote backend can serve the same catalog. Objects whose
// size matches and that are not older than the source are left alone.
func Mirror(ctx context.Context, src fs.FS, dst storage.Backend, m *manifest.Manifest) (*MirrorReport, error) {
	report := &MirrorReport{}
	for _, e := range m.Entries() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := storage.KeyFor(e.Path)

		if info, err := dst.StatObject(ctx, key); err == nil && info.Size == e.Size &&
			(e.LastModified == nil || !info.ModTime.Before(*e.LastModified)) {
			report.Current++
			continue
		}

		if err := copyObject(ctx, src, dst, key, e.Size); err != nil {
			report.Failed = append(report.Failed, SkippedEntry{Path: e.Path, Err: err})
			logging.Warn("mirror upload failed", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		report.Uploaded++
	}
	logging.Info("mirror complete",
		zap.String("backend", dst.Type()),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("current", report.Current),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// Prune returns m without the entries that failed to mirror, so the published
// manifest lists only objects the destination holds. Emptied categories stay.
// m itself is not modified.
func (r *MirrorReport) Prune(m *manifest.Manifest) *manifest.Manifest {
	if len(r.Failed) == 0 {
		return m
	}
	failed := make(map[string]bool, len(r.Failed))
	for _, f := range r.Failed {
		failed[f.Path] = true
	}
	out := &manifest.Manifest{
		GeneratedAt: m.GeneratedAt,
		Categories:  make(map[string][]manifest.FileEntry, len(m.Categories)),
	}
	for cat, entries := range m.Categories {
		kept := make([]manifest.FileEntry, 0, len(entries))
		for _, e := range entries {
			if !failed[e.Path] {
				kept = append(kept, e)
			}
		}
		out.Categories[cat] = kept
	}
	return out
}

func copyObject(ctx context.Context, src fs.FS, dst storage.Backend, key string, size int64) error {
	f, err := src.Open(key)
	if err != nil {
		return err
	}
	defer f.Close()
	return dst.PutObject(ctx, key, io.Reader(f), size)
}

// PublishedAt reports when a manifest was last modified in b, or the zero time.
func PublishedAt(ctx context.Context, b storage.Backend, key string) time.Time {
	info, err := b.StatObject(ctx, key)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime
}
