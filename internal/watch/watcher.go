// Package watch polls the content root and republishes the catalog when the
// set of listed files changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/catalog"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 5 * time.Second

// ChangeFunc receives a freshly built manifest, its build report and what
// changed since the previous one.
type ChangeFunc func(ctx context.Context, m *manifest.Manifest, report *catalog.BuildReport, changes catalog.Changes) error

// Watcher rebuilds the catalog every interval and calls OnChange when the
// listing differs from the last accepted build. Timestamps alone never count
// as a change: GeneratedAt is ignored.
type Watcher struct {
	builder  *catalog.Builder
	interval time.Duration
	onChange ChangeFunc
	log      *zap.Logger

	mu   sync.Mutex
	last *manifest.Manifest
}

// New creates a watcher. interval <= 0 selects DefaultInterval.
func New(builder *catalog.Builder, interval time.Duration, onChange ChangeFunc) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		builder:  builder,
		interval: interval,
		onChange: onChange,
		log:      logging.Named("watch"),
	}
}

// Prime records m as the current state without calling OnChange.
func (w *Watcher) Prime(m *manifest.Manifest) {
	w.mu.Lock()
	w.last = m
	w.mu.Unlock()
}

// Check rebuilds once. It reports the changes found and whether OnChange
// ran. A failed OnChange leaves the previous state in place so the next
// check retries.
func (w *Watcher) Check(ctx context.Context) (catalog.Changes, bool, error) {
	m, report, err := w.builder.Build(ctx)
	if err != nil {
		return catalog.Changes{}, false, fmt.Errorf("rebuild: %w", err)
	}

	w.mu.Lock()
	prev := w.last
	w.mu.Unlock()

	changes := catalog.Compare(prev, m)
	if prev != nil && changes.Empty() {
		return changes, false, nil
	}
	if err := w.onChange(ctx, m, report, changes); err != nil {
		return changes, false, err
	}

	w.mu.Lock()
	w.last = m
	w.mu.Unlock()
	return changes, true, nil
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("watching content root", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changes, published, err := w.Check(ctx)
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				return
			case err != nil:
				w.log.Warn("catalog refresh failed", zap.Error(err))
			case published:
				w.log.Info("content root changed, catalog republished",
					zap.Int("added", len(changes.Added)),
					zap.Int("removed", len(changes.Removed)),
					zap.Int("changed", len(changes.Changed)))
			}
		}
	}
}
