// Package catalog walks a content root and builds the manifest of
// downloadable data files.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// DefaultExtensions are the file types listed in the catalog.
var DefaultExtensions = []string{"csv", "xlsx", "xls", "txt"}

var (
	// ErrRootMissing means the content root is absent, not a directory or
	// unreadable. No manifest is produced.
	ErrRootMissing = errors.New("content root missing")

	// ErrEntryUnreadable marks an entry that was skipped during the walk.
	ErrEntryUnreadable = errors.New("entry unreadable")
)

// SkippedEntry is an entry the walk could not read. It matches
// ErrEntryUnreadable and the underlying error with errors.Is.
type SkippedEntry struct {
	Path string
	Err  error
}

func (s SkippedEntry) Error() string {
	return fmt.Sprintf("%s: %v", s.Path, s.Err)
}

func (s SkippedEntry) Unwrap() []error {
	return []error{ErrEntryUnreadable, s.Err}
}

// BuildReport summarizes one build.
type BuildReport struct {
	Categories int
	Files      int
	Skipped    []SkippedEntry
	Ignored    int // files excluded by extension or type
	Duration   time.Duration
}

// Builder turns a content root into a manifest.
type Builder struct {
	// Root is the content directory. Used to open FS when FS is nil.
	Root string
	// FS overrides the filesystem read by the walk.
	FS fs.FS
	// Now is the clock stamped into GeneratedAt. Defaults to time.Now.
	Now func() time.Time
	// Extensions lists eligible extensions without dots, matched
	// case-insensitively. Defaults to DefaultExtensions.
	Extensions []string
	Logger     *zap.Logger
}

type walk struct {
	ctx    context.Context
	fsys   fs.FS
	exts   map[string]bool
	log    *zap.Logger
	report *BuildReport
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Build walks the root once and returns the manifest. Only a missing or
// unreadable root is fatal; unreadable entries below it are skipped and
// listed in the report.
func (b *Builder) Build(ctx context.Context) (*manifest.Manifest, *BuildReport, error) {
	start := time.Now()

	fsys := b.FS
	if fsys == nil {
		if b.Root == "" {
			return nil, nil, fmt.Errorf("%w: no root configured", ErrRootMissing)
		}
		fsys = os.DirFS(b.Root)
	}
	now := b.Now
	if now == nil {
		now = time.Now
	}
	log := b.Logger
	if log == nil {
		log = logging.Named("catalog")
	}
	extList := b.Extensions
	if len(extList) == 0 {
		extList = DefaultExtensions
	}
	exts := make(map[string]bool, len(extList))
	for _, e := range extList {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	info, err := fs.Stat(fsys, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrRootMissing, b.Root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is not a directory", ErrRootMissing, b.Root)
	}
	top, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrRootMissing, b.Root, err)
	}

	report := &BuildReport{}
	w := &walk{ctx: ctx, fsys: fsys, exts: exts, log: log, report: report}
	categories := make(map[string][]manifest.FileEntry)

	for _, e := range top {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		// Symlinked directories are not followed.
		if hidden(e.Name()) || !e.IsDir() {
			continue
		}
		cat := e.Name()
		files := []manifest.FileEntry{}
		if err := w.dir(cat, cat, &files); err != nil {
			return nil, nil, err
		}
		manifest.SortEntries(files)
		categories[cat] = files
		report.Files += len(files)
	}
	report.Categories = len(categories)

	m := &manifest.Manifest{
		GeneratedAt: now().UTC(),
		Categories:  categories,
	}
	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid manifest: %w", err)
	}

	report.Duration = time.Since(start)
	metrics.RecordCatalogBuild(report.Duration, report.Categories, report.Files, len(report.Skipped))
	log.Info("catalog built",
		zap.Int("categories", report.Categories),
		zap.Int("files", report.Files),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("ignored", report.Ignored),
		zap.Duration("duration", report.Duration))

	return m, report, nil
}

func (w *walk) skip(p string, err error) {
	w.report.Skipped = append(w.report.Skipped, SkippedEntry{Path: "/" + p, Err: err})
	w.log.Warn("skipping unreadable entry", zap.String("path", "/"+p), zap.Error(err))
}

// dir appends the eligible files below p to files. cat is the category the
// walk started from.
func (w *walk) dir(cat, p string, files *[]manifest.FileEntry) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	entries, err := fs.ReadDir(w.fsys, p)
	if err != nil {
		w.skip(p, err)
		// ReadDir may still return the entries it managed to read.
		if len(entries) == 0 {
			return nil
		}
	}

	for _, e := range entries {
		name := e.Name()
		if hidden(name) {
			continue
		}
		child := path.Join(p, name)

		if e.IsDir() {
			if err := w.dir(cat, child, files); err != nil {
				return err
			}
			continue
		}

		if !w.exts[strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))] {
			w.report.Ignored++
			continue
		}

		info, err := w.stat(e, child)
		if err != nil {
			w.skip(child, err)
			continue
		}
		if !info.Mode().IsRegular() {
			w.report.Ignored++
			continue
		}

		entry := manifest.FileEntry{
			Name: name,
			Path: "/" + child,
			Size: info.Size(),
		}
		if mt := info.ModTime(); !mt.IsZero() {
			mt = mt.UTC().Truncate(time.Millisecond)
			entry.LastModified = &mt
		}
		if got := manifest.CategoryOf(entry.Path); got != cat {
			return fmt.Errorf("entry %s filed under %q, expected %q", entry.Path, got, cat)
		}
		*files = append(*files, entry)
	}
	return nil
}

// stat returns file info, following a symlink to its target.
func (w *walk) stat(e fs.DirEntry, p string) (fs.FileInfo, error) {
	if e.Type()&fs.ModeSymlink != 0 {
		return fs.Stat(w.fsys, p)
	}
	return e.Info()
}

// SortedSkipped returns the skipped paths in lexical order.
func (r *BuildReport) SortedSkipped() []string {
	out := make([]string, len(r.Skipped))
	for i, s := range r.Skipped {
		out[i] = s.Path
	}
	sort.Strings(out)
	return out
}
