// Package bundle assembles a user's selection of catalog files into a single
// zip archive, tolerating files that fail to download.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// Name is the delivery file name of every bundle.
const Name = "data-dictionaries.zip"

// DefaultConcurrency bounds simultaneous fetches when Assembler.Concurrency
// is unset.
const DefaultConcurrency = 4

// ErrBundleEmpty means nothing was produced: the selection was empty,
// matched no entry, or every fetch failed.
var ErrBundleEmpty = errors.New("bundle empty")

// ErrNotInCatalog is the failure recorded for a selected path the catalog
// view does not list.
var ErrNotInCatalog = errors.New("not in catalog")

// Fetcher retrieves the content of one catalog path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, path string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// Failure records a file left out of the bundle.
type Failure struct {
	Path string
	Err  error
}

// EmptyError is returned when no archive was produced. It matches
// ErrBundleEmpty.
type EmptyError struct {
	Requested int
	Failures  []Failure
}

func (e *EmptyError) Error() string {
	if e.Requested == 0 {
		return "bundle empty: nothing selected"
	}
	return fmt.Sprintf("bundle empty: %d of %d files failed", len(e.Failures), e.Requested)
}

func (e *EmptyError) Unwrap() error {
	return ErrBundleEmpty
}

// Result is a produced bundle.
type Result struct {
	Name      string
	Data      []byte
	Entries   []string // archive member names, in archive order
	Requested int
	Fetched   int
	Failures  []Failure
}

// Partial reports whether some selected files are missing from the archive.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0
}

// Assembler builds bundles. It holds no per-request state, so one value can
// serve concurrent calls.
type Assembler struct {
	Fetcher     Fetcher
	Concurrency int
	Logger      *zap.Logger
}

type job struct {
	idx   int
	entry manifest.FileEntry
}

type fetched struct {
	entry manifest.FileEntry
	data  []byte
	err   error
}

// Assemble fetches the selected entries of view and zips the ones that
// arrive. Entries are named "<category>/<name>" and written in name order,
// so the same successful set always yields the same bytes.
func (a *Assembler) Assemble(ctx context.Context, view []manifest.FileEntry, sel manifest.Selection) (*Result, error) {
	start := time.Now()
	log := a.Logger
	if log == nil {
		log = logging.Named("bundle")
	}

	if sel.Empty() {
		metrics.RecordBundle("empty", 0, time.Since(start))
		return nil, &EmptyError{}
	}
	requested := sel.Len()
	var failures []Failure
	for _, p := range sel.Missing(view) {
		failures = append(failures, Failure{Path: p, Err: ErrNotInCatalog})
	}
	targets := sel.Resolve(view)
	if len(targets) == 0 {
		metrics.RecordBundle("empty", 0, time.Since(start))
		log.Info("selection matched no catalog entries", zap.Int("selected", requested))
		return nil, &EmptyError{Requested: requested, Failures: failures}
	}

	results := a.fetchAll(ctx, targets)
	if err := ctx.Err(); err != nil {
		metrics.RecordBundle("cancelled", 0, time.Since(start))
		return nil, err
	}

	var ok []fetched
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, Failure{Path: r.entry.Path, Err: r.err})
			log.Warn("fetch failed, leaving file out of bundle",
				zap.String("path", r.entry.Path), zap.Error(r.err))
			continue
		}
		ok = append(ok, r)
	}

	if len(ok) == 0 {
		metrics.RecordBundle("empty", 0, time.Since(start))
		return nil, &EmptyError{Requested: requested, Failures: failures}
	}

	members := archiveMembers(ok)
	data, err := writeZip(members)
	if err != nil {
		metrics.RecordBundle("error", 0, time.Since(start))
		return nil, err
	}

	res := &Result{
		Name:      Name,
		Data:      data,
		Entries:   make([]string, len(members)),
		Requested: requested,
		Fetched:   len(ok),
		Failures:  failures,
	}
	for i, m := range members {
		res.Entries[i] = m.name
	}

	outcome := "ok"
	if res.Partial() {
		outcome = "partial"
	}
	metrics.RecordBundle(outcome, len(data), time.Since(start))
	log.Info("bundle assembled",
		zap.Int("requested", res.Requested),
		zap.Int("fetched", res.Fetched),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// fetchAll runs a bounded worker pool over targets. Results keep the order
// of targets regardless of completion order.
func (a *Assembler) fetchAll(ctx context.Context, targets []manifest.FileEntry) []fetched {
	n := a.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	if n > len(targets) {
		n = len(targets)
	}

	results := make([]fetched, len(targets))
	jobs := make(chan job)
	var wg sync.WaitGroup

	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				data, err := a.Fetcher.Fetch(ctx, j.entry.Path)
				metrics.RecordBundleFetch(err == nil)
				results[j.idx] = fetched{entry: j.entry, data: data, err: err}
			}
		}()
	}

feed:
	for i, e := range targets {
		select {
		case jobs <- job{idx: i, entry: e}:
		case <-ctx.Done():
			for k := i; k < len(targets); k++ {
				results[k] = fetched{entry: targets[k], err: ctx.Err()}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

type member struct {
	name string
	data []byte
}

// archiveMembers derives archive member names. Same-named files from different
// subdirectories of one category get -1, -2 suffixes in path order.
func archiveMembers(ok []fetched) []member {
	sort.Slice(ok, func(i, j int) bool { return ok[i].entry.Path < ok[j].entry.Path })

	used := make(map[string]struct{}, len(ok))
	members := make([]member, len(ok))
	for i, r := range ok {
		members[i] = member{
			name: ensureUnique(manifest.ArchiveName(r.entry), used),
			data: r.data,
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].name < members[j].name })
	return members
}
