package catalog

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// Changes lists the paths that differ between two manifests.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string // same path, different size or timestamp
}

// Empty reports whether the manifests list the same files.
func (c Changes) Empty() bool {
	return len(c.Added)+len(c.Removed)+len(c.Changed) == 0
}

func index(m *manifest.Manifest) map[string]manifest.FileEntry {
	out := make(map[string]manifest.FileEntry)
	if m == nil {
		return out
	}
	for _, e := range m.Entries() {
		out[e.Path] = e
	}
	return out
}

func sameEntry(a, b manifest.FileEntry) bool {
	if a.Size != b.Size {
		return false
	}
	switch {
	case a.LastModified == nil && b.LastModified == nil:
		return true
	case a.LastModified == nil || b.LastModified == nil:
		return false
	default:
		return a.LastModified.Equal(*b.LastModified)
	}
}

// Compare computes the path-level changes from prev to next. A nil manifest
// counts as empty.
func Compare(prev, next *manifest.Manifest) Changes {
	a, b := index(prev), index(next)
	var c Changes
	for p, e := range b {
		old, ok := a[p]
		switch {
		case !ok:
			c.Added = append(c.Added, p)
		case !sameEntry(old, e):
			c.Changed = append(c.Changed, p)
		}
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			c.Removed = append(c.Removed, p)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}

func listing(m *manifest.Manifest) []string {
	idx := index(m)
	paths := make([]string, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	lines := make([]string, len(paths))
	for i, p := range paths {
		e := idx[p]
		ts := "-"
		if e.LastModified != nil {
			ts = e.LastModified.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		lines[i] = fmt.Sprintf("%s\t%d\t%s\n", p, e.Size, ts)
	}
	return lines
}

// Diff renders a unified diff of the sorted file listings of two manifests.
// It returns "" when they list the same files.
func Diff(prev, next *manifest.Manifest, fromName, toName string) (string, error) {
	d := difflib.UnifiedDiff{
		A:        listing(prev),
		B:        listing(next),
		FromFile: fromName,
		ToFile:   toName,
		Context:  2,
	}
	out, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return "", fmt.Errorf("diff manifests: %w", err)
	}
	return out, nil
}
