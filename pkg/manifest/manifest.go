// Package manifest defines the catalog document shared by the builder, the
// server and the bundle assembler.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// FileName is the well-known key the manifest is published under.
const FileName = "manifest.json"

// ErrDuplicatePath is returned by Validate when a path is listed twice.
var ErrDuplicatePath = errors.New("duplicate path in manifest")

// FileEntry describes one downloadable file.
type FileEntry struct {
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Manifest is the immutable result of one catalog build.
type Manifest struct {
	GeneratedAt time.Time              `json:"generatedAt"`
	Categories  map[string][]FileEntry `json:"categories"`
}

// Empty returns a manifest with no categories. Consumers use it in place of a
// manifest that could not be loaded.
func Empty() *Manifest {
	return &Manifest{Categories: map[string][]FileEntry{}}
}

// CategoryNames returns the category keys in lexical order.
func (m *Manifest) CategoryNames() []string {
	names := make([]string, 0, len(m.Categories))
	for name := range m.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries flattens the manifest: categories in lexical order, each in its
// listed order.
func (m *Manifest) Entries() []FileEntry {
	var out []FileEntry
	for _, name := range m.CategoryNames() {
		out = append(out, m.Categories[name]...)
	}
	return out
}

// FileCount returns the number of entries across all categories.
func (m *Manifest) FileCount() int {
	n := 0
	for _, files := range m.Categories {
		n += len(files)
	}
	return n
}

// Lookup finds the entry listed under path.
func (m *Manifest) Lookup(path string) (FileEntry, bool) {
	cat := m.Categories[CategoryOf(path)]
	for _, e := range cat {
		if e.Path == path {
			return e, true
		}
	}
	return FileEntry{}, false
}

// Search returns the entries whose category or name contains query,
// case-insensitively. An empty query matches everything.
func (m *Manifest) Search(query string) []FileEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return m.Entries()
	}
	var out []FileEntry
	for _, name := range m.CategoryNames() {
		catMatch := strings.Contains(strings.ToLower(name), q)
		for _, e := range m.Categories[name] {
			if catMatch || strings.Contains(strings.ToLower(e.Name), q) {
				out = append(out, e)
			}
		}
	}
	return out
}

// Validate checks the structural invariants of the manifest: every entry is
// listed under the category its path names, its name is the last path segment,
// and no path appears twice.
func (m *Manifest) Validate() error {
	seen := make(map[string]string)
	for _, cat := range m.CategoryNames() {
		for _, e := range m.Categories[cat] {
			if e.Name == "" {
				return fmt.Errorf("entry %q: empty name", e.Path)
			}
			if got := CategoryOf(e.Path); got != cat {
				return fmt.Errorf("entry %q: listed under %q but belongs to %q", e.Path, cat, got)
			}
			if !strings.HasSuffix(e.Path, "/"+e.Name) {
				return fmt.Errorf("entry %q: name %q is not the final path segment", e.Path, e.Name)
			}
			if e.Size < 0 {
				return fmt.Errorf("entry %q: negative size", e.Path)
			}
			if prev, dup := seen[e.Path]; dup {
				return fmt.Errorf("%w: %s (categories %q and %q)", ErrDuplicatePath, e.Path, prev, cat)
			}
			seen[e.Path] = cat
		}
	}
	return nil
}

// SortEntries orders entries newest first. Entries without a timestamp keep
// their relative order and follow the timestamped ones.
func SortEntries(entries []FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].LastModified, entries[j].LastModified
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// Encode writes m as indented JSON. Nil category lists are written as [].
func Encode(w io.Writer, m *Manifest) error {
	out := Manifest{GeneratedAt: m.GeneratedAt, Categories: make(map[string][]FileEntry, len(m.Categories))}
	for name, files := range m.Categories {
		if files == nil {
			files = []FileEntry{}
		}
		out.Categories[name] = files
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// Decode reads a manifest document.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Categories == nil {
		m.Categories = map[string][]FileEntry{}
	}
	return &m, nil
}
