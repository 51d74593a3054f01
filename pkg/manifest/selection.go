package manifest

import (
	"sort"
	"strings"
)

// Selection is a snapshot of the paths a user picked for one bundle request.
// It is a value: copies are independent and nothing retains it after the
// request completes.
type Selection struct {
	paths map[string]struct{}
}

// NewSelection builds a selection from paths. Blank paths are dropped,
// duplicates collapse, and a missing leading '/' is added.
func NewSelection(paths ...string) Selection {
	s := Selection{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		s.paths[p] = struct{}{}
	}
	return s
}

// Len returns the number of distinct selected paths.
func (s Selection) Len() int { return len(s.paths) }

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool { return len(s.paths) == 0 }

// Contains reports whether path is selected.
func (s Selection) Contains(path string) bool {
	_, ok := s.paths[path]
	return ok
}

// Paths returns the selected paths sorted.
func (s Selection) Paths() []string {
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Missing returns the selected paths that no entry of view carries, sorted.
func (s Selection) Missing(view []FileEntry) []string {
	listed := make(map[string]bool, len(view))
	for _, e := range view {
		listed[e.Path] = true
	}
	var out []string
	for _, p := range s.Paths() {
		if !listed[p] {
			out = append(out, p)
		}
	}
	return out
}

// Resolve returns the entries of view that are selected, in view order.
// Selected paths missing from view are left out; see Missing.
func (s Selection) Resolve(view []FileEntry) []FileEntry {
	if s.Empty() {
		return nil
	}
	var out []FileEntry
	seen := make(map[string]bool, len(s.paths))
	for _, e := range view {
		if !s.Contains(e.Path) || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		out = append(out, e)
	}
	return out
}
