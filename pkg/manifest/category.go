package manifest

import "strings"

// CategoryOf returns the category a catalog path belongs to: its first
// non-empty '/'-separated segment. The builder files entries with it and the
// assembler namespaces archive members with it, so the two always agree.
func CategoryOf(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}

// ArchiveName is the name an entry is stored under inside a bundle:
// "<category>/<name>".
func ArchiveName(e FileEntry) string {
	return CategoryOf(e.Path) + "/" + e.Name
}

// JoinPath builds the catalog path for a file below a category. rest is
// slash-separated and relative to the category directory.
func JoinPath(category, rest string) string {
	return "/" + category + "/" + strings.TrimLeft(rest, "/")
}
