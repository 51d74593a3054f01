package manifest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/Equities/prices.csv", "Equities"},
		{"Equities/prices.csv", "Equities"},
		{"//Bonds/2023/yields.xlsx", "Bonds"},
		{"/Bonds", "Bonds"},
		{`/a\b/c.csv`, `a\b`},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CategoryOf(tt.path); got != tt.want {
			t.Errorf("CategoryOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		entry FileEntry
		want  string
	}{
		{FileEntry{Name: "prices.csv", Path: "/Equities/prices.csv"}, "Equities/prices.csv"},
		{FileEntry{Name: "yields.xlsx", Path: "/Bonds/2023/yields.xlsx"}, "Bonds/yields.xlsx"},
	}
	for _, tt := range tests {
		if got := ArchiveName(tt.entry); got != tt.want {
			t.Errorf("ArchiveName(%q) = %q, want %q", tt.entry.Path, got, tt.want)
		}
	}
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath("Bonds", "2023/yields.xlsx"); got != "/Bonds/2023/yields.xlsx" {
		t.Errorf("JoinPath = %q", got)
	}
	if got := CategoryOf(JoinPath("Bonds", "/x.csv")); got != "Bonds" {
		t.Errorf("CategoryOf(JoinPath) = %q", got)
	}
}

func TestSortEntries(t *testing.T) {
	entries := []FileEntry{
		{Name: "untimed1.csv"},
		{Name: "old.csv", LastModified: ts("2023-01-01T00:00:00Z")},
		{Name: "untimed2.csv"},
		{Name: "new.csv", LastModified: ts("2024-06-01T00:00:00Z")},
		{Name: "mid.csv", LastModified: ts("2023-06-01T00:00:00Z")},
	}
	SortEntries(entries)

	want := []string{"new.csv", "mid.csv", "old.csv", "untimed1.csv", "untimed2.csv"}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Name, name)
		}
	}
}

func TestValidate(t *testing.T) {
	good := &Manifest{Categories: map[string][]FileEntry{
		"Equities": {{Name: "a.csv", Path: "/Equities/a.csv", Size: 1}},
		"Bonds":    {{Name: "b.txt", Path: "/Bonds/sub/b.txt", Size: 2}},
		"Empty":    {},
	}}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	tests := []struct {
		name string
		m    *Manifest
	}{
		{"wrong category", &Manifest{Categories: map[string][]FileEntry{
			"Bonds": {{Name: "a.csv", Path: "/Equities/a.csv"}},
		}}},
		{"name mismatch", &Manifest{Categories: map[string][]FileEntry{
			"Bonds": {{Name: "a.csv", Path: "/Bonds/b.csv"}},
		}}},
		{"empty name", &Manifest{Categories: map[string][]FileEntry{
			"Bonds": {{Path: "/Bonds/b.csv"}},
		}}},
		{"negative size", &Manifest{Categories: map[string][]FileEntry{
			"Bonds": {{Name: "b.csv", Path: "/Bonds/b.csv", Size: -1}},
		}}},
	}
	for _, tt := range tests {
		if err := tt.m.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tt.name)
		}
	}

	dup := &Manifest{Categories: map[string][]FileEntry{
		"Bonds": {
			{Name: "b.csv", Path: "/Bonds/b.csv"},
			{Name: "b.csv", Path: "/Bonds/b.csv"},
		},
	}}
	if err := dup.Validate(); !errors.Is(err, ErrDuplicatePath) {
		t.Errorf("Validate(dup) = %v, want ErrDuplicatePath", err)
	}
}

func TestEncodeEmptyCategory(t *testing.T) {
	m := &Manifest{
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Categories: map[string][]FileEntry{
			"Empty":    nil,
			"Equities": {{Name: "a.csv", Path: "/Equities/a.csv", Size: 3}},
		},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"Empty": []`) {
		t.Errorf("empty category not encoded as []:\n%s", out)
	}
	if strings.Contains(out, "lastModified") {
		t.Errorf("absent lastModified should be omitted:\n%s", out)
	}
	if !strings.Contains(out, `"generatedAt": "2024-05-01T12:00:00Z"`) {
		t.Errorf("generatedAt not ISO-8601:\n%s", out)
	}

	back, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.FileCount() != 1 || len(back.Categories) != 2 {
		t.Errorf("round trip lost data: %+v", back)
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := Decode(strings.NewReader("{not json")); err == nil {
		t.Error("Decode should fail on malformed input")
	}
	m, err := Decode(strings.NewReader(`{"generatedAt":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Categories == nil {
		t.Error("Decode should default Categories to an empty map")
	}
}

func TestLookupAndSearch(t *testing.T) {
	m := &Manifest{Categories: map[string][]FileEntry{
		"Equities": {{Name: "Prices.csv", Path: "/Equities/Prices.csv"}},
		"Bonds":    {{Name: "yields.xlsx", Path: "/Bonds/yields.xlsx"}, {Name: "notes.txt", Path: "/Bonds/x/notes.txt"}},
	}}

	if _, ok := m.Lookup("/Bonds/x/notes.txt"); !ok {
		t.Error("Lookup nested path failed")
	}
	if _, ok := m.Lookup("/Bonds/missing.csv"); ok {
		t.Error("Lookup of unlisted path should fail")
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"bonds", 2},
		{"PRICES", 1},
		{"zzz", 0},
	}
	for _, tt := range tests {
		if got := len(m.Search(tt.query)); got != tt.want {
			t.Errorf("Search(%q) = %d entries, want %d", tt.query, got, tt.want)
		}
	}

	all := m.Entries()
	if all[0].Path != "/Bonds/yields.xlsx" || all[2].Path != "/Equities/Prices.csv" {
		t.Errorf("Entries order = %v", all)
	}
}

func TestSelectionResolve(t *testing.T) {
	view := []FileEntry{
		{Name: "a.csv", Path: "/Equities/a.csv"},
		{Name: "b.csv", Path: "/Bonds/b.csv"},
		{Name: "c.csv", Path: "/Bonds/c.csv"},
	}

	sel := NewSelection("Bonds/c.csv", "/Equities/a.csv", "/Equities/a.csv", " ", "/Missing/x.csv")
	if sel.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", sel.Len())
	}
	got := sel.Resolve(view)
	if len(got) != 2 || got[0].Path != "/Equities/a.csv" || got[1].Path != "/Bonds/c.csv" {
		t.Errorf("Resolve = %v", got)
	}

	if NewSelection().Resolve(view) != nil {
		t.Error("empty selection should resolve to nothing")
	}
	if !NewSelection("", "  ").Empty() {
		t.Error("blank paths should be dropped")
	}
	if p := sel.Paths(); p[0] != "/Bonds/c.csv" {
		t.Errorf("Paths() not sorted: %v", p)
	}
	if m := sel.Missing(view); len(m) != 1 || m[0] != "/Missing/x.csv" {
		t.Errorf("Missing = %v", m)
	}
	if m := NewSelection("/Bonds/b.csv").Missing(view); m != nil {
		t.Errorf("Missing = %v, want none", m)
	}
}
