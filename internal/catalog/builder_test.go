package catalog

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

var fixedNow = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newBuilder(fsys fs.FS) *Builder {
	return &Builder{FS: fsys, Now: clock, Logger: zap.NewNop()}
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildScenario(t *testing.T) {
	fsys := fstest.MapFS{
		"Equities/AAPL.csv": {Data: make([]byte, 2048)},
		"Bonds/notes.txt":   {Data: make([]byte, 512)},
	}
	m, report, err := newBuilder(fsys).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fixedNow, m.GeneratedAt)
	assert.Equal(t, []manifest.FileEntry{{Name: "AAPL.csv", Path: "/Equities/AAPL.csv", Size: 2048}}, m.Categories["Equities"])
	assert.Equal(t, []manifest.FileEntry{{Name: "notes.txt", Path: "/Bonds/notes.txt", Size: 512}}, m.Categories["Bonds"])
	assert.Len(t, m.Categories, 2)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 2, report.Categories)
	assert.Empty(t, report.Skipped)
}

func TestBuildFiltersHiddenAndExtensions(t *testing.T) {
	fsys := fstest.MapFS{
		"Rates/a.CSV":             {Data: []byte("1")},
		"Rates/b.xlsx":            {Data: []byte("1")},
		"Rates/c.xls":             {Data: []byte("1")},
		"Rates/d.txt":             {Data: []byte("1")},
		"Rates/e.pdf":             {Data: []byte("1")},
		"Rates/noext":             {Data: []byte("1")},
		"Rates/.hidden.csv":       {Data: []byte("1")},
		"Rates/sub/deep/f.csv":    {Data: []byte("1")},
		"Rates/sub/.secret/g.csv": {Data: []byte("1")},
		"Rates/sub/deep/.h.csv":   {Data: []byte("1")},
		".git/config.txt":         {Data: []byte("1")},
		"root-file.csv":           {Data: []byte("1")},
		"Empty/readme.md":         {Data: []byte("1")},
		"Empty/.keep":             {Data: []byte{}},
	}
	m, report, err := newBuilder(fsys).Build(context.Background())
	require.NoError(t, err)

	require.Contains(t, m.Categories, "Empty")
	assert.NotNil(t, m.Categories["Empty"])
	assert.Empty(t, m.Categories["Empty"])
	assert.NotContains(t, m.Categories, ".git")

	var paths []string
	for _, e := range m.Categories["Rates"] {
		paths = append(paths, e.Path)
	}
	assert.ElementsMatch(t, []string{
		"/Rates/a.CSV", "/Rates/b.xlsx", "/Rates/c.xls", "/Rates/d.txt", "/Rates/sub/deep/f.csv",
	}, paths)
	assert.Equal(t, 3, report.Ignored, "e.pdf, noext and readme.md")

	for cat, files := range m.Categories {
		for _, e := range files {
			assert.Equal(t, cat, manifest.CategoryOf(e.Path))
			for _, seg := range strings.Split(e.Path, "/") {
				assert.False(t, strings.HasPrefix(seg, "."), "hidden segment in %s", e.Path)
			}
		}
	}
}

func TestBuildSortsNewestFirst(t *testing.T) {
	fsys := fstest.MapFS{
		"Fx/a.csv":     {Data: []byte("a"), ModTime: day(2)},
		"Fx/b.csv":     {Data: []byte("b"), ModTime: day(9)},
		"Fx/sub/c.csv": {Data: []byte("c"), ModTime: day(5)},
		"Fx/d.csv":     {Data: []byte("d")},
		"Fx/e.csv":     {Data: []byte("e")},
	}
	m, _, err := newBuilder(fsys).Build(context.Background())
	require.NoError(t, err)

	var names []string
	for _, e := range m.Categories["Fx"] {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"b.csv", "c.csv", "a.csv", "d.csv", "e.csv"}, names)
	assert.Nil(t, m.Categories["Fx"][3].LastModified)
}

func TestBuildIdempotent(t *testing.T) {
	fsys := fstest.MapFS{
		"A/x.csv":   {Data: []byte("x"), ModTime: day(1)},
		"A/y.txt":   {Data: []byte("yy"), ModTime: day(3)},
		"B/z/w.xls": {Data: []byte("www")},
	}
	b := newBuilder(fsys)
	first, _, err := b.Build(context.Background())
	require.NoError(t, err)
	second, _, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Categories, second.Categories)

	a, err := Encode(first)
	require.NoError(t, err)
	c, err := Encode(second)
	require.NoError(t, err)
	assert.Equal(t, Hash(a), Hash(c))
}

func TestBuildRootMissing(t *testing.T) {
	dir := t.TempDir()

	_, _, err := (&Builder{Root: filepath.Join(dir, "public"), Logger: zap.NewNop()}).Build(context.Background())
	assert.ErrorIs(t, err, ErrRootMissing)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	file := filepath.Join(dir, "file.csv")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, _, err = (&Builder{Root: file, Logger: zap.NewNop()}).Build(context.Background())
	assert.ErrorIs(t, err, ErrRootMissing)

	_, _, err = (&Builder{Logger: zap.NewNop()}).Build(context.Background())
	assert.ErrorIs(t, err, ErrRootMissing)
}

func TestBuildEmptyRoot(t *testing.T) {
	m, report, err := (&Builder{Root: t.TempDir(), Now: clock, Logger: zap.NewNop()}).Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.Categories)
	assert.NotNil(t, m.Categories)
	assert.Zero(t, report.Files)
}

func TestBuildOnDisk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Equities", "2024"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Equities", "2024", "q1.csv"), []byte("abc"), 0644))
	mt := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "Equities", "2024", "q1.csv"), mt, mt))

	m, _, err := (&Builder{Root: root, Now: clock, Logger: zap.NewNop()}).Build(context.Background())
	require.NoError(t, err)

	require.Len(t, m.Categories["Equities"], 1)
	e := m.Categories["Equities"][0]
	assert.Equal(t, "/Equities/2024/q1.csv", e.Path)
	assert.Equal(t, "q1.csv", e.Name)
	assert.Equal(t, int64(3), e.Size)
	require.NotNil(t, e.LastModified)
	assert.True(t, e.LastModified.Equal(mt))
}

// brokenFS fails ReadDir for some directories and Info for some files.
type brokenFS struct {
	fstest.MapFS
	badDirs  map[string]bool
	badFiles map[string]bool
}

type brokenEntry struct {
	fs.DirEntry
}

func (brokenEntry) Info() (fs.FileInfo, error) { return nil, fs.ErrPermission }

func (b brokenFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if b.badDirs[name] {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrPermission}
	}
	entries, err := b.MapFS.ReadDir(name)
	for i, e := range entries {
		if b.badFiles[name+"/"+e.Name()] {
			entries[i] = brokenEntry{e}
		}
	}
	return entries, err
}

func TestBuildSkipsUnreadableEntries(t *testing.T) {
	fsys := brokenFS{
		MapFS: fstest.MapFS{
			"Bonds/ok.csv":          {Data: []byte("1")},
			"Bonds/locked/x.csv":    {Data: []byte("1")},
			"Bonds/unstattable.txt": {Data: []byte("1")},
			"Equities/a.csv":        {Data: []byte("1")},
		},
		badDirs:  map[string]bool{"Bonds/locked": true},
		badFiles: map[string]bool{"Bonds/unstattable.txt": true},
	}

	m, report, err := newBuilder(fsys).Build(context.Background())
	require.NoError(t, err)

	assert.Len(t, m.Categories["Bonds"], 1)
	assert.Len(t, m.Categories["Equities"], 1)
	assert.Equal(t, []string{"/Bonds/locked", "/Bonds/unstattable.txt"}, report.SortedSkipped())
	for _, s := range report.Skipped {
		assert.True(t, errors.Is(s, ErrEntryUnreadable))
		assert.True(t, errors.Is(s, fs.ErrPermission))
	}
}

func TestBuildUnreadableRoot(t *testing.T) {
	fsys := brokenFS{
		MapFS:   fstest.MapFS{"Bonds/a.csv": {Data: []byte("1")}},
		badDirs: map[string]bool{".": true},
	}
	_, _, err := newBuilder(fsys).Build(context.Background())
	assert.ErrorIs(t, err, ErrRootMissing)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newBuilder(fstest.MapFS{"A/a.csv": {}}).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCustomExtensions(t *testing.T) {
	fsys := fstest.MapFS{
		"A/a.csv":     {},
		"A/b.parquet": {},
	}
	b := newBuilder(fsys)
	b.Extensions = []string{".Parquet"}
	m, _, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, m.Categories["A"], 1)
	assert.Equal(t, "b.parquet", m.Categories["A"][0].Name)
}
