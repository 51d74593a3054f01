package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage/local"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

func sample() *manifest.Manifest {
	mt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &manifest.Manifest{
		GeneratedAt: fixedNow,
		Categories: map[string][]manifest.FileEntry{
			"Bonds":    {{Name: "b.csv", Path: "/Bonds/b.csv", Size: 3, LastModified: &mt}},
			"Equities": {},
		},
	}
}

func TestPublishAndLoad(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := local.New(local.Config{RootPath: root})
	require.NoError(t, err)

	data, err := Publish(ctx, b, manifest.FileName, sample())
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(root, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
	assert.True(t, strings.HasPrefix(string(onDisk), "{\n  \"generatedAt\""), "two-space indent")
	assert.Contains(t, string(onDisk), `"Equities": []`)

	m, raw, err := Load(ctx, b, manifest.FileName)
	require.NoError(t, err)
	assert.Equal(t, Hash(data), Hash(raw))
	assert.Equal(t, 1, m.FileCount())
	assert.False(t, PublishedAt(ctx, b, manifest.FileName).IsZero())
}

func TestLoadMissing(t *testing.T) {
	b, err := local.New(local.Config{RootPath: t.TempDir()})
	require.NoError(t, err)

	_, _, err = Load(context.Background(), b, manifest.FileName)
	assert.True(t, storage.IsNotFound(err))
	assert.True(t, PublishedAt(context.Background(), b, manifest.FileName).IsZero())
}

func TestHashStable(t *testing.T) {
	a := Hash([]byte("abc"))
	assert.Len(t, a, 16)
	assert.Equal(t, a, Hash([]byte("abc")))
	assert.NotEqual(t, a, Hash([]byte("abd")))
}

func TestMirror(t *testing.T) {
	ctx := context.Background()
	mt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := fstest.MapFS{
		"Bonds/b.csv":     {Data: []byte("abc"), ModTime: mt},
		"Bonds/sub/c.txt": {Data: []byte("hello"), ModTime: mt},
	}
	m, _, err := newBuilder(src).Build(ctx)
	require.NoError(t, err)
	m.Categories["Bonds"] = append(m.Categories["Bonds"], manifest.FileEntry{Name: "gone.csv", Path: "/Bonds/gone.csv", Size: 1})

	dst, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	require.NoError(t, err)

	report, err := Mirror(ctx, src, dst, m)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Uploaded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "/Bonds/gone.csv", report.Failed[0].Path)

	data, err := storage.ReadAll(ctx, dst, "Bonds/sub/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	again, err := Mirror(ctx, src, dst, m)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Uploaded)
	assert.Equal(t, 2, again.Current)

	pruned := report.Prune(m)
	assert.Equal(t, 2, pruned.FileCount())
	_, listed := pruned.Lookup("/Bonds/gone.csv")
	assert.False(t, listed, "failed upload must not be published")
	assert.Equal(t, 3, m.FileCount(), "Prune must not modify its input")
	assert.Same(t, m, again.Prune(m))
}
