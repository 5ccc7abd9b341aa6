package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func listIDs(infos []models.DocumentInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	sort.Strings(out)
	return out
}

func TestFileStore_List(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.md"), "beta")
	writeFile(t, filepath.Join(root, "sub", "skip.png"), "binary")
	writeFile(t, filepath.Join(root, ".obsidian", "workspace.md"), "hidden")
	writeFile(t, filepath.Join(root, ".hidden.md"), "hidden")

	fs, err := NewFileStore(FileStoreConfig{Roots: []string{root}, Extensions: []string{".md"}, Recursive: true})
	require.NoError(t, err)

	infos, err := fs.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "sub/b.md"}, listIDs(infos))
	for _, info := range infos {
		assert.Equal(t, info.ModTime.UnixNano(), info.Version)
		if info.ID == "a.md" {
			assert.Equal(t, "a", info.Title)
			assert.Equal(t, int64(5), info.Size)
		}
	}

	flat, err := NewFileStore(FileStoreConfig{Roots: []string{root}, Extensions: []string{"md"}})
	require.NoError(t, err)
	infos, err = flat.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, listIDs(infos))
}

func TestFileStore_Content(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	writeFile(t, path, "---\ntags: x\n---\nfirst version")

	fs, err := NewFileStore(FileStoreConfig{Roots: []string{root}, Extensions: []string{".md"}, CacheSize: 4})
	require.NoError(t, err)
	ctx := context.Background()

	text, err := fs.Content(ctx, "note.md")
	require.NoError(t, err)
	assert.Equal(t, "first version", text)
	assert.Equal(t, 1, fs.CacheLen())

	writeFile(t, path, "second version, longer")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	text, err = fs.Content(ctx, "note.md")
	require.NoError(t, err)
	assert.Equal(t, "second version, longer", text, "changed files are re-extracted")

	fs.Forget("note.md")
	assert.Equal(t, 0, fs.CacheLen())
}

func TestFileStore_ContentNotFound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "image.png"), "png")
	fs, err := NewFileStore(FileStoreConfig{Roots: []string{root}, Extensions: []string{".md"}})
	require.NoError(t, err)

	for _, id := range []string{"missing.md", "image.png", "../outside.md", ""} {
		_, err := fs.Content(context.Background(), id)
		assert.True(t, errors.Is(err, ErrNotFound), "id %q: %v", id, err)
	}
}

func TestFileStore_Accepts(t *testing.T) {
	fs, err := NewFileStore(FileStoreConfig{Roots: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.True(t, fs.Accepts("/v/a.md"), "no extension list falls back to supported formats")
	assert.True(t, fs.Accepts("/v/a.PDF"))
	assert.False(t, fs.Accepts("/v/a.png"))
	assert.False(t, fs.Accepts("/v/.a.md"))
}

func TestNewFileStore_noRoots(t *testing.T) {
	_, err := NewFileStore(FileStoreConfig{})
	assert.Error(t, err)
}
