package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirectoryLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "Dogs are mammals too.")
	writeFile(t, filepath.Join(dir, "a.txt"), "Cats are mammals.")
	writeFile(t, filepath.Join(dir, "notes.md"), "ignored")
	writeFile(t, filepath.Join(dir, "sub", "c.TXT"), "Birds lay eggs.")
	writeFile(t, filepath.Join(dir, ".hidden", "d.txt"), "hidden")

	docs, err := NewDirectoryLoader(dir, nil).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "a.txt", docs[0].Path)
	assert.Equal(t, "b.txt", docs[1].Path)
	assert.Equal(t, "sub/c.TXT", docs[2].Path)
	assert.Equal(t, "c.TXT", docs[2].Filename)
	assert.Equal(t, "Cats are mammals.", docs[0].Content)
	assert.Equal(t, id.DocumentID("a.txt"), docs[0].ID)

	again, err := NewDirectoryLoader(dir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, docs[0].ID, again[0].ID, "ids are stable across loads")
}

func TestDirectoryLoader_Extensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "text")
	writeFile(t, filepath.Join(dir, "b.md"), "markdown")

	docs, err := NewDirectoryLoader(dir, []string{"md", ".TXT"}).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestDirectoryLoader_MissingDir(t *testing.T) {
	docs, err := NewDirectoryLoader(filepath.Join(t.TempDir(), "nope"), nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDirectoryLoader_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirectoryLoader(dir, nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
