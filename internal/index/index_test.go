package index

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := Open(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return idx
}

func TestResolve_Missing(t *testing.T) {
	idx := testIndex(t)

	_, ok := idx.Resolve("123")
	assert.False(t, ok)
}

func TestUpdateResolveDelete(t *testing.T) {
	idx := testIndex(t)

	require.NoError(t, idx.Update("123", "Overview"))

	path, ok := idx.Resolve("123")
	require.True(t, ok)
	assert.Equal(t, "Overview", path)

	require.NoError(t, idx.Delete("123"))

	_, ok = idx.Resolve("123")
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, idx.Delete("123"))
}

func TestRewritePrefix(t *testing.T) {
	idx := testIndex(t)

	require.NoError(t, idx.Update("1", "Old"))
	require.NoError(t, idx.Update("2", "Old/children/Child"))
	require.NoError(t, idx.Update("3", "Oldish"))

	require.NoError(t, idx.RewritePrefix("Old", "New"))

	path, _ := idx.Resolve("1")
	assert.Equal(t, "New", path)

	path, _ = idx.Resolve("2")
	assert.Equal(t, "New/children/Child", path)

	// A sibling that merely shares the name prefix is untouched.
	path, _ = idx.Resolve("3")
	assert.Equal(t, "Oldish", path)
}

func TestRebuild_ReplacesEverything(t *testing.T) {
	idx := testIndex(t)

	require.NoError(t, idx.Update("stale", "Gone"))

	n, err := idx.Rebuild(map[string]string{
		"1": "Overview",
		"2": "Overview/children/Child",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := idx.Resolve("stale")
	assert.False(t, ok)

	path, ok := idx.Resolve("1")
	require.True(t, ok)
	assert.Equal(t, "Overview", path)
}

func TestOpen_RecreatesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not a bolt db"), 0o600))

	idx, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Update("1", "Overview"))

	path, ok := idx.Resolve("1")
	require.True(t, ok)
	assert.Equal(t, "Overview", path)
}
