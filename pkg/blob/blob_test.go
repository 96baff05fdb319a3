package blob

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awalker/dfs/pkg/wire"
)

func TestStore_LastModified(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ts, err := store.LastModified("missing.txt")
	require.NoError(t, err)
	assert.Equal(t, wire.AbsentTimestamp, ts, "a missing file reports the absent sentinel, not an error")

	before := time.Now().Add(-time.Second).UnixMilli()
	require.NoError(t, store.WriteAtomic("present.txt", []byte("data")))

	ts, err = store.LastModified("present.txt")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, before)
}

func TestStore_WriteAtomicThenReadAll(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("Writed by Client A!")
	require.NoError(t, store.WriteAtomic("test.txt", content))

	got, err := store.ReadAll("test.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Overwrite completely replaces the previous content.
	require.NoError(t, store.WriteAtomic("test.txt", []byte("v2")))
	got, err = store.ReadAll("test.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestStore_WriteAtomicCreatesParents(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteAtomic("a/b/c.txt", []byte("nested")))
	got, err := store.ReadAll("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("nested"), got)
}

func TestStore_WriteAtomicLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, store.WriteAtomic("test.txt", []byte("data")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"test.txt"}, names)
}

func TestStore_ReadAllMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.ReadAll("missing.txt")
	assert.Error(t, err)
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	parent := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))
	store, err := NewStore(filepath.Join(parent, "root"))
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
	}{
		{name: "plain traversal", path: "../secret.txt"},
		{name: "nested traversal", path: "a/../../secret.txt"},
		{name: "absolute-looking traversal", path: "../../../../etc/passwd"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := store.LastModified(test.path)
			assert.Error(t, err)

			_, err = store.ReadAll(test.path)
			assert.Error(t, err)

			assert.Error(t, store.WriteAtomic(test.path, []byte("overwritten")))
		})
	}

	// Nothing outside the root was touched.
	data, err := os.ReadFile(filepath.Join(parent, "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), data)
}
