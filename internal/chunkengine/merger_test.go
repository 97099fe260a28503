package chunkengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergerOrdersChunksByStartRegardlessOfInputOrder(t *testing.T) {
	dir := t.TempDir()

	writeTemp := func(name string, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	// Deliberately out of Start order to prove Merge sorts before writing.
	chunks := []*Chunk{
		{ID: 2, Start: 10, End: 14, TempFile: writeTemp("c2", "MNOPQ")},
		{ID: 0, Start: 0, End: 4, TempFile: writeTemp("c0", "ABCDE")},
		{ID: 1, Start: 5, End: 9, Data: []byte("FGHIJ")},
	}

	dest := filepath.Join(dir, "out.bin")
	m := Merger{}
	require.NoError(t, m.Merge(dest, chunks))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJMNOPQ", string(got))
}

func TestMergerCleanTempRemovesOnDiskChunksOnly(t *testing.T) {
	dir := t.TempDir()
	tempPath := filepath.Join(dir, "chunk0")
	require.NoError(t, os.WriteFile(tempPath, []byte("data"), 0644))

	chunks := []*Chunk{
		{ID: 0, TempFile: tempPath},
		{ID: 1, Data: []byte("in-memory, nothing to remove")},
	}

	m := Merger{}
	m.CleanTemp(chunks)

	_, err := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err), "on-disk temp file must be removed")
}

func TestMergerErrorsWhenChunkHasNoBackingStore(t *testing.T) {
	dir := t.TempDir()
	chunks := []*Chunk{{ID: 0, Start: 0, End: 3}}
	dest := filepath.Join(dir, "out.bin")

	m := Merger{}
	err := m.Merge(dest, chunks)
	assert.Error(t, err)
}
