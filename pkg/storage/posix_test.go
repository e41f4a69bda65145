package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestPOSIXBackendFlushAndRestore(t *testing.T) {
	dir := t.TempDir()
	b, err := NewPOSIXBackend(dir)
	require.NoError(t, err)

	id := types.CheckpointIdentity{Name: "sim", Rank: 2, Version: 1}
	payload := []byte("checkpoint payload bytes")

	n, err := b.Flush(context.Background(), id, bytes.NewReader(payload))
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)
	require.True(t, b.Exists(id))

	rc, err := b.Restore(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPOSIXBackendVersions(t *testing.T) {
	dir := t.TempDir()
	b, err := NewPOSIXBackend(dir)
	require.NoError(t, err)

	for _, v := range []int{3, 1, 2} {
		id := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: v}
		_, err := b.Flush(context.Background(), id, bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}
	versions, err := b.Versions("sim")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, versions)
}

func TestPOSIXBackendRemove(t *testing.T) {
	dir := t.TempDir()
	b, err := NewPOSIXBackend(dir)
	require.NoError(t, err)

	id := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: 1}
	_, err = b.Flush(context.Background(), id, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.NoError(t, b.Remove(id))
	require.False(t, b.Exists(id))
	require.NoError(t, b.Remove(id)) // idempotent
}

func TestPOSIXBackendFlushSymlinksFileModeCheckpoints(t *testing.T) {
	dir := t.TempDir()
	b, err := NewPOSIXBackend(dir)
	require.NoError(t, err)

	original := filepath.Join(dir, "original.bin")
	require.NoError(t, os.WriteFile(original, []byte("original file contents"), 0o644))

	id := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: 1, OriginalPath: original}
	_, err = b.Flush(context.Background(), id, nil)
	require.NoError(t, err)

	link := b.path(id)
	target, err := os.Readlink(link)
	require.NoError(t, err)
	require.Equal(t, original, target)
}
