package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/cuemby/strata/pkg/metadata"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestAggregatedBackendMultipleRanksShareOneFile(t *testing.T) {
	dir := t.TempDir()
	cat, err := metadata.Open(dir)
	require.NoError(t, err)
	defer cat.Close()

	b, err := NewAggregatedBackend(dir, cat)
	require.NoError(t, err)

	payloads := [][]byte{[]byte("rank zero segment"), []byte("rank one segment, longer"), []byte("rank two")}
	var offset int64
	for rank, p := range payloads {
		id := types.CheckpointIdentity{Name: "sim", Rank: rank, Version: 1, Offset: offset}
		n, err := b.Flush(context.Background(), id, bytes.NewReader(p))
		require.NoError(t, err)
		offset += n
	}

	for rank, p := range payloads {
		id := types.CheckpointIdentity{Name: "sim", Rank: rank, Version: 1}
		require.True(t, b.Exists(id))
		rc, err := b.Restore(context.Background(), id)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		require.Equal(t, p, got[:len(p)])
	}
}

func TestAggregatedBackendRemoveDeletesFileOnlyWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	cat, err := metadata.Open(dir)
	require.NoError(t, err)
	defer cat.Close()

	b, err := NewAggregatedBackend(dir, cat)
	require.NoError(t, err)

	id0 := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: 1, Offset: 0}
	id1 := types.CheckpointIdentity{Name: "sim", Rank: 1, Version: 1, Offset: 4}
	_, err = b.Flush(context.Background(), id0, bytes.NewReader([]byte("abcd")))
	require.NoError(t, err)
	_, err = b.Flush(context.Background(), id1, bytes.NewReader([]byte("efgh")))
	require.NoError(t, err)

	require.NoError(t, b.Remove(id0))
	require.True(t, b.Exists(id1))

	require.NoError(t, b.Remove(id1))
	require.False(t, b.Exists(id1))
}
