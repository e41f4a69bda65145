package levels

import (
	"context"
	"strings"
	"testing"

	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestStoreAndLoadL1(t *testing.T) {
	backend, err := storage.NewPOSIXBackend(t.TempDir())
	require.NoError(t, err)

	id := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: 1}
	data := []byte("local checkpoint bytes")

	meta, err := StoreL1(context.Background(), backend, id, data)
	require.NoError(t, err)
	require.True(t, meta.Exists)
	require.EqualValues(t, len(data), meta.LocalFileSize)

	got, err := LoadL1(context.Background(), backend, id, meta)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestLoadL1DetectsChecksumMismatch(t *testing.T) {
	backend, err := storage.NewPOSIXBackend(t.TempDir())
	require.NoError(t, err)

	id := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: 1}
	meta, err := StoreL1(context.Background(), backend, id, []byte("original"))
	require.NoError(t, err)

	_, err = backend.Flush(context.Background(), id, strings.NewReader("tampered!"))
	require.NoError(t, err)

	_, err = LoadL1(context.Background(), backend, id, meta)
	require.Error(t, err)
}
