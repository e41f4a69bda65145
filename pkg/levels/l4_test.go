package levels

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/metadata"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestFlushL4POSIXRoundTrip(t *testing.T) {
	backend, err := storage.NewPOSIXBackend(t.TempDir())
	require.NoError(t, err)

	id := types.CheckpointIdentity{Name: "sim", Rank: 0, Version: 1}
	data := []byte("persistent tier bytes")

	meta, err := FlushL4POSIX(context.Background(), backend, id, data)
	require.NoError(t, err)

	got, err := RestoreL4POSIX(context.Background(), backend, id, meta)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFlushL4AggregatedAcrossGroup(t *testing.T) {
	n := 3
	comms := comm.NewLocalGroup(n)
	dir := t.TempDir()
	cat, err := metadata.Open(dir)
	require.NoError(t, err)
	defer cat.Close()
	backend, err := storage.NewAggregatedBackend(dir, cat)
	require.NoError(t, err)

	payloads := [][]byte{[]byte("rank0"), []byte("rank one segment"), []byte("r2")}
	metas := make([]types.LevelMeta, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			id := types.CheckpointIdentity{Name: "sim", Rank: r, Version: 1}
			m, err := FlushL4(context.Background(), comms[r], 30, config.IOModeAggregated, nil, backend, id, payloads[r])
			require.NoError(t, err)
			metas[r] = m
		}(r)
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		id := types.CheckpointIdentity{Name: "sim", Rank: r, Version: 1}
		got, err := RestoreL4Aggregated(context.Background(), backend, id, metas[r])
		require.NoError(t, err)
		require.Equal(t, payloads[r], got)
	}
}
