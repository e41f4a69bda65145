package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/engine"
	"github.com/cuemby/strata/pkg/queue"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

// startTestBackend builds an Engine and a queue.Server fronting it, sharing
// cfg with the async Client under test the way a real deployment's client
// process and backend worker process would share a scratch mount.
func startTestBackend(t *testing.T, dir string) string {
	t.Helper()
	cfg := newTestConfig(t)
	cfg.Scratch = filepath.Join(dir, "scratch")
	cfg.Persistent = filepath.Join(dir, "persistent")
	cfg.Meta = filepath.Join(cfg.Scratch, "meta")
	require.NoError(t, cfg.Validate())

	eng, err := engine.New(cfg, comm.NewLocalGroup(1)[0], singleRankTopology())
	require.NoError(t, err)

	sockPath := filepath.Join(dir, "strata.sock")
	srv, err := queue.NewServer(sockPath, 2, BackendHandler(eng))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Close()
	})
	return sockPath
}

func TestAsyncClientCheckpointRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := startTestBackend(t, dir)

	cfg := newTestConfig(t)
	cfg.Scratch = filepath.Join(dir, "scratch")
	cfg.Persistent = filepath.Join(dir, "persistent")
	cfg.Meta = filepath.Join(cfg.Scratch, "meta")
	cfg.Mode = config.ModeAsync

	var cl *Client
	require.Eventually(t, func() bool {
		c, err := NewAsync(cfg, nil, sockPath)
		if err != nil {
			return false
		}
		cl = c
		return true
	}, time.Second, 10*time.Millisecond)
	t.Cleanup(func() { cl.Close() })

	payload := []byte("async round trip payload")
	cl.MemProtect(0, payload, "")

	res, err := cl.Checkpoint(context.Background(), "sim", 1)
	require.NoError(t, err)
	require.Equal(t, types.Ignored, res)

	wait, err := cl.CheckpointWait()
	require.NoError(t, err)
	require.Equal(t, types.Success, wait)

	version, ok, err := cl.RestartTest("sim", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, version)

	got := make([]byte, len(payload))
	cl.MemClear("")
	cl.MemProtect(0, got, "")

	require.NoError(t, cl.RestartBegin(context.Background(), "sim", 0))
	require.NoError(t, cl.RecoverMem(types.SelectAll, nil, ""))
	require.NoError(t, cl.RestartEnd(true))
	require.Equal(t, payload, got)
}
