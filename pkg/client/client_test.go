package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(
		config.WithScratch(filepath.Join(dir, "scratch")),
		config.WithPersistent(filepath.Join(dir, "persistent")),
	)
	require.NoError(t, cfg.Validate())
	return cfg
}

func singleRankTopology() types.GroupTopology {
	return types.GroupTopology{GroupRank: 0, GroupSize: 1, RingRanks: []int{0}}
}

func TestCheckpointRestartRoundTripSync(t *testing.T) {
	cfg := newTestConfig(t)
	c := comm.NewLocalGroup(1)[0]
	cl, err := NewSync(cfg, c, singleRankTopology())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	a := []byte{1, 2, 3, 4}
	b := []byte("hello checkpoint")
	cl.MemProtect(0, a, "")
	cl.MemProtect(1, b, "")

	res, err := cl.Checkpoint(context.Background(), "sim", 1)
	require.NoError(t, err)
	require.Equal(t, types.Success, res)

	wait, err := cl.CheckpointWait()
	require.NoError(t, err)
	require.Equal(t, types.Success, wait)

	version, ok, err := cl.RestartTest("sim", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, version)

	gotA := make([]byte, len(a))
	gotB := make([]byte, len(b))
	cl.MemClear("")
	cl.MemProtect(0, gotA, "")
	cl.MemProtect(1, gotB, "")

	require.NoError(t, cl.RestartBegin(context.Background(), "sim", 0))
	require.NoError(t, cl.RecoverMem(types.SelectAll, nil, ""))
	require.NoError(t, cl.RestartEnd(true))

	require.Equal(t, a, gotA)
	require.Equal(t, b, gotB)
}

func TestSelectiveRecoveryOnlyTouchesSelectedRegions(t *testing.T) {
	cfg := newTestConfig(t)
	c := comm.NewLocalGroup(1)[0]
	cl, err := NewSync(cfg, c, singleRankTopology())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	regions := [][]byte{{1}, {2}, {3}}
	for id, b := range regions {
		cl.MemProtect(id, b, "")
	}
	_, err = cl.Checkpoint(context.Background(), "sim", 1)
	require.NoError(t, err)

	// overwrite region 0 and 2 with zeros, leave region 1 untouched
	regions[0][0] = 0
	regions[2][0] = 0

	require.NoError(t, cl.RestartBegin(context.Background(), "sim", 0))
	require.NoError(t, cl.RecoverMem(types.SelectSome, []int{0, 2}, ""))
	require.NoError(t, cl.RestartEnd(true))

	require.Equal(t, byte(1), regions[0][0])
	require.Equal(t, byte(2), regions[1][0])
	require.Equal(t, byte(3), regions[2][0])
}

func TestCheckpointEndFalseAbortsWithoutWriting(t *testing.T) {
	cfg := newTestConfig(t)
	c := comm.NewLocalGroup(1)[0]
	cl, err := NewSync(cfg, c, singleRankTopology())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	cl.MemProtect(0, []byte("discarded"), "")
	require.NoError(t, cl.CheckpointBegin("sim", 1))
	require.NoError(t, cl.CheckpointMem(types.SelectAll, nil, ""))
	res, err := cl.CheckpointEnd(context.Background(), false)
	require.Error(t, err)
	require.Equal(t, types.Failure, res)

	_, ok, err := cl.RestartTest("sim", 0)
	require.NoError(t, err)
	require.False(t, ok)

	// the window closed, so a fresh checkpoint is allowed right away
	require.NoError(t, cl.CheckpointBegin("sim", 1))
}

func TestNestedCheckpointBeginRejected(t *testing.T) {
	cfg := newTestConfig(t)
	c := comm.NewLocalGroup(1)[0]
	cl, err := NewSync(cfg, c, singleRankTopology())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	require.NoError(t, cl.CheckpointBegin("sim", 1))
	err = cl.CheckpointBegin("sim", 2)
	require.Error(t, err)
}

func TestRecoverSizeReportsHeaderDeclaredSize(t *testing.T) {
	cfg := newTestConfig(t)
	c := comm.NewLocalGroup(1)[0]
	cl, err := NewSync(cfg, c, singleRankTopology())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	cl.MemProtect(7, make([]byte, 42), "")
	_, err = cl.Checkpoint(context.Background(), "sim", 1)
	require.NoError(t, err)

	require.NoError(t, cl.RestartBegin(context.Background(), "sim", 0))
	size, err := cl.RecoverSize(7)
	require.NoError(t, err)
	require.Equal(t, int64(42), size)

	_, err = cl.RecoverSize(99)
	require.Error(t, err)
}

func TestRegisterObserverReceivesCheckpointEnd(t *testing.T) {
	cfg := newTestConfig(t)
	c := comm.NewLocalGroup(1)[0]
	cl, err := NewSync(cfg, c, singleRankTopology())
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	done := make(chan struct{}, 1)
	unsubscribe, err := cl.RegisterObserver(func(name string, version int) {
		if name == "sim" && version == 1 {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	cl.MemProtect(0, []byte{9}, "")
	_, err = cl.Checkpoint(context.Background(), "sim", 1)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer was never notified")
	}
}
