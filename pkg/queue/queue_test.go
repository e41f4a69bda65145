package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCommandRoundTrip(t *testing.T) {
	cmd := types.Command{
		UniqueID: "11111111-1111-1111-1111-111111111111",
		Kind:     types.CmdCheckpoint,
		Version:  7,
		Name:     "sim",
		Path:     "/data/sim.dat",
		Offset:   4096,
	}
	buf, err := EncodeCommand(cmd)
	require.NoError(t, err)
	require.Len(t, buf, recordLen)

	got, err := DecodeCommand(buf)
	require.NoError(t, err)
	require.Equal(t, cmd, got)
}

func TestEncodeCommandRejectsOversizedName(t *testing.T) {
	cmd := types.Command{Name: string(make([]byte, types.CommandRecordNameLen+1))}
	_, err := EncodeCommand(cmd)
	require.Error(t, err)
}

func TestServerDispatchesEnqueuedCommand(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "strata.sock")

	handled := make(chan types.Command, 1)
	srv, err := NewServer(sockPath, 2, func(ctx context.Context, cmd types.Command) types.Result {
		handled <- cmd
		return types.Success
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	var cli *Client
	require.Eventually(t, func() bool {
		c, err := Dial(sockPath)
		if err != nil {
			return false
		}
		cli = c
		return true
	}, time.Second, 10*time.Millisecond)
	defer cli.Close()

	cmd := types.Command{Kind: types.CmdCheckpoint, Name: "sim", Version: 1}
	sent, err := cli.Enqueue(cmd)
	require.NoError(t, err)
	require.NotEmpty(t, sent.UniqueID)

	select {
	case got := <-handled:
		require.Equal(t, sent.UniqueID, got.UniqueID)
		require.Equal(t, "sim", got.Name)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	result, err := cli.WaitCompletion()
	require.NoError(t, err)
	require.Equal(t, types.Success, result)
}

// TestServerPreservesReplyOrderOnPipelinedConnection enqueues several
// commands back-to-back on one connection before reading any results, with
// the handler deliberately finishing them out of dispatch order (earlier
// commands sleep longer). WaitCompletion must still return results in the
// order the commands were sent, per Client's documented contract.
func TestServerPreservesReplyOrderOnPipelinedConnection(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "strata.sock")

	n := 6
	srv, err := NewServer(sockPath, n, func(ctx context.Context, cmd types.Command) types.Result {
		time.Sleep(time.Duration(n-int(cmd.Version)) * 5 * time.Millisecond)
		return types.Result(cmd.Version)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	var cli *Client
	require.Eventually(t, func() bool {
		c, err := Dial(sockPath)
		if err != nil {
			return false
		}
		cli = c
		return true
	}, time.Second, 10*time.Millisecond)
	defer cli.Close()

	for i := 0; i < n; i++ {
		_, err := cli.Enqueue(types.Command{Kind: types.CmdCheckpoint, Version: int32(i)})
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		result, err := cli.WaitCompletion()
		require.NoError(t, err)
		require.Equal(t, types.Result(i), result, "reply %d arrived out of send order", i)
	}
}

func TestServerHandlesMultipleClientsConcurrently(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "strata.sock")

	srv, err := NewServer(sockPath, 4, func(ctx context.Context, cmd types.Command) types.Result {
		if cmd.Version < 0 {
			return types.Failure
		}
		return types.Success
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	n := 5
	results := make(chan types.Result, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			var cli *Client
			require.Eventually(t, func() bool {
				c, err := Dial(sockPath)
				if err != nil {
					return false
				}
				cli = c
				return true
			}, time.Second, 10*time.Millisecond)
			defer cli.Close()

			_, err := cli.Enqueue(types.Command{Kind: types.CmdCheckpoint, Version: int32(i)})
			require.NoError(t, err)
			r, err := cli.WaitCompletion()
			require.NoError(t, err)
			results <- r
		}(i)
	}

	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			require.Equal(t, types.Success, r)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for client result")
		}
	}
}
