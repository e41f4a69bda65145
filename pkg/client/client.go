// Package client implements the per-process handle of spec.md §4.1: the
// memory-region registry, header assembly/parsing for checkpoint and
// restart, and the dispatch split between sync mode (invoking pkg/engine
// inline) and async mode (enqueuing through pkg/queue to a backend worker
// running pkg/engine in its own process). Grounded on the teacher's
// pkg/client.Client — a thin per-caller wrapper around a shared backend —
// re-themed from a gRPC service client to this library's checkpoint API,
// since spec.md §4.8's fixed-size wire record forecloses an RPC framework
// (see DESIGN.md).
package client

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/engine"
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/queue"
	"github.com/cuemby/strata/pkg/registry"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
)

// tags for the client-level collective reductions RestartTest runs, kept
// separate from (and ahead of, never concurrent with) the engine's own
// cascade tags.
const (
	tagRestartTestVersion = 990
	tagRestartTestOK      = 991
)

type windowKind int

const (
	windowNone windowKind = iota
	windowCheckpoint
	windowRestart
)

// window is the state one open checkpoint_begin/end or restart_begin/end
// call carries between its Begin and Mem/End calls.
type window struct {
	kind    windowKind
	name    string
	version int

	pending []byte // checkpoint: assembled header+payload, staged by CheckpointMem

	header  types.Header // restart: parsed once in RestartBegin
	payload []byte       // restart: region bytes following the header
}

// Client is one application process's handle onto the checkpoint engine:
// it owns the memory-region registry and, depending on cfg.Mode, either an
// in-process *engine.Engine or a *queue.Client dialed to a backend worker.
type Client struct {
	cfg *config.Config
	reg *registry.Registry
	c   comm.Communicator // optional; nil for a single-rank client

	eng  *engine.Engine  // sync mode
	qcli *queue.Client   // async mode
	l1   storage.Backend // async mode only: shared scratch/l1 read/write path

	mu         sync.Mutex
	cur        *window
	lastResult types.Result
}

// NewSync builds a Client that invokes the orchestrator inline. c and topo
// describe this rank's group, as engine.New expects; pass a single-member
// group and a GroupSize-1 topology for a standalone process.
func NewSync(cfg *config.Config, c comm.Communicator, topo types.GroupTopology) (*Client, error) {
	eng, err := engine.New(cfg, c, topo)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, reg: registry.New(), c: c, eng: eng}, nil
}

// NewAsync builds a Client that dispatches through the backend worker
// listening on sockPath (see queue.DefaultSocketPath). c is optional and
// only used for the group-collective parts of RestartTest/RestartBegin;
// pass nil for a client with no peers.
func NewAsync(cfg *config.Config, c comm.Communicator, sockPath string) (*Client, error) {
	qcli, err := queue.Dial(sockPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	l1, err := storage.NewPOSIXBackend(cfg.Scratch + "/l1")
	if err != nil {
		qcli.Close()
		return nil, err
	}
	return &Client{cfg: cfg, reg: registry.New(), c: c, qcli: qcli, l1: l1}, nil
}

// Close releases whichever backend handle this Client owns.
func (cl *Client) Close() error {
	if cl.eng != nil {
		return cl.eng.Close()
	}
	if cl.qcli != nil {
		cl.qcli.Close()
	}
	return nil
}

func (cl *Client) rank() int {
	if cl.c != nil {
		return cl.c.Rank()
	}
	return 0
}

func (cl *Client) setWindow(w *window) {
	cl.mu.Lock()
	cl.cur = w
	cl.mu.Unlock()
}

func (cl *Client) closeWindow() {
	cl.setWindow(nil)
}

func (cl *Client) window(kind windowKind) (*window, error) {
	cl.mu.Lock()
	w := cl.cur
	cl.mu.Unlock()
	if w == nil || w.kind != kind {
		return nil, fmt.Errorf("client: %w", errs.WrongState)
	}
	return w, nil
}

// MemProtect registers a raw byte-slice region under scope, per spec.md
// §4.1's mem_protect(id, ptr, count, elem_size, scope) overload: b's
// length already carries count*elem_size. Re-registering id replaces the
// mapping (idempotent replacement) while keeping its registration order.
func (cl *Client) MemProtect(id int, b []byte, scope string) {
	cl.reg.Protect(scope, registry.NewRaw(id, b))
}

// MemProtectCustom registers a region backed by an application-supplied
// serializer/deserializer pair, per spec.md §4.1's second mem_protect
// overload.
func (cl *Client) MemProtectCustom(id int, size func() int64, ser registry.Serializer, de registry.Deserializer, scope string) {
	cl.reg.Protect(scope, registry.NewCustom(id, size, ser, de))
}

// MemUnprotect removes id from scope.
func (cl *Client) MemUnprotect(id int, scope string) {
	cl.reg.Unprotect(scope, id)
}

// MemClear removes every region registered under scope.
func (cl *Client) MemClear(scope string) {
	cl.reg.Clear(scope)
}

// RouteFile returns the scratch-local path an application should write
// original's bytes to instead of its usual location, so a subsequent
// checkpoint can find and protect them under the engine's scratch mount.
func (cl *Client) RouteFile(original string) (string, error) {
	return routeFilePath(cl.cfg.Scratch, original)
}

// CheckpointBegin opens a checkpoint window for (name, version).
func (cl *Client) CheckpointBegin(name string, version int) error {
	cl.mu.Lock()
	open := cl.cur != nil
	cl.mu.Unlock()
	if open {
		return fmt.Errorf("client: %w", errs.NestedCheckpoint)
	}
	if cl.eng != nil {
		if err := cl.eng.CheckpointBegin(name, version); err != nil {
			return err
		}
	}
	cl.setWindow(&window{kind: windowCheckpoint, name: name, version: version})
	return nil
}

// CheckpointMem selects regions from scope per mode/ids and assembles them
// (header first, then payloads in selection order) into the window's
// pending buffer. May be called more than once before CheckpointEnd; each
// call replaces the previously assembled buffer.
func (cl *Client) CheckpointMem(mode types.SelectionMode, ids []int, scope string) error {
	w, err := cl.window(windowCheckpoint)
	if err != nil {
		return err
	}
	regions, err := cl.reg.Select(scope, mode, ids)
	if err != nil {
		return err
	}
	payload, err := buildCheckpointPayload(regions)
	if err != nil {
		return err
	}
	w.pending = payload
	return nil
}

// CheckpointEnd commits (success=true) or discards (success=false) the
// open checkpoint window. On commit in sync mode the orchestrator's full
// module dispatch runs inline and the folded Result is returned directly;
// in async mode the payload is staged to the shared scratch/l1 path and a
// CHECKPOINT command is enqueued, returning types.Ignored since the real
// result is only known once CheckpointWait returns.
func (cl *Client) CheckpointEnd(ctx context.Context, success bool) (types.Result, error) {
	w, err := cl.window(windowCheckpoint)
	if err != nil {
		return types.Failure, err
	}
	if !success {
		cl.closeWindow()
		if cl.eng != nil {
			return types.Failure, cl.eng.Abort()
		}
		return types.Failure, nil
	}

	if cl.eng != nil {
		res, err := cl.eng.Checkpoint(ctx, w.pending)
		cl.closeWindow()
		cl.lastResult = res
		return res, err
	}

	id := types.CheckpointIdentity{Name: w.name, Rank: cl.rank(), Version: w.version}
	if _, err := cl.l1.Flush(ctx, id, bytes.NewReader(w.pending)); err != nil {
		cl.closeWindow()
		return types.Failure, fmt.Errorf("client: staging checkpoint to scratch: %w", err)
	}
	_, err = cl.qcli.Enqueue(types.Command{
		Kind:    types.CmdCheckpoint,
		Name:    w.name,
		Version: int32(w.version),
		Path:    id.Stem(),
	})
	cl.closeWindow()
	if err != nil {
		return types.Failure, fmt.Errorf("client: %v: %w", err, errs.QueueFailure)
	}
	return types.Ignored, nil
}

// Checkpoint is the convenience op of spec.md §4.1's operation list: a
// full checkpoint_begin / checkpoint_mem(ALL) / checkpoint_end(true) round
// trip over every region registered in the unnamed scope.
func (cl *Client) Checkpoint(ctx context.Context, name string, version int) (types.Result, error) {
	if err := cl.CheckpointBegin(name, version); err != nil {
		return types.Failure, err
	}
	if err := cl.CheckpointMem(types.SelectAll, nil, ""); err != nil {
		_, _ = cl.CheckpointEnd(ctx, false)
		return types.Failure, err
	}
	return cl.CheckpointEnd(ctx, true)
}

// CheckpointWait blocks until the most recently submitted checkpoint
// completes. In sync mode it returns immediately with the result
// CheckpointEnd already computed; in async mode it blocks on the backend
// worker's reply.
func (cl *Client) CheckpointWait() (types.Result, error) {
	if cl.eng != nil {
		return cl.lastResult, nil
	}
	result, err := cl.qcli.WaitCompletion()
	if err != nil {
		return types.Failure, fmt.Errorf("client: %v: %w", err, errs.QueueFailure)
	}
	return result, nil
}

// RestartTest resolves name's restartable version without opening a
// restart window: the highest version <= requested, or the latest overall
// if requested is 0. When this Client was built with a communicator the
// result is group-agreed per spec.md §4.1: the group-minimum of each
// rank's candidate version, and group-AND of whether every rank has one.
func (cl *Client) RestartTest(name string, requested int) (version int, ok bool, err error) {
	if cl.eng != nil {
		version, ok, err = cl.eng.Test(name, requested)
	} else {
		version, ok, err = testViaSidecar(cl.cfg.Scratch, name, requested)
	}
	if err != nil {
		return 0, false, err
	}
	if cl.c == nil {
		return version, ok, nil
	}

	vote := version
	if !ok {
		vote = math.MaxInt
	}
	minVersion, err := cl.c.AllReduceMin(context.Background(), tagRestartTestVersion, vote)
	if err != nil {
		return 0, false, err
	}
	allOK, err := cl.c.AllReduceAnd(context.Background(), tagRestartTestOK, ok)
	if err != nil {
		return 0, false, err
	}
	if !allOK {
		return 0, false, nil
	}
	return minVersion, true, nil
}

// RestartBegin resolves and opens a restart window for name (via
// RestartTest), runs the recovery cascade (sync mode: pkg/engine directly;
// async mode: a RESTART command to the backend worker, then reading the
// restaged scratch/l1 file the backend left behind), and stages the
// recovered header/payload for RecoverMem.
func (cl *Client) RestartBegin(ctx context.Context, name string, requested int) error {
	cl.mu.Lock()
	open := cl.cur != nil
	cl.mu.Unlock()
	if open {
		return fmt.Errorf("client: %w", errs.NestedCheckpoint)
	}
	version, ok, err := cl.RestartTest(name, requested)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("client: no checkpoint found for %s: %w", name, errs.GroupUnrecoverable)
	}

	var data []byte
	if cl.eng != nil {
		data, version, err = cl.eng.RestartBegin(ctx, name, version)
		if err != nil {
			return err
		}
	} else {
		if _, err := cl.qcli.Enqueue(types.Command{Kind: types.CmdRestart, Name: name, Version: int32(version)}); err != nil {
			return fmt.Errorf("client: %v: %w", err, errs.QueueFailure)
		}
		result, err := cl.qcli.WaitCompletion()
		if err != nil {
			return fmt.Errorf("client: %v: %w", err, errs.QueueFailure)
		}
		if result == types.Failure {
			return fmt.Errorf("client: restart %s v%d: %w", name, version, errs.GroupUnrecoverable)
		}
		id := types.CheckpointIdentity{Name: name, Rank: cl.rank(), Version: version}
		rc, err := cl.l1.Restore(ctx, id)
		if err != nil {
			return fmt.Errorf("client: reading restaged checkpoint: %w", err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return fmt.Errorf("client: reading restaged checkpoint: %w", err)
		}
		data = buf.Bytes()
	}

	h, payload, err := splitCheckpointPayload(data)
	if err != nil {
		return err
	}
	cl.setWindow(&window{kind: windowRestart, name: name, version: version, header: h, payload: payload})
	return nil
}

// RecoverMem writes the recovered payload back into the selected regions
// of scope, in header order; regions the header carries but the caller
// did not select are skipped over.
func (cl *Client) RecoverMem(mode types.SelectionMode, ids []int, scope string) error {
	w, err := cl.window(windowRestart)
	if err != nil {
		return err
	}
	regions, err := cl.reg.Select(scope, mode, ids)
	if err != nil {
		return err
	}
	selected := make(map[int32]registry.Region, len(regions))
	for _, r := range regions {
		selected[int32(r.ID())] = r
	}
	return restoreRegions(w.header, w.payload, selected)
}

// RestartEnd closes the open restart window. success is accepted for
// symmetry with checkpoint_end but otherwise informational: the recovered
// data was already durably staged by RestartBegin before this call.
func (cl *Client) RestartEnd(success bool) error {
	if _, err := cl.window(windowRestart); err != nil {
		return err
	}
	cl.closeWindow()
	return nil
}

// RecoverSize reports the byte size recorded for id in the currently open
// restart window's header, per spec.md §4.1's recover_size(id) -> bytes.
func (cl *Client) RecoverSize(id int) (int64, error) {
	w, err := cl.window(windowRestart)
	if err != nil {
		return 0, err
	}
	for _, rh := range w.header.Regions {
		if int(rh.ID) == id {
			return int64(rh.Size), nil
		}
	}
	return 0, fmt.Errorf("client: region %d: %w", id, errs.UnknownRegion)
}

// RegisterObserver wires fn to the engine's completion broker; see
// pkg/events.Broker.Observe. Only available in sync mode: an async
// client's completion notifications are the backend worker process's own
// concern, not this one's.
func (cl *Client) RegisterObserver(fn types.ObserverFunc) (unsubscribe func(), err error) {
	if cl.eng == nil {
		return nil, fmt.Errorf("client: register_observer requires sync mode: %w", errs.Unsupported)
	}
	return cl.eng.Observe(fn), nil
}

// testViaSidecar resolves RestartTest for an async Client by reading the
// plain-file version sidecar the backend worker's Engine maintains under
// scratch, rather than opening the bbolt metadata catalog directly: that
// file is owned by the backend worker process for its own Engine's
// lifetime, and a second process opening it read-write would contend for
// the same lock a same-process double-open would deadlock on.
func testViaSidecar(scratchDir, name string, requested int) (version int, ok bool, err error) {
	versions, _, err := engine.ReadVersionsSidecar(scratchDir, name)
	if err != nil {
		return 0, false, err
	}
	if len(versions) == 0 {
		return 0, false, nil
	}
	if requested == 0 {
		return versions[len(versions)-1], true, nil
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i] <= requested {
			return versions[i], true, nil
		}
	}
	return 0, false, nil
}

// BackendHandler adapts eng into a queue.Handler for the async backend
// worker process: a CHECKPOINT command reads the scratch file a client
// staged before enqueuing and runs it through CheckpointBegin/Checkpoint;
// a RESTART command runs RestartBegin. INIT/STATUS/TEST are acknowledged
// as SUCCESS — STATUS's queue-drained semantics are provided by
// pkg/queue.Server itself (every enqueued command gets exactly one
// reply), and TEST is resolved client-side against the shared versions
// sidecar (see Client.RestartTest, engine.ReadVersionsSidecar) rather
// than round-tripping through the worker.
func BackendHandler(eng *engine.Engine) queue.Handler {
	return func(ctx context.Context, cmd types.Command) types.Result {
		switch cmd.Kind {
		case types.CmdCheckpoint:
			return backendCheckpoint(ctx, eng, cmd)
		case types.CmdRestart:
			return backendRestart(ctx, eng, cmd)
		case types.CmdInit, types.CmdStatus, types.CmdTest:
			return types.Success
		default:
			return types.Failure
		}
	}
}

func backendCheckpoint(ctx context.Context, eng *engine.Engine, cmd types.Command) types.Result {
	id := types.CheckpointIdentity{Name: cmd.Name, Rank: eng.Rank(), Version: int(cmd.Version)}
	if err := id.Validate(); err != nil {
		return types.Failure
	}
	data, err := eng.ReadScratchL1(ctx, id)
	if err != nil {
		return types.Failure
	}
	if err := eng.CheckpointBegin(cmd.Name, int(cmd.Version)); err != nil {
		return types.Failure
	}
	result, err := eng.Checkpoint(ctx, data)
	if err != nil {
		return types.Failure
	}
	return result
}

func backendRestart(ctx context.Context, eng *engine.Engine, cmd types.Command) types.Result {
	if _, _, err := eng.RestartBegin(ctx, cmd.Name, int(cmd.Version)); err != nil {
		return types.Failure
	}
	return types.Success
}
