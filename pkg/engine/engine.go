// Package engine implements the orchestrator of spec.md §4.2: the
// checkpoint/restart state machine, the fixed module dispatch list
// (watchdog, versioning, checksum, L2, L3, L4), and the recovery cascade
// that probes L1 through L4 in ascending cost order. It is the piece
// pkg/client invokes directly in sync mode and that pkg/queue's backend
// worker invokes per dispatched command in async mode.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/strata/pkg/codec"
	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/health"
	"github.com/cuemby/strata/pkg/levels"
	"github.com/cuemby/strata/pkg/metadata"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
)

// State is one position in the per-client state machine of spec.md §4.2:
// Idle -> CheckpointOpen -> Idle and Idle -> RestartOpen -> Idle.
type State int

const (
	StateIdle State = iota
	StateCheckpointOpen
	StateRestartOpen
)

// session is the open checkpoint/restart window's bookkeeping.
type session struct {
	name    string
	version int
}

// Engine is one rank's orchestrator: it owns the four level backends, the
// metadata catalog, the watchdog, and the completion broker, and carries
// exactly one open checkpoint or restart window at a time.
type Engine struct {
	cfg  *config.Config
	c    comm.Communicator
	topo types.GroupTopology

	l1         storage.Backend // scratch/l1
	l2         storage.Backend // scratch/l2 (partner replicas)
	l3         storage.Backend // scratch/l3 (parity shards)
	persistent storage.Backend // persistent POSIX backend
	aggregated *storage.AggregatedBackend

	cat      *metadata.Catalog
	matrix   *codec.Matrix
	watchdog *health.Watchdog
	broker   *events.Broker

	mu    sync.Mutex
	state State
	cur   *session

	lastLevel types.Level
}

// New builds an Engine from cfg, wiring the level backends and metadata
// catalog under cfg.Scratch/cfg.Persistent/cfg.Meta. c and topo are the
// group communicator and topology this rank participates in; for a
// single-rank deployment pass a 1-member comm.NewLocalGroup and a
// GroupTopology with GroupSize 1.
func New(cfg *config.Config, c comm.Communicator, topo types.GroupTopology) (*Engine, error) {
	l1, err := storage.NewPOSIXBackend(cfg.Scratch + "/l1")
	if err != nil {
		return nil, err
	}
	l2, err := storage.NewPOSIXBackend(cfg.Scratch + "/l2")
	if err != nil {
		return nil, err
	}
	l3, err := storage.NewPOSIXBackend(cfg.Scratch + "/l3")
	if err != nil {
		return nil, err
	}
	persistent, err := storage.NewPOSIXBackend(cfg.Persistent)
	if err != nil {
		return nil, err
	}
	cat, err := metadata.Open(cfg.Meta)
	if err != nil {
		return nil, err
	}
	aggregated, err := storage.NewAggregatedBackend(cfg.Persistent, cat)
	if err != nil {
		cat.Close()
		return nil, err
	}
	matrix, err := codec.BuildMatrix(topo.GroupSize)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("engine: building RS matrix for group size %d: %w", topo.GroupSize, err)
	}

	broker := events.NewBroker()
	broker.Start()

	e := &Engine{
		cfg:        cfg,
		c:          c,
		topo:       topo,
		l1:         l1,
		l2:         l2,
		l3:         l3,
		persistent: persistent,
		aggregated: aggregated,
		cat:        cat,
		matrix:     matrix,
		watchdog:   health.NewWatchdog(health.DefaultConfig(cfg.WatchdogInterval)),
		broker:     broker,
		state:      StateIdle,
		lastLevel:  types.L1,
	}
	return e, nil
}

// Observe registers fn for CHECKPOINT_END/RESTART_END notifications; see
// pkg/events.Broker.Observe.
func (e *Engine) Observe(fn types.ObserverFunc) (unsubscribe func()) {
	return e.broker.Observe(fn)
}

// Rank returns this engine's rank in its group communicator.
func (e *Engine) Rank() int {
	return e.c.Rank()
}

// LastLevel reports which level most recently served a checkpoint or
// restart, for diagnostics.
func (e *Engine) LastLevel() types.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastLevel
}

// Close stops the broker and releases the catalog. Safe to call once,
// after the engine is idle.
func (e *Engine) Close() error {
	e.broker.Stop()
	return e.cat.Close()
}

func (e *Engine) begin(name string, version int, want State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return fmt.Errorf("engine: %s already open: %w", e.cur.name, errs.NestedCheckpoint)
	}
	e.state = want
	e.cur = &session{name: name, version: version}
	return nil
}

// ReadScratchL1 reads back whatever bytes are currently staged at id in
// this engine's L1 scratch backend, without checksum verification. Used
// by the async backend worker to pick up a checkpoint payload a client
// process staged directly to the shared scratch/l1 path before enqueuing
// the command that asks this engine to run the module dispatch over it.
func (e *Engine) ReadScratchL1(ctx context.Context, id types.CheckpointIdentity) ([]byte, error) {
	return levels.LoadL1(ctx, e.l1, id, types.LevelMeta{})
}

// Abort discards an open checkpoint window without running the module
// dispatch, releasing the state machine back to Idle. pkg/client calls this
// for checkpoint_end(success=false): the application decided not to commit
// this version (e.g. a post-write validation failed), so nothing should be
// written and the window should simply close.
func (e *Engine) Abort() error {
	if err := e.checkState(StateCheckpointOpen); err != nil {
		return err
	}
	e.finish()
	return nil
}

func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateIdle
	e.cur = nil
}

func (e *Engine) checkState(want State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != want {
		return fmt.Errorf("engine: expected state %d, got %d: %w", want, e.state, errs.WrongState)
	}
	return nil
}

