package engine

import (
	"context"
	"fmt"

	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/levels"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog/log"
)

// tag namespace: each module gets a block of tags wide enough for the
// AllGather rounds it uses internally (L3's DecodeL3 alone spans 5). The
// checkpoint path offsets its tags by the session's version (tagBase) so
// concurrent versions of the same checkpoint never collide on the same
// communicator tag; the recovery cascade in restart.go uses them as-is.
const (
	tagL2Protect = 100
	tagL2Recover = 200
	tagL3Encode  = 300
	tagL3Decode  = 400
	tagL4Offset  = 500
)

func (e *Engine) tagBase(tag int) int {
	e.mu.Lock()
	v := 0
	if e.cur != nil {
		v = e.cur.version
	}
	e.mu.Unlock()
	return tag + v*1000
}

// CheckpointBegin opens a checkpoint window for (name, version). Rejects
// with errs.NestedCheckpoint if a window is already open.
func (e *Engine) CheckpointBegin(name string, version int) error {
	id := types.CheckpointIdentity{Name: name, Version: version}
	if err := id.Validate(); err != nil {
		return err
	}
	return e.begin(name, version, StateCheckpointOpen)
}

// Checkpoint runs the full checkpoint pipeline for data (the header+region
// bytes the client has already assembled) and folds the module dispatch
// list's results per spec.md §4.2. A window must already be open via
// CheckpointBegin.
func (e *Engine) Checkpoint(ctx context.Context, data []byte) (types.Result, error) {
	if err := e.checkState(StateCheckpointOpen); err != nil {
		return types.Failure, err
	}
	e.mu.Lock()
	name, version := e.cur.name, e.cur.version
	e.mu.Unlock()

	timer := metrics.NewTimer()
	id := types.CheckpointIdentity{Name: name, Rank: e.c.Rank(), Version: version}
	watchdogID := fmt.Sprintf("%s-%d-%d", name, e.c.Rank(), version)

	results := make([]types.Result, 0, 6)

	// watchdog: liveness tracking only, never itself fails the fold.
	e.watchdog.Start(watchdogID)
	results = append(results, types.Success)

	// versioning: retention trim runs best-effort after the fold below,
	// once the write has landed; it contributes no result of its own.

	l1Meta, err := levels.StoreL1(ctx, e.l1, id, data)
	if err != nil {
		e.watchdog.Stop(watchdogID)
		metrics.CheckpointFailuresTotal.WithLabelValues(name).Inc()
		return types.Failure, fmt.Errorf("engine: l1 store: %w", err)
	}

	// checksum: StoreL1 always computes one; IGNORED only if the
	// deployment has disabled checksumming outright.
	if e.cfg.Chksum {
		results = append(results, types.Success)
	} else {
		results = append(results, types.Ignored)
	}

	// L2: partner ring replication, skipped for a singleton group. The
	// replica this rank receives is of its left neighbor's data, stored
	// under that neighbor's rank so RecoverL2 can later serve it back.
	var l2Result types.Result
	var l2Meta types.LevelMeta
	if e.topo.GroupSize > 1 {
		replicaOfLeft, err := levels.ProtectL2(ctx, e.c, e.topo, e.tagBase(tagL2Protect), data)
		if err != nil {
			log.Warn().Err(err).Str("checkpoint", name).Msg("engine: l2 protect failed")
			l2Result = types.Failure
		} else {
			leftID := types.CheckpointIdentity{Name: name, Rank: e.topo.Left(), Version: version}
			m, err := levels.StoreL1(ctx, e.l2, leftID, replicaOfLeft)
			if err != nil {
				log.Warn().Err(err).Str("checkpoint", name).Msg("engine: l2 replica store failed")
				l2Result = types.Failure
			} else {
				l2Meta = m
				l2Result = types.Success
			}
		}
	} else {
		l2Result = types.Ignored
	}
	results = append(results, l2Result)

	// L3: Reed-Solomon parity, skipped for a singleton group.
	var l3Result types.Result
	var l3Meta types.LevelMeta
	if e.topo.GroupSize > 1 {
		parity, maxFileSize, err := levels.EncodeL3(ctx, e.c, e.tagBase(tagL3Encode), e.matrix, e.topo.GroupRank, e.cfg.BlockSize, data)
		if err != nil {
			log.Warn().Err(err).Str("checkpoint", name).Msg("engine: l3 encode failed")
			l3Result = types.Failure
		} else {
			ecID := types.CheckpointIdentity{Name: name, Rank: types.RankEC, Version: version}
			m, err := levels.StoreL1(ctx, e.l3, ecID, parity)
			if err != nil {
				l3Result = types.Failure
			} else {
				m.MaxFileSize = maxFileSize
				l3Meta = m
				l3Result = types.Success
			}
		}
	} else {
		l3Result = types.Ignored
	}
	results = append(results, l3Result)

	// L4: persistent flush, always runs.
	l4Meta, err := levels.FlushL4(ctx, e.c, e.tagBase(tagL4Offset), e.cfg.IOMode, e.persistent, e.aggregated, id, data)
	var l4Result types.Result
	if err != nil {
		log.Warn().Err(err).Str("checkpoint", name).Msg("engine: l4 flush failed")
		l4Result = types.Failure
	} else {
		l4Result = types.Success
	}
	results = append(results, l4Result)

	folded := types.FoldResult(results...)

	if folded != types.Failure {
		if err := e.publishCheckpoint(name, version, id, l1Meta, l2Meta, l3Meta, l4Meta, l2Result == types.Success); err != nil {
			log.Warn().Err(err).Str("checkpoint", name).Msg("engine: publishing metadata")
		}
		e.trimVersions(name)
		if err := e.writeVersionsSidecar(name); err != nil {
			log.Warn().Err(err).Str("checkpoint", name).Msg("engine: writing versions sidecar")
		}
	}

	e.watchdog.Stop(watchdogID)
	e.finish()

	metrics.CheckpointsTotal.WithLabelValues(name, types.L4.String()).Inc()
	if folded == types.Failure {
		metrics.CheckpointFailuresTotal.WithLabelValues(name).Inc()
	}
	timer.ObserveDurationVec(metrics.CheckpointDuration, types.L4.String())

	e.broker.Publish(&events.Event{Kind: types.EventCheckpointEnd, Name: name, Version: version})

	e.mu.Lock()
	e.lastLevel = types.L4
	e.mu.Unlock()

	if folded == types.Failure {
		return folded, fmt.Errorf("engine: checkpoint %s v%d: module dispatch reported failure", name, version)
	}
	return folded, nil
}

func (e *Engine) publishCheckpoint(name string, version int, id types.CheckpointIdentity, l1, l2, l3, l4 types.LevelMeta, l2Stored bool) error {
	if err := e.cat.RecordVersion(name, version); err != nil {
		return err
	}
	if err := e.cat.PutLevelMeta(name, id.Rank, types.L1, version, l1); err != nil {
		return err
	}
	if l2Stored {
		if err := e.cat.PutLevelMeta(name, e.topo.Left(), types.L2, version, l2); err != nil {
			return err
		}
	}
	if e.topo.GroupSize > 1 {
		if err := e.cat.PutLevelMeta(name, id.Rank, types.L3, version, l3); err != nil {
			return err
		}
	}
	return e.cat.PutLevelMeta(name, id.Rank, types.L4, version, l4)
}

// trimVersions enforces cfg.MaxVersions retention: once name has more
// recorded versions than the configured maximum, the oldest are removed
// from every level backend and the catalog. Best-effort: a removal
// failure is logged, not folded into the checkpoint's own result, per
// spec.md §4.2's versioning module running after the write has already
// succeeded.
func (e *Engine) trimVersions(name string) {
	if e.cfg.MaxVersions <= 0 {
		return
	}
	versions, err := e.cat.Versions(name)
	if err != nil {
		log.Warn().Err(err).Str("checkpoint", name).Msg("engine: listing versions for retention trim")
		return
	}
	excess := len(versions) - e.cfg.MaxVersions
	if excess <= 0 {
		return
	}
	for _, v := range versions[:excess] {
		rank := e.c.Rank()
		_ = e.l1.Remove(types.CheckpointIdentity{Name: name, Rank: rank, Version: v})
		_ = e.l2.Remove(types.CheckpointIdentity{Name: name, Rank: e.topo.Left(), Version: v})
		_ = e.l3.Remove(types.CheckpointIdentity{Name: name, Rank: types.RankEC, Version: v})
		if e.cfg.IOMode == config.IOModeAggregated {
			_ = e.aggregated.Remove(types.CheckpointIdentity{Name: name, Rank: rank, Version: v})
		} else {
			_ = e.persistent.Remove(types.CheckpointIdentity{Name: name, Rank: rank, Version: v})
		}
		if err := e.cat.RemoveVersion(name, v); err != nil {
			log.Warn().Err(err).Str("checkpoint", name).Int("version", v).Msg("engine: trimming retained version")
		}
	}
}
