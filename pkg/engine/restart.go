package engine

import (
	"context"
	"fmt"

	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/levels"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog/log"
)

// Test resolves name's TEST request: the highest recorded version that is
// <= requested, or the latest overall if requested is 0. It does not open
// a restart window.
func (e *Engine) Test(name string, requested int) (version int, ok bool, err error) {
	versions, err := e.cat.Versions(name)
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

// RestartBegin opens a restart window for name and runs the recovery
// cascade of spec.md §4.7: probe L1, then L2, then L3, then L4, adopting
// the first level that verifies across the whole group. On success the
// recovered bytes are staged into the L1 scratch slot (so a later
// restart_test/recover_mem finds them locally regardless of which level
// actually served this one) and returned for recover_mem to split back
// into regions.
func (e *Engine) RestartBegin(ctx context.Context, name string, requested int) ([]byte, int, error) {
	version, ok, err := e.Test(name, requested)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("engine: no checkpoint found for %s: %w", name, errs.GroupUnrecoverable)
	}
	if err := e.begin(name, version, StateRestartOpen); err != nil {
		return nil, 0, err
	}

	timer := metrics.NewTimer()
	id := types.CheckpointIdentity{Name: name, Rank: e.c.Rank(), Version: version}

	data, level, err := e.recoverCascade(ctx, name, version, id)

	e.mu.Lock()
	e.lastLevel = level
	e.mu.Unlock()
	e.finish()

	metrics.RestartDuration.WithLabelValues(level.String()).Observe(timer.Duration().Seconds())
	if err != nil {
		return nil, version, err
	}
	metrics.RestartsTotal.WithLabelValues(level.String()).Inc()
	e.broker.Publish(&events.Event{Kind: types.EventRestartEnd, Name: name, Version: version})
	return data, version, nil
}

// recoverCascade runs the four level probes in order and returns the
// first one that verifies across the whole group.
func (e *Engine) recoverCascade(ctx context.Context, name string, version int, id types.CheckpointIdentity) ([]byte, types.Level, error) {
	if data, ok := e.tryL1(ctx, id); ok {
		return data, types.L1, nil
	}

	if data, ok := e.tryL2(ctx, name, version, id); ok {
		e.restage(ctx, id, data)
		return data, types.L2, nil
	}

	if data, ok := e.tryL3(ctx, name, version, id); ok {
		e.restage(ctx, id, data)
		return data, types.L3, nil
	}

	if data, ok := e.tryL4(ctx, name, version, id); ok {
		e.restage(ctx, id, data)
		// "the persisted metadata directory is moved to the L1
		// metadata slot to unify subsequent operations" (spec.md
		// §4.7): republish this rank's L4 metadata as its L1 record.
		if meta, found, err := e.cat.GetLevelMeta(name, id.Rank, types.L4, version); err == nil && found {
			_ = e.cat.PutLevelMeta(name, id.Rank, types.L1, version, meta)
		}
		return data, types.L4, nil
	}

	return nil, types.L1, fmt.Errorf("engine: %s v%d: %w", name, version, errs.GroupUnrecoverable)
}

// restage writes recovered bytes back into the L1 scratch slot so that
// downstream recover_mem calls (and any later restart) find the
// checkpoint locally regardless of which level actually served it.
func (e *Engine) restage(ctx context.Context, id types.CheckpointIdentity, data []byte) {
	if _, err := levels.StoreL1(ctx, e.l1, id, data); err != nil {
		log.Warn().Err(err).Str("checkpoint", id.Name).Msg("engine: restaging recovered data to l1")
	}
}

func (e *Engine) tryL1(ctx context.Context, id types.CheckpointIdentity) ([]byte, bool) {
	meta, found, err := e.cat.GetLevelMeta(id.Name, id.Rank, types.L1, id.Version)
	mine := false
	var data []byte
	if found && err == nil {
		d, lerr := levels.LoadL1(ctx, e.l1, id, meta)
		if lerr == nil {
			data, mine = d, true
		}
	}
	all, rerr := e.c.AllReduceAnd(ctx, tagL1Probe, mine)
	if rerr != nil || !all {
		return nil, false
	}
	return data, true
}

func (e *Engine) tryL2(ctx context.Context, name string, version int, id types.CheckpointIdentity) ([]byte, bool) {
	l1Meta, foundL1, errL1 := e.cat.GetLevelMeta(name, id.Rank, types.L1, version)
	mineOK := foundL1 && errL1 == nil
	if mineOK {
		if _, lerr := levels.LoadL1(ctx, e.l1, id, l1Meta); lerr != nil {
			mineOK = false
		}
	}
	needRecovery := !mineOK

	var replicaOfLeft []byte
	if leftMeta, found, err := e.cat.GetLevelMeta(name, e.topo.Left(), types.L2, version); err == nil && found {
		leftID := types.CheckpointIdentity{Name: name, Rank: e.topo.Left(), Version: version}
		if d, lerr := levels.LoadL1(ctx, e.l2, leftID, leftMeta); lerr == nil {
			replicaOfLeft = d
		}
	}

	recovered, _, err := levels.RecoverL2(ctx, e.c, e.topo, tagL2Recover, needRecovery, replicaOfLeft)
	mySuccess := !needRecovery
	if needRecovery && err == nil && len(recovered) > 0 {
		mySuccess = true
	}
	all, rerr := e.c.AllReduceAnd(ctx, tagL2Recover+1, mySuccess)
	if rerr != nil || !all {
		return nil, false
	}
	if needRecovery {
		return recovered, true
	}
	data, lerr := levels.LoadL1(ctx, e.l1, id, l1Meta)
	if lerr != nil {
		return nil, false
	}
	return data, true
}

func (e *Engine) tryL3(ctx context.Context, name string, version int, id types.CheckpointIdentity) ([]byte, bool) {
	l1Meta, foundL1, _ := e.cat.GetLevelMeta(name, id.Rank, types.L1, version)
	dataOK := foundL1
	var dataBlock []byte
	if dataOK {
		if d, lerr := levels.LoadL1(ctx, e.l1, id, l1Meta); lerr == nil {
			dataBlock = d
		} else {
			dataOK = false
		}
	}

	parityOK := false
	var parityBlock []byte
	var l3Meta types.LevelMeta
	if meta, found, err := e.cat.GetLevelMeta(name, id.Rank, types.L3, version); err == nil && found {
		l3Meta = meta
		ecID := types.CheckpointIdentity{Name: name, Rank: types.RankEC, Version: version}
		if d, lerr := levels.LoadL1(ctx, e.l3, ecID, meta); lerr == nil {
			parityBlock, parityOK = d, true
		}
	}

	recovered, err := levels.DecodeL3(ctx, e.c, tagL3Decode, e.matrix, dataOK, dataBlock, parityOK, parityBlock, l3Meta.MaxFileSize, e.cfg.BlockSize)
	mySuccess := err == nil
	all, rerr := e.c.AllReduceAnd(ctx, tagL3Decode+10, mySuccess)
	if rerr != nil || !all {
		return nil, false
	}

	myBlock := recovered[e.topo.GroupRank]
	if foundL1 && l1Meta.LocalFileSize > 0 && uint64(len(myBlock)) > l1Meta.LocalFileSize {
		myBlock = myBlock[:l1Meta.LocalFileSize]
	}
	return myBlock, true
}

func (e *Engine) tryL4(ctx context.Context, name string, version int, id types.CheckpointIdentity) ([]byte, bool) {
	meta, found, err := e.cat.GetLevelMeta(name, id.Rank, types.L4, version)
	if !found || err != nil {
		return nil, false
	}

	var data []byte
	var lerr error
	if e.cfg.IOMode == config.IOModeAggregated {
		data, lerr = levels.RestoreL4Aggregated(ctx, e.aggregated, id, meta)
	} else {
		data, lerr = levels.RestoreL4POSIX(ctx, e.persistent, id, meta)
	}
	mine := lerr == nil
	all, rerr := e.c.AllReduceAnd(ctx, tagL4Probe, mine)
	if rerr != nil || !all {
		return nil, false
	}
	return data, true
}

const (
	tagL1Probe = 900
	tagL4Probe = 950
)
