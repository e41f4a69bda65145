// Package levels implements the four storage tiers of spec.md §4.1
// components 4-8: L1 local, L2 partner-ring replica, L3 Reed-Solomon
// group, L4 persistent flush. Each level operates on a rank's checkpoint
// payload as a single in-memory byte slice handed down from the engine
// (which itself streams it out of the registry/header writer); a level's
// job is purely "given my bytes (and my group's), make them durable
// against that level's failure domain, and the reverse for recovery."
package levels

import (
	"bytes"
	"context"

	"github.com/cuemby/strata/pkg/checksum"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
)

// StoreL1 writes data to the local scratch backend. L1 has no redundancy
// of its own: a node failure loses it outright, which is exactly the
// failure domain the design note describes as "no-op/rename-into-place"
// — the write that already happened during checkpoint_end is the level.
func StoreL1(ctx context.Context, backend storage.Backend, id types.CheckpointIdentity, data []byte) (types.LevelMeta, error) {
	sum, err := checksum.Sum(bytes.NewReader(data))
	if err != nil {
		return types.LevelMeta{}, err
	}
	n, err := backend.Flush(ctx, id, bytes.NewReader(data))
	if err != nil {
		return types.LevelMeta{}, err
	}
	return types.LevelMeta{
		Exists:        true,
		LocalFileSize: uint64(n),
		FileName:      id.Stem(),
		Checksum:      sum,
	}, nil
}

// LoadL1 reads the local scratch copy back, verifying it against meta's
// recorded checksum if one is present.
func LoadL1(ctx context.Context, backend storage.Backend, id types.CheckpointIdentity, meta types.LevelMeta) ([]byte, error) {
	rc, err := backend.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if meta.Checksum != "" {
		ok, err := checksum.Verify(bytes.NewReader(data), meta.Checksum)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errChecksumMismatch(id)
		}
	}
	return data, nil
}
