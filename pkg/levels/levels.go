package levels

import (
	"fmt"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/types"
)

func errChecksumMismatch(id types.CheckpointIdentity) error {
	return fmt.Errorf("levels: %s: %w", id.Stem(), errs.ChecksumMismatch)
}

// encodeBool and decodeBool let a single boolean ride through a
// Communicator's []byte-shaped AllGather, used by L2/L3 to exchange
// per-rank liveness/erasure flags alongside the payloads themselves.
func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeBool(b []byte) bool {
	return len(b) > 0 && b[0] != 0
}
