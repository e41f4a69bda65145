package levels

import (
	"context"
	"fmt"

	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/types"
)

// ProtectL2 exchanges checkpoint payloads with this rank's group-ring
// neighbors: every rank sends its own data to its right neighbor and
// receives its left neighbor's data in return, which it then keeps as
// that neighbor's partner replica. Ranks alternate send/recv order by
// parity of GroupRank so a pair of neighbors are never both blocked
// waiting to send first — the "odd/even send/recv ordering" spec.md §4.1
// calls for.
func ProtectL2(ctx context.Context, c comm.Communicator, topo types.GroupTopology, tag int, myData []byte) (replicaOfLeft []byte, err error) {
	right, left := topo.Right(), topo.Left()
	if topo.GroupRank%2 == 0 {
		if err := c.Send(ctx, right, tag, myData); err != nil {
			return nil, fmt.Errorf("l2: sending to right neighbor %d: %w", right, err)
		}
		replicaOfLeft, err = c.Recv(ctx, left, tag)
		if err != nil {
			return nil, fmt.Errorf("l2: receiving from left neighbor %d: %w", left, err)
		}
	} else {
		replicaOfLeft, err = c.Recv(ctx, left, tag)
		if err != nil {
			return nil, fmt.Errorf("l2: receiving from left neighbor %d: %w", left, err)
		}
		if err := c.Send(ctx, right, tag, myData); err != nil {
			return nil, fmt.Errorf("l2: sending to right neighbor %d: %w", right, err)
		}
	}
	return replicaOfLeft, nil
}

// RecoverL2 restores a rank's own checkpoint from its right neighbor's
// held replica (the mirror of ProtectL2: the rank that sent data to its
// right neighbor must receive it back from there if its own copy is
// gone). needRecovery is this rank's own "my L1 copy is missing or
// failed checksum" flag; replicaOfLeft is the replica this rank is
// holding on behalf of its left neighbor, sent onward if that neighbor
// reports needing it.
//
// Whether any rank's pair is unrecoverable (its own copy and its right
// neighbor's copy both lost) is folded across the whole group with
// AllReduceOr before any rank commits to the send/recv phase below: a
// per-rank bail-out there would leave that rank never sending/receiving
// while a neighboring rank, unaware of the bail-out, still blocks
// waiting on it. So either every rank enters send/recv together, or none
// do and all return errs.GroupUnrecoverable, letting the engine fall
// through to L3 as one group.
func RecoverL2(ctx context.Context, c comm.Communicator, topo types.GroupTopology, tag int, needRecovery bool, replicaOfLeft []byte) (recovered []byte, ok bool, err error) {
	flags, err := gatherFlags(ctx, c, tag, needRecovery)
	if err != nil {
		return nil, false, err
	}
	right, left := topo.Right(), topo.Left()
	leftNeeds := flags[left]
	rightNeeds := flags[right]

	pairBroken := needRecovery && rightNeeds
	groupUnrecoverable, err := c.AllReduceOr(ctx, tag+2, pairBroken)
	if err != nil {
		return nil, false, err
	}
	if groupUnrecoverable {
		return nil, false, fmt.Errorf("l2: a rank and its right neighbor both need recovery: %w", errs.GroupUnrecoverable)
	}

	sendTag, recvTag := tag+1, tag+1
	var recvErr, sendErr error
	if topo.GroupRank%2 == 0 {
		if leftNeeds {
			sendErr = c.Send(ctx, left, sendTag, replicaOfLeft)
		}
		if needRecovery {
			recovered, recvErr = c.Recv(ctx, right, recvTag)
		}
	} else {
		if needRecovery {
			recovered, recvErr = c.Recv(ctx, right, recvTag)
		}
		if leftNeeds {
			sendErr = c.Send(ctx, left, sendTag, replicaOfLeft)
		}
	}
	if sendErr != nil {
		return nil, false, fmt.Errorf("l2: sending replica to left neighbor %d: %w", left, sendErr)
	}
	if recvErr != nil {
		return nil, false, fmt.Errorf("l2: receiving replica from right neighbor %d: %w", right, recvErr)
	}
	return recovered, needRecovery, nil
}

func gatherFlags(ctx context.Context, c comm.Communicator, tag int, mine bool) ([]bool, error) {
	gathered, err := c.AllGather(ctx, tag, encodeBool(mine))
	if err != nil {
		return nil, err
	}
	flags := make([]bool, len(gathered))
	for i, b := range gathered {
		flags[i] = decodeBool(b)
	}
	return flags, nil
}
