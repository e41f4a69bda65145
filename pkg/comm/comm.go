// Package comm defines the narrow interface strata needs from the
// "group-communication substrate" spec.md §1 assumes as an external
// collaborator (a ranked, in-order, reliable point-to-point + collective
// layer with sub-communicator creation), and ships one concrete
// implementation of it: an in-process, goroutine/channel based group used
// by every multi-rank test and by single-host deployments that have no
// real MPI-like runtime underneath them.
package comm

import (
	"context"
	"fmt"
)

// Communicator is the substrate capability the rest of strata consumes.
// Real deployments wire this to whatever ranked messaging layer the job
// scheduler provides; strata never assumes a particular one.
type Communicator interface {
	Rank() int
	Size() int

	// Send blocks until b has been handed to the peer at rank dst for tag.
	Send(ctx context.Context, dst int, tag int, b []byte) error
	// Recv blocks until a message from rank src with tag has arrived, and
	// returns its payload.
	Recv(ctx context.Context, src int, tag int) ([]byte, error)

	// AllGather exchanges one []byte per rank and returns the full set
	// ordered by rank, including this rank's own contribution.
	AllGather(ctx context.Context, tag int, b []byte) ([][]byte, error)

	// AllReduceAnd returns the logical AND of every rank's boolean input.
	AllReduceAnd(ctx context.Context, tag int, v bool) (bool, error)
	// AllReduceOr returns the logical OR of every rank's boolean input.
	AllReduceOr(ctx context.Context, tag int, v bool) (bool, error)
	// AllReduceMin returns the minimum of every rank's integer input.
	AllReduceMin(ctx context.Context, tag int, v int) (int, error)
	// AllReduceMax returns the maximum of every rank's integer input.
	AllReduceMax(ctx context.Context, tag int, v int) (int, error)

	// Barrier blocks until every rank has called Barrier with the same tag.
	Barrier(ctx context.Context, tag int) error
}

// ErrClosed is returned by operations on a group whose LocalGroup has been
// torn down mid-collective (e.g. a simulated rank failure in tests).
var ErrClosed = fmt.Errorf("comm: group closed")
