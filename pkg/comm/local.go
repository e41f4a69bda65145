package comm

import (
	"context"
	"fmt"
	"sync"
)

// LocalGroup is the in-process Communicator implementation described in
// SPEC_FULL.md §D.1. NewLocalGroup(n) returns n Communicator handles, one
// per simulated rank, that exchange point-to-point messages over per-pair
// channels and synchronize collectives through a shared round-counter
// keyed by caller-supplied tag.
type LocalGroup struct {
	n      int
	mu     sync.Mutex
	p2p    map[p2pKey]chan []byte
	rounds map[int]*round
}

type p2pKey struct{ src, dst, tag int }

type slot struct {
	set bool
	val any
}

type round struct {
	mu    sync.Mutex
	slots []slot
	count int
	done  chan struct{}
}

func newRound(n int) *round {
	return &round{slots: make([]slot, n), done: make(chan struct{})}
}

// NewLocalGroup builds a group of size n and returns one Communicator per
// rank, indexed by rank.
func NewLocalGroup(n int) []Communicator {
	if n <= 0 {
		panic("comm: group size must be positive")
	}
	g := &LocalGroup{
		n:      n,
		p2p:    make(map[p2pKey]chan []byte),
		rounds: make(map[int]*round),
	}
	out := make([]Communicator, n)
	for r := 0; r < n; r++ {
		out[r] = &localComm{group: g, rank: r}
	}
	return out
}

func (g *LocalGroup) channel(src, dst, tag int) chan []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := p2pKey{src, dst, tag}
	ch, ok := g.p2p[key]
	if !ok {
		ch = make(chan []byte)
		g.p2p[key] = ch
	}
	return ch
}

type localComm struct {
	group *LocalGroup
	rank  int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.group.n }

func (c *localComm) Send(ctx context.Context, dst int, tag int, b []byte) error {
	ch := c.group.channel(c.rank, dst, tag)
	cp := append([]byte(nil), b...)
	select {
	case ch <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *localComm) Recv(ctx context.Context, src int, tag int) ([]byte, error) {
	ch := c.group.channel(src, c.rank, tag)
	select {
	case b := <-ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *localComm) AllGather(ctx context.Context, tag int, b []byte) ([][]byte, error) {
	vals, err := c.group.contributeAt(ctx, tag, c.rank, append([]byte(nil), b...))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i], _ = v.([]byte)
	}
	return out, nil
}

func (c *localComm) AllReduceAnd(ctx context.Context, tag int, v bool) (bool, error) {
	vals, err := c.group.contributeAt(ctx, tag, c.rank, v)
	if err != nil {
		return false, err
	}
	result := true
	for _, x := range vals {
		result = result && x.(bool)
	}
	return result, nil
}

func (c *localComm) AllReduceOr(ctx context.Context, tag int, v bool) (bool, error) {
	vals, err := c.group.contributeAt(ctx, tag, c.rank, v)
	if err != nil {
		return false, err
	}
	result := false
	for _, x := range vals {
		result = result || x.(bool)
	}
	return result, nil
}

func (c *localComm) AllReduceMin(ctx context.Context, tag int, v int) (int, error) {
	vals, err := c.group.contributeAt(ctx, tag, c.rank, v)
	if err != nil {
		return 0, err
	}
	result := vals[0].(int)
	for _, x := range vals[1:] {
		if n := x.(int); n < result {
			result = n
		}
	}
	return result, nil
}

func (c *localComm) AllReduceMax(ctx context.Context, tag int, v int) (int, error) {
	vals, err := c.group.contributeAt(ctx, tag, c.rank, v)
	if err != nil {
		return 0, err
	}
	result := vals[0].(int)
	for _, x := range vals[1:] {
		if n := x.(int); n > result {
			result = n
		}
	}
	return result, nil
}

func (c *localComm) Barrier(ctx context.Context, tag int) error {
	_, err := c.group.contributeAt(ctx, tag, c.rank, struct{}{})
	return err
}

// contributeAt places val into the round's slot for rank explicitly
// (rather than in arrival order), so repeated calls with the same tag
// across iterations always align each rank's value with its own index.
func (g *LocalGroup) contributeAt(ctx context.Context, tag int, rank int, val any) ([]any, error) {
	g.mu.Lock()
	r, ok := g.rounds[tag]
	if !ok {
		r = newRound(g.n)
		g.rounds[tag] = r
	}
	g.mu.Unlock()

	r.mu.Lock()
	if r.slots[rank].set {
		r.mu.Unlock()
		return nil, fmt.Errorf("comm: rank %d contributed twice to tag %d in the same round", rank, tag)
	}
	r.slots[rank] = slot{true, val}
	r.count++
	complete := r.count == g.n
	if complete {
		g.mu.Lock()
		delete(g.rounds, tag)
		g.mu.Unlock()
	}
	r.mu.Unlock()

	if complete {
		close(r.done)
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make([]any, g.n)
	for i, s := range r.slots {
		out[i] = s.val
	}
	return out, nil
}
