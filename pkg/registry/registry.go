// Package registry implements the client-side memory-region registry of
// spec.md §3/§4.1: a scoped mapping from region id to region, supporting
// both raw in-memory byte views and application-supplied
// serializer/deserializer pairs, per the design note replacing "raw
// pointer + length registries" with a tagged-variant region type the
// engine treats uniformly.
package registry

import (
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/types"
)

// Serializer writes a region's current value to w.
type Serializer func(w io.Writer) error

// Deserializer reads a region's value of the given size from r.
type Deserializer func(r io.Reader, size int64) error

// Region is the tagged-variant capability the engine needs from a
// registered memory region: WriteTo during checkpoint, ReadFrom during
// restart, Size to populate the Header. Exactly one of the two
// constructors below populates it; application code never builds a Region
// by hand.
type Region struct {
	id   int
	raw  []byte // non-nil for a raw-bytes region
	size func() int64
	ser  Serializer
	de   Deserializer
}

// NewRaw registers a region backed directly by an application-owned byte
// slice. b must remain valid and stable for the duration of any
// checkpoint_mem/recover_mem call that touches this region; the registry
// never copies or retains it beyond that window.
func NewRaw(id int, b []byte) Region {
	return Region{id: id, raw: b, size: func() int64 { return int64(len(b)) }}
}

// NewCustom registers a region backed by an application-supplied
// serializer/deserializer pair, for values that aren't a flat byte buffer
// (e.g. a struct with pointers, a container). size must report the exact
// number of bytes ser will write.
func NewCustom(id int, size func() int64, ser Serializer, de Deserializer) Region {
	return Region{id: id, size: size, ser: ser, de: de}
}

// ID returns the region's registered id.
func (r Region) ID() int { return r.id }

// Size returns the region's current declared size in bytes.
func (r Region) Size() int64 { return r.size() }

// WriteTo writes the region's current value to w.
func (r Region) WriteTo(w io.Writer) (int64, error) {
	if r.raw != nil {
		n, err := w.Write(r.raw)
		return int64(n), err
	}
	if err := r.ser(w); err != nil {
		return 0, err
	}
	return r.size(), nil
}

// ReadFrom reads exactly `expected` bytes from r into the region. For a
// raw region, expected must not exceed the backing slice's capacity
// (errs.SizeMismatch otherwise); for a custom region, the deserializer
// callback is invoked directly.
func (r Region) ReadFrom(src io.Reader, expected int64) error {
	if r.raw != nil {
		if expected > int64(cap(r.raw)) {
			return fmt.Errorf("region %d: capacity %d smaller than recorded size %d: %w", r.id, cap(r.raw), expected, errs.SizeMismatch)
		}
		buf := r.raw[:expected]
		_, err := io.ReadFull(src, buf)
		return err
	}
	return r.de(src, expected)
}

const unnamedScope = ""

// Registry is a scoped collection of Regions, keyed by (scope, id). The
// unnamed scope ("") is used when no scope is supplied.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]*scope
}

type scope struct {
	order []int
	byID  map[int]Region
}

func newScope() *scope {
	return &scope{byID: make(map[int]Region)}
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{scopes: make(map[string]*scope)}
}

func scopeKey(name string) string {
	if name == "" {
		return unnamedScope
	}
	return name
}

// Protect registers r under scope, replacing any existing mapping for the
// same id (idempotent replacement, per spec.md §8). Re-protecting an id
// keeps its original position in registration order.
func (reg *Registry) Protect(scopeName string, r Region) {
	key := scopeKey(scopeName)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.scopes[key]
	if !ok {
		s = newScope()
		reg.scopes[key] = s
	}
	if _, exists := s.byID[r.id]; !exists {
		s.order = append(s.order, r.id)
	}
	s.byID[r.id] = r
}

// Unprotect removes id from scope.
func (reg *Registry) Unprotect(scopeName string, id int) {
	key := scopeKey(scopeName)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.scopes[key]
	if !ok {
		return
	}
	if _, exists := s.byID[id]; !exists {
		return
	}
	delete(s.byID, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Clear removes every region from scope.
func (reg *Registry) Clear(scopeName string) {
	key := scopeKey(scopeName)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.scopes, key)
}

// resolvedScope returns the scope to read from: scopeName's scope if it
// exists and is non-empty, else the unnamed scope, per spec.md §4.1.
func (reg *Registry) resolvedScope(scopeName string) *scope {
	key := scopeKey(scopeName)
	if s, ok := reg.scopes[key]; ok && len(s.order) > 0 {
		return s
	}
	if key != unnamedScope {
		if s, ok := reg.scopes[unnamedScope]; ok {
			return s
		}
	}
	return reg.scopes[key]
}

// Select resolves a SelectionMode against scopeName's registry (falling
// back to the unnamed scope if empty), returning regions in registration
// order. ALL with no regions or SOME/REST resolving to an empty set
// returns errs.EmptyRegion; an id named in a SOME/REST set that isn't
// registered returns errs.UnknownRegion.
func (reg *Registry) Select(scopeName string, mode types.SelectionMode, ids []int) ([]Region, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	s := reg.resolvedScope(scopeName)
	if s == nil {
		return nil, fmt.Errorf("scope %q: %w", scopeName, errs.EmptyRegion)
	}

	switch mode {
	case types.SelectAll:
		if len(s.order) == 0 {
			return nil, fmt.Errorf("scope %q: %w", scopeName, errs.EmptyRegion)
		}
		return regionsInOrder(s, s.order), nil

	case types.SelectSome:
		if len(ids) == 0 {
			return nil, fmt.Errorf("empty SOME selection: %w", errs.EmptyRegion)
		}
		want := make(map[int]bool, len(ids))
		for _, id := range ids {
			if _, ok := s.byID[id]; !ok {
				return nil, fmt.Errorf("region %d: %w", id, errs.UnknownRegion)
			}
			want[id] = true
		}
		var selected []int
		for _, id := range s.order {
			if want[id] {
				selected = append(selected, id)
			}
		}
		return regionsInOrder(s, selected), nil

	case types.SelectRest:
		exclude := make(map[int]bool, len(ids))
		for _, id := range ids {
			if _, ok := s.byID[id]; !ok {
				return nil, fmt.Errorf("region %d: %w", id, errs.UnknownRegion)
			}
			exclude[id] = true
		}
		var selected []int
		for _, id := range s.order {
			if !exclude[id] {
				selected = append(selected, id)
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("REST selection excludes everything: %w", errs.EmptyRegion)
		}
		return regionsInOrder(s, selected), nil

	default:
		return nil, fmt.Errorf("unknown selection mode %d", mode)
	}
}

// Get returns the region registered under (scopeName, id), resolving the
// unnamed-scope fallback the same way Select does.
func (reg *Registry) Get(scopeName string, id int) (Region, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s := reg.resolvedScope(scopeName)
	if s == nil {
		return Region{}, false
	}
	r, ok := s.byID[id]
	return r, ok
}

// TotalSize returns the sum of every registered region's current size in
// scopeName (with unnamed-scope fallback), used to verify the idempotent
// re-protect invariant of spec.md §8.
func (reg *Registry) TotalSize(scopeName string) int64 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s := reg.resolvedScope(scopeName)
	if s == nil {
		return 0
	}
	var total int64
	for _, id := range s.order {
		total += s.byID[id].Size()
	}
	return total
}

func regionsInOrder(s *scope, ids []int) []Region {
	out := make([]Region, len(ids))
	for i, id := range ids {
		out[i] = s.byID[id]
	}
	return out
}
