// Package csr implements the Mutable CSR of spec §4.4: one growable
// adjacency list per source vertex, safe for lock-free concurrent
// scanning while the writer appends or (Single strategy) overwrites.
package csr

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erigontech/fragmentdb/internal/arena"
	"github.com/erigontech/fragmentdb/proptype"
)

// Strategy is a per-(triplet, direction) edge-storage policy.
type Strategy uint8

const (
	// StrategyNone drops edges for this triplet/direction entirely.
	StrategyNone Strategy = iota
	// StrategySingle keeps at most one record per source; a second
	// insert overwrites it in place and its prior timestamp is lost.
	StrategySingle
	// StrategyMultiple is a growable, append-only adjacency list.
	StrategyMultiple
)

func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "None", "":
		return StrategyNone, true
	case "Single":
		return StrategySingle, true
	case "Multiple":
		return StrategyMultiple, true
	default:
		return 0, false
	}
}

// Edge is one observed adjacency-list record.
type Edge struct {
	Dst  uint32
	Ts   uint64
	Prop proptype.Value
}

type adjList struct {
	mu       sync.Mutex
	buf      atomic.Pointer[[]byte] // acquire/release-published buffer
	size     atomic.Uint32          // acquire/release-published record count
	capacity uint32                 // records; writer-owned, guarded by mu
}

// CSR is the adjacency storage for one (src-label, edge-label,
// dst-label, direction) triplet.
type CSR struct {
	name     string
	arena    *arena.Arena
	strategy Strategy
	hasProp  bool
	propType proptype.Type
	stride   int
	lists    []*adjList
}

// New creates a CSR with one (empty) adjacency list per possible
// source vertex, sized from the source label's max_vertex_num.
func New(name string, a *arena.Arena, maxVertexNum uint32, strategy Strategy, hasProp bool, propType proptype.Type) *CSR {
	c := &CSR{
		name:     name,
		arena:    a,
		strategy: strategy,
		hasProp:  hasProp,
		propType: propType,
		stride:   recordStride(hasProp, propType),
		lists:    make([]*adjList, maxVertexNum),
	}
	for i := range c.lists {
		c.lists[i] = &adjList{}
	}
	return c
}

// ensureRange reports an error if src lies outside the sources New
// sized this CSR for (max_vertex_num of the source label); it never
// adds adjacency lists.
func (c *CSR) ensureRange(src uint32) error {
	if int(src) >= len(c.lists) {
		return fmt.Errorf("csr %s: source vid %d exceeds max_vertex_num %d", c.name, src, len(c.lists))
	}
	return nil
}

// Insert appends (or, under StrategySingle, overwrites) one edge
// record from src to dst at commit timestamp ts. Writer-only; a given
// src may be inserted into concurrently by at most one writer, but is
// safe against any number of concurrent EdgesOf scans.
func (c *CSR) Insert(src, dst uint32, ts uint64, prop proptype.Value) error {
	if c.strategy == StrategyNone {
		return nil // edge dropped by schema, per spec §4.4 step 2
	}
	if err := c.ensureRange(src); err != nil {
		return err
	}
	l := c.lists[src]
	l.mu.Lock()
	defer l.mu.Unlock()

	switch c.strategy {
	case StrategySingle:
		if l.size.Load() == 0 {
			buf := c.arena.Allocate(c.stride)
			writeRecord(buf, 0, dst, ts, c.hasProp, c.propType, prop)
			l.buf.Store(&buf)
			l.capacity = 1
			l.size.Store(1) // release: publishes the list's existence
			return nil
		}
		buf := *l.buf.Load()
		writeRecord(buf, 0, dst, ts, c.hasProp, c.propType, prop)
		// size is already 1; no publication event is needed for an
		// in-place overwrite beyond the record's own timestamp store
		// (see record.go) — this is the documented Single semantics.
		return nil

	case StrategyMultiple:
		size := l.size.Load()
		if size == l.capacity {
			newCap := l.capacity * 2
			if newCap == 0 {
				newCap = 1
			}
			newBuf := c.arena.Allocate(int(newCap) * c.stride)
			if l.capacity > 0 {
				oldPtr := l.buf.Load()
				copy(newBuf, (*oldPtr)[:int(size)*c.stride])
				l.buf.Store(&newBuf) // release: readers reloading buf see the copied prefix
				c.arena.Retire(*oldPtr)
			} else {
				l.buf.Store(&newBuf)
			}
			l.capacity = newCap
		}
		buf := *l.buf.Load()
		writeRecord(buf, int(size)*c.stride, dst, ts, c.hasProp, c.propType, prop)
		l.size.Store(size + 1) // release: publishes record `size` as readable
		return nil

	default:
		return fmt.Errorf("csr %s: unknown strategy %d", c.name, c.strategy)
	}
}

// EdgesOf calls fn for every record with timestamp <= tsVisible,
// stopping early if fn returns false. Lock-free: safe to call
// concurrently with Insert on the same or a different source.
func (c *CSR) EdgesOf(src uint32, tsVisible uint64, fn func(Edge) bool) error {
	if c.strategy == StrategyNone {
		return nil
	}
	if err := c.ensureRange(src); err != nil {
		return err
	}
	l := c.lists[src]
	// size first: the buffer published before that size store holds at
	// least n records, and any later buffer carries the same prefix.
	n := l.size.Load()     // acquire
	bufPtr := l.buf.Load() // acquire
	if bufPtr == nil {
		return nil
	}
	buf := *bufPtr
	for i := uint32(0); i < n; i++ {
		neighbor, ts, prop := readRecord(buf, int(i)*c.stride, c.hasProp, c.propType)
		if ts > tsVisible {
			continue
		}
		if !fn(Edge{Dst: neighbor, Ts: ts, Prop: prop}) {
			return nil
		}
	}
	return nil
}

// Degree returns the current (possibly still-growing) record count
// for src, ignoring timestamp visibility — used by persistence dump.
func (c *CSR) Degree(src uint32) uint32 {
	if int(src) >= len(c.lists) {
		return 0
	}
	return c.lists[src].size.Load()
}

// Stride returns the per-record byte width, for persistence.
func (c *CSR) Stride() int { return c.stride }

// HasProp and PropType expose the edge-property shape, for persistence.
func (c *CSR) HasProp() bool           { return c.hasProp }
func (c *CSR) PropType() proptype.Type { return c.propType }
func (c *CSR) StrategyOf() Strategy    { return c.strategy }
func (c *CSR) MaxSources() int         { return len(c.lists) }
