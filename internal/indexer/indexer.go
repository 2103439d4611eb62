// Package indexer implements the LF-Indexer of spec §4.2: a
// fixed-capacity, open-addressed external_key -> internal vid map
// that never blocks a lookup, and whose only writer is the single
// graph writer (insertion is therefore serialized above this package,
// but the slot publication protocol is written as if concurrent
// inserters existed, because concurrent *lookups* against an
// in-flight insert are the actual safety requirement).
package indexer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrDuplicateKey is returned by Insert when key is already mapped.
	ErrDuplicateKey = errors.New("indexer: duplicate key")
	// ErrCapacityExceeded is returned when the table has no empty slot
	// left on the probe chain, or the per-label vid counter has
	// reached max_vertex_num.
	ErrCapacityExceeded = errors.New("indexer: capacity exceeded")
	// ErrReservedKey is returned for the one external key value that
	// the sentinel-empty-slot encoding cannot represent.
	ErrReservedKey = errors.New("indexer: key collides with the reserved empty-slot sentinel")
)

// emptyKey is the sentinel marking an unused slot. math.MinInt64 is
// chosen because primary keys are schema-required to be DT_SIGNED_INT64
// business identifiers, for which this value is exceedingly unlikely
// to occur in practice; Insert rejects it with ErrReservedKey and
// Lookup reports it as absent.
const emptyKey = int64(-1) << 63

type slot struct {
	key atomic.Int64
	vid atomic.Uint32
}

// Indexer is one label's key -> vid table. Sized once at open from
// max_vertex_num; never resized.
type Indexer struct {
	label    string
	slots    []slot
	mask     uint32
	capacity uint32

	maxVertexNum uint32
	nextVid      atomic.Uint32
	size         atomic.Uint32
}

// New creates an Indexer for maxVertexNum vertices. The slot table is
// sized to the next power of two of 2*maxVertexNum (load factor <= 0.5,
// per spec's recommendation), with a floor of 16 slots.
func New(label string, maxVertexNum uint32) *Indexer {
	want := uint64(maxVertexNum) * 2
	cap64 := nextPow2(want)
	if cap64 < 16 {
		cap64 = 16
	}
	ix := &Indexer{
		label:        label,
		slots:        make([]slot, cap64),
		mask:         uint32(cap64 - 1),
		capacity:     uint32(cap64),
		maxVertexNum: maxVertexNum,
	}
	for i := range ix.slots {
		ix.slots[i].key.Store(emptyKey)
	}
	return ix
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func hash(key int64) uint32 {
	// splitmix64 finalizer: cheap, well-distributed avalanche for a
	// signed 64-bit business key.
	x := uint64(key)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return uint32(x)
}

// Lookup never blocks: it returns the current mapping, or absence.
func (ix *Indexer) Lookup(key int64) (vid uint32, ok bool) {
	if key == emptyKey {
		return 0, false
	}
	start := hash(key) & ix.mask
	for i := uint32(0); i < ix.capacity; i++ {
		s := &ix.slots[(start+i)&ix.mask]
		k := s.key.Load() // acquire
		if k == emptyKey {
			return 0, false
		}
		if k == key {
			return s.vid.Load(), true // acquire; see Insert for why this is always valid
		}
	}
	return 0, false
}

// Insert assigns the next vid for key via an atomic fetch-add on the
// label's vid counter and publishes the (key, vid) slot. Writer-only:
// safe for a single concurrent caller; Lookup may run concurrently
// with it at any time.
func (ix *Indexer) Insert(key int64) (uint32, error) {
	if key == emptyKey {
		return 0, fmt.Errorf("indexer %s: key %d: %w", ix.label, key, ErrReservedKey)
	}
	start := hash(key) & ix.mask
	for i := uint32(0); i < ix.capacity; i++ {
		slotIdx := (start + i) & ix.mask
		s := &ix.slots[slotIdx]
		cur := s.key.Load()
		if cur == key {
			return 0, fmt.Errorf("indexer %s: key %d: %w", ix.label, key, ErrDuplicateKey)
		}
		if cur != emptyKey {
			continue
		}
		vid, err := ix.reserveVid()
		if err != nil {
			return 0, fmt.Errorf("indexer %s: %w", ix.label, err)
		}
		// vid is written before the key is published (release store),
		// so any reader that observes the key also observes the vid.
		s.vid.Store(vid)
		if !s.key.CompareAndSwap(emptyKey, key) {
			// Only the single writer calls Insert, so this slot cannot
			// have been claimed concurrently; treat it as a duplicate
			// that appeared between the Load above and here.
			return 0, fmt.Errorf("indexer %s: key %d: %w", ix.label, key, ErrDuplicateKey)
		}
		ix.size.Add(1)
		return vid, nil
	}
	return 0, fmt.Errorf("indexer %s: %w", ix.label, ErrCapacityExceeded)
}

func (ix *Indexer) reserveVid() (uint32, error) {
	for {
		cur := ix.nextVid.Load()
		if cur >= ix.maxVertexNum {
			return 0, ErrCapacityExceeded
		}
		if ix.nextVid.CompareAndSwap(cur, cur+1) {
			return cur, nil
		}
	}
}

// Size returns the number of published (key, vid) entries.
func (ix *Indexer) Size() uint32 { return ix.size.Load() }

// Capacity returns the fixed slot-table capacity (not max_vertex_num).
func (ix *Indexer) Capacity() uint32 { return ix.capacity }

// Entry is one (key, vid) pair, as produced by SnapshotIter.
type Entry struct {
	Key int64
	Vid uint32
}

// SnapshotIter returns every published entry in slot order, for
// persistence dump. It is a point-in-time, non-atomic-as-a-whole
// snapshot: safe because entries are append-only and never mutated
// in place once published.
func (ix *Indexer) SnapshotIter() []Entry {
	out := make([]Entry, 0, ix.Size())
	for i := range ix.slots {
		k := ix.slots[i].key.Load()
		if k == emptyKey {
			continue
		}
		out = append(out, Entry{Key: k, Vid: ix.slots[i].vid.Load()})
	}
	return out
}

// LoadEntries restores a previously-dumped set of entries into a fresh
// Indexer (used by recovery, after the tables have been reopened and
// before the CSRs are replayed from the same snapshot). It bypasses
// Insert's duplicate and vid-counter checks by
// writing slots directly and is only safe to call before the Indexer
// is exposed to any other goroutine.
func (ix *Indexer) LoadEntries(entries []Entry) error {
	var maxVid uint32
	for _, e := range entries {
		start := hash(e.Key) & ix.mask
		placed := false
		for i := uint32(0); i < ix.capacity; i++ {
			s := &ix.slots[(start+i)&ix.mask]
			if s.key.Load() == emptyKey {
				s.vid.Store(e.Vid)
				s.key.Store(e.Key)
				placed = true
				break
			}
		}
		if !placed {
			return fmt.Errorf("indexer %s: %w replaying snapshot", ix.label, ErrCapacityExceeded)
		}
		if e.Vid+1 > maxVid {
			maxVid = e.Vid + 1
		}
	}
	ix.size.Store(uint32(len(entries)))
	ix.nextVid.Store(maxVid)
	return nil
}
