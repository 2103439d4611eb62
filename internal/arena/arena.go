// Package arena implements the epoch-based buffer allocator described
// in spec §4.1: buffers handed to readers are never freed while any
// reader's observation window (epoch guard) might still reach them.
// There is no tracing GC here in the usual sense — reclamation is
// just letting Go's garbage collector drop the last reference once no
// reader epoch predates a buffer's retirement — but the bookkeeping
// that decides *when* that's safe is the same epoch-counter
// discipline a non-GC'd implementation would need.
package arena

import (
	"sync"
	"sync/atomic"
)

// sizeClasses are the power-of-two buffer sizes the slab freelist
// recycles. Allocations larger than the biggest class fall back to a
// plain make([]byte, n) with no recycling.
var sizeClasses = [...]int{64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

func classFor(n int) int {
	for _, c := range sizeClasses {
		if n <= c {
			return c
		}
	}
	return 0 // no class; caller allocates exactly n
}

type retiredBuffer struct {
	buf      []byte
	class    int // 0 if not slab-backed
	retireAt uint64
}

// retiredCloser is a retired resource that isn't a plain byte buffer
// (e.g. a superseded mmap extent) and so can't be slab-recycled; it is
// simply closed once no reader epoch can still reach it.
type retiredCloser struct {
	close    func() error
	retireAt uint64
}

// Arena is a single epoch-based allocator, shared by every Mutable CSR
// adjacency list and blob-heap growth in one Fragment.
type Arena struct {
	epoch atomic.Uint64 // bumped before every Retire

	readersMu    sync.Mutex
	nextReaderID uint64
	readers      map[uint64]*uint64 // reader id -> entry epoch (entry deleted once left)

	retiredMu      sync.Mutex
	retired        []retiredBuffer
	retiredClosers []retiredCloser

	slabMu sync.Mutex
	slabs  map[int][][]byte // size class -> free buffers
}

// New creates an Arena with its epoch counter at 0; the first Retire
// or RetireCloser advances it to 1.
func New() *Arena {
	return &Arena{
		epoch:   atomic.Uint64{},
		readers: make(map[uint64]*uint64),
		slabs:   make(map[int][][]byte),
	}
}

// Guard delimits one reader's observation window. A buffer retired
// while a Guard is open may still be referenced by that reader and
// will not be reclaimed until the Guard is released.
type Guard struct {
	a        *Arena
	readerID uint64
}

// EnterEpoch begins a reader's observation window.
func (a *Arena) EnterEpoch() *Guard {
	a.readersMu.Lock()
	id := a.nextReaderID
	a.nextReaderID++
	e := a.currentEpoch()
	a.readers[id] = &e
	a.readersMu.Unlock()
	return &Guard{a: a, readerID: id}
}

// LeaveEpoch releases a reader's observation window. Safe to call at
// most once per Guard.
func (g *Guard) LeaveEpoch() {
	if g == nil {
		return
	}
	g.a.readersMu.Lock()
	delete(g.a.readers, g.readerID)
	g.a.readersMu.Unlock()
}

func (a *Arena) currentEpoch() uint64 {
	return a.epoch.Load()
}

// Allocate returns a zeroed buffer of length nbytes, fresh or recycled
// from the slab freelist, whose capacity is nbytes's size class (or
// exactly nbytes if larger than the biggest class).
func (a *Arena) Allocate(nbytes int) []byte {
	class := classFor(nbytes)
	if class == 0 {
		return make([]byte, nbytes)
	}
	a.slabMu.Lock()
	free := a.slabs[class]
	if n := len(free); n > 0 {
		buf := free[n-1][:nbytes]
		a.slabs[class] = free[:n-1]
		a.slabMu.Unlock()
		clear(buf)
		return buf
	}
	a.slabMu.Unlock()
	return make([]byte, nbytes, class)
}

// Retire marks buf as no longer referenced by any *new* reader. The
// global epoch advances first, so any reader entering after this call
// is guaranteed to observe an epoch newer than buf's retirement.
func (a *Arena) Retire(buf []byte) {
	if buf == nil {
		return
	}
	at := a.epoch.Add(1)
	class := classFor(cap(buf))
	if cap(buf) != class {
		class = 0 // not slab-sized (e.g. came from a prior large alloc); don't recycle
	}
	a.retiredMu.Lock()
	a.retired = append(a.retired, retiredBuffer{buf: buf, class: class, retireAt: at})
	a.retiredMu.Unlock()
}

// RetireCloser schedules close to run once no reader epoch predates the
// current epoch, mirroring Retire's discipline for a resource that
// isn't a raw byte buffer — e.g. a mmap extent superseded by a freshly
// remapped one of larger size (store.Extent.GrowNew): the old mapping
// must stay valid for any reader that obtained a Bytes() slice from it
// before the grow, and is only unmapped once no such reader can remain.
func (a *Arena) RetireCloser(close func() error) {
	at := a.epoch.Add(1)
	a.retiredMu.Lock()
	a.retiredClosers = append(a.retiredClosers, retiredCloser{close: close, retireAt: at})
	a.retiredMu.Unlock()
}

// minActiveEpoch returns the oldest epoch any currently-active reader
// entered at. With no active readers, nothing retired so far can
// still be observed, so it returns one past the current epoch —
// anything retired up to and including this instant is safe to free.
func (a *Arena) minActiveEpoch() uint64 {
	min := a.currentEpoch() + 1
	a.readersMu.Lock()
	for _, e := range a.readers {
		if *e < min {
			min = *e
		}
	}
	a.readersMu.Unlock()
	return min
}

// Reclaim frees (returns to the slab freelist, or drops) every retired
// buffer, and closes every retired closer, whose retirement epoch
// predates every active reader's entry epoch. Returns the number of
// buffers and closers reclaimed. A closer's error is dropped (best
// effort on an already-superseded resource, e.g. an unmap of a mapping
// nothing can write through any more); a failure here cannot corrupt
// state that a newer, already-published resource has taken over from.
func (a *Arena) Reclaim() int {
	min := a.minActiveEpoch()

	a.retiredMu.Lock()
	kept := a.retired[:0]
	var toRecycle []retiredBuffer
	for _, r := range a.retired {
		if r.retireAt < min {
			toRecycle = append(toRecycle, r)
		} else {
			kept = append(kept, r)
		}
	}
	a.retired = kept

	keptClosers := a.retiredClosers[:0]
	var toClose []retiredCloser
	for _, c := range a.retiredClosers {
		if c.retireAt < min {
			toClose = append(toClose, c)
		} else {
			keptClosers = append(keptClosers, c)
		}
	}
	a.retiredClosers = keptClosers
	a.retiredMu.Unlock()

	if len(toRecycle) > 0 {
		a.slabMu.Lock()
		for _, r := range toRecycle {
			if r.class != 0 {
				a.slabs[r.class] = append(a.slabs[r.class], r.buf[:0:r.class])
			}
			// class == 0 buffers are simply dropped; Go's GC reclaims them
			// once this function returns with no remaining reference.
		}
		a.slabMu.Unlock()
	}

	for _, c := range toClose {
		_ = c.close()
	}
	return len(toRecycle) + len(toClose)
}

// PendingReclaim reports how many retired buffers and closers are
// waiting for a safe epoch, for diagnostics/logging.
func (a *Arena) PendingReclaim() int {
	a.retiredMu.Lock()
	defer a.retiredMu.Unlock()
	return len(a.retired) + len(a.retiredClosers)
}

// ActiveReaders reports the number of currently open epoch guards.
func (a *Arena) ActiveReaders() int {
	a.readersMu.Lock()
	defer a.readersMu.Unlock()
	return len(a.readers)
}
