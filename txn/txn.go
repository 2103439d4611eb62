// Package txn implements the three transaction kinds of spec §4.6:
// ReadTransaction (snapshot isolation via an arena epoch guard and a
// captured timestamp), InsertTransaction and UpdateTransaction
// (writer-exclusive, committed-on-construction per the spec's Open
// Questions resolution), coordinated by one atomically published
// commit timestamp per Fragment.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erigontech/fragmentdb/csr"
	"github.com/erigontech/fragmentdb/fragment"
	"github.com/erigontech/fragmentdb/internal/arena"
	"github.com/erigontech/fragmentdb/persistence"
	"github.com/erigontech/fragmentdb/proptype"
)

// Manager owns the single published commit timestamp and the writer
// mutex for one Fragment, and is the sole legal way to open a
// transaction against that Fragment.
type Manager struct {
	f  *fragment.Fragment
	wal *persistence.WAL

	writerMu sync.Mutex
	latestTs atomic.Uint64
}

// NewManager wires a Manager to f, starting from recoveredTs (the
// highest timestamp replayed from the WAL during recovery, or 0 for a
// fresh store).
func NewManager(f *fragment.Fragment, wal *persistence.WAL, recoveredTs uint64) *Manager {
	m := &Manager{f: f, wal: wal}
	m.latestTs.Store(recoveredTs)
	return m
}

// LatestPublishedTs returns the current commit timestamp horizon.
func (m *Manager) LatestPublishedTs() uint64 { return m.latestTs.Load() }

// ReadTransaction is a snapshot read over the Fragment as of a
// captured timestamp. Never blocks the writer and is never blocked by
// it; its resource footprint is exactly one arena epoch guard.
type ReadTransaction struct {
	f     *fragment.Fragment
	ts    uint64
	guard *arena.Guard
	done  bool
}

// Begin opens a ReadTransaction. Ts is set to the Manager's currently
// published timestamp (acquire) and an arena epoch is entered so that
// no buffer this transaction observes can be physically reclaimed
// before Close.
func (m *Manager) Begin() *ReadTransaction {
	return &ReadTransaction{
		f:     m.f,
		ts:    m.latestTs.Load(),
		guard: m.f.Arena().EnterEpoch(),
	}
}

// Ts returns the transaction's snapshot timestamp.
func (r *ReadTransaction) Ts() uint64 { return r.ts }

func (r *ReadTransaction) checkOpen() {
	if r.done {
		panic("txn: use of ReadTransaction after Close")
	}
}

// GetVertex resolves a primary-key lookup.
func (r *ReadTransaction) GetVertex(label string, key int64) (uint32, bool, error) {
	r.checkOpen()
	return r.f.GetVertex(label, key)
}

// GetProperty reads a vertex column.
func (r *ReadTransaction) GetProperty(label string, vid uint32, col int) (proptype.Value, error) {
	r.checkOpen()
	return r.f.GetProperty(label, vid, col)
}

// OutEdges iterates outgoing edges visible at this transaction's Ts.
func (r *ReadTransaction) OutEdges(srcLabel, edgeLabel, dstLabel string, srcVid uint32, fn func(csr.Edge) bool) error {
	r.checkOpen()
	return r.f.OutEdges(srcLabel, edgeLabel, dstLabel, srcVid, r.ts, fn)
}

// InEdges iterates incoming edges visible at this transaction's Ts.
func (r *ReadTransaction) InEdges(srcLabel, edgeLabel, dstLabel string, dstVid uint32, fn func(csr.Edge) bool) error {
	r.checkOpen()
	return r.f.InEdges(srcLabel, edgeLabel, dstLabel, dstVid, r.ts, fn)
}

// VertexNum returns the label's current vertex count (unfiltered by
// Ts: vertex_num is a monotone counter, not a versioned quantity).
func (r *ReadTransaction) VertexNum(label string) uint32 {
	r.checkOpen()
	return r.f.VertexNum(label)
}

// Close leaves the transaction's arena epoch. Safe to call multiple
// times.
func (r *ReadTransaction) Close() {
	if r.done {
		return
	}
	r.guard.LeaveEpoch()
	r.done = true
}

// WriteTransaction is the writer-exclusive transaction kind backing
// both InsertTransaction and UpdateTransaction (spec §4.6: the two
// differ only in whether property overwrites on existing vids are
// permitted, which this type always allows — callers that want the
// stricter InsertTransaction behavior simply never call SetProperty).
//
// Per the spec's Open Questions resolution, operations take effect
// immediately against the Fragment as they are staged; there is no
// side-buffer rollback. A failure mid-transaction is therefore fatal
// to the process, matching the documented commit-on-construction
// semantics — callers must not attempt Abort as a correctness
// mechanism, only as a way to skip publishing T for an intentionally
// discarded batch of otherwise-harmless staged writes (e.g. a dry run
// against a throwaway Fragment).
type WriteTransaction struct {
	m    *Manager
	f    *fragment.Fragment
	t    uint64
	done bool
}

// BeginWrite acquires the writer mutex and assigns the next commit
// timestamp. The mutex is held until Commit or Abort.
func (m *Manager) BeginWrite() *WriteTransaction {
	m.writerMu.Lock()
	return &WriteTransaction{
		m: m,
		f: m.f,
		t: m.latestTs.Load() + 1,
	}
}

// T returns the timestamp this transaction will publish on Commit.
func (w *WriteTransaction) T() uint64 { return w.t }

func (w *WriteTransaction) checkOpen() {
	if w.done {
		panic("txn: use of WriteTransaction after Commit/Abort")
	}
}

// AddVertex stages a new vertex, appending its WAL record immediately
// (see type doc: staged operations are not buffered).
func (w *WriteTransaction) AddVertex(label string, props []proptype.Value) (uint32, error) {
	w.checkOpen()
	vid, err := w.f.AddVertex(label, props)
	if err != nil {
		return 0, err
	}
	if w.m.wal != nil {
		if err := w.m.wal.AppendAddVertex(w.t, label, props); err != nil {
			return 0, fmt.Errorf("txn: wal append: %w", err)
		}
	}
	return vid, nil
}

// AddEdge stages a new edge at this transaction's commit timestamp.
func (w *WriteTransaction) AddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64, prop proptype.Value, mode fragment.EndpointMode) error {
	w.checkOpen()
	if err := w.f.AddEdge(edgeLabel, srcLabel, srcKey, dstLabel, dstKey, prop, w.t, mode); err != nil {
		return err
	}
	if w.m.wal != nil {
		if err := w.m.wal.AppendAddEdge(w.t, edgeLabel, srcLabel, srcKey, dstLabel, dstKey, prop); err != nil {
			return fmt.Errorf("txn: wal append: %w", err)
		}
	}
	return nil
}

// SetProperty overwrites an existing vid's column (UpdateTransaction
// semantics: no versioning, see fragment.Fragment.SetProperty).
func (w *WriteTransaction) SetProperty(label string, vid uint32, col int, v proptype.Value) error {
	w.checkOpen()
	if err := w.f.SetProperty(label, vid, col, v); err != nil {
		return err
	}
	if w.m.wal != nil {
		if err := w.m.wal.AppendUpdateVertexProp(w.t, label, vid, col, v); err != nil {
			return fmt.Errorf("txn: wal append: %w", err)
		}
	}
	return nil
}

// Commit fsyncs the staged WAL records, publishes T as the new
// latest_published_ts, and releases the writer mutex.
func (w *WriteTransaction) Commit() error {
	w.checkOpen()
	defer w.m.writerMu.Unlock()
	w.done = true

	if w.m.wal != nil {
		if err := w.m.wal.Sync(); err != nil {
			return fmt.Errorf("txn: commit fsync: %w", err)
		}
	}
	w.m.latestTs.Store(w.t) // release: publishes every staged write at T
	return nil
}

// Abort releases the writer mutex without publishing T. Per the type
// doc, any Fragment mutations already staged remain in memory and in
// the WAL's unflushed tail; Abort is only meaningful when the caller
// knows no staged operation occurred (e.g. a failed precondition
// check before the first AddVertex/AddEdge call).
func (w *WriteTransaction) Abort() {
	w.checkOpen()
	w.done = true
	w.m.writerMu.Unlock()
}
