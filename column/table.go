// Package column implements the per-label columnar vertex property
// store of spec §4.3: each column is a fixed-width extent of
// max_vertex_num slots over a virtual-memory reservation, with string
// columns additionally backed by an append-only blob heap.
package column

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/erigontech/fragmentdb/internal/arena"
	"github.com/erigontech/fragmentdb/internal/atomicbytes"
	"github.com/erigontech/fragmentdb/internal/store"
	"github.com/erigontech/fragmentdb/proptype"
)

const blobHeapInitialSize = 64 * 1024

// Table is one vertex label's columnar property store.
type Table struct {
	label        string
	maxVertexNum uint32
	types        []proptype.Type
	columns      []*store.Extent
	blobs        []*blobHeap // len(types); nil entries for non-string columns
}

// blobHeap is the append-only byte heap backing one string column.
// Growth allocates a new, larger mmap extent and retires the old one
// through the arena rather than growing the existing extent in place
// (spec I3): a concurrent, lock-free Table.Get may be indexing into a
// []byte obtained from ext.Load().Bytes() at the moment of growth, and
// that slice must stay valid until no such reader can remain.
type blobHeap struct {
	mu   sync.Mutex
	a    *arena.Arena
	ext  atomic.Pointer[store.Extent] // acquire/release-published current extent
	tail uint64                      // next free byte offset; writer-only, guarded by mu
}

// Open creates or reopens the column extents for one label under dir.
// types must match the schema's declared property order (column 0 is
// the primary key, as required by §3). a is the Fragment's epoch
// allocator, used to retire superseded blob-heap extents on growth.
func Open(dir, label string, maxVertexNum uint32, types []proptype.Type, a *arena.Arena) (*Table, error) {
	t := &Table{
		label:        label,
		maxVertexNum: maxVertexNum,
		types:        append([]proptype.Type(nil), types...),
		columns:      make([]*store.Extent, len(types)),
		blobs:        make([]*blobHeap, len(types)),
	}
	for i, pt := range types {
		path := filepath.Join(dir, fmt.Sprintf("%s.col%d", label, i))
		size := int64(maxVertexNum) * int64(pt.Width())
		if size == 0 {
			size = int64(pt.Width()) // at least one slot's worth so mmap has something to map
		}
		ext, err := openOrCreate(path, size)
		if err != nil {
			return nil, fmt.Errorf("column: open %s.col%d: %w", label, i, err)
		}
		t.columns[i] = ext
		if pt == proptype.String {
			blobPath := path + ".blob"
			bext, err := openOrCreate(blobPath, blobHeapInitialSize)
			if err != nil {
				return nil, fmt.Errorf("column: open %s.col%d.blob: %w", label, i, err)
			}
			bh := &blobHeap{a: a}
			bh.ext.Store(bext)
			t.blobs[i] = bh
		}
	}
	return t, nil
}

func openOrCreate(path string, size int64) (*store.Extent, error) {
	if ext, err := store.Open(path); err == nil {
		return ext, nil
	}
	return store.Create(path, size)
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int { return len(t.types) }

// ColumnType returns column c's primitive type.
func (t *Table) ColumnType(c int) proptype.Type { return t.types[c] }

func (t *Table) slot(c int, vid uint32) []byte {
	w := t.types[c].Width()
	off := int64(vid) * int64(w)
	b := t.columns[c].Bytes()
	return b[off : off+int64(w)]
}

// Get returns the value at (col, vid). Callers must only pass a vid
// that is < next_vid for this label (I1); out-of-range access panics,
// matching a slice index out of range the way a direct array read
// would.
func (t *Table) Get(col int, vid uint32) proptype.Value {
	pt := t.types[col]
	if pt == proptype.String {
		return t.getString(col, vid)
	}
	s := t.slot(col, vid)
	switch pt.Width() {
	case 4:
		return proptype.DecodeFixedU32(pt, atomicbytes.LoadUint32(s))
	case 8:
		return proptype.DecodeFixedU64(pt, atomicbytes.LoadUint64(s))
	default: // Bool, width 1: single-byte reads are not torn
		return proptype.DecodeFixed(pt, s)
	}
}

func (t *Table) getString(col int, vid uint32) proptype.Value {
	s := t.slot(col, vid)
	off, length := proptype.DecodeStringSlot(s)
	heap := t.blobs[col]
	ext := heap.ext.Load() // acquire: pairs with setString's release Store on growth
	b := ext.Bytes()
	return proptype.StringValue(string(b[off : off+uint64(length)]))
}

// Set writes v into (col, vid). Writer-only. For the initial write of
// a freshly-assigned vid (AddVertex), no reader can have observed vid
// yet (it is published by the LF-Indexer only after the row is
// populated), so a plain write is race-free. For UpdateTransaction
// overwrites of an already-visible vid, this is the documented
// weakening of spec §4.6: readers may observe either the old or new
// value until the overwrite completes, with no torn reads of the
// individual fixed-width field because fields of width 4/8 publish
// via atomicbytes.
func (t *Table) Set(col int, vid uint32, v proptype.Value) error {
	pt := t.types[col]
	if v.Typ != pt {
		return fmt.Errorf("column: %s.col%d: value type %s does not match column type %s", t.label, col, v.Typ, pt)
	}
	if pt == proptype.String {
		return t.setString(col, vid, v)
	}
	s := t.slot(col, vid)
	switch pt.Width() {
	case 4:
		atomicbytes.StoreUint32(s, proptype.EncodeFixedU32(v))
	case 8:
		atomicbytes.StoreUint64(s, proptype.EncodeFixedU64(v))
	default:
		proptype.EncodeFixed(v, s)
	}
	return nil
}

func (t *Table) setString(col int, vid uint32, v proptype.Value) error {
	heap := t.blobs[col]
	data := []byte(v.String())
	heap.mu.Lock()
	defer heap.mu.Unlock()

	ext := heap.ext.Load()
	off := heap.tail
	need := off + uint64(len(data))
	if int64(need) > ext.Size() {
		newSize := ext.Size() * 2
		for int64(need) > newSize {
			newSize *= 2
		}
		newExt, err := ext.GrowNew(newSize)
		if err != nil {
			return fmt.Errorf("column: %s.col%d blob grow: %w", t.label, col, err)
		}
		heap.ext.Store(newExt) // release: getString reloading ext sees the larger mapping
		heap.a.RetireCloser(ext.Close)
		ext = newExt
	}
	copy(ext.Bytes()[off:need], data)
	heap.tail = need

	s := t.slot(col, vid)
	proptype.EncodeStringSlot(s, off, uint32(len(data)))
	return nil
}

// IterColumn calls fn for every vid in [0, n) in increasing order,
// stopping early if fn returns false.
func (t *Table) IterColumn(col int, n uint32, fn func(vid uint32, v proptype.Value) bool) {
	for vid := uint32(0); vid < n; vid++ {
		if !fn(vid, t.Get(col, vid)) {
			return
		}
	}
}

// Sync flushes every column and blob-heap extent to disk.
func (t *Table) Sync() error {
	for i, c := range t.columns {
		if err := c.Sync(); err != nil {
			return fmt.Errorf("column: sync %s.col%d: %w", t.label, i, err)
		}
		if b := t.blobs[i]; b != nil {
			if err := b.ext.Load().Sync(); err != nil {
				return fmt.Errorf("column: sync %s.col%d.blob: %w", t.label, i, err)
			}
		}
	}
	return nil
}

// Close unmaps every extent.
func (t *Table) Close() error {
	var first error
	for i, c := range t.columns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		if b := t.blobs[i]; b != nil {
			if err := b.ext.Load().Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
