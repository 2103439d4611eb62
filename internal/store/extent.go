// Package store implements the fixed-extent virtual-memory primitive
// used by the column store (§4.3) for its columns and blob heaps: a
// large, sparsely-backed region obtained by reserving a sparse file
// and memory-mapping it, so that only touched pages occupy physical
// memory.
package store

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Extent is a byte-addressable, mmap-backed region of fixed size,
// persisted as a single file under the snapshot directory.
type Extent struct {
	path string
	file *os.File
	mm   mmap.MMap
}

// Create reserves a new extent of exactly size bytes backed by a
// sparse file at path. The file is created if absent and truncated to
// size; truncation on a freshly-created file only touches the
// metadata, not size bytes of disk, which is what makes "large,
// sparsely backed" cheap.
func Create(path string, size int64) (*Extent, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: create extent %q: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: truncate extent %q to %d: %w", path, size, err)
	}
	return mapFile(path, f)
}

// Open memory-maps an existing extent file at its current on-disk
// size (used on recovery, where the size was fixed at Create time).
func Open(path string) (*Extent, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open extent %q: %w", path, err)
	}
	return mapFile(path, f)
}

func mapFile(path string, f *os.File) (*Extent, error) {
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat extent %q: %w", path, err)
	}
	if st.Size() == 0 {
		// mmap of a zero-length file is rejected by the OS; a
		// zero-capacity extent never needs to back real slots.
		return &Extent{path: path, file: f}, nil
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap extent %q: %w", path, err)
	}
	adviseRandom(m)
	return &Extent{path: path, file: f, mm: m}, nil
}

// Bytes returns the mapped region. The returned slice remains valid
// until Close; unlike a plain in-place resize, GrowNew never
// invalidates it (see GrowNew).
func (e *Extent) Bytes() []byte {
	if e.mm == nil {
		return nil
	}
	return e.mm
}

// Size returns the current extent size in bytes.
func (e *Extent) Size() int64 {
	return int64(len(e.mm))
}

// GrowNew returns a new Extent mapping the same backing file at
// newSize, leaving the receiver's own mapping untouched. It never
// unmaps e: any reader that obtained a slice from a prior e.Bytes()
// call keeps observing valid memory through that slice after GrowNew
// returns, because the old mapping is merely superseded, not torn
// down. The new mapping is guaranteed to carry the old contents as its
// prefix, since enlarging the backing file only extends it, never
// moves or rewrites existing bytes.
//
// Callers publish the returned Extent in place of the receiver (e.g.
// an atomic.Pointer store) and must retire — not immediately close —
// the receiver via an arena, the same discipline the Mutable CSR uses
// for its own buffer growth (spec I3): a concurrent reader may still
// be indexing into e's mapping at the moment of the swap.
func (e *Extent) GrowNew(newSize int64) (*Extent, error) {
	if newSize <= e.Size() {
		return e, nil
	}
	if err := e.file.Truncate(newSize); err != nil {
		return nil, fmt.Errorf("store: truncate extent %q to %d: %w", e.path, newSize, err)
	}
	f, err := os.OpenFile(e.path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: reopen extent %q for grow: %w", e.path, err)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: remap extent %q: %w", e.path, err)
	}
	adviseRandom(m)
	return &Extent{path: e.path, file: f, mm: m}, nil
}

// Sync flushes dirty pages and fsyncs the backing file.
func (e *Extent) Sync() error {
	if e.mm != nil {
		if err := e.mm.Flush(); err != nil {
			return fmt.Errorf("store: flush extent %q: %w", e.path, err)
		}
	}
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("store: fsync extent %q: %w", e.path, err)
	}
	return nil
}

// Close unmaps and closes the backing file. The extent must not be
// used afterward.
func (e *Extent) Close() error {
	var err error
	if e.mm != nil {
		err = e.mm.Unmap()
		e.mm = nil
	}
	if cerr := e.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Path returns the extent's backing file path, for snapshot manifests.
func (e *Extent) Path() string { return e.path }
