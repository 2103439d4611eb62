// Package atomicbytes provides release/acquire load and store of
// fixed-width integers inside a larger mmap-backed byte region. The
// column store and the Mutable CSR both lay records out as packed
// bytes in virtual-memory extents; this is the primitive both use to
// publish a field to concurrent readers without a lock, the same way
// a hand-rolled mmap KV engine would.
//
// Callers are responsible for alignment: b must start at an offset
// that is a multiple of the width being accessed. Column and CSR
// record layouts are chosen so this always holds (see proptype.Width
// and csr's record stride).
package atomicbytes

import (
	"sync/atomic"
	"unsafe"
)

// LoadUint32 acquire-loads a uint32 at the start of b.
func LoadUint32(b []byte) uint32 {
	p := (*uint32)(unsafe.Pointer(&b[0]))
	return atomic.LoadUint32(p)
}

// StoreUint32 release-stores v at the start of b.
func StoreUint32(b []byte, v uint32) {
	p := (*uint32)(unsafe.Pointer(&b[0]))
	atomic.StoreUint32(p, v)
}

// LoadUint64 acquire-loads a uint64 at the start of b.
func LoadUint64(b []byte) uint64 {
	p := (*uint64)(unsafe.Pointer(&b[0]))
	return atomic.LoadUint64(p)
}

// StoreUint64 release-stores v at the start of b.
func StoreUint64(b []byte, v uint64) {
	p := (*uint64)(unsafe.Pointer(&b[0]))
	atomic.StoreUint64(p, v)
}
