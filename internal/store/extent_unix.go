//go:build unix

package store

import "golang.org/x/sys/unix"

// adviseRandom hints to the kernel that access to a freshly (re)mapped
// extent is non-sequential: Table columns and blob heaps are read by
// vid- or offset-indexed lookups scattered across many columns per
// query, not by streaming scans. Best
// effort: a failure here never affects correctness, only readahead
// behavior, so it is not surfaced as an error.
func adviseRandom(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Madvise(b, unix.MADV_RANDOM)
}
