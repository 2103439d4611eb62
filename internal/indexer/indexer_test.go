package indexer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestInsertLookupRoundTrip(t *testing.T) {
	ix := New("person", 8)
	vid, err := ix.Insert(42)
	require.NoError(t, err)
	require.Equal(t, uint32(0), vid)

	got, ok := ix.Lookup(42)
	require.True(t, ok)
	require.Equal(t, vid, got)

	_, ok = ix.Lookup(999)
	require.False(t, ok)
}

func TestInsertDuplicateKey(t *testing.T) {
	ix := New("person", 8)
	_, err := ix.Insert(1)
	require.NoError(t, err)
	_, err = ix.Insert(1)
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.Equal(t, uint32(1), ix.Size())
}

func TestInsertCapacityExceeded(t *testing.T) {
	ix := New("person", 2)
	_, err := ix.Insert(1)
	require.NoError(t, err)
	_, err = ix.Insert(2)
	require.NoError(t, err)
	_, err = ix.Insert(3)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, uint32(2), ix.Size())
}

// TestDenseVidAssignment is P1: assigned vids for one label form
// [0, n) with no gaps or repeats.
func TestDenseVidAssignment(t *testing.T) {
	ix := New("person", 1000)
	seen := make(map[uint32]bool)
	for i := 0; i < 500; i++ {
		vid, err := ix.Insert(int64(i) + 1)
		require.NoError(t, err)
		require.False(t, seen[vid])
		seen[vid] = true
	}
	for i := uint32(0); i < 500; i++ {
		require.True(t, seen[i], "vid %d missing from dense range", i)
	}
}

// TestConcurrentLookupDuringInsert exercises concurrent Lookup calls
// against an in-flight sequence of Inserts: every Lookup must either
// see nothing, or see a fully-published (key, vid) pair — it must
// never observe a key with a zero-value vid that wasn't actually
// assigned 0.
func TestConcurrentLookupDuringInsert(t *testing.T) {
	ix := New("person", 4096)
	const n = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for k := int64(1); k <= n; k++ {
					if vid, ok := ix.Lookup(k); ok {
						require.Less(t, vid, uint32(n))
					}
				}
			}
		}()
	}

	for k := int64(1); k <= n; k++ {
		_, err := ix.Insert(k)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	for k := int64(1); k <= n; k++ {
		_, ok := ix.Lookup(k)
		require.True(t, ok)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ix := New("person", 64)
	for i := int64(1); i <= 10; i++ {
		_, err := ix.Insert(i * 7)
		require.NoError(t, err)
	}
	entries := ix.SnapshotIter()
	require.Len(t, entries, 10)

	restored := New("person", 64)
	require.NoError(t, restored.LoadEntries(entries))
	require.Equal(t, ix.Size(), restored.Size())
	for i := int64(1); i <= 10; i++ {
		want, ok := ix.Lookup(i * 7)
		require.True(t, ok)
		got, ok := restored.Lookup(i * 7)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, err := restored.Insert(11)
	require.NoError(t, err)
}

// TestRapidInsertThenLookup is a property test (rapid) for P2: for
// every sequence of distinct inserted keys, lookup round-trips.
func TestRapidInsertThenLookup(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(rt, "n")
		ix := New("person", uint32(n))
		keys := rapid.SliceOfNDistinct(rapid.Int64Range(1, 1<<40), n, n, func(k int64) int64 { return k }).Draw(rt, "keys")

		assigned := make(map[int64]uint32, n)
		for _, k := range keys {
			vid, err := ix.Insert(k)
			if err != nil {
				rt.Fatalf("unexpected insert error for distinct key %d: %v", k, err)
			}
			assigned[k] = vid
		}
		for k, vid := range assigned {
			got, ok := ix.Lookup(k)
			if !ok || got != vid {
				rt.Fatalf("lookup(%d) = (%d, %v), want (%d, true)", k, got, ok, vid)
			}
		}
	})
}
