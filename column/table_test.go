package column

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/fragmentdb/internal/arena"
	"github.com/erigontech/fragmentdb/proptype"
)

func TestGetSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, "person", 10, []proptype.Type{proptype.Int64, proptype.String, proptype.Double, proptype.Bool}, arena.New())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Set(0, 0, proptype.Int64Value(42)))
	require.NoError(t, tbl.Set(1, 0, proptype.StringValue("alice")))
	require.NoError(t, tbl.Set(2, 0, proptype.DoubleValue(3.25)))
	require.NoError(t, tbl.Set(3, 0, proptype.BoolValue(true)))

	require.Equal(t, int64(42), tbl.Get(0, 0).Int64())
	require.Equal(t, "alice", tbl.Get(1, 0).String())
	require.Equal(t, 3.25, tbl.Get(2, 0).Double())
	require.Equal(t, true, tbl.Get(3, 0).Bool())
}

func TestStringBlobHeapGrows(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, "doc", 1000, []proptype.Type{proptype.Int64, proptype.String}, arena.New())
	require.NoError(t, err)
	defer tbl.Close()

	big := make([]byte, 200*1024)
	for i := range big {
		big[i] = byte(i)
	}
	for vid := uint32(0); vid < 5; vid++ {
		require.NoError(t, tbl.Set(1, vid, proptype.StringValue(string(big))))
	}
	for vid := uint32(0); vid < 5; vid++ {
		require.Equal(t, string(big), tbl.Get(1, vid).String())
	}
}

// TestStringBlobHeapGrowsUnderConcurrentReaders exercises the
// growth-under-concurrent-readers scenario spec I3/§4.4 solves for CSR
// buffers, against the blob heap's own growth path: a reader holding
// an epoch guard across a blob-heap grow must keep seeing valid,
// correctly-paired (offset,length) data, never a crash from indexing
// into an unmapped region.
func TestStringBlobHeapGrowsUnderConcurrentReaders(t *testing.T) {
	dir := t.TempDir()
	a := arena.New()
	tbl, err := Open(dir, "doc", 64, []proptype.Type{proptype.Int64, proptype.String}, a)
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Set(1, 0, proptype.StringValue("seed")))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard := a.EnterEpoch()
			defer guard.LeaveEpoch()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := tbl.Get(1, 0).String()
				require.NotEmpty(t, v)
			}
		}()
	}

	big := make([]byte, 4*64*1024)
	for i := range big {
		big[i] = byte(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, tbl.Set(1, 0, proptype.StringValue(string(big[:1000+i*7000]))))
	}
	close(stop)
	wg.Wait()
}

func TestUpdateOverwrite(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, "person", 10, []proptype.Type{proptype.Int64, proptype.Int32}, arena.New())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Set(1, 3, proptype.Int32Value(10)))
	require.Equal(t, int32(10), tbl.Get(1, 3).Int32())
	require.NoError(t, tbl.Set(1, 3, proptype.Int32Value(20)))
	require.Equal(t, int32(20), tbl.Get(1, 3).Int32())
}

func TestIterColumn(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, "person", 10, []proptype.Type{proptype.Int64}, arena.New())
	require.NoError(t, err)
	defer tbl.Close()

	for vid := uint32(0); vid < 5; vid++ {
		require.NoError(t, tbl.Set(0, vid, proptype.Int64Value(int64(vid)*10)))
	}
	var got []int64
	tbl.IterColumn(0, 5, func(vid uint32, v proptype.Value) bool {
		got = append(got, v.Int64())
		return true
	})
	require.Equal(t, []int64{0, 10, 20, 30, 40}, got)
}

func TestReopenExtentPersists(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, "person", 10, []proptype.Type{proptype.Int64, proptype.String}, arena.New())
	require.NoError(t, err)
	require.NoError(t, tbl.Set(0, 0, proptype.Int64Value(7)))
	require.NoError(t, tbl.Set(1, 0, proptype.StringValue("hi")))
	require.NoError(t, tbl.Sync())
	require.NoError(t, tbl.Close())

	reopened, err := Open(dir, "person", 10, []proptype.Type{proptype.Int64, proptype.String}, arena.New())
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, int64(7), reopened.Get(0, 0).Int64())
	require.Equal(t, "hi", reopened.Get(1, 0).String())
}
