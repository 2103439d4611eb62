package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateZeroed(t *testing.T) {
	a := New()
	buf := a.Allocate(100)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
	require.GreaterOrEqual(t, len(buf), 100)
}

func TestRetireNotReclaimedWhileGuardOpen(t *testing.T) {
	a := New()
	g := a.EnterEpoch()
	buf := a.Allocate(64)
	a.Retire(buf)
	require.Equal(t, 1, a.PendingReclaim())

	reclaimed := a.Reclaim()
	require.Equal(t, 0, reclaimed, "must not reclaim while reader guard is open")

	g.LeaveEpoch()
	reclaimed = a.Reclaim()
	require.Equal(t, 1, reclaimed)
	require.Equal(t, 0, a.PendingReclaim())
}

func TestReclaimRecyclesSlabSizedBuffers(t *testing.T) {
	a := New()
	buf := a.Allocate(64)
	a.Retire(buf)
	require.Equal(t, 1, a.Reclaim())

	buf2 := a.Allocate(64)
	require.Equal(t, 64, len(buf2))
}

func TestMultipleReadersOnlyBlockOnOldest(t *testing.T) {
	a := New()
	g1 := a.EnterEpoch()
	buf1 := a.Allocate(32)
	a.Retire(buf1)

	g2 := a.EnterEpoch()
	buf2 := a.Allocate(32)
	a.Retire(buf2)

	g1.LeaveEpoch()
	require.Equal(t, 0, a.Reclaim(), "g2 (older than buf2's retirement) still open")

	g2.LeaveEpoch()
	require.Equal(t, 2, a.Reclaim())
}
