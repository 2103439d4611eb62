package txn

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/erigontech/fragmentdb/fragment"
	"github.com/erigontech/fragmentdb/proptype"
	"github.com/erigontech/fragmentdb/schema"
)

const socialDoc = `
name: social
store_type: mutable_csr
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type: { primitive_type: DT_SIGNED_INT64 }
        - property_id: 1
          property_name: name
          property_type: { primitive_type: DT_STRING }
      primary_keys: [id]
      x_csr_params: { max_vertex_num: 1000 }
  edge_types:
    - type_name: knows
      vertex_type_pair_relations:
        - source_vertex: person
          destination_vertex: person
          relation: MANY_TO_MANY
          properties:
            - property_id: 0
              property_name: weight
              property_type: { primitive_type: DT_DOUBLE }
`

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	sch, err := schema.ParseBytes([]byte(socialDoc))
	require.NoError(t, err)
	f, err := fragment.Open(t.TempDir(), sch)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return NewManager(f, nil, 0)
}

func TestWriteTransactionPublishesOnCommit(t *testing.T) {
	m := openTestManager(t)

	w := m.BeginWrite()
	vid, err := w.AddVertex("person", []proptype.Value{proptype.Int64Value(1), proptype.StringValue("a")})
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.Equal(t, uint64(1), m.LatestPublishedTs())

	r := m.Begin()
	defer r.Close()
	got, ok, err := r.GetVertex("person", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vid, got)
}

// TestReadTransactionIsStableAcrossLaterWrites matches P6: a
// ReadTransaction's view never changes after Begin, even if a later
// WriteTransaction commits additional mutations.
func TestReadTransactionIsStableAcrossLaterWrites(t *testing.T) {
	m := openTestManager(t)

	w1 := m.BeginWrite()
	_, err := w1.AddVertex("person", []proptype.Value{proptype.Int64Value(1), proptype.StringValue("a")})
	require.NoError(t, err)
	require.NoError(t, w1.Commit())

	r := m.Begin()
	defer r.Close()

	w2 := m.BeginWrite()
	_, err = w2.AddVertex("person", []proptype.Value{proptype.Int64Value(2), proptype.StringValue("b")})
	require.NoError(t, err)
	require.NoError(t, w2.Commit())

	_, ok, err := r.GetVertex("person", 2)
	require.NoError(t, err)
	require.False(t, ok, "vertex committed after Begin must not be visible to an already-open ReadTransaction")

	r2 := m.Begin()
	defer r2.Close()
	_, ok, err = r2.GetVertex("person", 2)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAbortSkipsPublication(t *testing.T) {
	m := openTestManager(t)

	w := m.BeginWrite()
	_, err := w.AddVertex("person", []proptype.Value{proptype.Int64Value(1), proptype.StringValue("a")})
	require.NoError(t, err)
	w.Abort()

	require.Equal(t, uint64(0), m.LatestPublishedTs())

	w2 := m.BeginWrite()
	require.Equal(t, uint64(1), w2.T(), "abort does not consume a timestamp slot beyond the attempted one")
	w2.Abort()
}

func TestWriteTransactionSerializesAcrossGoroutines(t *testing.T) {
	m := openTestManager(t)
	const n = 50

	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			w := m.BeginWrite()
			_, err := w.AddVertex("person", []proptype.Value{proptype.Int64Value(int64(i) + 1), proptype.StringValue("x")})
			require.NoError(t, err)
			require.NoError(t, w.Commit())
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	require.Equal(t, uint32(n), m.f.VertexNum("person"))
	require.Equal(t, uint64(n), m.LatestPublishedTs())
}

// TestRapidTimestampsMonotone is a property test (rapid) for P3: the
// published timestamp after k commits always equals k, regardless of
// how many vertices/edges each commit stages.
func TestRapidTimestampsMonotone(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m, cleanup := openTestManagerRapid(rt)
		defer cleanup()
		commits := rapid.IntRange(1, 30).Draw(rt, "commits")

		nextKey := int64(1)
		for c := 0; c < commits; c++ {
			opsInCommit := rapid.IntRange(1, 5).Draw(rt, "ops")
			w := m.BeginWrite()
			for i := 0; i < opsInCommit; i++ {
				if _, err := w.AddVertex("person", []proptype.Value{proptype.Int64Value(nextKey), proptype.StringValue("x")}); err != nil {
					rt.Fatalf("AddVertex: %v", err)
				}
				nextKey++
			}
			wantT := uint64(c + 1)
			if w.T() != wantT {
				rt.Fatalf("commit %d: T() = %d, want %d", c, w.T(), wantT)
			}
			if err := w.Commit(); err != nil {
				rt.Fatalf("Commit: %v", err)
			}
			if got := m.LatestPublishedTs(); got != wantT {
				rt.Fatalf("commit %d: LatestPublishedTs() = %d, want %d", c, got, wantT)
			}
		}
	})
}

func openTestManagerRapid(rt *rapid.T) (*Manager, func()) {
	dir, err := os.MkdirTemp("", "fragmentdb-txn-rapid-")
	if err != nil {
		rt.Fatalf("mkdir temp: %v", err)
	}

	sch, err := schema.ParseBytes([]byte(socialDoc))
	if err != nil {
		rt.Fatalf("parse schema: %v", err)
	}
	f, err := fragment.Open(dir, sch)
	if err != nil {
		rt.Fatalf("open fragment: %v", err)
	}
	return NewManager(f, nil, 0), func() {
		_ = f.Close()
		_ = os.RemoveAll(dir)
	}
}
