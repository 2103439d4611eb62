// Package fragment composes a Schema with per-label indexers and
// column tables and per-(triplet,direction) adjacency structures into
// one graph instance, and implements the point-read, traversal, and
// mutation API described in spec §4.5.
package fragment

import (
	"errors"
	"fmt"

	"github.com/erigontech/fragmentdb/column"
	"github.com/erigontech/fragmentdb/csr"
	"github.com/erigontech/fragmentdb/internal/arena"
	"github.com/erigontech/fragmentdb/internal/indexer"
	"github.com/erigontech/fragmentdb/proptype"
	"github.com/erigontech/fragmentdb/schema"
)

// ErrUnknownVertex is returned by AddEdge in strict mode when an
// endpoint key has not been inserted.
var ErrUnknownVertex = errors.New("fragment: unknown vertex")

// EndpointMode controls AddEdge's behavior when an endpoint key is
// missing from its label's indexer.
type EndpointMode uint8

const (
	// Strict rejects the call with ErrUnknownVertex.
	Strict EndpointMode = iota
	// Upsert creates the missing endpoint with null non-primary
	// properties before recording the edge.
	Upsert
)

type vertexLabel struct {
	def   schema.VertexType
	idx   *indexer.Indexer
	table *column.Table
}

// triplet keys a Mutable CSR by (edge label, source vertex label,
// destination vertex label, direction).
type tripletKey struct {
	edgeLabel string
	srcLabel  string
	dstLabel  string
	outgoing  bool
}

// Fragment is the composite graph instance: the unit a transaction
// operates against.
type Fragment struct {
	schema *schema.Schema
	arena  *arena.Arena
	dir    string

	vertexLabels map[string]*vertexLabel
	csrs         map[tripletKey]*csr.CSR
}

// Open materializes a Fragment from sch, creating or reopening its
// per-label extents under dir.
func Open(dir string, sch *schema.Schema) (*Fragment, error) {
	f := &Fragment{
		schema:       sch,
		arena:        arena.New(),
		dir:          dir,
		vertexLabels: make(map[string]*vertexLabel),
		csrs:         make(map[tripletKey]*csr.CSR),
	}

	for _, vt := range sch.VertexTypes {
		types := make([]proptype.Type, len(vt.Properties))
		for i, p := range vt.Properties {
			types[i] = p.Type
		}
		tbl, err := column.Open(dir, vt.TypeName, vt.MaxVertexNum, types, f.arena)
		if err != nil {
			return nil, fmt.Errorf("fragment: open table %s: %w", vt.TypeName, err)
		}
		f.vertexLabels[vt.TypeName] = &vertexLabel{
			def:   vt,
			idx:   indexer.New(vt.TypeName, vt.MaxVertexNum),
			table: tbl,
		}
	}

	for _, et := range sch.EdgeTypes {
		for _, rel := range et.Relations {
			srcVT, ok := sch.VertexType(rel.SourceVertex)
			if !ok {
				return nil, fmt.Errorf("fragment: edge type %s references unknown source %s", et.TypeName, rel.SourceVertex)
			}
			dstVT, ok := sch.VertexType(rel.DestinationVertex)
			if !ok {
				return nil, fmt.Errorf("fragment: edge type %s references unknown destination %s", et.TypeName, rel.DestinationVertex)
			}

			hasProp := rel.Property != nil
			var propType proptype.Type
			if hasProp {
				propType = rel.Property.Type
			}

			outName := fmt.Sprintf("%s.%s-%s.out", et.TypeName, rel.SourceVertex, rel.DestinationVertex)
			f.csrs[tripletKey{et.TypeName, rel.SourceVertex, rel.DestinationVertex, true}] =
				csr.New(outName, f.arena, srcVT.MaxVertexNum, rel.OutgoingStrategy, hasProp, propType)

			inName := fmt.Sprintf("%s.%s-%s.in", et.TypeName, rel.SourceVertex, rel.DestinationVertex)
			f.csrs[tripletKey{et.TypeName, rel.SourceVertex, rel.DestinationVertex, false}] =
				csr.New(inName, f.arena, dstVT.MaxVertexNum, rel.IncomingStrategy, hasProp, propType)
		}
	}

	return f, nil
}

// Dir returns the directory this Fragment's extents live under.
func (f *Fragment) Dir() string { return f.dir }

// VertexLabels returns every vertex label name, for persistence dump.
func (f *Fragment) VertexLabels() []string {
	out := make([]string, 0, len(f.vertexLabels))
	for name := range f.vertexLabels {
		out = append(out, name)
	}
	return out
}

// IndexerOf exposes a label's LF-Indexer, for persistence dump/load.
func (f *Fragment) IndexerOf(label string) (*indexer.Indexer, error) {
	vl, err := f.label(label)
	if err != nil {
		return nil, err
	}
	return vl.idx, nil
}

// TableOf exposes a label's column Table, for persistence dump.
func (f *Fragment) TableOf(label string) (*column.Table, error) {
	vl, err := f.label(label)
	if err != nil {
		return nil, err
	}
	return vl.table, nil
}

// Triplets returns every (edgeLabel, srcLabel, dstLabel) triplet the
// schema declares, for persistence dump/load.
func (f *Fragment) Triplets() []struct{ EdgeLabel, SrcLabel, DstLabel string } {
	var out []struct{ EdgeLabel, SrcLabel, DstLabel string }
	for _, et := range f.schema.EdgeTypes {
		for _, rel := range et.Relations {
			out = append(out, struct{ EdgeLabel, SrcLabel, DstLabel string }{et.TypeName, rel.SourceVertex, rel.DestinationVertex})
		}
	}
	return out
}

// CSROf exposes the CSR for one (edgeLabel, srcLabel, dstLabel,
// direction) triplet, for persistence dump/load.
func (f *Fragment) CSROf(edgeLabel, srcLabel, dstLabel string, outgoing bool) (*csr.CSR, error) {
	c, ok := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, outgoing}]
	if !ok {
		return nil, fmt.Errorf("fragment: no csr for %s(%s->%s) outgoing=%v", edgeLabel, srcLabel, dstLabel, outgoing)
	}
	return c, nil
}

// Arena returns the Fragment's epoch allocator, for ReadTransaction.
func (f *Fragment) Arena() *arena.Arena { return f.arena }

// Schema returns the Fragment's immutable type document.
func (f *Fragment) Schema() *schema.Schema { return f.schema }

func (f *Fragment) label(name string) (*vertexLabel, error) {
	vl, ok := f.vertexLabels[name]
	if !ok {
		return nil, fmt.Errorf("fragment: unknown vertex label %q", name)
	}
	return vl, nil
}

// AddVertex inserts a new vertex of the given label with properties
// in schema-declared column order (props[0] is the primary key).
// Writer-only.
func (f *Fragment) AddVertex(label string, props []proptype.Value) (uint32, error) {
	vl, err := f.label(label)
	if err != nil {
		return 0, err
	}
	if len(props) != len(vl.def.Properties) {
		return 0, fmt.Errorf("fragment: %s.AddVertex: expected %d properties, got %d", label, len(vl.def.Properties), len(props))
	}
	key := props[0].Int64()

	vid, err := vl.idx.Insert(key)
	if err != nil {
		return 0, err
	}
	for col, v := range props {
		if err := vl.table.Set(col, vid, v); err != nil {
			return 0, fmt.Errorf("fragment: %s.AddVertex: %w", label, err)
		}
	}
	return vid, nil
}

// GetVertex resolves a primary-key lookup to its internal vid.
func (f *Fragment) GetVertex(label string, key int64) (uint32, bool, error) {
	vl, err := f.label(label)
	if err != nil {
		return 0, false, err
	}
	vid, ok := vl.idx.Lookup(key)
	return vid, ok, nil
}

// GetProperty reads column col of vertex vid in label.
func (f *Fragment) GetProperty(label string, vid uint32, col int) (proptype.Value, error) {
	vl, err := f.label(label)
	if err != nil {
		return proptype.Value{}, err
	}
	return vl.table.Get(col, vid), nil
}

// SetProperty overwrites column col of an already-published vid, per
// UpdateTransaction semantics (spec §4.6): no versioning, readers may
// observe either the old or new value until publication.
func (f *Fragment) SetProperty(label string, vid uint32, col int, v proptype.Value) error {
	vl, err := f.label(label)
	if err != nil {
		return err
	}
	return vl.table.Set(col, vid, v)
}

// VertexNum returns the number of vertices assigned so far for label.
func (f *Fragment) VertexNum(label string) uint32 {
	vl, ok := f.vertexLabels[label]
	if !ok {
		return 0
	}
	return vl.idx.Size()
}

func (f *Fragment) resolveEndpoint(label string, key int64, mode EndpointMode) (uint32, error) {
	vl, err := f.label(label)
	if err != nil {
		return 0, err
	}
	if vid, ok := vl.idx.Lookup(key); ok {
		return vid, nil
	}
	if mode == Strict {
		return 0, fmt.Errorf("%w: %s key %d", ErrUnknownVertex, label, key)
	}
	vid, err := vl.idx.Insert(key)
	if err != nil {
		return 0, err
	}
	for col, p := range vl.def.Properties {
		if col == 0 {
			if err := vl.table.Set(0, vid, proptype.Int64Value(key)); err != nil {
				return 0, err
			}
			continue
		}
		if err := vl.table.Set(col, vid, zeroValue(p.Type)); err != nil {
			return 0, err
		}
	}
	return vid, nil
}

// AddEdge records an edge between two endpoints resolved by primary
// key, at commit timestamp ts. Writer-only. Both the outgoing CSR on
// the source and the incoming CSR on the destination are updated,
// both carrying ts.
func (f *Fragment) AddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64, prop proptype.Value, ts uint64, mode EndpointMode) error {
	srcVid, err := f.resolveEndpoint(srcLabel, srcKey, mode)
	if err != nil {
		return err
	}
	dstVid, err := f.resolveEndpoint(dstLabel, dstKey, mode)
	if err != nil {
		return err
	}

	out, ok := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, true}]
	if !ok {
		return fmt.Errorf("fragment: no outgoing strategy for %s(%s->%s)", edgeLabel, srcLabel, dstLabel)
	}
	in, ok := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, false}]
	if !ok {
		return fmt.Errorf("fragment: no incoming strategy for %s(%s->%s)", edgeLabel, srcLabel, dstLabel)
	}

	if err := out.Insert(srcVid, dstVid, ts, prop); err != nil {
		return err
	}
	if err := in.Insert(dstVid, srcVid, ts, prop); err != nil {
		return err
	}
	return nil
}

// OutEdges iterates edges out of (srcLabel, srcVid) for edgeLabel
// toward dstLabel, visible at ts, stopping early if fn returns false.
func (f *Fragment) OutEdges(srcLabel, edgeLabel, dstLabel string, srcVid uint32, ts uint64, fn func(csr.Edge) bool) error {
	c, ok := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, true}]
	if !ok {
		return fmt.Errorf("fragment: no outgoing strategy for %s(%s->%s)", edgeLabel, srcLabel, dstLabel)
	}
	return c.EdgesOf(srcVid, ts, fn)
}

// InEdges iterates edges into (dstLabel, dstVid) for edgeLabel from
// srcLabel, visible at ts, stopping early if fn returns false.
func (f *Fragment) InEdges(srcLabel, edgeLabel, dstLabel string, dstVid uint32, ts uint64, fn func(csr.Edge) bool) error {
	c, ok := f.csrs[tripletKey{edgeLabel, srcLabel, dstLabel, false}]
	if !ok {
		return fmt.Errorf("fragment: no incoming strategy for %s(%s->%s)", edgeLabel, srcLabel, dstLabel)
	}
	return c.EdgesOf(dstVid, ts, fn)
}

// Sync flushes every label's table extents to disk.
func (f *Fragment) Sync() error {
	for name, vl := range f.vertexLabels {
		if err := vl.table.Sync(); err != nil {
			return fmt.Errorf("fragment: sync %s: %w", name, err)
		}
	}
	return nil
}

// Close unmaps every extent held by the Fragment.
func (f *Fragment) Close() error {
	var first error
	for _, vl := range f.vertexLabels {
		if err := vl.table.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func zeroValue(t proptype.Type) proptype.Value {
	switch t {
	case proptype.Int32:
		return proptype.Int32Value(0)
	case proptype.Int64:
		return proptype.Int64Value(0)
	case proptype.Uint32:
		return proptype.Uint32Value(0)
	case proptype.Uint64:
		return proptype.Uint64Value(0)
	case proptype.Double:
		return proptype.DoubleValue(0)
	case proptype.Bool:
		return proptype.BoolValue(false)
	case proptype.DateTime:
		return proptype.DateTimeValue(0)
	case proptype.String:
		return proptype.StringValue("")
	default:
		return proptype.Value{}
	}
}
