// Package schema loads and validates the graph's type document: vertex
// labels with their property lists and primary keys, edge labels with
// their allowed (source, destination) triplets and per-direction
// storage strategy. The schema is immutable after the graph is opened
// by fragment.Open.
package schema

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/erigontech/fragmentdb/csr"
	"github.com/erigontech/fragmentdb/proptype"
)

// defaultMaxVertexNum is applied when x_csr_params.max_vertex_num is
// absent from a vertex type document.
const defaultMaxVertexNum = uint32(1) << 20

// ErrSchema is the sentinel every malformed-document error wraps:
// unknown primitive type, invalid primary key, a dangling vertex
// reference in an edge type's relation list, or an unrecognized
// store_type. Surfaced to the caller at graph open, per spec §7.
var ErrSchema = errors.New("schema: invalid schema document")

// SchemaError carries the specific malformed-document message and
// unwraps to ErrSchema.
type SchemaError struct {
	msg string
}

func (e *SchemaError) Error() string { return "schema: " + e.msg }
func (e *SchemaError) Unwrap() error { return ErrSchema }

func schemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{msg: fmt.Sprintf(format, args...)}
}

// Cardinality is a vertex_type_pair_relation's declared relation kind.
// The core does not enforce cardinality (no uniqueness check on
// insert); it is carried through for consumers such as the plugin
// loader and query planner.
type Cardinality uint8

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToOne
	ManyToMany
)

func parseCardinality(s string) (Cardinality, bool) {
	switch s {
	case "ONE_TO_ONE":
		return OneToOne, true
	case "ONE_TO_MANY":
		return OneToMany, true
	case "MANY_TO_ONE":
		return ManyToOne, true
	case "MANY_TO_MANY":
		return ManyToMany, true
	default:
		return 0, false
	}
}

// PropertyDef is one column of a vertex type, or the single optional
// edge property of a relation.
type PropertyDef struct {
	ID   int
	Name string
	Type proptype.Type
}

// VertexType is one `schema.vertex_types[]` entry.
type VertexType struct {
	TypeName        string
	Properties      []PropertyDef // Properties[0] is the primary key
	MaxVertexNum    uint32
	primaryKeyIndex int // always 0; kept for clarity at call sites
}

// PrimaryKey returns the property designated as the primary key.
func (v VertexType) PrimaryKey() PropertyDef { return v.Properties[v.primaryKeyIndex] }

// Relation is one `vertex_type_pair_relations[]` entry: an allowed
// (source label, destination label) triplet for an edge type, with its
// cardinality, per-direction storage strategy, and optional property.
type Relation struct {
	SourceVertex      string
	DestinationVertex string
	Cardinality       Cardinality
	IncomingStrategy  csr.Strategy
	OutgoingStrategy  csr.Strategy
	Property          *PropertyDef
}

// EdgeType is one `schema.edge_types[]` entry.
type EdgeType struct {
	TypeName  string
	Relations []Relation
}

// Schema is the fully parsed and validated type document.
type Schema struct {
	Name        string
	StoreType   string
	VertexTypes []VertexType
	EdgeTypes   []EdgeType
}

// VertexType looks up a vertex type by name.
func (s *Schema) VertexType(name string) (VertexType, bool) {
	for _, v := range s.VertexTypes {
		if v.TypeName == name {
			return v, true
		}
	}
	return VertexType{}, false
}

// EdgeType looks up an edge type by name.
func (s *Schema) EdgeType(name string) (EdgeType, bool) {
	for _, e := range s.EdgeTypes {
		if e.TypeName == name {
			return e, true
		}
	}
	return EdgeType{}, false
}

// Relation returns the relation within edgeType matching the
// (srcLabel, dstLabel) triplet.
func (e EdgeType) Relation(srcLabel, dstLabel string) (Relation, bool) {
	for _, r := range e.Relations {
		if r.SourceVertex == srcLabel && r.DestinationVertex == dstLabel {
			return r, true
		}
	}
	return Relation{}, false
}

// --- YAML document shape -----------------------------------------------

type yamlDoc struct {
	Name             string              `yaml:"name"`
	StoreType        string              `yaml:"store_type"`
	StoredProcedures []map[string]any    `yaml:"stored_procedures"`
	Schema           yamlSchemaSection   `yaml:"schema"`
}

type yamlSchemaSection struct {
	VertexTypes []yamlVertexType `yaml:"vertex_types"`
	EdgeTypes   []yamlEdgeType   `yaml:"edge_types"`
}

type yamlVertexType struct {
	TypeName     string             `yaml:"type_name"`
	Properties   []yamlProperty     `yaml:"properties"`
	PrimaryKeys  []string           `yaml:"primary_keys"`
	XCSRParams   yamlVertexCSRParam `yaml:"x_csr_params"`
}

type yamlVertexCSRParam struct {
	MaxVertexNum uint64 `yaml:"max_vertex_num"`
}

type yamlProperty struct {
	PropertyID   int              `yaml:"property_id"`
	PropertyName string           `yaml:"property_name"`
	PropertyType yamlPropertyType `yaml:"property_type"`
}

type yamlPropertyType struct {
	PrimitiveType string `yaml:"primitive_type"`
}

type yamlEdgeType struct {
	TypeName               string                     `yaml:"type_name"`
	VertexTypePairRelations []yamlVertexTypePairRelation `yaml:"vertex_type_pair_relations"`
}

type yamlVertexTypePairRelation struct {
	SourceVertex      string         `yaml:"source_vertex"`
	DestinationVertex string         `yaml:"destination_vertex"`
	Relation          string         `yaml:"relation"`
	XCSRParams        yamlEdgeCSRParam `yaml:"x_csr_params"`
	Properties        []yamlProperty `yaml:"properties"`
}

type yamlEdgeCSRParam struct {
	IncomingEdgeStrategy string `yaml:"incoming_edge_strategy"`
	OutgoingEdgeStrategy string `yaml:"outgoing_edge_strategy"`
}

// Parse parses and validates a schema document from r.
func Parse(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("schema: read: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses and validates a schema document already in memory.
func ParseBytes(data []byte) (*Schema, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schemaErrorf("malformed yaml: %v", err)
	}
	return fromDoc(doc)
}

func fromDoc(doc yamlDoc) (*Schema, error) {
	if doc.StoreType != "" && doc.StoreType != "mutable_csr" {
		return nil, schemaErrorf("store_type %q is not mutable_csr", doc.StoreType)
	}

	s := &Schema{Name: doc.Name, StoreType: doc.StoreType}

	for _, vt := range doc.Schema.VertexTypes {
		v, err := convertVertexType(vt)
		if err != nil {
			return nil, err
		}
		s.VertexTypes = append(s.VertexTypes, v)
	}

	for _, et := range doc.Schema.EdgeTypes {
		e, err := convertEdgeType(et, s)
		if err != nil {
			return nil, err
		}
		s.EdgeTypes = append(s.EdgeTypes, e)
	}

	return s, nil
}

func convertVertexType(vt yamlVertexType) (VertexType, error) {
	if vt.TypeName == "" {
		return VertexType{}, schemaErrorf("vertex type missing type_name")
	}
	if len(vt.Properties) == 0 {
		return VertexType{}, schemaErrorf("vertex type %s has no properties", vt.TypeName)
	}
	if len(vt.PrimaryKeys) != 1 {
		return VertexType{}, schemaErrorf("vertex type %s: primary_keys must have exactly one entry", vt.TypeName)
	}

	props := make([]PropertyDef, len(vt.Properties))
	for i, p := range vt.Properties {
		pt, ok := proptype.ParseType(p.PropertyType.PrimitiveType)
		if !ok {
			return VertexType{}, schemaErrorf("vertex type %s property %s: unknown primitive_type %q",
				vt.TypeName, p.PropertyName, p.PropertyType.PrimitiveType)
		}
		props[i] = PropertyDef{ID: p.PropertyID, Name: p.PropertyName, Type: pt}
	}

	pkName := vt.PrimaryKeys[0]
	if props[0].Name != pkName {
		return VertexType{}, schemaErrorf("vertex type %s: primary key %q must be the first declared property", vt.TypeName, pkName)
	}
	if props[0].Type != proptype.Int64 {
		return VertexType{}, schemaErrorf("vertex type %s: primary key %q must be DT_SIGNED_INT64, got %s",
			vt.TypeName, pkName, props[0].Type)
	}

	maxVertexNum := defaultMaxVertexNum
	if vt.XCSRParams.MaxVertexNum > 0 {
		maxVertexNum = uint32(vt.XCSRParams.MaxVertexNum)
	}

	return VertexType{
		TypeName:        vt.TypeName,
		Properties:      props,
		MaxVertexNum:    maxVertexNum,
		primaryKeyIndex: 0,
	}, nil
}

func convertEdgeType(et yamlEdgeType, s *Schema) (EdgeType, error) {
	if et.TypeName == "" {
		return EdgeType{}, schemaErrorf("edge type missing type_name")
	}
	e := EdgeType{TypeName: et.TypeName}

	for _, rel := range et.VertexTypePairRelations {
		if _, ok := s.VertexType(rel.SourceVertex); !ok {
			return EdgeType{}, schemaErrorf("edge type %s: unknown source_vertex %q", et.TypeName, rel.SourceVertex)
		}
		if _, ok := s.VertexType(rel.DestinationVertex); !ok {
			return EdgeType{}, schemaErrorf("edge type %s: unknown destination_vertex %q", et.TypeName, rel.DestinationVertex)
		}
		card, ok := parseCardinality(rel.Relation)
		if !ok {
			return EdgeType{}, schemaErrorf("edge type %s: unknown relation %q", et.TypeName, rel.Relation)
		}

		incoming, outgoing := "Multiple", "Multiple"
		if rel.XCSRParams.IncomingEdgeStrategy != "" {
			incoming = rel.XCSRParams.IncomingEdgeStrategy
		}
		if rel.XCSRParams.OutgoingEdgeStrategy != "" {
			outgoing = rel.XCSRParams.OutgoingEdgeStrategy
		}
		inStrategy, ok := csr.ParseStrategy(incoming)
		if !ok {
			return EdgeType{}, schemaErrorf("edge type %s: unknown incoming_edge_strategy %q", et.TypeName, incoming)
		}
		outStrategy, ok := csr.ParseStrategy(outgoing)
		if !ok {
			return EdgeType{}, schemaErrorf("edge type %s: unknown outgoing_edge_strategy %q", et.TypeName, outgoing)
		}

		if len(rel.Properties) > 1 {
			return EdgeType{}, schemaErrorf("edge type %s: relation %s->%s has %d properties, max 1",
				et.TypeName, rel.SourceVertex, rel.DestinationVertex, len(rel.Properties))
		}
		var prop *PropertyDef
		if len(rel.Properties) == 1 {
			pt, ok := proptype.ParseType(rel.Properties[0].PropertyType.PrimitiveType)
			if !ok {
				return EdgeType{}, schemaErrorf("edge type %s: unknown primitive_type %q",
					et.TypeName, rel.Properties[0].PropertyType.PrimitiveType)
			}
			if pt == proptype.String {
				return EdgeType{}, schemaErrorf("edge type %s: edge properties cannot be DT_STRING (no blob heap on adjacency records)", et.TypeName)
			}
			prop = &PropertyDef{
				ID:   rel.Properties[0].PropertyID,
				Name: rel.Properties[0].PropertyName,
				Type: pt,
			}
		}

		e.Relations = append(e.Relations, Relation{
			SourceVertex:      rel.SourceVertex,
			DestinationVertex: rel.DestinationVertex,
			Cardinality:       card,
			IncomingStrategy:  inStrategy,
			OutgoingStrategy:  outStrategy,
			Property:          prop,
		})
	}

	return e, nil
}
