package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/fragmentdb/csr"
	"github.com/erigontech/fragmentdb/proptype"
)

const validDoc = `
name: social
store_type: mutable_csr
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type:
            primitive_type: DT_SIGNED_INT64
        - property_id: 1
          property_name: name
          property_type:
            primitive_type: DT_STRING
      primary_keys: [id]
      x_csr_params:
        max_vertex_num: 1000
  edge_types:
    - type_name: knows
      vertex_type_pair_relations:
        - source_vertex: person
          destination_vertex: person
          relation: MANY_TO_MANY
          x_csr_params:
            incoming_edge_strategy: Multiple
            outgoing_edge_strategy: Multiple
          properties:
            - property_id: 0
              property_name: weight
              property_type:
                primitive_type: DT_DOUBLE
`

func TestParseValidDocument(t *testing.T) {
	s, err := ParseBytes([]byte(validDoc))
	require.NoError(t, err)
	require.Equal(t, "social", s.Name)

	person, ok := s.VertexType("person")
	require.True(t, ok)
	require.Equal(t, uint32(1000), person.MaxVertexNum)
	require.Equal(t, "id", person.PrimaryKey().Name)
	require.Equal(t, proptype.Int64, person.PrimaryKey().Type)

	knows, ok := s.EdgeType("knows")
	require.True(t, ok)
	rel, ok := knows.Relation("person", "person")
	require.True(t, ok)
	require.Equal(t, ManyToMany, rel.Cardinality)
	require.Equal(t, csr.StrategyMultiple, rel.OutgoingStrategy)
	require.NotNil(t, rel.Property)
	require.Equal(t, "weight", rel.Property.Name)
}

func TestParseRejectsBadStoreType(t *testing.T) {
	_, err := ParseBytes([]byte("name: x\nstore_type: something_else\nschema:\n  vertex_types: []\n"))
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
}

func TestParseRejectsNonInt64PrimaryKey(t *testing.T) {
	doc := `
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type:
            primitive_type: DT_STRING
      primary_keys: [id]
`
	_, err := ParseBytes([]byte(doc))
	require.Error(t, err)
}

func TestParseRejectsUnknownEdgeVertex(t *testing.T) {
	doc := `
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type:
            primitive_type: DT_SIGNED_INT64
      primary_keys: [id]
  edge_types:
    - type_name: knows
      vertex_type_pair_relations:
        - source_vertex: person
          destination_vertex: ghost
          relation: MANY_TO_MANY
`
	_, err := ParseBytes([]byte(doc))
	require.Error(t, err)
}

func TestParseRejectsStringEdgeProperty(t *testing.T) {
	doc := `
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type:
            primitive_type: DT_SIGNED_INT64
      primary_keys: [id]
  edge_types:
    - type_name: knows
      vertex_type_pair_relations:
        - source_vertex: person
          destination_vertex: person
          relation: MANY_TO_MANY
          properties:
            - property_id: 0
              property_name: note
              property_type:
                primitive_type: DT_STRING
`
	_, err := ParseBytes([]byte(doc))
	require.Error(t, err)
}

func TestDefaultStrategyIsMultiple(t *testing.T) {
	doc := `
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type:
            primitive_type: DT_SIGNED_INT64
      primary_keys: [id]
  edge_types:
    - type_name: knows
      vertex_type_pair_relations:
        - source_vertex: person
          destination_vertex: person
          relation: MANY_TO_MANY
`
	s, err := ParseBytes([]byte(doc))
	require.NoError(t, err)
	rel, ok := s.EdgeTypes[0].Relation("person", "person")
	require.True(t, ok)
	require.Equal(t, csr.StrategyMultiple, rel.IncomingStrategy)
	require.Equal(t, csr.StrategyMultiple, rel.OutgoingStrategy)
}

func TestDefaultMaxVertexNum(t *testing.T) {
	doc := `
schema:
  vertex_types:
    - type_name: person
      properties:
        - property_id: 0
          property_name: id
          property_type:
            primitive_type: DT_SIGNED_INT64
      primary_keys: [id]
`
	s, err := ParseBytes([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, defaultMaxVertexNum, s.VertexTypes[0].MaxVertexNum)
}
