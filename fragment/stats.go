package fragment

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

// LabelStats reports one vertex label's current and reserved extent
// footprint, for operator-facing diagnostics.
type LabelStats struct {
	Label        string
	VertexNum    uint32
	MaxVertexNum uint32
	UsedBytes    datasize.ByteSize
	ReservedBytes datasize.ByteSize
}

func (s LabelStats) String() string {
	return fmt.Sprintf("%s: %d/%d vertices, %s used of %s reserved",
		s.Label, s.VertexNum, s.MaxVertexNum, s.UsedBytes.HumanReadable(), s.ReservedBytes.HumanReadable())
}

// Stats reports the per-label extent footprint of every vertex type in
// the Fragment: the column widths (§4.3) times the reserved and
// currently-assigned vid counts, expressed as human-readable sizes
// (`x_csr_params.max_vertex_num` is a vertex count, not a byte count;
// this converts it into the reserved-extent size an operator actually
// cares about).
func (f *Fragment) Stats() []LabelStats {
	out := make([]LabelStats, 0, len(f.vertexLabels))
	for _, vt := range f.schema.VertexTypes {
		vl := f.vertexLabels[vt.TypeName]

		var rowWidth int
		for _, p := range vt.Properties {
			rowWidth += p.Type.Width()
		}

		vertexNum := vl.idx.Size()
		out = append(out, LabelStats{
			Label:         vt.TypeName,
			VertexNum:     vertexNum,
			MaxVertexNum:  vt.MaxVertexNum,
			UsedBytes:     datasize.ByteSize(uint64(vertexNum) * uint64(rowWidth)),
			ReservedBytes: datasize.ByteSize(uint64(vt.MaxVertexNum) * uint64(rowWidth)),
		})
	}
	return out
}
