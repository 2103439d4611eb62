package persistence

import (
	"encoding/binary"
	"fmt"

	"github.com/erigontech/fragmentdb/proptype"
)

func appendString(buf []byte, s string) []byte {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(s)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, s...)
}

func readString(payload []byte, off int) (string, int, error) {
	if off+4 > len(payload) {
		return "", 0, fmt.Errorf("truncated string length at %d", off)
	}
	n := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	if off+n > len(payload) {
		return "", 0, fmt.Errorf("truncated string body at %d", off)
	}
	return string(payload[off : off+n]), off + n, nil
}

func appendValue(buf []byte, v proptype.Value) []byte {
	buf = append(buf, byte(v.Typ))
	switch v.Typ {
	case proptype.Int32, proptype.Uint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], proptype.EncodeFixedU32(v))
		buf = append(buf, b[:]...)
	case proptype.Int64, proptype.Uint64, proptype.Double, proptype.DateTime:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], proptype.EncodeFixedU64(v))
		buf = append(buf, b[:]...)
	case proptype.Bool:
		if v.Bool() {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case proptype.String:
		buf = appendString(buf, v.String())
	}
	return buf
}

func readValue(payload []byte, off int) (proptype.Value, int, error) {
	if off+1 > len(payload) {
		return proptype.Value{}, 0, fmt.Errorf("truncated value tag at %d", off)
	}
	t := proptype.Type(payload[off])
	off++
	switch t {
	case proptype.Int32, proptype.Uint32:
		if off+4 > len(payload) {
			return proptype.Value{}, 0, fmt.Errorf("truncated u32 value at %d", off)
		}
		u := binary.LittleEndian.Uint32(payload[off : off+4])
		return proptype.DecodeFixedU32(t, u), off + 4, nil
	case proptype.Int64, proptype.Uint64, proptype.Double, proptype.DateTime:
		if off+8 > len(payload) {
			return proptype.Value{}, 0, fmt.Errorf("truncated u64 value at %d", off)
		}
		u := binary.LittleEndian.Uint64(payload[off : off+8])
		return proptype.DecodeFixedU64(t, u), off + 8, nil
	case proptype.Bool:
		if off+1 > len(payload) {
			return proptype.Value{}, 0, fmt.Errorf("truncated bool value at %d", off)
		}
		return proptype.BoolValue(payload[off] != 0), off + 1, nil
	case proptype.String:
		s, next, err := readString(payload, off)
		if err != nil {
			return proptype.Value{}, 0, err
		}
		return proptype.StringValue(s), next, nil
	default:
		return proptype.Value{}, 0, fmt.Errorf("unknown value type %d", t)
	}
}

func encodeAddVertex(label string, props []proptype.Value) []byte {
	buf := appendString(nil, label)
	var nBytes [4]byte
	binary.LittleEndian.PutUint32(nBytes[:], uint32(len(props)))
	buf = append(buf, nBytes[:]...)
	for _, v := range props {
		buf = appendValue(buf, v)
	}
	return buf
}

func decodeAddVertex(payload []byte) (*AddVertexRecord, error) {
	label, off, err := readString(payload, 0)
	if err != nil {
		return nil, err
	}
	if off+4 > len(payload) {
		return nil, fmt.Errorf("truncated prop count at %d", off)
	}
	n := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	props := make([]proptype.Value, n)
	for i := 0; i < n; i++ {
		v, next, err := readValue(payload, off)
		if err != nil {
			return nil, err
		}
		props[i] = v
		off = next
	}
	return &AddVertexRecord{Label: label, Props: props}, nil
}

func encodeAddEdge(edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64, prop proptype.Value) []byte {
	buf := appendString(nil, edgeLabel)
	buf = appendString(buf, srcLabel)
	var keyBytes [8]byte
	binary.LittleEndian.PutUint64(keyBytes[:], uint64(srcKey))
	buf = append(buf, keyBytes[:]...)
	buf = appendString(buf, dstLabel)
	binary.LittleEndian.PutUint64(keyBytes[:], uint64(dstKey))
	buf = append(buf, keyBytes[:]...)
	// The relation's property-or-not shape is schema metadata, not WAL
	// payload: a prop-less triplet's CSR ignores whatever Value replay
	// decodes here, since its hasProp is false.
	return appendValue(buf, prop)
}

func decodeAddEdge(payload []byte) (*AddEdgeRecord, error) {
	edgeLabel, off, err := readString(payload, 0)
	if err != nil {
		return nil, err
	}
	srcLabel, off, err := readString(payload, off)
	if err != nil {
		return nil, err
	}
	if off+8 > len(payload) {
		return nil, fmt.Errorf("truncated src key at %d", off)
	}
	srcKey := int64(binary.LittleEndian.Uint64(payload[off : off+8]))
	off += 8
	dstLabel, off, err := readString(payload, off)
	if err != nil {
		return nil, err
	}
	if off+8 > len(payload) {
		return nil, fmt.Errorf("truncated dst key at %d", off)
	}
	dstKey := int64(binary.LittleEndian.Uint64(payload[off : off+8]))
	off += 8
	prop, _, err := readValue(payload, off)
	if err != nil {
		return nil, err
	}
	return &AddEdgeRecord{EdgeLabel: edgeLabel, SrcLabel: srcLabel, SrcKey: srcKey, DstLabel: dstLabel, DstKey: dstKey, Prop: prop}, nil
}

func encodeUpdateVertexProp(label string, vid uint32, col int, v proptype.Value) []byte {
	buf := appendString(nil, label)
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], vid)
	binary.LittleEndian.PutUint32(b[4:8], uint32(col))
	buf = append(buf, b[:]...)
	return appendValue(buf, v)
}

func decodeUpdateVertexProp(payload []byte) (*UpdateVertexPropRecord, error) {
	label, off, err := readString(payload, 0)
	if err != nil {
		return nil, err
	}
	if off+8 > len(payload) {
		return nil, fmt.Errorf("truncated vid/col at %d", off)
	}
	vid := binary.LittleEndian.Uint32(payload[off : off+4])
	col := int(binary.LittleEndian.Uint32(payload[off+4 : off+8]))
	off += 8
	v, _, err := readValue(payload, off)
	if err != nil {
		return nil, err
	}
	return &UpdateVertexPropRecord{Label: label, Vid: vid, Col: col, Value: v}, nil
}
