package csr

import (
	"encoding/binary"

	"github.com/erigontech/fragmentdb/internal/atomicbytes"
	"github.com/erigontech/fragmentdb/proptype"
)

// Record layout: [neighbor_vid u32][4 bytes pad][timestamp u64][prop...].
// The timestamp field is the publication marker for an individual
// record: it is the last field a writer sets and the first field a
// reader loads, so that once a reader's acquire-load observes a given
// timestamp, every other field in the same record (written strictly
// before that store, in program order) is guaranteed visible too.
const (
	neighborOff   = 0
	timestampOff  = 8
	propOff       = 16
	recordBaseLen = 16
)

func roundUp8(n int) int {
	return (n + 7) &^ 7
}

// recordStride returns the per-record byte stride for a CSR whose
// edges optionally carry a single property of propType (propWidth==0
// when hasProp is false).
func recordStride(hasProp bool, propType proptype.Type) int {
	if !hasProp {
		return recordBaseLen
	}
	return recordBaseLen + roundUp8(propType.Width())
}

// writeRecord publishes one adjacency record into buf[off:off+stride].
// Callers must have already grown the buffer as needed before calling
// this, and advance size only after it returns.
func writeRecord(buf []byte, off int, neighbor uint32, ts uint64, hasProp bool, propType proptype.Type, prop proptype.Value) {
	binary.LittleEndian.PutUint32(buf[off+neighborOff:], neighbor)
	if hasProp {
		switch propType.Width() {
		case 4:
			binary.LittleEndian.PutUint32(buf[off+propOff:], proptype.EncodeFixedU32(prop))
		case 8:
			binary.LittleEndian.PutUint64(buf[off+propOff:], proptype.EncodeFixedU64(prop))
		default:
			proptype.EncodeFixed(prop, buf[off+propOff:off+propOff+propType.Width()])
		}
	}
	// Release-publish: every prior write in this record is now visible
	// to any reader whose acquire-load observes this store.
	atomicbytes.StoreUint64(buf[off+timestampOff:off+timestampOff+8], ts)
}

// readRecord reads one record at buf[off:off+stride], acquire-loading
// the timestamp first.
func readRecord(buf []byte, off int, hasProp bool, propType proptype.Type) (neighbor uint32, ts uint64, prop proptype.Value) {
	ts = atomicbytes.LoadUint64(buf[off+timestampOff : off+timestampOff+8])
	neighbor = binary.LittleEndian.Uint32(buf[off+neighborOff:])
	if hasProp {
		switch propType.Width() {
		case 4:
			prop = proptype.DecodeFixedU32(propType, binary.LittleEndian.Uint32(buf[off+propOff:]))
		case 8:
			prop = proptype.DecodeFixedU64(propType, binary.LittleEndian.Uint64(buf[off+propOff:]))
		default:
			prop = proptype.DecodeFixed(propType, buf[off+propOff:off+propOff+propType.Width()])
		}
	}
	return neighbor, ts, prop
}
