// Package proptype defines the primitive property types shared by the
// schema, column store, and adjacency structures: every value that
// flows into a vertex column or a single-valued edge property is one
// of these.
package proptype

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/erigontech/fragmentdb/internal/atomicbytes"
)

// Type is a primitive property type. Every type has a fixed encoded
// width except String, which is stored as an (offset, length) pair
// into a per-column blob heap.
type Type uint8

const (
	Int32 Type = iota
	Int64
	Uint32
	Uint64
	Double
	Bool
	DateTime
	String
)

// stringSlotWidth is the width of the (offset uint64, length uint32)
// pair a String column stores in place of the value itself, padded to
// 16 bytes so that every row's offset subfield lands on an 8-byte
// boundary (required for atomic access to that subfield).
const stringSlotWidth = 16

// Width returns the fixed byte width of one column slot for t.
func (t Type) Width() int {
	switch t {
	case Int32, Uint32:
		return 4
	case Int64, Uint64, DateTime:
		return 8
	case Double:
		return 8
	case Bool:
		return 1
	case String:
		return stringSlotWidth
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case Int32:
		return "DT_SIGNED_INT32"
	case Int64:
		return "DT_SIGNED_INT64"
	case Uint32:
		return "DT_UNSIGNED_INT32"
	case Uint64:
		return "DT_UNSIGNED_INT64"
	case Double:
		return "DT_DOUBLE"
	case Bool:
		return "DT_BOOL"
	case DateTime:
		return "DT_DATE32" // fixed-size date/time, stored as unix-nanos int64
	case String:
		return "DT_STRING"
	default:
		return fmt.Sprintf("DT_UNKNOWN(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the recognized primitive types.
func (t Type) Valid() bool {
	return t <= String
}

// ParseType maps a schema document's primitive_type string onto a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "DT_SIGNED_INT32":
		return Int32, true
	case "DT_SIGNED_INT64":
		return Int64, true
	case "DT_UNSIGNED_INT32":
		return Uint32, true
	case "DT_UNSIGNED_INT64":
		return Uint64, true
	case "DT_DOUBLE":
		return Double, true
	case "DT_BOOL":
		return Bool, true
	case "DT_DATE32", "DT_DATETIME":
		return DateTime, true
	case "DT_STRING":
		return String, true
	default:
		return 0, false
	}
}

// Value is a single property value tagged with its primitive Type.
// Non-string values carry their payload in one of the numeric fields;
// String values carry their payload in s and are never encoded
// directly into a fixed-width column slot (see column.Table).
type Value struct {
	Typ Type
	i   int64   // Int32/Int64/Uint32/Uint64 (sign/zero-extended) and DateTime (unix nanos)
	f   float64 // Double
	b   bool    // Bool
	s   string  // String
}

func Int32Value(v int32) Value    { return Value{Typ: Int32, i: int64(v)} }
func Int64Value(v int64) Value    { return Value{Typ: Int64, i: v} }
func Uint32Value(v uint32) Value  { return Value{Typ: Uint32, i: int64(v)} }
func Uint64Value(v uint64) Value  { return Value{Typ: Uint64, i: int64(v)} }
func DoubleValue(v float64) Value { return Value{Typ: Double, f: v} }
func BoolValue(v bool) Value      { return Value{Typ: Bool, b: v} }
func DateTimeValue(v int64) Value { return Value{Typ: DateTime, i: v} }
func StringValue(v string) Value  { return Value{Typ: String, s: v} }

func (v Value) Int32() int32      { return int32(v.i) }
func (v Value) Int64() int64      { return v.i }
func (v Value) Uint32() uint32    { return uint32(v.i) }
func (v Value) Uint64() uint64    { return uint64(v.i) }
func (v Value) Double() float64   { return v.f }
func (v Value) Bool() bool        { return v.b }
func (v Value) DateTime() int64   { return v.i }
func (v Value) String() string    { return v.s }
func (v Value) IsString() bool    { return v.Typ == String }

// EncodeFixed writes v's fixed-width encoding into dst, which must be
// at least v.Typ.Width() bytes long. String values are not fixed
// width and panic if passed here; callers route strings through the
// blob heap instead (see column.Table's setString).
func EncodeFixed(v Value, dst []byte) {
	switch v.Typ {
	case Int32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v.i)))
	case Uint32:
		binary.LittleEndian.PutUint32(dst, uint32(v.i))
	case Int64, Uint64:
		binary.LittleEndian.PutUint64(dst, uint64(v.i))
	case DateTime:
		binary.LittleEndian.PutUint64(dst, uint64(v.i))
	case Double:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v.f))
	case Bool:
		if v.b {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	default:
		panic(fmt.Sprintf("proptype: EncodeFixed called on variable-width type %s", v.Typ))
	}
}

// DecodeFixed reads a value of type t from src, which must be at
// least t.Width() bytes long. String slots are decoded by the caller
// (the (offset, length) pair, then a blob-heap lookup).
func DecodeFixed(t Type, src []byte) Value {
	switch t {
	case Int32:
		return Int32Value(int32(binary.LittleEndian.Uint32(src)))
	case Uint32:
		return Uint32Value(binary.LittleEndian.Uint32(src))
	case Int64:
		return Int64Value(int64(binary.LittleEndian.Uint64(src)))
	case Uint64:
		return Uint64Value(binary.LittleEndian.Uint64(src))
	case DateTime:
		return DateTimeValue(int64(binary.LittleEndian.Uint64(src)))
	case Double:
		return DoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(src)))
	case Bool:
		return BoolValue(src[0] != 0)
	default:
		panic(fmt.Sprintf("proptype: DecodeFixed called on variable-width type %s", t))
	}
}

// EncodeFixedU32 returns v's fixed-width encoding as a little-endian
// uint32, for types whose Width is 4.
func EncodeFixedU32(v Value) uint32 {
	switch v.Typ {
	case Int32:
		return uint32(int32(v.i))
	case Uint32:
		return uint32(v.i)
	default:
		panic(fmt.Sprintf("proptype: EncodeFixedU32 called on %s", v.Typ))
	}
}

// DecodeFixedU32 is the inverse of EncodeFixedU32.
func DecodeFixedU32(t Type, u uint32) Value {
	switch t {
	case Int32:
		return Int32Value(int32(u))
	case Uint32:
		return Uint32Value(u)
	default:
		panic(fmt.Sprintf("proptype: DecodeFixedU32 called on %s", t))
	}
}

// EncodeFixedU64 returns v's fixed-width encoding as a little-endian
// uint64, for types whose Width is 8.
func EncodeFixedU64(v Value) uint64 {
	switch v.Typ {
	case Int64, Uint64, DateTime:
		return uint64(v.i)
	case Double:
		return math.Float64bits(v.f)
	default:
		panic(fmt.Sprintf("proptype: EncodeFixedU64 called on %s", v.Typ))
	}
}

// DecodeFixedU64 is the inverse of EncodeFixedU64.
func DecodeFixedU64(t Type, u uint64) Value {
	switch t {
	case Int64:
		return Int64Value(int64(u))
	case Uint64:
		return Uint64Value(u)
	case DateTime:
		return DateTimeValue(int64(u))
	case Double:
		return DoubleValue(math.Float64frombits(u))
	default:
		panic(fmt.Sprintf("proptype: DecodeFixedU64 called on %s", t))
	}
}

// EncodeStringSlot writes a (offset, length) pair into dst (must be
// stringSlotWidth bytes). Each field publishes through atomicbytes, the
// same as every other fixed-width column type, so a concurrent Get
// never observes a torn offset or a torn length (it may still observe
// the pre- or post-update pairing as a whole, per the documented
// UpdateTransaction weakening).
func EncodeStringSlot(dst []byte, offset uint64, length uint32) {
	atomicbytes.StoreUint64(dst[:8], offset)
	atomicbytes.StoreUint32(dst[8:12], length)
}

// DecodeStringSlot reads a (offset, length) pair from src (must be
// stringSlotWidth bytes), acquire-loading each field.
func DecodeStringSlot(src []byte) (offset uint64, length uint32) {
	return atomicbytes.LoadUint64(src[:8]), atomicbytes.LoadUint32(src[8:12])
}
