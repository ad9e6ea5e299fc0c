package vm

import "math"

// Kind tags a Value cell.
type Kind uint8

const (
	KindInt Kind = iota
	KindLong
	KindFloat
	KindDouble
	KindRef
)

// Value is one cell: an operand-stack slot, a local-variable slot, or an
// object field cell. Booleans, bytes, shorts, chars and ints occupy the
// low bits of I; longs use all of I; floats and doubles use F; references
// hold a pointer (nil = Java null). The kind tag, I, F and Ref are separate
// struct fields, so a Value is larger than one 8-byte word; Bits gives the
// cell's 8-byte image.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	Ref  *Object
}

// IntValue creates an int cell.
func IntValue(v int32) Value { return Value{Kind: KindInt, I: int64(v)} }

// LongValue creates a long cell.
func LongValue(v int64) Value { return Value{Kind: KindLong, I: v} }

// FloatValue creates a float cell.
func FloatValue(v float32) Value { return Value{Kind: KindFloat, F: float64(v)} }

// DoubleValue creates a double cell.
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, F: v} }

// RefValue creates a reference cell.
func RefValue(o *Object) Value { return Value{Kind: KindRef, Ref: o} }

// NullValue creates a null reference cell.
func NullValue() Value { return Value{Kind: KindRef} }

// Int reads the cell as a 32-bit int.
func (v Value) Int() int32 { return int32(v.I) }

// Long reads the cell as a long.
func (v Value) Long() int64 { return v.I }

// Float reads the cell as a float.
func (v Value) Float() float32 { return float32(v.F) }

// Double reads the cell as a double.
func (v Value) Double() float64 { return v.F }

// IsNull reports a null reference.
func (v Value) IsNull() bool { return v.Kind == KindRef && v.Ref == nil }

// IsWide reports a category-2 cell.
func (v Value) IsWide() bool { return v.Kind == KindLong || v.Kind == KindDouble }

// Bits returns the raw 8-byte image of the cell, the form compiled code
// sees in registers.
func (v Value) Bits() uint64 {
	switch v.Kind {
	case KindFloat:
		return uint64(math.Float32bits(float32(v.F)))
	case KindDouble:
		return math.Float64bits(v.F)
	default:
		return uint64(v.I)
	}
}
