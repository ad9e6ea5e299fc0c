package vm

import (
	"github.com/javelin-vm/javelin/pkg/intern"
)

// HiddenFieldID indexes the hidden-field region that follows the normal
// fields of certain VM-created objects (class mirrors, strings). Hidden
// fields back intrinsics such as Class.isArray without appearing in any
// classfile.
type HiddenFieldID int

const (
	// HiddenMirrorIsArray marks a java.lang.Class mirror of an array type.
	HiddenMirrorIsArray HiddenFieldID = iota
	// HiddenMirrorIsPrimitive marks a mirror of a primitive type.
	HiddenMirrorIsPrimitive
	hiddenMirrorCount
)

// Object is a heap object: a type tag followed by one Value cell per
// field, numbered flat across the inheritance chain. Arrays carry their
// backing store in Arr; VM-implemented classes (String, PrintStream) keep
// their payload in Native.
type Object struct {
	Class  *RuntimeClass
	Fields []Value
	Hidden []Value

	Arr *Array

	// Native holds the Go-side payload of VM-implemented classes: the
	// string value of a java/lang/String, the io.Writer of a PrintStream,
	// the mirrored type of a java/lang/Class.
	Native interface{}
}

// Array is the backing of an array object: a length plus one Value cell
// per element regardless of the declared element type.
type Array struct {
	Elem  intern.CPDType
	Cells []Value
}

// Length returns the array length.
func (a *Array) Length() int32 { return int32(len(a.Cells)) }

// IsArray reports whether the object is an array.
func (o *Object) IsArray() bool { return o.Arr != nil }

// Type returns the object's runtime type.
func (o *Object) Type() intern.CPDType {
	if o.Arr != nil {
		return intern.ArrayOf(o.Arr.Elem)
	}
	return intern.ClassType(o.Class.Name)
}

// GetField reads a field cell by recursive field number.
func (o *Object) GetField(n int) Value { return o.Fields[n] }

// SetField writes a field cell by recursive field number.
func (o *Object) SetField(n int, v Value) { o.Fields[n] = v }

// StringValue returns the Go string payload of a java/lang/String object.
func (o *Object) StringValue() (string, bool) {
	s, ok := o.Native.(string)
	return s, ok
}

func zeroValueFor(t intern.CPDType) Value {
	switch t.Kind {
	case intern.KindLong:
		return LongValue(0)
	case intern.KindFloat:
		return FloatValue(0)
	case intern.KindDouble:
		return DoubleValue(0)
	case intern.KindClass, intern.KindArray:
		return NullValue()
	default:
		return IntValue(0)
	}
}
