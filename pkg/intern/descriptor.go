package intern

import (
	"fmt"
	"strings"
)

// Kind enumerates the base kinds of a compressed parsed descriptor type.
type Kind uint8

const (
	KindBoolean Kind = iota
	KindByte
	KindShort
	KindChar
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindVoid
	KindClass
	KindArray
)

// CPDType is a compressed parsed descriptor type: a tagged value copied
// freely, with structural equality (== works). Arrays are normalized to a
// non-array element plus a nesting depth, so there is never an
// array-of-array CPDType.
type CPDType struct {
	Kind Kind
	// Name is the interned internal class name; meaningful when Kind is
	// KindClass, or when Kind is KindArray and Elem is KindClass.
	Name StringID
	// Elem and Depth describe an array: Elem is the non-array base kind
	// (never KindArray), Depth >= 1.
	Elem  Kind
	Depth uint8
}

// Primitive CPDType values.
var (
	BooleanType = CPDType{Kind: KindBoolean}
	ByteType    = CPDType{Kind: KindByte}
	ShortType   = CPDType{Kind: KindShort}
	CharType    = CPDType{Kind: KindChar}
	IntType     = CPDType{Kind: KindInt}
	LongType    = CPDType{Kind: KindLong}
	FloatType   = CPDType{Kind: KindFloat}
	DoubleType  = CPDType{Kind: KindDouble}
	VoidType    = CPDType{Kind: KindVoid}
)

// ClassType returns the CPDType for a class internal name.
func ClassType(name StringID) CPDType {
	return CPDType{Kind: KindClass, Name: name}
}

// ClassTypeNamed interns name and returns its class CPDType.
func ClassTypeNamed(name string) CPDType {
	return ClassType(AddString(name))
}

// ArrayOf wraps t in one more array dimension, keeping the normalized form.
func ArrayOf(t CPDType) CPDType {
	if t.Kind == KindArray {
		t.Depth++
		return t
	}
	return CPDType{Kind: KindArray, Elem: t.Kind, Name: t.Name, Depth: 1}
}

// ElemType returns the type of an array's elements: one dimension fewer,
// or the base type when Depth is 1.
func (t CPDType) ElemType() CPDType {
	if t.Kind != KindArray {
		return t
	}
	if t.Depth > 1 {
		t.Depth--
		return t
	}
	return CPDType{Kind: t.Elem, Name: t.Name}
}

// IsReference reports whether t is a class or array type.
func (t CPDType) IsReference() bool {
	return t.Kind == KindClass || t.Kind == KindArray
}

// IsWide reports whether t occupies two JVM slots.
func (t CPDType) IsWide() bool {
	return t.Kind == KindLong || t.Kind == KindDouble
}

// JVMRepresentation renders t back into descriptor syntax, round-tripping
// the original text exactly.
func (t CPDType) JVMRepresentation() string {
	var sb strings.Builder
	t.writeJVM(&sb)
	return sb.String()
}

func (t CPDType) writeJVM(sb *strings.Builder) {
	for i := uint8(0); t.Kind == KindArray && i < t.Depth; i++ {
		sb.WriteByte('[')
	}
	base := t.Kind
	if t.Kind == KindArray {
		base = t.Elem
	}
	switch base {
	case KindBoolean:
		sb.WriteByte('Z')
	case KindByte:
		sb.WriteByte('B')
	case KindShort:
		sb.WriteByte('S')
	case KindChar:
		sb.WriteByte('C')
	case KindInt:
		sb.WriteByte('I')
	case KindLong:
		sb.WriteByte('J')
	case KindFloat:
		sb.WriteByte('F')
	case KindDouble:
		sb.WriteByte('D')
	case KindVoid:
		sb.WriteByte('V')
	case KindClass:
		sb.WriteByte('L')
		sb.WriteString(GetString(t.Name))
		sb.WriteByte(';')
	}
}

// MethodDescriptor is a parsed method descriptor. Equality is structural;
// use Equal, not ==.
type MethodDescriptor struct {
	Args []CPDType
	Ret  CPDType
}

// Equal reports structural equality of two method descriptors.
func (d MethodDescriptor) Equal(o MethodDescriptor) bool {
	if d.Ret != o.Ret || len(d.Args) != len(o.Args) {
		return false
	}
	for i := range d.Args {
		if d.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// JVMRepresentation renders the descriptor back into (args)ret syntax.
func (d MethodDescriptor) JVMRepresentation() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range d.Args {
		a.writeJVM(&sb)
	}
	sb.WriteByte(')')
	d.Ret.writeJVM(&sb)
	return sb.String()
}

// ID interns the canonical descriptor text, giving a comparable handle
// used for method-shape keys.
func (d MethodDescriptor) ID() StringID {
	return AddString(d.JVMRepresentation())
}

// SlotCount returns the number of JVM argument slots (longs and doubles
// count twice); receiver not included.
func (d MethodDescriptor) SlotCount() int {
	n := 0
	for _, a := range d.Args {
		if a.IsWide() {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// MethodShape identifies a method across classes for overriding purposes:
// same name, same descriptor.
type MethodShape struct {
	Name StringID
	Desc StringID
}

// ParseFieldType parses one FieldType at the front of desc and returns the
// remainder.
func ParseFieldType(desc string) (CPDType, string, error) {
	if desc == "" {
		return CPDType{}, "", fmt.Errorf("empty field descriptor")
	}
	switch desc[0] {
	case 'Z':
		return BooleanType, desc[1:], nil
	case 'B':
		return ByteType, desc[1:], nil
	case 'S':
		return ShortType, desc[1:], nil
	case 'C':
		return CharType, desc[1:], nil
	case 'I':
		return IntType, desc[1:], nil
	case 'J':
		return LongType, desc[1:], nil
	case 'F':
		return FloatType, desc[1:], nil
	case 'D':
		return DoubleType, desc[1:], nil
	case 'L':
		semi := strings.IndexByte(desc, ';')
		if semi < 0 {
			return CPDType{}, "", fmt.Errorf("unterminated object type in %q", desc)
		}
		if semi == 1 {
			return CPDType{}, "", fmt.Errorf("empty class name in %q", desc)
		}
		return ClassTypeNamed(desc[1:semi]), desc[semi+1:], nil
	case '[':
		depth := 0
		for depth < len(desc) && desc[depth] == '[' {
			depth++
		}
		if depth > 255 {
			return CPDType{}, "", fmt.Errorf("array nesting %d exceeds 255", depth)
		}
		base, rest, err := ParseFieldType(desc[depth:])
		if err != nil {
			return CPDType{}, "", err
		}
		if base.Kind == KindVoid {
			return CPDType{}, "", fmt.Errorf("array of void in %q", desc)
		}
		t := base
		for i := 0; i < depth; i++ {
			t = ArrayOf(t)
		}
		return t, rest, nil
	default:
		return CPDType{}, "", fmt.Errorf("bad descriptor char %q in %q", desc[0], desc)
	}
}

// ParseFieldDescriptor parses a complete field descriptor.
func ParseFieldDescriptor(desc string) (CPDType, error) {
	t, rest, err := ParseFieldType(desc)
	if err != nil {
		return CPDType{}, err
	}
	if rest != "" {
		return CPDType{}, fmt.Errorf("trailing characters %q after field descriptor", rest)
	}
	return t, nil
}

// ParseMethodDescriptor parses a complete (args)ret method descriptor.
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	if desc == "" || desc[0] != '(' {
		return MethodDescriptor{}, fmt.Errorf("method descriptor %q does not start with '('", desc)
	}
	rest := desc[1:]
	var args []CPDType
	for {
		if rest == "" {
			return MethodDescriptor{}, fmt.Errorf("unterminated argument list in %q", desc)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		var (
			t   CPDType
			err error
		)
		t, rest, err = ParseFieldType(rest)
		if err != nil {
			return MethodDescriptor{}, fmt.Errorf("in %q: %w", desc, err)
		}
		args = append(args, t)
	}
	if rest == "V" {
		return MethodDescriptor{Args: args, Ret: VoidType}, nil
	}
	ret, tail, err := ParseFieldType(rest)
	if err != nil {
		return MethodDescriptor{}, fmt.Errorf("return type of %q: %w", desc, err)
	}
	if tail != "" {
		return MethodDescriptor{}, fmt.Errorf("trailing characters %q in %q", tail, desc)
	}
	return MethodDescriptor{Args: args, Ret: ret}, nil
}
