package ccf

import (
	"github.com/javelin-vm/javelin/pkg/intern"
)

// Class is the execution-time class representation. Every name is a
// StringID, every descriptor a parsed CPDType, and every member reference
// is pre-resolved; the raw constant pool is gone.
type Class struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16

	Name      intern.StringID
	Super     intern.StringID // InvalidStringID when there is no superclass
	HasSuper  bool
	Interfaces []intern.StringID

	Fields  []Field
	Methods []Method

	SourceFile       string
	BootstrapMethods []BootstrapMethod

	// NeedsInference marks pre-50.0 classfiles, which carry no
	// StackMapTable and take the type-inference verification path.
	NeedsInference bool
}

// Field is a compressed field_info.
type Field struct {
	AccessFlags uint16
	Name        intern.StringID
	Desc        intern.CPDType
	// ConstantValue, when non-nil, initializes the static field at
	// preparation time.
	ConstantValue *Constant
}

// Method is a compressed method_info.
type Method struct {
	AccessFlags uint16
	Name        intern.StringID
	Desc        intern.MethodDescriptor
	DescID      intern.StringID
	Code        *Code
	Exceptions  []intern.StringID
}

// Shape returns the method's overriding identity.
func (m *Method) Shape() intern.MethodShape {
	return intern.MethodShape{Name: m.Name, Desc: m.DescID}
}

// IsStatic reports ACC_STATIC.
func (m *Method) IsStatic() bool { return m.AccessFlags&0x0008 != 0 }

// IsNative reports ACC_NATIVE.
func (m *Method) IsNative() bool { return m.AccessFlags&0x0100 != 0 }

// IsAbstract reports ACC_ABSTRACT.
func (m *Method) IsAbstract() bool { return m.AccessFlags&0x0400 != 0 }

// IsSynchronized reports ACC_SYNCHRONIZED.
func (m *Method) IsSynchronized() bool { return m.AccessFlags&0x0020 != 0 }

// Code is a compressed Code attribute: the bytecode rewritten into an
// instruction stream keyed by original byte offset.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	ByteLength uint32

	Instructions []Instruction
	// byOffset maps an original bytecode offset to the index of its
	// instruction; built once during compression.
	byOffset map[uint16]int

	ExceptionTable []ExceptionEntry
	StackMap       []Frame
	HasStackMap    bool
	LineNumbers    []LineNumber
}

// InstructionAt returns the instruction starting at the given original
// byte offset.
func (c *Code) InstructionAt(offset uint16) (*Instruction, bool) {
	i, ok := c.byOffset[offset]
	if !ok {
		return nil, false
	}
	return &c.Instructions[i], true
}

// IndexAt returns the instruction index for an offset.
func (c *Code) IndexAt(offset uint16) (int, bool) {
	i, ok := c.byOffset[offset]
	return i, ok
}

// ExceptionEntry is an exception_table row with a resolved catch type.
type ExceptionEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	// CatchType is the catch class name; CatchAll is set for finally
	// entries (catch_type 0).
	CatchType intern.StringID
	CatchAll  bool
}

type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// FieldRef is a pre-resolved field reference.
type FieldRef struct {
	TargetClass intern.StringID
	Name        intern.StringID
	Desc        intern.CPDType
}

// MethodRef is a pre-resolved method reference. TargetClass may describe an
// array type (clone() on arrays), so it is a CPDType rather than a bare
// class name.
type MethodRef struct {
	TargetClass intern.CPDType
	Name        intern.StringID
	Desc        intern.MethodDescriptor
	DescID      intern.StringID
	Interface   bool
}

// Shape returns the referenced method's overriding identity.
func (r *MethodRef) Shape() intern.MethodShape {
	return intern.MethodShape{Name: r.Name, Desc: r.DescID}
}

// ConstKind discriminates Constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstLong
	ConstDouble
	ConstString
	ConstClass
	ConstMethodType
	ConstMethodHandle
	ConstLiveObject
)

// Constant is a resolved loadable constant (the ldc family and bootstrap
// arguments).
type Constant struct {
	Kind   ConstKind
	Int    int32
	Float  float32
	Long   int64
	Double float64
	Str    intern.StringID // ConstString: interned wtf8 payload; ConstMethodType: descriptor
	Type   intern.CPDType  // ConstClass
	// MethodHandle payload
	HandleKind uint8
	HandleRef  *MethodRef
	HandleField *FieldRef
	// LiveIndex indexes the registry's live-object ldc pool for constants
	// of anonymous/generated classes.
	LiveIndex int
}

// InvokeDynamicRef is a compressed invokedynamic site.
type InvokeDynamicRef struct {
	BootstrapIndex uint16
	Name           intern.StringID
	Desc           intern.MethodDescriptor
	DescID         intern.StringID
}

// BootstrapMethod is a compressed BootstrapMethods entry.
type BootstrapMethod struct {
	Handle *Constant // always ConstMethodHandle
	Args   []Constant
}

// SwitchPair is one lookupswitch match/target pair.
type SwitchPair struct {
	Match  int32
	Target int32
}

// SwitchData is the boxed payload of tableswitch and lookupswitch. All
// targets are absolute byte offsets within the method.
type SwitchData struct {
	Default int32
	// tableswitch
	Low, High int32
	Targets   []int32
	// lookupswitch
	Pairs []SwitchPair
}

// ATypeToCPD maps a newarray element code to its CPDType.
func ATypeToCPD(aty uint8) intern.CPDType {
	switch aty {
	case ATBoolean:
		return intern.BooleanType
	case ATChar:
		return intern.CharType
	case ATFloat:
		return intern.FloatType
	case ATDouble:
		return intern.DoubleType
	case ATByte:
		return intern.ByteType
	case ATShort:
		return intern.ShortType
	case ATLong:
		return intern.LongType
	default:
		return intern.IntType
	}
}

// Instruction is one compressed instruction: its original byte offset, its
// original encoded size, and resolved operands. Which operand fields are
// meaningful depends on Op.
type Instruction struct {
	Offset uint16
	Size   uint16
	Op     Op

	// Wide marks instructions that were prefixed with the wide opcode;
	// Size includes the prefix.
	Wide bool

	Index  uint16 // local-variable index, or invokeinterface count
	Const  int32  // bipush/sipush value, iinc increment
	Target int32  // absolute branch target
	ATy    uint8  // newarray element code
	Dims   uint8  // multianewarray dimension count

	Type   intern.CPDType    // new/anewarray/checkcast/instanceof/multianewarray
	Field  *FieldRef
	Method *MethodRef
	Ldc    *Constant
	Switch *SwitchData
	Indy   *InvokeDynamicRef

	// ResolutionError records a constant-pool resolution failure found at
	// compression time. Lazy resolution semantics require the error to
	// surface only if the instruction executes.
	ResolutionError error
}
