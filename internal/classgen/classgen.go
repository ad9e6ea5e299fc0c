// Package classgen assembles small class files in memory for tests. It
// covers just enough of the format to exercise the parser, the compressor
// and the execution core without shipping binary fixtures.
package classgen

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Constant pool tags (duplicated here so the package stays dependency-free
// and usable from any test).
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagInvokeDynamic      = 18
)

// Handler mirrors an exception_table entry.
type Handler struct {
	StartPC, EndPC, HandlerPC uint16
	CatchType                 uint16 // CP class index; 0 = catch-all
}

type cpEntry struct {
	tag  uint8
	data []byte
	wide bool
}

type fieldDef struct {
	flags      uint16
	name, desc uint16
	constValue uint16 // ConstantValue CP index, 0 = none
}

type methodDef struct {
	flags      uint16
	name, desc uint16
	hasCode    bool
	maxStack   uint16
	maxLocals  uint16
	code       []byte
	handlers   []Handler
	stackMap   []byte // raw StackMapTable body, nil = omit
}

// Builder accumulates a class and renders it with Bytes.
type Builder struct {
	major, minor uint16
	flags        uint16
	entries      []cpEntry
	keys         map[string]uint16
	thisClass    uint16
	superClass   uint16
	interfaces   []uint16
	fields       []fieldDef
	methods      []methodDef
	bootstrap    []byte // raw BootstrapMethods body, nil = omit
}

// New starts a class named name extending super (internal names).
// Pass super == "" for java/lang/Object-less roots (only Object itself).
func New(name, super string) *Builder {
	b := &Builder{
		major: 61, // Java 17
		flags: 0x0021, // ACC_PUBLIC | ACC_SUPER
		keys:  make(map[string]uint16),
	}
	b.thisClass = b.Class(name)
	if super != "" {
		b.superClass = b.Class(super)
	}
	return b
}

// SetMajor overrides the class file version.
func (b *Builder) SetMajor(v uint16) { b.major = v }

// SetFlags overrides the class access flags.
func (b *Builder) SetFlags(f uint16) { b.flags = f }

// AddInterface declares an implemented interface.
func (b *Builder) AddInterface(name string) {
	b.interfaces = append(b.interfaces, b.Class(name))
}

func (b *Builder) add(key string, e cpEntry) uint16 {
	if idx, ok := b.keys[key]; ok {
		return idx
	}
	// 1-based; wide entries consumed an extra slot already counted below.
	idx := uint16(1)
	for _, prev := range b.entries {
		idx++
		if prev.wide {
			idx++
		}
	}
	b.entries = append(b.entries, e)
	b.keys[key] = idx
	return idx
}

func u16be(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// Utf8 interns a modified-UTF-8 constant (ASCII payloads only here).
func (b *Builder) Utf8(s string) uint16 {
	data := append(u16be(uint16(len(s))), []byte(s)...)
	return b.add("u:"+s, cpEntry{tag: tagUtf8, data: data})
}

// Class interns a CONSTANT_Class for an internal name.
func (b *Builder) Class(name string) uint16 {
	n := b.Utf8(name)
	return b.add("c:"+name, cpEntry{tag: tagClass, data: u16be(n)})
}

// StringConst interns a CONSTANT_String.
func (b *Builder) StringConst(s string) uint16 {
	u := b.Utf8(s)
	return b.add("s:"+s, cpEntry{tag: tagString, data: u16be(u)})
}

// IntConst interns a CONSTANT_Integer.
func (b *Builder) IntConst(v int32) uint16 {
	var d [4]byte
	binary.BigEndian.PutUint32(d[:], uint32(v))
	return b.add("i:"+string(d[:]), cpEntry{tag: tagInteger, data: d[:]})
}

// FloatConst interns a CONSTANT_Float.
func (b *Builder) FloatConst(v float32) uint16 {
	var d [4]byte
	binary.BigEndian.PutUint32(d[:], math.Float32bits(v))
	return b.add("f:"+string(d[:]), cpEntry{tag: tagFloat, data: d[:]})
}

// LongConst interns a CONSTANT_Long (occupies two slots).
func (b *Builder) LongConst(v int64) uint16 {
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(v))
	return b.add("j:"+string(d[:]), cpEntry{tag: tagLong, data: d[:], wide: true})
}

// DoubleConst interns a CONSTANT_Double (occupies two slots).
func (b *Builder) DoubleConst(v float64) uint16 {
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], math.Float64bits(v))
	return b.add("d:"+string(d[:]), cpEntry{tag: tagDouble, data: d[:], wide: true})
}

// NameAndType interns a CONSTANT_NameAndType.
func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.add("nt:"+name+":"+desc, cpEntry{tag: tagNameAndType, data: append(u16be(n), u16be(d)...)})
}

// Fieldref interns a CONSTANT_Fieldref.
func (b *Builder) Fieldref(class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.add("fr:"+class+"."+name+":"+desc, cpEntry{tag: tagFieldref, data: append(u16be(c), u16be(nt)...)})
}

// Methodref interns a CONSTANT_Methodref.
func (b *Builder) Methodref(class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.add("mr:"+class+"."+name+":"+desc, cpEntry{tag: tagMethodref, data: append(u16be(c), u16be(nt)...)})
}

// InterfaceMethodref interns a CONSTANT_InterfaceMethodref.
func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.add("ir:"+class+"."+name+":"+desc, cpEntry{tag: tagInterfaceMethodref, data: append(u16be(c), u16be(nt)...)})
}

// MethodHandle interns a CONSTANT_MethodHandle.
func (b *Builder) MethodHandle(kind uint8, refIndex uint16) uint16 {
	data := append([]byte{kind}, u16be(refIndex)...)
	return b.add("mh:"+string(data), cpEntry{tag: tagMethodHandle, data: data})
}

// InvokeDynamic interns a CONSTANT_InvokeDynamic.
func (b *Builder) InvokeDynamic(bsmIndex uint16, name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	data := append(u16be(bsmIndex), u16be(nt)...)
	return b.add("id:"+string(data), cpEntry{tag: tagInvokeDynamic, data: data})
}

// AddField adds a field without a ConstantValue.
func (b *Builder) AddField(flags uint16, name, desc string) {
	b.fields = append(b.fields, fieldDef{flags: flags, name: b.Utf8(name), desc: b.Utf8(desc)})
}

// AddConstField adds a static field with a ConstantValue attribute
// pointing at the given CP index.
func (b *Builder) AddConstField(flags uint16, name, desc string, constIndex uint16) {
	b.fields = append(b.fields, fieldDef{flags: flags, name: b.Utf8(name), desc: b.Utf8(desc), constValue: constIndex})
}

// AddAbstractMethod adds a method with no Code attribute.
func (b *Builder) AddAbstractMethod(flags uint16, name, desc string) {
	b.methods = append(b.methods, methodDef{flags: flags, name: b.Utf8(name), desc: b.Utf8(desc)})
}

// AddMethod adds a method with a Code attribute.
func (b *Builder) AddMethod(flags uint16, name, desc string, maxStack, maxLocals uint16, code []byte, handlers ...Handler) {
	b.methods = append(b.methods, methodDef{
		flags: flags, name: b.Utf8(name), desc: b.Utf8(desc),
		hasCode: true, maxStack: maxStack, maxLocals: maxLocals,
		code: code, handlers: handlers,
	})
}

// SetBootstrapMethods attaches a raw BootstrapMethods attribute body.
func (b *Builder) SetBootstrapMethods(body []byte) {
	b.Utf8("BootstrapMethods")
	b.bootstrap = body
}

// AddMethodWithFrames is AddMethod plus a raw StackMapTable body.
func (b *Builder) AddMethodWithFrames(flags uint16, name, desc string, maxStack, maxLocals uint16, code, stackMap []byte, handlers ...Handler) {
	b.methods = append(b.methods, methodDef{
		flags: flags, name: b.Utf8(name), desc: b.Utf8(desc),
		hasCode: true, maxStack: maxStack, maxLocals: maxLocals,
		code: code, handlers: handlers, stackMap: stackMap,
	})
}

// Bytes renders the class file.
func (b *Builder) Bytes() []byte {
	// Attribute names must exist in the pool before the pool is written.
	codeName := b.Utf8("Code")
	constValueName := uint16(0)
	for _, f := range b.fields {
		if f.constValue != 0 {
			constValueName = b.Utf8("ConstantValue")
			break
		}
	}
	stackMapName := uint16(0)
	for _, m := range b.methods {
		if m.stackMap != nil {
			stackMapName = b.Utf8("StackMapTable")
			break
		}
	}
	bootstrapName := uint16(0)
	if b.bootstrap != nil {
		bootstrapName = b.Utf8("BootstrapMethods")
	}

	var w bytes.Buffer
	write := func(v interface{}) { _ = binary.Write(&w, binary.BigEndian, v) }

	write(uint32(0xCAFEBABE))
	write(b.minor)
	write(b.major)

	// constant_pool_count = slots used + 1
	slots := uint16(0)
	for _, e := range b.entries {
		slots++
		if e.wide {
			slots++
		}
	}
	write(slots + 1)
	for _, e := range b.entries {
		write(e.tag)
		w.Write(e.data)
	}

	write(b.flags)
	write(b.thisClass)
	write(b.superClass)

	write(uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		write(i)
	}

	write(uint16(len(b.fields)))
	for _, f := range b.fields {
		write(f.flags)
		write(f.name)
		write(f.desc)
		if f.constValue != 0 {
			write(uint16(1))
			write(constValueName)
			write(uint32(2))
			write(f.constValue)
		} else {
			write(uint16(0))
		}
	}

	write(uint16(len(b.methods)))
	for _, m := range b.methods {
		write(m.flags)
		write(m.name)
		write(m.desc)
		if !m.hasCode {
			write(uint16(0))
			continue
		}
		write(uint16(1))
		write(codeName)

		var code bytes.Buffer
		cw := func(v interface{}) { _ = binary.Write(&code, binary.BigEndian, v) }
		cw(m.maxStack)
		cw(m.maxLocals)
		cw(uint32(len(m.code)))
		code.Write(m.code)
		cw(uint16(len(m.handlers)))
		for _, h := range m.handlers {
			cw(h.StartPC)
			cw(h.EndPC)
			cw(h.HandlerPC)
			cw(h.CatchType)
		}
		if m.stackMap != nil {
			cw(uint16(1))
			cw(stackMapName)
			cw(uint32(len(m.stackMap)))
			code.Write(m.stackMap)
		} else {
			cw(uint16(0))
		}

		write(uint32(code.Len()))
		w.Write(code.Bytes())
	}

	// class attributes
	if b.bootstrap != nil {
		write(uint16(1))
		write(bootstrapName)
		write(uint32(len(b.bootstrap)))
		w.Write(b.bootstrap)
	} else {
		write(uint16(0))
	}

	return w.Bytes()
}
