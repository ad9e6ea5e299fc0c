package ccf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

func compile(t *testing.T, b *classgen.Builder) *Class {
	t.Helper()
	cf, err := classfile.ParseBytes(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := Compress(cf)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return c
}

func TestThisClassNameRoundTrip(t *testing.T) {
	b := classgen.New("com/example/RoundTrip", "java/lang/Object")
	c := compile(t, b)
	if got := intern.GetString(c.Name); got != "com/example/RoundTrip" {
		t.Errorf("compressed name: got %q", got)
	}
	if got := intern.GetString(c.Super); got != "java/lang/Object" {
		t.Errorf("compressed super: got %q", got)
	}
}

func TestInstructionSizesSumToCodeLength(t *testing.T) {
	b := classgen.New("Sizes", "java/lang/Object")
	fr := b.Fieldref("Sizes", "f", "I")
	mr := b.Methodref("Sizes", "m", "()V")
	code := []byte{
		0x04,             // iconst_1
		0x10, 0x2A,       // bipush 42
		0x11, 0x01, 0x00, // sipush 256
		0xB4, byte(fr >> 8), byte(fr), // getfield
		0xB8, byte(mr >> 8), byte(mr), // invokestatic
		0xA7, 0x00, 0x03, // goto +3
		0xB1, // return
	}
	b.AddMethod(classfile.AccPublic, "body", "()V", 4, 4, code)
	c := compile(t, b)

	m := c.FindMethod(intern.AddString("body"), intern.AddString("()V"))
	if m == nil || m.Code == nil {
		t.Fatal("body method missing")
	}
	var sum uint32
	for _, in := range m.Code.Instructions {
		sum += uint32(in.Size)
	}
	if sum != m.Code.ByteLength {
		t.Errorf("size sum %d != code length %d", sum, m.Code.ByteLength)
	}
	// Every instruction is reachable by its original offset.
	for i := range m.Code.Instructions {
		in := &m.Code.Instructions[i]
		got, ok := m.Code.InstructionAt(in.Offset)
		if !ok || got.Op != in.Op {
			t.Errorf("InstructionAt(%d): ok=%v", in.Offset, ok)
		}
	}
}

func TestBranchTargetsAreAbsolute(t *testing.T) {
	b := classgen.New("Branches", "java/lang/Object")
	code := []byte{
		0x03,             // 0: iconst_0
		0x99, 0x00, 0x04, // 1: ifeq +4 -> 5
		0x00,             // 4: nop
		0xB1,             // 5: return
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "br", "()V", 1, 0, code)
	c := compile(t, b)
	m := c.FindMethod(intern.AddString("br"), intern.AddString("()V"))
	in, ok := m.Code.InstructionAt(1)
	if !ok || in.Op != OpIfeq {
		t.Fatalf("instruction at 1: %+v ok=%v", in, ok)
	}
	if in.Target != 5 {
		t.Errorf("ifeq target: got %d, want 5", in.Target)
	}
}

func TestTableswitchPadding(t *testing.T) {
	var code bytes.Buffer
	code.WriteByte(0x04) // 0: iconst_1
	code.WriteByte(0xAA) // 1: tableswitch
	// opcode ends at 2; pad to 4-byte boundary = 2 pad bytes
	code.Write([]byte{0x00, 0x00})
	w := func(v int32) { _ = binary.Write(&code, binary.BigEndian, v) }
	w(23) // default -> 1+23 = 24
	w(0)  // low
	w(1)  // high
	w(23) // case 0
	w(23) // case 1
	code.WriteByte(0xB1) // 24: return

	b := classgen.New("Switcher", "java/lang/Object")
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "sw", "()V", 1, 0, code.Bytes())
	c := compile(t, b)
	m := c.FindMethod(intern.AddString("sw"), intern.AddString("()V"))

	in, ok := m.Code.InstructionAt(1)
	if !ok || in.Op != OpTableswitch {
		t.Fatalf("tableswitch not at offset 1")
	}
	if in.Size != 23 {
		t.Errorf("tableswitch size: got %d, want 23", in.Size)
	}
	if in.Switch.Default != 24 {
		t.Errorf("default target: got %d, want 24", in.Switch.Default)
	}
	if len(in.Switch.Targets) != 2 || in.Switch.Targets[0] != 24 {
		t.Errorf("targets: %+v", in.Switch.Targets)
	}

	var sum uint32
	for _, i := range m.Code.Instructions {
		sum += uint32(i.Size)
	}
	if sum != m.Code.ByteLength {
		t.Errorf("size sum %d != code length %d", sum, m.Code.ByteLength)
	}
}

func TestLdcSplitting(t *testing.T) {
	b := classgen.New("Consts", "java/lang/Object")
	si := b.StringConst("hello")
	ii := b.IntConst(7)
	li := b.LongConst(1 << 33)
	ci := b.Class("java/lang/String")
	code := []byte{
		0x12, byte(si), // ldc string
		0x12, byte(ii), // ldc int
		0x13, byte(ci >> 8), byte(ci), // ldc_w class
		0x14, byte(li >> 8), byte(li), // ldc2_w long
		0xB1,
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "k", "()V", 2, 0, code)
	c := compile(t, b)
	m := c.FindMethod(intern.AddString("k"), intern.AddString("()V"))

	ins := m.Code.Instructions
	if ins[0].Ldc.Kind != ConstString || intern.GetString(ins[0].Ldc.Str) != "hello" {
		t.Errorf("ldc string: %+v", ins[0].Ldc)
	}
	if ins[1].Ldc.Kind != ConstInt || ins[1].Ldc.Int != 7 {
		t.Errorf("ldc int: %+v", ins[1].Ldc)
	}
	if ins[2].Ldc.Kind != ConstClass || intern.GetString(ins[2].Ldc.Type.Name) != "java/lang/String" {
		t.Errorf("ldc_w class: %+v", ins[2].Ldc)
	}
	if ins[3].Ldc.Kind != ConstLong || ins[3].Ldc.Long != 1<<33 {
		t.Errorf("ldc2_w long: %+v", ins[3].Ldc)
	}
}

func TestLdcCategoryMismatchRecorded(t *testing.T) {
	b := classgen.New("BadLdc", "java/lang/Object")
	li := b.LongConst(5)
	code := []byte{
		0x13, byte(li >> 8), byte(li), // ldc_w of a long: category mismatch
		0xB1,
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "bad", "()V", 2, 0, code)
	c := compile(t, b) // compression itself must succeed
	m := c.FindMethod(intern.AddString("bad"), intern.AddString("()V"))
	if m.Code.Instructions[0].ResolutionError == nil {
		t.Error("category mismatch was not recorded on the instruction")
	}
}

func TestFieldAndMethodRefsResolved(t *testing.T) {
	b := classgen.New("Members", "java/lang/Object")
	fr := b.Fieldref("Members", "count", "J")
	mr := b.Methodref("Members", "bump", "(J)J")
	code := []byte{
		0xB2, byte(fr >> 8), byte(fr), // getstatic
		0xB8, byte(mr >> 8), byte(mr), // invokestatic
		0x58, // pop2
		0xB1,
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "go", "()V", 2, 0, code)
	c := compile(t, b)
	m := c.FindMethod(intern.AddString("go"), intern.AddString("()V"))

	get := m.Code.Instructions[0]
	if get.Field == nil || intern.GetString(get.Field.Name) != "count" || get.Field.Desc != intern.LongType {
		t.Errorf("getstatic ref: %+v", get.Field)
	}
	inv := m.Code.Instructions[1]
	if inv.Method == nil || intern.GetString(inv.Method.Name) != "bump" {
		t.Errorf("invokestatic ref: %+v", inv.Method)
	}
	if len(inv.Method.Desc.Args) != 1 || inv.Method.Desc.Args[0] != intern.LongType {
		t.Errorf("invokestatic desc: %+v", inv.Method.Desc)
	}
}

func TestWideInstruction(t *testing.T) {
	b := classgen.New("WideOps", "java/lang/Object")
	code := []byte{
		0xC4, 0x15, 0x01, 0x00, // wide iload 256
		0xC4, 0x84, 0x01, 0x00, 0x00, 0x05, // wide iinc 256 += 5
		0xB1,
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "w", "()V", 2, 300, code)
	c := compile(t, b)
	m := c.FindMethod(intern.AddString("w"), intern.AddString("()V"))

	ld := m.Code.Instructions[0]
	if ld.Op != OpIload || !ld.Wide || ld.Index != 256 || ld.Size != 4 {
		t.Errorf("wide iload: %+v", ld)
	}
	inc := m.Code.Instructions[1]
	if inc.Op != OpIinc || inc.Index != 256 || inc.Const != 5 || inc.Size != 6 {
		t.Errorf("wide iinc: %+v", inc)
	}
}

func TestConstantValueCompressed(t *testing.T) {
	b := classgen.New("HasConst", "java/lang/Object")
	idx := b.IntConst(99)
	b.AddConstField(classfile.AccStatic|classfile.AccFinal, "LIMIT", "I", idx)
	c := compile(t, b)
	if len(c.Fields) != 1 || c.Fields[0].ConstantValue == nil {
		t.Fatalf("fields: %+v", c.Fields)
	}
	if c.Fields[0].ConstantValue.Kind != ConstInt || c.Fields[0].ConstantValue.Int != 99 {
		t.Errorf("ConstantValue: %+v", c.Fields[0].ConstantValue)
	}
}
