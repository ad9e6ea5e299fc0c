package classfile

import (
	"errors"
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
)

func buildSimpleClass(t *testing.T) []byte {
	t.Helper()
	b := classgen.New("com/example/Greeter", "java/lang/Object")
	b.AddField(AccPrivate, "count", "I")
	b.AddMethod(AccPublic|AccStatic, "main", "([Ljava/lang/String;)V", 2, 1,
		[]byte{0xB1}) // return
	return b.Bytes()
}

func TestParseSimpleClass(t *testing.T) {
	cf, err := ParseBytes(buildSimpleClass(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	name, err := cf.ClassName()
	if err != nil {
		t.Fatalf("ClassName: %v", err)
	}
	if name != "com/example/Greeter" {
		t.Errorf("class name: got %q, want %q", name, "com/example/Greeter")
	}

	super, err := cf.SuperClassName()
	if err != nil {
		t.Fatalf("SuperClassName: %v", err)
	}
	if super != "java/lang/Object" {
		t.Errorf("super name: got %q", super)
	}

	if len(cf.Fields) != 1 || cf.Fields[0].Name != "count" || cf.Fields[0].Descriptor != "I" {
		t.Errorf("fields: got %+v", cf.Fields)
	}

	m := cf.FindMethod("main", "([Ljava/lang/String;)V")
	if m == nil {
		t.Fatal("main method not found")
	}
	if m.Code == nil {
		t.Fatal("main has no Code attribute")
	}
	if m.Code.MaxStack != 2 || m.Code.MaxLocals != 1 {
		t.Errorf("Code: maxStack=%d maxLocals=%d", m.Code.MaxStack, m.Code.MaxLocals)
	}
	if len(m.Code.Code) != 1 || m.Code.Code[0] != 0xB1 {
		t.Errorf("Code bytes: %v", m.Code.Code)
	}
}

func TestParseBadMagic(t *testing.T) {
	data := buildSimpleClass(t)
	data[0] = 0xDE
	_, err := ParseBytes(data)
	if !errors.Is(err, ErrBadMagic) {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}

func TestParseTruncated(t *testing.T) {
	data := buildSimpleClass(t)
	for _, n := range []int{0, 3, 7, 9, len(data) / 2} {
		if _, err := ParseBytes(data[:n]); !errors.Is(err, ErrTruncatedFile) {
			t.Errorf("truncation at %d: got %v, want ErrTruncatedFile", n, err)
		}
	}
}

func TestParseUnsupportedVersion(t *testing.T) {
	b := classgen.New("Old", "java/lang/Object")
	b.SetMajor(44)
	if _, err := ParseBytes(b.Bytes()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("major 44: got %v, want ErrUnsupportedVersion", err)
	}

	b2 := classgen.New("Future", "java/lang/Object")
	b2.SetMajor(99)
	if _, err := ParseBytes(b2.Bytes()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("major 99: got %v, want ErrUnsupportedVersion", err)
	}
}

func TestLongDoubleSlotReservation(t *testing.T) {
	b := classgen.New("Wide", "java/lang/Object")
	longIdx := b.LongConst(1 << 40)
	b.DoubleConst(2.5)
	b.AddConstField(AccStatic|AccFinal, "BIG", "J", longIdx)
	cf, err := ParseBytes(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	lc, ok := cf.ConstantPool[longIdx].(*ConstantLong)
	if !ok {
		t.Fatalf("index %d is not ConstantLong", longIdx)
	}
	if lc.Value != 1<<40 {
		t.Errorf("long value: got %d", lc.Value)
	}
	// The following slot is reserved and must be nil.
	if cf.ConstantPool[longIdx+1] != nil {
		t.Errorf("slot %d after long is not reserved", longIdx+1)
	}
	if _, err := GetUtf8(cf.ConstantPool, longIdx+1); err == nil {
		t.Error("dereferencing a reserved slot did not fail")
	}
}

func TestExceptionTableParsing(t *testing.T) {
	b := classgen.New("Catcher", "java/lang/Object")
	catchType := b.Class("java/lang/RuntimeException")
	b.AddMethod(AccPublic|AccStatic, "run", "()V", 1, 1,
		[]byte{0xB1},
		classgen.Handler{StartPC: 5, EndPC: 15, HandlerPC: 20, CatchType: catchType},
		classgen.Handler{StartPC: 0, EndPC: 30, HandlerPC: 40, CatchType: 0},
	)
	cf, err := ParseBytes(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := cf.FindMethod("run", "()V")
	if m == nil || m.Code == nil {
		t.Fatal("run method missing")
	}
	hs := m.Code.ExceptionHandlers
	if len(hs) != 2 {
		t.Fatalf("handlers: got %d, want 2", len(hs))
	}
	if hs[0].StartPC != 5 || hs[0].EndPC != 15 || hs[0].HandlerPC != 20 {
		t.Errorf("handler 0: %+v", hs[0])
	}
	name, err := GetClassName(cf.ConstantPool, hs[0].CatchType)
	if err != nil || name != "java/lang/RuntimeException" {
		t.Errorf("catch type: %q, %v", name, err)
	}
	if hs[1].CatchType != 0 {
		t.Errorf("handler 1 should be catch-all: %+v", hs[1])
	}
}

func TestResolveRef(t *testing.T) {
	b := classgen.New("Refs", "java/lang/Object")
	fr := b.Fieldref("com/example/Holder", "value", "I")
	mr := b.Methodref("com/example/Holder", "get", "()I")
	ir := b.InterfaceMethodref("com/example/Iface", "apply", "(I)I")
	cf, err := ParseBytes(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ref, isIface, err := ResolveRef(cf.ConstantPool, fr)
	if err != nil {
		t.Fatalf("field ref: %v", err)
	}
	if isIface || ref.ClassName != "com/example/Holder" || ref.Name != "value" || ref.Descriptor != "I" {
		t.Errorf("field ref: %+v isIface=%v", ref, isIface)
	}

	ref, isIface, err = ResolveRef(cf.ConstantPool, mr)
	if err != nil || isIface || ref.Name != "get" {
		t.Errorf("method ref: %+v, %v, isIface=%v", ref, err, isIface)
	}

	ref, isIface, err = ResolveRef(cf.ConstantPool, ir)
	if err != nil || !isIface || ref.Name != "apply" {
		t.Errorf("interface ref: %+v, %v, isIface=%v", ref, err, isIface)
	}
}
