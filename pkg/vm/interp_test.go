package vm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

func runStatic(t *testing.T, machine *VM, th *Thread, rc *RuntimeClass, name, desc string, args ...Value) Value {
	t.Helper()
	m := staticMethod(t, rc, name, desc)
	ret, thx := machine.InvokeMethod(th, m, args)
	if thx != nil {
		t.Fatalf("%s threw: %v", name, thx)
	}
	return ret
}

func TestArithmeticOpcodes(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Arith", "java/lang/Object")

	// (6 + 2) * 3 - 4 = 20
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "ints", "()I", 2, 0, []byte{
		0x10, 6, // bipush 6
		0x05, // iconst_2
		0x60, // iadd
		0x06, // iconst_3
		0x68, // imul
		0x07, // iconst_4
		0x64, // isub
		0xAC, // ireturn
	})
	// long shifting: (1 << 40) >> 8 = 1 << 32
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "longs", "()J", 4, 0, []byte{
		0x0A,     // lconst_1
		0x10, 40, // bipush 40
		0x79,    // lshl
		0x10, 8, // bipush 8
		0x7B, // lshr
		0xAD, // lreturn
	})
	// double: 7.0 / 2.0 = 3.5
	di := b.DoubleConst(7.0)
	d2 := b.DoubleConst(2.0)
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "doubles", "()D", 4, 0, []byte{
		0x14, byte(di >> 8), byte(di),
		0x14, byte(d2 >> 8), byte(d2),
		0x6F, // ddiv
		0xAF, // dreturn
	})
	rc := define(t, machine, th, b)

	if got := runStatic(t, machine, th, rc, "ints", "()I").Int(); got != 20 {
		t.Errorf("ints: got %d, want 20", got)
	}
	if got := runStatic(t, machine, th, rc, "longs", "()J").Long(); got != 1<<32 {
		t.Errorf("longs: got %d, want %d", got, int64(1)<<32)
	}
	if got := runStatic(t, machine, th, rc, "doubles", "()D").Double(); got != 3.5 {
		t.Errorf("doubles: got %v, want 3.5", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("DivZero", "java/lang/Object")
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "()I", 2, 0, []byte{
		0x04, // iconst_1
		0x03, // iconst_0
		0x6C, // idiv
		0xAC,
	})
	rc := define(t, machine, th, b)
	m := staticMethod(t, rc, "f", "()I")
	_, thx := machine.InvokeMethod(th, m, nil)
	if thx == nil {
		t.Fatal("division by zero returned")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/ArithmeticException" {
		t.Errorf("error class: %s", got)
	}
}

func TestTableswitchDispatch(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Switchy", "java/lang/Object")
	b.SetMajor(49)

	var code bytes.Buffer
	code.WriteByte(0x1A) // 0: iload_0
	code.WriteByte(0xAA) // 1: tableswitch
	code.Write([]byte{0, 0})
	w := func(v int32) { _ = binary.Write(&code, binary.BigEndian, v) }
	w(23) // default -> 24
	w(1)  // low
	w(2)  // high
	w(27) // case 1 -> 28
	w(30) // case 2 -> 31
	// 24: default: bipush 99; ireturn
	code.Write([]byte{0x10, 99, 0xAC, 0x00})
	// 28: case 1: bipush 11; ireturn
	code.Write([]byte{0x10, 11, 0xAC})
	// 31: case 2: bipush 22; ireturn
	code.Write([]byte{0x10, 22, 0xAC})

	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "pick", "(I)I", 1, 1, code.Bytes())
	rc := define(t, machine, th, b)

	cases := map[int32]int32{0: 99, 1: 11, 2: 22, 5: 99}
	for in, want := range cases {
		if got := runStatic(t, machine, th, rc, "pick", "(I)I", IntValue(in)).Int(); got != want {
			t.Errorf("pick(%d): got %d, want %d", in, got, want)
		}
	}
}

func TestFieldsAndConstructors(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Point", "java/lang/Object")
	ctor := b.Methodref("java/lang/Object", "<init>", "()V")
	fx := b.Fieldref("Point", "x", "I")
	b.AddField(classfile.AccPublic, "x", "I")
	// <init>(I): super(); this.x = arg
	b.AddMethod(classfile.AccPublic, "<init>", "(I)V", 2, 2, []byte{
		0x2A,                              // aload_0
		0xB7, byte(ctor >> 8), byte(ctor), // invokespecial Object.<init>
		0x2A, // aload_0
		0x1B, // iload_1
		0xB5, byte(fx >> 8), byte(fx), // putfield x
		0xB1,
	})
	// getX()I
	b.AddMethod(classfile.AccPublic, "getX", "()I", 1, 1, []byte{
		0x2A,
		0xB4, byte(fx >> 8), byte(fx), // getfield x
		0xAC,
	})
	pointCls := b.Class("Point")
	ptCtor := b.Methodref("Point", "<init>", "(I)V")
	getX := b.Methodref("Point", "getX", "()I")
	// make()I: return new Point(17).getX()
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "make", "()I", 3, 0, []byte{
		0xBB, byte(pointCls >> 8), byte(pointCls), // new Point
		0x59,     // dup
		0x10, 17, // bipush 17
		0xB7, byte(ptCtor >> 8), byte(ptCtor), // invokespecial <init>(I)
		0xB6, byte(getX >> 8), byte(getX), // invokevirtual getX
		0xAC,
	})
	rc := define(t, machine, th, b)

	if got := runStatic(t, machine, th, rc, "make", "()I").Int(); got != 17 {
		t.Errorf("make: got %d, want 17", got)
	}
}

func TestNullReceiverThrowsNPE(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Nully", "java/lang/Object")
	fx := b.Fieldref("Nully", "x", "I")
	b.AddField(classfile.AccPublic, "x", "I")
	b.SetMajor(49)
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "()I", 1, 1, []byte{
		0x01, // aconst_null
		0xB4, byte(fx >> 8), byte(fx), // getfield on null
		0xAC,
	})
	rc := define(t, machine, th, b)
	m := staticMethod(t, rc, "f", "()I")
	_, thx := machine.InvokeMethod(th, m, nil)
	if thx == nil {
		t.Fatal("getfield on null returned")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/NullPointerException" {
		t.Errorf("error class: %s", got)
	}
}

func TestArrayOpsAndBounds(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Arrays", "java/lang/Object")
	// sum3: int[] a = new int[3]; a[0]=4; a[2]=6; return a[0]+a[1]+a[2];
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "sum3", "()I", 4, 1, []byte{
		0x06,       // iconst_3
		0xBC, 10,   // newarray int
		0x4B,       // astore_0
		0x2A,       // aload_0
		0x03,       // iconst_0
		0x07,       // iconst_4
		0x4F,       // iastore
		0x2A,       // aload_0
		0x05,       // iconst_2
		0x10, 6,    // bipush 6
		0x4F,       // iastore
		0x2A,       // aload_0
		0x03,       // iconst_0
		0x2E,       // iaload
		0x2A,       // aload_0
		0x04,       // iconst_1
		0x2E,       // iaload
		0x60,       // iadd
		0x2A,       // aload_0
		0x05,       // iconst_2
		0x2E,       // iaload
		0x60,       // iadd
		0xAC,
	})
	// oob: new int[1] [5]
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "oob", "()I", 3, 0, []byte{
		0x04,     // iconst_1
		0xBC, 10, // newarray int
		0x08, // iconst_5
		0x2E, // iaload
		0xAC,
	})
	rc := define(t, machine, th, b)

	if got := runStatic(t, machine, th, rc, "sum3", "()I").Int(); got != 10 {
		t.Errorf("sum3: got %d, want 10", got)
	}
	m := staticMethod(t, rc, "oob", "()I")
	_, thx := machine.InvokeMethod(th, m, nil)
	if thx == nil {
		t.Fatal("out-of-bounds read returned")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/ArrayIndexOutOfBoundsException" {
		t.Errorf("error class: %s", got)
	}
}

// invokedynamic links its call site once and reuses the cached target.
func TestInvokeDynamicCallSiteCaching(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Indy", "java/lang/Object")
	impl := b.Methodref("Indy", "impl", "()I")
	mh := b.MethodHandle(6, impl) // REF_invokeStatic
	b.SetBootstrapMethods([]byte{
		0, 1, // one bootstrap method
		byte(mh >> 8), byte(mh),
		0, 0, // no static arguments
	})
	indy := b.InvokeDynamic(0, "apply", "()I")

	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "impl", "()I", 1, 0, []byte{0x10, 9, 0xAC})
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "call", "()I", 1, 0, []byte{
		0xBA, byte(indy >> 8), byte(indy), 0, 0, // invokedynamic
		0xAC,
	})
	rc := define(t, machine, th, b)

	if got := runStatic(t, machine, th, rc, "call", "()I").Int(); got != 9 {
		t.Errorf("first call: got %d, want 9", got)
	}

	machine.callSitesMu.Lock()
	var site *callSite
	for k, s := range machine.callSites {
		if k.class == rc {
			site = s
		}
	}
	machine.callSitesMu.Unlock()
	if site == nil {
		t.Fatal("no cached call site after linkage")
	}

	if got := runStatic(t, machine, th, rc, "call", "()I").Int(); got != 9 {
		t.Errorf("second call: got %d, want 9", got)
	}
	machine.callSitesMu.Lock()
	count := len(machine.callSites)
	machine.callSitesMu.Unlock()
	if count != 1 {
		t.Errorf("call sites after second call: %d, want 1", count)
	}
}

// Uncaught exceptions propagate outward through nested frames, and the
// captured trace lists the frames innermost first.
func TestUnwindThroughFrames(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Deep", "java/lang/Object")
	b.SetMajor(49)
	npe := b.Class("java/lang/NullPointerException")
	inner := b.Methodref("Deep", "inner", "()V")
	outer := b.Methodref("Deep", "outer", "()V")

	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "inner", "()V", 1, 0, []byte{
		0xBB, byte(npe >> 8), byte(npe), // new NPE
		0xBF, // athrow
	})
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "outer", "()V", 1, 0, []byte{
		0xB8, byte(inner >> 8), byte(inner),
		0xB1,
	})
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "top", "()V", 1, 0, []byte{
		0xB8, byte(outer >> 8), byte(outer),
		0xB1,
	})
	rc := define(t, machine, th, b)

	m := staticMethod(t, rc, "top", "()V")
	_, thx := machine.InvokeMethod(th, m, nil)
	if thx == nil {
		t.Fatal("exception did not propagate")
	}
	if len(thx.Trace) < 3 {
		t.Fatalf("trace: %+v", thx.Trace)
	}
	if got := intern.GetString(thx.Trace[0].Method); got != "inner" {
		t.Errorf("innermost trace frame: %s", got)
	}
}
