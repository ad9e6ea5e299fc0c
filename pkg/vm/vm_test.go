package vm

import (
	"bytes"
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

func newTestVM(t *testing.T) (*VM, *Thread) {
	t.Helper()
	machine, err := NewVM(Options{})
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	return machine, machine.NewThread()
}

func define(t *testing.T, machine *VM, th *Thread, b *classgen.Builder) *RuntimeClass {
	t.Helper()
	rc, err := machine.DefineGeneratedClass(th, BootstrapLoaderName, b.Bytes())
	if err != nil {
		t.Fatalf("DefineGeneratedClass: %v", err)
	}
	return rc
}

func staticMethod(t *testing.T, rc *RuntimeClass, name, desc string) *Method {
	t.Helper()
	m := rc.FindLocalMethod(intern.MethodShape{
		Name: intern.AddString(name),
		Desc: intern.AddString(desc),
	})
	if m == nil {
		t.Fatalf("method %s%s not found", name, desc)
	}
	return m
}

// Hello World: main prints to System.out through getstatic + ldc +
// invokevirtual, and the VM reports a clean exit.
func TestHelloWorld(t *testing.T) {
	machine, th := newTestVM(t)
	var out bytes.Buffer
	machine.Stdout = &out

	b := classgen.New("Hello", "java/lang/Object")
	sysOut := b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	hi := b.StringConst("hi")
	println_ := b.Methodref("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
	code := []byte{
		0xB2, byte(sysOut >> 8), byte(sysOut), // getstatic System.out
		0x12, byte(hi), // ldc "hi"
		0xB6, byte(println_ >> 8), byte(println_), // invokevirtual println
		0xB1, // return
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V", 2, 1, code)
	rc := define(t, machine, th, b)

	if thx := machine.EnsureInitialized(th, rc); thx != nil {
		t.Fatalf("init: %v", thx)
	}
	main := staticMethod(t, rc, "main", "([Ljava/lang/String;)V")
	if _, thx := machine.InvokeMethod(th, main, []Value{NullValue()}); thx != nil {
		t.Fatalf("main: %v", thx)
	}
	if got := out.String(); got != "hi\n" {
		t.Errorf("output: got %q, want %q", got, "hi\n")
	}
}

// Class init ordering: A extends B; touching A.f runs B's <clinit> before
// A's.
func TestClassInitOrdering(t *testing.T) {
	machine, th := newTestVM(t)

	// Counter holds the shared sequence number.
	cb := classgen.New("InitCounter", "java/lang/Object")
	cb.AddField(classfile.AccPublic|classfile.AccStatic, "seq", "I")
	define(t, machine, th, cb)

	clinitCode := func(b *classgen.Builder, ownClass string) []byte {
		seq := b.Fieldref("InitCounter", "seq", "I")
		when := b.Fieldref(ownClass, "when", "I")
		return []byte{
			0xB2, byte(seq >> 8), byte(seq), // getstatic seq
			0x04, // iconst_1
			0x60, // iadd
			0x59, // dup
			0xB3, byte(seq >> 8), byte(seq), // putstatic seq
			0xB3, byte(when >> 8), byte(when), // putstatic when
			0xB1,
		}
	}

	bb := classgen.New("InitB", "java/lang/Object")
	bb.AddField(classfile.AccPublic|classfile.AccStatic, "when", "I")
	bb.AddMethod(classfile.AccStatic, "<clinit>", "()V", 2, 0, clinitCode(bb, "InitB"))
	rcB := define(t, machine, th, bb)

	ab := classgen.New("InitA", "InitB")
	ab.AddField(classfile.AccPublic|classfile.AccStatic, "when", "I")
	ab.AddField(classfile.AccPublic|classfile.AccStatic, "f", "I")
	ab.AddMethod(classfile.AccStatic, "<clinit>", "()V", 2, 0, clinitCode(ab, "InitA"))
	rcA := define(t, machine, th, ab)

	if rcA.Status() != StatusUnprepared && rcA.Status() != StatusPrepared {
		t.Fatalf("A initialized too early: %d", rcA.Status())
	}

	if thx := machine.EnsureInitialized(th, rcA); thx != nil {
		t.Fatalf("init A: %v", thx)
	}

	whenName := intern.AddString("when")
	bWhen, _ := rcB.StaticValue(whenName)
	aWhen, _ := rcA.StaticValue(whenName)
	if bWhen.Int() != 1 || aWhen.Int() != 2 {
		t.Errorf("init order: B at %d, A at %d; want 1 then 2", bWhen.Int(), aWhen.Int())
	}
	if rcB.Status() != StatusInitialized || rcA.Status() != StatusInitialized {
		t.Errorf("status after init: B=%d A=%d", rcB.Status(), rcA.Status())
	}
}

// Virtual dispatch: a B held in an A-typed reference dispatches to B's
// override through the vtable slot A assigned.
func TestVirtualDispatch(t *testing.T) {
	machine, th := newTestVM(t)

	ab := classgen.New("VirtA", "java/lang/Object")
	ab.AddMethod(classfile.AccPublic, "m", "()I", 1, 1, []byte{0x04, 0xAC}) // iconst_1; ireturn
	rcA := define(t, machine, th, ab)

	bb := classgen.New("VirtB", "VirtA")
	bb.AddMethod(classfile.AccPublic, "m", "()I", 1, 1, []byte{0x05, 0xAC}) // iconst_2; ireturn
	rcB := define(t, machine, th, bb)

	shape := intern.MethodShape{Name: intern.AddString("m"), Desc: intern.AddString("()I")}
	numA, okA := rcA.MethodNumberFor(shape)
	numB, okB := rcB.MethodNumberFor(shape)
	if !okA || !okB || numA != numB {
		t.Fatalf("vtable slot reuse: A=%d(%v) B=%d(%v)", numA, okA, numB, okB)
	}

	obj := machine.allocObject(rcB)
	resolved := rcA.FindLocalMethod(shape)
	impl, err := machine.lookupVirtual(obj.Class, resolved)
	if err != nil {
		t.Fatalf("lookupVirtual: %v", err)
	}
	ret, thx := machine.InvokeMethod(th, impl, []Value{RefValue(obj)})
	if thx != nil {
		t.Fatalf("invoke: %v", thx)
	}
	if ret.Int() != 2 {
		t.Errorf("dispatch result: got %d, want 2", ret.Int())
	}
}

// Exception catch: a throw at offset 10 with table [5,15)->20 resumes at
// the handler with the exception as the only stack element.
func TestExceptionCatchAtOffset(t *testing.T) {
	machine, th := newTestVM(t)

	eb := classgen.New("MyErr", "java/lang/RuntimeException")
	define(t, machine, th, eb)

	b := classgen.New("Catcher", "java/lang/Object")
	b.SetMajor(49)
	errClass := b.Class("MyErr")
	code := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0-6: nop
		0xBB, byte(errClass >> 8), byte(errClass), // 7: new MyErr
		0xBF, // 10: athrow
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 11-19: nop
		0xB0, // 20: areturn
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "run", "()Ljava/lang/Object;", 1, 0, code,
		classgen.Handler{StartPC: 5, EndPC: 15, HandlerPC: 20, CatchType: errClass})
	rc := define(t, machine, th, b)

	run := staticMethod(t, rc, "run", "()Ljava/lang/Object;")
	ret, thx := machine.InvokeMethod(th, run, nil)
	if thx != nil {
		t.Fatalf("run threw: %v", thx)
	}
	if ret.Ref == nil || intern.GetString(ret.Ref.Class.Name) != "MyErr" {
		t.Errorf("handler did not receive the exception: %+v", ret)
	}
}

// Interface dispatch: C implements I; the (C, I, methodNumber) itable
// entry resolves to C's override and is reused on the second call.
func TestInterfaceDispatchAndItableReuse(t *testing.T) {
	machine, th := newTestVM(t)

	ib := classgen.New("Iface", "java/lang/Object")
	ib.SetFlags(classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract)
	ib.AddAbstractMethod(classfile.AccPublic|classfile.AccAbstract, "m", "()I")
	rcI := define(t, machine, th, ib)

	cb := classgen.New("Impl", "java/lang/Object")
	cb.AddInterface("Iface")
	cb.AddMethod(classfile.AccPublic, "m", "()I", 1, 1, []byte{0x10, 0x07, 0xAC}) // bipush 7; ireturn
	rcC := define(t, machine, th, cb)

	if rcI.InterfaceID < 0 {
		t.Fatal("interface did not receive an InterfaceID")
	}

	shape := intern.MethodShape{Name: intern.AddString("m"), Desc: intern.AddString("()I")}
	decl := rcI.FindLocalMethod(shape)
	if decl == nil || decl.Number < 0 {
		t.Fatalf("interface method numbering: %+v", decl)
	}

	impl1, err := machine.lookupInterface(rcC, rcI, decl.Number)
	if err != nil {
		t.Fatalf("lookupInterface: %v", err)
	}
	obj := machine.allocObject(rcC)
	ret, thx := machine.InvokeMethod(th, impl1, []Value{RefValue(obj)})
	if thx != nil {
		t.Fatalf("invoke: %v", thx)
	}
	if ret.Int() != 7 {
		t.Errorf("interface dispatch: got %d, want 7", ret.Int())
	}

	impl2, err := machine.lookupInterface(rcC, rcI, decl.Number)
	if err != nil {
		t.Fatalf("second lookupInterface: %v", err)
	}
	if impl1 != impl2 {
		t.Error("itable entry was not reused")
	}
	machine.caches.mu.RLock()
	_, cached := machine.caches.icache[icacheKey{recv: rcC, ifaceID: rcI.InterfaceID, num: decl.Number}]
	machine.caches.mu.RUnlock()
	if !cached {
		t.Error("interface lookup cache has no entry")
	}
}

// Circular initialization: A's <clinit> calls a static method on A; the
// nested call must not re-enter <clinit> and sees the in-progress state.
func TestCircularInitialization(t *testing.T) {
	machine, th := newTestVM(t)

	b := classgen.New("SelfInit", "java/lang/Object")
	state := b.Fieldref("SelfInit", "state", "I")
	bump := b.Methodref("SelfInit", "bump", "()V")
	b.AddField(classfile.AccPublic|classfile.AccStatic, "state", "I")
	// <clinit>: state = 5; bump();
	b.AddMethod(classfile.AccStatic, "<clinit>", "()V", 1, 0, []byte{
		0x08, // iconst_5
		0xB3, byte(state >> 8), byte(state), // putstatic state
		0xB8, byte(bump >> 8), byte(bump), // invokestatic bump()
		0xB1,
	})
	// bump: state = state + 1
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "bump", "()V", 2, 0, []byte{
		0xB2, byte(state >> 8), byte(state),
		0x04,
		0x60,
		0xB3, byte(state >> 8), byte(state),
		0xB1,
	})
	rc := define(t, machine, th, b)

	if thx := machine.EnsureInitialized(th, rc); thx != nil {
		t.Fatalf("init: %v", thx)
	}
	v, _ := rc.StaticValue(intern.AddString("state"))
	if v.Int() != 6 {
		t.Errorf("state after init: got %d, want 6", v.Int())
	}

	// a second call is a no-op and does not re-run <clinit>
	bumpM := staticMethod(t, rc, "bump", "()V")
	if _, thx := machine.InvokeMethod(th, bumpM, nil); thx != nil {
		t.Fatalf("bump: %v", thx)
	}
	if thx := machine.EnsureInitialized(th, rc); thx != nil {
		t.Fatalf("re-init: %v", thx)
	}
	v, _ = rc.StaticValue(intern.AddString("state"))
	if v.Int() != 7 {
		t.Errorf("state after re-init: got %d, want 7 (clinit must not re-run)", v.Int())
	}
}
