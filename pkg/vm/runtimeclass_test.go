package vm

import (
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// Field numbers are flat across inheritance: the parent's slots keep their
// numbers and meanings in the subclass.
func TestFieldNumberingParentPrefix(t *testing.T) {
	machine, th := newTestVM(t)

	pb := classgen.New("NumParent", "java/lang/Object")
	pb.AddField(classfile.AccPublic, "beta", "I")
	pb.AddField(classfile.AccPublic, "alpha", "J")
	pb.AddField(classfile.AccPublic|classfile.AccStatic, "ignored", "I") // statics are not numbered
	parent := define(t, machine, th, pb)

	cb := classgen.New("NumChild", "NumParent")
	cb.AddField(classfile.AccPublic, "gamma", "Ljava/lang/String;")
	child := define(t, machine, th, cb)

	if parent.RecursiveFieldCount != 2 {
		t.Fatalf("parent count: got %d, want 2", parent.RecursiveFieldCount)
	}
	if child.RecursiveFieldCount != 3 {
		t.Fatalf("child count: got %d, want 3", child.RecursiveFieldCount)
	}
	if child.RecursiveFieldCount < parent.RecursiveFieldCount {
		t.Error("recursive count shrank in the subclass")
	}

	// sorted-name order within the parent: alpha then beta
	alpha, _ := parent.FieldSlotFor(intern.AddString("alpha"))
	beta, _ := parent.FieldSlotFor(intern.AddString("beta"))
	if alpha.Number != 0 || beta.Number != 1 {
		t.Errorf("parent numbering: alpha=%d beta=%d", alpha.Number, beta.Number)
	}

	// the child sees identical slots for inherited fields
	for _, name := range []string{"alpha", "beta"} {
		ps, _ := parent.FieldSlotFor(intern.AddString(name))
		cs, ok := child.FieldSlotFor(intern.AddString(name))
		if !ok || cs.Number != ps.Number || cs.Desc != ps.Desc {
			t.Errorf("field %s: parent slot %+v, child slot %+v", name, ps, cs)
		}
	}
	gamma, _ := child.FieldSlotFor(intern.AddString("gamma"))
	if gamma.Number != 2 {
		t.Errorf("gamma number: got %d, want 2", gamma.Number)
	}
}

// Class status never moves backwards.
func TestStatusMonotonic(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Mono", "java/lang/Object")
	rc := define(t, machine, th, b)

	if rc.Status() != StatusUnprepared {
		t.Fatalf("fresh class status: %d", rc.Status())
	}
	machine.Prepare(th, rc)
	if rc.Status() != StatusPrepared {
		t.Fatalf("after prepare: %d", rc.Status())
	}
	rc.setStatus(StatusUnprepared) // must be refused
	if rc.Status() != StatusPrepared {
		t.Error("status moved backwards")
	}
	if thx := machine.EnsureInitialized(th, rc); thx != nil {
		t.Fatalf("init: %v", thx)
	}
	if rc.Status() != StatusInitialized {
		t.Fatalf("after init: %d", rc.Status())
	}
	// initializing an initialized class is a no-op
	if thx := machine.EnsureInitialized(th, rc); thx != nil {
		t.Errorf("re-init: %v", thx)
	}
}

// instanceof true implies checkcast succeeds.
func TestInstanceOfCheckcastAgreement(t *testing.T) {
	machine, th := newTestVM(t)

	pb := classgen.New("CastParent", "java/lang/Object")
	define(t, machine, th, pb)
	cb := classgen.New("CastChild", "CastParent")
	rcChild := define(t, machine, th, cb)

	obj := machine.allocObject(rcChild)
	for _, target := range []string{"CastChild", "CastParent", "java/lang/Object"} {
		typ := intern.ClassTypeNamed(target)
		is, thx := machine.isInstance(th, BootstrapLoaderName, obj, typ)
		if thx != nil {
			t.Fatalf("isInstance(%s): %v", target, thx)
		}
		if !is {
			t.Errorf("instanceof %s: got false", target)
		}
	}

	is, _ := machine.isInstance(th, BootstrapLoaderName, obj, intern.ClassTypeNamed("java/lang/String"))
	if is {
		t.Error("instanceof String on CastChild: got true")
	}
}

// ExceptionInInitializerError wraps non-Error throwables escaping
// <clinit>, and the class stays erroneous forever.
func TestClinitFailureMarksErroneous(t *testing.T) {
	machine, th := newTestVM(t)

	b := classgen.New("BadInit", "java/lang/Object")
	rtEx := b.Class("java/lang/RuntimeException")
	b.SetMajor(49)
	b.AddMethod(classfile.AccStatic, "<clinit>", "()V", 2, 0, []byte{
		0xBB, byte(rtEx >> 8), byte(rtEx), // new RuntimeException
		0xBF, // athrow (uninitialized, fine for this test)
	})
	rc := define(t, machine, th, b)

	thx := machine.EnsureInitialized(th, rc)
	if thx == nil {
		t.Fatal("failing <clinit> initialized successfully")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/ExceptionInInitializerError" {
		t.Errorf("wrapper class: got %s", got)
	}
	if !rc.Erroneous() {
		t.Error("class not marked erroneous")
	}

	// subsequent attempts fail with NoClassDefFoundError
	thx = machine.EnsureInitialized(th, rc)
	if thx == nil {
		t.Fatal("erroneous class initialized")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/NoClassDefFoundError" {
		t.Errorf("second failure class: got %s", got)
	}
}

// new of an abstract class is an InstantiationError.
func TestInstantiateAbstract(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("AbstractThing", "java/lang/Object")
	b.SetFlags(classfile.AccPublic | classfile.AccSuper | classfile.AccAbstract)
	rc := define(t, machine, th, b)

	_, thx := machine.Instantiate(th, rc)
	if thx == nil {
		t.Fatal("abstract class instantiated")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/InstantiationError" {
		t.Errorf("error class: got %s", got)
	}
}

// Negative array lengths raise NegativeArraySizeException.
func TestNegativeArraySize(t *testing.T) {
	machine, th := newTestVM(t)
	_, thx := machine.allocArray(th, intern.IntType, -3)
	if thx == nil {
		t.Fatal("negative-length array allocated")
	}
	if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/NegativeArraySizeException" {
		t.Errorf("error class: got %s", got)
	}
}

// String interning gives identity: equal strings share one object.
func TestStringInterning(t *testing.T) {
	machine, th := newTestVM(t)
	a := machine.InternString(th, "shared")
	b := machine.InternString(th, "shared")
	if a != b {
		t.Error("interned strings are distinct objects")
	}
	c := machine.InternString(th, "other")
	if a == c {
		t.Error("different strings share an object")
	}
}

// The mirror pool is a bijection: one mirror per class, stable across
// calls, and reverse-mapped.
func TestMirrorBijection(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("Mirrored", "java/lang/Object")
	rc := define(t, machine, th, b)

	m1 := machine.MirrorFor(th, rc)
	m2 := machine.MirrorFor(th, rc)
	if m1 != m2 {
		t.Error("mirror not stable")
	}
	back, ok := machine.Classes.ClassOfMirror(m1)
	if !ok || back != rc {
		t.Error("reverse mirror mapping broken")
	}
	if m1.Hidden[HiddenMirrorIsArray].Int() != 0 {
		t.Error("class mirror claims to be an array")
	}

	arrRC, err := machine.loadType(th, BootstrapLoaderName, intern.ArrayOf(intern.IntType))
	if err != nil {
		t.Fatalf("load [I: %v", err)
	}
	am := machine.MirrorFor(th, arrRC)
	if am.Hidden[HiddenMirrorIsArray].Int() != 1 {
		t.Error("array mirror does not claim isArray")
	}
}
