package vm

import (
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// recordingCompiler captures compile/recompile requests from exits.
type recordingCompiler struct {
	compiled   []*Method
	recompiled []*Method
}

func (rc *recordingCompiler) Compile(m *Method) error {
	rc.compiled = append(rc.compiled, m)
	return nil
}

func (rc *recordingCompiler) Recompile(m *Method) error {
	rc.recompiled = append(rc.recompiled, m)
	return nil
}

func TestExitAllocateObject(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("ExitAlloc", "java/lang/Object")
	b.AddField(classfile.AccPublic, "x", "I")
	b.AddField(classfile.AccPublic, "next", "LExitAlloc;")
	rc := define(t, machine, th, b)

	res, thx := machine.HandleExit(th, &ExitRequest{
		Kind: ExitAllocateObject,
		Type: rc.Kind,
	})
	if thx != nil {
		t.Fatalf("exit: %v", thx)
	}
	if res.Action != ActionResume || res.ObjectOut == nil {
		t.Fatalf("result: %+v", res)
	}
	obj := res.ObjectOut
	if len(obj.Fields) != 2 {
		t.Fatalf("fields: got %d, want 2", len(obj.Fields))
	}
	// zeroed per declared type
	next, _ := rc.FieldSlotFor(intern.AddString("next"))
	if !obj.Fields[next.Number].IsNull() {
		t.Error("reference field not null after allocation")
	}
}

func TestExitAllocateObjectArrayAndNewString(t *testing.T) {
	machine, th := newTestVM(t)

	res, thx := machine.HandleExit(th, &ExitRequest{
		Kind:   ExitAllocateObjectArray,
		Type:   intern.ClassType(intern.JavaLangString),
		Length: 4,
	})
	if thx != nil {
		t.Fatalf("array exit: %v", thx)
	}
	if res.ObjectOut.Arr == nil || res.ObjectOut.Arr.Length() != 4 {
		t.Fatalf("array: %+v", res.ObjectOut)
	}

	res, thx = machine.HandleExit(th, &ExitRequest{
		Kind: ExitNewString,
		WTF8: intern.AddString("exit-made"),
	})
	if thx != nil {
		t.Fatalf("string exit: %v", thx)
	}
	s, ok := res.ObjectOut.StringValue()
	if !ok || s != "exit-made" {
		t.Errorf("string payload: %q ok=%v", s, ok)
	}
	// NewString interns: a second exit returns the same object
	res2, _ := machine.HandleExit(th, &ExitRequest{Kind: ExitNewString, WTF8: intern.AddString("exit-made")})
	if res2.ObjectOut != res.ObjectOut {
		t.Error("NewString did not intern")
	}
}

func TestExitCheckCastAndInstanceOf(t *testing.T) {
	machine, th := newTestVM(t)
	pb := classgen.New("ExitP", "java/lang/Object")
	define(t, machine, th, pb)
	cb := classgen.New("ExitC", "ExitP")
	rcC := define(t, machine, th, cb)

	obj := machine.allocObject(rcC)

	res, thx := machine.HandleExit(th, &ExitRequest{
		Kind:     ExitInstanceOf,
		Receiver: obj,
		Type:     intern.ClassTypeNamed("ExitP"),
	})
	if thx != nil || res.Out.Int() != 1 {
		t.Errorf("instanceof: res=%+v err=%v", res, thx)
	}

	// spec law: instanceof true implies checkcast does not throw
	_, thx = machine.HandleExit(th, &ExitRequest{
		Kind:     ExitCheckCast,
		Receiver: obj,
		Type:     intern.ClassTypeNamed("ExitP"),
	})
	if thx != nil {
		t.Errorf("checkcast threw after instanceof true: %v", thx)
	}

	_, thx = machine.HandleExit(th, &ExitRequest{
		Kind:     ExitCheckCast,
		Receiver: obj,
		Type:     intern.ClassTypeNamed("java/lang/String"),
	})
	if thx == nil {
		t.Error("checkcast to unrelated type did not throw")
	} else if got := intern.GetString(thx.Obj.Class.Name); got != "java/lang/ClassCastException" {
		t.Errorf("error class: %s", got)
	}
}

func TestExitInvokeVirtualResolve(t *testing.T) {
	machine, th := newTestVM(t)
	ab := classgen.New("ExitVA", "java/lang/Object")
	ab.AddMethod(classfile.AccPublic, "m", "()I", 1, 1, []byte{0x04, 0xAC})
	rcA := define(t, machine, th, ab)
	bb := classgen.New("ExitVB", "ExitVA")
	bb.AddMethod(classfile.AccPublic, "m", "()I", 1, 1, []byte{0x05, 0xAC})
	rcB := define(t, machine, th, bb)

	shape := intern.MethodShape{Name: intern.AddString("m"), Desc: intern.AddString("()I")}
	num, _ := rcA.MethodNumberFor(shape)
	obj := machine.allocObject(rcB)

	res, thx := machine.HandleExit(th, &ExitRequest{
		Kind:         ExitInvokeVirtualResolve,
		Receiver:     obj,
		Shape:        shape,
		MethodNumber: num,
	})
	if thx != nil {
		t.Fatalf("exit: %v", thx)
	}
	if res.Callee == nil || res.Callee.Class != rcB {
		t.Fatalf("callee: %+v", res.Callee)
	}
	// the exit populated the lookup cache
	machine.caches.mu.RLock()
	_, cached := machine.caches.vcache[vcacheKey{recv: rcB, shape: shape}]
	machine.caches.mu.RUnlock()
	if !cached {
		t.Error("virtual lookup cache not populated by exit")
	}
}

func TestExitInitClassAndRecompile(t *testing.T) {
	machine, th := newTestVM(t)
	comp := &recordingCompiler{}
	machine.SetCompiler(comp)

	b := classgen.New("ExitInit", "java/lang/Object")
	state := b.Fieldref("ExitInit", "state", "I")
	b.AddField(classfile.AccPublic|classfile.AccStatic, "state", "I")
	b.AddMethod(classfile.AccStatic, "<clinit>", "()V", 1, 0, []byte{
		0x08, 0xB3, byte(state >> 8), byte(state), 0xB1, // state = 5
	})
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "work", "()V", 1, 0, []byte{0xB1})
	rc := define(t, machine, th, b)
	work := staticMethod(t, rc, "work", "()V")

	res, thx := machine.HandleExit(th, &ExitRequest{
		Kind:      ExitInitClassAndRecompile,
		Type:      rc.Kind,
		MethodID:  work.ID,
		RestartPC: 12,
	})
	if thx != nil {
		t.Fatalf("exit: %v", thx)
	}
	if res.Action != ActionRestart || res.RestartPC != 12 {
		t.Errorf("result: %+v", res)
	}
	if rc.Status() != StatusInitialized {
		t.Error("class not initialized by exit")
	}
	v, _ := rc.StaticValue(intern.AddString("state"))
	if v.Int() != 5 {
		t.Errorf("state: got %d, want 5", v.Int())
	}
	if len(comp.recompiled) != 1 || comp.recompiled[0] != work {
		t.Errorf("recompile requests: %+v", comp.recompiled)
	}
}

func TestExitGetPutStatic(t *testing.T) {
	machine, th := newTestVM(t)
	b := classgen.New("ExitStatics", "java/lang/Object")
	b.AddField(classfile.AccPublic|classfile.AccStatic, "counter", "J")
	rc := define(t, machine, th, b)

	fid := machine.Classes.FieldIDFor(rc, intern.AddString("counter"))

	_, thx := machine.HandleExit(th, &ExitRequest{
		Kind:    ExitPutStatic,
		FieldID: fid,
		Value:   LongValue(41),
	})
	if thx != nil {
		t.Fatalf("put: %v", thx)
	}
	res, thx := machine.HandleExit(th, &ExitRequest{Kind: ExitGetStatic, FieldID: fid})
	if thx != nil {
		t.Fatalf("get: %v", thx)
	}
	if res.Out.Long() != 41 {
		t.Errorf("static value: got %d, want 41", res.Out.Long())
	}
}

func TestExitTopLevelReturn(t *testing.T) {
	machine, th := newTestVM(t)
	res, thx := machine.HandleExit(th, &ExitRequest{
		Kind:  ExitTopLevelReturn,
		Value: IntValue(0),
	})
	if thx != nil {
		t.Fatalf("exit: %v", thx)
	}
	if res.Action != ActionExitVM {
		t.Errorf("action: got %d, want ActionExitVM", res.Action)
	}
}
