package verify

import (
	"testing"

	"github.com/javelin-vm/javelin/internal/classgen"
	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

func testContext() *Context {
	return &Context{
		Pool: intern.Pool(),
		GetClass: func(n intern.StringID) (*ccf.Class, error) {
			return nil, nil // unresolvable supertypes are tolerated
		},
	}
}

func compileClass(t *testing.T, b *classgen.Builder) *ccf.Class {
	t.Helper()
	cf, err := classfile.ParseBytes(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := ccf.Compress(cf)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return c
}

func methodOf(t *testing.T, c *ccf.Class, name string) *ccf.Method {
	t.Helper()
	for i := range c.Methods {
		if intern.GetString(c.Methods[i].Name) == name {
			return &c.Methods[i]
		}
	}
	t.Fatalf("method %s not found", name)
	return nil
}

func TestStraightLineCoverage(t *testing.T) {
	b := classgen.New("Line", "java/lang/Object")
	code := []byte{
		0x04,       // 0: iconst_1
		0x10, 0x07, // 1: bipush 7
		0x60, // 3: iadd
		0xAC, // 4: ireturn
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "add", "()I", 2, 0, code)
	c := compileClass(t, b)
	m := methodOf(t, c, "add")

	frames, err := testContext().VerifyMethod(c, m)
	if err != nil {
		t.Fatalf("VerifyMethod: %v", err)
	}

	// every instruction offset covered exactly once, in both forms
	wantOffsets := []uint16{0, 1, 3, 4}
	if got := frames.Offsets(); len(got) != len(wantOffsets) {
		t.Fatalf("offsets: got %v, want %v", got, wantOffsets)
	}
	for _, off := range wantOffsets {
		if _, ok := frames.NoTops[off]; !ok {
			t.Errorf("offset %d missing from NoTops", off)
		}
		if _, ok := frames.WithTops[off]; !ok {
			t.Errorf("offset %d missing from WithTops", off)
		}
	}

	// at offset 3 the stack holds two ints
	f := frames.NoTops[3]
	if len(f.Stack) != 2 || f.Stack[0].Kind != ccf.VInt || f.Stack[1].Kind != ccf.VInt {
		t.Errorf("frame at 3: stack %+v", f.Stack)
	}
}

func TestWithTopsPadsCategory2(t *testing.T) {
	b := classgen.New("Wide", "java/lang/Object")
	code := []byte{
		0x1E, // 0: lload_0
		0x09, // 1: lconst_0
		0x61, // 2: ladd
		0xAD, // 3: lreturn
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "(J)J", 4, 2, code)
	c := compileClass(t, b)
	frames, err := testContext().VerifyMethod(c, methodOf(t, c, "f"))
	if err != nil {
		t.Fatalf("VerifyMethod: %v", err)
	}

	noTops := frames.NoTops[2]
	withTops := frames.WithTops[2]
	if len(noTops.Stack) != 2 {
		t.Errorf("NoTops stack: %+v", noTops.Stack)
	}
	if len(withTops.Stack) != 4 {
		t.Errorf("WithTops stack should pad longs: %+v", withTops.Stack)
	}
	if withTops.Stack[1].Kind != ccf.VTop || withTops.Stack[3].Kind != ccf.VTop {
		t.Errorf("WithTops padding: %+v", withTops.Stack)
	}
	// locals: the long argument occupies slots 0 and 1 in the slot form
	if len(withTops.Locals) != 2 || withTops.Locals[0].Kind != ccf.VLong || withTops.Locals[1].Kind != ccf.VTop {
		t.Errorf("WithTops locals: %+v", withTops.Locals)
	}
	if len(noTops.Locals) != 1 || noTops.Locals[0].Kind != ccf.VLong {
		t.Errorf("NoTops locals: %+v", noTops.Locals)
	}
}

func TestBranchRequiresStackMapFrame(t *testing.T) {
	b := classgen.New("NoFrames", "java/lang/Object")
	code := []byte{
		0x03,             // 0: iconst_0
		0x99, 0x00, 0x04, // 1: ifeq -> 5
		0x00, // 4: nop
		0xB1, // 5: return
	}
	// major 61 without a StackMapTable: the branch target is uncovered
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "()V", 1, 0, code)
	c := compileClass(t, b)
	if _, err := testContext().VerifyMethod(c, methodOf(t, c, "f")); err == nil {
		t.Error("branch without stack map frame verified")
	}
}

func TestBranchWithStackMapFrame(t *testing.T) {
	b := classgen.New("Framed", "java/lang/Object")
	code := []byte{
		0x03,             // 0: iconst_0
		0x99, 0x00, 0x04, // 1: ifeq -> 5
		0x00, // 4: nop
		0xB1, // 5: return
	}
	// frames at offsets 4 (delta 4) and 5 (delta 0 after +1)
	sm := []byte{
		0, 2,
		4, // SameFrame at 4
		0, // SameFrame at 5
	}
	b.AddMethodWithFrames(classfile.AccPublic|classfile.AccStatic, "f", "()V", 1, 0, code, sm)
	c := compileClass(t, b)
	frames, err := testContext().VerifyMethod(c, methodOf(t, c, "f"))
	if err != nil {
		t.Fatalf("VerifyMethod: %v", err)
	}
	if frames.Inferred {
		t.Error("stack-map path reported inferred frames")
	}
	if len(frames.NoTops) != 4 {
		t.Errorf("coverage: got %d offsets, want 4", len(frames.NoTops))
	}
}

func TestJava5InferenceFallback(t *testing.T) {
	b := classgen.New("Old", "java/lang/Object")
	b.SetMajor(49) // pre-StackMapTable classfile
	code := []byte{
		0x1A,             // 0: iload_0
		0x99, 0x00, 0x05, // 1: ifeq -> 6
		0x04, // 4: iconst_1
		0xAC, // 5: ireturn
		0x03, // 6: iconst_0
		0xAC, // 7: ireturn
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "(I)I", 1, 1, code)
	c := compileClass(t, b)
	frames, err := testContext().VerifyMethod(c, methodOf(t, c, "f"))
	if err != nil {
		t.Fatalf("VerifyMethod: %v", err)
	}
	if !frames.Inferred {
		t.Error("pre-50.0 classfile did not take the inference path")
	}
	if len(frames.NoTops) != 6 {
		t.Errorf("coverage: got %d offsets, want 6", len(frames.NoTops))
	}
	// the branch target got the first-wins seeded frame
	f := frames.NoTops[6]
	if len(f.Stack) != 0 {
		t.Errorf("frame at 6: stack %+v", f.Stack)
	}
}

func TestFrameOffsetOvershootIsVerifyError(t *testing.T) {
	b := classgen.New("Overshoot", "java/lang/Object")
	code := []byte{0xB1} // return, length 1
	sm := []byte{
		0, 1,
		9, // SameFrame at offset 9: beyond code length
	}
	b.AddMethodWithFrames(classfile.AccPublic|classfile.AccStatic, "f", "()V", 1, 0, code, sm)
	c := compileClass(t, b)
	if _, err := testContext().VerifyMethod(c, methodOf(t, c, "f")); err == nil {
		t.Error("frame beyond code length verified")
	}
}

func TestTableswitchLowAboveHighIsVerifyError(t *testing.T) {
	b := classgen.New("BadSwitch", "java/lang/Object")
	b.SetMajor(49)
	code := []byte{
		0x03,             // 0: iconst_0
		0xAA, 0x00, 0x00, // 1: tableswitch, 2 pad bytes
		0, 0, 0, 15, // default -> 1+15 = 16
		0, 0, 0, 5, // low = 5
		0, 0, 0, 2, // high = 2 (< low)
		0xB1, // 16: return
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "()V", 1, 0, code)
	c := compileClass(t, b)
	if _, err := testContext().VerifyMethod(c, methodOf(t, c, "f")); err == nil {
		t.Error("tableswitch with low > high verified")
	}
}

func TestInitOnInitializedReceiverIsVerifyError(t *testing.T) {
	b := classgen.New("DoubleInit", "java/lang/Object")
	b.SetMajor(49)
	ctor := b.Methodref("java/lang/Object", "<init>", "()V")
	code := []byte{
		0x2A,                          // 0: aload_0 (already-initialized this)
		0xB7, byte(ctor >> 8), byte(ctor), // 1: invokespecial Object.<init>
		0xB1, // 4: return
	}
	// a plain method, so local 0 holds an initialized reference
	b.AddMethod(classfile.AccPublic, "notCtor", "()V", 1, 1, code)
	c := compileClass(t, b)
	if _, err := testContext().VerifyMethod(c, methodOf(t, c, "notCtor")); err == nil {
		t.Error("<init> on initialized receiver verified")
	}
}

func TestUninitializedThisFlow(t *testing.T) {
	b := classgen.New("Ctor", "java/lang/Object")
	ctor := b.Methodref("java/lang/Object", "<init>", "()V")
	code := []byte{
		0x2A,                          // 0: aload_0 (uninitializedThis)
		0xB7, byte(ctor >> 8), byte(ctor), // 1: invokespecial Object.<init>
		0xB1, // 4: return
	}
	b.AddMethod(classfile.AccPublic, "<init>", "()V", 1, 1, code)
	c := compileClass(t, b)
	frames, err := testContext().VerifyMethod(c, methodOf(t, c, "<init>"))
	if err != nil {
		t.Fatalf("VerifyMethod: %v", err)
	}
	// before the super call, local 0 is uninitializedThis
	if frames.NoTops[1].Locals[0].Kind != ccf.VUninitializedThis {
		t.Errorf("local 0 at offset 1: %+v", frames.NoTops[1].Locals[0])
	}
	// after it, local 0 is an initialized reference
	if frames.NoTops[4].Locals[0].Kind != ccf.VReference {
		t.Errorf("local 0 at offset 4: %+v", frames.NoTops[4].Locals[0])
	}
}

func TestStackOverflowIsVerifyError(t *testing.T) {
	b := classgen.New("TooDeep", "java/lang/Object")
	code := []byte{
		0x04, // iconst_1
		0x04, // iconst_1: exceeds max_stack 1
		0x57, // pop
		0x57, // pop
		0xB1,
	}
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "f", "()V", 1, 0, code)
	c := compileClass(t, b)
	if _, err := testContext().VerifyMethod(c, methodOf(t, c, "f")); err == nil {
		t.Error("operand stack overflow verified")
	}
}
