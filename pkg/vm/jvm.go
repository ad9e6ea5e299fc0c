package vm

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/trace"
)

// Options configures a VM instance.
type Options struct {
	Classpath             string
	LibJava               string
	UnitTestMode          bool
	Tracing               bool
	JVMTI                 bool
	StoreGeneratedClasses bool
}

// VM is the virtual machine: the process-wide registries plus the loaders
// and the native binding table. All state behind it is safe for concurrent
// threads.
type VM struct {
	Classes   *Classes
	Bootstrap ClassLoader
	Options   Options
	Stdout    io.Writer

	natives  *nativeRegistry
	monitors *monitorMap
	caches   *dispatchCaches

	// builtin holds the VM-synthesized core classes, consulted before the
	// classpath so a minimal runtime exists without a JDK image.
	builtin map[string]*builtinClass

	// views caches compressed class views for the verifier's supertype
	// queries.
	viewsMu sync.Mutex
	views   map[string]*ccf.Class

	// internedStrings gives String.intern its identity guarantee.
	stringMu        sync.Mutex
	internedStrings map[string]*Object

	// callSites caches linked invokedynamic sites per (class, offset).
	callSitesMu sync.Mutex
	callSites   map[callSiteKey]*callSite

	// compiler is the stub JIT driver behind the compile-related exits.
	compiler Compiler
}

// NewVM creates a VM. The classpath may be empty (builtin classes only).
func NewVM(opts Options) (*VM, error) {
	bl, err := NewBootstrapLoader(opts.Classpath)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		Classes:         newClasses(),
		Bootstrap:       bl,
		Options:         opts,
		Stdout:          os.Stdout,
		natives:         newNativeRegistry(),
		monitors:        newMonitorMap(),
		caches:          newDispatchCaches(),
		internedStrings: make(map[string]*Object),
		callSites:       make(map[callSiteKey]*callSite),
		compiler:        noCompiler{},
	}
	if opts.Tracing {
		trace.EnableInstTracing()
	}
	vm.installBuiltinClasses()
	vm.installBuiltinNatives()
	return vm, nil
}

// SetCompiler installs the compile-exit backend.
func (vm *VM) SetCompiler(c Compiler) { vm.compiler = c }

// MonitorFor returns the lazily created monitor of an object.
func (vm *VM) MonitorFor(o *Object) *Monitor { return vm.monitors.For(o) }

// allocObject allocates a zeroed instance of rc: one Value cell per
// recursive field number, typed defaults per descriptor.
func (vm *VM) allocObject(rc *RuntimeClass) *Object {
	o := &Object{
		Class:  rc,
		Fields: make([]Value, rc.RecursiveFieldCount),
	}
	for _, slot := range rc.fieldSlots {
		o.Fields[slot.Number] = zeroValueFor(slot.Desc)
	}
	return o
}

// Instantiate allocates an instance after the instantiability checks
// (`new` of an abstract class or interface is an InstantiationError).
func (vm *VM) Instantiate(t *Thread, rc *RuntimeClass) (*Object, *Throwable) {
	if rc.Class != nil && (rc.Class.IsAbstract() || rc.Class.IsInterface()) {
		return nil, vm.throw(t, "java/lang/InstantiationError", intern.GetString(rc.Name))
	}
	return vm.allocObject(rc), nil
}

// allocArray allocates a zeroed array object.
func (vm *VM) allocArray(t *Thread, elem intern.CPDType, length int32) (*Object, *Throwable) {
	if length < 0 {
		return nil, vm.throw(t, "java/lang/NegativeArraySizeException", fmt.Sprintf("%d", length))
	}
	arrType := intern.ArrayOf(elem)
	rc, err := vm.loadType(t, BootstrapLoaderName, arrType)
	if err != nil {
		return nil, vm.errorToThrowable(t, err)
	}
	cells := make([]Value, length)
	zero := zeroValueFor(elem)
	for i := range cells {
		cells[i] = zero
	}
	return &Object{Class: rc, Arr: &Array{Elem: elem, Cells: cells}}, nil
}

// InternString returns the canonical String object for a Go string,
// allocating it on first use.
func (vm *VM) InternString(t *Thread, s string) *Object {
	vm.stringMu.Lock()
	defer vm.stringMu.Unlock()
	if o, ok := vm.internedStrings[s]; ok {
		return o
	}
	o := vm.newStringNoIntern(t, s)
	vm.internedStrings[s] = o
	return o
}

// newStringNoIntern allocates a fresh java/lang/String.
func (vm *VM) newStringNoIntern(t *Thread, s string) *Object {
	rc, err := vm.loadByName(t, BootstrapLoaderName, "java/lang/String")
	if err != nil {
		rc = vm.syntheticThrowableClass("java/lang/String")
	}
	o := vm.allocObject(rc)
	o.Native = s
	return o
}

// MirrorFor returns the java.lang.Class mirror of a class, creating and
// registering it in the bijection pool on first use.
func (vm *VM) MirrorFor(t *Thread, rc *RuntimeClass) *Object {
	if o, ok := vm.Classes.mirror(rc); ok {
		return o
	}
	classRC, err := vm.loadByName(t, BootstrapLoaderName, "java/lang/Class")
	if err != nil {
		classRC = vm.syntheticThrowableClass("java/lang/Class")
	}
	o := vm.allocObject(classRC)
	o.Native = rc.Kind
	o.Hidden = make([]Value, hiddenMirrorCount)
	isArray := int32(0)
	if rc.Kind.Kind == intern.KindArray {
		isArray = 1
	}
	isPrim := int32(0)
	if !rc.Kind.IsReference() {
		isPrim = 1
	}
	o.Hidden[HiddenMirrorIsArray] = IntValue(isArray)
	o.Hidden[HiddenMirrorIsPrimitive] = IntValue(isPrim)
	return vm.Classes.setMirror(rc, o)
}

// errorToThrowable maps loader pipeline errors onto the Java error
// taxonomy.
func (vm *VM) errorToThrowable(t *Thread, err error) *Throwable {
	if th, ok := err.(*Throwable); ok {
		return th
	}
	return vm.throw(t, loadErrorClassName(err), err.Error())
}

// Run loads the main class, runs its public static void main(String[]),
// and returns the process exit code. An uncaught throwable prints its
// stored trace to stderr and exits nonzero.
func (vm *VM) Run(mainClass string, args []string) int {
	t := vm.NewThread()

	rc, err := vm.loadByName(t, BootstrapLoaderName, mainClass)
	if err != nil {
		trace.Error(fmt.Sprintf("could not load main class %s: %v", mainClass, err))
		return 1
	}

	if vm.Options.UnitTestMode {
		return vm.runUnitTests(t, rc)
	}

	mainShape := intern.MethodShape{
		Name: intern.MainName,
		Desc: intern.AddString("([Ljava/lang/String;)V"),
	}
	main := rc.FindLocalMethod(mainShape)
	if main == nil || !main.M.IsStatic() {
		trace.Error(fmt.Sprintf("main method not found in class %s", mainClass))
		return 1
	}

	argArr, th := vm.allocArray(t, intern.ClassType(intern.JavaLangString), int32(len(args)))
	if th != nil {
		trace.Error(th.Error())
		return 1
	}
	for i, a := range args {
		argArr.Arr.Cells[i] = RefValue(vm.InternString(t, a))
	}

	if th := vm.EnsureInitialized(t, rc); th != nil {
		fmt.Fprintln(os.Stderr, th.FormatTrace())
		return 1
	}

	_, th = vm.InvokeMethod(t, main, []Value{RefValue(argArr)})
	if th != nil {
		// uncaught: the thread dies printing the stored stack trace
		fmt.Fprintln(os.Stderr, "Exception in thread \"main\" "+th.FormatTrace())
		return 1
	}
	return 0
}

// runUnitTests runs every public static void test*() method, in
// declaration order, reporting failures by name.
func (vm *VM) runUnitTests(t *Thread, rc *RuntimeClass) int {
	if th := vm.EnsureInitialized(t, rc); th != nil {
		fmt.Fprintln(os.Stderr, th.FormatTrace())
		return 1
	}
	failed := 0
	for _, m := range rc.Methods {
		name := intern.GetString(m.M.Name)
		if !m.M.IsStatic() || m.M.AccessFlags&0x0001 == 0 || len(name) < 4 || name[:4] != "test" {
			continue
		}
		if intern.GetString(m.M.DescID) != "()V" {
			continue
		}
		if _, th := vm.InvokeMethod(t, m, nil); th != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %s\n", name, th.Error())
		} else {
			fmt.Fprintf(vm.Stdout, "PASS %s\n", name)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}
