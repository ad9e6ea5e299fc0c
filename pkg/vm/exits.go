package vm

import (
	"fmt"

	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/trace"
)

// Compiler is the JIT driver behind the compile-related exits. The code
// generator itself is an external collaborator; the runtime only asks for
// compilation and recompilation.
type Compiler interface {
	Compile(m *Method) error
	Recompile(m *Method) error
}

// noCompiler is the default: every compile request succeeds vacuously and
// execution stays in the interpreter.
type noCompiler struct{}

func (noCompiler) Compile(m *Method) error   { return nil }
func (noCompiler) Recompile(m *Method) error { return nil }

// ExitKind enumerates the structured reentries from compiled code into the
// runtime.
type ExitKind int

const (
	ExitInitClassAndRecompile ExitKind = iota
	ExitAllocateObject
	ExitAllocateObjectArray
	ExitNewClass
	ExitNewString
	ExitGetStatic
	ExitPutStatic
	ExitInvokeVirtualResolve
	ExitInvokeInterfaceResolve
	ExitCheckCast
	ExitInstanceOf
	ExitMonitorEnter
	ExitMonitorExit
	ExitThrow
	ExitRunStaticNative
	ExitRunNativeSpecial
	ExitCompileFunctionAndRecompileCurrent
	ExitTopLevelReturn
	ExitTraceInstructionBefore
	ExitTraceInstructionAfter
)

// ExitAction tells compiled code how to continue after an exit.
type ExitAction int

const (
	// ActionResume continues at the instruction after the exit.
	ActionResume ExitAction = iota
	// ActionRestart re-executes from the recorded restart point,
	// typically after a recompile.
	ActionRestart
	// ActionHandler resumes in an exception handler found by unwinding.
	ActionHandler
	// ActionExitVM ends execution.
	ActionExitVM
)

// ExitRequest carries an exit's operands. Which fields are read depends on
// Kind; the comments in §4.7 of the design map each exit to its inputs.
type ExitRequest struct {
	Kind ExitKind

	Type         intern.CPDType // class operand
	MethodID     MethodID       // current or target method
	TargetID     MethodID       // compile target
	FieldID      FieldID
	RestartPC    int
	Receiver     *Object
	Value        Value // in-value for PutStatic, return value for TopLevelReturn
	Length       int32
	Shape        intern.MethodShape
	MethodNumber MethodNumber
	InterfaceID  int
	WTF8         intern.StringID // interned string payload for NewString
	Exception    *Object
	Args         []Value // argument window for native exits
	PC           int     // instruction address for trace exits
}

// ExitResult is the runtime's answer.
type ExitResult struct {
	Action    ExitAction
	Out       Value
	ObjectOut *Object
	// Callee is the resolved method address for the invoke-resolve exits.
	Callee    *Method
	RestartPC int
	// HandlerPC is set with ActionHandler.
	HandlerPC int
	ExitCode  int
}

// HandleExit services one VM exit. It is reentrant: the class loading,
// initialization and invocation it triggers run on the calling thread
// exactly as interpreter-driven ones do.
func (vm *VM) HandleExit(t *Thread, req *ExitRequest) (*ExitResult, *Throwable) {
	switch req.Kind {
	case ExitInitClassAndRecompile:
		rc, err := vm.loadType(t, BootstrapLoaderName, req.Type)
		if err != nil {
			return nil, vm.errorToThrowable(t, err)
		}
		if th := vm.EnsureInitialized(t, rc); th != nil {
			return nil, th
		}
		if m, ok := vm.Classes.MethodByID(req.MethodID); ok {
			if err := vm.compiler.Recompile(m); err != nil {
				return nil, vm.throw(t, "java/lang/InternalError", err.Error())
			}
		}
		return &ExitResult{Action: ActionRestart, RestartPC: req.RestartPC}, nil

	case ExitAllocateObject:
		rc, err := vm.loadType(t, BootstrapLoaderName, req.Type)
		if err != nil {
			return nil, vm.errorToThrowable(t, err)
		}
		obj, th := vm.Instantiate(t, rc)
		if th != nil {
			return nil, th
		}
		return &ExitResult{Action: ActionResume, ObjectOut: obj}, nil

	case ExitAllocateObjectArray:
		obj, th := vm.allocArray(t, req.Type, req.Length)
		if th != nil {
			return nil, th
		}
		return &ExitResult{Action: ActionResume, ObjectOut: obj}, nil

	case ExitNewClass:
		rc, err := vm.loadType(t, BootstrapLoaderName, req.Type)
		if err != nil {
			return nil, vm.errorToThrowable(t, err)
		}
		return &ExitResult{Action: ActionResume, ObjectOut: vm.MirrorFor(t, rc)}, nil

	case ExitNewString:
		return &ExitResult{
			Action:    ActionResume,
			ObjectOut: vm.InternString(t, intern.GetString(req.WTF8)),
		}, nil

	case ExitGetStatic:
		rc, name, ok := vm.Classes.FieldByID(req.FieldID)
		if !ok {
			return nil, vm.throw(t, "java/lang/NoSuchFieldError", fmt.Sprintf("field id %d", req.FieldID))
		}
		if th := vm.EnsureInitialized(t, rc); th != nil {
			return nil, th
		}
		v, ok := rc.StaticValue(name)
		if !ok {
			if typ, hasType := rc.StaticType(name); hasType {
				v = zeroValueFor(typ)
			}
		}
		return &ExitResult{Action: ActionResume, Out: v}, nil

	case ExitPutStatic:
		rc, name, ok := vm.Classes.FieldByID(req.FieldID)
		if !ok {
			return nil, vm.throw(t, "java/lang/NoSuchFieldError", fmt.Sprintf("field id %d", req.FieldID))
		}
		if th := vm.EnsureInitialized(t, rc); th != nil {
			return nil, th
		}
		rc.SetStaticValue(name, req.Value)
		return &ExitResult{Action: ActionResume}, nil

	case ExitInvokeVirtualResolve:
		if req.Receiver == nil {
			return nil, vm.throw(t, "java/lang/NullPointerException", "virtual dispatch on null")
		}
		recv := req.Receiver.Class
		var impl *Method
		if m, ok := recv.VTableEntry(req.MethodNumber); ok {
			impl = m
		} else {
			found := findInChain(recv, req.Shape)
			if found == nil {
				return nil, vm.throw(t, "java/lang/AbstractMethodError", intern.GetString(req.Shape.Name))
			}
			impl = found
		}
		vm.caches.mu.Lock()
		vm.caches.vcache[vcacheKey{recv: recv, shape: req.Shape}] = impl
		vm.caches.mu.Unlock()
		return &ExitResult{Action: ActionResume, Callee: impl}, nil

	case ExitInvokeInterfaceResolve:
		if req.Receiver == nil {
			return nil, vm.throw(t, "java/lang/NullPointerException", "interface dispatch on null")
		}
		iface := vm.interfaceByID(req.InterfaceID)
		if iface == nil {
			return nil, vm.throw(t, "java/lang/IncompatibleClassChangeError",
				fmt.Sprintf("interface id %d", req.InterfaceID))
		}
		impl, err := vm.lookupInterface(req.Receiver.Class, iface, req.MethodNumber)
		if err != nil || impl == nil {
			return nil, vm.throw(t, "java/lang/AbstractMethodError", "itable lookup failed")
		}
		return &ExitResult{Action: ActionResume, Callee: impl}, nil

	case ExitCheckCast:
		if req.Receiver != nil {
			ok, th := vm.isInstance(t, BootstrapLoaderName, req.Receiver, req.Type)
			if th != nil {
				return nil, th
			}
			if !ok {
				return nil, vm.throw(t, "java/lang/ClassCastException",
					req.Receiver.Type().JVMRepresentation()+" cannot be cast to "+req.Type.JVMRepresentation())
			}
		}
		return &ExitResult{Action: ActionResume}, nil

	case ExitInstanceOf:
		res := int32(0)
		if req.Receiver != nil {
			ok, th := vm.isInstance(t, BootstrapLoaderName, req.Receiver, req.Type)
			if th != nil {
				return nil, th
			}
			if ok {
				res = 1
			}
		}
		return &ExitResult{Action: ActionResume, Out: IntValue(res)}, nil

	case ExitMonitorEnter:
		if req.Receiver == nil {
			return nil, vm.throw(t, "java/lang/NullPointerException", "monitorenter")
		}
		vm.MonitorFor(req.Receiver).Enter(t)
		return &ExitResult{Action: ActionResume}, nil

	case ExitMonitorExit:
		if req.Receiver == nil {
			return nil, vm.throw(t, "java/lang/NullPointerException", "monitorexit")
		}
		if !vm.MonitorFor(req.Receiver).Exit(t) {
			return nil, vm.throw(t, "java/lang/IllegalMonitorStateException", "")
		}
		return &ExitResult{Action: ActionResume}, nil

	case ExitThrow:
		th := &Throwable{Obj: req.Exception, Trace: t.captureTrace()}
		// unwinding happens in the frame loops above compiled code; the
		// exit reports the throwable for them to dispatch
		return nil, th

	case ExitRunStaticNative, ExitRunNativeSpecial:
		m, ok := vm.Classes.MethodByID(req.MethodID)
		if !ok {
			return nil, vm.throw(t, "java/lang/NoSuchMethodError", fmt.Sprintf("method id %d", req.MethodID))
		}
		out, th := vm.callNative(t, m, req.Args)
		if th != nil {
			return nil, th
		}
		return &ExitResult{Action: ActionResume, Out: out}, nil

	case ExitCompileFunctionAndRecompileCurrent:
		if m, ok := vm.Classes.MethodByID(req.TargetID); ok {
			if err := vm.compiler.Compile(m); err != nil {
				return nil, vm.throw(t, "java/lang/InternalError", err.Error())
			}
		}
		if m, ok := vm.Classes.MethodByID(req.MethodID); ok {
			if err := vm.compiler.Recompile(m); err != nil {
				return nil, vm.throw(t, "java/lang/InternalError", err.Error())
			}
		}
		return &ExitResult{Action: ActionRestart, RestartPC: req.RestartPC}, nil

	case ExitTopLevelReturn:
		return &ExitResult{Action: ActionExitVM, Out: req.Value}, nil

	case ExitTraceInstructionBefore:
		trace.Inst(fmt.Sprintf("before pc=%d method=%d", req.PC, req.MethodID))
		return &ExitResult{Action: ActionResume}, nil
	case ExitTraceInstructionAfter:
		trace.Inst(fmt.Sprintf("after pc=%d method=%d", req.PC, req.MethodID))
		return &ExitResult{Action: ActionResume}, nil

	default:
		return nil, vm.throw(t, "java/lang/InternalError", fmt.Sprintf("unknown exit kind %d", req.Kind))
	}
}

// interfaceByID finds a loaded interface by its process-wide ID.
func (vm *VM) interfaceByID(id int) *RuntimeClass {
	vm.Classes.mu.RLock()
	defer vm.Classes.mu.RUnlock()
	for _, byType := range vm.Classes.loadedByType {
		for _, rc := range byType {
			if rc.InterfaceID == id {
				return rc
			}
		}
	}
	return nil
}
