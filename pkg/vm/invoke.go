package vm

import (
	"fmt"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/trace"
)

// InvokeMethod runs a method with the given argument cells (receiver first
// for instance methods, wides occupying one Value each). It handles
// native dispatch, synchronized brackets and frame accounting.
func (vm *VM) InvokeMethod(t *Thread, m *Method, args []Value) (Value, *Throwable) {
	if m.M.IsAbstract() {
		return Value{}, vm.throw(t, "java/lang/AbstractMethodError",
			intern.GetString(m.Class.Name)+"."+intern.GetString(m.M.Name))
	}

	var mon *Monitor
	if m.M.IsSynchronized() {
		var lockObj *Object
		if m.M.IsStatic() {
			lockObj = vm.MirrorFor(t, m.Class)
		} else if len(args) > 0 && args[0].Ref != nil {
			lockObj = args[0].Ref
		}
		if lockObj != nil {
			mon = vm.MonitorFor(lockObj)
			mon.Enter(t)
			defer mon.Exit(t)
		}
	}

	if m.M.IsNative() {
		return vm.callNative(t, m, args)
	}
	if m.M.Code == nil {
		return Value{}, vm.throw(t, "java/lang/AbstractMethodError",
			intern.GetString(m.Class.Name)+"."+intern.GetString(m.M.Name)+" has no code")
	}

	frame := NewFrame(m)
	slot := 0
	for _, a := range args {
		frame.SetLocal(slot, a)
		slot++
		if a.IsWide() {
			slot++ // category-2 arguments take two local slots
		}
	}

	if th := t.pushFrame(frame); th != nil {
		return Value{}, th
	}
	defer t.popFrame()

	return vm.runFrame(t, frame)
}

// popArgs pops an invocation's arguments off the caller's operand stack in
// reverse order, receiver first in the result when hasReceiver.
func popArgs(f *Frame, desc intern.MethodDescriptor, hasReceiver bool) []Value {
	n := len(desc.Args)
	total := n
	if hasReceiver {
		total++
	}
	args := make([]Value, total)
	for i := n - 1; i >= 0; i-- {
		idx := i
		if hasReceiver {
			idx++
		}
		args[idx] = f.Pop()
	}
	if hasReceiver {
		args[0] = f.Pop()
	}
	return args
}

func (vm *VM) pushReturn(f *Frame, desc intern.MethodDescriptor, v Value) {
	if desc.Ret != intern.VoidType {
		f.Push(v)
	}
}

// invokeStatic implements invokestatic: resolve, initialize the declaring
// class, call directly.
func (vm *VM) invokeStatic(t *Thread, f *Frame, in *ccf.Instruction) *Throwable {
	m, err := vm.resolveMethodRef(t, f.Class.Loader, in.Method)
	if err != nil {
		return vm.linkageError(t, err)
	}
	if th := vm.EnsureInitialized(t, m.Class); th != nil {
		return th
	}
	args := popArgs(f, in.Method.Desc, false)
	ret, th := vm.InvokeMethod(t, m, args)
	if th != nil {
		return th
	}
	vm.pushReturn(f, in.Method.Desc, ret)
	return nil
}

// invokeSpecial implements invokespecial: <init>, private and super
// calls. With ACC_SUPER set on the current class, a superclass method
// reference re-resolves from the direct superclass.
func (vm *VM) invokeSpecial(t *Thread, f *Frame, in *ccf.Instruction) *Throwable {
	m, err := vm.resolveMethodRef(t, f.Class.Loader, in.Method)
	if err != nil {
		return vm.linkageError(t, err)
	}

	if in.Method.Name != intern.InitName &&
		f.Class.Class != nil && f.Class.Class.AccessFlags&0x0020 != 0 && // ACC_SUPER
		m.Class != f.Class && f.Class.IsSubclassOf(m.Class) && !m.Class.IsInterface() {
		if f.Class.Parent != nil {
			if sm := findInChain(f.Class.Parent, in.Method.Shape()); sm != nil {
				m = sm
			}
		}
	}

	args := popArgs(f, in.Method.Desc, true)
	if args[0].IsNull() {
		return vm.throw(t, "java/lang/NullPointerException",
			"invokespecial on null receiver")
	}
	ret, th := vm.InvokeMethod(t, m, args)
	if th != nil {
		return th
	}
	vm.pushReturn(f, in.Method.Desc, ret)
	return nil
}

// invokeVirtual implements invokevirtual: nominal resolution, then a
// vtable lookup on the receiver's actual class.
func (vm *VM) invokeVirtual(t *Thread, f *Frame, in *ccf.Instruction) *Throwable {
	resolved, err := vm.resolveMethodRef(t, f.Class.Loader, in.Method)
	if err != nil {
		return vm.linkageError(t, err)
	}
	args := popArgs(f, in.Method.Desc, true)
	if args[0].IsNull() {
		return vm.throw(t, "java/lang/NullPointerException",
			"invokevirtual on null receiver")
	}
	impl, err := vm.lookupVirtual(args[0].Ref.Class, resolved)
	if err != nil {
		return vm.linkageError(t, err)
	}
	ret, th := vm.InvokeMethod(t, impl, args)
	if th != nil {
		return th
	}
	vm.pushReturn(f, in.Method.Desc, ret)
	return nil
}

// invokeInterface implements invokeinterface via the receiver's itable
// keyed by (InterfaceID, MethodNumber).
func (vm *VM) invokeInterface(t *Thread, f *Frame, in *ccf.Instruction) *Throwable {
	resolved, err := vm.resolveMethodRef(t, f.Class.Loader, in.Method)
	if err != nil {
		return vm.linkageError(t, err)
	}
	iface := resolved.Class
	if !iface.IsInterface() {
		return vm.throw(t, "java/lang/IncompatibleClassChangeError",
			intern.GetString(iface.Name)+" is not an interface")
	}
	args := popArgs(f, in.Method.Desc, true)
	if args[0].IsNull() {
		return vm.throw(t, "java/lang/NullPointerException",
			"invokeinterface on null receiver")
	}
	recv := args[0].Ref.Class
	impl, err := vm.lookupInterface(recv, iface, resolved.Number)
	if err != nil || impl == nil {
		return vm.throw(t, "java/lang/AbstractMethodError",
			intern.GetString(recv.Name)+"."+intern.GetString(in.Method.Name))
	}
	ret, th := vm.InvokeMethod(t, impl, args)
	if th != nil {
		return th
	}
	vm.pushReturn(f, in.Method.Desc, ret)
	return nil
}

// callSite is a linked invokedynamic site.
type callSite struct {
	target *Method
	bound  []Value // values bound by the bootstrap (captured args)
}

type callSiteKey struct {
	class  *RuntimeClass
	offset uint16
}

// invokeDynamic implements invokedynamic: the bootstrap method runs once
// per call site; the resulting CallSite target is cached and reused.
func (vm *VM) invokeDynamic(t *Thread, f *Frame, in *ccf.Instruction) *Throwable {
	key := callSiteKey{class: f.Class, offset: in.Offset}

	vm.callSitesMu.Lock()
	site, ok := vm.callSites[key]
	vm.callSitesMu.Unlock()

	if !ok {
		var th *Throwable
		site, th = vm.linkCallSite(t, f, in)
		if th != nil {
			return th
		}
		vm.callSitesMu.Lock()
		if existing, raced := vm.callSites[key]; raced {
			site = existing // first linker wins
		} else {
			vm.callSites[key] = site
		}
		vm.callSitesMu.Unlock()
	}

	args := popArgs(f, in.Indy.Desc, false)
	full := make([]Value, 0, len(site.bound)+len(args))
	full = append(full, site.bound...)
	full = append(full, args...)
	ret, th := vm.InvokeMethod(t, site.target, full)
	if th != nil {
		return th
	}
	vm.pushReturn(f, in.Indy.Desc, ret)
	return nil
}

// linkCallSite runs the bootstrap method. The built-in linkage recognizes
// LambdaMetafactory (metafactory and altMetafactory) and links the site to
// the implementation method; the values popped by the factory descriptor
// are passed to it as leading arguments. Every other bootstrap, including
// StringConcatFactory, takes the generic path below.
func (vm *VM) linkCallSite(t *Thread, f *Frame, in *ccf.Instruction) (*callSite, *Throwable) {
	bsms := f.Class.Class.BootstrapMethods
	if int(in.Indy.BootstrapIndex) >= len(bsms) {
		return nil, vm.throw(t, "java/lang/LinkageError",
			fmt.Sprintf("bootstrap index %d out of range", in.Indy.BootstrapIndex))
	}
	bsm := bsms[in.Indy.BootstrapIndex]
	handle := bsm.Handle
	if handle.HandleRef == nil {
		return nil, vm.throw(t, "java/lang/LinkageError", "bootstrap handle is not a method")
	}

	bsmClass := handle.HandleRef.TargetClass
	bsmName := intern.GetString(handle.HandleRef.Name)
	className := ""
	if bsmClass.Kind == intern.KindClass {
		className = intern.GetString(bsmClass.Name)
	}

	switch className + "." + bsmName {
	case "java/lang/invoke/LambdaMetafactory.metafactory",
		"java/lang/invoke/LambdaMetafactory.altMetafactory":
		// args[1] is the implementation method handle
		if len(bsm.Args) < 2 || bsm.Args[1].Kind != ccf.ConstMethodHandle || bsm.Args[1].HandleRef == nil {
			return nil, vm.throw(t, "java/lang/LinkageError", "malformed metafactory arguments")
		}
		impl := bsm.Args[1].HandleRef
		m, err := vm.resolveMethodRef(t, f.Class.Loader, impl)
		if err != nil {
			return nil, vm.linkageError(t, err)
		}
		return &callSite{target: m}, nil

	default:
		// Generic path: treat the bootstrap target itself as the call
		// site target. This covers condy-free custom bootstraps that
		// return a constant call site wrapping themselves.
		m, err := vm.resolveMethodRef(t, f.Class.Loader, handle.HandleRef)
		if err != nil {
			return nil, vm.linkageError(t, err)
		}
		trace.Trace("invokedynamic linked via generic bootstrap " + bsmName)
		return &callSite{target: m}, nil
	}
}

// linkageError maps resolution failures onto the error taxonomy, at the
// opcode that resolved the reference.
func (vm *VM) linkageError(t *Thread, err error) *Throwable {
	if th, ok := err.(*Throwable); ok {
		return th
	}
	if _, ok := err.(*methodNotFoundError); ok {
		return vm.throw(t, "java/lang/NoSuchMethodError", err.Error())
	}
	return vm.throw(t, loadErrorClassName(err), err.Error())
}
