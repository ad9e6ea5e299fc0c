package vm

import (
	"fmt"
	"sync"

	"github.com/javelin-vm/javelin/pkg/intern"
)

// NativeFunc is a Go implementation of a Java native method. For instance
// methods args[0] is the receiver. A non-nil Throwable propagates exactly
// like a Java throw at the call site.
type NativeFunc func(t *Thread, args []Value) (Value, *Throwable)

// nativeRegistry binds ACC_NATIVE methods to Go functions. Two binding
// paths exist, mirroring the JNI model: explicit registration
// (RegisterNatives) which always wins, and symbol lookup by mangled name
// for functions exported from loaded "libraries". Re-registration is
// last-writer-wins; unregistering restores symbol lookup.
type nativeRegistry struct {
	mu       sync.RWMutex
	explicit map[string]NativeFunc // "class.name:desc"
	symbols  map[string]NativeFunc // mangled symbol name

	// mangler produces the short and long JNI symbol names; installed by
	// the native package.
	mangler func(class, name, desc string) (short, long string)
}

func newNativeRegistry() *nativeRegistry {
	return &nativeRegistry{
		explicit: make(map[string]NativeFunc),
		symbols:  make(map[string]NativeFunc),
	}
}

func nativeKey(class, name, desc string) string {
	return class + "." + name + ":" + desc
}

// RegisterNative explicitly binds one native method.
func (vm *VM) RegisterNative(class, name, desc string, fn NativeFunc) {
	vm.natives.mu.Lock()
	defer vm.natives.mu.Unlock()
	vm.natives.explicit[nativeKey(class, name, desc)] = fn
}

// UnregisterNatives drops every explicit binding of a class, restoring
// mangled-symbol lookup for its methods.
func (vm *VM) UnregisterNatives(class string) {
	vm.natives.mu.Lock()
	defer vm.natives.mu.Unlock()
	prefix := class + "."
	for k := range vm.natives.explicit {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(vm.natives.explicit, k)
		}
	}
}

// RegisterSymbol exports a function under a mangled JNI name, as a loaded
// library would.
func (vm *VM) RegisterSymbol(symbol string, fn NativeFunc) {
	vm.natives.mu.Lock()
	defer vm.natives.mu.Unlock()
	vm.natives.symbols[symbol] = fn
}

// SetMangler installs the JNI name mangling used for symbol lookup.
func (vm *VM) SetMangler(fn func(class, name, desc string) (short, long string)) {
	vm.natives.mu.Lock()
	defer vm.natives.mu.Unlock()
	vm.natives.mangler = fn
}

// resolveNative finds the implementation of a native method. Explicit
// bindings are looked up on every call; a symbol-lookup result is cached on
// the method. Returns nil when unbound (UnsatisfiedLinkError at the call
// site).
func (vm *VM) resolveNative(m *Method) NativeFunc {
	class := intern.GetString(m.Class.Name)
	name := intern.GetString(m.M.Name)
	desc := intern.GetString(m.M.DescID)

	vm.natives.mu.RLock()
	fn := vm.natives.explicit[nativeKey(class, name, desc)]
	if fn == nil {
		fn = m.native
	}
	if fn != nil {
		vm.natives.mu.RUnlock()
		return fn
	}
	if vm.natives.mangler != nil {
		short, long := vm.natives.mangler(class, name, desc)
		fn = vm.natives.symbols[long]
		if fn == nil {
			fn = vm.natives.symbols[short]
		}
	}
	vm.natives.mu.RUnlock()

	if fn != nil {
		vm.natives.mu.Lock()
		m.native = fn
		vm.natives.mu.Unlock()
	}
	return fn
}

// callNative invokes a resolved native method.
func (vm *VM) callNative(t *Thread, m *Method, args []Value) (Value, *Throwable) {
	fn := vm.resolveNative(m)
	if fn == nil {
		return Value{}, vm.throw(t, "java/lang/UnsatisfiedLinkError",
			fmt.Sprintf("%s.%s%s", intern.GetString(m.Class.Name),
				intern.GetString(m.M.Name), intern.GetString(m.M.DescID)))
	}
	return fn(t, args)
}
