package vm

import (
	"sync"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// dispatchCaches hold the invoke-virtual and invoke-interface lookup
// caches. Entries are only ever invalidated by class loading, which cannot
// change an existing class's vtable, so updates are idempotent.
type dispatchCaches struct {
	mu     sync.RWMutex
	vcache map[vcacheKey]*Method
	icache map[icacheKey]*Method
}

type vcacheKey struct {
	recv  *RuntimeClass
	shape intern.MethodShape
}

type icacheKey struct {
	recv    *RuntimeClass
	ifaceID int
	num     MethodNumber
}

func newDispatchCaches() *dispatchCaches {
	return &dispatchCaches{
		vcache: make(map[vcacheKey]*Method),
		icache: make(map[icacheKey]*Method),
	}
}

// resolveMethodRef performs static resolution of a method reference: walk
// the superclass chain of the named class, then its superinterfaces.
// Array targets resolve against the synthesized array class, whose parent
// is java/lang/Object.
func (vm *VM) resolveMethodRef(t *Thread, loader LoaderName, ref *ccf.MethodRef) (*Method, error) {
	rc, err := vm.loadType(t, loader, ref.TargetClass)
	if err != nil {
		return nil, err
	}
	shape := ref.Shape()

	if m := findInChain(rc, shape); m != nil {
		return m, nil
	}
	if m := findInInterfaces(rc, shape, make(map[*RuntimeClass]bool)); m != nil {
		return m, nil
	}
	return nil, &methodNotFoundError{class: rc.Name, shape: shape}
}

type methodNotFoundError struct {
	class intern.StringID
	shape intern.MethodShape
}

func (e *methodNotFoundError) Error() string {
	return "method " + intern.GetString(e.class) + "." +
		intern.GetString(e.shape.Name) + intern.GetString(e.shape.Desc) + " not found"
}

func findInChain(rc *RuntimeClass, shape intern.MethodShape) *Method {
	for c := rc; c != nil; c = c.Parent {
		if m := c.FindLocalMethod(shape); m != nil {
			return m
		}
	}
	return nil
}

func findInInterfaces(rc *RuntimeClass, shape intern.MethodShape, seen map[*RuntimeClass]bool) *Method {
	for c := rc; c != nil; c = c.Parent {
		for _, iface := range c.Interfaces {
			if m := findInterfaceMethod(iface, shape, seen); m != nil {
				return m
			}
		}
	}
	return nil
}

func findInterfaceMethod(iface *RuntimeClass, shape intern.MethodShape, seen map[*RuntimeClass]bool) *Method {
	if seen[iface] {
		return nil
	}
	seen[iface] = true
	if m := iface.FindLocalMethod(shape); m != nil {
		return m
	}
	for _, super := range iface.Interfaces {
		if m := findInterfaceMethod(super, shape, seen); m != nil {
			return m
		}
	}
	return nil
}

// lookupVirtual selects the receiver's implementation for a resolved
// method: a vtable load at the resolved MethodNumber when available,
// otherwise a cached chain walk.
func (vm *VM) lookupVirtual(recv *RuntimeClass, resolved *Method) (*Method, error) {
	if resolved.Number >= 0 {
		if m, ok := recv.VTableEntry(resolved.Number); ok {
			return m, nil
		}
	}
	shape := resolved.Shape()
	key := vcacheKey{recv: recv, shape: shape}

	vm.caches.mu.RLock()
	m, ok := vm.caches.vcache[key]
	vm.caches.mu.RUnlock()
	if ok {
		return m, nil
	}

	m = findInChain(recv, shape)
	if m == nil {
		m = findInInterfaces(recv, shape, make(map[*RuntimeClass]bool))
	}
	if m == nil {
		return nil, &methodNotFoundError{class: recv.Name, shape: shape}
	}
	vm.caches.mu.Lock()
	vm.caches.vcache[key] = m
	vm.caches.mu.Unlock()
	return m, nil
}

// lookupInterface selects the implementation of an interface method via
// the (class, interface) itable, building it lazily on first use.
func (vm *VM) lookupInterface(recv *RuntimeClass, iface *RuntimeClass, num MethodNumber) (*Method, error) {
	key := icacheKey{recv: recv, ifaceID: iface.InterfaceID, num: num}
	vm.caches.mu.RLock()
	m, ok := vm.caches.icache[key]
	vm.caches.mu.RUnlock()
	if ok {
		return m, nil
	}

	table, err := vm.itableFor(recv, iface)
	if err != nil {
		return nil, err
	}
	if int(num) >= len(table) || table[num] == nil {
		return nil, &methodNotFoundError{class: recv.Name, shape: intern.MethodShape{}}
	}
	m = table[num]

	vm.caches.mu.Lock()
	vm.caches.icache[key] = m
	vm.caches.mu.Unlock()
	return m, nil
}

// itableFor returns the itable of (recv, iface): for every interface
// method number, the implementation the receiver class provides. Tables
// are cached on the receiver class.
func (vm *VM) itableFor(recv *RuntimeClass, iface *RuntimeClass) ([]*Method, error) {
	recv.itableMu.Lock()
	defer recv.itableMu.Unlock()
	if recv.itables == nil {
		recv.itables = make(map[int][]*Method)
	}
	if table, ok := recv.itables[iface.InterfaceID]; ok {
		return table, nil
	}

	table := make([]*Method, iface.VTableLen())
	for num := 0; num < iface.VTableLen(); num++ {
		decl, ok := iface.VTableEntry(MethodNumber(num))
		if !ok {
			continue
		}
		shape := decl.Shape()
		impl := findInChain(recv, shape)
		if impl == nil || impl.M.IsAbstract() {
			// fall back to a default method
			if d := findInInterfaces(recv, shape, make(map[*RuntimeClass]bool)); d != nil && !d.M.IsAbstract() {
				impl = d
			}
		}
		table[num] = impl
	}
	recv.itables[iface.InterfaceID] = table
	return table, nil
}
