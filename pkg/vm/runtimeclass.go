package vm

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/verify"
)

// ClassStatus is the load/initialization state of a RuntimeClass. It only
// moves forward: Unprepared < Prepared < Initializing < Initialized.
type ClassStatus int32

const (
	StatusUnprepared ClassStatus = iota
	StatusPrepared
	StatusInitializing
	StatusInitialized
)

// MethodNumber is a stable per-class vtable index, parent-first monotone.
type MethodNumber int

// FieldSlot describes one instance field in the flat recursive numbering.
type FieldSlot struct {
	Number      int
	Desc        intern.CPDType
	AccessFlags uint16
}

// Method is a method bound to its declaring class.
type Method struct {
	Class *RuntimeClass
	Index int // into Class.Class.Methods
	M     *ccf.Method
	ID    MethodID
	// Number is the vtable slot; -1 for methods that never dispatch
	// virtually (<init>, <clinit>, statics, privates).
	Number MethodNumber
	// native is the bound Go implementation for ACC_NATIVE methods,
	// guarded by the owning VM's native registry lock.
	native NativeFunc
}

// Shape returns the method's overriding identity.
func (m *Method) Shape() intern.MethodShape { return m.M.Shape() }

// RuntimeClass is the per-loaded-class aggregate: class view, status,
// hierarchy links, field/method numbering, and the static variable table.
type RuntimeClass struct {
	Class  *ccf.Class // nil for synthesized array/primitive classes
	Name   intern.StringID
	Kind   intern.CPDType // the type this class represents
	Loader LoaderName

	Parent     *RuntimeClass
	Interfaces []*RuntimeClass

	Methods []*Method

	fieldSlots          map[intern.StringID]FieldSlot
	RecursiveFieldCount int

	methodNumbers map[intern.MethodShape]MethodNumber
	vtable        []*Method

	// InterfaceID is the process-wide itable key for interfaces; -1
	// otherwise.
	InterfaceID int

	itableMu sync.Mutex
	itables  map[int][]*Method // InterfaceID -> methods by interface MethodNumber

	staticMu    sync.RWMutex
	statics     map[intern.StringID]Value
	staticTypes map[intern.StringID]intern.CPDType

	status     int32 // atomic ClassStatus
	erroneous  atomic.Bool
	initMu     sync.Mutex
	initCond   *sync.Cond
	initThread int64 // thread running <clinit>; 0 = none

	// Frames is the verifier output, keyed by method index.
	Frames map[int]*verify.MethodFrames
}

// Status returns the current class status.
func (rc *RuntimeClass) Status() ClassStatus {
	return ClassStatus(atomic.LoadInt32(&rc.status))
}

// setStatus advances the status. A request that would move the status
// backwards is ignored.
func (rc *RuntimeClass) setStatus(s ClassStatus) {
	for {
		old := atomic.LoadInt32(&rc.status)
		if int32(s) < old {
			return // never move backwards
		}
		if atomic.CompareAndSwapInt32(&rc.status, old, int32(s)) {
			return
		}
	}
}

// Erroneous reports whether initialization failed permanently.
func (rc *RuntimeClass) Erroneous() bool { return rc.erroneous.Load() }

// IsInterface reports whether this class is an interface.
func (rc *RuntimeClass) IsInterface() bool {
	return rc.Class != nil && rc.Class.IsInterface()
}

// FieldSlotFor returns the recursive field slot for a field name.
func (rc *RuntimeClass) FieldSlotFor(name intern.StringID) (FieldSlot, bool) {
	s, ok := rc.fieldSlots[name]
	return s, ok
}

// MethodNumberFor returns the vtable number for a method shape.
func (rc *RuntimeClass) MethodNumberFor(shape intern.MethodShape) (MethodNumber, bool) {
	n, ok := rc.methodNumbers[shape]
	return n, ok
}

// VTableEntry returns the method at a vtable slot.
func (rc *RuntimeClass) VTableEntry(n MethodNumber) (*Method, bool) {
	if int(n) < 0 || int(n) >= len(rc.vtable) {
		return nil, false
	}
	m := rc.vtable[n]
	return m, m != nil
}

// VTableLen returns the number of vtable slots.
func (rc *RuntimeClass) VTableLen() int { return len(rc.vtable) }

// FindLocalMethod finds a declared method by shape, not searching supers.
func (rc *RuntimeClass) FindLocalMethod(shape intern.MethodShape) *Method {
	for _, m := range rc.Methods {
		if m.M.Name == shape.Name && m.M.DescID == shape.Desc {
			return m
		}
	}
	return nil
}

// buildNumbering assigns field and method numbers. Parent numbering is
// copied unchanged into the low slots so downcast access needs no
// translation; own members extend monotonically.
func (rc *RuntimeClass) buildNumbering() {
	// Fields: parent-first, own instance fields in sorted-name order.
	rc.fieldSlots = make(map[intern.StringID]FieldSlot)
	parentCount := 0
	if rc.Parent != nil {
		for name, slot := range rc.Parent.fieldSlots {
			rc.fieldSlots[name] = slot
		}
		parentCount = rc.Parent.RecursiveFieldCount
	}

	type ownField struct {
		name intern.StringID
		f    *ccf.Field
	}
	var own []ownField
	if rc.Class != nil {
		for i := range rc.Class.Fields {
			f := &rc.Class.Fields[i]
			if f.AccessFlags&0x0008 != 0 { // static: lives in the statics table
				continue
			}
			own = append(own, ownField{name: f.Name, f: f})
		}
	}
	sort.Slice(own, func(i, j int) bool {
		return intern.GetString(own[i].name) < intern.GetString(own[j].name)
	})
	for i, of := range own {
		rc.fieldSlots[of.name] = FieldSlot{
			Number:      parentCount + i,
			Desc:        of.f.Desc,
			AccessFlags: of.f.AccessFlags,
		}
	}
	rc.RecursiveFieldCount = parentCount + len(own)

	// Methods: parent slots reused on override, new slots appended.
	rc.methodNumbers = make(map[intern.MethodShape]MethodNumber)
	if rc.Parent != nil {
		for shape, n := range rc.Parent.methodNumbers {
			rc.methodNumbers[shape] = n
		}
		rc.vtable = make([]*Method, len(rc.Parent.vtable))
		copy(rc.vtable, rc.Parent.vtable)
	}
	for _, m := range rc.Methods {
		if !isVirtual(m.M) {
			m.Number = -1
			continue
		}
		shape := m.Shape()
		if n, ok := rc.methodNumbers[shape]; ok {
			m.Number = n
			rc.vtable[n] = m
		} else {
			n := MethodNumber(len(rc.vtable))
			rc.methodNumbers[shape] = n
			rc.vtable = append(rc.vtable, m)
			m.Number = n
		}
	}
}

func isVirtual(m *ccf.Method) bool {
	if m.IsStatic() {
		return false
	}
	if m.Name == intern.InitName || m.Name == intern.ClinitName {
		return false
	}
	return true
}

// newRuntimeClass builds the skeleton for a compressed class with parent
// and interface links already loaded.
func newRuntimeClass(class *ccf.Class, loader LoaderName, parent *RuntimeClass, interfaces []*RuntimeClass) *RuntimeClass {
	rc := &RuntimeClass{
		Class:       class,
		Name:        class.Name,
		Kind:        intern.ClassType(class.Name),
		Loader:      loader,
		Parent:      parent,
		Interfaces:  interfaces,
		InterfaceID: -1,
		statics:     make(map[intern.StringID]Value),
		staticTypes: make(map[intern.StringID]intern.CPDType),
		status:      int32(StatusUnprepared),
	}
	rc.initCond = sync.NewCond(&rc.initMu)
	for i := range class.Methods {
		rc.Methods = append(rc.Methods, &Method{
			Class: rc,
			Index: i,
			M:     &class.Methods[i],
		})
	}
	rc.buildNumbering()
	return rc
}

// StaticValue reads a static variable.
func (rc *RuntimeClass) StaticValue(name intern.StringID) (Value, bool) {
	rc.staticMu.RLock()
	defer rc.staticMu.RUnlock()
	v, ok := rc.statics[name]
	return v, ok
}

// SetStaticValue writes a static variable.
func (rc *RuntimeClass) SetStaticValue(name intern.StringID, v Value) {
	rc.staticMu.Lock()
	defer rc.staticMu.Unlock()
	rc.statics[name] = v
}

// StaticType returns the cached declared type of a static variable.
func (rc *RuntimeClass) StaticType(name intern.StringID) (intern.CPDType, bool) {
	rc.staticMu.RLock()
	defer rc.staticMu.RUnlock()
	t, ok := rc.staticTypes[name]
	return t, ok
}

// IsSubclassOf walks the parent chain and interfaces.
func (rc *RuntimeClass) IsSubclassOf(other *RuntimeClass) bool {
	if other == nil {
		return false
	}
	seen := make(map[*RuntimeClass]bool)
	var walk func(c *RuntimeClass) bool
	walk = func(c *RuntimeClass) bool {
		if c == nil || seen[c] {
			return false
		}
		if c == other || c.Name == other.Name {
			return true
		}
		seen[c] = true
		for _, i := range c.Interfaces {
			if walk(i) {
				return true
			}
		}
		return walk(c.Parent)
	}
	return walk(rc)
}
