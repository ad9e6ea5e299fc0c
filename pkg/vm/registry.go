package vm

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/javelin-vm/javelin/pkg/intern"
)

// LoaderName identifies a class loader: the bootstrap loader or a
// user-defined loader by its registered index.
type LoaderName struct {
	Bootstrap bool
	Index     int
}

// BootstrapLoaderName is the name of the bootstrap loader.
var BootstrapLoaderName = LoaderName{Bootstrap: true}

func (n LoaderName) String() string {
	if n.Bootstrap {
		return "<bl>"
	}
	return fmt.Sprintf("<user:%d>", n.Index)
}

// MethodID is an opaque handle into the process-wide method table.
type MethodID uint32

// FieldID is an opaque handle into the process-wide field table.
type FieldID uint32

// fieldKey identifies a field for the field table.
type fieldKey struct {
	class *RuntimeClass
	name  intern.StringID
}

// Classes is the process-wide class registry: who loaded what, the mirror
// bijection, the loader bijection, and the live-object ldc pool. Reads are
// hot (execution), writes are cold (loading), so it sits behind an RWMutex.
type Classes struct {
	mu sync.RWMutex

	// initiating maps a type to the loader that first resolved it, with
	// the resulting class.
	initiating map[intern.CPDType]initiatingEntry

	// loadedByType groups loaded classes per defining loader.
	loadedByType map[LoaderName]map[intern.CPDType]*RuntimeClass

	// The class <-> java.lang.Class mirror bijection, kept as two one-way
	// maps so the object graph has no pointer cycle.
	mirrorsByClass map[*RuntimeClass]*Object
	classesByMirror map[*Object]*RuntimeClass

	// liveObjects is the anon-class live-object ldc pool.
	liveObjects []Value

	// loader object <-> index bijection.
	loaders       []ClassLoader
	loaderIndexes map[ClassLoader]int

	// method/field tables: writer-locked append-only.
	tableMu sync.RWMutex
	methods []*Method
	fields  []fieldKey
	fieldIDs map[fieldKey]FieldID

	nextInterfaceID int

	loadGroup singleflight.Group
}

func newClasses() *Classes {
	return &Classes{
		initiating:      make(map[intern.CPDType]initiatingEntry),
		loadedByType:    make(map[LoaderName]map[intern.CPDType]*RuntimeClass),
		mirrorsByClass:  make(map[*RuntimeClass]*Object),
		classesByMirror: make(map[*Object]*RuntimeClass),
		loaderIndexes:   make(map[ClassLoader]int),
		fieldIDs:        make(map[fieldKey]FieldID),
	}
}

type initiatingEntry struct {
	loader LoaderName
	class  *RuntimeClass
}

// LookupInitiating returns the class first resolved for a type, if any.
func (cs *Classes) LookupInitiating(t intern.CPDType) (*RuntimeClass, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	e, ok := cs.initiating[t]
	return e.class, ok
}

// publish records a freshly loaded class under its initiating loader.
func (cs *Classes) publish(t intern.CPDType, loader LoaderName, rc *RuntimeClass) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.initiating[t]; !ok {
		cs.initiating[t] = initiatingEntry{loader: loader, class: rc}
	}
	byType, ok := cs.loadedByType[loader]
	if !ok {
		byType = make(map[intern.CPDType]*RuntimeClass)
		cs.loadedByType[loader] = byType
	}
	byType[t] = rc
	if rc.IsInterface() && rc.InterfaceID < 0 {
		rc.InterfaceID = cs.nextInterfaceID
		cs.nextInterfaceID++
	}
}

// LoadedBy returns the class a specific loader has for a type.
func (cs *Classes) LoadedBy(loader LoaderName, t intern.CPDType) (*RuntimeClass, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	byType, ok := cs.loadedByType[loader]
	if !ok {
		return nil, false
	}
	rc, ok := byType[t]
	return rc, ok
}

// RegisterLoader assigns (or returns) the index for a loader object.
func (cs *Classes) RegisterLoader(l ClassLoader) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if idx, ok := cs.loaderIndexes[l]; ok {
		return idx
	}
	idx := len(cs.loaders)
	cs.loaders = append(cs.loaders, l)
	cs.loaderIndexes[l] = idx
	return idx
}

// LoaderByIndex returns a registered loader.
func (cs *Classes) LoaderByIndex(idx int) (ClassLoader, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if idx < 0 || idx >= len(cs.loaders) {
		return nil, false
	}
	return cs.loaders[idx], true
}

// AddLiveObject appends to the live-object ldc pool and returns its index.
func (cs *Classes) AddLiveObject(v Value) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.liveObjects = append(cs.liveObjects, v)
	return len(cs.liveObjects) - 1
}

// LiveObject reads the live-object ldc pool.
func (cs *Classes) LiveObject(idx int) (Value, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if idx < 0 || idx >= len(cs.liveObjects) {
		return Value{}, false
	}
	return cs.liveObjects[idx], true
}

// mirror returns the cached java.lang.Class mirror for a class.
func (cs *Classes) mirror(rc *RuntimeClass) (*Object, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	o, ok := cs.mirrorsByClass[rc]
	return o, ok
}

// setMirror records both directions of the class/mirror bijection. The
// first mirror wins; the winning object is returned.
func (cs *Classes) setMirror(rc *RuntimeClass, o *Object) *Object {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if existing, ok := cs.mirrorsByClass[rc]; ok {
		return existing
	}
	cs.mirrorsByClass[rc] = o
	cs.classesByMirror[o] = rc
	return o
}

// ClassOfMirror maps a java.lang.Class object back to its RuntimeClass.
func (cs *Classes) ClassOfMirror(o *Object) (*RuntimeClass, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	rc, ok := cs.classesByMirror[o]
	return rc, ok
}

// registerMethods assigns process-wide IDs to every method of a class.
func (cs *Classes) registerMethods(rc *RuntimeClass) {
	cs.tableMu.Lock()
	defer cs.tableMu.Unlock()
	for _, m := range rc.Methods {
		m.ID = MethodID(len(cs.methods))
		cs.methods = append(cs.methods, m)
	}
}

// MethodByID resolves a method handle.
func (cs *Classes) MethodByID(id MethodID) (*Method, bool) {
	cs.tableMu.RLock()
	defer cs.tableMu.RUnlock()
	if int(id) >= len(cs.methods) {
		return nil, false
	}
	return cs.methods[id], true
}

// FieldIDFor assigns (or returns) the process-wide ID of a field.
func (cs *Classes) FieldIDFor(rc *RuntimeClass, name intern.StringID) FieldID {
	key := fieldKey{class: rc, name: name}
	cs.tableMu.RLock()
	id, ok := cs.fieldIDs[key]
	cs.tableMu.RUnlock()
	if ok {
		return id
	}
	cs.tableMu.Lock()
	defer cs.tableMu.Unlock()
	if id, ok := cs.fieldIDs[key]; ok {
		return id
	}
	id = FieldID(len(cs.fields))
	cs.fields = append(cs.fields, key)
	cs.fieldIDs[key] = id
	return id
}

// FieldByID resolves a field handle.
func (cs *Classes) FieldByID(id FieldID) (*RuntimeClass, intern.StringID, bool) {
	cs.tableMu.RLock()
	defer cs.tableMu.RUnlock()
	if int(id) >= len(cs.fields) {
		return nil, 0, false
	}
	k := cs.fields[id]
	return k.class, k.name, true
}
