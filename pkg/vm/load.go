package vm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/trace"
	"github.com/javelin-vm/javelin/pkg/verify"
)

// circularityError marks a supertype cycle found during loading.
type circularityError struct {
	name string
}

func (e *circularityError) Error() string {
	return "class circularity involving " + e.name
}

// loadErrorClassName maps a loader-pipeline error to its Java class.
func loadErrorClassName(err error) string {
	var verr *verify.Error
	var cnf *ErrClassNotFound
	var circ *circularityError
	switch {
	case errors.As(err, &circ):
		return "java/lang/ClassCircularityError"
	case errors.As(err, &verr):
		return "java/lang/VerifyError"
	case errors.As(err, &cnf):
		return "java/lang/NoClassDefFoundError"
	case errors.Is(err, classfile.ErrBadMagic),
		errors.Is(err, classfile.ErrTruncatedFile),
		errors.Is(err, classfile.ErrUnsupportedVersion),
		errors.Is(err, classfile.ErrMalformedConstantPool),
		errors.Is(err, classfile.ErrMalformedAttribute):
		return "java/lang/ClassFormatError"
	default:
		return "java/lang/LinkageError"
	}
}

// compressedView caches parse+compress results for the verifier's
// supertype queries, which must not trigger full loading.
func (vm *VM) compressedView(name string) (*ccf.Class, error) {
	vm.viewsMu.Lock()
	if vm.views == nil {
		vm.views = make(map[string]*ccf.Class)
	}
	if c, ok := vm.views[name]; ok {
		vm.viewsMu.Unlock()
		return c, nil
	}
	vm.viewsMu.Unlock()

	var c *ccf.Class
	if b, ok := vm.builtin[name]; ok {
		c = b.class
	} else {
		raw, err := vm.Bootstrap.FindClassBytes(name)
		if err != nil {
			return nil, err
		}
		cf, err := classfile.ParseBytes(raw)
		if err != nil {
			return nil, err
		}
		c, err = ccf.Compress(cf)
		if err != nil {
			return nil, err
		}
	}

	vm.viewsMu.Lock()
	vm.views[name] = c
	vm.viewsMu.Unlock()
	return c, nil
}

// loadByName loads a class by internal name under a loader.
func (vm *VM) loadByName(t *Thread, loader LoaderName, name string) (*RuntimeClass, error) {
	return vm.loadType(t, loader, intern.ClassTypeNamed(name))
}

// loadType implements the load algorithm: initiating-loader lookup,
// delegation, parse/compress/verify, recursive supertype loading with
// cycle detection, then publication.
func (vm *VM) loadType(t *Thread, loader LoaderName, typ intern.CPDType) (*RuntimeClass, error) {
	if rc, ok := vm.Classes.LookupInitiating(typ); ok {
		return rc, nil
	}

	switch typ.Kind {
	case intern.KindClass:
		return vm.loadClassType(t, loader, typ)
	case intern.KindArray:
		return vm.loadArrayType(t, loader, typ)
	default:
		return vm.loadPrimitiveType(typ)
	}
}

func (vm *VM) loadPrimitiveType(typ intern.CPDType) (*RuntimeClass, error) {
	rc := &RuntimeClass{
		Name:        intern.AddString(typ.JVMRepresentation()),
		Kind:        typ,
		Loader:      BootstrapLoaderName,
		InterfaceID: -1,
		statics:     make(map[intern.StringID]Value),
		staticTypes: make(map[intern.StringID]intern.CPDType),
		status:      int32(StatusInitialized),
	}
	rc.initCond = sync.NewCond(&rc.initMu)
	rc.buildNumbering()
	vm.Classes.publish(typ, BootstrapLoaderName, rc)
	return rc, nil
}

// loadArrayType synthesizes an array class: parent Object, interfaces
// Cloneable and Serializable, element class loaded first for reference
// elements.
func (vm *VM) loadArrayType(t *Thread, loader LoaderName, typ intern.CPDType) (*RuntimeClass, error) {
	elem := typ.ElemType()
	if elem.IsReference() {
		if _, err := vm.loadType(t, loader, elem); err != nil {
			return nil, err
		}
	}
	parent, err := vm.loadByName(t, BootstrapLoaderName, "java/lang/Object")
	if err != nil {
		return nil, err
	}
	rc := &RuntimeClass{
		Name:        intern.AddString(typ.JVMRepresentation()),
		Kind:        typ,
		Loader:      loader,
		Parent:      parent,
		InterfaceID: -1,
		statics:     make(map[intern.StringID]Value),
		staticTypes: make(map[intern.StringID]intern.CPDType),
		status:      int32(StatusInitialized), // arrays need no <clinit>
	}
	rc.initCond = sync.NewCond(&rc.initMu)
	rc.buildNumbering()
	vm.Classes.publish(typ, loader, rc)
	return rc, nil
}

func (vm *VM) loadClassType(t *Thread, loader LoaderName, typ intern.CPDType) (*RuntimeClass, error) {
	name := intern.GetString(typ.Name)

	if t.loading[typ] {
		return nil, &circularityError{name: name}
	}
	t.loading[typ] = true
	defer delete(t.loading, typ)

	key := loader.String() + "!" + name
	v, err, _ := vm.Classes.loadGroup.Do(key, func() (interface{}, error) {
		// a concurrent load may have published while we queued
		if rc, ok := vm.Classes.LookupInitiating(typ); ok {
			return rc, nil
		}
		return vm.defineClass(t, loader, typ, name, nil)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuntimeClass), nil
}

// defineClass builds and publishes a class from raw, or from the loader's
// bytes when raw is nil.
func (vm *VM) defineClass(t *Thread, loader LoaderName, typ intern.CPDType, name string, raw []byte) (*RuntimeClass, error) {
	var class *ccf.Class
	var frames map[int]*verify.MethodFrames

	if b, ok := vm.builtin[name]; ok {
		class = b.class
	} else {
		if raw == nil {
			var err error
			if raw, err = vm.findBytes(loader, name); err != nil {
				return nil, err
			}
		}
		cf, err := classfile.ParseBytes(raw)
		if err != nil {
			return nil, err
		}
		parsedName, err := cf.ClassName()
		if err != nil {
			return nil, err
		}
		if parsedName != name {
			return nil, &ErrClassNotFound{Name: name}
		}
		class, err = ccf.Compress(cf)
		if err != nil {
			return nil, err
		}
	}

	// supertypes first, with the per-thread loading set active
	var parent *RuntimeClass
	if class.HasSuper {
		p, err := vm.loadType(t, loader, intern.ClassType(class.Super))
		if err != nil {
			return nil, err
		}
		parent = p
	}
	var interfaces []*RuntimeClass
	for _, ifName := range class.Interfaces {
		irc, err := vm.loadType(t, loader, intern.ClassType(ifName))
		if err != nil {
			return nil, err
		}
		interfaces = append(interfaces, irc)
	}

	// verification runs over the compressed form before the class is
	// published; frames feed both the interpreter checks and the JIT
	if !vm.isBuiltinName(name) {
		vctx := &verify.Context{
			Pool: intern.Pool(),
			GetClass: func(n intern.StringID) (*ccf.Class, error) {
				return vm.compressedView(intern.GetString(n))
			},
			GetLiveObjectType: func(idx int) intern.CPDType {
				if v, ok := vm.Classes.LiveObject(idx); ok && v.Ref != nil {
					return v.Ref.Type()
				}
				return intern.ClassType(intern.JavaLangObject)
			},
			Loader: loader.String(),
		}
		var err error
		frames, err = vctx.VerifyClass(class)
		if err != nil {
			return nil, err
		}
	}

	rc := newRuntimeClass(class, loader, parent, interfaces)
	rc.Frames = frames
	vm.Classes.registerMethods(rc)
	vm.Classes.publish(typ, loader, rc)

	trace.Trace("loaded class " + name + " via " + loader.String())
	return rc, nil
}

func (vm *VM) findBytes(loader LoaderName, name string) ([]byte, error) {
	if loader.Bootstrap {
		return vm.Bootstrap.FindClassBytes(name)
	}
	l, ok := vm.Classes.LoaderByIndex(loader.Index)
	if !ok {
		return nil, fmt.Errorf("unknown loader %s", loader)
	}
	return l.FindClassBytes(name)
}

// DefineGeneratedClass installs a dynamically produced classfile (lambda
// proxies, generated accessors) under a loader, optionally persisting it
// to the working directory.
func (vm *VM) DefineGeneratedClass(t *Thread, loader LoaderName, raw []byte) (*RuntimeClass, error) {
	cf, err := classfile.ParseBytes(raw)
	if err != nil {
		return nil, err
	}
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}

	if vm.Options.StoreGeneratedClasses {
		base := strings.ReplaceAll(name, "/", ".")
		f, err := os.CreateTemp(".", base+"*.class")
		if err == nil {
			_, werr := f.Write(raw)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				trace.Warning("could not persist generated class " + name)
			} else {
				trace.Trace("stored generated class at " + filepath.Base(f.Name()))
			}
		}
	}

	typ := intern.ClassTypeNamed(name)
	if rc, ok := vm.Classes.LoadedBy(loader, typ); ok {
		return rc, nil
	}
	return vm.defineClass(t, loader, typ, name, raw)
}

// syntheticThrowableClass is the last-resort class used when even the
// builtin set cannot supply a throwable type. It keeps error reporting
// alive instead of recursing into more load failures.
func (vm *VM) syntheticThrowableClass(name string) *RuntimeClass {
	typ := intern.ClassTypeNamed(name)
	if rc, ok := vm.Classes.LookupInitiating(typ); ok {
		return rc
	}
	rc := &RuntimeClass{
		Name:        intern.AddString(name),
		Kind:        typ,
		Loader:      BootstrapLoaderName,
		InterfaceID: -1,
		statics:     make(map[intern.StringID]Value),
		staticTypes: make(map[intern.StringID]intern.CPDType),
		status:      int32(StatusInitialized),
	}
	rc.initCond = sync.NewCond(&rc.initMu)
	rc.buildNumbering()
	vm.Classes.publish(typ, BootstrapLoaderName, rc)
	return rc
}
