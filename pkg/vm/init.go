package vm

import (
	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/trace"
)

// Prepare assigns default values to the class's static fields and applies
// ConstantValue attributes. Idempotent; the first caller wins.
func (vm *VM) Prepare(t *Thread, rc *RuntimeClass) {
	rc.staticMu.Lock()
	defer rc.staticMu.Unlock()
	if rc.Status() >= StatusPrepared {
		return
	}
	if rc.Class != nil {
		for i := range rc.Class.Fields {
			f := &rc.Class.Fields[i]
			if f.AccessFlags&0x0008 == 0 {
				continue
			}
			rc.staticTypes[f.Name] = f.Desc
			if f.ConstantValue != nil {
				rc.statics[f.Name] = vm.constantToValue(t, f.ConstantValue)
			} else {
				rc.statics[f.Name] = zeroValueFor(f.Desc)
			}
		}
	}
	rc.setStatus(StatusPrepared)
}

// EnsureInitialized drives the class through the initialization state
// machine. The calling thread either initializes the class itself, waits
// for another thread to finish, or short-circuits when it already holds
// the initialization rights (recursive init from <clinit>).
func (vm *VM) EnsureInitialized(t *Thread, rc *RuntimeClass) *Throwable {
	if rc.Status() == StatusInitialized {
		if rc.Erroneous() {
			return vm.throw(t, "java/lang/NoClassDefFoundError",
				"erroneous class "+intern.GetString(rc.Name))
		}
		return nil
	}

	rc.initMu.Lock()
	for {
		switch rc.Status() {
		case StatusInitialized:
			erroneous := rc.Erroneous()
			rc.initMu.Unlock()
			if erroneous {
				return vm.throw(t, "java/lang/NoClassDefFoundError",
					"erroneous class "+intern.GetString(rc.Name))
			}
			return nil
		case StatusInitializing:
			if rc.initThread == t.ID {
				// recursive initialization by the owning thread is a no-op
				rc.initMu.Unlock()
				return nil
			}
			rc.initCond.Wait()
		default:
			if rc.Status() == StatusUnprepared {
				rc.initMu.Unlock()
				vm.Prepare(t, rc)
				rc.initMu.Lock()
				continue
			}
			rc.setStatus(StatusInitializing)
			rc.initThread = t.ID
			rc.initMu.Unlock()
			goto run
		}
	}

run:
	th := vm.runInitializers(t, rc)
	if th == nil {
		vm.finishBuiltinInit(t, rc)
	}

	rc.initMu.Lock()
	if th != nil {
		rc.erroneous.Store(true)
	}
	rc.setStatus(StatusInitialized)
	rc.initThread = 0
	rc.initCond.Broadcast()
	rc.initMu.Unlock()
	return th
}

// runInitializers initializes the parent, then interfaces that declare
// default methods, then runs <clinit>. Errors escaping <clinit> are
// wrapped in ExceptionInInitializerError unless already Errors.
func (vm *VM) runInitializers(t *Thread, rc *RuntimeClass) *Throwable {
	if rc.Parent != nil {
		if th := vm.EnsureInitialized(t, rc.Parent); th != nil {
			return th
		}
	}
	for _, iface := range rc.Interfaces {
		if ifaceHasDefaultMethods(iface) {
			if th := vm.EnsureInitialized(t, iface); th != nil {
				return th
			}
		}
	}

	clinit := rc.FindLocalMethod(intern.MethodShape{
		Name: intern.ClinitName,
		Desc: intern.AddString("()V"),
	})
	if clinit == nil {
		return nil
	}

	trace.Trace("running <clinit> of " + intern.GetString(rc.Name))
	_, th := vm.InvokeMethod(t, clinit, nil)
	if th != nil {
		return vm.wrapInInitializerError(t, th)
	}
	return nil
}

// finishBuiltinInit runs a builtin class's post-initialization hook.
func (vm *VM) finishBuiltinInit(t *Thread, rc *RuntimeClass) {
	if b, ok := vm.builtin[intern.GetString(rc.Name)]; ok && b.afterInit != nil {
		b.afterInit(vm, t, rc)
	}
}

func ifaceHasDefaultMethods(iface *RuntimeClass) bool {
	if iface.Class == nil {
		return false
	}
	for i := range iface.Class.Methods {
		m := &iface.Class.Methods[i]
		if !m.IsStatic() && !m.IsAbstract() && m.Name != intern.ClinitName {
			return true
		}
	}
	return false
}
