package vm

import (
	"fmt"
	"strings"

	"github.com/javelin-vm/javelin/pkg/intern"
)

// TraceEntry is one captured stack frame of a throwable.
type TraceEntry struct {
	Class  intern.StringID
	Method intern.StringID
	PC     int
	Line   int
}

// Throwable is a Java exception or error in flight. It implements error so
// it can ride the ordinary Go return path between frames; the unwinder in
// the interpreter decides where it lands.
type Throwable struct {
	Obj   *Object
	Trace []TraceEntry
}

func (t *Throwable) Error() string {
	name := "<unknown>"
	if t.Obj != nil && t.Obj.Class != nil {
		name = intern.GetString(t.Obj.Class.Name)
	}
	if t.Obj != nil {
		if msg, ok := t.Obj.Native.(string); ok && msg != "" {
			return name + ": " + msg
		}
	}
	return name
}

// FormatTrace renders the stored trace the way printStackTrace would. The
// core never prints it; callers (the CLI, tests) do.
func (t *Throwable) FormatTrace() string {
	var sb strings.Builder
	sb.WriteString(t.Error())
	for _, e := range t.Trace {
		cls := strings.ReplaceAll(intern.GetString(e.Class), "/", ".")
		sb.WriteString(fmt.Sprintf("\n\tat %s.%s(pc=%d", cls, intern.GetString(e.Method), e.PC))
		if e.Line >= 0 {
			sb.WriteString(fmt.Sprintf(", line=%d", e.Line))
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// throw allocates a throwable of the named class with a detail message and
// captures the current thread's trace. Failure to materialize the class
// itself degrades to a classless object rather than recursing.
func (vm *VM) throw(t *Thread, className string, msg string) *Throwable {
	rc, err := vm.loadByName(t, BootstrapLoaderName, className)
	if err != nil || rc == nil {
		rc = vm.syntheticThrowableClass(className)
	}
	obj := vm.allocObject(rc)
	obj.Native = msg
	th := &Throwable{Obj: obj}
	th.Trace = t.captureTrace()
	return th
}

// wrapInInitializerError implements the <clinit> escape rule: anything that
// is not already an Error is wrapped in ExceptionInInitializerError.
func (vm *VM) wrapInInitializerError(t *Thread, cause *Throwable) *Throwable {
	if cause.Obj != nil && cause.Obj.Class != nil {
		if vm.isInstanceOfName(cause.Obj.Class, intern.JavaLangError) {
			return cause
		}
	}
	wrapped := vm.throw(t, "java/lang/ExceptionInInitializerError", cause.Error())
	// keep the cause reachable for Throwable.getCause
	if wrapped.Obj != nil {
		wrapped.Obj.Hidden = append(wrapped.Obj.Hidden, RefValue(cause.Obj))
	}
	wrapped.Trace = cause.Trace
	return wrapped
}

func (vm *VM) isInstanceOfName(rc *RuntimeClass, name intern.StringID) bool {
	for c := rc; c != nil; c = c.Parent {
		if c.Name == name {
			return true
		}
	}
	return false
}
