// Package verify implements the type-checking pass over compressed
// bytecode: StackMapTable-driven checking for modern classfiles, and a
// linear type-inference fallback for pre-50.0 ones. It produces per-offset
// frames in two forms: with artificial top padding after category-2 values
// (exact slot layout) and without (value-oriented layout).
package verify

import (
	"fmt"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// Error is a type-safety failure. The VM surfaces it as java.lang.VerifyError.
type Error struct {
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("verify error at offset %d: %s", e.Offset, e.Msg)
}

func errAt(offset int, format string, a ...interface{}) *Error {
	return &Error{Offset: offset, Msg: fmt.Sprintf(format, a...)}
}

// Context supplies what the verifier needs from the rest of the VM.
type Context struct {
	Pool *intern.StringPool
	// GetClass loads a class for supertype queries. It must not trigger
	// initialization.
	GetClass func(name intern.StringID) (*ccf.Class, error)
	// GetLiveObjectType reports the type of a live-object ldc constant in
	// anonymous classes.
	GetLiveObjectType func(index int) intern.CPDType
	// Loader names the defining loader, for diagnostics only.
	Loader string
}

// FrameInfo is the expected state at one bytecode offset.
type FrameInfo struct {
	Locals []ccf.VerificationType
	Stack  []ccf.VerificationType
}

// MethodFrames is the verifier's output for one method: a frame for every
// instruction offset, in both slot forms.
type MethodFrames struct {
	WithTops map[uint16]FrameInfo
	NoTops   map[uint16]FrameInfo
	// Inferred is set when the frames came from the Java-5 inference pass
	// rather than a StackMapTable; such frames are partial (reference
	// types may be widened to java/lang/Object).
	Inferred bool
}

var top = ccf.VerificationType{Kind: ccf.VTop}

// frame is the internal working state: locals are slot-indexed (category-2
// values occupy value+top), the stack is value-indexed with explicit slot
// accounting.
type frame struct {
	locals []ccf.VerificationType
	stack  []ccf.VerificationType
	slots  int // stack slots used
}

func (f *frame) clone() *frame {
	n := &frame{
		locals: make([]ccf.VerificationType, len(f.locals)),
		stack:  make([]ccf.VerificationType, len(f.stack)),
		slots:  f.slots,
	}
	copy(n.locals, f.locals)
	copy(n.stack, f.stack)
	return n
}

func (f *frame) push(v ccf.VerificationType, maxStack int, offset int) error {
	w := 1
	if v.IsWide() {
		w = 2
	}
	if f.slots+w > maxStack {
		return errAt(offset, "operand stack overflow (%d > %d)", f.slots+w, maxStack)
	}
	f.stack = append(f.stack, v)
	f.slots += w
	return nil
}

func (f *frame) pop(offset int) (ccf.VerificationType, error) {
	if len(f.stack) == 0 {
		return top, errAt(offset, "operand stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	if v.IsWide() {
		f.slots -= 2
	} else {
		f.slots--
	}
	return v, nil
}

func (f *frame) setLocal(idx int, v ccf.VerificationType, offset int) error {
	w := 1
	if v.IsWide() {
		w = 2
	}
	if idx+w > len(f.locals) {
		return errAt(offset, "local %d out of range (max_locals %d)", idx, len(f.locals))
	}
	f.locals[idx] = v
	if w == 2 {
		f.locals[idx+1] = top
	}
	return nil
}

func (f *frame) getLocal(idx int, offset int) (ccf.VerificationType, error) {
	if idx >= len(f.locals) {
		return top, errAt(offset, "local %d out of range (max_locals %d)", idx, len(f.locals))
	}
	return f.locals[idx], nil
}

// initialFrame builds the method-entry frame from the descriptor.
func initialFrame(class *ccf.Class, m *ccf.Method) (*frame, error) {
	f := &frame{locals: make([]ccf.VerificationType, m.Code.MaxLocals)}
	for i := range f.locals {
		f.locals[i] = top
	}
	slot := 0
	if !m.IsStatic() {
		this := ccf.VerificationType{Kind: ccf.VReference, Type: intern.ClassType(class.Name)}
		if m.Name == intern.InitName {
			this = ccf.VerificationType{Kind: ccf.VUninitializedThis}
		}
		if slot >= len(f.locals) {
			return nil, errAt(0, "max_locals too small for receiver")
		}
		f.locals[slot] = this
		slot++
	}
	for _, arg := range m.Desc.Args {
		v := cpdToVerification(arg)
		w := 1
		if v.IsWide() {
			w = 2
		}
		if slot+w > len(f.locals) {
			return nil, errAt(0, "max_locals too small for arguments")
		}
		f.locals[slot] = v
		if w == 2 {
			f.locals[slot+1] = top
		}
		slot += w
	}
	return f, nil
}

func cpdToVerification(t intern.CPDType) ccf.VerificationType {
	switch t.Kind {
	case intern.KindBoolean, intern.KindByte, intern.KindShort, intern.KindChar, intern.KindInt:
		return ccf.VerificationType{Kind: ccf.VInt}
	case intern.KindLong:
		return ccf.VerificationType{Kind: ccf.VLong}
	case intern.KindFloat:
		return ccf.VerificationType{Kind: ccf.VFloat}
	case intern.KindDouble:
		return ccf.VerificationType{Kind: ccf.VDouble}
	default:
		return ccf.VerificationType{Kind: ccf.VReference, Type: t}
	}
}

// isAssignable reports whether a value of type from may appear where to is
// expected. Reference assignability walks the superclass chain through
// ctx.GetClass; unknown classes are accepted (resolution errors surface at
// the instruction, not during verification).
func (ctx *Context) isAssignable(from, to ccf.VerificationType) bool {
	if from == to {
		return true
	}
	switch to.Kind {
	case ccf.VTop:
		return true
	case ccf.VInt, ccf.VFloat, ccf.VLong, ccf.VDouble:
		return from.Kind == to.Kind
	case ccf.VReference:
		if from.Kind == ccf.VNull {
			return true
		}
		if from.Kind != ccf.VReference {
			return false
		}
		if to.Type == intern.ClassType(intern.JavaLangObject) {
			return true
		}
		if from.Type.Kind == intern.KindArray {
			// arrays are assignable to Object, Cloneable, Serializable,
			// and covariant reference arrays
			if to.Type.Kind == intern.KindArray {
				if from.Type.Depth == to.Type.Depth {
					return ctx.isAssignable(
						cpdToVerification(elemBase(from.Type)),
						cpdToVerification(elemBase(to.Type)))
				}
				return elemBase(to.Type) == intern.ClassType(intern.JavaLangObject)
			}
			name := intern.GetString(to.Type.Name)
			return name == "java/lang/Cloneable" || name == "java/io/Serializable"
		}
		if to.Type.Kind == intern.KindArray {
			return false
		}
		return ctx.isSubclassOf(from.Type.Name, to.Type.Name)
	case ccf.VNull:
		return from.Kind == ccf.VNull
	default:
		return false
	}
}

func elemBase(t intern.CPDType) intern.CPDType {
	return intern.CPDType{Kind: t.Elem, Name: t.Name}
}

func (ctx *Context) isSubclassOf(sub, super intern.StringID) bool {
	if sub == super {
		return true
	}
	seen := make(map[intern.StringID]bool)
	var walk func(name intern.StringID) bool
	walk = func(name intern.StringID) bool {
		if name == super {
			return true
		}
		if seen[name] {
			return false
		}
		seen[name] = true
		c, err := ctx.GetClass(name)
		if err != nil || c == nil {
			// Unresolvable supertypes are tolerated here; the loading
			// machinery reports them when the class is actually used.
			return false
		}
		for _, i := range c.Interfaces {
			if walk(i) {
				return true
			}
		}
		if c.HasSuper {
			return walk(c.Super)
		}
		return false
	}
	return walk(sub)
}

// merge widens a into the join of a and b, first-wins at exact matches.
// Conflicting slots become top; conflicting references widen to Object.
func (ctx *Context) merge(a, b ccf.VerificationType) ccf.VerificationType {
	if a == b {
		return a
	}
	if a.Kind == ccf.VReference && b.Kind == ccf.VNull {
		return a
	}
	if a.Kind == ccf.VNull && b.Kind == ccf.VReference {
		return b
	}
	if a.Kind == ccf.VReference && b.Kind == ccf.VReference {
		return ccf.VerificationType{Kind: ccf.VReference, Type: intern.ClassType(intern.JavaLangObject)}
	}
	return top
}
