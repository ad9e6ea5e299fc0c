package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"
	"unsafe"

	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/native"
)

func (vm *VM) stderr() io.Writer { return os.Stderr }

// newPrintStream allocates a java/io/PrintStream wrapping a Go writer.
func (vm *VM) newPrintStream(t *Thread, w io.Writer) *Object {
	rc, err := vm.loadByName(t, BootstrapLoaderName, "java/io/PrintStream")
	if err != nil {
		rc = vm.syntheticThrowableClass("java/io/PrintStream")
	}
	o := vm.allocObject(rc)
	o.Native = &native.PrintStream{Writer: w}
	return o
}

// goString extracts the Go string behind a java/lang/String reference.
func goString(v Value) string {
	if v.Ref == nil {
		return ""
	}
	if s, ok := v.Ref.StringValue(); ok {
		return s
	}
	return ""
}

// javaToDisplay renders a value the way println(Object) would.
func (vm *VM) javaToDisplay(t *Thread, v Value) string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(int64(v.Int()), 10)
	case KindLong:
		return strconv.FormatInt(v.Long(), 10)
	case KindFloat:
		return formatDouble(float64(v.Float()))
	case KindDouble:
		return formatDouble(v.Double())
	default:
		if v.Ref == nil {
			return "null"
		}
		if s, ok := v.Ref.StringValue(); ok {
			return s
		}
		if msg, ok := v.Ref.Native.(string); ok && v.Ref.Class != nil &&
			vm.isInstanceOfName(v.Ref.Class, intern.JavaLangThrowable) {
			name := intern.GetString(v.Ref.Class.Name)
			if msg == "" {
				return name
			}
			return name + ": " + msg
		}
		if v.Ref.Class != nil {
			return intern.GetString(v.Ref.Class.Name) + "@" +
				strconv.FormatUint(uint64(identityHash(v.Ref)), 16)
		}
		return "<object>"
	}
}

// formatDouble matches Java's Double.toString for the common cases.
func formatDouble(d float64) string {
	if d == float64(int64(d)) && !math.IsInf(d, 0) {
		return strconv.FormatFloat(d, 'f', 1, 64)
	}
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// identityHash uses the low 32 bits of the object's address, the same
// trick HotSpot-alikes use for the default hash.
func identityHash(o *Object) uint32 {
	return uint32(uintptr(unsafe.Pointer(o)))
}

// installBuiltinNatives binds Go implementations to the builtin classes
// and installs the JNI manglers for symbol-registered libraries.
func (vm *VM) installBuiltinNatives() {
	vm.SetMangler(native.MangledNames)
	reg := vm.RegisterNative

	// ---- java/lang/Object ----
	reg("java/lang/Object", "<init>", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		return Value{}, nil
	})
	reg("java/lang/Object", "hashCode", "()I", func(t *Thread, args []Value) (Value, *Throwable) {
		return IntValue(int32(identityHash(args[0].Ref))), nil
	})
	reg("java/lang/Object", "equals", "(Ljava/lang/Object;)Z", func(t *Thread, args []Value) (Value, *Throwable) {
		if args[0].Ref == args[1].Ref {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
	reg("java/lang/Object", "toString", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		return RefValue(vm.InternString(t, vm.javaToDisplay(t, args[0]))), nil
	})
	reg("java/lang/Object", "getClass", "()Ljava/lang/Class;", func(t *Thread, args []Value) (Value, *Throwable) {
		return RefValue(vm.MirrorFor(t, args[0].Ref.Class)), nil
	})
	reg("java/lang/Object", "notify", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		return Value{}, nil
	})
	reg("java/lang/Object", "notifyAll", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		return Value{}, nil
	})
	reg("java/lang/Object", "wait", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		if t.Interrupted() {
			return Value{}, vm.throw(t, "java/lang/InterruptedException", "wait interrupted")
		}
		if !vm.MonitorFor(args[0].Ref).Wait(t, 0) {
			return Value{}, vm.throw(t, "java/lang/IllegalMonitorStateException", "wait without monitor")
		}
		return Value{}, nil
	})
	reg("java/lang/Object", "wait", "(J)V", func(t *Thread, args []Value) (Value, *Throwable) {
		if t.Interrupted() {
			return Value{}, vm.throw(t, "java/lang/InterruptedException", "wait interrupted")
		}
		if !vm.MonitorFor(args[0].Ref).Wait(t, time.Duration(args[1].Long())*time.Millisecond) {
			return Value{}, vm.throw(t, "java/lang/IllegalMonitorStateException", "wait without monitor")
		}
		return Value{}, nil
	})

	// ---- java/lang/Class ----
	reg("java/lang/Class", "getName", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		rc, ok := vm.Classes.ClassOfMirror(args[0].Ref)
		if !ok {
			return NullValue(), nil
		}
		return RefValue(vm.InternString(t, intern.GetString(rc.Name))), nil
	})
	reg("java/lang/Class", "isArray", "()Z", func(t *Thread, args []Value) (Value, *Throwable) {
		return args[0].Ref.Hidden[HiddenMirrorIsArray], nil
	})
	reg("java/lang/Class", "isPrimitive", "()Z", func(t *Thread, args []Value) (Value, *Throwable) {
		return args[0].Ref.Hidden[HiddenMirrorIsPrimitive], nil
	})
	reg("java/lang/Class", "isInterface", "()Z", func(t *Thread, args []Value) (Value, *Throwable) {
		rc, ok := vm.Classes.ClassOfMirror(args[0].Ref)
		if ok && rc.IsInterface() {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
	reg("java/lang/Class", "getComponentType", "()Ljava/lang/Class;", func(t *Thread, args []Value) (Value, *Throwable) {
		rc, ok := vm.Classes.ClassOfMirror(args[0].Ref)
		if !ok || rc.Kind.Kind != intern.KindArray {
			return NullValue(), nil
		}
		elemRC, err := vm.loadType(t, BootstrapLoaderName, rc.Kind.ElemType())
		if err != nil {
			return NullValue(), nil
		}
		return RefValue(vm.MirrorFor(t, elemRC)), nil
	})
	reg("java/lang/Class", "isInstance", "(Ljava/lang/Object;)Z", func(t *Thread, args []Value) (Value, *Throwable) {
		rc, ok := vm.Classes.ClassOfMirror(args[0].Ref)
		if !ok || args[1].IsNull() {
			return IntValue(0), nil
		}
		is, th := vm.isInstance(t, BootstrapLoaderName, args[1].Ref, rc.Kind)
		if th != nil {
			return Value{}, th
		}
		if is {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
	reg("java/lang/Class", "isAssignableFrom", "(Ljava/lang/Class;)Z", func(t *Thread, args []Value) (Value, *Throwable) {
		to, ok1 := vm.Classes.ClassOfMirror(args[0].Ref)
		from, ok2 := vm.Classes.ClassOfMirror(args[1].Ref)
		if ok1 && ok2 && from.IsSubclassOf(to) {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})

	// ---- java/lang/String ----
	reg("java/lang/String", "<init>", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		if args[0].Ref.Native == nil {
			args[0].Ref.Native = ""
		}
		return Value{}, nil
	})
	reg("java/lang/String", "length", "()I", func(t *Thread, args []Value) (Value, *Throwable) {
		return IntValue(int32(len([]rune(goString(args[0]))))), nil
	})
	reg("java/lang/String", "isEmpty", "()Z", func(t *Thread, args []Value) (Value, *Throwable) {
		if goString(args[0]) == "" {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
	reg("java/lang/String", "charAt", "(I)C", func(t *Thread, args []Value) (Value, *Throwable) {
		runes := []rune(goString(args[0]))
		i := args[1].Int()
		if i < 0 || int(i) >= len(runes) {
			return Value{}, vm.throw(t, "java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("%d", i))
		}
		return IntValue(int32(runes[i])), nil
	})
	reg("java/lang/String", "hashCode", "()I", func(t *Thread, args []Value) (Value, *Throwable) {
		var h int32
		for _, c := range goString(args[0]) {
			h = 31*h + int32(c)
		}
		return IntValue(h), nil
	})
	reg("java/lang/String", "equals", "(Ljava/lang/Object;)Z", func(t *Thread, args []Value) (Value, *Throwable) {
		if args[1].Ref == nil {
			return IntValue(0), nil
		}
		s2, ok := args[1].Ref.StringValue()
		if ok && s2 == goString(args[0]) {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
	reg("java/lang/String", "intern", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		return RefValue(vm.InternString(t, goString(args[0]))), nil
	})
	reg("java/lang/String", "concat", "(Ljava/lang/String;)Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		return RefValue(vm.InternString(t, goString(args[0])+goString(args[1]))), nil
	})
	reg("java/lang/String", "toString", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		return args[0], nil
	})

	// ---- java/lang/StringBuilder ----
	sbAppend := func(t *Thread, args []Value, s string) (Value, *Throwable) {
		cur, _ := args[0].Ref.Native.(string)
		args[0].Ref.Native = cur + s
		return args[0], nil
	}
	reg("java/lang/StringBuilder", "<init>", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		args[0].Ref.Native = ""
		return Value{}, nil
	})
	reg("java/lang/StringBuilder", "<init>", "(Ljava/lang/String;)V", func(t *Thread, args []Value) (Value, *Throwable) {
		args[0].Ref.Native = goString(args[1])
		return Value{}, nil
	})
	reg("java/lang/StringBuilder", "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		if args[1].IsNull() {
			return sbAppend(t, args, "null")
		}
		return sbAppend(t, args, goString(args[1]))
	})
	reg("java/lang/StringBuilder", "append", "(I)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		return sbAppend(t, args, strconv.FormatInt(int64(args[1].Int()), 10))
	})
	reg("java/lang/StringBuilder", "append", "(J)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		return sbAppend(t, args, strconv.FormatInt(args[1].Long(), 10))
	})
	reg("java/lang/StringBuilder", "append", "(C)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		return sbAppend(t, args, string(rune(args[1].Int())))
	})
	reg("java/lang/StringBuilder", "append", "(Z)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		if args[1].Int() != 0 {
			return sbAppend(t, args, "true")
		}
		return sbAppend(t, args, "false")
	})
	reg("java/lang/StringBuilder", "append", "(D)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		return sbAppend(t, args, formatDouble(args[1].Double()))
	})
	reg("java/lang/StringBuilder", "append", "(Ljava/lang/Object;)Ljava/lang/StringBuilder;", func(t *Thread, args []Value) (Value, *Throwable) {
		return sbAppend(t, args, vm.javaToDisplay(t, args[1]))
	})
	reg("java/lang/StringBuilder", "toString", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		s, _ := args[0].Ref.Native.(string)
		return RefValue(vm.InternString(t, s)), nil
	})

	// ---- java/io/PrintStream ----
	psWriter := func(recv Value) io.Writer {
		if recv.Ref != nil {
			if ps, ok := recv.Ref.Native.(*native.PrintStream); ok {
				return ps.Writer
			}
		}
		return vm.Stdout
	}
	reg("java/io/PrintStream", "println", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		fmt.Fprintln(psWriter(args[0]))
		return Value{}, nil
	})
	printlnVal := func(t *Thread, args []Value) (Value, *Throwable) {
		fmt.Fprintln(psWriter(args[0]), vm.javaToDisplay(t, args[1]))
		return Value{}, nil
	}
	reg("java/io/PrintStream", "println", "(I)V", printlnVal)
	reg("java/io/PrintStream", "println", "(J)V", printlnVal)
	reg("java/io/PrintStream", "println", "(F)V", printlnVal)
	reg("java/io/PrintStream", "println", "(D)V", printlnVal)
	reg("java/io/PrintStream", "println", "(Ljava/lang/String;)V", printlnVal)
	reg("java/io/PrintStream", "println", "(Ljava/lang/Object;)V", printlnVal)
	reg("java/io/PrintStream", "println", "(Z)V", func(t *Thread, args []Value) (Value, *Throwable) {
		s := "false"
		if args[1].Int() != 0 {
			s = "true"
		}
		fmt.Fprintln(psWriter(args[0]), s)
		return Value{}, nil
	})
	reg("java/io/PrintStream", "println", "(C)V", func(t *Thread, args []Value) (Value, *Throwable) {
		fmt.Fprintf(psWriter(args[0]), "%c\n", rune(args[1].Int()))
		return Value{}, nil
	})
	printVal := func(t *Thread, args []Value) (Value, *Throwable) {
		fmt.Fprint(psWriter(args[0]), vm.javaToDisplay(t, args[1]))
		return Value{}, nil
	}
	reg("java/io/PrintStream", "print", "(I)V", printVal)
	reg("java/io/PrintStream", "print", "(J)V", printVal)
	reg("java/io/PrintStream", "print", "(Ljava/lang/String;)V", printVal)
	reg("java/io/PrintStream", "print", "(C)V", func(t *Thread, args []Value) (Value, *Throwable) {
		fmt.Fprintf(psWriter(args[0]), "%c", rune(args[1].Int()))
		return Value{}, nil
	})

	// ---- java/lang/System ----
	reg("java/lang/System", "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", func(t *Thread, args []Value) (Value, *Throwable) {
		return vm.nativeArraycopy(t, args)
	})
	reg("java/lang/System", "nanoTime", "()J", func(t *Thread, args []Value) (Value, *Throwable) {
		return LongValue(time.Now().UnixNano()), nil
	})
	reg("java/lang/System", "currentTimeMillis", "()J", func(t *Thread, args []Value) (Value, *Throwable) {
		return LongValue(time.Now().UnixMilli()), nil
	})
	reg("java/lang/System", "identityHashCode", "(Ljava/lang/Object;)I", func(t *Thread, args []Value) (Value, *Throwable) {
		if args[0].IsNull() {
			return IntValue(0), nil
		}
		return IntValue(int32(identityHash(args[0].Ref))), nil
	})

	// ---- java/lang/Thread ----
	reg("java/lang/Thread", "currentThread", "()Ljava/lang/Thread;", func(t *Thread, args []Value) (Value, *Throwable) {
		rc, err := vm.loadByName(t, BootstrapLoaderName, "java/lang/Thread")
		if err != nil {
			return NullValue(), nil
		}
		o := vm.allocObject(rc)
		o.Native = t
		return RefValue(o), nil
	})
	reg("java/lang/Thread", "sleep", "(J)V", func(t *Thread, args []Value) (Value, *Throwable) {
		if t.Interrupted() {
			return Value{}, vm.throw(t, "java/lang/InterruptedException", "sleep interrupted")
		}
		time.Sleep(time.Duration(args[0].Long()) * time.Millisecond)
		return Value{}, nil
	})
	reg("java/lang/Thread", "interrupt", "()V", func(t *Thread, args []Value) (Value, *Throwable) {
		if tt, ok := args[0].Ref.Native.(*Thread); ok {
			tt.Interrupt()
		}
		return Value{}, nil
	})
	reg("java/lang/Thread", "interrupted", "()Z", func(t *Thread, args []Value) (Value, *Throwable) {
		if t.Interrupted() {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})

	// ---- java/lang/Math ----
	reg("java/lang/Math", "sqrt", "(D)D", func(t *Thread, args []Value) (Value, *Throwable) {
		return DoubleValue(math.Sqrt(args[0].Double())), nil
	})
	reg("java/lang/Math", "pow", "(DD)D", func(t *Thread, args []Value) (Value, *Throwable) {
		return DoubleValue(math.Pow(args[0].Double(), args[1].Double())), nil
	})
	reg("java/lang/Math", "abs", "(I)I", func(t *Thread, args []Value) (Value, *Throwable) {
		v := args[0].Int()
		if v < 0 {
			v = -v
		}
		return IntValue(v), nil
	})
	reg("java/lang/Math", "min", "(II)I", func(t *Thread, args []Value) (Value, *Throwable) {
		a, b := args[0].Int(), args[1].Int()
		if a < b {
			return IntValue(a), nil
		}
		return IntValue(b), nil
	})
	reg("java/lang/Math", "max", "(II)I", func(t *Thread, args []Value) (Value, *Throwable) {
		a, b := args[0].Int(), args[1].Int()
		if a > b {
			return IntValue(a), nil
		}
		return IntValue(b), nil
	})

	// ---- Float/Double bit intrinsics ----
	reg("java/lang/Float", "floatToRawIntBits", "(F)I", func(t *Thread, args []Value) (Value, *Throwable) {
		return IntValue(int32(math.Float32bits(args[0].Float()))), nil
	})
	reg("java/lang/Float", "intBitsToFloat", "(I)F", func(t *Thread, args []Value) (Value, *Throwable) {
		return FloatValue(math.Float32frombits(uint32(args[0].Int()))), nil
	})
	reg("java/lang/Double", "doubleToRawLongBits", "(D)J", func(t *Thread, args []Value) (Value, *Throwable) {
		return LongValue(int64(math.Float64bits(args[0].Double()))), nil
	})
	reg("java/lang/Double", "longBitsToDouble", "(J)D", func(t *Thread, args []Value) (Value, *Throwable) {
		return DoubleValue(math.Float64frombits(uint64(args[0].Long()))), nil
	})

	// ---- java/lang/Throwable and its hierarchy ----
	throwableInit0 := func(t *Thread, args []Value) (Value, *Throwable) {
		if args[0].Ref.Native == nil {
			args[0].Ref.Native = ""
		}
		return Value{}, nil
	}
	throwableInit1 := func(t *Thread, args []Value) (Value, *Throwable) {
		args[0].Ref.Native = goString(args[1])
		return Value{}, nil
	}
	reg("java/lang/Throwable", "<init>", "()V", throwableInit0)
	reg("java/lang/Throwable", "<init>", "(Ljava/lang/String;)V", throwableInit1)
	reg("java/lang/Throwable", "getMessage", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		msg, ok := args[0].Ref.Native.(string)
		if !ok || msg == "" {
			return NullValue(), nil
		}
		return RefValue(vm.InternString(t, msg)), nil
	})
	reg("java/lang/Throwable", "toString", "()Ljava/lang/String;", func(t *Thread, args []Value) (Value, *Throwable) {
		return RefValue(vm.InternString(t, vm.javaToDisplay(t, args[0]))), nil
	})
	reg("java/lang/Throwable", "fillInStackTrace", "()Ljava/lang/Throwable;", func(t *Thread, args []Value) (Value, *Throwable) {
		return args[0], nil
	})
	for name := range vm.builtin {
		cls := vm.builtin[name].class
		// subclasses of Throwable reuse the message-storing constructors
		if cls.HasSuper && vm.isThrowableBuiltin(name) {
			reg(name, "<init>", "()V", throwableInit0)
			reg(name, "<init>", "(Ljava/lang/String;)V", throwableInit1)
		}
	}
}

// isThrowableBuiltin reports whether a builtin class descends from
// Throwable, walking the builtin map only.
func (vm *VM) isThrowableBuiltin(name string) bool {
	for i := 0; i < 32; i++ {
		if name == "java/lang/Throwable" {
			return true
		}
		b, ok := vm.builtin[name]
		if !ok || !b.class.HasSuper {
			return false
		}
		name = intern.GetString(b.class.Super)
	}
	return false
}

// nativeArraycopy implements System.arraycopy with the standard checks.
func (vm *VM) nativeArraycopy(t *Thread, args []Value) (Value, *Throwable) {
	src, srcPos := args[0], args[1].Int()
	dst, dstPos := args[2], args[3].Int()
	length := args[4].Int()

	if src.IsNull() || dst.IsNull() {
		return Value{}, vm.throw(t, "java/lang/NullPointerException", "arraycopy")
	}
	if src.Ref.Arr == nil || dst.Ref.Arr == nil {
		return Value{}, vm.throw(t, "java/lang/ArrayStoreException", "arraycopy of non-array")
	}
	sa, da := src.Ref.Arr, dst.Ref.Arr
	if srcPos < 0 || dstPos < 0 || length < 0 ||
		srcPos+length > sa.Length() || dstPos+length > da.Length() {
		return Value{}, vm.throw(t, "java/lang/ArrayIndexOutOfBoundsException", "arraycopy bounds")
	}
	copy(da.Cells[dstPos:dstPos+length], sa.Cells[srcPos:srcPos+length])
	return Value{}, nil
}
