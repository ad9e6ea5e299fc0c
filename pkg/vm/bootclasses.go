package vm

import (
	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// builtinClass is a VM-synthesized core class: a compressed class view
// whose methods are all native, plus an optional hook run after the class
// is initialized (System uses it to publish out/err).
type builtinClass struct {
	class     *ccf.Class
	afterInit func(vm *VM, t *Thread, rc *RuntimeClass)
}

type bmethod struct {
	name  string
	desc  string
	flags uint16
}

type bfield struct {
	name  string
	desc  string
	flags uint16
}

func makeBuiltinClass(name, super string, flags uint16, ifaces []string, fields []bfield, methods []bmethod) *ccf.Class {
	c := &ccf.Class{
		MajorVersion: 61,
		AccessFlags:  flags,
		Name:         intern.AddString(name),
		Super:        intern.InvalidStringID,
	}
	if super != "" {
		c.Super = intern.AddString(super)
		c.HasSuper = true
	}
	for _, i := range ifaces {
		c.Interfaces = append(c.Interfaces, intern.AddString(i))
	}
	for _, f := range fields {
		desc, err := intern.ParseFieldDescriptor(f.desc)
		if err != nil {
			panic("builtin field descriptor " + f.desc + ": " + err.Error())
		}
		c.Fields = append(c.Fields, ccf.Field{
			AccessFlags: f.flags,
			Name:        intern.AddString(f.name),
			Desc:        desc,
		})
	}
	for _, m := range methods {
		desc, err := intern.ParseMethodDescriptor(m.desc)
		if err != nil {
			panic("builtin method descriptor " + m.desc + ": " + err.Error())
		}
		c.Methods = append(c.Methods, ccf.Method{
			AccessFlags: m.flags | classfile.AccNative,
			Name:        intern.AddString(m.name),
			Desc:        desc,
			DescID:      intern.AddString(m.desc),
		})
	}
	return c
}

const (
	accPublic    = classfile.AccPublic
	accStatic    = classfile.AccStatic
	accFinal     = classfile.AccFinal
	accInterface = classfile.AccInterface
	accAbstract  = classfile.AccAbstract
)

func (vm *VM) isBuiltinName(name string) bool {
	_, ok := vm.builtin[name]
	return ok
}

// installBuiltinClasses synthesizes the minimal runtime class set, so the
// VM can throw, print and intern without a JDK image on the classpath.
func (vm *VM) installBuiltinClasses() {
	vm.builtin = make(map[string]*builtinClass)
	add := func(c *ccf.Class) *builtinClass {
		b := &builtinClass{class: c}
		vm.builtin[intern.GetString(c.Name)] = b
		return b
	}

	add(makeBuiltinClass("java/lang/Object", "", accPublic, nil, nil, []bmethod{
		{"<init>", "()V", accPublic},
		{"hashCode", "()I", accPublic},
		{"equals", "(Ljava/lang/Object;)Z", accPublic},
		{"toString", "()Ljava/lang/String;", accPublic},
		{"getClass", "()Ljava/lang/Class;", accPublic | accFinal},
		{"notify", "()V", accPublic | accFinal},
		{"notifyAll", "()V", accPublic | accFinal},
		{"wait", "()V", accPublic | accFinal},
		{"wait", "(J)V", accPublic | accFinal},
	}))

	add(makeBuiltinClass("java/lang/Class", "java/lang/Object", accPublic|accFinal, nil, nil, []bmethod{
		{"getName", "()Ljava/lang/String;", accPublic},
		{"isArray", "()Z", accPublic},
		{"isPrimitive", "()Z", accPublic},
		{"isInterface", "()Z", accPublic},
		{"getComponentType", "()Ljava/lang/Class;", accPublic},
		{"isInstance", "(Ljava/lang/Object;)Z", accPublic},
		{"isAssignableFrom", "(Ljava/lang/Class;)Z", accPublic},
	}))

	add(makeBuiltinClass("java/lang/Cloneable", "java/lang/Object", accPublic|accInterface|accAbstract, nil, nil, nil))
	add(makeBuiltinClass("java/io/Serializable", "java/lang/Object", accPublic|accInterface|accAbstract, nil, nil, nil))

	add(makeBuiltinClass("java/lang/String", "java/lang/Object",
		accPublic|accFinal, []string{"java/io/Serializable"}, nil, []bmethod{
			{"<init>", "()V", accPublic},
			{"length", "()I", accPublic},
			{"charAt", "(I)C", accPublic},
			{"hashCode", "()I", accPublic},
			{"equals", "(Ljava/lang/Object;)Z", accPublic},
			{"intern", "()Ljava/lang/String;", accPublic},
			{"concat", "(Ljava/lang/String;)Ljava/lang/String;", accPublic},
			{"toString", "()Ljava/lang/String;", accPublic},
			{"isEmpty", "()Z", accPublic},
		}))

	add(makeBuiltinClass("java/lang/StringBuilder", "java/lang/Object", accPublic|accFinal, nil, nil, []bmethod{
		{"<init>", "()V", accPublic},
		{"<init>", "(Ljava/lang/String;)V", accPublic},
		{"append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;", accPublic},
		{"append", "(I)Ljava/lang/StringBuilder;", accPublic},
		{"append", "(J)Ljava/lang/StringBuilder;", accPublic},
		{"append", "(C)Ljava/lang/StringBuilder;", accPublic},
		{"append", "(Z)Ljava/lang/StringBuilder;", accPublic},
		{"append", "(D)Ljava/lang/StringBuilder;", accPublic},
		{"append", "(Ljava/lang/Object;)Ljava/lang/StringBuilder;", accPublic},
		{"toString", "()Ljava/lang/String;", accPublic},
	}))

	add(makeBuiltinClass("java/io/PrintStream", "java/lang/Object", accPublic, nil, nil, []bmethod{
		{"println", "()V", accPublic},
		{"println", "(I)V", accPublic},
		{"println", "(J)V", accPublic},
		{"println", "(F)V", accPublic},
		{"println", "(D)V", accPublic},
		{"println", "(Z)V", accPublic},
		{"println", "(C)V", accPublic},
		{"println", "(Ljava/lang/String;)V", accPublic},
		{"println", "(Ljava/lang/Object;)V", accPublic},
		{"print", "(I)V", accPublic},
		{"print", "(J)V", accPublic},
		{"print", "(Ljava/lang/String;)V", accPublic},
		{"print", "(C)V", accPublic},
	}))

	sys := add(makeBuiltinClass("java/lang/System", "java/lang/Object", accPublic|accFinal,
		nil, []bfield{
			{"out", "Ljava/io/PrintStream;", accPublic | accStatic | accFinal},
			{"err", "Ljava/io/PrintStream;", accPublic | accStatic | accFinal},
		}, []bmethod{
			{"arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", accPublic | accStatic},
			{"nanoTime", "()J", accPublic | accStatic},
			{"currentTimeMillis", "()J", accPublic | accStatic},
			{"identityHashCode", "(Ljava/lang/Object;)I", accPublic | accStatic},
		}))
	sys.afterInit = func(vm *VM, t *Thread, rc *RuntimeClass) {
		outName := intern.AddString("out")
		errName := intern.AddString("err")
		if _, ok := rc.StaticValue(outName); !ok || rc.statics[outName].IsNull() {
			rc.SetStaticValue(outName, RefValue(vm.newPrintStream(t, vm.Stdout)))
			rc.SetStaticValue(errName, RefValue(vm.newPrintStream(t, vm.stderr())))
		}
	}

	add(makeBuiltinClass("java/lang/Thread", "java/lang/Object", accPublic, nil, nil, []bmethod{
		{"currentThread", "()Ljava/lang/Thread;", accPublic | accStatic},
		{"sleep", "(J)V", accPublic | accStatic},
		{"interrupt", "()V", accPublic},
		{"interrupted", "()Z", accPublic | accStatic},
	}))

	add(makeBuiltinClass("java/lang/Math", "java/lang/Object", accPublic|accFinal, nil, nil, []bmethod{
		{"sqrt", "(D)D", accPublic | accStatic},
		{"pow", "(DD)D", accPublic | accStatic},
		{"abs", "(I)I", accPublic | accStatic},
		{"min", "(II)I", accPublic | accStatic},
		{"max", "(II)I", accPublic | accStatic},
	}))

	add(makeBuiltinClass("java/lang/Float", "java/lang/Object", accPublic|accFinal, nil, nil, []bmethod{
		{"floatToRawIntBits", "(F)I", accPublic | accStatic},
		{"intBitsToFloat", "(I)F", accPublic | accStatic},
	}))
	add(makeBuiltinClass("java/lang/Double", "java/lang/Object", accPublic|accFinal, nil, nil, []bmethod{
		{"doubleToRawLongBits", "(D)J", accPublic | accStatic},
		{"longBitsToDouble", "(J)D", accPublic | accStatic},
	}))

	add(makeBuiltinClass("java/lang/Throwable", "java/lang/Object",
		accPublic, []string{"java/io/Serializable"}, nil, []bmethod{
			{"<init>", "()V", accPublic},
			{"<init>", "(Ljava/lang/String;)V", accPublic},
			{"getMessage", "()Ljava/lang/String;", accPublic},
			{"toString", "()Ljava/lang/String;", accPublic},
			{"fillInStackTrace", "()Ljava/lang/Throwable;", accPublic},
		}))

	// The throwable hierarchy: plain carriers, behavior inherited from
	// Throwable.
	hierarchy := []struct{ name, super string }{
		{"java/lang/Exception", "java/lang/Throwable"},
		{"java/lang/Error", "java/lang/Throwable"},
		{"java/lang/RuntimeException", "java/lang/Exception"},
		{"java/lang/ReflectiveOperationException", "java/lang/Exception"},
		{"java/lang/ClassNotFoundException", "java/lang/ReflectiveOperationException"},
		{"java/lang/VirtualMachineError", "java/lang/Error"},
		{"java/lang/LinkageError", "java/lang/Error"},
		{"java/lang/ClassFormatError", "java/lang/LinkageError"},
		{"java/lang/UnsupportedClassVersionError", "java/lang/ClassFormatError"},
		{"java/lang/NoClassDefFoundError", "java/lang/LinkageError"},
		{"java/lang/ClassCircularityError", "java/lang/LinkageError"},
		{"java/lang/VerifyError", "java/lang/LinkageError"},
		{"java/lang/ExceptionInInitializerError", "java/lang/LinkageError"},
		{"java/lang/UnsatisfiedLinkError", "java/lang/LinkageError"},
		{"java/lang/IncompatibleClassChangeError", "java/lang/LinkageError"},
		{"java/lang/InstantiationError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/AbstractMethodError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/NoSuchMethodError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/NoSuchFieldError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/OutOfMemoryError", "java/lang/VirtualMachineError"},
		{"java/lang/StackOverflowError", "java/lang/VirtualMachineError"},
		{"java/lang/NullPointerException", "java/lang/RuntimeException"},
		{"java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"},
		{"java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
		{"java/lang/ClassCastException", "java/lang/RuntimeException"},
		{"java/lang/ArithmeticException", "java/lang/RuntimeException"},
		{"java/lang/NegativeArraySizeException", "java/lang/RuntimeException"},
		{"java/lang/ArrayStoreException", "java/lang/RuntimeException"},
		{"java/lang/IllegalMonitorStateException", "java/lang/RuntimeException"},
		{"java/lang/IllegalArgumentException", "java/lang/RuntimeException"},
		{"java/lang/IllegalStateException", "java/lang/RuntimeException"},
		{"java/lang/InterruptedException", "java/lang/Exception"},
	}
	for _, h := range hierarchy {
		add(makeBuiltinClass(h.name, h.super, accPublic, nil, nil, []bmethod{
			{"<init>", "()V", accPublic},
			{"<init>", "(Ljava/lang/String;)V", accPublic},
		}))
	}
}
