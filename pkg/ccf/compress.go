package ccf

import (
	"fmt"

	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// Compress produces the execution-time representation of a raw classfile in
// a single pass, interning every exposed string and pre-resolving every
// constant-pool reference. After Compress the raw pool is no longer needed.
func Compress(cf *classfile.ClassFile) (*Class, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	c := &Class{
		MinorVersion: cf.MinorVersion,
		MajorVersion: cf.MajorVersion,
		AccessFlags:  cf.AccessFlags,
		Name:         intern.AddString(name),
		Super:        intern.InvalidStringID,
		SourceFile:   cf.SourceFile,
		NeedsInference: cf.MajorVersion < classfile.StackMapMajorVersion,
	}

	if cf.SuperClass != 0 {
		super, err := cf.SuperClassName()
		if err != nil {
			return nil, err
		}
		c.Super = intern.AddString(super)
		c.HasSuper = true
	}

	for _, ifIdx := range cf.Interfaces {
		ifName, err := classfile.GetClassName(cf.ConstantPool, ifIdx)
		if err != nil {
			return nil, err
		}
		c.Interfaces = append(c.Interfaces, intern.AddString(ifName))
	}

	rs := &resolver{pool: cf.ConstantPool}

	for i := range cf.Fields {
		f, err := compressField(&cf.Fields[i], rs)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", cf.Fields[i].Name, err)
		}
		c.Fields = append(c.Fields, f)
	}

	for i := range cf.Methods {
		m, err := compressMethod(&cf.Methods[i], cf.ConstantPool)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", cf.Methods[i].Name, cf.Methods[i].Descriptor, err)
		}
		c.Methods = append(c.Methods, m)
	}

	for _, bsm := range cf.BootstrapMethods {
		handle, err := rs.loadableConstant(bsm.MethodRef)
		if err != nil {
			return nil, fmt.Errorf("bootstrap method handle: %w", err)
		}
		if handle.Kind != ConstMethodHandle {
			return nil, fmt.Errorf("bootstrap method ref is not a MethodHandle")
		}
		cb := BootstrapMethod{Handle: handle}
		for _, argIdx := range bsm.BootstrapArguments {
			arg, err := rs.loadableConstant(argIdx)
			if err != nil {
				return nil, fmt.Errorf("bootstrap argument: %w", err)
			}
			cb.Args = append(cb.Args, *arg)
		}
		c.BootstrapMethods = append(c.BootstrapMethods, cb)
	}

	return c, nil
}

func compressField(fi *classfile.FieldInfo, rs *resolver) (Field, error) {
	desc, err := intern.ParseFieldDescriptor(fi.Descriptor)
	if err != nil {
		return Field{}, err
	}
	f := Field{
		AccessFlags: fi.AccessFlags,
		Name:        intern.AddString(fi.Name),
		Desc:        desc,
	}
	if fi.ConstantValueIndex != 0 {
		cv, err := rs.loadableConstant(fi.ConstantValueIndex)
		if err != nil {
			return Field{}, err
		}
		f.ConstantValue = cv
	}
	return f, nil
}

func compressMethod(mi *classfile.MethodInfo, pool []classfile.ConstantPoolEntry) (Method, error) {
	desc, err := intern.ParseMethodDescriptor(mi.Descriptor)
	if err != nil {
		return Method{}, err
	}
	m := Method{
		AccessFlags: mi.AccessFlags,
		Name:        intern.AddString(mi.Name),
		Desc:        desc,
		DescID:      intern.AddString(mi.Descriptor),
	}

	for _, exIdx := range mi.Exceptions {
		exName, err := classfile.GetClassName(pool, exIdx)
		if err != nil {
			return Method{}, err
		}
		m.Exceptions = append(m.Exceptions, intern.AddString(exName))
	}

	if mi.Code == nil {
		return m, nil
	}

	code := &Code{
		MaxStack:   mi.Code.MaxStack,
		MaxLocals:  mi.Code.MaxLocals,
		ByteLength: uint32(len(mi.Code.Code)),
	}

	code.Instructions, err = rewriteCode(mi.Code.Code, pool)
	if err != nil {
		return Method{}, err
	}
	code.byOffset = make(map[uint16]int, len(code.Instructions))
	for i := range code.Instructions {
		code.byOffset[code.Instructions[i].Offset] = i
	}

	for _, h := range mi.Code.ExceptionHandlers {
		entry := ExceptionEntry{
			StartPC:   h.StartPC,
			EndPC:     h.EndPC,
			HandlerPC: h.HandlerPC,
		}
		if h.CatchType == 0 {
			entry.CatchAll = true
		} else {
			catchName, err := classfile.GetClassName(pool, h.CatchType)
			if err != nil {
				return Method{}, err
			}
			entry.CatchType = intern.AddString(catchName)
		}
		code.ExceptionTable = append(code.ExceptionTable, entry)
	}

	if mi.Code.HasStackMapTable {
		code.StackMap, err = compressStackMap(mi.Code.StackMapTable, pool)
		if err != nil {
			return Method{}, err
		}
		code.HasStackMap = true
	}

	for _, ln := range mi.Code.LineNumbers {
		code.LineNumbers = append(code.LineNumbers, LineNumber{StartPC: ln.StartPC, Line: ln.Line})
	}

	m.Code = code
	return m, nil
}

// FindMethod finds a method by interned name and descriptor ID.
func (c *Class) FindMethod(name, descID intern.StringID) *Method {
	for i := range c.Methods {
		if c.Methods[i].Name == name && c.Methods[i].DescID == descID {
			return &c.Methods[i]
		}
	}
	return nil
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.AccessFlags&classfile.AccInterface != 0 }

// IsAbstract reports ACC_ABSTRACT.
func (c *Class) IsAbstract() bool { return c.AccessFlags&classfile.AccAbstract != 0 }

// LineForPC returns the source line covering a bytecode offset, or -1.
func (c *Code) LineForPC(pc uint16) int {
	line := -1
	for _, ln := range c.LineNumbers {
		if ln.StartPC <= pc {
			line = int(ln.Line)
		}
	}
	return line
}
