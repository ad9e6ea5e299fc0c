package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// Versions accepted by the parser: Java 1.0.2 (45.0) through the newest
// release this VM understands. Classfiles below 50.0 carry no
// StackMapTable and take the type-inference verification path.
const (
	MinMajorVersion = 45
	MaxMajorVersion = 67
	// StackMapMajorVersion is the first version required to carry
	// StackMapTable attributes.
	StackMapMajorVersion = 50
)

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// ParseBytes parses a .class file held in memory.
func ParseBytes(b []byte) (*ClassFile, error) {
	return Parse(bytes.NewReader(b))
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: magic number", ErrTruncatedFile)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("%w: 0x%X", ErrBadMagic, magic)
	}

	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, fmt.Errorf("%w: minor version", ErrTruncatedFile)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, fmt.Errorf("%w: major version", ErrTruncatedFile)
	}
	if cf.MajorVersion < MinMajorVersion || cf.MajorVersion > MaxMajorVersion {
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, cf.MajorVersion, cf.MinorVersion)
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, fmt.Errorf("%w: constant pool count", ErrTruncatedFile)
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, err
	}
	cf.ConstantPool = pool

	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, fmt.Errorf("%w: access flags", ErrTruncatedFile)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return nil, fmt.Errorf("%w: this_class", ErrTruncatedFile)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return nil, fmt.Errorf("%w: super_class", ErrTruncatedFile)
	}

	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return nil, fmt.Errorf("%w: interfaces count", ErrTruncatedFile)
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := uint16(0); i < interfacesCount; i++ {
		if err := binary.Read(r, binary.BigEndian, &cf.Interfaces[i]); err != nil {
			return nil, fmt.Errorf("%w: interface %d", ErrTruncatedFile, i)
		}
	}

	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return nil, fmt.Errorf("%w: fields count", ErrTruncatedFile)
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return nil, err
	}

	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return nil, fmt.Errorf("%w: methods count", ErrTruncatedFile)
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return nil, err
	}

	if err := cf.parseClassAttributes(r); err != nil {
		return nil, err
	}

	return cf, nil
}

func parseFields(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, count)
	for i := uint16(0); i < count; i++ {
		var accessFlags, nameIndex, descIndex, attrCount uint16
		for _, p := range []*uint16{&accessFlags, &nameIndex, &descIndex, &attrCount} {
			if err := binary.Read(r, binary.BigEndian, p); err != nil {
				return nil, fmt.Errorf("%w: field %d header", ErrTruncatedFile, i)
			}
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("field %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("field %d descriptor: %w", i, err)
		}

		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}

		fi := FieldInfo{
			AccessFlags: accessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}
		for _, attr := range attrs {
			switch attr.Name {
			case "ConstantValue":
				if len(attr.Data) != 2 {
					return nil, fmt.Errorf("%w: ConstantValue of field %s", ErrMalformedAttribute, name)
				}
				fi.ConstantValueIndex = binary.BigEndian.Uint16(attr.Data)
			case "Signature":
				if len(attr.Data) == 2 {
					fi.Signature, _ = GetUtf8(pool, binary.BigEndian.Uint16(attr.Data))
				}
			case "Deprecated":
				fi.Deprecated = true
			}
		}
		fields[i] = fi
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, count)
	for i := uint16(0); i < count; i++ {
		var accessFlags, nameIndex, descIndex, attrCount uint16
		for _, p := range []*uint16{&accessFlags, &nameIndex, &descIndex, &attrCount} {
			if err := binary.Read(r, binary.BigEndian, p); err != nil {
				return nil, fmt.Errorf("%w: method %d header", ErrTruncatedFile, i)
			}
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("method %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("method %d descriptor: %w", i, err)
		}

		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", name, err)
		}

		m := MethodInfo{
			AccessFlags: accessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}

		for _, attr := range attrs {
			switch attr.Name {
			case "Code":
				code, err := parseCodeAttribute(attr.Data, pool)
				if err != nil {
					return nil, fmt.Errorf("Code of method %s: %w", name, err)
				}
				m.Code = code
			case "Exceptions":
				m.Exceptions, err = parseExceptionsAttribute(attr.Data)
				if err != nil {
					return nil, fmt.Errorf("Exceptions of method %s: %w", name, err)
				}
			case "Signature":
				if len(attr.Data) == 2 {
					m.Signature, _ = GetUtf8(pool, binary.BigEndian.Uint16(attr.Data))
				}
			case "Deprecated":
				m.Deprecated = true
			}
		}

		methods[i] = m
	}
	return methods, nil
}

func parseAttributeInfos(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := uint16(0); i < count; i++ {
		var nameIndex uint16
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, fmt.Errorf("%w: attribute %d name index", ErrTruncatedFile, i)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("%w: attribute %d length", ErrTruncatedFile, i)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("%w: attribute %d data", ErrTruncatedFile, i)
		}

		// An unresolvable name means we cannot even classify the
		// attribute; the data has been consumed, so skip it.
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			continue
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func (cf *ClassFile) parseClassAttributes(r io.Reader) error {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("%w: class attributes count", ErrTruncatedFile)
	}
	attrs, err := parseAttributeInfos(r, cf.ConstantPool, count)
	if err != nil {
		return err
	}
	cf.Attributes = attrs

	for _, attr := range attrs {
		switch attr.Name {
		case "SourceFile":
			if len(attr.Data) == 2 {
				cf.SourceFile, _ = GetUtf8(cf.ConstantPool, binary.BigEndian.Uint16(attr.Data))
			}
		case "BootstrapMethods":
			cf.BootstrapMethods, err = parseBootstrapMethods(attr.Data)
			if err != nil {
				return err
			}
		case "NestHost":
			if len(attr.Data) != 2 {
				return fmt.Errorf("%w: NestHost", ErrMalformedAttribute)
			}
			cf.NestHost = binary.BigEndian.Uint16(attr.Data)
		case "NestMembers":
			cf.NestMembers, err = parseU16Table(attr.Data, "NestMembers")
			if err != nil {
				return err
			}
		case "InnerClasses":
			cf.InnerClasses, err = parseInnerClasses(attr.Data)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: BootstrapMethods too short", ErrMalformedAttribute)
	}
	numMethods := binary.BigEndian.Uint16(data[0:2])
	offset := 2
	methods := make([]BootstrapMethod, numMethods)
	for i := uint16(0); i < numMethods; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("%w: BootstrapMethods truncated at method %d", ErrMalformedAttribute, i)
		}
		methodRef := binary.BigEndian.Uint16(data[offset : offset+2])
		numArgs := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		args := make([]uint16, numArgs)
		for j := uint16(0); j < numArgs; j++ {
			if offset+2 > len(data) {
				return nil, fmt.Errorf("%w: BootstrapMethods truncated at arg %d of method %d", ErrMalformedAttribute, j, i)
			}
			args[j] = binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
		}
		methods[i] = BootstrapMethod{MethodRef: methodRef, BootstrapArguments: args}
	}
	return methods, nil
}

func parseExceptionsAttribute(data []byte) ([]uint16, error) {
	return parseU16Table(data, "Exceptions")
}

func parseU16Table(data []byte, attrName string) ([]uint16, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %s too short", ErrMalformedAttribute, attrName)
	}
	n := binary.BigEndian.Uint16(data[0:2])
	if len(data) != 2+2*int(n) {
		return nil, fmt.Errorf("%w: %s length mismatch", ErrMalformedAttribute, attrName)
	}
	out := make([]uint16, n)
	for i := 0; i < int(n); i++ {
		out[i] = binary.BigEndian.Uint16(data[2+2*i : 4+2*i])
	}
	return out, nil
}

func parseInnerClasses(data []byte) ([]InnerClass, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: InnerClasses too short", ErrMalformedAttribute)
	}
	n := binary.BigEndian.Uint16(data[0:2])
	if len(data) != 2+8*int(n) {
		return nil, fmt.Errorf("%w: InnerClasses length mismatch", ErrMalformedAttribute)
	}
	out := make([]InnerClass, n)
	for i := 0; i < int(n); i++ {
		base := 2 + 8*i
		out[i] = InnerClass{
			InnerClassIndex: binary.BigEndian.Uint16(data[base : base+2]),
			OuterClassIndex: binary.BigEndian.Uint16(data[base+2 : base+4]),
			InnerNameIndex:  binary.BigEndian.Uint16(data[base+4 : base+6]),
			AccessFlags:     binary.BigEndian.Uint16(data[base+6 : base+8]),
		}
	}
	return out, nil
}
