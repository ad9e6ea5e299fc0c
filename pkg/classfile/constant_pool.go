package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

func cpErr(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedConstantPool, fmt.Sprintf(format, a...))
}

// parseConstantPool reads constant_pool_count-1 entries. The returned slice
// is 1-indexed; index 0 is nil, and the slot after each long/double entry is
// nil and must never be dereferenced.
func parseConstantPool(r io.Reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, fmt.Errorf("%w: constant pool tag at index %d", ErrTruncatedFile, i)
		}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, fmt.Errorf("%w: Utf8 length at index %d", ErrTruncatedFile, i)
			}
			raw := make([]byte, length)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, fmt.Errorf("%w: Utf8 bytes at index %d", ErrTruncatedFile, i)
			}
			s, err := DecodeMUTF8(raw)
			if err != nil {
				return nil, cpErr("Utf8 at index %d: %v", i, err)
			}
			pool[i] = &ConstantUtf8{Value: s}

		case TagInteger:
			var val int32
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return nil, fmt.Errorf("%w: Integer at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantInteger{Value: val}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("%w: Float at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong:
			var val int64
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return nil, fmt.Errorf("%w: Long at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantLong{Value: val}
			i++ // occupies two slots; the second stays nil

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("%w: Double at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			i++ // occupies two slots; the second stays nil

		case TagClass:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, fmt.Errorf("%w: Class at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantClass{NameIndex: nameIndex}

		case TagString:
			var stringIndex uint16
			if err := binary.Read(r, binary.BigEndian, &stringIndex); err != nil {
				return nil, fmt.Errorf("%w: String at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantString{StringIndex: stringIndex}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			var classIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &classIndex); err != nil {
				return nil, fmt.Errorf("%w: ref class_index at index %d", ErrTruncatedFile, i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, fmt.Errorf("%w: ref name_and_type_index at index %d", ErrTruncatedFile, i)
			}
			switch tag {
			case TagFieldref:
				pool[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			case TagMethodref:
				pool[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			default:
				pool[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			}

		case TagNameAndType:
			var nameIndex, descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, fmt.Errorf("%w: NameAndType at index %d", ErrTruncatedFile, i)
			}
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, fmt.Errorf("%w: NameAndType at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			var kind uint8
			var refIndex uint16
			if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
				return nil, fmt.Errorf("%w: MethodHandle at index %d", ErrTruncatedFile, i)
			}
			if err := binary.Read(r, binary.BigEndian, &refIndex); err != nil {
				return nil, fmt.Errorf("%w: MethodHandle at index %d", ErrTruncatedFile, i)
			}
			if kind < 1 || kind > 9 {
				return nil, cpErr("MethodHandle kind %d at index %d", kind, i)
			}
			pool[i] = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: refIndex}

		case TagMethodType:
			var descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, fmt.Errorf("%w: MethodType at index %d", ErrTruncatedFile, i)
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: descIndex}

		case TagDynamic, TagInvokeDynamic:
			var bsmIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &bsmIndex); err != nil {
				return nil, fmt.Errorf("%w: Dynamic at index %d", ErrTruncatedFile, i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, fmt.Errorf("%w: Dynamic at index %d", ErrTruncatedFile, i)
			}
			if tag == TagDynamic {
				pool[i] = &ConstantDynamic{BootstrapMethodAttrIndex: bsmIndex, NameAndTypeIndex: natIndex}
			} else {
				pool[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: bsmIndex, NameAndTypeIndex: natIndex}
			}

		default:
			return nil, cpErr("unknown tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	if index == 0 || int(index) >= len(pool) || pool[index] == nil {
		return "", cpErr("index %d out of range or reserved", index)
	}
	utf8, ok := pool[index].(*ConstantUtf8)
	if !ok {
		return "", cpErr("index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	if classIndex == 0 || int(classIndex) >= len(pool) || pool[classIndex] == nil {
		return "", cpErr("class index %d out of range or reserved", classIndex)
	}
	class, ok := pool[classIndex].(*ConstantClass)
	if !ok {
		return "", cpErr("index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// RefInfo holds a resolved symbolic reference: the target class plus the
// member's name and descriptor.
type RefInfo struct {
	ClassName  string
	Name       string
	Descriptor string
}

func resolveNameAndType(pool []ConstantPoolEntry, natIndex uint16) (name, desc string, err error) {
	if natIndex == 0 || int(natIndex) >= len(pool) || pool[natIndex] == nil {
		return "", "", cpErr("NameAndType index %d out of range", natIndex)
	}
	nat, ok := pool[natIndex].(*ConstantNameAndType)
	if !ok {
		return "", "", cpErr("index %d is not NameAndType", natIndex)
	}
	if name, err = GetUtf8(pool, nat.NameIndex); err != nil {
		return "", "", err
	}
	if desc, err = GetUtf8(pool, nat.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// ResolveRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func ResolveRef(pool []ConstantPoolEntry, index uint16) (*RefInfo, bool, error) {
	if index == 0 || int(index) >= len(pool) || pool[index] == nil {
		return nil, false, cpErr("ref index %d out of range or reserved", index)
	}
	var classIndex, natIndex uint16
	isInterface := false
	switch e := pool[index].(type) {
	case *ConstantFieldref:
		classIndex, natIndex = e.ClassIndex, e.NameAndTypeIndex
	case *ConstantMethodref:
		classIndex, natIndex = e.ClassIndex, e.NameAndTypeIndex
	case *ConstantInterfaceMethodref:
		classIndex, natIndex = e.ClassIndex, e.NameAndTypeIndex
		isInterface = true
	default:
		return nil, false, cpErr("index %d is not a member ref (tag=%d)", index, pool[index].Tag())
	}
	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, false, err
	}
	name, desc, err := resolveNameAndType(pool, natIndex)
	if err != nil {
		return nil, false, err
	}
	return &RefInfo{ClassName: className, Name: name, Descriptor: desc}, isInterface, nil
}
