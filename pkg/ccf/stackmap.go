package ccf

import (
	"fmt"

	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// VTKind enumerates compressed verification types.
type VTKind uint8

const (
	VTop VTKind = iota
	VInt
	VFloat
	VDouble
	VLong
	VNull
	VUninitializedThis
	VUninitialized
	VReference
)

// VerificationType is a compressed verification_type_info: references
// carry a CPDType instead of a constant-pool index.
type VerificationType struct {
	Kind   VTKind
	Type   intern.CPDType // VReference
	Offset uint16         // VUninitialized: offset of the new instruction
}

// IsWide reports whether the type occupies two slots.
func (v VerificationType) IsWide() bool {
	return v.Kind == VDouble || v.Kind == VLong
}

// Frame is a compressed StackMapFrame.
type Frame struct {
	Kind        classfile.FrameKind
	OffsetDelta uint16
	ChopCount   uint16
	Locals      []VerificationType
	Stack       []VerificationType
}

func compressVerificationType(raw classfile.VerificationTypeInfo, pool []classfile.ConstantPoolEntry) (VerificationType, error) {
	switch raw.Tag {
	case classfile.VTTop:
		return VerificationType{Kind: VTop}, nil
	case classfile.VTInteger:
		return VerificationType{Kind: VInt}, nil
	case classfile.VTFloat:
		return VerificationType{Kind: VFloat}, nil
	case classfile.VTDouble:
		return VerificationType{Kind: VDouble}, nil
	case classfile.VTLong:
		return VerificationType{Kind: VLong}, nil
	case classfile.VTNull:
		return VerificationType{Kind: VNull}, nil
	case classfile.VTUninitializedThis:
		return VerificationType{Kind: VUninitializedThis}, nil
	case classfile.VTUninitialized:
		return VerificationType{Kind: VUninitialized, Offset: raw.Offset}, nil
	case classfile.VTObject:
		name, err := classfile.GetClassName(pool, raw.CPIndex)
		if err != nil {
			return VerificationType{}, err
		}
		t, err := classNameToType(name)
		if err != nil {
			return VerificationType{}, err
		}
		return VerificationType{Kind: VReference, Type: t}, nil
	default:
		return VerificationType{}, fmt.Errorf("verification type tag %d", raw.Tag)
	}
}

// classNameToType turns a CONSTANT_Class payload into a CPDType. Array
// classes appear in Class entries in descriptor syntax.
func classNameToType(name string) (intern.CPDType, error) {
	if name == "" {
		return intern.CPDType{}, fmt.Errorf("empty class name")
	}
	if name[0] == '[' {
		return intern.ParseFieldDescriptor(name)
	}
	return intern.ClassTypeNamed(name), nil
}

func compressStackMap(frames []classfile.StackMapFrame, pool []classfile.ConstantPoolEntry) ([]Frame, error) {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		cf := Frame{
			Kind:        f.Kind,
			OffsetDelta: f.OffsetDelta,
			ChopCount:   f.ChopCount,
		}
		for _, l := range f.Locals {
			v, err := compressVerificationType(l, pool)
			if err != nil {
				return nil, err
			}
			cf.Locals = append(cf.Locals, v)
		}
		for _, s := range f.Stack {
			v, err := compressVerificationType(s, pool)
			if err != nil {
				return nil, err
			}
			cf.Stack = append(cf.Stack, v)
		}
		out = append(out, cf)
	}
	return out, nil
}
