package ccf

import (
	"encoding/binary"
	"fmt"

	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// codeReader decodes raw bytecode with bounds checking.
type codeReader struct {
	code []byte
	pos  int
}

func (r *codeReader) remaining() bool { return r.pos < len(r.code) }

func (r *codeReader) u8() (uint8, error) {
	if r.pos >= len(r.code) {
		return 0, fmt.Errorf("bytecode truncated at %d", r.pos)
	}
	v := r.code[r.pos]
	r.pos++
	return v, nil
}

func (r *codeReader) i8() (int8, error) {
	v, err := r.u8()
	return int8(v), err
}

func (r *codeReader) u16() (uint16, error) {
	if r.pos+2 > len(r.code) {
		return 0, fmt.Errorf("bytecode truncated at %d", r.pos)
	}
	v := binary.BigEndian.Uint16(r.code[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *codeReader) i16() (int16, error) {
	v, err := r.u16()
	return int16(v), err
}

func (r *codeReader) i32() (int32, error) {
	if r.pos+4 > len(r.code) {
		return 0, fmt.Errorf("bytecode truncated at %d", r.pos)
	}
	v := int32(binary.BigEndian.Uint32(r.code[r.pos : r.pos+4]))
	r.pos += 4
	return v, nil
}

// resolver resolves constant-pool operands during rewriting.
type resolver struct {
	pool []classfile.ConstantPoolEntry
}

func (rs *resolver) classType(index uint16) (intern.CPDType, error) {
	name, err := classfile.GetClassName(rs.pool, index)
	if err != nil {
		return intern.CPDType{}, err
	}
	return classNameToType(name)
}

func (rs *resolver) fieldRef(index uint16) (*FieldRef, error) {
	ref, _, err := classfile.ResolveRef(rs.pool, index)
	if err != nil {
		return nil, err
	}
	desc, err := intern.ParseFieldDescriptor(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	return &FieldRef{
		TargetClass: intern.AddString(ref.ClassName),
		Name:        intern.AddString(ref.Name),
		Desc:        desc,
	}, nil
}

func (rs *resolver) methodRef(index uint16) (*MethodRef, error) {
	ref, isInterface, err := classfile.ResolveRef(rs.pool, index)
	if err != nil {
		return nil, err
	}
	desc, err := intern.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	target, err := classNameToType(ref.ClassName)
	if err != nil {
		return nil, err
	}
	return &MethodRef{
		TargetClass: target,
		Name:        intern.AddString(ref.Name),
		Desc:        desc,
		DescID:      intern.AddString(ref.Descriptor),
		Interface:   isInterface,
	}, nil
}

// loadableConstant resolves an ldc-family or bootstrap-argument constant.
func (rs *resolver) loadableConstant(index uint16) (*Constant, error) {
	if index == 0 || int(index) >= len(rs.pool) || rs.pool[index] == nil {
		return nil, fmt.Errorf("constant index %d out of range", index)
	}
	switch e := rs.pool[index].(type) {
	case *classfile.ConstantInteger:
		return &Constant{Kind: ConstInt, Int: e.Value}, nil
	case *classfile.ConstantFloat:
		return &Constant{Kind: ConstFloat, Float: e.Value}, nil
	case *classfile.ConstantLong:
		return &Constant{Kind: ConstLong, Long: e.Value}, nil
	case *classfile.ConstantDouble:
		return &Constant{Kind: ConstDouble, Double: e.Value}, nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(rs.pool, e.StringIndex)
		if err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstString, Str: intern.AddString(s)}, nil
	case *classfile.ConstantClass:
		t, err := rs.classType(index)
		if err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstClass, Type: t}, nil
	case *classfile.ConstantMethodType:
		s, err := classfile.GetUtf8(rs.pool, e.DescriptorIndex)
		if err != nil {
			return nil, err
		}
		// the descriptor must parse even though only its text is kept
		if _, err := intern.ParseMethodDescriptor(s); err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstMethodType, Str: intern.AddString(s)}, nil
	case *classfile.ConstantMethodHandle:
		c := &Constant{Kind: ConstMethodHandle, HandleKind: e.ReferenceKind}
		switch e.ReferenceKind {
		case 1, 2, 3, 4: // getField..putStatic
			fr, err := rs.fieldRef(e.ReferenceIndex)
			if err != nil {
				return nil, err
			}
			c.HandleField = fr
		default: // invoke kinds
			mr, err := rs.methodRef(e.ReferenceIndex)
			if err != nil {
				return nil, err
			}
			c.HandleRef = mr
		}
		return c, nil
	default:
		return nil, fmt.Errorf("constant at %d (tag %d) is not loadable", index, rs.pool[index].Tag())
	}
}

func (rs *resolver) invokeDynamic(index uint16) (*InvokeDynamicRef, error) {
	if index == 0 || int(index) >= len(rs.pool) || rs.pool[index] == nil {
		return nil, fmt.Errorf("invokedynamic index %d out of range", index)
	}
	indy, ok := rs.pool[index].(*classfile.ConstantInvokeDynamic)
	if !ok {
		return nil, fmt.Errorf("constant at %d is not InvokeDynamic", index)
	}
	nat, ok := rs.pool[indy.NameAndTypeIndex].(*classfile.ConstantNameAndType)
	if !ok {
		return nil, fmt.Errorf("invokedynamic NameAndType index %d", indy.NameAndTypeIndex)
	}
	name, err := classfile.GetUtf8(rs.pool, nat.NameIndex)
	if err != nil {
		return nil, err
	}
	descStr, err := classfile.GetUtf8(rs.pool, nat.DescriptorIndex)
	if err != nil {
		return nil, err
	}
	desc, err := intern.ParseMethodDescriptor(descStr)
	if err != nil {
		return nil, err
	}
	return &InvokeDynamicRef{
		BootstrapIndex: indy.BootstrapMethodAttrIndex,
		Name:           intern.AddString(name),
		Desc:           desc,
		DescID:         intern.AddString(descStr),
	}, nil
}

// rewriteCode turns raw bytecode into the compressed instruction stream.
// Resolution failures are recorded on the instruction, not returned: they
// must only surface if the instruction executes.
func rewriteCode(code []byte, pool []classfile.ConstantPoolEntry) ([]Instruction, error) {
	r := &codeReader{code: code}
	rs := &resolver{pool: pool}
	var out []Instruction

	for r.remaining() {
		start := r.pos
		opByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		op := Op(opByte)
		in := Instruction{Offset: uint16(start), Op: op}

		switch op {
		// No operands.
		case OpNop, OpAconstNull,
			OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5,
			OpLconst0, OpLconst1, OpFconst0, OpFconst1, OpFconst2, OpDconst0, OpDconst1,
			OpIload0, OpIload1, OpIload2, OpIload3,
			OpLload0, OpLload1, OpLload2, OpLload3,
			OpFload0, OpFload1, OpFload2, OpFload3,
			OpDload0, OpDload1, OpDload2, OpDload3,
			OpAload0, OpAload1, OpAload2, OpAload3,
			OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload,
			OpIstore0, OpIstore1, OpIstore2, OpIstore3,
			OpLstore0, OpLstore1, OpLstore2, OpLstore3,
			OpFstore0, OpFstore1, OpFstore2, OpFstore3,
			OpDstore0, OpDstore1, OpDstore2, OpDstore3,
			OpAstore0, OpAstore1, OpAstore2, OpAstore3,
			OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore,
			OpPop, OpPop2, OpDup, OpDupX1, OpDupX2, OpDup2, OpDup2X1, OpDup2X2, OpSwap,
			OpIadd, OpLadd, OpFadd, OpDadd, OpIsub, OpLsub, OpFsub, OpDsub,
			OpImul, OpLmul, OpFmul, OpDmul, OpIdiv, OpLdiv, OpFdiv, OpDdiv,
			OpIrem, OpLrem, OpFrem, OpDrem, OpIneg, OpLneg, OpFneg, OpDneg,
			OpIshl, OpLshl, OpIshr, OpLshr, OpIushr, OpLushr,
			OpIand, OpLand, OpIor, OpLor, OpIxor, OpLxor,
			OpI2l, OpI2f, OpI2d, OpL2i, OpL2f, OpL2d, OpF2i, OpF2l, OpF2d,
			OpD2i, OpD2l, OpD2f, OpI2b, OpI2c, OpI2s,
			OpLcmp, OpFcmpl, OpFcmpg, OpDcmpl, OpDcmpg,
			OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn, OpReturn,
			OpArraylength, OpAthrow, OpMonitorenter, OpMonitorexit:
			// nothing to read

		case OpBipush:
			v, err := r.i8()
			if err != nil {
				return nil, err
			}
			in.Const = int32(v)

		case OpSipush:
			v, err := r.i16()
			if err != nil {
				return nil, err
			}
			in.Const = int32(v)

		case OpLdc:
			idx, err := r.u8()
			if err != nil {
				return nil, err
			}
			in.Ldc, in.ResolutionError = rs.loadableConstant(uint16(idx))
			if in.ResolutionError == nil && (in.Ldc.Kind == ConstLong || in.Ldc.Kind == ConstDouble) {
				in.ResolutionError = fmt.Errorf("ldc of category-2 constant at %d", idx)
				in.Ldc = nil
			}

		case OpLdcW, OpLdc2W:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			in.Ldc, in.ResolutionError = rs.loadableConstant(idx)
			if in.ResolutionError == nil {
				wide := in.Ldc.Kind == ConstLong || in.Ldc.Kind == ConstDouble
				if wide != (op == OpLdc2W) {
					in.ResolutionError = fmt.Errorf("constant category mismatch at %d", idx)
					in.Ldc = nil
				}
			}

		case OpIload, OpLload, OpFload, OpDload, OpAload,
			OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
			idx, err := r.u8()
			if err != nil {
				return nil, err
			}
			in.Index = uint16(idx)

		case OpIinc:
			idx, err := r.u8()
			if err != nil {
				return nil, err
			}
			c, err := r.i8()
			if err != nil {
				return nil, err
			}
			in.Index = uint16(idx)
			in.Const = int32(c)

		case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle,
			OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple,
			OpIfAcmpeq, OpIfAcmpne, OpGoto, OpJsr, OpIfnull, OpIfnonnull:
			off, err := r.i16()
			if err != nil {
				return nil, err
			}
			in.Target = int32(start) + int32(off)

		case OpGotoW, OpJsrW:
			off, err := r.i32()
			if err != nil {
				return nil, err
			}
			in.Target = int32(start) + off

		case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			in.Field, in.ResolutionError = rs.fieldRef(idx)

		case OpInvokevirtual, OpInvokespecial, OpInvokestatic:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			in.Method, in.ResolutionError = rs.methodRef(idx)

		case OpInvokeinterface:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			count, err := r.u8()
			if err != nil {
				return nil, err
			}
			if _, err := r.u8(); err != nil { // reserved zero byte
				return nil, err
			}
			in.Index = uint16(count)
			in.Method, in.ResolutionError = rs.methodRef(idx)

		case OpInvokedynamic:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			if _, err := r.u16(); err != nil { // two reserved zero bytes
				return nil, err
			}
			in.Indy, in.ResolutionError = rs.invokeDynamic(idx)

		case OpNew, OpAnewarray, OpCheckcast, OpInstanceof:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			in.Type, in.ResolutionError = rs.classType(idx)

		case OpNewarray:
			aty, err := r.u8()
			if err != nil {
				return nil, err
			}
			in.ATy = aty

		case OpMultianewarray:
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			dims, err := r.u8()
			if err != nil {
				return nil, err
			}
			in.Dims = dims
			in.Type, in.ResolutionError = rs.classType(idx)

		case OpWide:
			wideOp, err := r.u8()
			if err != nil {
				return nil, err
			}
			in.Op = Op(wideOp)
			in.Wide = true
			idx, err := r.u16()
			if err != nil {
				return nil, err
			}
			in.Index = idx
			if Op(wideOp) == OpIinc {
				c, err := r.i16()
				if err != nil {
					return nil, err
				}
				in.Const = int32(c)
			}

		case OpTableswitch:
			// 0-3 byte pad so default starts 4-aligned relative to the
			// start of the code array.
			for (r.pos % 4) != 0 {
				if _, err := r.u8(); err != nil {
					return nil, err
				}
			}
			def, err := r.i32()
			if err != nil {
				return nil, err
			}
			low, err := r.i32()
			if err != nil {
				return nil, err
			}
			high, err := r.i32()
			if err != nil {
				return nil, err
			}
			sw := &SwitchData{Default: int32(start) + def, Low: low, High: high}
			if high >= low {
				n := high - low + 1
				sw.Targets = make([]int32, n)
				for i := int32(0); i < n; i++ {
					off, err := r.i32()
					if err != nil {
						return nil, err
					}
					sw.Targets[i] = int32(start) + off
				}
			}
			// low > high is structurally decodable but invalid; the
			// verifier rejects it.
			in.Switch = sw

		case OpLookupswitch:
			for (r.pos % 4) != 0 {
				if _, err := r.u8(); err != nil {
					return nil, err
				}
			}
			def, err := r.i32()
			if err != nil {
				return nil, err
			}
			npairs, err := r.i32()
			if err != nil {
				return nil, err
			}
			if npairs < 0 {
				return nil, fmt.Errorf("lookupswitch npairs %d", npairs)
			}
			sw := &SwitchData{Default: int32(start) + def}
			sw.Pairs = make([]SwitchPair, npairs)
			for i := int32(0); i < npairs; i++ {
				match, err := r.i32()
				if err != nil {
					return nil, err
				}
				off, err := r.i32()
				if err != nil {
					return nil, err
				}
				sw.Pairs[i] = SwitchPair{Match: match, Target: int32(start) + off}
			}
			in.Switch = sw

		default:
			return nil, fmt.Errorf("unknown opcode 0x%02X at offset %d", opByte, start)
		}

		in.Size = uint16(r.pos - start)
		out = append(out, in)
	}

	return out, nil
}
