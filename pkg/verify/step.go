package verify

import (
	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
)

var (
	vInt    = ccf.VerificationType{Kind: ccf.VInt}
	vLong   = ccf.VerificationType{Kind: ccf.VLong}
	vFloat  = ccf.VerificationType{Kind: ccf.VFloat}
	vDouble = ccf.VerificationType{Kind: ccf.VDouble}
	vNull   = ccf.VerificationType{Kind: ccf.VNull}
)

func vRef(t intern.CPDType) ccf.VerificationType {
	return ccf.VerificationType{Kind: ccf.VReference, Type: t}
}

// step applies one instruction's stack and locals effect to f. branch is
// invoked for every explicit control-flow target with the state already
// reflecting the transfer. The terminal result is true when control does not
// fall through to the next instruction (goto, switches, returns, athrow).
func (ctx *Context) step(class *ccf.Class, m *ccf.Method, f *frame, in *ccf.Instruction, branch func(int32) error) (terminal bool, err error) {
	off := int(in.Offset)
	maxStack := int(m.Code.MaxStack)

	popKind := func(k ccf.VTKind) error {
		v, err := f.pop(off)
		if err != nil {
			return err
		}
		switch k {
		case ccf.VInt:
			if v.Kind != ccf.VInt {
				return errAt(off, "expected int, found %d", v.Kind)
			}
		case ccf.VLong, ccf.VFloat, ccf.VDouble:
			if v.Kind != k {
				return errAt(off, "category mismatch: expected %d, found %d", k, v.Kind)
			}
		case ccf.VReference:
			if v.Kind != ccf.VReference && v.Kind != ccf.VNull &&
				v.Kind != ccf.VUninitialized && v.Kind != ccf.VUninitializedThis {
				return errAt(off, "expected reference, found %d", v.Kind)
			}
		}
		return nil
	}
	push := func(v ccf.VerificationType) error { return f.push(v, maxStack, off) }
	binary := func(k ccf.VTKind, res ccf.VerificationType) error {
		if err := popKind(k); err != nil {
			return err
		}
		if err := popKind(k); err != nil {
			return err
		}
		return push(res)
	}
	shift := func(k ccf.VTKind, res ccf.VerificationType) error {
		if err := popKind(ccf.VInt); err != nil {
			return err
		}
		if err := popKind(k); err != nil {
			return err
		}
		return push(res)
	}
	unary := func(k ccf.VTKind, res ccf.VerificationType) error {
		if err := popKind(k); err != nil {
			return err
		}
		return push(res)
	}
	cmp := func(k ccf.VTKind) error {
		if err := popKind(k); err != nil {
			return err
		}
		if err := popKind(k); err != nil {
			return err
		}
		return push(vInt)
	}
	load := func(idx int, want ccf.VTKind) error {
		v, err := f.getLocal(idx, off)
		if err != nil {
			return err
		}
		if want == ccf.VReference {
			if v.Kind != ccf.VReference && v.Kind != ccf.VNull &&
				v.Kind != ccf.VUninitialized && v.Kind != ccf.VUninitializedThis {
				return errAt(off, "local %d is not a reference", idx)
			}
		} else if v.Kind != want {
			return errAt(off, "local %d holds kind %d, want %d", idx, v.Kind, want)
		}
		return push(v)
	}
	store := func(idx int) error {
		v, err := f.pop(off)
		if err != nil {
			return err
		}
		return f.setLocal(idx, v, off)
	}
	arrayLoad := func(res ccf.VerificationType, refElem bool) error {
		if err := popKind(ccf.VInt); err != nil {
			return err
		}
		arr, err := f.pop(off)
		if err != nil {
			return err
		}
		if refElem && arr.Kind == ccf.VReference && arr.Type.Kind == intern.KindArray {
			return push(vRef(arr.Type.ElemType()))
		}
		if refElem {
			return push(vRef(intern.ClassType(intern.JavaLangObject)))
		}
		return push(res)
	}
	arrayStore := func(k ccf.VTKind) error {
		if err := popKind(k); err != nil {
			return err
		}
		if err := popKind(ccf.VInt); err != nil {
			return err
		}
		return popKind(ccf.VReference)
	}
	condBranch := func(pops int, k ccf.VTKind) error {
		for i := 0; i < pops; i++ {
			if err := popKind(k); err != nil {
				return err
			}
		}
		return branch(in.Target)
	}
	invoke := func(ref *ccf.MethodRef, hasReceiver bool) error {
		if in.ResolutionError != nil {
			// the instruction throws at runtime; verification proceeds
			// with the declared descriptor unavailable, so stop checking
			// this path conservatively
			return errAt(off, "unresolvable invoke: %v", in.ResolutionError)
		}
		for i := len(ref.Desc.Args) - 1; i >= 0; i-- {
			want := cpdToVerification(ref.Desc.Args[i])
			got, err := f.pop(off)
			if err != nil {
				return err
			}
			if !ctx.isAssignable(got, want) {
				return errAt(off, "argument %d: %v not assignable to %v", i, got, want)
			}
		}
		if hasReceiver {
			recv, err := f.pop(off)
			if err != nil {
				return err
			}
			if in.Op == ccf.OpInvokespecial && ref.Name == intern.InitName {
				// <init> must consume an uninitialized value exactly once
				switch recv.Kind {
				case ccf.VUninitializedThis:
					initialized := vRef(intern.ClassType(class.Name))
					replaceAll(f, recv, initialized)
				case ccf.VUninitialized:
					replaceAll(f, recv, vRef(ref.TargetClass))
				default:
					return errAt(off, "<init> on already-initialized receiver")
				}
			} else if recv.Kind == ccf.VUninitialized || recv.Kind == ccf.VUninitializedThis {
				return errAt(off, "use of uninitialized receiver")
			}
		}
		if ref.Desc.Ret != intern.VoidType {
			return push(cpdToVerification(ref.Desc.Ret))
		}
		return nil
	}

	switch in.Op {
	case ccf.OpNop:
		return false, nil
	case ccf.OpAconstNull:
		return false, push(vNull)
	case ccf.OpIconstM1, ccf.OpIconst0, ccf.OpIconst1, ccf.OpIconst2, ccf.OpIconst3, ccf.OpIconst4, ccf.OpIconst5,
		ccf.OpBipush, ccf.OpSipush:
		return false, push(vInt)
	case ccf.OpLconst0, ccf.OpLconst1:
		return false, push(vLong)
	case ccf.OpFconst0, ccf.OpFconst1, ccf.OpFconst2:
		return false, push(vFloat)
	case ccf.OpDconst0, ccf.OpDconst1:
		return false, push(vDouble)

	case ccf.OpLdc, ccf.OpLdcW, ccf.OpLdc2W:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable constant: %v", in.ResolutionError)
		}
		switch in.Ldc.Kind {
		case ccf.ConstInt:
			return false, push(vInt)
		case ccf.ConstFloat:
			return false, push(vFloat)
		case ccf.ConstLong:
			return false, push(vLong)
		case ccf.ConstDouble:
			return false, push(vDouble)
		case ccf.ConstString:
			return false, push(vRef(intern.ClassType(intern.JavaLangString)))
		case ccf.ConstClass:
			return false, push(vRef(intern.ClassType(intern.JavaLangClass)))
		case ccf.ConstMethodType:
			return false, push(vRef(intern.ClassTypeNamed("java/lang/invoke/MethodType")))
		case ccf.ConstMethodHandle:
			return false, push(vRef(intern.ClassTypeNamed("java/lang/invoke/MethodHandle")))
		case ccf.ConstLiveObject:
			if ctx.GetLiveObjectType != nil {
				return false, push(vRef(ctx.GetLiveObjectType(in.Ldc.LiveIndex)))
			}
			return false, push(vRef(intern.ClassType(intern.JavaLangObject)))
		}
		return false, errAt(off, "bad constant kind")

	case ccf.OpIload:
		return false, load(int(in.Index), ccf.VInt)
	case ccf.OpLload:
		return false, load(int(in.Index), ccf.VLong)
	case ccf.OpFload:
		return false, load(int(in.Index), ccf.VFloat)
	case ccf.OpDload:
		return false, load(int(in.Index), ccf.VDouble)
	case ccf.OpAload:
		return false, load(int(in.Index), ccf.VReference)
	case ccf.OpIload0, ccf.OpIload1, ccf.OpIload2, ccf.OpIload3:
		return false, load(int(in.Op-ccf.OpIload0), ccf.VInt)
	case ccf.OpLload0, ccf.OpLload1, ccf.OpLload2, ccf.OpLload3:
		return false, load(int(in.Op-ccf.OpLload0), ccf.VLong)
	case ccf.OpFload0, ccf.OpFload1, ccf.OpFload2, ccf.OpFload3:
		return false, load(int(in.Op-ccf.OpFload0), ccf.VFloat)
	case ccf.OpDload0, ccf.OpDload1, ccf.OpDload2, ccf.OpDload3:
		return false, load(int(in.Op-ccf.OpDload0), ccf.VDouble)
	case ccf.OpAload0, ccf.OpAload1, ccf.OpAload2, ccf.OpAload3:
		return false, load(int(in.Op-ccf.OpAload0), ccf.VReference)

	case ccf.OpIaload, ccf.OpBaload, ccf.OpCaload, ccf.OpSaload:
		return false, arrayLoad(vInt, false)
	case ccf.OpLaload:
		return false, arrayLoad(vLong, false)
	case ccf.OpFaload:
		return false, arrayLoad(vFloat, false)
	case ccf.OpDaload:
		return false, arrayLoad(vDouble, false)
	case ccf.OpAaload:
		return false, arrayLoad(vNull, true)

	case ccf.OpIstore, ccf.OpLstore, ccf.OpFstore, ccf.OpDstore, ccf.OpAstore:
		return false, store(int(in.Index))
	case ccf.OpIstore0, ccf.OpIstore1, ccf.OpIstore2, ccf.OpIstore3:
		return false, store(int(in.Op - ccf.OpIstore0))
	case ccf.OpLstore0, ccf.OpLstore1, ccf.OpLstore2, ccf.OpLstore3:
		return false, store(int(in.Op - ccf.OpLstore0))
	case ccf.OpFstore0, ccf.OpFstore1, ccf.OpFstore2, ccf.OpFstore3:
		return false, store(int(in.Op - ccf.OpFstore0))
	case ccf.OpDstore0, ccf.OpDstore1, ccf.OpDstore2, ccf.OpDstore3:
		return false, store(int(in.Op - ccf.OpDstore0))
	case ccf.OpAstore0, ccf.OpAstore1, ccf.OpAstore2, ccf.OpAstore3:
		return false, store(int(in.Op - ccf.OpAstore0))

	case ccf.OpIastore, ccf.OpBastore, ccf.OpCastore, ccf.OpSastore:
		return false, arrayStore(ccf.VInt)
	case ccf.OpLastore:
		return false, arrayStore(ccf.VLong)
	case ccf.OpFastore:
		return false, arrayStore(ccf.VFloat)
	case ccf.OpDastore:
		return false, arrayStore(ccf.VDouble)
	case ccf.OpAastore:
		return false, arrayStore(ccf.VReference)

	case ccf.OpPop:
		v, err := f.pop(off)
		if err != nil {
			return false, err
		}
		if v.IsWide() {
			return false, errAt(off, "pop of category-2 value")
		}
		return false, nil
	case ccf.OpPop2:
		v, err := f.pop(off)
		if err != nil {
			return false, err
		}
		if !v.IsWide() {
			v2, err := f.pop(off)
			if err != nil {
				return false, err
			}
			if v2.IsWide() {
				return false, errAt(off, "pop2 splitting category-2 value")
			}
		}
		return false, nil

	case ccf.OpDup, ccf.OpDupX1, ccf.OpDupX2, ccf.OpDup2, ccf.OpDup2X1, ccf.OpDup2X2, ccf.OpSwap:
		return false, ctx.stepDup(f, in, maxStack)

	case ccf.OpIadd, ccf.OpIsub, ccf.OpImul, ccf.OpIdiv, ccf.OpIrem,
		ccf.OpIand, ccf.OpIor, ccf.OpIxor:
		return false, binary(ccf.VInt, vInt)
	case ccf.OpLadd, ccf.OpLsub, ccf.OpLmul, ccf.OpLdiv, ccf.OpLrem,
		ccf.OpLand, ccf.OpLor, ccf.OpLxor:
		return false, binary(ccf.VLong, vLong)
	case ccf.OpFadd, ccf.OpFsub, ccf.OpFmul, ccf.OpFdiv, ccf.OpFrem:
		return false, binary(ccf.VFloat, vFloat)
	case ccf.OpDadd, ccf.OpDsub, ccf.OpDmul, ccf.OpDdiv, ccf.OpDrem:
		return false, binary(ccf.VDouble, vDouble)
	case ccf.OpIshl, ccf.OpIshr, ccf.OpIushr:
		return false, binary(ccf.VInt, vInt)
	case ccf.OpLshl, ccf.OpLshr, ccf.OpLushr:
		return false, shift(ccf.VLong, vLong)
	case ccf.OpIneg:
		return false, unary(ccf.VInt, vInt)
	case ccf.OpLneg:
		return false, unary(ccf.VLong, vLong)
	case ccf.OpFneg:
		return false, unary(ccf.VFloat, vFloat)
	case ccf.OpDneg:
		return false, unary(ccf.VDouble, vDouble)

	case ccf.OpIinc:
		v, err := f.getLocal(int(in.Index), off)
		if err != nil {
			return false, err
		}
		if v.Kind != ccf.VInt {
			return false, errAt(off, "iinc of non-int local %d", in.Index)
		}
		return false, nil

	case ccf.OpI2l:
		return false, unary(ccf.VInt, vLong)
	case ccf.OpI2f:
		return false, unary(ccf.VInt, vFloat)
	case ccf.OpI2d:
		return false, unary(ccf.VInt, vDouble)
	case ccf.OpL2i:
		return false, unary(ccf.VLong, vInt)
	case ccf.OpL2f:
		return false, unary(ccf.VLong, vFloat)
	case ccf.OpL2d:
		return false, unary(ccf.VLong, vDouble)
	case ccf.OpF2i:
		return false, unary(ccf.VFloat, vInt)
	case ccf.OpF2l:
		return false, unary(ccf.VFloat, vLong)
	case ccf.OpF2d:
		return false, unary(ccf.VFloat, vDouble)
	case ccf.OpD2i:
		return false, unary(ccf.VDouble, vInt)
	case ccf.OpD2l:
		return false, unary(ccf.VDouble, vLong)
	case ccf.OpD2f:
		return false, unary(ccf.VDouble, vFloat)
	case ccf.OpI2b, ccf.OpI2c, ccf.OpI2s:
		return false, unary(ccf.VInt, vInt)

	case ccf.OpLcmp:
		return false, cmp(ccf.VLong)
	case ccf.OpFcmpl, ccf.OpFcmpg:
		return false, cmp(ccf.VFloat)
	case ccf.OpDcmpl, ccf.OpDcmpg:
		return false, cmp(ccf.VDouble)

	case ccf.OpIfeq, ccf.OpIfne, ccf.OpIflt, ccf.OpIfge, ccf.OpIfgt, ccf.OpIfle:
		return false, condBranch(1, ccf.VInt)
	case ccf.OpIfIcmpeq, ccf.OpIfIcmpne, ccf.OpIfIcmplt, ccf.OpIfIcmpge, ccf.OpIfIcmpgt, ccf.OpIfIcmple:
		return false, condBranch(2, ccf.VInt)
	case ccf.OpIfAcmpeq, ccf.OpIfAcmpne:
		return false, condBranch(2, ccf.VReference)
	case ccf.OpIfnull, ccf.OpIfnonnull:
		return false, condBranch(1, ccf.VReference)

	case ccf.OpGoto, ccf.OpGotoW:
		return true, branch(in.Target)

	case ccf.OpJsr, ccf.OpJsrW, ccf.OpRet:
		return false, errAt(off, "jsr/ret are not supported by the type checker")

	case ccf.OpTableswitch:
		if in.Switch.Low > in.Switch.High {
			return false, errAt(off, "tableswitch low %d > high %d", in.Switch.Low, in.Switch.High)
		}
		if err := popKind(ccf.VInt); err != nil {
			return false, err
		}
		for _, t := range in.Switch.Targets {
			if err := branch(t); err != nil {
				return false, err
			}
		}
		return true, branch(in.Switch.Default)

	case ccf.OpLookupswitch:
		if err := popKind(ccf.VInt); err != nil {
			return false, err
		}
		last := int64(-1 << 62)
		for _, p := range in.Switch.Pairs {
			if int64(p.Match) <= last {
				return false, errAt(off, "lookupswitch keys not sorted")
			}
			last = int64(p.Match)
			if err := branch(p.Target); err != nil {
				return false, err
			}
		}
		return true, branch(in.Switch.Default)

	case ccf.OpIreturn:
		if err := popKind(ccf.VInt); err != nil {
			return false, err
		}
		return true, checkReturnKind(m, intern.KindInt, off)
	case ccf.OpLreturn:
		if err := popKind(ccf.VLong); err != nil {
			return false, err
		}
		return true, checkReturnKind(m, intern.KindLong, off)
	case ccf.OpFreturn:
		if err := popKind(ccf.VFloat); err != nil {
			return false, err
		}
		return true, checkReturnKind(m, intern.KindFloat, off)
	case ccf.OpDreturn:
		if err := popKind(ccf.VDouble); err != nil {
			return false, err
		}
		return true, checkReturnKind(m, intern.KindDouble, off)
	case ccf.OpAreturn:
		if err := popKind(ccf.VReference); err != nil {
			return false, err
		}
		if !m.Desc.Ret.IsReference() {
			return false, errAt(off, "areturn from method returning %v", m.Desc.Ret)
		}
		return true, nil
	case ccf.OpReturn:
		if m.Desc.Ret != intern.VoidType {
			return false, errAt(off, "return from non-void method")
		}
		return true, nil

	case ccf.OpGetstatic:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable field: %v", in.ResolutionError)
		}
		return false, push(cpdToVerification(in.Field.Desc))
	case ccf.OpPutstatic:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable field: %v", in.ResolutionError)
		}
		v, err := f.pop(off)
		if err != nil {
			return false, err
		}
		if !ctx.isAssignable(v, cpdToVerification(in.Field.Desc)) {
			return false, errAt(off, "putstatic type mismatch")
		}
		return false, nil
	case ccf.OpGetfield:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable field: %v", in.ResolutionError)
		}
		if err := popKind(ccf.VReference); err != nil {
			return false, err
		}
		return false, push(cpdToVerification(in.Field.Desc))
	case ccf.OpPutfield:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable field: %v", in.ResolutionError)
		}
		v, err := f.pop(off)
		if err != nil {
			return false, err
		}
		if !ctx.isAssignable(v, cpdToVerification(in.Field.Desc)) {
			return false, errAt(off, "putfield type mismatch")
		}
		return false, popKind(ccf.VReference)

	case ccf.OpInvokevirtual, ccf.OpInvokespecial, ccf.OpInvokeinterface:
		return false, invoke(in.Method, true)
	case ccf.OpInvokestatic:
		return false, invoke(in.Method, false)
	case ccf.OpInvokedynamic:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable call site: %v", in.ResolutionError)
		}
		for i := len(in.Indy.Desc.Args) - 1; i >= 0; i-- {
			if _, err := f.pop(off); err != nil {
				return false, err
			}
		}
		if in.Indy.Desc.Ret != intern.VoidType {
			return false, push(cpdToVerification(in.Indy.Desc.Ret))
		}
		return false, nil

	case ccf.OpNew:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable class: %v", in.ResolutionError)
		}
		return false, push(ccf.VerificationType{Kind: ccf.VUninitialized, Offset: in.Offset})
	case ccf.OpNewarray:
		if err := popKind(ccf.VInt); err != nil {
			return false, err
		}
		return false, push(vRef(intern.ArrayOf(ccf.ATypeToCPD(in.ATy))))
	case ccf.OpAnewarray:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable class: %v", in.ResolutionError)
		}
		if err := popKind(ccf.VInt); err != nil {
			return false, err
		}
		return false, push(vRef(intern.ArrayOf(in.Type)))
	case ccf.OpMultianewarray:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable class: %v", in.ResolutionError)
		}
		if int(in.Dims) < 1 {
			return false, errAt(off, "multianewarray with 0 dimensions")
		}
		for i := 0; i < int(in.Dims); i++ {
			if err := popKind(ccf.VInt); err != nil {
				return false, err
			}
		}
		return false, push(vRef(in.Type))
	case ccf.OpArraylength:
		if err := popKind(ccf.VReference); err != nil {
			return false, err
		}
		return false, push(vInt)

	case ccf.OpAthrow:
		if err := popKind(ccf.VReference); err != nil {
			return false, err
		}
		return true, nil

	case ccf.OpCheckcast:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable class: %v", in.ResolutionError)
		}
		if err := popKind(ccf.VReference); err != nil {
			return false, err
		}
		return false, push(vRef(in.Type))
	case ccf.OpInstanceof:
		if in.ResolutionError != nil {
			return false, errAt(off, "unresolvable class: %v", in.ResolutionError)
		}
		if err := popKind(ccf.VReference); err != nil {
			return false, err
		}
		return false, push(vInt)

	case ccf.OpMonitorenter, ccf.OpMonitorexit:
		return false, popKind(ccf.VReference)

	default:
		return false, errAt(off, "unknown opcode 0x%02X", uint8(in.Op))
	}
}

func checkReturnKind(m *ccf.Method, k intern.Kind, off int) error {
	r := m.Desc.Ret.Kind
	switch k {
	case intern.KindInt:
		switch r {
		case intern.KindBoolean, intern.KindByte, intern.KindShort, intern.KindChar, intern.KindInt:
			return nil
		}
	default:
		if r == k {
			return nil
		}
	}
	return errAt(off, "return kind mismatch")
}

// stepDup implements the dup/swap family on slot categories.
func (ctx *Context) stepDup(f *frame, in *ccf.Instruction, maxStack int) error {
	off := int(in.Offset)
	pop1 := func() (ccf.VerificationType, error) {
		v, err := f.pop(off)
		if err != nil {
			return v, err
		}
		if v.IsWide() {
			return v, errAt(off, "category-2 value where category-1 expected")
		}
		return v, nil
	}
	push := func(vs ...ccf.VerificationType) error {
		for _, v := range vs {
			if err := f.push(v, maxStack, off); err != nil {
				return err
			}
		}
		return nil
	}

	switch in.Op {
	case ccf.OpDup:
		v, err := pop1()
		if err != nil {
			return err
		}
		return push(v, v)
	case ccf.OpDupX1:
		v1, err := pop1()
		if err != nil {
			return err
		}
		v2, err := pop1()
		if err != nil {
			return err
		}
		return push(v1, v2, v1)
	case ccf.OpDupX2:
		v1, err := pop1()
		if err != nil {
			return err
		}
		v2, err := f.pop(off)
		if err != nil {
			return err
		}
		if v2.IsWide() {
			return push(v1, v2, v1)
		}
		v3, err := pop1()
		if err != nil {
			return err
		}
		return push(v1, v3, v2, v1)
	case ccf.OpDup2:
		v1, err := f.pop(off)
		if err != nil {
			return err
		}
		if v1.IsWide() {
			return push(v1, v1)
		}
		v2, err := pop1()
		if err != nil {
			return err
		}
		return push(v2, v1, v2, v1)
	case ccf.OpDup2X1:
		v1, err := f.pop(off)
		if err != nil {
			return err
		}
		if v1.IsWide() {
			v2, err := pop1()
			if err != nil {
				return err
			}
			return push(v1, v2, v1)
		}
		v2, err := pop1()
		if err != nil {
			return err
		}
		v3, err := pop1()
		if err != nil {
			return err
		}
		return push(v2, v1, v3, v2, v1)
	case ccf.OpDup2X2:
		v1, err := f.pop(off)
		if err != nil {
			return err
		}
		if v1.IsWide() {
			v2, err := f.pop(off)
			if err != nil {
				return err
			}
			if v2.IsWide() {
				return push(v1, v2, v1)
			}
			v3, err := pop1()
			if err != nil {
				return err
			}
			return push(v1, v3, v2, v1)
		}
		v2, err := pop1()
		if err != nil {
			return err
		}
		v3, err := f.pop(off)
		if err != nil {
			return err
		}
		if v3.IsWide() {
			return push(v2, v1, v3, v2, v1)
		}
		v4, err := pop1()
		if err != nil {
			return err
		}
		return push(v2, v1, v4, v3, v2, v1)
	case ccf.OpSwap:
		v1, err := pop1()
		if err != nil {
			return err
		}
		v2, err := pop1()
		if err != nil {
			return err
		}
		return push(v1, v2)
	}
	return errAt(off, "bad dup opcode")
}

// replaceAll rewrites every occurrence of an uninitialized type with its
// initialized form, in locals and stack both.
func replaceAll(f *frame, from, to ccf.VerificationType) {
	for i := range f.locals {
		if f.locals[i] == from {
			f.locals[i] = to
		}
	}
	for i := range f.stack {
		if f.stack[i] == from {
			f.stack[i] = to
		}
	}
}
