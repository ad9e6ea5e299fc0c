package vm

import (
	"fmt"
	"math"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/intern"
	"github.com/javelin-vm/javelin/pkg/trace"
)

// control tells the frame loop what to do after an instruction.
type control int

const (
	ctlNext control = iota
	ctlJump
	ctlReturn
)

// runFrame drives one frame's instruction loop. Thrown objects search this
// frame's exception table top-down; unhandled ones propagate to the caller
// through the Go return path, which walks the frame stack outward.
func (vm *VM) runFrame(t *Thread, f *Frame) (Value, *Throwable) {
	tracing := trace.InstTracing()
	for {
		in, ok := f.Code.InstructionAt(uint16(f.PC))
		if !ok {
			return Value{}, vm.throw(t, "java/lang/VerifyError",
				fmt.Sprintf("no instruction at pc %d", f.PC))
		}
		if tracing {
			trace.Inst(fmt.Sprintf("%s.%s pc=%d op=0x%02X sp=%d",
				intern.GetString(f.Class.Name), intern.GetString(f.Method.M.Name),
				f.PC, uint8(in.Op), f.sp))
		}

		ctl, ret, jump, th := vm.execInstruction(t, f, in)
		if th != nil {
			handler := vm.findHandler(t, f, uint16(in.Offset), th)
			if handler < 0 {
				return Value{}, th
			}
			f.ClearStack()
			f.Push(RefValue(th.Obj))
			f.PC = handler
			continue
		}

		switch ctl {
		case ctlReturn:
			return ret, nil
		case ctlJump:
			f.PC = jump
		default:
			f.PC = int(in.Offset) + int(in.Size)
		}
	}
}

// findHandler scans the frame's exception table top-down for an entry
// covering pc whose catch type matches the thrown object.
func (vm *VM) findHandler(t *Thread, f *Frame, pc uint16, th *Throwable) int {
	for _, h := range f.Code.ExceptionTable {
		if pc < h.StartPC || pc >= h.EndPC {
			continue
		}
		if h.CatchAll {
			return int(h.HandlerPC)
		}
		catch, err := vm.loadByName(t, f.Class.Loader, intern.GetString(h.CatchType))
		if err != nil {
			continue
		}
		if th.Obj != nil && th.Obj.Class != nil && th.Obj.Class.IsSubclassOf(catch) {
			return int(h.HandlerPC)
		}
	}
	return -1
}

// execInstruction executes one compressed instruction.
func (vm *VM) execInstruction(t *Thread, f *Frame, in *ccf.Instruction) (control, Value, int, *Throwable) {
	if in.ResolutionError != nil {
		// lazy resolution semantics: the recorded error surfaces here
		return ctlNext, Value{}, 0, vm.throw(t, "java/lang/LinkageError", in.ResolutionError.Error())
	}

	throwKind := func(class, msg string) (control, Value, int, *Throwable) {
		return ctlNext, Value{}, 0, vm.throw(t, class, msg)
	}
	next := func() (control, Value, int, *Throwable) { return ctlNext, Value{}, 0, nil }
	jump := func(target int32) (control, Value, int, *Throwable) { return ctlJump, Value{}, int(target), nil }
	ret := func(v Value) (control, Value, int, *Throwable) { return ctlReturn, v, 0, nil }
	fail := func(th *Throwable) (control, Value, int, *Throwable) { return ctlNext, Value{}, 0, th }

	switch in.Op {
	case ccf.OpNop:
		return next()

	// ---- constants ----
	case ccf.OpAconstNull:
		f.Push(NullValue())
	case ccf.OpIconstM1, ccf.OpIconst0, ccf.OpIconst1, ccf.OpIconst2, ccf.OpIconst3, ccf.OpIconst4, ccf.OpIconst5:
		f.Push(IntValue(int32(in.Op) - int32(ccf.OpIconst0)))
	case ccf.OpLconst0, ccf.OpLconst1:
		f.Push(LongValue(int64(in.Op - ccf.OpLconst0)))
	case ccf.OpFconst0, ccf.OpFconst1, ccf.OpFconst2:
		f.Push(FloatValue(float32(in.Op - ccf.OpFconst0)))
	case ccf.OpDconst0, ccf.OpDconst1:
		f.Push(DoubleValue(float64(in.Op - ccf.OpDconst0)))
	case ccf.OpBipush, ccf.OpSipush:
		f.Push(IntValue(in.Const))
	case ccf.OpLdc, ccf.OpLdcW, ccf.OpLdc2W:
		f.Push(vm.constantToValue(t, in.Ldc))

	// ---- loads ----
	case ccf.OpIload, ccf.OpLload, ccf.OpFload, ccf.OpDload, ccf.OpAload:
		f.Push(f.GetLocal(int(in.Index)))
	case ccf.OpIload0, ccf.OpIload1, ccf.OpIload2, ccf.OpIload3:
		f.Push(f.GetLocal(int(in.Op - ccf.OpIload0)))
	case ccf.OpLload0, ccf.OpLload1, ccf.OpLload2, ccf.OpLload3:
		f.Push(f.GetLocal(int(in.Op - ccf.OpLload0)))
	case ccf.OpFload0, ccf.OpFload1, ccf.OpFload2, ccf.OpFload3:
		f.Push(f.GetLocal(int(in.Op - ccf.OpFload0)))
	case ccf.OpDload0, ccf.OpDload1, ccf.OpDload2, ccf.OpDload3:
		f.Push(f.GetLocal(int(in.Op - ccf.OpDload0)))
	case ccf.OpAload0, ccf.OpAload1, ccf.OpAload2, ccf.OpAload3:
		f.Push(f.GetLocal(int(in.Op - ccf.OpAload0)))

	// ---- stores ----
	case ccf.OpIstore, ccf.OpLstore, ccf.OpFstore, ccf.OpDstore, ccf.OpAstore:
		f.SetLocal(int(in.Index), f.Pop())
	case ccf.OpIstore0, ccf.OpIstore1, ccf.OpIstore2, ccf.OpIstore3:
		f.SetLocal(int(in.Op-ccf.OpIstore0), f.Pop())
	case ccf.OpLstore0, ccf.OpLstore1, ccf.OpLstore2, ccf.OpLstore3:
		f.SetLocal(int(in.Op-ccf.OpLstore0), f.Pop())
	case ccf.OpFstore0, ccf.OpFstore1, ccf.OpFstore2, ccf.OpFstore3:
		f.SetLocal(int(in.Op-ccf.OpFstore0), f.Pop())
	case ccf.OpDstore0, ccf.OpDstore1, ccf.OpDstore2, ccf.OpDstore3:
		f.SetLocal(int(in.Op-ccf.OpDstore0), f.Pop())
	case ccf.OpAstore0, ccf.OpAstore1, ccf.OpAstore2, ccf.OpAstore3:
		f.SetLocal(int(in.Op-ccf.OpAstore0), f.Pop())

	// ---- array loads/stores ----
	case ccf.OpIaload, ccf.OpLaload, ccf.OpFaload, ccf.OpDaload,
		ccf.OpAaload, ccf.OpBaload, ccf.OpCaload, ccf.OpSaload:
		idx := f.Pop().Int()
		arrRef := f.Pop()
		cell, th := vm.arrayCell(t, arrRef, idx)
		if th != nil {
			return fail(th)
		}
		f.Push(*cell)
	case ccf.OpIastore, ccf.OpLastore, ccf.OpFastore, ccf.OpDastore,
		ccf.OpBastore, ccf.OpCastore, ccf.OpSastore:
		v := f.Pop()
		idx := f.Pop().Int()
		arrRef := f.Pop()
		cell, th := vm.arrayCell(t, arrRef, idx)
		if th != nil {
			return fail(th)
		}
		*cell = v
	case ccf.OpAastore:
		v := f.Pop()
		idx := f.Pop().Int()
		arrRef := f.Pop()
		cell, th := vm.arrayCell(t, arrRef, idx)
		if th != nil {
			return fail(th)
		}
		if v.Ref != nil {
			elem := arrRef.Ref.Arr.Elem
			if elem.IsReference() {
				ok, th := vm.isInstance(t, f.Class.Loader, v.Ref, elem)
				if th != nil {
					return fail(th)
				}
				if !ok {
					return throwKind("java/lang/ArrayStoreException", v.Ref.Type().JVMRepresentation())
				}
			}
		}
		*cell = v

	// ---- stack ops ----
	case ccf.OpPop:
		f.Pop()
	case ccf.OpPop2:
		if !f.Pop().IsWide() {
			f.Pop()
		}
	case ccf.OpDup:
		v := f.Peek()
		f.Push(v)
	case ccf.OpDupX1:
		v1 := f.Pop()
		v2 := f.Pop()
		f.Push(v1)
		f.Push(v2)
		f.Push(v1)
	case ccf.OpDupX2:
		v1 := f.Pop()
		v2 := f.Pop()
		if v2.IsWide() {
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
		} else {
			v3 := f.Pop()
			f.Push(v1)
			f.Push(v3)
			f.Push(v2)
			f.Push(v1)
		}
	case ccf.OpDup2:
		v1 := f.Pop()
		if v1.IsWide() {
			f.Push(v1)
			f.Push(v1)
		} else {
			v2 := f.Pop()
			f.Push(v2)
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
		}
	case ccf.OpDup2X1:
		v1 := f.Pop()
		if v1.IsWide() {
			v2 := f.Pop()
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
		} else {
			v2 := f.Pop()
			v3 := f.Pop()
			f.Push(v2)
			f.Push(v1)
			f.Push(v3)
			f.Push(v2)
			f.Push(v1)
		}
	case ccf.OpDup2X2:
		v1 := f.Pop()
		if v1.IsWide() {
			v2 := f.Pop()
			if v2.IsWide() {
				f.Push(v1)
				f.Push(v2)
				f.Push(v1)
			} else {
				v3 := f.Pop()
				f.Push(v1)
				f.Push(v3)
				f.Push(v2)
				f.Push(v1)
			}
		} else {
			v2 := f.Pop()
			v3 := f.Pop()
			if v3.IsWide() {
				f.Push(v2)
				f.Push(v1)
				f.Push(v3)
				f.Push(v2)
				f.Push(v1)
			} else {
				v4 := f.Pop()
				f.Push(v2)
				f.Push(v1)
				f.Push(v4)
				f.Push(v3)
				f.Push(v2)
				f.Push(v1)
			}
		}
	case ccf.OpSwap:
		v1 := f.Pop()
		v2 := f.Pop()
		f.Push(v1)
		f.Push(v2)

	// ---- int arithmetic ----
	case ccf.OpIadd:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 + v2))
	case ccf.OpIsub:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 - v2))
	case ccf.OpImul:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 * v2))
	case ccf.OpIdiv:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		if v2 == 0 {
			return throwKind("java/lang/ArithmeticException", "/ by zero")
		}
		f.Push(IntValue(v1 / v2))
	case ccf.OpIrem:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		if v2 == 0 {
			return throwKind("java/lang/ArithmeticException", "/ by zero")
		}
		f.Push(IntValue(v1 % v2))
	case ccf.OpIneg:
		f.Push(IntValue(-f.Pop().Int()))
	case ccf.OpIshl:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 << (uint(v2) & 31)))
	case ccf.OpIshr:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 >> (uint(v2) & 31)))
	case ccf.OpIushr:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(int32(uint32(v1) >> (uint(v2) & 31))))
	case ccf.OpIand:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 & v2))
	case ccf.OpIor:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 | v2))
	case ccf.OpIxor:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		f.Push(IntValue(v1 ^ v2))
	case ccf.OpIinc:
		v := f.GetLocal(int(in.Index))
		f.SetLocal(int(in.Index), IntValue(v.Int()+in.Const))

	// ---- long arithmetic ----
	case ccf.OpLadd:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(LongValue(v1 + v2))
	case ccf.OpLsub:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(LongValue(v1 - v2))
	case ccf.OpLmul:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(LongValue(v1 * v2))
	case ccf.OpLdiv:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		if v2 == 0 {
			return throwKind("java/lang/ArithmeticException", "/ by zero")
		}
		f.Push(LongValue(v1 / v2))
	case ccf.OpLrem:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		if v2 == 0 {
			return throwKind("java/lang/ArithmeticException", "/ by zero")
		}
		f.Push(LongValue(v1 % v2))
	case ccf.OpLneg:
		f.Push(LongValue(-f.Pop().Long()))
	case ccf.OpLshl:
		v2, v1 := f.Pop().Int(), f.Pop().Long()
		f.Push(LongValue(v1 << (uint(v2) & 63)))
	case ccf.OpLshr:
		v2, v1 := f.Pop().Int(), f.Pop().Long()
		f.Push(LongValue(v1 >> (uint(v2) & 63)))
	case ccf.OpLushr:
		v2, v1 := f.Pop().Int(), f.Pop().Long()
		f.Push(LongValue(int64(uint64(v1) >> (uint(v2) & 63))))
	case ccf.OpLand:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(LongValue(v1 & v2))
	case ccf.OpLor:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(LongValue(v1 | v2))
	case ccf.OpLxor:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(LongValue(v1 ^ v2))

	// ---- float/double arithmetic ----
	case ccf.OpFadd:
		v2, v1 := f.Pop().Float(), f.Pop().Float()
		f.Push(FloatValue(v1 + v2))
	case ccf.OpFsub:
		v2, v1 := f.Pop().Float(), f.Pop().Float()
		f.Push(FloatValue(v1 - v2))
	case ccf.OpFmul:
		v2, v1 := f.Pop().Float(), f.Pop().Float()
		f.Push(FloatValue(v1 * v2))
	case ccf.OpFdiv:
		v2, v1 := f.Pop().Float(), f.Pop().Float()
		f.Push(FloatValue(v1 / v2))
	case ccf.OpFrem:
		v2, v1 := f.Pop().Float(), f.Pop().Float()
		f.Push(FloatValue(float32(math.Mod(float64(v1), float64(v2)))))
	case ccf.OpFneg:
		f.Push(FloatValue(-f.Pop().Float()))
	case ccf.OpDadd:
		v2, v1 := f.Pop().Double(), f.Pop().Double()
		f.Push(DoubleValue(v1 + v2))
	case ccf.OpDsub:
		v2, v1 := f.Pop().Double(), f.Pop().Double()
		f.Push(DoubleValue(v1 - v2))
	case ccf.OpDmul:
		v2, v1 := f.Pop().Double(), f.Pop().Double()
		f.Push(DoubleValue(v1 * v2))
	case ccf.OpDdiv:
		v2, v1 := f.Pop().Double(), f.Pop().Double()
		f.Push(DoubleValue(v1 / v2))
	case ccf.OpDrem:
		v2, v1 := f.Pop().Double(), f.Pop().Double()
		f.Push(DoubleValue(math.Mod(v1, v2)))
	case ccf.OpDneg:
		f.Push(DoubleValue(-f.Pop().Double()))

	// ---- conversions ----
	case ccf.OpI2l:
		f.Push(LongValue(int64(f.Pop().Int())))
	case ccf.OpI2f:
		f.Push(FloatValue(float32(f.Pop().Int())))
	case ccf.OpI2d:
		f.Push(DoubleValue(float64(f.Pop().Int())))
	case ccf.OpL2i:
		f.Push(IntValue(int32(f.Pop().Long())))
	case ccf.OpL2f:
		f.Push(FloatValue(float32(f.Pop().Long())))
	case ccf.OpL2d:
		f.Push(DoubleValue(float64(f.Pop().Long())))
	case ccf.OpF2i:
		f.Push(IntValue(floatToInt32(float64(f.Pop().Float()))))
	case ccf.OpF2l:
		f.Push(LongValue(floatToInt64(float64(f.Pop().Float()))))
	case ccf.OpF2d:
		f.Push(DoubleValue(float64(f.Pop().Float())))
	case ccf.OpD2i:
		f.Push(IntValue(floatToInt32(f.Pop().Double())))
	case ccf.OpD2l:
		f.Push(LongValue(floatToInt64(f.Pop().Double())))
	case ccf.OpD2f:
		f.Push(FloatValue(float32(f.Pop().Double())))
	case ccf.OpI2b:
		f.Push(IntValue(int32(int8(f.Pop().Int()))))
	case ccf.OpI2c:
		f.Push(IntValue(int32(uint16(f.Pop().Int()))))
	case ccf.OpI2s:
		f.Push(IntValue(int32(int16(f.Pop().Int()))))

	// ---- comparisons ----
	case ccf.OpLcmp:
		v2, v1 := f.Pop().Long(), f.Pop().Long()
		f.Push(IntValue(cmp64(v1, v2)))
	case ccf.OpFcmpl, ccf.OpFcmpg:
		v2, v1 := float64(f.Pop().Float()), float64(f.Pop().Float())
		f.Push(IntValue(cmpFloat(v1, v2, in.Op == ccf.OpFcmpg)))
	case ccf.OpDcmpl, ccf.OpDcmpg:
		v2, v1 := f.Pop().Double(), f.Pop().Double()
		f.Push(IntValue(cmpFloat(v1, v2, in.Op == ccf.OpDcmpg)))

	// ---- branches ----
	case ccf.OpIfeq, ccf.OpIfne, ccf.OpIflt, ccf.OpIfge, ccf.OpIfgt, ccf.OpIfle:
		v := f.Pop().Int()
		if intCondition(in.Op, v, 0) {
			return jump(in.Target)
		}
	case ccf.OpIfIcmpeq, ccf.OpIfIcmpne, ccf.OpIfIcmplt, ccf.OpIfIcmpge, ccf.OpIfIcmpgt, ccf.OpIfIcmple:
		v2, v1 := f.Pop().Int(), f.Pop().Int()
		if intCondition(in.Op-(ccf.OpIfIcmpeq-ccf.OpIfeq), v1, v2) {
			return jump(in.Target)
		}
	case ccf.OpIfAcmpeq:
		v2, v1 := f.Pop(), f.Pop()
		if v1.Ref == v2.Ref {
			return jump(in.Target)
		}
	case ccf.OpIfAcmpne:
		v2, v1 := f.Pop(), f.Pop()
		if v1.Ref != v2.Ref {
			return jump(in.Target)
		}
	case ccf.OpIfnull:
		if f.Pop().IsNull() {
			return jump(in.Target)
		}
	case ccf.OpIfnonnull:
		if !f.Pop().IsNull() {
			return jump(in.Target)
		}
	case ccf.OpGoto, ccf.OpGotoW:
		return jump(in.Target)

	case ccf.OpTableswitch:
		v := f.Pop().Int()
		sw := in.Switch
		if v < sw.Low || v > sw.High {
			return jump(sw.Default)
		}
		return jump(sw.Targets[v-sw.Low])
	case ccf.OpLookupswitch:
		v := f.Pop().Int()
		for _, p := range in.Switch.Pairs {
			if p.Match == v {
				return jump(p.Target)
			}
		}
		return jump(in.Switch.Default)

	// ---- returns ----
	case ccf.OpIreturn, ccf.OpLreturn, ccf.OpFreturn, ccf.OpDreturn, ccf.OpAreturn:
		return ret(f.Pop())
	case ccf.OpReturn:
		return ret(Value{})

	// ---- fields ----
	case ccf.OpGetstatic:
		v, th := vm.getStatic(t, f.Class.Loader, in.Field)
		if th != nil {
			return fail(th)
		}
		f.Push(v)
	case ccf.OpPutstatic:
		v := f.Pop()
		if th := vm.putStatic(t, f.Class.Loader, in.Field, v); th != nil {
			return fail(th)
		}
	case ccf.OpGetfield:
		recv := f.Pop()
		if recv.IsNull() {
			return throwKind("java/lang/NullPointerException", "getfield "+intern.GetString(in.Field.Name))
		}
		slot, ok := recv.Ref.Class.FieldSlotFor(in.Field.Name)
		if !ok {
			return throwKind("java/lang/NoSuchFieldError", intern.GetString(in.Field.Name))
		}
		f.Push(recv.Ref.GetField(slot.Number))
	case ccf.OpPutfield:
		v := f.Pop()
		recv := f.Pop()
		if recv.IsNull() {
			return throwKind("java/lang/NullPointerException", "putfield "+intern.GetString(in.Field.Name))
		}
		slot, ok := recv.Ref.Class.FieldSlotFor(in.Field.Name)
		if !ok {
			return throwKind("java/lang/NoSuchFieldError", intern.GetString(in.Field.Name))
		}
		recv.Ref.SetField(slot.Number, v)

	// ---- invokes ----
	case ccf.OpInvokestatic:
		if th := vm.invokeStatic(t, f, in); th != nil {
			return fail(th)
		}
	case ccf.OpInvokespecial:
		if th := vm.invokeSpecial(t, f, in); th != nil {
			return fail(th)
		}
	case ccf.OpInvokevirtual:
		if th := vm.invokeVirtual(t, f, in); th != nil {
			return fail(th)
		}
	case ccf.OpInvokeinterface:
		if th := vm.invokeInterface(t, f, in); th != nil {
			return fail(th)
		}
	case ccf.OpInvokedynamic:
		if th := vm.invokeDynamic(t, f, in); th != nil {
			return fail(th)
		}

	// ---- allocation ----
	case ccf.OpNew:
		rc, err := vm.loadType(t, f.Class.Loader, in.Type)
		if err != nil {
			return fail(vm.errorToThrowable(t, err))
		}
		if th := vm.EnsureInitialized(t, rc); th != nil {
			return fail(th)
		}
		obj, th := vm.Instantiate(t, rc)
		if th != nil {
			return fail(th)
		}
		f.Push(RefValue(obj))
	case ccf.OpNewarray:
		length := f.Pop().Int()
		obj, th := vm.allocArray(t, ccf.ATypeToCPD(in.ATy), length)
		if th != nil {
			return fail(th)
		}
		f.Push(RefValue(obj))
	case ccf.OpAnewarray:
		length := f.Pop().Int()
		obj, th := vm.allocArray(t, in.Type, length)
		if th != nil {
			return fail(th)
		}
		f.Push(RefValue(obj))
	case ccf.OpMultianewarray:
		dims := make([]int32, in.Dims)
		for i := int(in.Dims) - 1; i >= 0; i-- {
			dims[i] = f.Pop().Int()
		}
		obj, th := vm.allocMultiArray(t, in.Type, dims)
		if th != nil {
			return fail(th)
		}
		f.Push(RefValue(obj))
	case ccf.OpArraylength:
		v := f.Pop()
		if v.IsNull() {
			return throwKind("java/lang/NullPointerException", "arraylength")
		}
		if v.Ref.Arr == nil {
			return throwKind("java/lang/VerifyError", "arraylength of non-array")
		}
		f.Push(IntValue(v.Ref.Arr.Length()))

	// ---- exceptions, casts, monitors ----
	case ccf.OpAthrow:
		v := f.Pop()
		if v.IsNull() {
			return throwKind("java/lang/NullPointerException", "athrow of null")
		}
		th := &Throwable{Obj: v.Ref, Trace: t.captureTrace()}
		return fail(th)

	case ccf.OpCheckcast:
		v := f.Peek()
		if !v.IsNull() {
			ok, th := vm.isInstance(t, f.Class.Loader, v.Ref, in.Type)
			if th != nil {
				return fail(th)
			}
			if !ok {
				return throwKind("java/lang/ClassCastException",
					v.Ref.Type().JVMRepresentation()+" cannot be cast to "+in.Type.JVMRepresentation())
			}
		}
	case ccf.OpInstanceof:
		v := f.Pop()
		if v.IsNull() {
			f.Push(IntValue(0))
		} else {
			ok, th := vm.isInstance(t, f.Class.Loader, v.Ref, in.Type)
			if th != nil {
				return fail(th)
			}
			if ok {
				f.Push(IntValue(1))
			} else {
				f.Push(IntValue(0))
			}
		}

	case ccf.OpMonitorenter:
		v := f.Pop()
		if v.IsNull() {
			return throwKind("java/lang/NullPointerException", "monitorenter")
		}
		vm.MonitorFor(v.Ref).Enter(t)
	case ccf.OpMonitorexit:
		v := f.Pop()
		if v.IsNull() {
			return throwKind("java/lang/NullPointerException", "monitorexit")
		}
		if !vm.MonitorFor(v.Ref).Exit(t) {
			return throwKind("java/lang/IllegalMonitorStateException", "")
		}

	case ccf.OpJsr, ccf.OpJsrW, ccf.OpRet:
		return throwKind("java/lang/VerifyError", "jsr/ret are not supported")

	default:
		return throwKind("java/lang/VerifyError", fmt.Sprintf("unknown opcode 0x%02X", uint8(in.Op)))
	}

	return next()
}

// arrayCell bounds-checks and returns the addressed element cell.
func (vm *VM) arrayCell(t *Thread, arrRef Value, idx int32) (*Value, *Throwable) {
	if arrRef.IsNull() {
		return nil, vm.throw(t, "java/lang/NullPointerException", "array access")
	}
	arr := arrRef.Ref.Arr
	if arr == nil {
		return nil, vm.throw(t, "java/lang/VerifyError", "array access on non-array")
	}
	if idx < 0 || idx >= arr.Length() {
		return nil, vm.throw(t, "java/lang/ArrayIndexOutOfBoundsException",
			fmt.Sprintf("Index %d out of bounds for length %d", idx, arr.Length()))
	}
	return &arr.Cells[idx], nil
}

// allocMultiArray recursively allocates a multi-dimensional array.
func (vm *VM) allocMultiArray(t *Thread, typ intern.CPDType, dims []int32) (*Object, *Throwable) {
	elem := typ.ElemType()
	arr, th := vm.allocArray(t, elem, dims[0])
	if th != nil {
		return nil, th
	}
	if len(dims) > 1 {
		for i := range arr.Arr.Cells {
			sub, th := vm.allocMultiArray(t, elem, dims[1:])
			if th != nil {
				return nil, th
			}
			arr.Arr.Cells[i] = RefValue(sub)
		}
	}
	return arr, nil
}

// getStatic reads a static variable, triggering initialization of the
// declaring class. The declaring class is found by walking up from the
// referenced class.
func (vm *VM) getStatic(t *Thread, loader LoaderName, ref *ccf.FieldRef) (Value, *Throwable) {
	rc, th := vm.findStaticOwner(t, loader, ref)
	if th != nil {
		return Value{}, th
	}
	if th := vm.EnsureInitialized(t, rc); th != nil {
		return Value{}, th
	}
	rc.staticMu.RLock()
	v, ok := rc.statics[ref.Name]
	rc.staticMu.RUnlock()
	if !ok {
		v = zeroValueFor(ref.Desc)
	}
	return v, nil
}

// putStatic writes a static variable after triggering initialization.
func (vm *VM) putStatic(t *Thread, loader LoaderName, ref *ccf.FieldRef, v Value) *Throwable {
	rc, th := vm.findStaticOwner(t, loader, ref)
	if th != nil {
		return th
	}
	if th := vm.EnsureInitialized(t, rc); th != nil {
		return th
	}
	rc.SetStaticValue(ref.Name, v)
	return nil
}

func (vm *VM) findStaticOwner(t *Thread, loader LoaderName, ref *ccf.FieldRef) (*RuntimeClass, *Throwable) {
	start, err := vm.loadByName(t, loader, intern.GetString(ref.TargetClass))
	if err != nil {
		return nil, vm.errorToThrowable(t, err)
	}
	for rc := start; rc != nil; rc = rc.Parent {
		rc.staticMu.RLock()
		_, ok := rc.staticTypes[ref.Name]
		rc.staticMu.RUnlock()
		if ok {
			return rc, nil
		}
		// the class may not be prepared yet; check the class view
		if rc.Class != nil && rc.Status() < StatusPrepared {
			for i := range rc.Class.Fields {
				fld := &rc.Class.Fields[i]
				if fld.Name == ref.Name && fld.AccessFlags&0x0008 != 0 {
					return rc, nil
				}
			}
		}
	}
	return start, nil
}

// isInstance implements the subtype test behind instanceof, checkcast and
// aastore.
func (vm *VM) isInstance(t *Thread, loader LoaderName, o *Object, target intern.CPDType) (bool, *Throwable) {
	if target.Kind == intern.KindArray {
		if o.Arr == nil {
			return false, nil
		}
		src := o.Type()
		if src == target {
			return true, nil
		}
		if src.Depth != target.Depth {
			// deeper arrays are objects at lower depths
			return src.Depth > target.Depth &&
				elemIsObjectLike(target), nil
		}
		se, te := src.ElemType(), target.ElemType()
		if !se.IsReference() || !te.IsReference() {
			return se == te, nil
		}
		srcElemRC, err := vm.loadType(t, loader, se)
		if err != nil {
			return false, vm.errorToThrowable(t, err)
		}
		tgtElemRC, err := vm.loadType(t, loader, te)
		if err != nil {
			return false, vm.errorToThrowable(t, err)
		}
		return srcElemRC.IsSubclassOf(tgtElemRC), nil
	}

	targetRC, err := vm.loadType(t, loader, target)
	if err != nil {
		return false, vm.errorToThrowable(t, err)
	}
	if o.Arr != nil {
		// arrays are instances of Object, Cloneable, Serializable
		name := intern.GetString(target.Name)
		return name == "java/lang/Object" || name == "java/lang/Cloneable" || name == "java/io/Serializable", nil
	}
	return o.Class.IsSubclassOf(targetRC), nil
}

func elemIsObjectLike(t intern.CPDType) bool {
	e := t.ElemType()
	if !e.IsReference() {
		return false
	}
	name := intern.GetString(e.Name)
	return name == "java/lang/Object" || name == "java/lang/Cloneable" || name == "java/io/Serializable"
}

// constantToValue materializes a loadable constant.
func (vm *VM) constantToValue(t *Thread, c *ccf.Constant) Value {
	switch c.Kind {
	case ccf.ConstInt:
		return IntValue(c.Int)
	case ccf.ConstFloat:
		return FloatValue(c.Float)
	case ccf.ConstLong:
		return LongValue(c.Long)
	case ccf.ConstDouble:
		return DoubleValue(c.Double)
	case ccf.ConstString:
		return RefValue(vm.InternString(t, intern.GetString(c.Str)))
	case ccf.ConstClass:
		rc, err := vm.loadType(t, BootstrapLoaderName, c.Type)
		if err != nil {
			return NullValue()
		}
		return RefValue(vm.MirrorFor(t, rc))
	case ccf.ConstLiveObject:
		if v, ok := vm.Classes.LiveObject(c.LiveIndex); ok {
			return v
		}
		return NullValue()
	default:
		return NullValue()
	}
}

func cmp64(a, b int64) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64, nanIsOne bool) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		if nanIsOne {
			return 1
		}
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func intCondition(op ccf.Op, v1, v2 int32) bool {
	switch op {
	case ccf.OpIfeq:
		return v1 == v2
	case ccf.OpIfne:
		return v1 != v2
	case ccf.OpIflt:
		return v1 < v2
	case ccf.OpIfge:
		return v1 >= v2
	case ccf.OpIfgt:
		return v1 > v2
	default:
		return v1 <= v2
	}
}

// floatToInt32 implements the JVM's saturating float-to-int conversion.
func floatToInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func floatToInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(v)
	}
}
