package verify

import (
	"sort"

	"github.com/javelin-vm/javelin/pkg/ccf"
	"github.com/javelin-vm/javelin/pkg/classfile"
	"github.com/javelin-vm/javelin/pkg/intern"
)

// VerifyClass runs the verifier over every method with code and returns
// frames per method index.
func (ctx *Context) VerifyClass(class *ccf.Class) (map[int]*MethodFrames, error) {
	out := make(map[int]*MethodFrames)
	for i := range class.Methods {
		m := &class.Methods[i]
		if m.Code == nil {
			continue
		}
		frames, err := ctx.VerifyMethod(class, m)
		if err != nil {
			return nil, err
		}
		out[i] = frames
	}
	return out, nil
}

// VerifyMethod type-checks one method. Methods without a StackMapTable in a
// pre-50.0 classfile take the inference path (Java5Maybe). Other methods are
// checked against their StackMapTable, which may be empty; a branch target,
// exception handler or instruction after a terminal one that has no frame
// is a verify error.
func (ctx *Context) VerifyMethod(class *ccf.Class, m *ccf.Method) (*MethodFrames, error) {
	if m.Code.HasStackMap || !class.NeedsInference {
		return ctx.checkWithStackMap(class, m)
	}
	return ctx.inferFrames(class, m)
}

// logicalFrame mirrors the StackMapTable's view: locals without top
// padding. It is converted to the slot view before simulation.
type logicalFrame struct {
	locals []ccf.VerificationType
	stack  []ccf.VerificationType
}

// expandStackMap resolves frame deltas to absolute offsets and materializes
// full logical frames from the incremental encodings.
func (ctx *Context) expandStackMap(class *ccf.Class, m *ccf.Method) (map[uint16]logicalFrame, error) {
	init, err := initialFrame(class, m)
	if err != nil {
		return nil, err
	}
	// Collapse the initial slot locals back into logical form.
	running := slotsToLogical(init.locals)

	out := make(map[uint16]logicalFrame)
	offset := -1
	for _, f := range m.Code.StackMap {
		if offset < 0 {
			offset = int(f.OffsetDelta)
		} else {
			offset += int(f.OffsetDelta) + 1
		}
		if offset >= int(m.Code.ByteLength) {
			return nil, errAt(offset, "stack map frame beyond code length %d", m.Code.ByteLength)
		}

		switch f.Kind {
		case classfile.FrameSame, classfile.FrameSameExtended:
			out[uint16(offset)] = logicalFrame{locals: copyTypes(running), stack: nil}
		case classfile.FrameSameLocals1StackItem, classfile.FrameSameLocals1StackItemExtended:
			out[uint16(offset)] = logicalFrame{locals: copyTypes(running), stack: copyTypes(f.Stack)}
		case classfile.FrameChop:
			k := int(f.ChopCount)
			if k > len(running) {
				return nil, errAt(offset, "chop frame removes %d of %d locals", k, len(running))
			}
			running = running[:len(running)-k]
			out[uint16(offset)] = logicalFrame{locals: copyTypes(running), stack: nil}
		case classfile.FrameAppend:
			running = append(copyTypes(running), f.Locals...)
			out[uint16(offset)] = logicalFrame{locals: copyTypes(running), stack: nil}
		case classfile.FrameFull:
			running = copyTypes(f.Locals)
			out[uint16(offset)] = logicalFrame{locals: copyTypes(running), stack: copyTypes(f.Stack)}
		}
	}
	return out, nil
}

func copyTypes(in []ccf.VerificationType) []ccf.VerificationType {
	out := make([]ccf.VerificationType, len(in))
	copy(out, in)
	return out
}

func slotsToLogical(slots []ccf.VerificationType) []ccf.VerificationType {
	var out []ccf.VerificationType
	for i := 0; i < len(slots); i++ {
		v := slots[i]
		out = append(out, v)
		if v.IsWide() {
			i++ // skip the padding top
		}
	}
	// trailing tops are not part of the logical list
	for len(out) > 0 && out[len(out)-1].Kind == ccf.VTop {
		out = out[:len(out)-1]
	}
	return out
}

func logicalToSlots(lf logicalFrame, maxLocals, maxStack int, offset int) (*frame, error) {
	f := &frame{locals: make([]ccf.VerificationType, maxLocals)}
	for i := range f.locals {
		f.locals[i] = top
	}
	slot := 0
	for _, v := range lf.locals {
		w := 1
		if v.IsWide() {
			w = 2
		}
		if slot+w > maxLocals {
			return nil, errAt(offset, "frame locals exceed max_locals %d", maxLocals)
		}
		f.locals[slot] = v
		if w == 2 {
			f.locals[slot+1] = top
		}
		slot += w
	}
	for _, v := range lf.stack {
		if err := f.push(v, maxStack, offset); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// record stores a frame snapshot in both output forms.
func record(frames *MethodFrames, offset uint16, f *frame) {
	withTops := FrameInfo{
		Locals: copyTypes(f.locals),
		Stack:  stackWithTops(f.stack),
	}
	frames.WithTops[offset] = withTops
	frames.NoTops[offset] = FrameInfo{
		Locals: slotsToLogical(f.locals),
		Stack:  copyTypes(f.stack),
	}
}

func stackWithTops(stack []ccf.VerificationType) []ccf.VerificationType {
	var out []ccf.VerificationType
	for _, v := range stack {
		out = append(out, v)
		if v.IsWide() {
			out = append(out, top)
		}
	}
	return out
}

func (ctx *Context) checkWithStackMap(class *ccf.Class, m *ccf.Method) (*MethodFrames, error) {
	mapped, err := ctx.expandStackMap(class, m)
	if err != nil {
		return nil, err
	}

	frames := &MethodFrames{
		WithTops: make(map[uint16]FrameInfo),
		NoTops:   make(map[uint16]FrameInfo),
	}

	current, err := initialFrame(class, m)
	if err != nil {
		return nil, err
	}

	maxStack := int(m.Code.MaxStack)
	maxLocals := int(m.Code.MaxLocals)

	for i := range m.Code.Instructions {
		in := &m.Code.Instructions[i]
		off := in.Offset

		if lf, ok := mapped[off]; ok {
			next, err := logicalToSlots(lf, maxLocals, maxStack, int(off))
			if err != nil {
				return nil, err
			}
			current = next
		}
		if current == nil {
			return nil, errAt(int(off), "unreachable code without stack map frame")
		}

		record(frames, off, current)

		next := current.clone()
		terminal, err := ctx.step(class, m, next, in, func(target int32) error {
			if _, ok := mapped[uint16(target)]; !ok {
				return errAt(int(off), "branch target %d has no stack map frame", target)
			}
			if target < 0 || target >= int32(m.Code.ByteLength) {
				return errAt(int(off), "branch target %d outside code", target)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if terminal {
			current = nil
		} else {
			current = next
		}
	}

	// handler targets must be covered too
	for _, h := range m.Code.ExceptionTable {
		if _, ok := mapped[h.HandlerPC]; !ok {
			return nil, errAt(int(h.HandlerPC), "exception handler without stack map frame")
		}
	}

	return frames, nil
}

// inferFrames is the Java-5 fallback: one linear pass over the bytecode,
// seeding branch targets first-wins and widening conflicts. The result is
// partial but sufficient for compilation layout.
func (ctx *Context) inferFrames(class *ccf.Class, m *ccf.Method) (*MethodFrames, error) {
	frames := &MethodFrames{
		WithTops: make(map[uint16]FrameInfo),
		NoTops:   make(map[uint16]FrameInfo),
		Inferred: true,
	}

	current, err := initialFrame(class, m)
	if err != nil {
		return nil, err
	}

	pending := make(map[uint16]*frame)
	maxStack := int(m.Code.MaxStack)

	throwable := ccf.VerificationType{Kind: ccf.VReference, Type: intern.ClassType(intern.JavaLangThrowable)}

	for i := range m.Code.Instructions {
		in := &m.Code.Instructions[i]
		off := in.Offset

		if p, ok := pending[off]; ok {
			if current == nil {
				current = p
			} else {
				// join point: widen slot-wise, first-wins shape
				for j := range current.locals {
					current.locals[j] = ctx.merge(p.locals[j], current.locals[j])
				}
			}
		}
		if current == nil {
			// Unreachable in a single forward pass (e.g. code after goto
			// targeted only by back edges). Give it an empty frame; the
			// compiler treats inferred frames as partial.
			current, err = initialFrame(class, m)
			if err != nil {
				return nil, err
			}
			current.stack = nil
			current.slots = 0
			for j := range current.locals {
				current.locals[j] = top
			}
		}

		// Seed exception handlers covering this offset.
		for _, h := range m.Code.ExceptionTable {
			if off >= h.StartPC && off < h.EndPC {
				if _, ok := pending[h.HandlerPC]; !ok {
					hf := current.clone()
					hf.stack = nil
					hf.slots = 0
					catch := throwable
					if !h.CatchAll {
						catch = ccf.VerificationType{Kind: ccf.VReference, Type: intern.ClassType(h.CatchType)}
					}
					if err := hf.push(catch, maxStack, int(off)); err != nil {
						return nil, err
					}
					pending[h.HandlerPC] = hf
				}
			}
		}

		record(frames, off, current)

		next := current.clone()
		terminal, err := ctx.step(class, m, next, in, func(target int32) error {
			if target < 0 || target >= int32(m.Code.ByteLength) {
				return errAt(int(off), "branch target %d outside code", target)
			}
			t := uint16(target)
			if _, ok := pending[t]; !ok {
				saved := next.clone()
				saved.stack = copyTypes(next.stack)
				pending[t] = saved
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if terminal {
			current = nil
		} else {
			current = next
		}
	}

	return frames, nil
}

// Offsets returns the sorted instruction offsets covered by the frames.
func (mf *MethodFrames) Offsets() []uint16 {
	out := make([]uint16, 0, len(mf.NoTops))
	for off := range mf.NoTops {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
