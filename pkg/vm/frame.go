package vm

import (
	"fmt"

	"github.com/javelin-vm/javelin/pkg/ccf"
)

// Frame is one method activation: max_locals local cells, a max_stack
// operand stack of 8-byte cells, and the current bytecode position (an
// original byte offset, so exception tables and stack maps apply
// directly).
type Frame struct {
	Class  *RuntimeClass
	Method *Method
	Code   *ccf.Code

	Locals []Value
	stack  []Value
	sp     int

	// PC is the byte offset of the instruction being executed.
	PC int
}

// NewFrame allocates a frame for a method with code.
func NewFrame(m *Method) *Frame {
	code := m.M.Code
	return &Frame{
		Class:  m.Class,
		Method: m,
		Code:   code,
		Locals: make([]Value, code.MaxLocals),
		stack:  make([]Value, code.MaxStack),
	}
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	if f.sp >= len(f.stack) {
		panic(fmt.Sprintf("operand stack overflow: sp=%d max=%d", f.sp, len(f.stack)))
	}
	f.stack[f.sp] = v
	f.sp++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() Value {
	if f.sp <= 0 {
		panic("operand stack underflow")
	}
	f.sp--
	return f.stack[f.sp]
}

// Peek returns the top of stack without popping.
func (f *Frame) Peek() Value {
	return f.stack[f.sp-1]
}

// ClearStack resets the operand stack, used when entering a handler.
func (f *Frame) ClearStack() { f.sp = 0 }

// SetLocal writes a local variable cell.
func (f *Frame) SetLocal(i int, v Value) { f.Locals[i] = v }

// GetLocal reads a local variable cell.
func (f *Frame) GetLocal(i int) Value { return f.Locals[i] }
