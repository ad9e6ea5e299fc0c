package vm

import (
	"sync/atomic"

	"github.com/javelin-vm/javelin/pkg/intern"
)

// maxFrameDepth bounds nested method calls; exceeding it raises
// java.lang.StackOverflowError.
const maxFrameDepth = 2048

// Thread is one Java thread: a dedicated frame stack plus the per-thread
// bookkeeping the loader and init machinery need.
type Thread struct {
	ID int64
	vm *VM

	frames []*Frame

	// loading is the currently-loading set used for circularity
	// detection during recursive supertype loading.
	loading map[intern.CPDType]bool

	interrupted atomic.Bool
}

var nextThreadID int64

// NewThread creates a thread attached to the VM. IDs start at 1; 0 means
// "no thread" in init-owner fields.
func (vm *VM) NewThread() *Thread {
	return &Thread{
		ID:      atomic.AddInt64(&nextThreadID, 1),
		vm:      vm,
		loading: make(map[intern.CPDType]bool),
	}
}

// Interrupt sets the interrupted flag; blocked operations check it at
// defined points (monitor waits, sleeps).
func (t *Thread) Interrupt() { t.interrupted.Store(true) }

// Interrupted reports and clears the interrupted flag.
func (t *Thread) Interrupted() bool { return t.interrupted.Swap(false) }

func (t *Thread) pushFrame(f *Frame) *Throwable {
	if len(t.frames) >= maxFrameDepth {
		return t.vm.throw(t, "java/lang/StackOverflowError", "")
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *Thread) popFrame() {
	t.frames = t.frames[:len(t.frames)-1]
}

func (t *Thread) currentFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// captureTrace snapshots the frame stack, innermost first.
func (t *Thread) captureTrace() []TraceEntry {
	out := make([]TraceEntry, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		line := -1
		if f.Method.M.Code != nil {
			line = f.Method.M.Code.LineForPC(uint16(f.PC))
		}
		out = append(out, TraceEntry{
			Class:  f.Class.Name,
			Method: f.Method.M.Name,
			PC:     f.PC,
			Line:   line,
		})
	}
	return out
}
