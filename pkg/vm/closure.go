package vm

import (
	"github.com/oisee/luago/pkg/chunk"
	"github.com/oisee/luago/pkg/value"
)

// Upvalue is the indirection a closure uses to reach a captured
// variable: open while the variable's owning frame is still live (it
// reads/writes straight into that frame's register), closed once
// lifted to the heap by CLOSE or by its owning frame returning.
type Upvalue struct {
	frame  *Frame
	index  int
	closed bool
	value  value.Value
}

// Get reads the upvalue's current value.
func (u *Upvalue) Get() value.Value {
	if u.closed {
		return u.value
	}
	return u.frame.registers[u.index]
}

// Set writes the upvalue's current value.
func (u *Upvalue) Set(v value.Value) {
	if u.closed {
		u.value = v
		return
	}
	u.frame.registers[u.index] = v
}

// Close lifts an open upvalue to the heap, copying the frame
// register's current value and detaching from the frame.
func (u *Upvalue) Close() {
	if u.closed {
		return
	}
	u.value = u.frame.registers[u.index]
	u.closed = true
	u.frame = nil
}

// LuaClosure is a runtime instance of a Prototype bound to a vector of
// upvalues. Many closures may share one Prototype.
type LuaClosure struct {
	Proto    *chunk.Prototype
	Upvalues []*Upvalue
}

// CallableKind implements value.Callable.
func (c *LuaClosure) CallableKind() value.Kind { return value.KindLuaClosure }

// NativeFunc is a host-provided callable registered into the VM. The
// State is always passed explicitly; a builtin never reaches for
// ambient interpreter state.
type NativeFunc func(s *State, args []value.Value) ([]value.Value, error)

// NativeClosure wraps a NativeFunc with a name used in error messages
// and disassembly.
type NativeClosure struct {
	Name string
	Fn   NativeFunc
}

// CallableKind implements value.Callable.
func (c *NativeClosure) CallableKind() value.Kind { return value.KindNativeClosure }

// Frame is one Lua closure activation: its register window, program
// counter and return bookkeeping. Native closures are invoked directly
// by Call and CALL without pushing a Frame, so Native is never set by
// the VM itself.
type Frame struct {
	// Lua closure activation.
	Closure   *LuaClosure
	registers []value.Value
	top       int // index one past the last valid register in "multret" mode
	varargs   []value.Value
	pc        int
	openUV    map[int]*Upvalue

	// Native closure activation (Closure is nil in this case).
	Native *NativeClosure

	// Call-return bookkeeping, shared by both kinds.
	ExpectedReturns int // -1 means "all values"
	ReturnBase      int // caller-relative register index for returns
}

// newLuaFrame allocates a fresh register window for a Lua closure
// activation: the window
// is sized to max_stack_size and filled with Nil, the first
// num_params arguments are copied into registers 0..num_params-1, any
// surplus goes into the vararg buffer iff the prototype is vararg,
// and missing parameters stay Nil.
func newLuaFrame(c *LuaClosure, args []value.Value, expectedReturns, returnBase int) *Frame {
	p := c.Proto
	f := &Frame{
		Closure:         c,
		registers:       make([]value.Value, p.MaxStackSize),
		ExpectedReturns: expectedReturns,
		ReturnBase:      returnBase,
	}
	f.top = len(f.registers)
	n := p.NumParams
	for i := 0; i < n && i < len(args); i++ {
		f.registers[i] = args[i]
	}
	if len(args) > n && p.IsVararg.IsVararg() {
		f.varargs = append([]value.Value(nil), args[n:]...)
	}
	return f
}

// ensureReg grows the register window so index idx is addressable,
// used by multret results (CALL with C==0, VARARG with B==0) which
// can legally exceed the statically declared max_stack_size.
func (f *Frame) ensureReg(idx int) {
	for len(f.registers) <= idx {
		f.registers = append(f.registers, value.Nil)
	}
}

func (f *Frame) setReg(idx int, v value.Value) {
	f.ensureReg(idx)
	f.registers[idx] = v
}

func (f *Frame) reg(idx int) value.Value {
	if idx < 0 || idx >= len(f.registers) {
		return value.Nil
	}
	return f.registers[idx]
}

// openUpvalue returns (creating if necessary) the open upvalue for
// register idx of this frame, so that multiple closures created over
// the same loop iteration share one indirection.
func (f *Frame) openUpvalue(idx int) *Upvalue {
	if f.openUV == nil {
		f.openUV = make(map[int]*Upvalue)
	}
	if uv, ok := f.openUV[idx]; ok {
		return uv
	}
	uv := &Upvalue{frame: f, index: idx}
	f.openUV[idx] = uv
	return uv
}

// closeFrom closes every open upvalue at or above register idx,
// implementing the CLOSE opcode.
func (f *Frame) closeFrom(idx int) {
	for i, uv := range f.openUV {
		if i >= idx {
			uv.Close()
			delete(f.openUV, i)
		}
	}
}

// closeAll closes every open upvalue, called when a Lua frame returns
// so upvalues captured by closures that outlive the frame keep their
// last value.
func (f *Frame) closeAll() {
	for i, uv := range f.openUV {
		uv.Close()
		delete(f.openUV, i)
	}
}
