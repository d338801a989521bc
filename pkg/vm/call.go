package vm

import "github.com/oisee/luago/pkg/value"

const maxCallMetamethodChain = 100

// resolveCallTarget follows __call metamethods until fn is itself a
// function value. Each hop prepends the previous target to the
// argument list, matching Lua's __call(self, ...) convention.
func (s *State) resolveCallTarget(fn value.Value, args []value.Value, depth int) (value.Value, []value.Value, error) {
	if fn.IsFunction() {
		return fn, args, nil
	}
	if depth > maxCallMetamethodChain {
		return value.Nil, nil, runtimeErrf(KindMetamethodRecursion, "'__call' chain too long; possible loop")
	}
	if fn.IsTable() {
		if mt := fn.Table().Metatable(); mt != nil {
			if callmm := mt.Get(value.Str("__call")); !callmm.IsNil() {
				newArgs := append([]value.Value{fn}, args...)
				return s.resolveCallTarget(callmm, newArgs, depth+1)
			}
		}
	}
	return value.Nil, nil, runtimeErrf(KindCallError, "attempt to call a %s value", fn.TypeName())
}

// execCall performs the CALL (tail=false) or TAILCALL (tail=true)
// opcode for caller's register A, with raw B/C operands.
func (s *State) execCall(caller *Frame, a, b, c int, tail bool) error {
	args := caller.rangeFrom(a+1, b)
	nresults := nresultsFromC(c)
	target, args, err := s.resolveCallTarget(caller.reg(a), args, 0)
	if err != nil {
		return err
	}
	switch callee := target.Callable().(type) {
	case *LuaClosure:
		if tail {
			caller.closeAll()
			newFrame := newLuaFrame(callee, args, caller.ExpectedReturns, caller.ReturnBase)
			s.frames[len(s.frames)-1] = newFrame
			return nil
		}
		if s.Depth() >= s.MaxCallDepth {
			return runtimeErrf(KindStackOverflow, "call nesting exceeds %d", s.MaxCallDepth)
		}
		newFrame := newLuaFrame(callee, args, nresults, a)
		s.frames = append(s.frames, newFrame)
		return nil
	case *NativeClosure:
		// TAILCALL on a native target falls back to an ordinary call:
		// the instruction stream always has a RETURN right after a
		// tail-call site, so the values land correctly either way.
		results, err := callee.Fn(s, args)
		if err != nil {
			return err
		}
		s.writeResults(caller, a, nresults, results)
		return nil
	default:
		return runtimeErrf(KindCallError, "attempt to call a %s value", target.TypeName())
	}
}

// writeResults places results (truncated/padded to nresults, or all
// of them if nresults < 0) into caller's registers starting at a, and
// updates caller.top so a following multret consumer (another CALL,
// RETURN, or SETLIST with B/C==0) sees the right range.
func (s *State) writeResults(caller *Frame, a, nresults int, results []value.Value) {
	adjusted := adjustReturns(results, nresults)
	for i, v := range adjusted {
		caller.setReg(a+i, v)
	}
	if nresults < 0 {
		caller.top = a + len(adjusted)
	} else {
		caller.top = len(caller.registers)
	}
}

// doReturn pops f off the frame stack, adjusts vals to
// f.ExpectedReturns, and delivers them either to the VM caller frame
// beneath it, or back to the Go-level caller of run() (signalled by
// done=true) when f.ReturnBase is the sentinel -1 State.Call uses for
// the outermost frame of a run.
func (s *State) doReturn(f *Frame, vals []value.Value) (result []value.Value, done bool) {
	f.closeAll()
	adjusted := adjustReturns(vals, f.ExpectedReturns)
	s.frames = s.frames[:len(s.frames)-1]
	if f.ReturnBase < 0 {
		return adjusted, true
	}
	caller := s.top()
	for i, v := range adjusted {
		caller.setReg(f.ReturnBase+i, v)
	}
	if f.ExpectedReturns < 0 {
		caller.top = f.ReturnBase + len(adjusted)
	} else {
		caller.top = len(caller.registers)
	}
	return nil, false
}

// run drives the dispatch loop for the frame most recently pushed
// onto s.frames, returning once that frame (and everything it calls)
// has returned.
func (s *State) run() ([]value.Value, error) {
	for {
		f := s.top()
		if f == nil {
			return nil, nil
		}
		if f.pc < 0 || f.pc >= len(f.Closure.Proto.Code) {
			return nil, runtimeErrf(KindCallError, "program counter out of range")
		}
		failingPC := f.pc
		ins := f.Closure.Proto.Code[f.pc]
		f.pc++
		if s.TraceExec {
			s.debugf("%s pc=%d depth=%d", ins.Op, failingPC, len(s.frames))
		}
		result, done, err := s.step(f, ins)
		if err != nil {
			if re, ok := err.(*RuntimeError); ok {
				err = re.withLocation(f.Closure.Proto.Source, f.Closure.Proto.LineAt(failingPC))
			}
			return nil, err
		}
		if done {
			return result, nil
		}
	}
}

// nresultsFromC decodes CALL/TAILCALL's C operand: 0 means "all
// results", otherwise C-1 results are expected.
func nresultsFromC(c int) int {
	if c == 0 {
		return -1
	}
	return c - 1
}

// rangeFrom reads a variable-width operand range starting at register
// a: b==0 means "from a to the frame's current top" (the multret
// convention CALL/RETURN/SETLIST share), otherwise it is exactly b-1
// values starting at a.
func (f *Frame) rangeFrom(a, b int) []value.Value {
	if b == 0 {
		if f.top <= a {
			return nil
		}
		return append([]value.Value(nil), f.registers[a:f.top]...)
	}
	n := b - 1
	vals := make([]value.Value, n)
	for i := 0; i < n; i++ {
		vals[i] = f.reg(a + i)
	}
	return vals
}
