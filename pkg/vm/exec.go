package vm

import (
	"github.com/oisee/luago/pkg/chunk"
	"github.com/oisee/luago/pkg/value"
)

// listFieldsPerFlush mirrors Lua 5.1's LFIELDS_PER_FLUSH: SETLIST's C
// operand counts array batches in units of this many elements.
const listFieldsPerFlush = 50

// rk resolves an RK-encoded operand against f's own registers and its
// prototype's constant pool.
func (f *Frame) rk(v int) value.Value {
	if chunk.IsRKConstant(v) {
		return f.Closure.Proto.Constants[chunk.RKConstantIndex(v)]
	}
	return f.reg(v)
}

// step executes one instruction of frame f. done reports whether f
// (the frame current when step was entered) has returned to the
// Go-level caller of run (f.ReturnBase < 0); result holds its return
// values in that case. A return into a VM caller frame reports false.
func (s *State) step(f *Frame, ins chunk.Instruction) (result []value.Value, done bool, err error) {
	switch ins.Op {
	case chunk.OpMove:
		f.setReg(ins.A, f.reg(ins.B))

	case chunk.OpLoadK:
		f.setReg(ins.A, f.Closure.Proto.Constants[ins.Bx])

	case chunk.OpLoadBool:
		f.setReg(ins.A, value.Bool(ins.B != 0))
		if ins.C != 0 {
			f.pc++
		}

	case chunk.OpLoadNil:
		for i := ins.A; i <= ins.B; i++ {
			f.setReg(i, value.Nil)
		}

	case chunk.OpGetUpval:
		f.setReg(ins.A, f.Closure.Upvalues[ins.B].Get())

	case chunk.OpSetUpval:
		f.Closure.Upvalues[ins.B].Set(f.reg(ins.A))

	case chunk.OpGetGlobal:
		name := f.Closure.Proto.Constants[ins.Bx].AsString()
		v, e := s.Index(value.FromTable(s.globals), value.Str(name))
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpSetGlobal:
		name := f.Closure.Proto.Constants[ins.Bx].AsString()
		if e := s.NewIndex(value.FromTable(s.globals), value.Str(name), f.reg(ins.A)); e != nil {
			return nil, false, e
		}

	case chunk.OpGetTable:
		v, e := s.Index(f.reg(ins.B), f.rk(ins.C))
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpSetTable:
		if e := s.NewIndex(f.reg(ins.A), f.rk(ins.B), f.rk(ins.C)); e != nil {
			return nil, false, e
		}

	case chunk.OpNewTable:
		f.setReg(ins.A, value.FromTable(value.NewTable(ins.B, ins.C)))

	case chunk.OpSelf:
		obj := f.reg(ins.B)
		f.setReg(ins.A+1, obj)
		v, e := s.Index(obj, f.rk(ins.C))
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpAdd, chunk.OpSub, chunk.OpMul, chunk.OpDiv, chunk.OpMod, chunk.OpPow:
		v, e := s.binArith(ins.Op, f.rk(ins.B), f.rk(ins.C))
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpUnm:
		v, e := s.Unm(f.reg(ins.B))
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpNot:
		f.setReg(ins.A, value.Bool(!f.reg(ins.B).ToBoolean()))

	case chunk.OpLen:
		v, e := s.Length(f.reg(ins.B))
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpConcat:
		v, e := s.concatRange(f, ins.B, ins.C)
		if e != nil {
			return nil, false, e
		}
		f.setReg(ins.A, v)

	case chunk.OpJmp:
		if ins.A > 0 {
			f.closeFrom(ins.A - 1)
		}
		f.pc += ins.SBx

	case chunk.OpEq:
		eq, e := s.Eq(f.rk(ins.B), f.rk(ins.C))
		if e != nil {
			return nil, false, e
		}
		if eq != (ins.A != 0) {
			f.pc++
		}

	case chunk.OpLt:
		lt, e := s.Lt(f.rk(ins.B), f.rk(ins.C))
		if e != nil {
			return nil, false, e
		}
		if lt != (ins.A != 0) {
			f.pc++
		}

	case chunk.OpLe:
		le, e := s.Le(f.rk(ins.B), f.rk(ins.C))
		if e != nil {
			return nil, false, e
		}
		if le != (ins.A != 0) {
			f.pc++
		}

	case chunk.OpTest:
		if f.reg(ins.A).ToBoolean() != (ins.C != 0) {
			f.pc++
		}

	case chunk.OpTestSet:
		rb := f.reg(ins.B)
		if rb.ToBoolean() == (ins.C != 0) {
			f.setReg(ins.A, rb)
		} else {
			f.pc++
		}

	case chunk.OpCall:
		if e := s.execCall(f, ins.A, ins.B, ins.C, false); e != nil {
			return nil, false, e
		}

	case chunk.OpTailCall:
		if e := s.execCall(f, ins.A, ins.B, ins.C, true); e != nil {
			return nil, false, e
		}

	case chunk.OpReturn:
		vals := f.rangeFrom(ins.A, ins.B)
		res, d := s.doReturn(f, vals)
		return res, d, nil

	case chunk.OpForPrep:
		if e := s.forPrep(f, ins); e != nil {
			return nil, false, e
		}

	case chunk.OpForLoop:
		s.forLoop(f, ins)

	case chunk.OpTForLoop:
		if e := s.tForLoop(f, ins); e != nil {
			return nil, false, e
		}

	case chunk.OpSetList:
		s.setList(f, ins)

	case chunk.OpClose:
		f.closeFrom(ins.A)

	case chunk.OpClosure:
		s.makeClosure(f, ins)

	case chunk.OpVararg:
		s.vararg(f, ins)

	default:
		return nil, false, runtimeErrf(KindTypeError, "unimplemented opcode %s", ins.Op)
	}
	return nil, false, nil
}

func (s *State) binArith(op chunk.OpCode, a, b value.Value) (value.Value, error) {
	switch op {
	case chunk.OpAdd:
		return s.Add(a, b)
	case chunk.OpSub:
		return s.Sub(a, b)
	case chunk.OpMul:
		return s.Mul(a, b)
	case chunk.OpDiv:
		return s.Div(a, b)
	case chunk.OpMod:
		return s.Mod(a, b)
	case chunk.OpPow:
		return s.Pow(a, b)
	}
	panic("vm: binArith called with non-arithmetic opcode")
}

// concatRange folds R(b) through R(c) right to left.
func (s *State) concatRange(f *Frame, b, c int) (value.Value, error) {
	acc := f.reg(c)
	for i := c - 1; i >= b; i-- {
		var err error
		acc, err = s.Concat2(f.reg(i), acc)
		if err != nil {
			return value.Nil, err
		}
	}
	return acc, nil
}

func forNumber(v value.Value, what string) (value.Value, error) {
	if v.IsNumber() {
		return v, nil
	}
	if v.IsString() {
		if n, ok := value.StringToNumber(v.AsString()); ok {
			return n, nil
		}
	}
	return value.Nil, runtimeErrf(KindArithmeticError, "'for' %s must be a number", what)
}

// forPrep implements FORPREP: coerce the three control values to
// numbers, then subtract the step from the initial value so the first
// FORLOOP iteration re-adds it.
func (s *State) forPrep(f *Frame, ins chunk.Instruction) error {
	init, err := forNumber(f.reg(ins.A), "initial value")
	if err != nil {
		return err
	}
	limit, err := forNumber(f.reg(ins.A+1), "limit")
	if err != nil {
		return err
	}
	step, err := forNumber(f.reg(ins.A+2), "step")
	if err != nil {
		return err
	}
	f.setReg(ins.A+1, limit)
	f.setReg(ins.A+2, step)
	start, errA := s.Sub(init, step)
	if errA != nil {
		return errA
	}
	f.setReg(ins.A, start)
	f.pc += ins.SBx
	return nil
}

// forLoop implements FORLOOP: advance the control variable by step,
// and if it has not passed limit, publish it to R(A+3) and jump back.
func (s *State) forLoop(f *Frame, ins chunk.Instruction) {
	step := f.reg(ins.A + 2)
	cur, _ := s.Add(f.reg(ins.A), step)
	f.setReg(ins.A, cur)
	limit := f.reg(ins.A + 1)
	continues := cur.AsFloat() <= limit.AsFloat()
	if step.AsFloat() < 0 {
		continues = cur.AsFloat() >= limit.AsFloat()
	}
	if continues {
		f.pc += ins.SBx
		f.setReg(ins.A+3, cur)
	}
}

// tForLoop implements TFORLOOP: call the generator with (state,
// control), and either stop the loop (first result is nil) or adopt
// the new control value and let the following JMP run again.
func (s *State) tForLoop(f *Frame, ins chunk.Instruction) error {
	gen := f.reg(ins.A)
	st := f.reg(ins.A + 1)
	ctrl := f.reg(ins.A + 2)
	results, err := s.Call(gen, []value.Value{st, ctrl}, ins.C)
	if err != nil {
		return err
	}
	for i := 0; i < ins.C; i++ {
		var v value.Value
		if i < len(results) {
			v = results[i]
		}
		f.setReg(ins.A+3+i, v)
	}
	if len(results) == 0 || results[0].IsNil() {
		f.pc++ // skip the JMP that would otherwise loop back
		return nil
	}
	f.setReg(ins.A+2, results[0])
	return nil
}

// setList implements SETLIST, including Lua 5.1's encoding where
// C==0 means the real batch index is stored in the raw word of the
// instruction immediately following.
func (s *State) setList(f *Frame, ins chunk.Instruction) {
	c := ins.C
	if c == 0 {
		c = int(f.Closure.Proto.Code[f.pc].Raw)
		f.pc++
	}
	// A non-zero B is the value count itself; rangeFrom takes CALL's
	// count-plus-one form.
	n := ins.B
	if n != 0 {
		n++
	}
	vals := f.rangeFrom(ins.A+1, n)
	tbl := f.reg(ins.A).Table()
	if tbl == nil {
		return
	}
	base := (c - 1) * listFieldsPerFlush
	for i, v := range vals {
		tbl.Set(value.Int(int64(base+i+1)), v)
	}
}

// makeClosure implements CLOSURE: instantiate proto.Protos[Bx], then
// consume the NumUpvalues pseudo-instructions the decoder already
// validated follow it (see chunk.checkClosureUpvalueEncoding).
func (s *State) makeClosure(f *Frame, ins chunk.Instruction) {
	proto := f.Closure.Proto.Protos[ins.Bx]
	c := &LuaClosure{Proto: proto, Upvalues: make([]*Upvalue, proto.NumUpvalues)}
	for i := 0; i < proto.NumUpvalues; i++ {
		pseudo := f.Closure.Proto.Code[f.pc]
		f.pc++
		if pseudo.Op == chunk.OpMove {
			c.Upvalues[i] = f.openUpvalue(pseudo.B)
		} else {
			c.Upvalues[i] = f.Closure.Upvalues[pseudo.B]
		}
	}
	f.setReg(ins.A, value.FromCallable(value.KindLuaClosure, c))
}

// vararg implements VARARG: copy the frame's vararg buffer into
// R(A...), either a fixed count (B-1) or all of it (B==0, which also
// sets f.top for a following multret consumer).
func (s *State) vararg(f *Frame, ins chunk.Instruction) {
	if ins.B == 0 {
		for i, v := range f.varargs {
			f.setReg(ins.A+i, v)
		}
		f.top = ins.A + len(f.varargs)
		return
	}
	n := ins.B - 1
	for i := 0; i < n; i++ {
		var v value.Value
		if i < len(f.varargs) {
			v = f.varargs[i]
		}
		f.setReg(ins.A+i, v)
	}
}
