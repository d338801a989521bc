package vm

import (
	"bytes"
	"testing"

	"github.com/oisee/luago/pkg/chunk"
	"github.com/oisee/luago/pkg/value"
)

func abc(op chunk.OpCode, a, b, c int) chunk.Instruction {
	return chunk.Instruction{Op: op, A: a, B: b, C: c}
}

func abx(op chunk.OpCode, a, bx int) chunk.Instruction {
	return chunk.Instruction{Op: op, A: a, Bx: bx}
}

func asbx(op chunk.OpCode, a, sbx int) chunk.Instruction {
	return chunk.Instruction{Op: op, A: a, SBx: sbx}
}

func mainClosure(proto *chunk.Prototype) value.Value {
	c := &LuaClosure{Proto: proto, Upvalues: make([]*Upvalue, proto.NumUpvalues)}
	return value.FromCallable(value.KindLuaClosure, c)
}

// TestArithmeticAndReturn builds: R0=10; R1=32; R2=R0+R1; return R2.
func TestArithmeticAndReturn(t *testing.T) {
	proto := &chunk.Prototype{
		MaxStackSize: 3,
		Constants:    []value.Value{value.Int(10), value.Int(32)},
		Code: []chunk.Instruction{
			abx(chunk.OpLoadK, 0, 0),
			abx(chunk.OpLoadK, 1, 1),
			abc(chunk.OpAdd, 2, 0, 1),
			abc(chunk.OpReturn, 2, 2, 0),
		},
	}
	s := New()
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 1 || res[0].AsInteger() != 42 {
		t.Fatalf("result = %v, want [42]", res)
	}
}

// TestIntegerOverflowPromotesToFloat adds MaxInt64 + 1, expecting a
// Float result rather than wraparound.
func TestIntegerOverflowPromotesToFloat(t *testing.T) {
	const maxInt64 = 1<<63 - 1
	proto := &chunk.Prototype{
		MaxStackSize: 3,
		Constants:    []value.Value{value.Int(maxInt64), value.Int(1)},
		Code: []chunk.Instruction{
			abx(chunk.OpLoadK, 0, 0),
			abx(chunk.OpLoadK, 1, 1),
			abc(chunk.OpAdd, 2, 0, 1),
			abc(chunk.OpReturn, 2, 2, 0),
		},
	}
	s := New()
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res[0].IsFloat() {
		t.Fatalf("result kind = %v, want Float", res[0].Kind())
	}
}

// TestForLoopSumsOneToTen builds a numeric for loop summing 1..10
// into R0, mirroring `local sum = 0; for i = 1, 10 do sum = sum + i end`.
func TestForLoopSumsOneToTen(t *testing.T) {
	// R0 = 0 (sum), R1 = 1 (init), R2 = 10 (limit), R3 = 1 (step)
	// FORPREP jumps to the FORLOOP check.
	proto := &chunk.Prototype{
		MaxStackSize: 6,
		Constants:    []value.Value{value.Int(0), value.Int(1), value.Int(10)},
		Code: []chunk.Instruction{
			/*0*/ abx(chunk.OpLoadK, 0, 0), // sum = 0
			/*1*/ abx(chunk.OpLoadK, 1, 1), // R1 = 1 (for-init)
			/*2*/ abx(chunk.OpLoadK, 2, 2), // R2 = 10 (for-limit)
			/*3*/ abx(chunk.OpLoadK, 3, 1), // R3 = 1 (for-step)
			/*4*/ asbx(chunk.OpForPrep, 1, 1), // jump to FORLOOP at pc 6
			/*5*/ abc(chunk.OpAdd, 0, 0, 4), // sum = sum + R4 (loop var copy)
			/*6*/ asbx(chunk.OpForLoop, 1, -2), // back to pc 5 if continuing
			/*7*/ abc(chunk.OpReturn, 0, 2, 0), // return sum
		},
	}
	s := New()
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 1 || res[0].AsInteger() != 55 {
		t.Fatalf("result = %v, want [55]", res)
	}
}

// TestClosureCapturesOpenUpvalue builds a counter closure: the outer
// function creates a local counter in R0, then CLOSURE captures it by
// MOVE, and the inner closure increments and returns it across two
// calls, proving the upvalue is shared rather than copied.
func TestClosureCapturesOpenUpvalue(t *testing.T) {
	inner := &chunk.Prototype{
		MaxStackSize: 2,
		NumUpvalues:  1,
		Constants:    []value.Value{value.Int(1)},
		Code: []chunk.Instruction{
			abc(chunk.OpGetUpval, 0, 0, 0),    // R0 = upvalue 0 (counter)
			abx(chunk.OpLoadK, 1, 0),          // R1 = 1
			abc(chunk.OpAdd, 0, 0, 1),         // R0 = R0 + 1
			abc(chunk.OpSetUpval, 0, 0, 0),    // upvalue 0 = R0
			abc(chunk.OpReturn, 0, 2, 0),      // return R0
		},
	}
	outer := &chunk.Prototype{
		MaxStackSize: 2,
		Protos:       []*chunk.Prototype{inner},
		Constants:    []value.Value{value.Int(0)},
		Code: []chunk.Instruction{
			abx(chunk.OpLoadK, 0, 0),       // R0 = 0 (the counter local)
			abx(chunk.OpClosure, 1, 0),     // R1 = closure(inner)
			abc(chunk.OpMove, 0, 0, 0),     // upvalue pseudo-instruction: capture R0
			abc(chunk.OpReturn, 1, 2, 0),   // return the closure
		},
	}
	s := New()
	res, err := s.Call(mainClosure(outer), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	counter := res[0]
	if !counter.IsFunction() {
		t.Fatalf("result is not a function: %v", counter)
	}
	r1, err := s.Call(counter, nil, -1)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	r2, err := s.Call(counter, nil, -1)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if r1[0].AsInteger() != 1 || r2[0].AsInteger() != 2 {
		t.Fatalf("got %v then %v, want 1 then 2 (shared upvalue)", r1, r2)
	}
}

// TestTailCallReusesFrame drives the TAILCALL opcode directly and
// checks it replaces the current frame in place rather than pushing a
// new one, which is what keeps deep tail recursion from growing the
// frame stack.
func TestTailCallReusesFrame(t *testing.T) {
	callee := &chunk.Prototype{
		MaxStackSize: 1,
		Code:         []chunk.Instruction{abc(chunk.OpReturn, 0, 1, 0)},
	}
	calleeClosure := &LuaClosure{Proto: callee}

	caller := &chunk.Prototype{MaxStackSize: 1}
	callerClosure := &LuaClosure{Proto: caller}
	callerFrame := newLuaFrame(callerClosure, nil, -1, -1)
	callerFrame.setReg(0, value.FromCallable(value.KindLuaClosure, calleeClosure))

	s := New()
	s.frames = append(s.frames, callerFrame)

	if err := s.execCall(callerFrame, 0, 1, 1, true); err != nil {
		t.Fatalf("execCall: %v", err)
	}
	if len(s.frames) != 1 {
		t.Fatalf("len(s.frames) = %d, want 1 (tail call must not grow the stack)", len(s.frames))
	}
	if s.frames[0].Closure.Proto != callee {
		t.Fatalf("top frame's prototype is not the tail-called callee")
	}
}

// TestDeepTailRecursionCompletes runs a self tail-recursive countdown
// through the real dispatch loop; if TAILCALL pushed a new frame per
// call instead of reusing one, this would grow without bound.
func TestDeepTailRecursionCompletes(t *testing.T) {
	proto := &chunk.Prototype{
		MaxStackSize: 3,
		NumParams:    1,
		Constants:    []value.Value{value.Int(1), value.Int(0), value.Str("countdown")},
		Code: []chunk.Instruction{
			/*0*/ abc(chunk.OpLe, 0, 0, 256+1), // n <= 0? (A=0: skip the JMP, i.e. stop, when true)
			/*1*/ asbx(chunk.OpJmp, 0, 1),      // n > 0: jump to recurse
			/*2*/ abc(chunk.OpReturn, 0, 2, 0), // base case: return R0
			/*3*/ abx(chunk.OpGetGlobal, 1, 2), // R1 = countdown
			/*4*/ abc(chunk.OpSub, 2, 0, 256+0), // R2 = R0 - 1
			/*5*/ abc(chunk.OpTailCall, 1, 2, 0),
			/*6*/ abc(chunk.OpReturn, 1, 0, 0),
		},
	}
	s := New(WithMaxCallDepth(10)) // a non-tail-call-safe depth would fail fast
	closureVal := mainClosure(proto)
	s.SetGlobal("countdown", closureVal)

	res, err := s.Call(closureVal, []value.Value{value.Int(100000)}, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 1 || res[0].AsInteger() != 0 {
		t.Fatalf("result = %v, want [0]", res)
	}
}

// TestIndexMetamethodFunction exercises GETTABLE falling through a
// __index function when the key is absent.
func TestIndexMetamethodFunction(t *testing.T) {
	s := New()
	base := value.NewTable(0, 0)
	mt := value.NewTable(0, 1)
	mt.Set(value.Str("__index"), value.FromCallable(value.KindNativeClosure, &NativeClosure{
		Name: "fallback",
		Fn: func(s *State, args []value.Value) ([]value.Value, error) {
			return []value.Value{value.Str("fallback-value")}, nil
		},
	}))
	base.SetMetatable(mt)

	v, err := s.Index(value.FromTable(base), value.Str("missing"))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if !v.IsString() || v.AsString() != "fallback-value" {
		t.Fatalf("got %v, want fallback-value", v)
	}
}

// TestPcallRecoversError checks that an error() call inside a pcall'd
// function is caught and surfaced as (false, value) rather than
// propagating.
func TestPcallRecoversError(t *testing.T) {
	s := New()
	boom := value.FromCallable(value.KindNativeClosure, &NativeClosure{
		Name: "boom",
		Fn: func(s *State, args []value.Value) ([]value.Value, error) {
			return nil, raise(value.Str("kaboom"))
		},
	})
	ok, results, errVal := s.PCall(boom, nil)
	if ok {
		t.Fatalf("PCall succeeded, want failure")
	}
	if results != nil {
		t.Fatalf("results = %v, want nil", results)
	}
	if errVal.AsString() != "kaboom" {
		t.Fatalf("errVal = %v, want kaboom", errVal)
	}
}

// TestNewTableAndSetList builds {10, 20, 30} via NEWTABLE+SETLIST and
// checks Len()/Get() afterward.
func TestNewTableAndSetList(t *testing.T) {
	proto := &chunk.Prototype{
		MaxStackSize: 4,
		Constants:    []value.Value{value.Int(10), value.Int(20), value.Int(30)},
		Code: []chunk.Instruction{
			abc(chunk.OpNewTable, 0, 0, 0),
			abx(chunk.OpLoadK, 1, 0),
			abx(chunk.OpLoadK, 2, 1),
			abx(chunk.OpLoadK, 3, 2),
			abc(chunk.OpSetList, 0, 3, 1),
			abc(chunk.OpReturn, 0, 2, 0),
		},
	}
	s := New()
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	tbl := res[0].Table()
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tbl.Len())
	}
	if tbl.Get(value.Int(2)).AsInteger() != 20 {
		t.Fatalf("t[2] = %v, want 20", tbl.Get(value.Int(2)))
	}
}

// TestPrintWritesToConfiguredStdout checks the print builtin honors
// WithStdout rather than writing to the process's real stdout.
func TestPrintWritesToConfiguredStdout(t *testing.T) {
	var buf bytes.Buffer
	s := New(WithStdout(&buf))
	printFn := s.GetGlobal("print")
	if _, err := s.Call(printFn, []value.Value{value.Str("hello"), value.Int(42)}, 0); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if buf.String() != "hello\t42\n" {
		t.Fatalf("stdout = %q, want %q", buf.String(), "hello\t42\n")
	}
}

// TestStackOverflowOnDeepNonTailRecursion checks MaxCallDepth is
// enforced for ordinary (non-tail) recursive calls.
func TestStackOverflowOnDeepNonTailRecursion(t *testing.T) {
	proto := &chunk.Prototype{
		MaxStackSize: 2,
		Constants:    []value.Value{value.Str("recurse")},
		Code: []chunk.Instruction{
			abx(chunk.OpGetGlobal, 0, 0),
			abc(chunk.OpCall, 0, 1, 1),
			abc(chunk.OpReturn, 0, 1, 0),
		},
	}
	s := New(WithMaxCallDepth(10))
	closureVal := mainClosure(proto)
	s.SetGlobal("recurse", closureVal)

	_, err := s.Call(closureVal, nil, -1)
	if err == nil {
		t.Fatal("expected stack overflow error")
	}
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != KindStackOverflow {
		t.Fatalf("err = %v, want RuntimeError{Kind: KindStackOverflow}", err)
	}
}

// TestConcatChainCoercesNumbers builds `return "a" .. 1 .. "b"` via
// the CONCAT opcode over a register range.
func TestConcatChainCoercesNumbers(t *testing.T) {
	proto := &chunk.Prototype{
		MaxStackSize: 3,
		Constants:    []value.Value{value.Str("a"), value.Int(1), value.Str("b")},
		Code: []chunk.Instruction{
			abx(chunk.OpLoadK, 0, 0),
			abx(chunk.OpLoadK, 1, 1),
			abx(chunk.OpLoadK, 2, 2),
			abc(chunk.OpConcat, 0, 0, 2),
			abc(chunk.OpReturn, 0, 2, 0),
		},
	}
	s := New()
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 1 || res[0].AsString() != "a1b" {
		t.Fatalf("result = %v, want [\"a1b\"]", res)
	}
}

// TestIndexMetamethodTable reads `t.a` through a metatable whose
// __index is a plain table holding a=10.
func TestIndexMetamethodTable(t *testing.T) {
	base := value.NewTable(0, 1)
	base.Set(value.Str("a"), value.Int(10))
	mt := value.NewTable(0, 1)
	mt.Set(value.Str("__index"), value.FromTable(base))
	tbl := value.NewTable(0, 0)
	tbl.SetMetatable(mt)

	proto := &chunk.Prototype{
		MaxStackSize: 1,
		Constants:    []value.Value{value.Str("t"), value.Str("a")},
		Code: []chunk.Instruction{
			abx(chunk.OpGetGlobal, 0, 0),
			abc(chunk.OpGetTable, 0, 0, 256+1),
			abc(chunk.OpReturn, 0, 2, 0),
		},
	}
	s := New()
	s.SetGlobal("t", value.FromTable(tbl))
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 1 || res[0].AsInteger() != 10 {
		t.Fatalf("result = %v, want [10]", res)
	}
}

// TestGenericForSumsIpairs runs the generic-for loop protocol
// (CALL + JMP + TFORLOOP) over ipairs of {10, 20, 30}, summing the
// values.
func TestGenericForSumsIpairs(t *testing.T) {
	tbl := value.NewTable(3, 0)
	tbl.Set(value.Int(1), value.Int(10))
	tbl.Set(value.Int(2), value.Int(20))
	tbl.Set(value.Int(3), value.Int(30))

	// R0 = sum; R1..R3 = iterator, state, control; R4, R5 = i, v.
	proto := &chunk.Prototype{
		MaxStackSize: 6,
		Constants:    []value.Value{value.Int(0), value.Str("ipairs"), value.Str("t")},
		Code: []chunk.Instruction{
			/*0*/ abx(chunk.OpLoadK, 0, 0),
			/*1*/ abx(chunk.OpGetGlobal, 1, 1),
			/*2*/ abx(chunk.OpGetGlobal, 2, 2),
			/*3*/ abc(chunk.OpCall, 1, 2, 4), // R1..R3 = ipairs(t)
			/*4*/ asbx(chunk.OpJmp, 0, 1),    // to the TFORLOOP
			/*5*/ abc(chunk.OpAdd, 0, 0, 5),  // sum = sum + v
			/*6*/ abc(chunk.OpTForLoop, 1, 0, 2),
			/*7*/ asbx(chunk.OpJmp, 0, -3), // back to the body
			/*8*/ abc(chunk.OpReturn, 0, 2, 0),
		},
	}
	s := New()
	s.SetGlobal("t", value.FromTable(tbl))
	res, err := s.Call(mainClosure(proto), nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 1 || res[0].AsInteger() != 60 {
		t.Fatalf("result = %v, want [60]", res)
	}
}

// TestVarargCopiesAllArguments runs a vararg function that returns
// everything it was called with (VARARG B==0 into RETURN B==0).
func TestVarargCopiesAllArguments(t *testing.T) {
	proto := &chunk.Prototype{
		MaxStackSize: 2,
		IsVararg:     chunk.VarArgIsVararg,
		Code: []chunk.Instruction{
			abc(chunk.OpVararg, 0, 0, 0),
			abc(chunk.OpReturn, 0, 0, 0),
		},
	}
	s := New()
	args := []value.Value{value.Int(1), value.Str("two"), value.Bool(true)}
	res, err := s.Call(mainClosure(proto), args, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res) != 3 || res[0].AsInteger() != 1 || res[1].AsString() != "two" || !res[2].Boolean() {
		t.Fatalf("result = %v, want the original three arguments", res)
	}
}

// TestRuntimeErrorCarriesSourceAndLine checks that an error raised
// deep in a prototype's code is annotated with that prototype's
// source name and the debug line recorded for the failing pc.
func TestRuntimeErrorCarriesSourceAndLine(t *testing.T) {
	proto := &chunk.Prototype{
		Source:       "broken.lua",
		MaxStackSize: 2,
		Lines:        []int{1, 2, 7},
		Code: []chunk.Instruction{
			abc(chunk.OpLoadNil, 0, 0, 0),
			abc(chunk.OpLoadNil, 0, 1, 0),
			abc(chunk.OpLen, 0, 0, 0), // length of nil: errors at line 7
		},
	}
	s := New()
	_, err := s.Call(mainClosure(proto), nil, -1)
	if err == nil {
		t.Fatal("expected a type error from LEN on nil")
	}
	re, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("err = %v (%T), want *RuntimeError", err, err)
	}
	if re.Source != "broken.lua" || re.Line != 7 {
		t.Fatalf("Source/Line = %q/%d, want \"broken.lua\"/7", re.Source, re.Line)
	}
}
