package vm

import (
	"github.com/oisee/luago/pkg/chunk"
	"github.com/oisee/luago/pkg/value"
)

// LoadMain wraps a chunk's top-level prototype as a callable closure.
// The main chunk of a Lua 5.1 file never itself has upvalues; the
// slice is still sized from the prototype, and RunMain rejects a
// prototype that declares any instead of panicking later.
func (s *State) LoadMain(p *chunk.Prototype) *LuaClosure {
	return &LuaClosure{Proto: p, Upvalues: make([]*Upvalue, p.NumUpvalues)}
}

// RunMain loads and calls a chunk's top-level prototype with args as
// its varargs, returning whatever it returns.
func (s *State) RunMain(p *chunk.Prototype, args []value.Value) ([]value.Value, error) {
	if p.NumUpvalues != 0 {
		return nil, runtimeErrf(KindCallError, "main chunk declares %d upvalues", p.NumUpvalues)
	}
	c := s.LoadMain(p)
	return s.Call(value.FromCallable(value.KindLuaClosure, c), args, -1)
}
