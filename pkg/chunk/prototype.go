package chunk

import "github.com/oisee/luago/pkg/value"

// VarArgFlag mirrors Lua 5.1's is_vararg bitset: bit meaning is
// preserved from the source chunk rather than collapsed to a single
// bool.
type VarArgFlag uint8

const (
	// VarArgHasArg marks a function compiled with the old-style "arg"
	// local (present for source compatibility with pre-5.1 chunks).
	VarArgHasArg VarArgFlag = 1 << iota
	// VarArgIsVararg marks a function declared with "...".
	VarArgIsVararg
	// VarArgNeedsArg marks a function whose vararg handling must also
	// populate the legacy "arg" table.
	VarArgNeedsArg
)

// IsVararg reports whether the function accepts a variable number of
// arguments (the bit the interpreter actually acts on).
func (f VarArgFlag) IsVararg() bool {
	return f&VarArgIsVararg != 0
}

// LocalVar is one entry of a prototype's local-variable debug table:
// the variable's name and the [StartPC, EndPC) instruction range over
// which it is live.
type LocalVar struct {
	Name    string
	StartPC int
	EndPC   int
}

// Prototype is the immutable compiled template of one Lua function,
// decoded once from a binary chunk and shared by every closure
// instantiated from it. It is never mutated after Load
// returns.
type Prototype struct {
	Source          string
	LineDefined     int
	LastLineDefined int
	NumUpvalues     int
	NumParams       int
	IsVararg        VarArgFlag
	MaxStackSize    int

	Code      []Instruction
	Constants []value.Value
	Protos    []*Prototype

	// Debug info.
	Lines         []int // Lines[pc] is the source line of Code[pc]
	Locals        []LocalVar
	UpvalueNames  []string
}

// LineAt returns the source line for the instruction at pc, or 0 if
// no line info was recorded for it.
func (p *Prototype) LineAt(pc int) int {
	if pc < 0 || pc >= len(p.Lines) {
		return 0
	}
	return p.Lines[pc]
}
