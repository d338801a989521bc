// Package vm implements the Lua 5.1 register-based virtual machine:
// closures, call frames, the arithmetic/comparison/indexing core, the
// dispatch loop, and the base builtins.
package vm

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"zombiezen.com/go/log"

	"github.com/oisee/luago/pkg/value"
)

// registryGlobalsKey is the pseudo-index the C Lua API uses for the
// globals table inside the registry.
const registryGlobalsKey = -10002

// State is one Lua interpreter instance: its call stack, global and
// registry tables, per-kind default metatables, and the host hooks
// (stdout, logging, depth limits) builtins and the CLI rely on.
type State struct {
	ID  uuid.UUID
	Ctx context.Context

	frames   []*Frame
	globals  *value.Table
	registry *value.Table

	// defaultMeta[k] is the default metatable consulted for values of
	// kind k that are not tables (tables carry their own metatable).
	defaultMeta map[value.Kind]*value.Table

	Stdout io.Writer

	MaxIndexDepth int
	MaxCallDepth  int

	// TraceExec enables per-instruction debug logging (opcode, pc,
	// frame depth) in the dispatch loop.
	TraceExec bool
}

// Option configures a State at construction time.
type Option func(*State)

// WithStdout overrides the writer "print" writes to (default os.Stdout).
func WithStdout(w io.Writer) Option {
	return func(s *State) { s.Stdout = w }
}

// WithExecTrace enables instruction-level trace logging at debug
// level.
func WithExecTrace(on bool) Option {
	return func(s *State) { s.TraceExec = on }
}

// WithMaxIndexDepth overrides the __index/__newindex chase limit
// (default 100).
func WithMaxIndexDepth(n int) Option {
	return func(s *State) { s.MaxIndexDepth = n }
}

// WithMaxCallDepth overrides the non-tail Lua call nesting limit
// (default 200).
func WithMaxCallDepth(n int) Option {
	return func(s *State) { s.MaxCallDepth = n }
}

// New creates a State with fresh globals and registry tables and the
// standard builtins registered.
func New(opts ...Option) *State {
	s := &State{
		ID:            uuid.New(),
		Ctx:           context.Background(),
		globals:       value.NewTable(0, 0),
		registry:      value.NewTable(0, 1),
		defaultMeta:   make(map[value.Kind]*value.Table),
		Stdout:        os.Stdout,
		MaxIndexDepth: 100,
		MaxCallDepth:  200,
	}
	s.registry.Set(value.Int(registryGlobalsKey), value.FromTable(s.globals))
	registerBuiltins(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Globals returns the global variable table.
func (s *State) Globals() *value.Table { return s.globals }

// Registry returns the registry table. The globals table is stored in
// it under the integer key registryGlobalsKey.
func (s *State) Registry() *value.Table { return s.registry }

// GetGlobal reads a global variable.
func (s *State) GetGlobal(name string) value.Value {
	return s.globals.Get(value.Str(name))
}

// SetGlobal assigns a global variable.
func (s *State) SetGlobal(name string, v value.Value) {
	s.globals.Set(value.Str(name), v)
}

// RegisterNative installs a native builtin under the given global name.
func (s *State) RegisterNative(name string, fn NativeFunc) {
	s.SetGlobal(name, value.FromCallable(value.KindNativeClosure, &NativeClosure{Name: name, Fn: fn}))
}

// DefaultMetatable returns the default metatable for non-table values
// of the given kind, or nil if none is set.
func (s *State) DefaultMetatable(k value.Kind) *value.Table {
	return s.defaultMeta[k]
}

// SetDefaultMetatable installs the default metatable for non-table
// values of the given kind.
func (s *State) SetDefaultMetatable(k value.Kind, mt *value.Table) {
	s.defaultMeta[k] = mt
}

// metatableFor returns the applicable metatable for v, whether it is
// v's own (tables) or the kind-wide default (everything else).
func (s *State) metatableFor(v value.Value) *value.Table {
	if v.IsTable() {
		return v.Table().Metatable()
	}
	return s.defaultMeta[v.Kind()]
}

func (s *State) top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *State) debugf(format string, args ...any) {
	log.Debugf(s.Ctx, format, args...)
}

// Depth reports the current Lua call-frame nesting, used by CALL to
// enforce MaxCallDepth.
func (s *State) Depth() int {
	return len(s.frames)
}

// Call invokes fn with args from host/native code, running the VM's
// dispatch loop until fn (and anything it calls) returns. nresults is
// the number of values the caller wants (-1 for "all"). This is the
// entry point both cmd/luago and native builtins (pcall, metamethod
// dispatch) use to re-enter the interpreter.
func (s *State) Call(fn value.Value, args []value.Value, nresults int) ([]value.Value, error) {
	if s.Depth() >= s.MaxCallDepth {
		return nil, runtimeErrf(KindStackOverflow, "call nesting exceeds %d", s.MaxCallDepth)
	}
	target, args, err := s.resolveCallTarget(fn, args, 0)
	if err != nil {
		return nil, err
	}
	switch c := target.Callable().(type) {
	case *LuaClosure:
		f := newLuaFrame(c, args, nresults, -1)
		s.frames = append(s.frames, f)
		return s.run()
	case *NativeClosure:
		results, err := c.Fn(s, args)
		if err != nil {
			return nil, err
		}
		return adjustReturns(results, nresults), nil
	default:
		return nil, runtimeErrf(KindCallError, "attempt to call a %s value", target.TypeName())
	}
}

// PCall is the protected-call entry point backing the pcall builtin:
// it runs fn and converts any RuntimeError into (false, errorValue)
// instead of propagating.
func (s *State) PCall(fn value.Value, args []value.Value) (ok bool, results []value.Value, errValue value.Value) {
	savedDepth := len(s.frames)
	results, err := s.Call(fn, args, -1)
	if err != nil {
		s.frames = s.frames[:savedDepth]
		if re, ok := err.(*RuntimeError); ok {
			return false, nil, re.Value
		}
		return false, nil, value.Str(err.Error())
	}
	return true, results, value.Nil
}

// adjustReturns pads with Nil or truncates vals to exactly n values,
// or returns vals unchanged when n < 0 ("all values").
func adjustReturns(vals []value.Value, n int) []value.Value {
	if n < 0 {
		return vals
	}
	out := make([]value.Value, n)
	copy(out, vals)
	return out
}
