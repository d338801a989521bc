package vm

import (
	"fmt"

	"github.com/oisee/luago/pkg/value"
)

// Kind classifies a RuntimeError by the failure family it reports.
type Kind string

const (
	KindTypeError           Kind = "type_error"
	KindIndexError          Kind = "index_error"
	KindArithmeticError     Kind = "arithmetic_error"
	KindCallError           Kind = "call_error"
	KindStackOverflow       Kind = "stack_overflow"
	KindMetamethodRecursion Kind = "metamethod_recursion"
	KindCustom              Kind = "custom" // raised by the error() builtin
)

// RuntimeError is a VM-level failure. Value carries the Lua-visible
// error payload (what pcall's second return value would be); for
// internal errors this is simply Str(Message). Source/Line are filled
// in by the dispatch loop at the failing pc; they are empty/zero
// until then, e.g. for an error still being built by a handler
// before it returns up to run().
type RuntimeError struct {
	Kind    Kind
	Message string
	Value   value.Value
	Source  string
	Line    int
}

func (e *RuntimeError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("luago: %s:%d: %s: %s", e.Source, e.Line, e.Kind, e.Message)
	}
	return fmt.Sprintf("luago: %s: %s", e.Kind, e.Message)
}

// withLocation annotates e with the chunk source name and line at pc,
// unless it was already annotated closer to the fault (a nested Call
// back into the VM attaches its own frame's location first).
func (e *RuntimeError) withLocation(source string, line int) *RuntimeError {
	if e.Source == "" {
		e.Source = source
		e.Line = line
	}
	return e
}

func runtimeErrf(kind Kind, format string, args ...any) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	return &RuntimeError{Kind: kind, Message: msg, Value: value.Str(msg)}
}

// raise wraps v as the error value of a custom RuntimeError, used by
// the error() builtin where the argument need not be a string.
func raise(v value.Value) *RuntimeError {
	return &RuntimeError{Kind: KindCustom, Message: value.ToDisplayString(v), Value: v}
}
