// Package value implements the Lua dynamic value model: a tagged
// union of Nil, Boolean, Integer, Float, String, Table, LuaClosure and
// NativeClosure, with the canonicalization, coercion, equality and
// hashing rules the interpreter relies on.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindTable
	KindLuaClosure
	KindNativeClosure
)

// Callable is implemented by both *vm.LuaClosure and *vm.NativeClosure;
// value does not depend on vm to avoid an import cycle, so closures
// are held behind this interface and type-asserted by the vm package
// that put them there. Callers
// outside vm never need to open one up.
type Callable interface {
	// CallableKind distinguishes Lua-defined from native closures
	// without requiring the value package to know their shape.
	CallableKind() Kind
}

// Value is a single Lua dynamic value. It is a small tagged struct
// rather than an interface{} so that equality and hashing stay total
// and cheap.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	ref  any // *Table for KindTable, Callable for closures
}

// Nil is the single Nil value.
var Nil = Value{kind: KindNil}

// Bool constructs a Boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBoolean, b: b}
}

// Int constructs an Integer value.
func Int(i int64) Value {
	return Value{kind: KindInteger, i: i}
}

// Float constructs a Float value, canonicalizing to Integer when the
// float exactly represents a mathematical integer.
func Float(f float64) Value {
	if i, ok := exactInt(f); ok {
		return Int(i)
	}
	return Value{kind: KindFloat, f: f}
}

// Str constructs a String value.
func Str(s string) Value {
	return Value{kind: KindString, s: s}
}

// FromTable constructs a Table value. The Table type itself lives in
// this package (see table.go) so no cycle is introduced.
func FromTable(t *Table) Value {
	return Value{kind: KindTable, ref: t}
}

// FromCallable constructs a closure value of the given kind (either
// KindLuaClosure or KindNativeClosure), wrapping an opaque callable
// supplied by package vm.
func FromCallable(kind Kind, c Callable) Value {
	return Value{kind: kind, ref: c}
}

func exactInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	if f < -9223372036854775808.0 || f >= 9223372036854775808.0 {
		return 0, false
	}
	return int64(f), true
}

// Kind returns the value's variant tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool     { return v.kind == KindNil }
func (v Value) IsBoolean() bool { return v.kind == KindBoolean }
func (v Value) IsInteger() bool { return v.kind == KindInteger }
func (v Value) IsFloat() bool   { return v.kind == KindFloat }
func (v Value) IsNumber() bool  { return v.kind == KindInteger || v.kind == KindFloat }
func (v Value) IsString() bool  { return v.kind == KindString }
func (v Value) IsTable() bool   { return v.kind == KindTable }
func (v Value) IsFunction() bool {
	return v.kind == KindLuaClosure || v.kind == KindNativeClosure
}

// Boolean returns the raw boolean payload (only meaningful if IsBoolean).
func (v Value) Boolean() bool { return v.b }

// AsInteger returns the raw int64 payload (only meaningful if IsInteger).
func (v Value) AsInteger() int64 { return v.i }

// AsFloat returns the payload as a float64, converting an Integer.
// Only meaningful if IsNumber.
func (v Value) AsFloat() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// AsString returns the raw string payload (only meaningful if IsString).
func (v Value) AsString() string { return v.s }

// Table returns the referenced table, or nil if v is not a table.
func (v Value) Table() *Table {
	if v.kind != KindTable {
		return nil
	}
	t, _ := v.ref.(*Table)
	return t
}

// Callable returns the referenced closure, or nil if v is not a
// function.
func (v Value) Callable() Callable {
	if !v.IsFunction() {
		return nil
	}
	c, _ := v.ref.(Callable)
	return c
}

// ToBoolean implements Lua truthiness: only Nil and Boolean(false) are
// falsy.
func (v Value) ToBoolean() bool {
	if v.kind == KindNil {
		return false
	}
	if v.kind == KindBoolean {
		return v.b
	}
	return true
}

// TypeName returns the Lua type name string for v.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBoolean:
		return "boolean"
	case KindInteger, KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindLuaClosure, KindNativeClosure:
		return "function"
	}
	return "unknown"
}

// Equal implements Lua raw equality: primitives compare structurally,
// tables and closures compare by identity. Types never implicitly
// convert for equality (a String never equals a Number here).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Integer/Float are unified at construction, so distinct
		// kinds here are genuinely distinct types.
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBoolean:
		return a.b == b.b
	case KindInteger:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindTable, KindLuaClosure, KindNativeClosure:
		return a.ref == b.ref
	}
	return false
}

// Hash returns a hash of v consistent with Equal: values that compare
// equal hash identically, and Integer(k)/Float(k) agree because they
// are canonicalized to the same representation at construction.
func Hash(v Value) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	mix := func(h uint64, b byte) uint64 {
		h ^= uint64(b)
		h *= prime64
		return h
	}
	var h uint64 = offset64
	h = mix(h, byte(v.kind))
	switch v.kind {
	case KindNil:
	case KindBoolean:
		if v.b {
			h = mix(h, 1)
		}
	case KindInteger:
		bits := uint64(v.i)
		for i := 0; i < 8; i++ {
			h = mix(h, byte(bits>>(8*i)))
		}
	case KindFloat:
		bits := math.Float64bits(v.f)
		for i := 0; i < 8; i++ {
			h = mix(h, byte(bits>>(8*i)))
		}
	case KindString:
		for i := 0; i < len(v.s); i++ {
			h = mix(h, v.s[i])
		}
	case KindTable, KindLuaClosure, KindNativeClosure:
		ptr := fmt.Sprintf("%p", v.ref)
		for i := 0; i < len(ptr); i++ {
			h = mix(h, ptr[i])
		}
	}
	return h
}

// StringToNumber attempts to parse s as a Lua number literal (decimal
// or hexadecimal), returning a canonicalized Integer or Float value.
// Used by implicit arithmetic and comparison coercion.
func StringToNumber(s string) (Value, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Nil, false
	}
	lower := strings.ToLower(trimmed)
	neg := false
	unsigned := lower
	if strings.HasPrefix(unsigned, "-") {
		neg = true
		unsigned = unsigned[1:]
	} else if strings.HasPrefix(unsigned, "+") {
		unsigned = unsigned[1:]
	}
	if strings.HasPrefix(unsigned, "0x") {
		i, err := strconv.ParseUint(unsigned[2:], 16, 64)
		if err != nil {
			return Nil, false
		}
		n := int64(i)
		if neg {
			n = -n
		}
		return Int(n), true
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Int(i), true
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Float(f), true
	}
	return Nil, false
}

// NumberToString renders a numeric Value the way Lua 5.1's tostring
// does: integers without a decimal point, floats with a %.14g-style
// format (14 significant digits, so a float that needs more digits
// does not round-trip exactly through StringToNumber).
func NumberToString(v Value) string {
	if v.kind == KindInteger {
		return strconv.FormatInt(v.i, 10)
	}
	return strconv.FormatFloat(v.f, 'g', 14, 64)
}

// ToStringCoerce renders a value for the string-context coercion used
// by CONCAT: numbers via NumberToString, strings as themselves. Other
// kinds have no coercion and report false; callers then go through a
// metamethod or produce a descriptive literal via ToDisplayString.
func ToStringCoerce(v Value) (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindInteger, KindFloat:
		return NumberToString(v), true
	}
	return "", false
}

// ToDisplayString renders any value for the print builtin / %v-style
// display, including non-coercible kinds.
func ToDisplayString(v Value) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case KindInteger, KindFloat:
		return NumberToString(v)
	case KindString:
		return v.s
	case KindTable:
		return fmt.Sprintf("table: %p", v.ref)
	case KindLuaClosure, KindNativeClosure:
		return fmt.Sprintf("function: %p", v.ref)
	}
	return "?"
}
