package vm

import (
	"math"

	"github.com/oisee/luago/pkg/value"
)

// toNumber coerces v to a number the way arithmetic operands do:
// numbers pass through, numeric strings convert, anything else fails.
func toNumber(v value.Value) (value.Value, bool) {
	if v.IsNumber() {
		return v, true
	}
	if v.IsString() {
		return value.StringToNumber(v.AsString())
	}
	return value.Nil, false
}

// lookupMeta returns the named metamethod for v, or Nil if v has no
// applicable metatable or the event is unset.
func (s *State) lookupMeta(v value.Value, event string) value.Value {
	mt := s.metatableFor(v)
	if mt == nil {
		return value.Nil
	}
	return mt.Get(value.Str(event))
}

// arithMeta dispatches a binary arithmetic/concat metamethod, trying
// a's metatable first and then b's.
func (s *State) arithMeta(event string, a, b value.Value) (value.Value, error) {
	mm := s.lookupMeta(a, event)
	if mm.IsNil() {
		mm = s.lookupMeta(b, event)
	}
	if mm.IsNil() {
		bad := a
		if bad.IsNumber() || bad.IsString() {
			bad = b
		}
		return value.Nil, runtimeErrf(KindArithmeticError, "attempt to perform arithmetic on a %s value", bad.TypeName())
	}
	res, err := s.Call(mm, []value.Value{a, b}, 1)
	if err != nil {
		return value.Nil, err
	}
	if len(res) == 0 {
		return value.Nil, nil
	}
	return res[0], nil
}

func addOverflows(x, y, sum int64) bool {
	return (x >= 0) == (y >= 0) && (sum >= 0) != (x >= 0)
}

func subOverflows(x, y, diff int64) bool {
	return (x >= 0) != (y >= 0) && (diff >= 0) != (x >= 0)
}

func mulOverflows(x, y, prod int64) bool {
	if x == 0 || y == 0 {
		return false
	}
	if y == -1 {
		return x == minInt64
	}
	return prod/y != x
}

// Add implements the ADD opcode's semantics: integer+integer stays
// integer unless it overflows, in which case it falls back to float
// arithmetic.
func (s *State) Add(a, b value.Value) (value.Value, error) {
	na, oka := toNumber(a)
	nb, okb := toNumber(b)
	if !oka || !okb {
		return s.arithMeta("__add", a, b)
	}
	if na.IsInteger() && nb.IsInteger() {
		x, y := na.AsInteger(), nb.AsInteger()
		sum := x + y
		if !addOverflows(x, y, sum) {
			return value.Int(sum), nil
		}
	}
	return value.Float(na.AsFloat() + nb.AsFloat()), nil
}

func (s *State) Sub(a, b value.Value) (value.Value, error) {
	na, oka := toNumber(a)
	nb, okb := toNumber(b)
	if !oka || !okb {
		return s.arithMeta("__sub", a, b)
	}
	if na.IsInteger() && nb.IsInteger() {
		x, y := na.AsInteger(), nb.AsInteger()
		diff := x - y
		if !subOverflows(x, y, diff) {
			return value.Int(diff), nil
		}
	}
	return value.Float(na.AsFloat() - nb.AsFloat()), nil
}

func (s *State) Mul(a, b value.Value) (value.Value, error) {
	na, oka := toNumber(a)
	nb, okb := toNumber(b)
	if !oka || !okb {
		return s.arithMeta("__mul", a, b)
	}
	if na.IsInteger() && nb.IsInteger() {
		x, y := na.AsInteger(), nb.AsInteger()
		prod := x * y
		if !mulOverflows(x, y, prod) {
			return value.Int(prod), nil
		}
	}
	return value.Float(na.AsFloat() * nb.AsFloat()), nil
}

// Div always produces a float, matching Lua 5.1 where every number is
// a double under the hood.
func (s *State) Div(a, b value.Value) (value.Value, error) {
	na, oka := toNumber(a)
	nb, okb := toNumber(b)
	if !oka || !okb {
		return s.arithMeta("__div", a, b)
	}
	return value.Float(na.AsFloat() / nb.AsFloat()), nil
}

// Mod implements floor modulo: a - floor(a/b)*b. Integer operands
// stay integer; a zero integer divisor is an error rather than a
// float NaN to keep integer arithmetic trap on the mistake it almost
// always is.
func (s *State) Mod(a, b value.Value) (value.Value, error) {
	na, oka := toNumber(a)
	nb, okb := toNumber(b)
	if !oka || !okb {
		return s.arithMeta("__mod", a, b)
	}
	if na.IsInteger() && nb.IsInteger() {
		y := nb.AsInteger()
		if y == 0 {
			return value.Nil, runtimeErrf(KindArithmeticError, "attempt to perform 'n%%0'")
		}
		x := na.AsInteger()
		m := x % y
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return value.Int(m), nil
	}
	fa, fb := na.AsFloat(), nb.AsFloat()
	m := floatMod(fa, fb)
	return value.Float(m), nil
}

func floatMod(a, b float64) float64 {
	return a - math.Floor(a/b)*b
}

// Pow always produces a float.
func (s *State) Pow(a, b value.Value) (value.Value, error) {
	na, oka := toNumber(a)
	nb, okb := toNumber(b)
	if !oka || !okb {
		return s.arithMeta("__pow", a, b)
	}
	return value.Float(math.Pow(na.AsFloat(), nb.AsFloat())), nil
}

func (s *State) Unm(a value.Value) (value.Value, error) {
	na, ok := toNumber(a)
	if !ok {
		return s.arithMeta("__unm", a, a)
	}
	if na.IsInteger() {
		x := na.AsInteger()
		neg := -x
		if x != minInt64 {
			return value.Int(neg), nil
		}
	}
	return value.Float(-na.AsFloat()), nil
}

const minInt64 = -1 << 63

// Concat2 implements pairwise string concatenation, coercing numbers
// to their canonical string form.
func (s *State) Concat2(a, b value.Value) (value.Value, error) {
	sa, oka := value.ToStringCoerce(a)
	sb, okb := value.ToStringCoerce(b)
	if oka && okb {
		return value.Str(sa + sb), nil
	}
	return s.arithMeta("__concat", a, b)
}

// Eq implements the == operator: primitive/table-identity equality
// short-circuits; otherwise, only when both operands are tables,
// __eq is consulted.
func (s *State) Eq(a, b value.Value) (bool, error) {
	if value.Equal(a, b) {
		return true, nil
	}
	if a.IsTable() && b.IsTable() {
		mm := s.lookupMeta(a, "__eq")
		if mm.IsNil() {
			mm = s.lookupMeta(b, "__eq")
		}
		if !mm.IsNil() {
			res, err := s.Call(mm, []value.Value{a, b}, 1)
			if err != nil {
				return false, err
			}
			return len(res) > 0 && res[0].ToBoolean(), nil
		}
	}
	return false, nil
}

// Lt implements the < operator.
func (s *State) Lt(a, b value.Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return a.AsFloat() < b.AsFloat(), nil
	}
	if a.IsString() && b.IsString() {
		return a.AsString() < b.AsString(), nil
	}
	mm := s.lookupMeta(a, "__lt")
	if mm.IsNil() {
		mm = s.lookupMeta(b, "__lt")
	}
	if mm.IsNil() {
		return false, runtimeErrf(KindArithmeticError, "attempt to compare %s with %s", a.TypeName(), b.TypeName())
	}
	res, err := s.Call(mm, []value.Value{a, b}, 1)
	if err != nil {
		return false, err
	}
	return len(res) > 0 && res[0].ToBoolean(), nil
}

// Le implements the <= operator.
func (s *State) Le(a, b value.Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return a.AsFloat() <= b.AsFloat(), nil
	}
	if a.IsString() && b.IsString() {
		return a.AsString() <= b.AsString(), nil
	}
	mm := s.lookupMeta(a, "__le")
	if mm.IsNil() {
		mm = s.lookupMeta(b, "__le")
	}
	if mm.IsNil() {
		return false, runtimeErrf(KindArithmeticError, "attempt to compare %s with %s", a.TypeName(), b.TypeName())
	}
	res, err := s.Call(mm, []value.Value{a, b}, 1)
	if err != nil {
		return false, err
	}
	return len(res) > 0 && res[0].ToBoolean(), nil
}
