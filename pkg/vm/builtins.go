package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oisee/luago/pkg/value"
)

// registerBuiltins installs the base builtins: enough to run ordinary
// control-flow and table-manipulating scripts, without the
// string/math/io/os libraries.
func registerBuiltins(s *State) {
	s.RegisterNative("print", builtinPrint)
	s.RegisterNative("type", builtinType)
	s.RegisterNative("tostring", builtinTostring)
	s.RegisterNative("tonumber", builtinTonumber)
	s.RegisterNative("next", builtinNext)
	s.RegisterNative("pairs", builtinPairs)
	s.RegisterNative("ipairs", builtinIpairs)
	s.RegisterNative("getmetatable", builtinGetmetatable)
	s.RegisterNative("setmetatable", builtinSetmetatable)
	s.RegisterNative("rawget", builtinRawget)
	s.RegisterNative("rawset", builtinRawset)
	s.RegisterNative("rawequal", builtinRawequal)
	s.RegisterNative("error", builtinError)
	s.RegisterNative("assert", builtinAssert)
	s.RegisterNative("pcall", builtinPcall)
	s.RegisterNative("unpack", builtinUnpack)
}

func arg(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.Nil
}

// tostringValue renders v via its __tostring metamethod if one is
// set, falling back to the display form every value has.
func tostringValue(s *State, v value.Value) (string, error) {
	if mt := s.metatableFor(v); mt != nil {
		if f := mt.Get(value.Str("__tostring")); !f.IsNil() {
			res, err := s.Call(f, []value.Value{v}, 1)
			if err != nil {
				return "", err
			}
			if len(res) > 0 && res[0].IsString() {
				return res[0].AsString(), nil
			}
		}
	}
	return value.ToDisplayString(v), nil
}

func builtinPrint(s *State, args []value.Value) ([]value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		str, err := tostringValue(s, a)
		if err != nil {
			return nil, err
		}
		parts[i] = str
	}
	fmt.Fprintln(s.Stdout, strings.Join(parts, "\t"))
	return nil, nil
}

func builtinType(s *State, args []value.Value) ([]value.Value, error) {
	return []value.Value{value.Str(arg(args, 0).TypeName())}, nil
}

func builtinTostring(s *State, args []value.Value) ([]value.Value, error) {
	str, err := tostringValue(s, arg(args, 0))
	if err != nil {
		return nil, err
	}
	return []value.Value{value.Str(str)}, nil
}

func builtinTonumber(s *State, args []value.Value) ([]value.Value, error) {
	v := arg(args, 0)
	if len(args) >= 2 {
		base := arg(args, 1)
		if !v.IsString() || !base.IsNumber() {
			return []value.Value{value.Nil}, nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(v.AsString()), int(base.AsInteger()), 64)
		if err != nil {
			return []value.Value{value.Nil}, nil
		}
		return []value.Value{value.Int(i)}, nil
	}
	if v.IsNumber() {
		return []value.Value{v}, nil
	}
	if v.IsString() {
		if n, ok := value.StringToNumber(v.AsString()); ok {
			return []value.Value{n}, nil
		}
	}
	return []value.Value{value.Nil}, nil
}

func builtinNext(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'next' (table expected, got %s)", t.TypeName())
	}
	k, v, ok := t.Table().Next(arg(args, 1))
	if !ok {
		return nil, runtimeErrf(KindIndexError, "invalid key to 'next'")
	}
	if k.IsNil() {
		return []value.Value{value.Nil}, nil
	}
	return []value.Value{k, v}, nil
}

func builtinPairs(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'pairs' (table expected, got %s)", t.TypeName())
	}
	nextFn := s.GetGlobal("next")
	return []value.Value{nextFn, t, value.Nil}, nil
}

func ipairsAux(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	i := arg(args, 1).AsInteger() + 1
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'ipairs iterator' (table expected, got %s)", t.TypeName())
	}
	v := t.Table().Get(value.Int(i))
	if v.IsNil() {
		return []value.Value{value.Nil}, nil
	}
	return []value.Value{value.Int(i), v}, nil
}

func builtinIpairs(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'ipairs' (table expected, got %s)", t.TypeName())
	}
	iter := value.FromCallable(value.KindNativeClosure, &NativeClosure{Name: "ipairs.iterator", Fn: ipairsAux})
	return []value.Value{iter, t, value.Int(0)}, nil
}

func builtinGetmetatable(s *State, args []value.Value) ([]value.Value, error) {
	v := arg(args, 0)
	mt := s.metatableFor(v)
	if mt == nil {
		return []value.Value{value.Nil}, nil
	}
	if protected := mt.Get(value.Str("__metatable")); !protected.IsNil() {
		return []value.Value{protected}, nil
	}
	return []value.Value{value.FromTable(mt)}, nil
}

func builtinSetmetatable(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'setmetatable' (table expected, got %s)", t.TypeName())
	}
	if mt := t.Table().Metatable(); mt != nil && !mt.Get(value.Str("__metatable")).IsNil() {
		return nil, runtimeErrf(KindTypeError, "cannot change a protected metatable")
	}
	mtv := arg(args, 1)
	if mtv.IsNil() {
		t.Table().SetMetatable(nil)
		return []value.Value{t}, nil
	}
	if !mtv.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #2 to 'setmetatable' (nil or table expected)")
	}
	t.Table().SetMetatable(mtv.Table())
	return []value.Value{t}, nil
}

func builtinRawget(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'rawget' (table expected, got %s)", t.TypeName())
	}
	return []value.Value{t.Table().Get(arg(args, 1))}, nil
}

func builtinRawset(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'rawset' (table expected, got %s)", t.TypeName())
	}
	if err := t.Table().Set(arg(args, 1), arg(args, 2)); err != nil {
		return nil, runtimeErrf(KindIndexError, "%v", err)
	}
	return []value.Value{t}, nil
}

func builtinRawequal(s *State, args []value.Value) ([]value.Value, error) {
	return []value.Value{value.Bool(value.Equal(arg(args, 0), arg(args, 1)))}, nil
}

func builtinError(s *State, args []value.Value) ([]value.Value, error) {
	return nil, raise(arg(args, 0))
}

func builtinAssert(s *State, args []value.Value) ([]value.Value, error) {
	if !arg(args, 0).ToBoolean() {
		if len(args) >= 2 {
			return nil, raise(args[1])
		}
		return nil, raise(value.Str("assertion failed!"))
	}
	return args, nil
}

func builtinPcall(s *State, args []value.Value) ([]value.Value, error) {
	if len(args) == 0 {
		return nil, runtimeErrf(KindCallError, "bad argument #1 to 'pcall' (value expected)")
	}
	ok, results, errVal := s.PCall(args[0], args[1:])
	if ok {
		return append([]value.Value{value.Bool(true)}, results...), nil
	}
	return []value.Value{value.Bool(false), errVal}, nil
}

func builtinUnpack(s *State, args []value.Value) ([]value.Value, error) {
	t := arg(args, 0)
	if !t.IsTable() {
		return nil, runtimeErrf(KindTypeError, "bad argument #1 to 'unpack' (table expected, got %s)", t.TypeName())
	}
	tbl := t.Table()
	i := int64(1)
	if len(args) >= 2 {
		i = arg(args, 1).AsInteger()
	}
	j := int64(tbl.Len())
	if len(args) >= 3 {
		j = arg(args, 2).AsInteger()
	}
	var out []value.Value
	for ; i <= j; i++ {
		out = append(out, tbl.Get(value.Int(i)))
	}
	return out, nil
}
