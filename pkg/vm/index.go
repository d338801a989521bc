package vm

import "github.com/oisee/luago/pkg/value"

// rawSet wraps Table.Set, translating its nil/NaN-key sentinel errors
// into a RuntimeError so callers never see the value package's raw
// errors.
func (s *State) rawSet(tbl *value.Table, k, v value.Value) error {
	if err := tbl.Set(k, v); err != nil {
		return runtimeErrf(KindIndexError, "%v", err)
	}
	return nil
}

// Index implements Lua's indexing semantics for t[k]: a direct table
// hit short-circuits; otherwise __index is consulted, chasing through
// a function or a further indexable value up to MaxIndexDepth levels.
func (s *State) Index(t value.Value, k value.Value) (value.Value, error) {
	cur := t
	for depth := 0; ; depth++ {
		if depth > s.MaxIndexDepth {
			return value.Nil, runtimeErrf(KindIndexError, "'__index' chain too long; possible loop")
		}
		if cur.IsTable() {
			v := cur.Table().Get(k)
			if !v.IsNil() {
				return v, nil
			}
			mt := cur.Table().Metatable()
			if mt == nil {
				return value.Nil, nil
			}
			idx := mt.Get(value.Str("__index"))
			if idx.IsNil() {
				return value.Nil, nil
			}
			if idx.IsFunction() {
				res, err := s.Call(idx, []value.Value{cur, k}, 1)
				if err != nil {
					return value.Nil, err
				}
				if len(res) == 0 {
					return value.Nil, nil
				}
				return res[0], nil
			}
			cur = idx
			continue
		}
		mt := s.metatableFor(cur)
		if mt == nil {
			return value.Nil, runtimeErrf(KindIndexError, "attempt to index a %s value", cur.TypeName())
		}
		idx := mt.Get(value.Str("__index"))
		if idx.IsNil() {
			return value.Nil, runtimeErrf(KindIndexError, "attempt to index a %s value", cur.TypeName())
		}
		if idx.IsFunction() {
			res, err := s.Call(idx, []value.Value{cur, k}, 1)
			if err != nil {
				return value.Nil, err
			}
			if len(res) == 0 {
				return value.Nil, nil
			}
			return res[0], nil
		}
		cur = idx
	}
}

// NewIndex implements t[k] = v: a table with no __newindex (or whose
// key already exists) assigns directly; otherwise __newindex is
// consulted the same way Index consults __index.
func (s *State) NewIndex(t value.Value, k value.Value, v value.Value) error {
	cur := t
	for depth := 0; ; depth++ {
		if depth > s.MaxIndexDepth {
			return runtimeErrf(KindIndexError, "'__newindex' chain too long; possible loop")
		}
		if cur.IsTable() {
			tbl := cur.Table()
			if !tbl.Get(k).IsNil() {
				return s.rawSet(tbl, k, v)
			}
			mt := tbl.Metatable()
			if mt == nil {
				return s.rawSet(tbl, k, v)
			}
			ni := mt.Get(value.Str("__newindex"))
			if ni.IsNil() {
				return s.rawSet(tbl, k, v)
			}
			if ni.IsFunction() {
				_, err := s.Call(ni, []value.Value{cur, k, v}, 0)
				return err
			}
			cur = ni
			continue
		}
		mt := s.metatableFor(cur)
		if mt == nil {
			return runtimeErrf(KindIndexError, "attempt to index a %s value", cur.TypeName())
		}
		ni := mt.Get(value.Str("__newindex"))
		if ni.IsNil() {
			return runtimeErrf(KindIndexError, "attempt to index a %s value", cur.TypeName())
		}
		if ni.IsFunction() {
			_, err := s.Call(ni, []value.Value{cur, k, v}, 0)
			return err
		}
		cur = ni
	}
}

// Length implements the # operator: strings report their byte
// length, tables call their metatable's __len if set and otherwise
// use their native Len(). Any other value is a type error; default
// metatables are not consulted for __len.
func (s *State) Length(v value.Value) (value.Value, error) {
	if v.IsString() {
		return value.Int(int64(len(v.AsString()))), nil
	}
	if v.IsTable() {
		mt := v.Table().Metatable()
		if mt != nil {
			if lf := mt.Get(value.Str("__len")); !lf.IsNil() {
				res, err := s.Call(lf, []value.Value{v}, 1)
				if err != nil {
					return value.Nil, err
				}
				if len(res) == 0 {
					return value.Nil, nil
				}
				return res[0], nil
			}
		}
		return value.Int(int64(v.Table().Len())), nil
	}
	return value.Nil, runtimeErrf(KindTypeError, "attempt to get length of a %s value", v.TypeName())
}
