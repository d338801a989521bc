package value

import "errors"

// ErrNilKey is returned by Table.Set when called with a Nil key.
var ErrNilKey = errors.New("value: table index is nil")

// ErrNaNKey is returned by Table.Set when called with a NaN key.
var ErrNaNKey = errors.New("value: table index is NaN")

type tableEntry struct {
	key     Value
	value   Value
	removed bool
}

// Table is Lua's hybrid array+hash associative container: a densely packed array part for a contiguous run of
// positive-integer keys starting at 1, and a hash part for everything
// else. The hash part tracks insertion order directly so that next's
// iteration order is stable across calls absent intervening
// insert/delete.
type Table struct {
	array     []Value
	hash      map[Value]int // key -> index into entries
	entries   []tableEntry  // insertion-ordered, may contain removed tombstones
	metatable *Table
}

// NewTable constructs an empty table. arrayHint/hashHint are advisory
// size hints (NEWTABLE's B/C operands); implementations may ignore
// them, and this one uses them only to presize the backing slices.
func NewTable(arrayHint, hashHint int) *Table {
	t := &Table{}
	if arrayHint > 0 {
		t.array = make([]Value, 0, arrayHint)
	}
	if hashHint > 0 {
		t.hash = make(map[Value]int, hashHint)
	}
	return t
}

// normalizeKey canonicalizes a lookup/store key: a float with an
// exact integer value becomes that Integer. Value
// construction already canonicalizes Float(k) to Integer(k) for exact
// integers, so this is a no-op given well-formed Values, but is kept
// to document the invariant at the table boundary.
func normalizeKey(k Value) Value {
	return k
}

func isNaN(v Value) bool {
	return v.kind == KindFloat && v.f != v.f
}

// arrayIndex reports whether k is a positive integer key usable as an
// array-part index, returning that index (1-based) when so.
func arrayIndex(k Value) (int, bool) {
	if k.kind != KindInteger {
		return 0, false
	}
	if k.i < 1 || k.i > int64(int(^uint(0)>>1)) {
		return 0, false
	}
	return int(k.i), true
}

// Get returns the raw value stored at key, or Nil if absent. Get does
// not consult metatables; callers needing __index fallback use the vm
// package's metamethod-aware table access.
func (t *Table) Get(key Value) Value {
	key = normalizeKey(key)
	if idx, ok := arrayIndex(key); ok && idx <= len(t.array) {
		return t.array[idx-1]
	}
	if t.hash == nil {
		return Nil
	}
	if i, ok := t.hash[key]; ok && !t.entries[i].removed {
		return t.entries[i].value
	}
	return Nil
}

// Set stores value at key, enforcing the table invariants: a Nil
// or NaN key is rejected; assigning Nil removes the key; setting
// array index len(array)+1 extends the array part and promotes any
// contiguous successor keys out of the hash part; setting Nil at an
// in-range array index truncates the array and demotes the remaining
// suffix into the hash part.
func (t *Table) Set(key, value Value) error {
	key = normalizeKey(key)
	if key.IsNil() {
		return ErrNilKey
	}
	if isNaN(key) {
		return ErrNaNKey
	}

	if idx, ok := arrayIndex(key); ok {
		switch {
		case idx <= len(t.array):
			if value.IsNil() && idx == len(t.array) {
				t.truncateArray(idx - 1)
				return nil
			}
			if value.IsNil() {
				t.demote(idx)
				return nil
			}
			t.array[idx-1] = value
			return nil
		case idx == len(t.array)+1:
			if value.IsNil() {
				return nil // setting nil just past the end is a no-op
			}
			t.array = append(t.array, value)
			t.promoteFromHash()
			return nil
		default:
			// Out-of-range positive integer key: lives in the hash part.
		}
	}

	if value.IsNil() {
		t.hashDelete(key)
		return nil
	}
	t.hashSet(key, value)
	return nil
}

// truncateArray shrinks the array part to length n (n < current
// length), demoting the removed suffix (now nil) out of existence:
// those keys simply become absent, matching "assigning Nil removes
// the key".
func (t *Table) truncateArray(n int) {
	t.array = t.array[:n]
}

// demote truncates the array part at idx-1 and moves keys idx+1..N
// (the values that were at array indices idx..N-1, 0-based) into the
// hash part.
func (t *Table) demote(idx int) {
	tail := t.array[idx:]
	for i, v := range tail {
		if v.IsNil() {
			continue
		}
		t.hashSet(Int(int64(idx+i+1)), v)
	}
	t.array = t.array[:idx-1]
}

// promoteFromHash moves any contiguous run of integer keys
// len(array)+1, len(array)+2, ... out of the hash part and into the
// array part.
func (t *Table) promoteFromHash() {
	for {
		next := Int(int64(len(t.array) + 1))
		i, ok := t.hash[next]
		if !ok || t.entries[i].removed {
			return
		}
		v := t.entries[i].value
		t.hashDelete(next)
		t.array = append(t.array, v)
	}
}

func (t *Table) hashSet(key, value Value) {
	if t.hash == nil {
		t.hash = make(map[Value]int)
	}
	if i, ok := t.hash[key]; ok {
		t.entries[i].value = value
		t.entries[i].removed = false
		return
	}
	t.hash[key] = len(t.entries)
	t.entries = append(t.entries, tableEntry{key: key, value: value})
}

func (t *Table) hashDelete(key Value) {
	if t.hash == nil {
		return
	}
	if i, ok := t.hash[key]; ok {
		t.entries[i].removed = true
		delete(t.hash, key)
	}
}

// Len returns the array part's current length, a valid table-length
// boundary (t[n] non-nil, t[n+1] nil).
func (t *Table) Len() int {
	return len(t.array)
}

// Next implements stateless iteration: called with Nil
// to start, it returns the first key/value pair; called with a
// previously-returned key, it returns the pair that follows; called
// with the last key, it returns (Nil, Nil, true) to signal the end.
// The bool result is false if prevKey is not a valid key in t.
func (t *Table) Next(prevKey Value) (Value, Value, bool) {
	if prevKey.IsNil() {
		if len(t.array) > 0 {
			return Int(1), t.array[0], true
		}
		return t.firstHashEntry()
	}

	if idx, ok := arrayIndex(prevKey); ok && idx <= len(t.array) {
		if idx < len(t.array) {
			return Int(int64(idx + 1)), t.array[idx], true
		}
		return t.firstHashEntry()
	}

	i, ok := t.hash[prevKey]
	if !ok {
		return Nil, Nil, false
	}
	for j := i + 1; j < len(t.entries); j++ {
		if !t.entries[j].removed {
			return t.entries[j].key, t.entries[j].value, true
		}
	}
	return Nil, Nil, true
}

func (t *Table) firstHashEntry() (Value, Value, bool) {
	for j := range t.entries {
		if !t.entries[j].removed {
			return t.entries[j].key, t.entries[j].value, true
		}
	}
	return Nil, Nil, true
}

// Metatable returns the table's metatable, or nil if it has none.
func (t *Table) Metatable() *Table {
	return t.metatable
}

// SetMetatable sets (or, with nil, clears) the table's metatable.
func (t *Table) SetMetatable(mt *Table) {
	t.metatable = mt
}
