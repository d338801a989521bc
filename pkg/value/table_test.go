package value

import "testing"

func TestTableArrayPartBasics(t *testing.T) {
	tbl := NewTable(0, 0)
	for i := int64(1); i <= 3; i++ {
		if err := tbl.Set(Int(i), Int(i*10)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if tbl.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tbl.Len())
	}
	if got := tbl.Get(Int(2)); got.AsInteger() != 20 {
		t.Errorf("Get(2) = %v, want 20", got)
	}
}

func TestTableSetNilRemovesKey(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(Str("k"), Int(1))
	if err := tbl.Set(Str("k"), Nil); err != nil {
		t.Fatal(err)
	}
	if got := tbl.Get(Str("k")); !got.IsNil() {
		t.Errorf("Get after nil-set = %v, want nil", got)
	}
}

func TestTableRejectsNilKey(t *testing.T) {
	tbl := NewTable(0, 0)
	if err := tbl.Set(Nil, Int(1)); err != ErrNilKey {
		t.Errorf("Set(nil, _) = %v, want ErrNilKey", err)
	}
}

func TestTableRejectsNaNKey(t *testing.T) {
	tbl := NewTable(0, 0)
	nan := Value{kind: KindFloat, f: nan()}
	if err := tbl.Set(nan, Int(1)); err != ErrNaNKey {
		t.Errorf("Set(NaN, _) = %v, want ErrNaNKey", err)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestTableTruncationDemotesSuffix(t *testing.T) {
	tbl := NewTable(0, 0)
	for i := int64(1); i <= 5; i++ {
		tbl.Set(Int(i), Int(i))
	}
	// Nil out key 3: array truncates to length 2, keys 4 and 5 demote to hash.
	tbl.Set(Int(3), Nil)
	if tbl.Len() != 2 {
		t.Fatalf("Len() after demotion = %d, want 2", tbl.Len())
	}
	if got := tbl.Get(Int(4)); got.AsInteger() != 4 {
		t.Errorf("Get(4) after demotion = %v, want 4", got)
	}
	if got := tbl.Get(Int(5)); got.AsInteger() != 5 {
		t.Errorf("Get(5) after demotion = %v, want 5", got)
	}
	if got := tbl.Get(Int(3)); !got.IsNil() {
		t.Errorf("Get(3) after nil-set = %v, want nil", got)
	}
}

func TestTablePromotionFromHash(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(Int(1), Int(100))
	// key 3 lands in the hash part since the array only covers key 1.
	tbl.Set(Int(3), Int(300))
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 before promotion", tbl.Len())
	}
	// Setting key 2 should extend the array and promote key 3 into it.
	tbl.Set(Int(2), Int(200))
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 after promotion", tbl.Len())
	}
	if got := tbl.Get(Int(3)); got.AsInteger() != 300 {
		t.Errorf("Get(3) after promotion = %v, want 300", got)
	}
}

func TestTableLengthBoundaryInvariant(t *testing.T) {
	tbl := NewTable(0, 0)
	n := tbl.Len()
	if n != 0 {
		t.Fatalf("empty table Len() = %d, want 0", n)
	}
	tbl.Set(Int(1), Int(1))
	tbl.Set(Int(2), Int(1))
	n = tbl.Len()
	if tbl.Get(Int(int64(n))).IsNil() {
		t.Errorf("t[%d] should be non-nil", n)
	}
	if !tbl.Get(Int(int64(n) + 1)).IsNil() {
		t.Errorf("t[%d] should be nil", n+1)
	}
}

func TestTableNextVisitsEveryKeyExactlyOnce(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(Int(1), Str("a"))
	tbl.Set(Int(2), Str("b"))
	tbl.Set(Str("x"), Str("c"))
	tbl.Set(Str("y"), Str("d"))

	seen := map[string]bool{}
	key := Nil
	for {
		k, v, ok := tbl.Next(key)
		if !ok {
			t.Fatalf("Next(%v) reported invalid key", key)
		}
		if k.IsNil() {
			break
		}
		seen[ToDisplayString(k)+"="+ToDisplayString(v)] = true
		key = k
	}
	want := []string{"1=a", "2=b", "x=c", "y=d"}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("Next() traversal missed %q", w)
		}
	}
	if len(seen) != len(want) {
		t.Errorf("Next() traversal visited %d entries, want %d", len(seen), len(want))
	}
}

func TestTableMetatable(t *testing.T) {
	tbl := NewTable(0, 0)
	if tbl.Metatable() != nil {
		t.Fatal("fresh table should have no metatable")
	}
	mt := NewTable(0, 0)
	tbl.SetMetatable(mt)
	if tbl.Metatable() != mt {
		t.Error("SetMetatable did not stick")
	}
}
