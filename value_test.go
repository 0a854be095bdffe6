package liquidvm

import (
	"testing"

	"github.com/kr/pretty"
)

func TestTruthiness(t *testing.T) {
	truthy := []Value{Int(0), Float(0), String(""), Array(nil), Map(NewOrderedMap()), True, String("false")}
	for _, v := range truthy {
		if !v.IsTrue() {
			t.Errorf("%# v should be truthy", pretty.Formatter(v))
		}
	}
	falsy := []Value{Nil, False, Undefined("x")}
	for _, v := range falsy {
		if v.IsTrue() {
			t.Errorf("%# v should be falsy", pretty.Formatter(v))
		}
	}
}

func TestEquality(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{Int(1), Int(1), true},
		{Int(1), Float(1.0), true},
		{Float(2.5), Float(2.5), true},
		{String("1"), Int(1), false},
		{String("a"), String("a"), true},
		{Nil, Undefined("x"), true},
		{Undefined("x"), Undefined("y"), true},
		{Nil, False, false},
		{Nil, Int(0), false},
		{EmptyValue, String(""), true},
		{EmptyValue, Array(nil), true},
		{EmptyValue, String("x"), false},
		{EmptyValue, Int(0), false},
		{Array([]Value{Int(1)}), Array([]Value{Int(1)}), true},
		{Array([]Value{Int(1)}), Array([]Value{Int(2)}), false},
		{MakeRange(1, 3), MakeRange(1, 3), true},
	}
	for _, tc := range cases {
		if got := tc.a.EqualValueTo(tc.b); got != tc.want {
			t.Errorf("EqualValueTo(%# v, %# v) = %v, want %v",
				pretty.Formatter(tc.a), pretty.Formatter(tc.b), got, tc.want)
		}
		if got := tc.b.EqualValueTo(tc.a); got != tc.want {
			t.Errorf("EqualValueTo is not symmetric for %# v and %# v",
				pretty.Formatter(tc.a), pretty.Formatter(tc.b))
		}
	}
}

func TestContains(t *testing.T) {
	if !String("hello").Contains(String("ell")) {
		t.Error("substring containment failed")
	}
	if !Array([]Value{Int(1), Int(2)}).Contains(Int(2)) {
		t.Error("array membership failed")
	}
	m := NewOrderedMap()
	m.Set("k", Int(1))
	if !Map(m).Contains(String("k")) {
		t.Error("map key containment failed")
	}
	if Undefined("x").Contains(String("y")) {
		t.Error("undefined contains nothing")
	}
}

func TestStringConversion(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Nil, ""},
		{Undefined("x"), ""},
		{True, "true"},
		{Int(-3), "-3"},
		{Float(2.5), "2.5"},
		{String("s"), "s"},
		{Array([]Value{String("a"), Int(1)}), "a1"},
		{MakeRange(1, 3), "1..3"},
	}
	for _, tc := range cases {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("String(%# v) = %q, want %q", pretty.Formatter(tc.v), got, tc.want)
		}
	}
}

func TestRangeWindow(t *testing.T) {
	r := Range{Start: 3, Stop: 5}
	if r.Len() != 3 || r.At(0) != 3 || r.At(2) != 5 {
		t.Errorf("range 3..5 misbehaves: len=%d", r.Len())
	}
	empty := Range{Start: 5, Stop: 3}
	if empty.Len() != 0 {
		t.Errorf("descending range should be empty, got len %d", empty.Len())
	}
}

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	m := NewOrderedMap()
	for _, k := range []string{"z", "a", "m"} {
		m.Set(k, Int(1))
	}
	m.Set("z", Int(2)) // update must not reorder
	want := []string{"z", "a", "m"}
	got := m.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
	if v, _ := m.Get("z"); v.Int() != 2 {
		t.Errorf("updated value = %v, want 2", v)
	}
}

func TestFromGoConversions(t *testing.T) {
	v := FromGo(map[string]any{"n": 1, "s": "x", "f": 1.5, "b": true, "a": []any{1}})
	if !v.IsMap() {
		t.Fatalf("FromGo(map) produced %s", v.kindName())
	}
	n, _ := v.AsMap().Get("n")
	if !n.IsInt() || n.Int() != 1 {
		t.Errorf("nested int = %# v", pretty.Formatter(n))
	}
	a, _ := v.AsMap().Get("a")
	if !a.IsArray() || a.Len() != 1 {
		t.Errorf("nested array = %# v", pretty.Formatter(a))
	}
}

func TestIndexValue(t *testing.T) {
	arr := Array([]Value{String("a"), String("b")})
	if got := indexValue(arr, Int(-1)); got.String() != "b" {
		t.Errorf("negative index = %q, want b", got.String())
	}
	if got := indexValue(arr, Int(9)); !got.IsUndefined() {
		t.Errorf("out of range should be undefined, got %# v", pretty.Formatter(got))
	}
	if got := indexValue(arr, String("size")); got.Int() != 2 {
		t.Errorf("size = %v, want 2", got)
	}
	rng := MakeRange(10, 12)
	if got := indexValue(rng, Int(1)); got.Int() != 11 {
		t.Errorf("range index = %v, want 11", got)
	}
	if got := indexValue(Undefined("x"), String("y")); !got.IsUndefined() {
		t.Error("indexing undefined should stay undefined")
	}
}
