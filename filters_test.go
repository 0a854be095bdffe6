package liquidvm

import (
	"testing"
)

func vals(items ...any) []Value {
	out := make([]Value, len(items))
	for i, it := range items {
		out[i] = FromGo(it)
	}
	return out
}

func TestStringFilters(t *testing.T) {
	cases := []struct {
		filter string
		in     any
		args   []Value
		want   string
	}{
		{"append", "a", vals("b"), "ab"},
		{"prepend", "a", vals("b"), "ba"},
		{"capitalize", "hello WORLD", nil, "Hello world"},
		{"downcase", "HeLLo", nil, "hello"},
		{"upcase", "hello", nil, "HELLO"},
		{"escape", `<a href="x">`, nil, "&lt;a href=&#34;x&#34;&gt;"},
		{"escape_once", "&lt;b&gt;", nil, "&lt;b&gt;"},
		{"lstrip", "  x  ", nil, "x  "},
		{"rstrip", "  x  ", nil, "  x"},
		{"strip", "\t x \n", nil, "x"},
		{"newline_to_br", "a\nb", nil, "a<br />\nb"},
		{"remove", "rain rain", vals("rain"), " "},
		{"remove_first", "rain rain", vals("rain"), " rain"},
		{"remove_last", "rain rain", vals("rain"), "rain "},
		{"replace", "a-a", vals("a", "b"), "b-b"},
		{"replace_first", "a-a", vals("a", "b"), "b-a"},
		{"replace_last", "a-a", vals("a", "b"), "a-b"},
		{"strip_html", "<p>Hi <b>there</b></p>", nil, "Hi there"},
		{"strip_newlines", "a\r\nb\nc", nil, "abc"},
		{"truncate", "Ground control to Major Tom.", vals(20), "Ground control to..."},
		{"truncate", "short", vals(20), "short"},
		{"truncatewords", "one two three four", vals(2), "one two..."},
		{"truncatewords", "one two", vals(5), "one two"},
		{"url_encode", "a b&c", nil, "a+b%26c"},
		{"url_decode", "a+b%26c", nil, "a b&c"},
		{"slice", "Liquid", vals(2), "q"},
		{"slice", "Liquid", vals(2, 3), "qui"},
		{"slice", "Liquid", vals(-2, 2), "id"},
	}
	for _, tc := range cases {
		entry := builtinFilters[tc.filter]
		if entry == nil {
			t.Fatalf("filter %q not registered", tc.filter)
		}
		got, err := entry.fn(FromGo(tc.in), tc.args, nil)
		if err != nil {
			t.Errorf("%s(%v, %v) failed: %v", tc.filter, tc.in, tc.args, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("%s(%v, %v) = %q, want %q", tc.filter, tc.in, tc.args, got.String(), tc.want)
		}
	}
}

func TestMathFilters(t *testing.T) {
	cases := []struct {
		filter string
		in     any
		args   []Value
		want   string
	}{
		{"abs", -5, nil, "5"},
		{"abs", -4.5, nil, "4.5"},
		{"abs", "-3", nil, "3"},
		{"at_least", 3, vals(5), "5"},
		{"at_least", 7, vals(5), "7"},
		{"at_most", 3, vals(5), "3"},
		{"ceil", 1.2, nil, "2"},
		{"floor", 1.8, nil, "1"},
		{"round", 2.7, nil, "3"},
		{"round", 2.7156, vals(2), "2.72"},
		{"plus", 1, vals(2), "3"},
		{"plus", 1.5, vals(2), "3.5"},
		{"minus", 5, vals(2), "3"},
		{"times", 3, vals(4), "12"},
		{"times", "2", vals("3"), "6"},
		{"divided_by", 7, vals(2), "3"},
		{"divided_by", 7.0, vals(2), "3.5"},
		{"modulo", 7, vals(3), "1"},
	}
	for _, tc := range cases {
		entry := builtinFilters[tc.filter]
		got, err := entry.fn(FromGo(tc.in), tc.args, nil)
		if err != nil {
			t.Errorf("%s(%v) failed: %v", tc.filter, tc.in, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("%s(%v, %v) = %q, want %q", tc.filter, tc.in, tc.args, got.String(), tc.want)
		}
	}
}

func TestMathFilterErrors(t *testing.T) {
	for _, name := range []string{"divided_by", "modulo"} {
		_, err := builtinFilters[name].fn(Int(1), vals(0), nil)
		if err == nil || !IsKind(err, KindFilterArgument) {
			t.Errorf("%s by zero: err = %v, want a filter argument error", name, err)
		}
	}
	if _, err := builtinFilters["append"].fn(String("x"), nil, nil); err == nil {
		t.Error("append without an argument should fail")
	}
}

func TestArrayFilters(t *testing.T) {
	people := []any{
		map[string]any{"name": "alice", "age": 30, "active": true},
		map[string]any{"name": "bob", "age": 20, "active": false},
		map[string]any{"name": "carol", "age": 25, "active": true},
	}

	join := func(v Value, err error) string {
		if err != nil {
			t.Fatalf("filter failed: %v", err)
		}
		out, _ := builtinFilters["join"].fn(v, vals(","), nil)
		return out.String()
	}

	if got := join(builtinFilters["map"].fn(FromGo(people), vals("name"), nil)); got != "alice,bob,carol" {
		t.Errorf("map = %q", got)
	}
	if got := join(builtinFilters["sort"].fn(FromGo(people), vals("age"), nil)); got == "" {
		t.Errorf("sort by key produced nothing")
	}
	if got := join(builtinFilters["where"].fn(FromGo(people), vals("active"), nil)); got == "" {
		t.Error("where by truthy property produced nothing")
	}
	whered, _ := builtinFilters["where"].fn(FromGo(people), vals("name", "bob"), nil)
	if whered.Len() != 1 {
		t.Errorf("where name=bob matched %d items, want 1", whered.Len())
	}

	if got := join(builtinFilters["sort"].fn(FromGo([]any{"b", "a", "C"}), nil, nil)); got != "C,a,b" {
		t.Errorf("sort = %q, want case-sensitive order", got)
	}
	if got := join(builtinFilters["sort_natural"].fn(FromGo([]any{"b", "a", "C"}), nil, nil)); got != "a,b,C" {
		t.Errorf("sort_natural = %q, want case-insensitive order", got)
	}
	if got := join(builtinFilters["reverse"].fn(FromGo([]any{1, 2, 3}), nil, nil)); got != "3,2,1" {
		t.Errorf("reverse = %q", got)
	}
	if got := join(builtinFilters["uniq"].fn(FromGo([]any{1, 2, 1, 3, 2}), nil, nil)); got != "1,2,3" {
		t.Errorf("uniq = %q", got)
	}
	if got := join(builtinFilters["compact"].fn(FromGo([]any{1, nil, 2}), nil, nil)); got != "1,2" {
		t.Errorf("compact = %q", got)
	}
	if got := join(builtinFilters["concat"].fn(FromGo([]any{1}), []Value{FromGo([]any{2, 3})}, nil)); got != "1,2,3" {
		t.Errorf("concat = %q", got)
	}
	if got := join(builtinFilters["split"].fn(String("a b c"), vals(" "), nil)); got != "a,b,c" {
		t.Errorf("split = %q", got)
	}

	sum, _ := builtinFilters["sum"].fn(FromGo([]any{1, 2, 3}), nil, nil)
	if sum.Int() != 6 {
		t.Errorf("sum = %v, want 6", sum)
	}
	sumBy, _ := builtinFilters["sum"].fn(FromGo(people), vals("age"), nil)
	if sumBy.Int() != 75 {
		t.Errorf("sum by property = %v, want 75", sumBy)
	}

	first, _ := builtinFilters["first"].fn(FromGo([]any{"x", "y"}), nil, nil)
	last, _ := builtinFilters["last"].fn(FromGo([]any{"x", "y"}), nil, nil)
	if first.String() != "x" || last.String() != "y" {
		t.Errorf("first/last = %q/%q", first.String(), last.String())
	}

	size, _ := builtinFilters["size"].fn(FromGo([]any{1, 2}), nil, nil)
	if size.Int() != 2 {
		t.Errorf("size = %v", size)
	}
}

func TestDefaultFilter(t *testing.T) {
	def := builtinFilters["default"]
	if got, _ := def.fn(Undefined("x"), vals("fallback"), nil); got.String() != "fallback" {
		t.Errorf("default on undefined = %q", got.String())
	}
	if got, _ := def.fn(String(""), vals("fallback"), nil); got.String() != "fallback" {
		t.Errorf("default on empty string = %q", got.String())
	}
	if got, _ := def.fn(False, vals("fallback"), nil); got.String() != "fallback" {
		t.Errorf("default on false = %q", got.String())
	}
	if got, _ := def.fn(False, vals("fallback"), map[string]Value{"allow_false": True}); !got.IsBool() {
		t.Errorf("default with allow_false should keep false, got %q", got.String())
	}
	if got, _ := def.fn(Int(0), vals("fallback"), nil); got.Int() != 0 {
		t.Errorf("default on zero should keep it (zero is truthy), got %v", got)
	}
}

func TestDateFilter(t *testing.T) {
	date := builtinFilters["date"]
	cases := []struct {
		in, format, want string
	}{
		{"2023-01-02", "%Y/%m/%d", "2023/01/02"},
		{"2023-01-02 15:04:05", "%H:%M", "15:04"},
		{"2023-07-04", "%B %d, %Y", "July 04, 2023"},
		{"2023-07-04", "%a", "Tue"},
		{"2023-07-04", "%F", "2023-07-04"},
	}
	for _, tc := range cases {
		got, err := date.fn(String(tc.in), vals(tc.format), nil)
		if err != nil {
			t.Errorf("date(%q, %q) failed: %v", tc.in, tc.format, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("date(%q, %q) = %q, want %q", tc.in, tc.format, got.String(), tc.want)
		}
	}
	// An unparseable value passes through.
	if got, _ := date.fn(String("not a date"), vals("%Y"), nil); got.String() != "not a date" {
		t.Errorf("unparseable date = %q, want the input unchanged", got.String())
	}
	// Unix timestamps are accepted.
	if got, _ := date.fn(Int(0), vals("%Y"), nil); got.String() != "1970" {
		t.Errorf("date(0) = %q, want 1970", got.String())
	}
}
