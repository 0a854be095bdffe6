package liquidvm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// valueKind discriminates the runtime value sum type.
type valueKind int

const (
	kNil valueKind = iota
	kBool
	kInt
	kFloat
	kString
	kArray
	kMap
	kRange
	kUndefined
	kEmpty
	kNop
	kStopIter
	kBlock
)

// OrderedMap is a string-keyed, insertion-ordered map, as required for the
// Map runtime value variant.
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

// NewOrderedMap returns an empty insertion-ordered map.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]Value)}
}

// Set inserts or updates key, preserving first-insertion order.
func (m *OrderedMap) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value and whether key was present.
func (m *OrderedMap) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (m *OrderedMap) Keys() []string { return m.keys }

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// Range is the lazy integer sequence produced by the `(a..b)` literal.
type Range struct {
	Start, Stop int64
}

// Len reports how many integers this range spans; an empty range (Stop <
// Start) has length 0.
func (r Range) Len() int {
	if r.Stop < r.Start {
		return 0
	}
	return int(r.Stop-r.Start) + 1
}

// At returns the i-th element of the range (0-based).
func (r Range) At(i int) int64 { return r.Start + int64(i) }

// Value is the tagged-union runtime value: Nil, Bool, Int, Float,
// String, Array, Map, Range, Undefined, Empty, and the internal VM
// sentinels Nop/StopIter.
type Value struct {
	kind valueKind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    *OrderedMap
	rng  Range
	blk  *CompiledBlock
	// name records the lookup path that produced an Undefined value, used
	// only for diagnostics (e.g. strict-undefined errors).
	name string
}

var (
	// Nil is the literal `nil`/`null` value.
	Nil = Value{kind: kNil}
	// True and False are the boolean literals.
	True  = Value{kind: kBool, b: true}
	False = Value{kind: kBool, b: false}
	// EmptyValue is the `empty` literal: it compares equal to any empty
	// string/array/map via `==`.
	EmptyValue = Value{kind: kEmpty}
	// NopValue and StopIterValue are internal VM sentinels never seen by
	// filters or user templates directly.
	NopValue      = Value{kind: kNop}
	StopIterValue = Value{kind: kStopIter}
)

// Bool wraps a boolean.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: kInt, i: i} }

// Float wraps a floating-point number.
func Float(f float64) Value { return Value{kind: kFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: kString, s: s} }

// Array wraps an ordered sequence of values.
func Array(items []Value) Value { return Value{kind: kArray, arr: items} }

// Map wraps an insertion-ordered string-keyed map.
func Map(m *OrderedMap) Value { return Value{kind: kMap, m: m} }

// MakeRange wraps an integer range literal.
func MakeRange(start, stop int64) Value { return Value{kind: kRange, rng: Range{start, stop}} }

// BlockValue wraps a compiled block as a constant-pool entry, so nested
// loop/capture bodies live alongside the other constants.
func BlockValue(b *CompiledBlock) Value { return Value{kind: kBlock, blk: b} }

// AsBlock returns the backing compiled block for a Block value (nil
// otherwise).
func (v Value) AsBlock() *CompiledBlock {
	if v.kind == kBlock {
		return v.blk
	}
	return nil
}

func (v Value) IsBlock() bool { return v.kind == kBlock }

// Undefined is the sentinel returned by a failed lookup: falsy,
// empty-iterable, stringifies empty, compares equal to Nil. Unary minus
// on it is a type error; the arithmetic filters coerce it to 0 like any
// other non-numeric input.
func Undefined(name string) Value { return Value{kind: kUndefined, name: name} }

// FromGo converts a plain Go value (as supplied via a render Context) into
// a Value. Supported shapes: nil, bool, the integer/float kinds, string,
// []any/[]Value, map[string]any/*OrderedMap, and Value itself (pass-through).
func FromGo(v any) Value {
	switch x := v.(type) {
	case nil:
		return Nil
	case Value:
		return x
	case *Value:
		if x == nil {
			return Nil
		}
		return *x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []Value:
		return Array(x)
	case []any:
		items := make([]Value, len(x))
		for i, it := range x {
			items[i] = FromGo(it)
		}
		return Array(items)
	case *OrderedMap:
		return Map(x)
	case map[string]any:
		om := NewOrderedMap()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			om.Set(k, FromGo(x[k]))
		}
		return Map(om)
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

func (v Value) IsNil() bool       { return v.kind == kNil }
func (v Value) IsUndefined() bool { return v.kind == kUndefined }
func (v Value) IsEmptySentinel() bool { return v.kind == kEmpty }
func (v Value) IsBool() bool      { return v.kind == kBool }
func (v Value) IsInt() bool       { return v.kind == kInt }
func (v Value) IsFloat() bool     { return v.kind == kFloat }
func (v Value) IsNumber() bool    { return v.kind == kInt || v.kind == kFloat }
func (v Value) IsString() bool    { return v.kind == kString }
func (v Value) IsArray() bool     { return v.kind == kArray }
func (v Value) IsMap() bool       { return v.kind == kMap }
func (v Value) IsRange() bool     { return v.kind == kRange }
func (v Value) IsNop() bool       { return v.kind == kNop }
func (v Value) IsStopIter() bool  { return v.kind == kStopIter }

// IsTrue implements Liquid truthiness: only Nil, false, and Undefined are
// falsy. Unlike Python/Django, 0, "", and an empty array are all truthy.
func (v Value) IsTrue() bool {
	switch v.kind {
	case kNil, kUndefined:
		return false
	case kBool:
		return v.b
	default:
		return true
	}
}

// String renders v for output / string coercion.
func (v Value) String() string {
	switch v.kind {
	case kNil, kUndefined, kEmpty, kNop:
		return ""
	case kBool:
		if v.b {
			return "true"
		}
		return "false"
	case kInt:
		return strconv.FormatInt(v.i, 10)
	case kFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case kString:
		return v.s
	case kArray:
		parts := make([]string, len(v.arr))
		for i, it := range v.arr {
			parts[i] = it.String()
		}
		return strings.Join(parts, "")
	case kMap:
		return ""
	case kRange:
		return fmt.Sprintf("%d..%d", v.rng.Start, v.rng.Stop)
	default:
		return ""
	}
}

// Int coerces v to an integer (true is 1; 0 if not numeric/numeric-string).
func (v Value) Int() int64 {
	switch v.kind {
	case kInt:
		return v.i
	case kFloat:
		return int64(v.f)
	case kString:
		i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil {
			return 0
		}
		return i
	case kBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Float coerces v to a float64 (0 if not numeric/numeric-string).
func (v Value) Float() float64 {
	switch v.kind {
	case kInt:
		return float64(v.i)
	case kFloat:
		return v.f
	case kString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Len reports the element count of a string/array/map/range; 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case kString:
		return len(v.s)
	case kArray:
		return len(v.arr)
	case kMap:
		return v.m.Len()
	case kRange:
		return v.rng.Len()
	default:
		return 0
	}
}

// IsEmpty reports whether v is the kind of "nothing" the Empty sentinel
// matches: an empty string, array, or map (not a number or bool).
func (v Value) IsEmpty() bool {
	switch v.kind {
	case kEmpty:
		return true
	case kString, kArray, kMap:
		return v.Len() == 0
	default:
		return false
	}
}

// AsArray returns the backing slice for an Array value (nil otherwise).
func (v Value) AsArray() []Value {
	if v.kind == kArray {
		return v.arr
	}
	return nil
}

// AsMap returns the backing map for a Map value (nil otherwise).
func (v Value) AsMap() *OrderedMap {
	if v.kind == kMap {
		return v.m
	}
	return nil
}

// AsRange returns the backing range for a Range value.
func (v Value) AsRange() Range { return v.rng }

// Name returns the lookup path recorded on an Undefined value.
func (v Value) Name() string { return v.name }

// kindName returns a human-readable name for the value's kind, used in
// type-error messages.
func (v Value) kindName() string {
	switch v.kind {
	case kNil:
		return "nil"
	case kBool:
		return "boolean"
	case kInt:
		return "integer"
	case kFloat:
		return "float"
	case kString:
		return "string"
	case kArray:
		return "array"
	case kMap:
		return "map"
	case kRange:
		return "range"
	case kUndefined:
		return "undefined"
	case kEmpty:
		return "empty"
	default:
		return "internal"
	}
}

// Contains implements the `contains` operator: substring test for
// strings, membership test for arrays, key test for maps.
func (v Value) Contains(other Value) bool {
	switch v.kind {
	case kString:
		return strings.Contains(v.s, other.String())
	case kArray:
		for _, it := range v.arr {
			if it.EqualValueTo(other) {
				return true
			}
		}
		return false
	case kMap:
		_, ok := v.m.Get(other.String())
		return ok
	default:
		return false
	}
}

// EqualValueTo implements `==`/`!=` comparison semantics, including the
// Empty-sentinel and Undefined/Nil equivalences. A string never compares
// equal to a number.
func (v Value) EqualValueTo(other Value) bool {
	if v.kind == kEmpty || other.kind == kEmpty {
		a := v
		if a.kind == kEmpty {
			a = other
		}
		return a.IsEmpty()
	}
	if (v.kind == kNil || v.kind == kUndefined) && (other.kind == kNil || other.kind == kUndefined) {
		return true
	}
	if v.IsNumber() && other.IsNumber() {
		// Int and float compare numerically across kinds; strings never
		// coerce ("1" == 1 is false).
		return v.Float() == other.Float()
	}
	if v.kind != other.kind {
		// Nil/Undefined never equal any concrete value; numeric string
		// coercion is intentionally NOT performed ("1" == 1 is false).
		return false
	}
	switch v.kind {
	case kBool:
		return v.b == other.b
	case kInt:
		return v.i == other.i
	case kFloat:
		return v.f == other.f
	case kString:
		return v.s == other.s
	case kRange:
		return v.rng == other.rng
	case kArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].EqualValueTo(other.arr[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Negate implements unary `-` on numerics; callers must check IsNumber
// first (non-numeric negation is a LiquidTypeError at the call site).
func (v Value) Negate() Value {
	if v.kind == kFloat {
		return Float(-v.f)
	}
	return Int(-v.i)
}
