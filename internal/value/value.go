// Package value defines the schema-free data representation exchanged with the
// dynamic codec. A Value is a closed tagged union; it carries no descriptor
// information and is safe to share between goroutines once built.
package value

import (
	"bytes"
	"fmt"
	"math"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	NullKind Kind = iota
	BoolKind
	IntKind
	FloatKind
	StringKind
	BytesKind
	ArrayKind
	MapKind
)

func (k Kind) String() string {
	switch k {
	case NullKind:
		return "null"
	case BoolKind:
		return "bool"
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case StringKind:
		return "string"
	case BytesKind:
		return "bytes"
	case ArrayKind:
		return "array"
	case MapKind:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the generic value. The zero Value is Null.
type Value struct {
	kind Kind
	n    int64
	f    float64
	s    string
	b    []byte
	arr  []Value
	m    *Map
}

func Null() Value             { return Value{} }
func Int(n int64) Value       { return Value{kind: IntKind, n: n} }
func Float(f float64) Value   { return Value{kind: FloatKind, f: f} }
func String(s string) Value   { return Value{kind: StringKind, s: s} }
func Bytes(b []byte) Value    { return Value{kind: BytesKind, b: b} }
func Array(vs ...Value) Value { return Value{kind: ArrayKind, arr: vs} }

func Bool(b bool) Value {
	v := Value{kind: BoolKind}
	if b {
		v.n = 1
	}
	return v
}

// FromMap wraps m. A nil m yields an empty map value.
func FromMap(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: MapKind, m: m}
}

// Entry is one key/value pair of a map literal.
type Entry struct {
	Key   string
	Value Value
}

// KV builds an Entry.
func KV(key string, v Value) Entry { return Entry{Key: key, Value: v} }

// MapOf builds a map value from entries, preserving their order.
func MapOf(entries ...Entry) Value {
	m := NewMap()
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return FromMap(m)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == NullKind }

// Accessors return the zero value of their type when v holds another kind.

func (v Value) Bool() bool      { return v.kind == BoolKind && v.n != 0 }
func (v Value) Int() int64      { return v.n }
func (v Value) Float() float64  { return v.f }
func (v Value) Str() string     { return v.s }
func (v Value) Bytes() []byte   { return v.b }
func (v Value) Array() []Value  { return v.arr }
func (v Value) Map() *Map {
	if v.kind != MapKind {
		return nil
	}
	return v.m
}

// Len reports the number of elements of an array or map, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case ArrayKind:
		return len(v.arr)
	case MapKind:
		return v.m.Len()
	}
	return 0
}

// Equal reports deep equality. Maps compare as unordered sets of entries and
// NaN floats compare equal to each other.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case NullKind:
		return true
	case BoolKind, IntKind:
		return v.n == o.n
	case FloatKind:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case StringKind:
		return v.s == o.s
	case BytesKind:
		return bytes.Equal(v.b, o.b)
	case ArrayKind:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case MapKind:
		if v.m.Len() != o.m.Len() {
			return false
		}
		eq := true
		v.m.Range(func(k string, x Value) bool {
			y, ok := o.m.Get(k)
			eq = ok && x.Equal(y)
			return eq
		})
		return eq
	}
	return false
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}
