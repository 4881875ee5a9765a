// SPDX-License-Identifier: Apache-2.0

package heap

import "math"

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindObject
	// KindArray is an array or any other value with no field view. It only
	// exists so a mismatched shape is reported instead of coerced.
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a raw field value: a primitive, a nested object, or a null
// reference.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	obj  Object
}

func NullValue() Value { return Value{kind: KindNull} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func UintValue(u uint64) Value { return Value{kind: KindUint, u: u} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func ArrayValue(raw string) Value { return Value{kind: KindArray, s: raw} }
func ObjectValue(o Object) Value {
	if o == nil {
		return NullValue()
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindString
}

// Int returns integral values. Floats without a fractional part are accepted
// since some exporters write every number as a double.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindUint:
		if v.u <= math.MaxInt64 {
			return int64(v.u), true
		}
	case KindFloat:
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
			return int64(v.f), true
		}
	}
	return 0, false
}

func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindUint:
		return float64(v.u), true
	}
	return 0, false
}

// Bits returns the exact 64-bit pattern of an integer field, for packed
// fields such as DateTime.dateData whose top bit may be set. Negative ints
// are returned in two's complement.
func (v Value) Bits() (uint64, bool) {
	switch v.kind {
	case KindInt:
		return uint64(v.i), true
	case KindUint:
		return v.u, true
	}
	return 0, false
}

func (v Value) Object() (Object, bool) {
	return v.obj, v.kind == KindObject
}
