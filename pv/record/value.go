package record

import (
	"strconv"
	"strings"
)

// Value is the content of a record: either a scalar or a numeric array.
// Values are immutable once built; accessors hand out copies.
type Value struct {
	scalar  float64
	array   []float64
	isArray bool
}

// Scalar builds a scalar value.
func Scalar(f float64) Value {
	return Value{scalar: f}
}

// Array builds an array value from a copy of fs.
func Array(fs ...float64) Value {
	cp := make([]float64, len(fs))
	copy(cp, fs)
	return Value{array: cp, isArray: true}
}

// Bools builds an array value of 0/1 elements.
func Bools(bs []bool) Value {
	arr := make([]float64, len(bs))
	for i, b := range bs {
		if b {
			arr[i] = 1
		}
	}
	return Value{array: arr, isArray: true}
}

// IsArray reports whether v holds an array.
func (v Value) IsArray() bool { return v.isArray }

// Len is 1 for scalars and the element count for arrays.
func (v Value) Len() int {
	if v.isArray {
		return len(v.array)
	}
	return 1
}

// Float returns the scalar, or the first element of an array (0 when empty).
func (v Value) Float() float64 {
	if !v.isArray {
		return v.scalar
	}
	if len(v.array) == 0 {
		return 0
	}
	return v.array[0]
}

// Floats returns the elements of v; a scalar yields a one element slice.
func (v Value) Floats() []float64 {
	if !v.isArray {
		return []float64{v.scalar}
	}
	cp := make([]float64, len(v.array))
	copy(cp, v.array)
	return cp
}

// Truth reads v as a boolean: non-zero is true.
func (v Value) Truth() bool {
	return v.Float() != 0
}

// Add returns v+o. Scalars broadcast over arrays; two arrays add element-wise and the
// shorter one is treated as zero-padded.
func (v Value) Add(o Value) Value {
	switch {
	case !v.isArray && !o.isArray:
		return Scalar(v.scalar + o.scalar)
	case v.isArray && !o.isArray:
		return v.mapArray(func(f float64) float64 { return f + o.scalar })
	case !v.isArray && o.isArray:
		return o.mapArray(func(f float64) float64 { return f + v.scalar })
	}
	n := max(len(v.array), len(o.array))
	out := make([]float64, n)
	for i := range out {
		if i < len(v.array) {
			out[i] += v.array[i]
		}
		if i < len(o.array) {
			out[i] += o.array[i]
		}
	}
	return Value{array: out, isArray: true}
}

func (v Value) mapArray(fn func(float64) float64) Value {
	out := make([]float64, len(v.array))
	for i, f := range v.array {
		out[i] = fn(f)
	}
	return Value{array: out, isArray: true}
}

// Equal compares shape and contents.
func (v Value) Equal(o Value) bool {
	if v.isArray != o.isArray {
		return false
	}
	if !v.isArray {
		return v.scalar == o.scalar
	}
	if len(v.array) != len(o.array) {
		return false
	}
	for i := range v.array {
		if v.array[i] != o.array[i] {
			return false
		}
	}
	return true
}

// String formats scalars as plain numbers and arrays as "[a b c]", the same form the
// configuration tables use.
func (v Value) String() string {
	if !v.isArray {
		return strconv.FormatFloat(v.scalar, 'g', -1, 64)
	}
	parts := make([]string, len(v.array))
	for i, f := range v.array {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
