package bridge

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Kind is the tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one cell or parameter. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Value                { return Value{} }
func Integer(v int64) Value      { return Value{kind: KindInteger, i: v} }
func Real(v float64) Value       { return Value{kind: KindReal, f: v} }
func Text(v string) Value        { return Value{kind: KindText, s: v} }
func Blob(v []byte) Value        { return Value{kind: KindBlob, b: v} }
func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) Int64() int64     { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) Bytes() []byte    { return v.b }

// Text returns the text payload. For other kinds it returns "".
func (v Value) Text() string {
	return v.s
}

// Equal compares tag and payload. Reals compare bitwise, so -0 and 0
// differ.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindReal:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	}
	return true
}

// Any returns the payload as nil, int64, float64, string or []byte.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	}
	return nil
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("x'%X'", v.b)
	}
	return "NULL"
}

// ValueOf converts common Go values, such as decoded YAML or JSON
// arguments, into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case int:
		return Integer(int64(t)), nil
	case int32:
		return Integer(int64(t)), nil
	case int64:
		return Integer(t), nil
	case uint32:
		return Integer(int64(t)), nil
	case bool:
		if t {
			return Integer(1), nil
		}
		return Integer(0), nil
	case float32:
		return Real(float64(t)), nil
	case float64:
		return Real(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Blob(t), nil
	}
	return Value{}, fmt.Errorf("bridge: unsupported value type %T", x)
}
