package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindInt32
	KindInt64
	KindDouble
	KindBinary
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one typed wire value. The zero Value is Null.
type Value struct {
	kind  Kind
	str   string
	num   int64
	float float64
	bin   []byte
	items []Value
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func Int32(n int32) Value { return Value{kind: KindInt32, num: int64(n)} }

func Int64(n int64) Value { return Value{kind: KindInt64, num: n} }

func Double(f float64) Value { return Value{kind: KindDouble, float: f} }

// Binary copies b so later mutation by the caller does not leak into the value.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: bytes.Clone(b)}
}

// Array builds an array value. A nil item list yields an empty array.
func Array(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindArray, items: out}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload and whether v is a String.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.num != 0, true
}

// AsInt returns the integer payload of an Int32 or Int64 value.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt32 && v.kind != KindInt64 {
		return 0, false
	}
	return v.num, true
}

// AsFloat returns the payload of a Double, widening integer kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindDouble:
		return v.float, true
	case KindInt32, KindInt64:
		return float64(v.num), true
	default:
		return 0, false
	}
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return bytes.Clone(v.bin), true
}

// Items returns a copy of the array elements, or nil when v is not an Array.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	out := make([]Value, len(v.items))
	copy(out, v.items)
	return out
}

// Len reports the element count for arrays and the byte length for strings
// and binaries.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindString:
		return len(v.str)
	case KindBinary:
		return len(v.bin)
	default:
		return 0
	}
}

// IsZeroSentinel reports whether v is the "no arguments" marker used in
// event records: an integer zero or a Null.
func (v Value) IsZeroSentinel() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindInt32, KindInt64:
		return v.num == 0
	default:
		return false
	}
}

// Equal compares kind and payload recursively. Doubles compare by value, so
// NaN is never equal to itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindBool, KindInt32, KindInt64:
		return v.num == o.num
	case KindDouble:
		return v.float == o.float
	case KindBinary:
		return bytes.Equal(v.bin, o.bin)
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v to a plain Go value: nil, string, bool, int32, int64,
// float64, []byte or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.num != 0
	case KindInt32:
		return int32(v.num)
	case KindInt64:
		return v.num
	case KindDouble:
		return v.float
	case KindBinary:
		return bytes.Clone(v.bin)
	case KindArray:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.num, 10)
	case KindDouble:
		return strconv.FormatFloat(v.float, 'g', -1, 64)
	case KindBinary:
		return fmt.Sprintf("binary(%d)", len(v.bin))
	case KindArray:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
		}
		b.WriteByte(']')
		return b.String()
	}
	return v.kind.String()
}
