package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// MarshalJSON renders v as plain JSON. Binary values become base64 strings,
// doubles always carry a fraction or exponent so they read back as doubles.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.num != 0)
	case KindInt32, KindInt64:
		return strconv.AppendInt(nil, v.num, 10), nil
	case KindDouble:
		if math.IsNaN(v.float) || math.IsInf(v.float, 0) {
			return nil, fmt.Errorf("double %v has no JSON representation", v.float)
		}
		text := strconv.FormatFloat(v.float, 'g', -1, 64)
		if !strings.ContainsAny(text, ".eE") {
			text += ".0"
		}
		return []byte(text), nil
	case KindBinary:
		return json.Marshal(v.bin)
	case KindArray:
		if len(v.items) == 0 {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	}
	return nil, fmt.Errorf("unsupported kind %s", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromJSON converts a JSON document into a Value. Integers that fit in 32
// bits become Int32, larger ones Int64, numbers with a fraction or exponent
// Double. Objects are rejected because the grammar has no map type.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("parse json value: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("parse json value: trailing data")
	}
	return FromAny(raw)
}

// FromAny converts common Go values into a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int32:
		return Int32(x), nil
	case int:
		return fromInt64(int64(x)), nil
	case int64:
		return Int64(x), nil
	case float64:
		return Double(x), nil
	case float32:
		return Double(float64(x)), nil
	case []byte:
		return Binary(x), nil
	case json.Number:
		return fromNumber(x)
	case []Value:
		return Array(x...), nil
	case []any:
		items := make([]Value, 0, len(x))
		for i, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, v)
		}
		return Value{kind: KindArray, items: items}, nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return Value{kind: KindArray, items: items}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

func fromNumber(n json.Number) (Value, error) {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return fromInt64(i), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("parse number %q: %w", text, err)
	}
	return Double(f), nil
}

func fromInt64(i int64) Value {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return Int32(int32(i))
	}
	return Int64(i)
}
