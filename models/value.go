package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueText
	ValueInt
	ValueFloat
	ValueMap
	ValueList
	// ValueUnsupported marks a JSON value outside the accepted set
	// (booleans). It never passes validation.
	ValueUnsupported
)

func (k ValueKind) String() string {
	switch k {
	case ValueNone:
		return "none"
	case ValueText:
		return "text"
	case ValueInt:
		return "integer"
	case ValueFloat:
		return "float"
	case ValueMap:
		return "mapping"
	case ValueList:
		return "list"
	default:
		return "unsupported"
	}
}

// Value is the message payload: text, integer, float, mapping or list.
// The zero Value is absent.
type Value struct {
	kind ValueKind
	text string
	num  int64
	flt  float64
	m    map[string]any
	list []any
}

func Text(s string) Value { return Value{kind: ValueText, text: s} }
func Int(i int64) Value { return Value{kind: ValueInt, num: i} }
func Float(f float64) Value { return Value{kind: ValueFloat, flt: f} }
func Mapping(m map[string]any) Value { return Value{kind: ValueMap, m: m} }
func List(l []any) Value { return Value{kind: ValueList, list: l} }

// Clone copies mapping and list payloads, nested ones included.
func (v Value) Clone() Value {
	switch v.kind {
	case ValueMap:
		v.m = cloneAny(v.m).(map[string]any)
	case ValueList:
		v.list = cloneAny(v.list).([]any)
	}
	return v
}

func cloneAny(x any) any {
	switch t := x.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = cloneAny(v)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = cloneAny(v)
		}
		return out
	default:
		return x
	}
}

func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether no value was supplied.
func (v Value) IsZero() bool { return v.kind == ValueNone }

func (v Value) AsText() (string, bool) { return v.text, v.kind == ValueText }
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == ValueInt }
func (v Value) AsFloat() (float64, bool) { return v.flt, v.kind == ValueFloat }
func (v Value) AsMapping() (map[string]any, bool) { return v.m, v.kind == ValueMap }
func (v Value) AsList() ([]any, bool) { return v.list, v.kind == ValueList }

// Any returns the payload as a plain Go value, nil when absent.
func (v Value) Any() any {
	switch v.kind {
	case ValueText:
		return v.text
	case ValueInt:
		return v.num
	case ValueFloat:
		return v.flt
	case ValueMap:
		return v.m
	case ValueList:
		return v.list
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueText:
		return v.text
	case ValueInt:
		return strconv.FormatInt(v.num, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case ValueNone, ValueUnsupported:
		return ""
	default:
		b, _ := json.Marshal(v.Any())
		return string(b)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}

	parsed, err := ValueOf(raw)
	if err != nil {
		*v = Value{kind: ValueUnsupported}
		return nil
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON value (or a plain Go scalar) into a
// Value. Numbers without a fraction or exponent become integers.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		return Text(x), nil
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", s, err)
		}
		return Float(f), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case map[string]any:
		return Mapping(x), nil
	case []any:
		return List(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// ParseValue interprets command-line input: JSON objects, arrays and
// numbers are decoded, anything else is text.
func ParseValue(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Text(s)
	}
	var v Value
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		switch v.kind {
		case ValueInt, ValueFloat, ValueMap, ValueList:
			return v
		}
	}
	return Text(s)
}
