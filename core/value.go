package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a JSON-compatible field value. Numbers keep their textual form so
// that a decode/encode round trip does not change precision.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string // string payload, or the literal of a number
	b    bool
	obj  map[string]Value
	arr  []Value
}

func Null() Value {
	return Value{}
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Number wraps a JSON number literal. Invalid literals become strings.
func Number(n json.Number) Value {
	if _, err := strconv.ParseFloat(string(n), 64); err != nil {
		return String(string(n))
	}
	return Value{kind: KindNumber, str: string(n)}
}

func Int(i int64) Value {
	return Value{kind: KindNumber, str: strconv.FormatInt(i, 10)}
}

func Float(f float64) Value {
	return Value{kind: KindNumber, str: strconv.FormatFloat(f, 'f', -1, 64)}
}

func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ValueOf converts a native Go value into a Value. Maps, slices and structs
// are converted through their JSON representation.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(json.Number(strconv.FormatUint(uint64(t), 10))), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Number(json.Number(strconv.FormatUint(t, 10))), nil
	case float32:
		return valueOfFloat(float64(t))
	case float64:
		return valueOfFloat(t)
	case map[string]Value:
		return Object(t), nil
	case []Value:
		return Array(t...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = val
		}
		return Object(m), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			val, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = val
		}
		return Array(items...), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	var out Value
	if err = out.UnmarshalJSON(raw); err != nil {
		return Value{}, err
	}
	return out, nil
}

func valueOfFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("unsupported float value %v", f)
	}
	return Float(f), nil
}

// MustValueOf is like ValueOf but panics on unsupported input.
func MustValueOf(v any) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Num returns the number literal.
func (v Value) Num() (json.Number, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return json.Number(v.str), true
}

// Int64 returns the value as an integer. Numeric strings are accepted since
// the Data API serializes number fields as strings on some layouts.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindNumber, KindString:
		if i, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}

func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindNumber, KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (v Value) BoolValue() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Object() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

func (v Value) Array() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// Interface converts the Value back into plain Go values: nil, string, bool,
// int64 or float64, map[string]any and []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindNumber:
		if i, err := strconv.ParseInt(v.str, 10, 64); err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(v.str, 64)
		return f
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			m[k] = item.Interface()
		}
		return m
	case KindArray:
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Interface()
		}
		return items
	}
	return nil
}

// Equal reports deep equality. Numbers compare by numeric value.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	case KindNumber:
		if v.str == other.str {
			return true
		}
		a, _ := v.Float64()
		b, _ := other.Float64()
		return a == b
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, item := range v.obj {
			o, ok := other.obj[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for display. Strings are not quoted.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString, KindNumber:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.str), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			item, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(item)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := fromDecoded(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func fromDecoded(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, str: string(t)}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := fromDecoded(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = val
		}
		return Object(m), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			val, err := fromDecoded(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = val
		}
		return Array(items...), nil
	}
	return Value{}, fmt.Errorf("unexpected decoded type %T", raw)
}
