// Package vars holds the partitioned variable environment an attempt is
// graded against.
package vars

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Type is the dynamic type of a Value
type Type string

const (
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeString Type = "string"
	TypeBool   Type = "bool"
)

// Value is a typed evaluator value. The zero Value is the empty string.
type Value struct {
	Type Type
	i    int64
	f    float64
	s    string
	b    bool
}

// Int creates an integer value
func Int(i int64) Value { return Value{Type: TypeInt, i: i} }

// Float creates a floating point value
func Float(f float64) Value { return Value{Type: TypeFloat, f: f} }

// String creates a string value
func String(s string) Value { return Value{Type: TypeString, s: s} }

// Bool creates a boolean value
func Bool(b bool) Value { return Value{Type: TypeBool, b: b} }

// AsFloat returns the numeric value of int and float values
func (v Value) AsFloat() (float64, bool) {
	switch v.Type {
	case TypeInt:
		return float64(v.i), true
	case TypeFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// AsBool returns the boolean value of bool values
func (v Value) AsBool() (bool, bool) {
	return v.b, v.Type == TypeBool
}

// String renders the value the way it is substituted into text
func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// Equal compares type and payload
func (v Value) Equal(o Value) bool {
	if v.Type == "" {
		v.Type = TypeString
	}
	if o.Type == "" {
		o.Type = TypeString
	}
	return v.Type == o.Type && v.i == o.i && v.f == o.f && v.s == o.s && v.b == o.b
}

type wireValue struct {
	Type  Type            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}
func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	t := v.Type
	switch t {
	case TypeInt:
		raw = v.i
	case TypeFloat:
		raw = v.f
	case TypeBool:
		raw = v.b
	default:
		t = TypeString
		raw = v.s
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: t, Value: payload})
}

// UnmarshalJSON decodes the typed form. A bare JSON scalar is accepted too and
// typed by its JSON kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err == nil && w.Type != "" {
		return v.decode(w.Type, w.Value)
	}
	var bare any
	if err := json.Unmarshal(data, &bare); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	*v = FromAny(bare)
	return nil
}

func (v *Value) decode(t Type, raw json.RawMessage) error {
	var err error
	switch t {
	case TypeInt:
		var i int64
		err = json.Unmarshal(raw, &i)
		*v = Int(i)
	case TypeFloat:
		var f float64
		err = json.Unmarshal(raw, &f)
		*v = Float(f)
	case TypeBool:
		var b bool
		err = json.Unmarshal(raw, &b)
		*v = Bool(b)
	case TypeString:
		var s string
		err = json.Unmarshal(raw, &s)
		*v = String(s)
	default:
		return fmt.Errorf("decode value: unknown type %q", t)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", t, err)
	}
	return nil
}

// FromAny converts a decoded JSON or YAML scalar to a Value. Whole floats
// stay floats; only Go integer types become TypeInt.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return String("")
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return String(t)
	case Value:
		return t
	default:
		return String(fmt.Sprint(t))
	}
}
