package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

// Value is one generation parameter: a string, a number or a bool. Nested
// objects and arrays are rejected at the boundary so the engine never has to
// introspect parameter payloads.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// Interface returns the Go-native value for JSON encoding or provider
// payload assembly.
func (v Value) Interface() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	default:
		return v.Str
	}
}

// String renders the value for logging and provider payloads that want text.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// MarshalJSON encodes the underlying scalar directly.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts JSON strings, numbers and booleans only.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode param value: %w", err)
	}
	switch x := raw.(type) {
	case string:
		*v = String(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return fmt.Errorf("param number %q: %w", x.String(), ErrInvalidArgument)
		}
		*v = Number(n)
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("param value must be string, number or bool: %w", ErrInvalidArgument)
	}
	return nil
}

// Params is a flat map of generation parameters.
type Params map[string]Value

// MergeParams overlays override onto base; override wins on key collision.
// Neither input is mutated.
func MergeParams(base, override Params) Params {
	merged := make(Params, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// Plain converts params to a map of Go-native scalars.
func (p Params) Plain() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}
