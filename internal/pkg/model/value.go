package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

var ErrConstraintViolation = errors.New("value violates constraints")

type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindEnum   ValueKind = "enum"
)

// enumMarker identifies vendor enum literals such as BSH.Common.EnumType.PowerState.On.
const enumMarker = ".EnumType."

// Value is a typed status, setting or option value.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

func StringValue(s string) Value {
	if strings.Contains(s, enumMarker) {
		return Value{Kind: KindEnum, Str: s}
	}
	return Value{Kind: KindString, Str: s}
}

func NumberValue(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// ValueOf converts a decoded JSON scalar into a Value.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Value{}, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return NumberValue(f), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", v)
}

func (v Value) IsZero() bool {
	return v.Kind == ""
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}

// Interface returns the JSON representation of the value.
func (v Value) Interface() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindString, KindEnum:
		return v.Str
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return v.Str
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

type Constraints struct {
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	StepSize      *float64 `json:"stepsize,omitempty"`
	AllowedValues []string `json:"allowedvalues,omitempty"`
	Access        string   `json:"access,omitempty"`
}

func (c *Constraints) DeepCopy() *Constraints {
	if c == nil {
		return nil
	}
	out := *c
	out.AllowedValues = slices.Clone(c.AllowedValues)
	return &out
}

// Validate checks v against the allowed values, range and step size.
func (c *Constraints) Validate(v Value) error {
	if c == nil {
		return nil
	}
	if c.Access == "read" {
		return fmt.Errorf("%w: read only", ErrConstraintViolation)
	}
	if len(c.AllowedValues) > 0 && !slices.Contains(c.AllowedValues, v.String()) {
		return fmt.Errorf("%w: %q not in allowed values", ErrConstraintViolation, v.String())
	}
	if v.Kind != KindNumber {
		if c.Min != nil || c.Max != nil || c.StepSize != nil {
			return fmt.Errorf("%w: expected a number, got %s", ErrConstraintViolation, v.Kind)
		}
		return nil
	}
	if c.Min != nil && v.Num < *c.Min {
		return fmt.Errorf("%w: %v below minimum %v", ErrConstraintViolation, v.Num, *c.Min)
	}
	if c.Max != nil && v.Num > *c.Max {
		return fmt.Errorf("%w: %v above maximum %v", ErrConstraintViolation, v.Num, *c.Max)
	}
	if c.StepSize != nil && *c.StepSize > 0 {
		base := 0.0
		if c.Min != nil {
			base = *c.Min
		}
		steps := (v.Num - base) / *c.StepSize
		if math.Abs(steps-math.Round(steps)) > 1e-9 {
			return fmt.Errorf("%w: %v not a multiple of step %v", ErrConstraintViolation, v.Num, *c.StepSize)
		}
	}
	return nil
}
