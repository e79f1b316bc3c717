package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Range is an inclusive bound pair. Either side may be unset.
type Range struct {
	Min any `json:"min" yaml:"min"`
	Max any `json:"max" yaml:"max"`
}

// Value is a filter operand whose shape is given by Type.
type Value struct {
	Type   ValueType
	Scalar any
	Range  Range
	List   []any
}

// Single returns a scalar operand.
func Single(v any) Value { return Value{Type: ValueSingle, Scalar: v} }

// Between returns a range operand.
func Between(min, max any) Value { return Value{Type: ValueRange, Range: Range{Min: min, Max: max}} }

// Items returns a list operand.
func Items(vs ...any) Value { return Value{Type: ValueList, List: vs} }

func blank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Defined reports whether the operand is complete: defined and non-blank, and
// for ranges both bounds present.
func (v Value) Defined() bool {
	switch v.Type {
	case ValueRange:
		return !blank(v.Range.Min) && !blank(v.Range.Max)
	case ValueList:
		if len(v.List) == 0 {
			return false
		}
		for _, item := range v.List {
			if blank(item) {
				return false
			}
		}
		return true
	default:
		return !blank(v.Scalar)
	}
}

// Interface returns the plain operand as it is persisted.
func (v Value) Interface() any {
	switch v.Type {
	case ValueRange:
		return map[string]any{"min": v.Range.Min, "max": v.Range.Max}
	case ValueList:
		if v.List == nil {
			return []any{}
		}
		return v.List
	default:
		return v.Scalar
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON infers the shape: objects are ranges, arrays are lists,
// everything else is a scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*v = Value{Type: ValueSingle}
		return nil
	}
	switch data[0] {
	case '{':
		var r Range
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("filter range: %w", err)
		}
		*v = Value{Type: ValueRange, Range: r}
	case '[':
		var list []any
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("filter list: %w", err)
		}
		*v = Value{Type: ValueList, List: list}
	default:
		var s any
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("filter value: %w", err)
		}
		*v = Value{Type: ValueSingle, Scalar: s}
	}
	return nil
}

// MarshalYAML emits the plain operand, like MarshalJSON.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// UnmarshalYAML infers the shape the same way UnmarshalJSON does.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var r Range
		if err := node.Decode(&r); err != nil {
			return fmt.Errorf("filter range: %w", err)
		}
		*v = Value{Type: ValueRange, Range: r}
	case yaml.SequenceNode:
		var list []any
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("filter list: %w", err)
		}
		*v = Value{Type: ValueList, List: list}
	default:
		var s any
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("filter value: %w", err)
		}
		*v = Value{Type: ValueSingle, Scalar: s}
	}
	return nil
}

// Coerce reshapes the operand for the given value type, keeping what fits.
func (v Value) Coerce(t ValueType) Value {
	if v.Type == t {
		return v
	}
	switch t {
	case ValueRange:
		return Value{Type: ValueRange}
	case ValueList:
		if v.Type == ValueSingle && !blank(v.Scalar) {
			return Items(v.Scalar)
		}
		return Value{Type: ValueList, List: []any{}}
	default:
		return Value{Type: ValueSingle}
	}
}
