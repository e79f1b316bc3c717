package columns

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindList
	// KindJSON holds a raw value whose shape did not match the column type.
	KindJSON
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
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindJSON:
		return "json"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged union holding one cell of a record.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	t    time.Time
	list []Value
	raw  json.RawMessage
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp value.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// List returns a list value.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// JSON returns a raw value.
func JSON(raw json.RawMessage) Value { return Value{kind: KindJSON, raw: raw} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string variant.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the numeric variant.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Boolean returns the boolean variant.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Timestamp returns the time variant.
func (v Value) Timestamp() (time.Time, bool) { return v.t, v.kind == KindTime }

// Items returns the list variant.
func (v Value) Items() ([]Value, bool) { return v.list, v.kind == KindList }

// Raw returns the raw JSON variant.
func (v Value) Raw() (json.RawMessage, bool) { return v.raw, v.kind == KindJSON }

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return strings.Join(parts, ", ")
	case KindJSON:
		return string(v.raw)
	default:
		return ""
	}
}

// Interface converts the value to plain Go data.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindJSON:
		return v.raw
	default:
		return nil
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindJSON:
		return bytes.Equal(v.raw, o.raw)
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindList:
		return json.Marshal(v.list)
	case KindJSON:
		return v.raw, nil
	default:
		return json.Marshal(v.Interface())
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts the timestamp layouts servers commonly emit.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeValue converts a raw JSON cell into the variant the kind calls for.
// Cells whose shape does not match keep their raw JSON.
func decodeValue(raw json.RawMessage, kind Kind) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Null(), nil
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return Value{}, fmt.Errorf("decode cell: %w", err)
	}

	switch kind {
	case KindNumber:
		if n, ok := generic.(json.Number); ok {
			f, err := n.Float64()
			if err == nil {
				return Number(f), nil
			}
		}
	case KindBool:
		if b, ok := generic.(bool); ok {
			return Bool(b), nil
		}
	case KindTime:
		if s, ok := generic.(string); ok {
			if t, ok := parseTime(s); ok {
				return Time(t), nil
			}
		}
	case KindList:
		if items, ok := generic.([]any); ok {
			out := make([]Value, len(items))
			for i, item := range items {
				out[i] = fromGeneric(item)
			}
			return List(out...), nil
		}
	case KindString:
		if s, ok := generic.(string); ok {
			return String(s), nil
		}
	}

	return JSON(append(json.RawMessage{}, trimmed...)), nil
}

// fromGeneric converts decoded JSON (with json.Number) into a Value.
func fromGeneric(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number(f)
		}
		return String(x.String())
	case float64:
		return Number(x)
	case []any:
		out := make([]Value, len(x))
		for i, item := range x {
			out[i] = fromGeneric(item)
		}
		return List(out...)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return Null()
		}
		return JSON(raw)
	}
}
