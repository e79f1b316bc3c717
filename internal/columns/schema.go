package columns

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is one slot of a compiled schema.
type Field struct {
	Column Ref
	ID     string
	Path   []string
	Type   Type
	Kind   Kind
}

// Schema is the fixed record shape of one target, compiled from its leaf
// columns when the registry loads.
type Schema struct {
	Target Target
	Fields []Field
	index  map[string]int
}

func (r *Registry) compileSchema(target Target) *Schema {
	s := &Schema{Target: target, index: make(map[string]int)}
	for _, ref := range r.order[target] {
		col := r.arena[ref]
		if col.IsGroup() {
			continue
		}
		s.index[col.ID] = len(s.Fields)
		s.index[col.Path] = len(s.Fields)
		s.Fields = append(s.Fields, Field{
			Column: ref,
			ID:     col.ID,
			Path:   strings.Split(col.Path, "."),
			Type:   col.Type,
			Kind:   col.Type.Kind(),
		})
	}
	return s
}

// Slot returns the field index for a composite ID or a dotted path.
func (s *Schema) Slot(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

// Record is one decoded row. Values are positional, matching Schema.Fields.
type Record struct {
	ID     int64
	schema *Schema
	values []Value
}

// NewRecord builds a record from values keyed by ID or path. Unknown keys are
// ignored.
func (s *Schema) NewRecord(id int64, values map[string]Value) Record {
	rec := Record{ID: id, schema: s, values: make([]Value, len(s.Fields))}
	for k, v := range values {
		if i, ok := s.index[k]; ok {
			rec.values[i] = v
		}
	}
	return rec
}

// Decode parses one raw row. The row must carry a numeric "id".
func (s *Schema) Decode(raw json.RawMessage) (Record, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Record{}, fmt.Errorf("decode %s row: %w", s.Target, err)
	}

	id, err := decodeID(obj["id"])
	if err != nil {
		return Record{}, fmt.Errorf("decode %s row: %w", s.Target, err)
	}

	rec := Record{ID: id, schema: s, values: make([]Value, len(s.Fields))}
	for i, f := range s.Fields {
		cell, ok := lookupPath(obj, f.Path)
		if !ok {
			continue
		}
		v, err := decodeValue(cell, f.Kind)
		if err != nil {
			return Record{}, fmt.Errorf("decode %s row %d field %s: %w", s.Target, id, f.ID, err)
		}
		rec.values[i] = v
	}
	return rec, nil
}

func decodeID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("invalid id %s: %w", raw, err)
	}
	return n.Int64()
}

func lookupPath(obj map[string]json.RawMessage, path []string) (json.RawMessage, bool) {
	cur := obj
	for i, seg := range path {
		cell, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return cell, true
		}
		var next map[string]json.RawMessage
		if err := json.Unmarshal(cell, &next); err != nil {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Schema returns the schema the record was decoded with.
func (r Record) Schema() *Schema { return r.schema }

// Get returns the value stored under a composite ID or dotted path.
func (r Record) Get(key string) (Value, bool) {
	if r.schema == nil {
		return Value{}, false
	}
	i, ok := r.schema.index[key]
	if !ok {
		return Value{}, false
	}
	return r.values[i], true
}

// Values returns a copy of the positional values.
func (r Record) Values() []Value {
	return append([]Value(nil), r.values...)
}

// With returns a copy of the record with the given fields replaced.
func (r Record) With(values map[string]Value) Record {
	out := Record{ID: r.ID, schema: r.schema, values: append([]Value(nil), r.values...)}
	if r.schema == nil {
		return out
	}
	for k, v := range values {
		if i, ok := r.schema.index[k]; ok {
			out.values[i] = v
		}
	}
	return out
}

// Equal reports whether two records hold the same id and values.
func (r Record) Equal(o Record) bool {
	if r.ID != o.ID || len(r.values) != len(o.values) {
		return false
	}
	for i := range r.values {
		if !r.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the record as a nested object keyed by field path.
func (r Record) MarshalJSON() ([]byte, error) {
	out := map[string]any{"id": r.ID}
	if r.schema != nil {
		for i, f := range r.schema.Fields {
			if r.values[i].IsNull() {
				continue
			}
			setPath(out, f.Path, r.values[i])
		}
	}
	return json.Marshal(out)
}

func setPath(obj map[string]any, path []string, v Value) {
	cur := obj
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}
