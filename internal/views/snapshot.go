package views

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/filters"
)

// Kind is how a view lays out rows.
type Kind string

// View kinds.
const (
	KindList Kind = "list"
	KindGrid Kind = "grid"
)

// Conjunction joins a view's filters.
type Conjunction string

// Conjunctions.
const (
	And Conjunction = "and"
	Or  Conjunction = "or"
)

// PayloadVersion selects the server record shape.
type PayloadVersion string

// Payload versions. V1 is flat; V2 nests fields under data next to the
// project reference.
const (
	PayloadV1 PayloadVersion = "v1"
	PayloadV2 PayloadVersion = "v2"
)

// ParsePayloadVersion defaults unknown values to v2.
func ParsePayloadVersion(s string) PayloadVersion {
	if s == string(PayloadV1) {
		return PayloadV1
	}
	return PayloadV2
}

// FilterSet is the persisted filter list of a view.
type FilterSet struct {
	Conjunction Conjunction    `json:"conjunction" yaml:"conjunction"`
	Items       []filters.Item `json:"items" yaml:"items"`
}

// Snapshot is the serialized configuration of a view. Virtual views only
// fill Title, Filters and Ordering.
type Snapshot struct {
	Title              string                  `json:"title" yaml:"title"`
	Type               Kind                    `json:"type,omitempty" yaml:"type,omitempty"`
	Target             columns.Target          `json:"target,omitempty" yaml:"target,omitempty"`
	Filters            FilterSet               `json:"filters" yaml:"filters"`
	Ordering           []string                `json:"ordering" yaml:"ordering"`
	HiddenColumns      *columns.HiddenColumns  `json:"hiddenColumns,omitempty" yaml:"hiddenColumns,omitempty"`
	ColumnsWidth       map[string]float64      `json:"columnsWidth,omitempty" yaml:"columnsWidth,omitempty"`
	ColumnsDisplayType map[string]columns.Type `json:"columnsDisplayType,omitempty" yaml:"columnsDisplayType,omitempty"`
	GridWidth          int                     `json:"gridWidth,omitempty" yaml:"gridWidth,omitempty"`
	SemanticSearch     []json.RawMessage       `json:"semantic_search,omitempty" yaml:"semantic_search,omitempty"`
	Threshold          *filters.Range          `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Filters.Items = slices.Clone(s.Filters.Items)
	out.Ordering = slices.Clone(s.Ordering)
	if s.HiddenColumns != nil {
		h := s.HiddenColumns.Clone()
		out.HiddenColumns = &h
	}
	out.ColumnsWidth = maps.Clone(s.ColumnsWidth)
	out.ColumnsDisplayType = maps.Clone(s.ColumnsDisplayType)
	out.SemanticSearch = slices.Clone(s.SemanticSearch)
	if s.Threshold != nil {
		t := *s.Threshold
		out.Threshold = &t
	}
	return out
}

// Filter operands decoded from JSON are float64, so numbers compare by value
// whatever their Go type.
var snapshotCmp = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.FilterValues(func(x, y any) bool {
		_, okX := asFloat(x)
		_, okY := asFloat(y)
		return okX && okY
	}, cmp.Comparer(func(x, y any) bool {
		fx, _ := asFloat(x)
		fy, _ := asFloat(y)
		return fx == fy
	})),
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// SnapshotsEqual compares snapshots, treating nil and empty collections
// alike.
func SnapshotsEqual(a, b Snapshot) bool {
	return cmp.Equal(a, b, snapshotCmp...)
}

// SnapshotDiff describes how b differs from a, for debug logging.
func SnapshotDiff(a, b Snapshot) string {
	return cmp.Diff(a, b, snapshotCmp...)
}

// recordV1 is the flat server record.
type recordV1 struct {
	ID      int64 `json:"id,omitempty"`
	Project int64 `json:"project,omitempty"`
	Snapshot
}

// recordV2 nests the configuration under data.
type recordV2 struct {
	ID      int64    `json:"id,omitempty"`
	Project int64    `json:"project,omitempty"`
	Data    Snapshot `json:"data"`
}

// Payload wraps a snapshot in the server record shape of version v.
func Payload(v PayloadVersion, id, project int64, s Snapshot) any {
	if v == PayloadV1 {
		return recordV1{ID: id, Project: project, Snapshot: s}
	}
	return recordV2{ID: id, Project: project, Data: s}
}

// ServerView is a view record as returned by the server, in either shape.
type ServerView struct {
	ID       int64
	Project  int64
	Snapshot Snapshot
}

// UnmarshalJSON accepts v1 and v2 records.
func (sv *ServerView) UnmarshalJSON(b []byte) error {
	var head struct {
		ID      int64           `json:"id"`
		Project json.RawMessage `json:"project"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("decode view record: %w", err)
	}
	sv.ID = head.ID
	sv.Project = projectID(head.Project)

	body := b
	if len(head.Data) > 0 && !bytes.Equal(head.Data, []byte("null")) {
		body = head.Data
	}
	var s Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return fmt.Errorf("decode view %d: %w", head.ID, err)
	}
	sv.Snapshot = s
	return nil
}

// projectID accepts a bare id or an embedded {"id": n} object.
func projectID(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var id int64
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	var obj struct {
		ID int64 `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return 0
}
