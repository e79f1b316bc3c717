package columns

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func sampleColumns() []RawColumn {
	return []RawColumn{
		{ID: "id", Title: "ID", Type: "Number", Target: "tasks"},
		{ID: "data", Title: "Data", Type: "List", Target: "tasks", Children: []string{"image", "text"}},
		{ID: "image", Type: "Image", Target: "tasks", Parent: "data"},
		{ID: "text", Title: "Text", Type: "String", Target: "tasks", Parent: "data",
			VisibilityDefaults: &Visibility{Explore: true, Labeling: false}},
		{ID: "total_annotations", Type: "Number", Target: "tasks",
			VisibilityDefaults: &Visibility{Explore: false, Labeling: false}},
		{ID: "completed_at", Title: "Completed", Type: "Datetime", Target: "tasks", Orderable: boolPtr(false)},
		{ID: "id", Title: "ID", Type: "Number", Target: "annotations"},
		{ID: "result", Title: "Result", Type: "Unknown", Target: "annotations"},
	}
}

func TestRegistry_Load_CompositeIDsAndLinks(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())

	assert.Equal(t, []Target{TargetTasks, TargetAnnotations}, r.Targets())

	img, ok := r.ByID("tasks:data.image")
	require.True(t, ok, "nested column should be addressable by composite id")
	assert.Equal(t, "data.image", img.Path)
	assert.Equal(t, "Image", img.Title, "missing title is derived from the key")

	parent, ok := r.Parent(img)
	require.True(t, ok)
	assert.Equal(t, "tasks:data", parent.ID)
	assert.True(t, parent.IsGroup())
	assert.False(t, parent.Orderable, "group headers are never orderable")

	children := r.Children(parent)
	require.Len(t, children, 2)
	assert.Equal(t, "tasks:data.image", children[0].ID)
	assert.Equal(t, "tasks:data.text", children[1].ID)

	annID, ok := r.ByID("annotations:id")
	require.True(t, ok)
	assert.Equal(t, TargetAnnotations, annID.Target)

	total, ok := r.ByID("tasks:total_annotations")
	require.True(t, ok)
	assert.Equal(t, "Total Annotations", total.Title)
}

func TestRegistry_Load_Empty(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(nil)

	assert.Equal(t, []Target{DefaultTarget}, r.Targets())
	assert.Empty(t, r.Columns(DefaultTarget))
	assert.Empty(t, r.AvailableFilters())
	assert.NotNil(t, r.Schema(DefaultTarget))
}

func TestRegistry_AvailableFilters(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())

	var ids []string
	for _, f := range r.AvailableFilters() {
		ids = append(ids, f.ColumnID)
	}

	assert.Contains(t, ids, "tasks:data.text")
	assert.Contains(t, ids, "tasks:completed_at")
	assert.NotContains(t, ids, "tasks:data", "group headers are not filterable")
	assert.NotContains(t, ids, "tasks:data.image", "image renderer opts out of filtering")
	assert.Contains(t, ids, "annotations:result", "unregistered renderers stay filterable")

	for _, f := range r.AvailableFilters() {
		if f.ColumnID == "tasks:data.text" {
			assert.Equal(t, "Data / Text", f.Title)
		}
	}
}

func TestRegistry_CustomRenderers(t *testing.T) {
	renderers := NewTypeRegistry[RendererInfo]()
	renderers.Register(string(TypeDatetime), RendererInfo{DisableFilter: true})

	r := NewRegistry(renderers, nil)
	r.Load(sampleColumns())

	for _, f := range r.AvailableFilters() {
		assert.NotEqual(t, "tasks:completed_at", f.ColumnID)
	}

	got, ok := r.Renderers().Get(string(TypeDatetime))
	require.True(t, ok)
	assert.True(t, got.DisableFilter)
	_, ok = r.Renderers().Get(string(TypeImage))
	assert.False(t, ok)
}

func TestRegistry_DefaultHidden(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())

	hidden := r.DefaultHidden(TargetTasks)
	assert.Equal(t, []string{"tasks:total_annotations"}, hidden.Explore)
	assert.Equal(t, []string{"tasks:data.text", "tasks:total_annotations"}, hidden.Labeling)
	assert.Equal(t, hidden.Labeling, hidden.For(ModeLabeling))
}

func TestRegistry_ParentCycleDoesNotHang(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load([]RawColumn{
		{ID: "a", Parent: "b"},
		{ID: "b", Parent: "a"},
	})

	_, ok := r.ByID("tasks:b.a")
	assert.True(t, ok, "cyclic parents resolve to a finite path")
}

func TestSchema_DecodeRecord(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())
	s := r.Schema(TargetTasks)

	raw := json.RawMessage(`{
		"id": 7,
		"data": {"image": "s3://bucket/a.png", "text": "hello"},
		"total_annotations": 3,
		"completed_at": "2024-05-01T10:00:00Z"
	}`)

	rec, err := s.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)

	text, ok := rec.Get("data.text")
	require.True(t, ok)
	got, isStr := text.Str()
	assert.True(t, isStr)
	assert.Equal(t, "hello", got)

	n, _ := rec.Get("tasks:total_annotations")
	num, isNum := n.Num()
	assert.True(t, isNum)
	assert.Equal(t, float64(3), num)

	ts, _ := rec.Get("completed_at")
	assert.Equal(t, KindTime, ts.Kind())

	idCell, _ := rec.Get("id")
	assert.Equal(t, "7", idCell.String())
}

func TestSchema_DecodeMismatchedShapeKeepsRaw(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())
	s := r.Schema(TargetTasks)

	rec, err := s.Decode(json.RawMessage(`{"id": "12", "total_annotations": {"weird": true}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.ID)

	v, _ := rec.Get("total_annotations")
	assert.Equal(t, KindJSON, v.Kind())

	missing, _ := rec.Get("data.text")
	assert.True(t, missing.IsNull())
}

func TestSchema_DecodeRequiresID(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())

	_, err := r.Schema(TargetTasks).Decode(json.RawMessage(`{"data": {}}`))
	assert.Error(t, err)
}

func TestRecord_WithAndMarshal(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Load(sampleColumns())
	s := r.Schema(TargetTasks)

	rec := s.NewRecord(1, map[string]Value{"data.text": String("a")})
	updated := rec.With(map[string]Value{"tasks:data.text": String("b")})

	orig, _ := rec.Get("data.text")
	assert.Equal(t, "a", orig.String(), "With must not mutate the receiver")
	assert.False(t, rec.Equal(updated))

	out, err := json.Marshal(updated)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 1, "data": {"text": "b"}}`, string(out))
}
