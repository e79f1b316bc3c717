package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/state"
	"github.com/leapstack-labs/datamanager/internal/testutil"
	"github.com/leapstack-labs/datamanager/internal/views"
)

const testFixture = `
project:
  id: 7
  title: Birds
  label_config: <View/>
columns:
  - id: id
    title: ID
    type: Number
  - id: title
    type: String
  - id: score
    type: Number
  - id: image
    type: Image
  - id: data
    title: Data
    children: [label]
  - id: label
    parent: data
    type: String
views:
  - title: Main
    type: list
    filters:
      conjunction: and
      items: []
    ordering: []
  - title: High scores
    filters:
      conjunction: and
      items:
        - filter: "filter:tasks:score"
          operator: greater
          value: 0.5
          type: Number
    ordering: ["-tasks:score"]
tasks:
  - {id: 1, title: Robin, score: 0.9, data: {label: bird}}
  - {id: 2, title: Crow, score: 0.3}
  - {id: 3, title: Owl, score: 0.7}
annotations:
  - {id: 10, task: 1, result: []}
actions:
  - {id: delete_tasks, title: Delete tasks, order: 10}
  - {id: retrain, title: Retrain, order: 5}
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestStore(t *testing.T) *state.SQLiteStore {
	t.Helper()
	store := state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = newTestStore(t)
	}
	if cfg.Fixtures == "" {
		cfg.Fixtures = writeFixture(t, "dm.yaml", testFixture)
	}
	cfg.Logger = testutil.NewTestLogger(t)
	s := NewServer(cfg)
	require.NoError(t, s.LoadFixtures(context.Background()))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

type result struct {
	status int
	body   []byte
}

func (r result) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func call(t *testing.T, ts *httptest.Server, method, path string, body any) result {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, rd)
	require.NoError(t, err)
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return result{status: res.StatusCode, body: data}
}

type page struct {
	Tasks       []map[string]any `json:"tasks"`
	Annotations []map[string]any `json:"annotations"`
	Total       int              `json:"total"`
}

func ids(rows []map[string]any) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"].(float64))
	}
	return out
}

func TestServer_Project(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	assert.Equal(t, int64(7), s.Project())

	res := call(t, ts, http.MethodGet, "/api/projects/7", nil)
	require.Equal(t, http.StatusOK, res.status)
	var p projectResponse
	res.decode(t, &p)
	assert.Equal(t, projectResponse{ID: 7, Title: "Birds", TaskNumber: 3, LabelConfig: "<View/>"}, p)

	res = call(t, ts, http.MethodGet, "/api/projects/99", nil)
	assert.Equal(t, http.StatusNotFound, res.status)
	var e errorBody
	res.decode(t, &e)
	assert.Contains(t, e.Detail, "not found")

	res = call(t, ts, http.MethodGet, "/api/projects/abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestServer_Columns(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	res := call(t, ts, http.MethodGet, "/api/dm/columns?project=7", nil)
	require.Equal(t, http.StatusOK, res.status)
	var body struct {
		Columns []map[string]any `json:"columns"`
	}
	res.decode(t, &body)
	require.Len(t, body.Columns, 6)
	assert.Equal(t, "id", body.Columns[0]["id"])
	assert.Equal(t, "data", body.Columns[5]["parent"])

	res = call(t, ts, http.MethodGet, "/api/dm/columns?project=99", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `{"columns":[]}`, string(res.body))
}

func TestServer_ViewCRUD(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	res := call(t, ts, http.MethodGet, "/api/dm/views", nil)
	require.Equal(t, http.StatusOK, res.status)
	var list struct {
		Tabs []views.ServerView `json:"tabs"`
	}
	res.decode(t, &list)
	require.Len(t, list.Tabs, 2)
	assert.Equal(t, "Main", list.Tabs[0].Snapshot.Title)
	assert.Equal(t, int64(7), list.Tabs[0].Project)
	high := list.Tabs[1]
	assert.Equal(t, []string{"-tasks:score"}, high.Snapshot.Ordering)
	require.Len(t, high.Snapshot.Filters.Items, 1)
	assert.Equal(t, 0.5, high.Snapshot.Filters.Items[0].Value.Scalar)

	created := call(t, ts, http.MethodPost, "/api/dm/views",
		views.Payload(views.PayloadV2, 0, 7, views.Snapshot{Title: "Tab 3", Ordering: []string{"tasks:title"}}))
	require.Equal(t, http.StatusCreated, created.status)
	var sv views.ServerView
	created.decode(t, &sv)
	assert.NotZero(t, sv.ID)
	assert.Equal(t, "Tab 3", sv.Snapshot.Title)

	path := "/api/dm/views/" + jsonString(sv.ID)
	updated := call(t, ts, http.MethodPatch, path,
		views.Payload(views.PayloadV2, sv.ID, 7, views.Snapshot{Title: "Renamed"}))
	require.Equal(t, http.StatusOK, updated.status)

	got := call(t, ts, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, got.status)
	got.decode(t, &sv)
	assert.Equal(t, "Renamed", sv.Snapshot.Title)

	order := call(t, ts, http.MethodPost, "/api/dm/views/order",
		map[string]any{"project": 7, "ids": []int64{sv.ID, high.ID, list.Tabs[0].ID}})
	require.Equal(t, http.StatusOK, order.status)
	call(t, ts, http.MethodGet, "/api/dm/views", nil).decode(t, &list)
	require.Len(t, list.Tabs, 3)
	assert.Equal(t, []string{"Renamed", "High scores", "Main"},
		[]string{list.Tabs[0].Snapshot.Title, list.Tabs[1].Snapshot.Title, list.Tabs[2].Snapshot.Title})

	assert.Equal(t, http.StatusNoContent, call(t, ts, http.MethodDelete, path, nil).status)
	assert.Equal(t, http.StatusNotFound, call(t, ts, http.MethodDelete, path, nil).status)
	assert.Equal(t, http.StatusNotFound, call(t, ts, http.MethodGet, path, nil).status)
	assert.Equal(t, http.StatusBadRequest, call(t, ts, http.MethodPatch, path, "not a view").status)
}

func jsonString(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestServer_ViewPayloadV1(t *testing.T) {
	_, ts := newTestServer(t, Config{PayloadVersion: views.PayloadV1})

	res := call(t, ts, http.MethodGet, "/api/dm/views", nil)
	require.Equal(t, http.StatusOK, res.status)
	var list struct {
		Tabs []map[string]any `json:"tabs"`
	}
	res.decode(t, &list)
	require.Len(t, list.Tabs, 2)
	assert.Equal(t, "Main", list.Tabs[0]["title"])
	assert.NotContains(t, list.Tabs[0], "data")

	created := call(t, ts, http.MethodPost, "/api/dm/views",
		views.Payload(views.PayloadV1, 0, 7, views.Snapshot{Title: "Flat"}))
	require.Equal(t, http.StatusCreated, created.status)
	var flat map[string]any
	created.decode(t, &flat)
	assert.Equal(t, "Flat", flat["title"])
}

func TestServer_Records(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	query := func(q views.Query) string {
		b, err := json.Marshal(q)
		require.NoError(t, err)
		return url.QueryEscape(string(b))
	}

	tests := []struct {
		name  string
		path  string
		ids   []float64
		total int
	}{
		{"first page", "/api/dm/tasks?page=1&page_size=2", []float64{1, 2}, 3},
		{"second page", "/api/dm/tasks?page=2&page_size=2", []float64{3}, 3},
		{"all", "/api/dm/tasks", []float64{1, 2, 3}, 3},
		{"stored view", "/api/dm/tasks?view=2&page_size=10", []float64{1, 3}, 2},
		{
			"virtual query",
			"/api/dm/tasks?query=" + query(views.Query{
				Filters: views.FilterSet{Conjunction: views.And, Items: []filters.Item{
					{Filter: "filter:tasks:title", Operator: "contains", Value: filters.Single("ow"), Type: "String"},
				}},
				Ordering: []string{"-tasks:id"},
			}),
			[]float64{3, 2}, 2,
		},
		{"nested field", "/api/dm/tasks?query=" + query(views.Query{
			Filters: views.FilterSet{Conjunction: views.And, Items: []filters.Item{
				{Filter: "filter:tasks:data.label", Operator: "equal", Value: filters.Single("bird"), Type: "String"},
			}},
		}), []float64{1}, 1},
		{"other project", "/api/dm/tasks?project=99", []float64{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, ts, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, res.status, string(res.body))
			var p page
			res.decode(t, &p)
			assert.Equal(t, tt.ids, ids(p.Tasks))
			assert.Equal(t, tt.total, p.Total)
		})
	}

	res := call(t, ts, http.MethodGet, "/api/dm/annotations", nil)
	require.Equal(t, http.StatusOK, res.status)
	var p page
	res.decode(t, &p)
	assert.Equal(t, []float64{10}, ids(p.Annotations))
	assert.Equal(t, 1, p.Total)

	assert.Equal(t, http.StatusBadRequest, call(t, ts, http.MethodGet, "/api/dm/tasks?query=%7B", nil).status)
	assert.Equal(t, http.StatusBadRequest, call(t, ts, http.MethodGet, "/api/dm/tasks?page=x", nil).status)
	assert.Equal(t, http.StatusNotFound, call(t, ts, http.MethodGet, "/api/dm/tasks?view=42", nil).status)
	assert.Equal(t, http.StatusBadRequest, call(t, ts, http.MethodGet, "/api/dm/tasks?query="+query(views.Query{
		Ordering: []string{"tasks:bad path"},
	}), nil).status)
}

func TestServer_TaskAndNext(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	res := call(t, ts, http.MethodGet, "/api/dm/tasks/3", nil)
	require.Equal(t, http.StatusOK, res.status)
	var task map[string]any
	res.decode(t, &task)
	assert.Equal(t, "Owl", task["title"])
	assert.Equal(t, http.StatusNotFound, call(t, ts, http.MethodGet, "/api/dm/tasks/42", nil).status)

	// Task 1 is annotated already.
	res = call(t, ts, http.MethodGet, "/api/projects/7/next", nil)
	require.Equal(t, http.StatusOK, res.status)
	res.decode(t, &task)
	assert.Equal(t, float64(2), task["id"])

	res = call(t, ts, http.MethodGet, "/api/projects/7/next?view=2", nil)
	require.Equal(t, http.StatusOK, res.status)
	res.decode(t, &task)
	assert.Equal(t, float64(3), task["id"])

	assert.Equal(t, http.StatusNotFound, call(t, ts, http.MethodGet, "/api/projects/99/next", nil).status)
}

func TestServer_Actions(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	res := call(t, ts, http.MethodGet, "/api/dm/actions", nil)
	require.Equal(t, http.StatusOK, res.status)
	var actions []map[string]any
	res.decode(t, &actions)
	require.Len(t, actions, 2)
	assert.Equal(t, "delete_tasks", actions[0]["id"])

	assert.Equal(t, http.StatusBadRequest,
		call(t, ts, http.MethodPost, "/api/dm/actions", map[string]any{}).status)
	assert.Equal(t, http.StatusNotFound,
		call(t, ts, http.MethodPost, "/api/dm/actions?id=explode", map[string]any{}).status)

	res = call(t, ts, http.MethodPost, "/api/dm/actions?id=retrain", map[string]any{
		"selectedItems": map[string]any{"all": false, "included": []int64{1, 2}},
	})
	require.Equal(t, http.StatusOK, res.status)
	var out actionResponse
	res.decode(t, &out)
	assert.Equal(t, actionResponse{Action: "retrain", ProcessedItems: 2}, out)

	// Select all matches of the stored view except task 3.
	res = call(t, ts, http.MethodPost, "/api/dm/actions?id=delete_tasks&tabID=2", map[string]any{
		"selectedItems": map[string]any{"all": true, "excluded": []int64{3}},
	})
	require.Equal(t, http.StatusOK, res.status)
	res.decode(t, &out)
	assert.Equal(t, int64(1), out.ProcessedItems)

	var p page
	call(t, ts, http.MethodGet, "/api/dm/tasks", nil).decode(t, &p)
	assert.Equal(t, []float64{2, 3}, ids(p.Tasks))

	// Annotations of deleted tasks go with them.
	call(t, ts, http.MethodGet, "/api/dm/annotations", nil).decode(t, &p)
	assert.Equal(t, 0, p.Total)

	// Inline filters take precedence over the view.
	res = call(t, ts, http.MethodPost, "/api/dm/actions?id=delete_tasks&tabID=2", map[string]any{
		"selectedItems": map[string]any{"all": true},
		"filters": map[string]any{"conjunction": "and", "items": []map[string]any{
			{"filter": "filter:tasks:title", "operator": "equal", "value": "Crow", "type": "String"},
		}},
	})
	require.Equal(t, http.StatusOK, res.status)
	res.decode(t, &out)
	assert.Equal(t, int64(1), out.ProcessedItems)
	call(t, ts, http.MethodGet, "/api/dm/tasks", nil).decode(t, &p)
	assert.Equal(t, []float64{3}, ids(p.Tasks))
}

func TestServer_Token(t *testing.T) {
	_, ts := newTestServer(t, Config{Token: "secret"})

	assert.Equal(t, http.StatusUnauthorized, call(t, ts, http.MethodGet, "/api/dm/columns", nil).status)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/api/dm/columns", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Token secret")
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServer_WatchReseeds(t *testing.T) {
	store := newTestStore(t)
	path := writeFixture(t, "dm.yaml", testFixture)
	s, _ := newTestServer(t, Config{Store: store, Fixtures: path, Watch: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchFixtures(ctx) }()

	changed := []byte("project: {id: 7, title: Updated}\ntasks:\n  - {id: 5, title: Swan}\n")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, changed, 0o600)
		p, err := store.GetProject(context.Background(), 7)
		return err == nil && p.Title == "Updated"
	}, 5*time.Second, 200*time.Millisecond)

	rec, err := store.GetRecord(context.Background(), "tasks", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.ID)

	cancel()
	require.NoError(t, <-done)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s := NewServer(Config{Store: newTestStore(t), Port: 0, Logger: testutil.NewTestLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
