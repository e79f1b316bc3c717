package app

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/datastore"
	"github.com/leapstack-labs/datamanager/internal/selection"
	"github.com/leapstack-labs/datamanager/internal/testutil"
	"github.com/leapstack-labs/datamanager/internal/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, *testutil.FakeCaller, *views.MemoryHistory) {
	t.Helper()
	caller := testutil.NewFakeCaller()
	caller.Reply(api.MethodProject, http.StatusOK, map[string]any{"id": 7, "title": "Birds", "task_number": 3})
	caller.Reply(api.MethodColumns, http.StatusOK, map[string]any{"columns": []map[string]any{
		{"id": "id", "type": "Number"},
		{"id": "title", "type": "String"},
	}})
	caller.Reply(api.MethodTabs, http.StatusOK, map[string]any{"tabs": []map[string]any{
		{"id": 1, "project": 7, "data": map[string]any{"title": "Main"}},
		{"id": 2, "project": 7, "data": map[string]any{"title": "Review", "ordering": []string{"-tasks:id"}}},
	}})
	caller.Reply(api.MethodTasks, http.StatusOK, map[string]any{
		"tasks": []map[string]any{{"id": 1, "title": "a"}, {"id": 2, "title": "b"}, {"id": 3, "title": "c"}},
		"total": 3,
	})
	caller.Reply(api.MethodActions, http.StatusOK, []map[string]any{
		{"id": "delete_tasks", "title": "Delete", "order": 100, "dialog": map[string]any{"text": "Sure?", "type": "confirm"}},
		{"id": "retrieve_predictions", "title": "Retrieve predictions", "order": 10},
	})
	caller.Reply(api.MethodInvokeAction, http.StatusOK, map[string]any{"processed_items": 2})

	history := views.NewMemoryHistory(nil)
	a := New(Config{
		Caller:   caller,
		Project:  7,
		PageSize: 10,
		History:  history,
		Logger:   testutil.NewTestLogger(t),
	})
	return a, caller, history
}

func TestBootstrap(t *testing.T) {
	a, caller, _ := newTestApp(t)

	require.NoError(t, a.Bootstrap(context.Background(), nil))
	assert.False(t, a.Crashed())

	p, ok := a.Project()
	require.True(t, ok)
	assert.Equal(t, "Birds", p.Title)

	require.Len(t, a.Views().Views(), 2)
	sel := a.Views().Selected()
	require.NotNil(t, sel)
	assert.Equal(t, "Main", sel.Title())
	assert.Equal(t, 3, a.Views().Data(columns.TargetTasks).Len())

	actions := a.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "retrieve_predictions", actions[0].ID)
	require.NotNil(t, actions[1].Dialog)
	assert.Equal(t, "confirm", actions[1].Dialog.Type)

	assert.Equal(t, int64(7), caller.Calls(api.MethodProject)[0].Params["project"])
}

func TestBootstrap_InitialURLSelectsView(t *testing.T) {
	a, _, history := newTestApp(t)

	require.NoError(t, a.Bootstrap(context.Background(), url.Values{views.ParamTab: {"2"}, views.ParamTask: {"3"}}))
	sel := a.Views().Selected()
	require.NotNil(t, sel)
	assert.Equal(t, "Review", sel.Title())
	assert.Equal(t, "3", history.Current().Get(views.ParamTask))
}

func TestBootstrap_MissingProjectCrashes(t *testing.T) {
	a, caller, _ := newTestApp(t)
	caller.Reply(api.MethodProject, http.StatusNotFound, nil)

	err := a.Bootstrap(context.Background(), nil)
	require.ErrorIs(t, err, ErrCrashed)
	assert.True(t, a.Crashed())
	assert.Empty(t, caller.Calls(api.MethodColumns), "nothing else loads after a crash")
	assert.Empty(t, a.Views().Views())
}

func TestInvokeAction(t *testing.T) {
	a, caller, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Bootstrap(ctx, nil))

	v := a.Views().Selected()
	v.Selection().ToggleItem(1)
	v.Selection().ToggleItem(3)
	fetches := len(caller.Calls(api.MethodTasks))

	out, err := a.InvokeAction(ctx, "delete_tasks", map[string]any{"comment": "dupes", "ordering": "ignored"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed_items": 2}`, string(out))

	call := caller.Calls(api.MethodInvokeAction)[0]
	assert.Equal(t, "delete_tasks", call.Params["id"])
	assert.Equal(t, int64(1), call.Params["tabID"])
	body := call.Body.(map[string]any)
	assert.Equal(t, selection.Payload{Included: []int64{1, 3}}, body["selectedItems"])
	assert.Equal(t, "dupes", body["comment"])
	assert.Equal(t, []string{}, body["ordering"], "reserved keys are not overridden")

	assert.True(t, v.Selection().Empty())
	assert.Len(t, caller.Calls(api.MethodTasks), fetches+1)
}

func TestInvokeAction_NoView(t *testing.T) {
	a, _, _ := newTestApp(t)
	_, err := a.InvokeAction(context.Background(), "delete_tasks", nil)
	assert.ErrorIs(t, err, views.ErrViewNotFound)
}

func TestNextTask(t *testing.T) {
	a, caller, history := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Bootstrap(ctx, nil))

	_, ok, err := a.NextTask(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "404 means nothing left to label")

	caller.Reply(api.MethodNextTask, http.StatusOK, map[string]any{"id": 9, "title": "next"})
	rec, ok, err := a.NextTask(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), rec.ID)
	title, _ := rec.Get("tasks:title")
	assert.Equal(t, "next", title.String())

	id, open := a.Views().Data(columns.TargetTasks).SelectedID()
	require.True(t, open)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, "9", history.Current().Get(views.ParamTask))
}

func TestTaskSubmitted(t *testing.T) {
	a, caller, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Bootstrap(ctx, nil))

	caller.Reply(api.MethodTask, http.StatusOK, map[string]any{"id": 2, "title": "edited"})
	rec, ok, err := a.TaskSubmitted(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	stored, found := a.Views().Data(columns.TargetTasks).Item(2)
	require.True(t, found)
	assert.True(t, stored.Equal(rec))
	assert.Equal(t, int64(2), caller.Calls(api.MethodTask)[0].Params["taskID"])
}

func TestPoll(t *testing.T) {
	a, caller, _ := newTestApp(t)
	require.NoError(t, a.Bootstrap(context.Background(), nil))

	// Scrolled to the second page before polling starts.
	data := a.Views().Data(columns.TargetTasks)
	require.NoError(t, data.Fetch(context.Background(), datastore.FetchOptions{PageNumber: 2}))
	require.Equal(t, 2, data.Page())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Poll(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		for _, c := range caller.Calls(api.MethodTasks) {
			if c.Params["interaction"] == "polling" && c.Params["page"] == 1 && c.Params["page_size"] == 20 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poll did not stop")
	}

	assert.Equal(t, 2, data.Page(), "polling keeps the loaded window")
	assert.Equal(t, 10, data.PageSize())
	assert.Equal(t, 3, data.Len())

	assert.Error(t, a.Poll(context.Background(), 0))
}
