package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/datamanager/internal/cli/output"
	"github.com/leapstack-labs/datamanager/internal/config"
	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/server"
	"github.com/leapstack-labs/datamanager/internal/state"
	"github.com/leapstack-labs/datamanager/internal/testutil"
)

// startServer serves testdata/birds.yaml and returns its URL.
func startServer(t *testing.T) string {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	srv := server.NewServer(server.Config{Store: store, Fixtures: "testdata/birds.yaml", Logger: logger})
	require.NoError(t, srv.LoadFixtures(context.Background()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func testCommand(t *testing.T, serverURL string) (*cobra.Command, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		ServerURL:      serverURL,
		Project:        7,
		PageSize:       2,
		PayloadVersion: "v2",
		StatePath:      filepath.Join(t.TempDir(), "state.db"),
		OutputFormat:   "markdown",
	}
	cmd := &cobra.Command{}
	ctx := config.WithConfig(context.Background(), cfg)
	cmd.SetContext(config.WithLogger(ctx, testutil.NewTestLogger(t)))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd, cfg
}

func TestViewState(t *testing.T) {
	assert.Nil(t, viewState(""))
	assert.Equal(t, url.Values{"tab": {"4"}}, viewState("4"))
	assert.Equal(t, url.Values{"key": {"H4sIabc"}}, viewState("H4sIabc"))
}

func TestParseFilterValue(t *testing.T) {
	tests := []struct {
		name string
		vt   filters.ValueType
		raw  string
		want filters.Value
	}{
		{"string", filters.ValueSingle, "owl", filters.Single("owl")},
		{"quoted", filters.ValueSingle, `"42"`, filters.Single("42")},
		{"number", filters.ValueSingle, "0.5", filters.Single(0.5)},
		{"bool", filters.ValueSingle, "true", filters.Single(true)},
		{"blank", filters.ValueSingle, "  ", filters.Value{Type: filters.ValueSingle}},
		{"range", filters.ValueRange, "1..5", filters.Between(1.0, 5.0)},
		{"open range", filters.ValueRange, "1..", filters.Between(1.0, nil)},
		{"list", filters.ValueList, "a, b,,3", filters.Items("a", "b", 3.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFilterValue(tt.vt, tt.raw))
		})
	}
}

func TestExportMode(t *testing.T) {
	tests := []struct {
		format, file string
		want         output.OutputMode
		wantErr      bool
	}{
		{"", "", output.ModeJSON, false},
		{"", "views.yml", output.ModeYAML, false},
		{"", "views.json", output.ModeJSON, false},
		{"yaml", "views.json", output.ModeYAML, false},
		{"json", "", output.ModeJSON, false},
		{"toml", "", "", true},
	}
	for _, tt := range tests {
		got, err := exportMode(tt.format, tt.file)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "format=%q file=%q", tt.format, tt.file)
	}
}

func TestOpenSession_RequiresServer(t *testing.T) {
	cmd, cfg := testCommand(t, "localhost")
	_, err := NewCommandContext(cmd).OpenSession(cmd, nil)
	assert.ErrorContains(t, err, "absolute URL")

	cfg.ServerURL = startServer(t)
	cfg.Project = 99
	_, err = NewCommandContext(cmd).OpenSession(cmd, nil)
	assert.ErrorContains(t, err, "failed to load project 99")
}

func TestShell(t *testing.T) {
	cmd, _ := testCommand(t, startServer(t))
	ctx := cmd.Context()
	c := NewCommandContext(cmd)
	sess, err := c.OpenSession(cmd, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	var out bytes.Buffer
	sh := NewShell(sess.App, output.NewRendererWithTTY(&out, &bytes.Buffer{}, false, output.ModeMarkdown))
	exec := func(line string) string {
		t.Helper()
		out.Reset()
		require.NoError(t, sh.Exec(ctx, line), line)
		return out.String()
	}

	assert.Empty(t, exec("   "))
	assert.Contains(t, exec(".help"), ".filter <col> <op>")

	got := exec(".views")
	assert.Contains(t, got, "Main")
	assert.Contains(t, got, "High scores")

	got = exec(".rows")
	assert.Contains(t, got, "Robin")
	assert.NotContains(t, got, "Owl")
	assert.Contains(t, got, `2 of 3 rows in "Main" (.more for the next page)`)

	got = exec(".more")
	assert.Contains(t, got, "Owl")
	assert.Contains(t, got, `3 of 3 rows in "Main"`)
	assert.Contains(t, exec(".more"), "No more rows")

	got = exec(".filter title contains ow")
	assert.Contains(t, got, "Crow")
	assert.Contains(t, got, "Owl")
	assert.NotContains(t, got, "Robin")

	got = exec(".filters")
	assert.Contains(t, got, "tasks:title")
	assert.Contains(t, got, "contains")
	assert.Contains(t, got, "conjunction: and")

	got = exec(".order title")
	assert.Contains(t, got, "ordering: tasks:title")
	assert.Less(t, bytes.Index([]byte(got), []byte("Crow")), bytes.Index([]byte(got), []byte("Owl")))
	assert.Contains(t, exec(".order title"), "ordering: -tasks:title")
	assert.Contains(t, exec(".order"), "ordering cleared")

	got = exec(".unfilter 1")
	assert.Contains(t, got, `2 of 3 rows`)

	assert.Contains(t, exec(".next"), `"id": 2`)
	assert.Contains(t, exec(".open 3"), "Owl")

	got = exec(".actions")
	assert.Contains(t, got, "retrain")
	assert.Contains(t, got, "delete_tasks")

	assert.Contains(t, exec(".run retrain 1 2"), `"processed_items":2`)
	assert.True(t, sess.App.Views().Selected().Selection().Empty())

	got = exec(".use 2")
	assert.Contains(t, got, "Robin")
	assert.Contains(t, got, "Owl")
	assert.Contains(t, got, `"High scores"`)
	assert.Contains(t, exec(".save"), "already stored")

	assert.ErrorIs(t, sh.Exec(ctx, ".quit"), errQuit)
	assert.ErrorContains(t, sh.Exec(ctx, ".bogus"), "unknown command")
	assert.ErrorContains(t, sh.Exec(ctx, ".filter title like x"), "available:")
	assert.ErrorContains(t, sh.Exec(ctx, ".filter nope contains x"), "not filterable")
	assert.ErrorContains(t, sh.Exec(ctx, ".unfilter 9"), "no filter #9")
	assert.ErrorContains(t, sh.Exec(ctx, ".use 99"), "view not found")
	assert.ErrorContains(t, sh.Exec(ctx, ".open x"), "invalid task id")
}
