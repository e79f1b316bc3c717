package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/server"
	"github.com/leapstack-labs/datamanager/internal/state"
	"github.com/leapstack-labs/datamanager/internal/testutil"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// fixturePath is absolute so it still resolves after tests t.Chdir away.
var fixturePath = func() string {
	p, err := filepath.Abs("commands/testdata/birds.yaml")
	if err != nil {
		panic(err)
	}
	return p
}()

func startServer(t *testing.T) string {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	srv := server.NewServer(server.Config{Store: store, Fixtures: fixturePath, Logger: logger})
	require.NoError(t, srv.LoadFixtures(context.Background()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// run executes dm with args from an empty working directory.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// clientArgs points a command at serverURL with its own local state.
func clientArgs(t *testing.T, serverURL string, args ...string) []string {
	t.Helper()
	return append(args,
		"--server-url", serverURL,
		"--project", "7",
		"--page-size", "2",
		"--state", filepath.Join(t.TempDir(), "state.db"),
	)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "dm", cmd.Use)

	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "serve", "views", "rows", "shell", "completion"} {
		assert.Contains(t, names, want)
	}
	for _, flag := range []string{"config", "server-url", "token", "project", "page-size", "payload-version", "state", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dm v"+Version)
}

func TestCompletion(t *testing.T) {
	out, _, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion")

	_, _, err = run(t, "completion", "tcsh")
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "version", "--page-size", "-1")
	assert.ErrorContains(t, err, "page_size must be positive")

	_, _, err = run(t, "views", "list", "--server-url", "not a url")
	assert.ErrorContains(t, err, "absolute URL")
}

func TestViewsList(t *testing.T) {
	t.Chdir(t.TempDir())
	url := startServer(t)

	out, _, err := run(t, clientArgs(t, url, "views", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "| * ")
	assert.Contains(t, out, "Main")
	assert.Contains(t, out, "High scores")

	out, _, err = run(t, clientArgs(t, url, "views", "list", "-o", "json")...)
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed), out)
	require.Len(t, listed, 2)
	assert.Equal(t, "High scores", listed[1]["title"])
	assert.Equal(t, float64(1), listed[1]["filters"])
	assert.Equal(t, true, listed[0]["selected"])
}

func TestViewsShowAndExport(t *testing.T) {
	t.Chdir(t.TempDir())
	url := startServer(t)

	out, _, err := run(t, clientArgs(t, url, "views", "show", "2", "-o", "yaml")...)
	require.NoError(t, err)
	assert.Contains(t, out, "title: High scores")
	assert.Contains(t, out, "-tasks:score")

	_, _, err = run(t, clientArgs(t, url, "views", "show", "42")...)
	assert.ErrorIs(t, err, views.ErrViewNotFound)

	file := filepath.Join(t.TempDir(), "views.yaml")
	_, errOut, err := run(t, clientArgs(t, url, "views", "export", "--file", file)...)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Exported 2 views")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var exported []struct {
		ID   int64          `yaml:"id"`
		View views.Snapshot `yaml:"view"`
	}
	require.NoError(t, yaml.Unmarshal(data, &exported))
	require.Len(t, exported, 2)
	assert.Equal(t, int64(2), exported[1].ID)
	assert.Equal(t, "High scores", exported[1].View.Title)
	assert.Equal(t, []string{"-tasks:score"}, exported[1].View.Ordering)

	_, _, err = run(t, clientArgs(t, url, "views", "export", "--format", "toml")...)
	assert.ErrorContains(t, err, "unknown export format")
}

func TestViewsEncodeDecode(t *testing.T) {
	t.Chdir(t.TempDir())
	snapFile := filepath.Join(t.TempDir(), "search.yaml")
	require.NoError(t, os.WriteFile(snapFile, []byte(`
title: Owls
filters:
  conjunction: and
  items:
    - filter: "filter:tasks:title"
      operator: contains
      value: owl
      type: String
ordering: ["tasks:score"]
hiddenColumns:
  explore: ["tasks:image"]
`), 0o600))

	out, _, err := run(t, "views", "encode", snapFile)
	require.NoError(t, err)
	key := strings.TrimSpace(out)
	require.NotEmpty(t, key)

	snap, err := views.DecodeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "Owls", snap.Title)
	assert.Nil(t, snap.HiddenColumns, "virtual keys only carry the query")

	out, _, err = run(t, "views", "decode", key, "-o", "json")
	require.NoError(t, err)
	var decoded views.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, []string{"tasks:score"}, decoded.Ordering)
	require.Len(t, decoded.Filters.Items, 1)
	assert.Equal(t, filters.Single("owl"), decoded.Filters.Items[0].Value)

	_, _, err = run(t, "views", "decode", "!!!")
	assert.ErrorIs(t, err, views.ErrBadKey)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("filters: {}\n"), 0o600))
	_, _, err = run(t, "views", "encode", empty)
	assert.ErrorContains(t, err, "view has no title")
}

func TestRows(t *testing.T) {
	t.Chdir(t.TempDir())
	url := startServer(t)

	out, errOut, err := run(t, clientArgs(t, url, "rows")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Robin")
	assert.Contains(t, out, "Crow")
	assert.NotContains(t, out, "Owl")
	assert.Contains(t, errOut, `2 of 3 tasks in view "Main"`)

	out, _, err = run(t, clientArgs(t, url, "rows", "--all", "-o", "json")...)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	require.Len(t, rows, 3)
	assert.Equal(t, "bird", rows[0]["data"].(map[string]any)["label"])

	out, _, err = run(t, clientArgs(t, url, "rows", "--view", "2")...)
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "Robin"), strings.Index(out, "Owl"))
	assert.NotContains(t, out, "Crow")

	key, err := views.EncodeKey(views.Snapshot{
		Title:    "Crows",
		Filters:  views.FilterSet{Conjunction: views.And, Items: []filters.Item{{Filter: "filter:tasks:title", Operator: filters.OpContains, Value: filters.Single("crow"), Type: "String"}}},
		Ordering: []string{},
	})
	require.NoError(t, err)
	out, errOut, err = run(t, clientArgs(t, url, "rows", "--view", key)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Crow")
	assert.NotContains(t, out, "Robin")
	assert.Contains(t, errOut, `1 of 1 tasks in view "Crows"`)

	_, _, err = run(t, clientArgs(t, url, "rows", "--pages", "0")...)
	assert.ErrorContains(t, err, "--pages must be at least 1")
}

func TestConfigFile(t *testing.T) {
	url := startServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dm.yaml"), []byte(
		"server_url: "+url+"\nproject: 7\npage_size: 5\noutput: json\n",
	), 0o600))
	t.Chdir(dir)

	out, _, err := run(t, "rows")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	assert.Len(t, rows, 3)

	_, err = os.Stat(filepath.Join(dir, ".dm", "state.db"))
	assert.NoError(t, err, "local state lives next to the config file")
}
