package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/datamanager/internal/testutil"
	"github.com/leapstack-labs/datamanager/internal/views"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server-url", "", "")
	flags.Int64("project", 0, "")
	flags.Int("page-size", 0, "")
	flags.String("state", "", "")
	flags.Duration("poll-interval", 0, "")
	flags.Int("port", 0, "")
	flags.String("fixtures", "", "")
	flags.Bool("watch", false, "")
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, int64(DefaultProject), cfg.Project)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, views.PayloadV2, cfg.Payload())
	assert.Zero(t, cfg.PollInterval)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultServePort, cfg.Serve.Port)
	assert.Equal(t, ":memory:", cfg.Serve.Database)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.Empty(t, cfg.File)
	assert.Nil(t, cfg.Exclusions())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server_url: https://labels.example.com
token: ${DM_TEST_TOKEN}
project: 42
page_size: 50
payload_version: v1
poll_interval: 30s
filter_context: review
disabled_operators:
  review: [regex, similar_to]
state_path: state/dm.db
output: json
serve:
  port: 9001
  fixtures: fixtures/birds.yaml
  watch: true
`)
	t.Setenv("DM_TEST_TOKEN", "s3cret")
	t.Chdir(t.TempDir())

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "https://labels.example.com", cfg.ServerURL)
	assert.Equal(t, "s3cret", cfg.Token)
	assert.Equal(t, int64(42), cfg.Project)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, views.PayloadV1, cfg.Payload())
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "review", cfg.FilterContext)
	assert.Equal(t, []string{"regex", "similar_to"}, cfg.Exclusions()["review"])
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, 9001, cfg.Serve.Port)
	assert.True(t, cfg.Serve.Watch)

	// Paths from the file are relative to the file.
	assert.Equal(t, filepath.Join(dir, "state", "dm.db"), cfg.StatePath)
	assert.Equal(t, filepath.Join(dir, "fixtures", "birds.yaml"), cfg.Serve.Fixtures)
}

func TestLoad_SearchesUpward(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "project: 9\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Project)
	assert.Equal(t, filepath.Join(root, DefaultStateFile), cfg.StatePath)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "project: 2\npage_size: 20\nserve:\n  port: 7000\n")
	t.Setenv("DM_PAGE_SIZE", "40")
	t.Setenv("DM_SERVE_PORT", "7100")
	t.Setenv("DM_PROJECT", "3")
	cwd := t.TempDir()
	t.Chdir(cwd)

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--project", "4", "--state", "local.db", "--watch", "--poll-interval", "5s"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, int64(4), cfg.Project, "flag beats env")
	assert.Equal(t, 40, cfg.PageSize, "env beats file")
	assert.Equal(t, 7100, cfg.Serve.Port, "env reaches nested keys")
	assert.True(t, cfg.Serve.Watch)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, filepath.Join(cwd, "local.db"), cfg.StatePath, "flag paths are relative to the working directory")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{"page size", "page_size: 0", "page_size must be positive"},
		{"payload version", "payload_version: v3", "payload_version must be v1 or v2"},
		{"output", "output: html", "unknown output format"},
		{"port", "serve:\n  port: 70000", "serve.port out of range"},
		{"yaml", "project: [", "error reading config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestValidateClient(t *testing.T) {
	cfg := &Config{ServerURL: "http://localhost:8080", Project: 1}
	assert.NoError(t, cfg.ValidateClient())

	cfg.ServerURL = "localhost"
	assert.ErrorContains(t, cfg.ValidateClient(), "absolute URL")

	cfg.ServerURL = "http://localhost"
	cfg.Project = 0
	assert.ErrorContains(t, cfg.ValidateClient(), "positive id")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("DM_EXPAND_A", "alpha")
	assert.Equal(t, "alpha-x", expandEnvVars("${DM_EXPAND_A}-x"))
	assert.Equal(t, "${DM_EXPAND_MISSING}", expandEnvVars("${DM_EXPAND_MISSING}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := testutil.NewTestLogger(t)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
	assert.Equal(t, loggerKey{}, LoggerKey())
}

func TestFromContext(t *testing.T) {
	def := FromContext(context.Background())
	assert.Equal(t, DefaultPageSize, def.PageSize)
	assert.Equal(t, DefaultServeDatabase, def.Serve.Database)

	cfg := &Config{Project: 12}
	assert.Same(t, cfg, FromContext(WithConfig(context.Background(), cfg)))
}
