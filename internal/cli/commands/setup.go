package commands

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/app"
	"github.com/leapstack-labs/datamanager/internal/cli/output"
	"github.com/leapstack-labs/datamanager/internal/config"
	"github.com/leapstack-labs/datamanager/internal/state"
)

// clientRetries bounds retries of idempotent calls from the CLI.
const clientRetries = 2

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext reads the config and logger from the command context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.FromContext(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// Session is a bootstrapped app bound to the configured server.
type Session struct {
	App    *app.App
	Client *api.Client
	store  *state.SQLiteStore
}

// Close releases the local settings store.
func (s *Session) Close() error {
	return s.store.Close()
}

// OpenSession connects to the server and bootstraps the project. initial
// selects the starting view the same way URL state does (tab, key, task).
// The caller must Close the session.
func (c *CommandContext) OpenSession(cmd *cobra.Command, initial url.Values) (*Session, error) {
	if err := c.Cfg.ValidateClient(); err != nil {
		return nil, err
	}

	store, err := openSettings(c.Cfg.StatePath, c.Logger)
	if err != nil {
		return nil, err
	}

	transport, err := api.NewHTTPTransport(api.HTTPOptions{
		BaseURL: c.Cfg.ServerURL,
		Token:   c.Cfg.Token,
		Project: strconv.FormatInt(c.Cfg.Project, 10),
		Retries: clientRetries,
		Logger:  c.Logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client := api.NewClient(transport, nil, c.Logger)

	a := app.New(app.Config{
		Caller:         client,
		Project:        c.Cfg.Project,
		PageSize:       c.Cfg.PageSize,
		PayloadVersion: c.Cfg.Payload(),
		// Commands are not interactive editors, filters persist at once.
		FilterDebounce: -1,
		FilterContext:  c.Cfg.FilterContext,
		Exclusions:     c.Cfg.Exclusions(),
		Settings:       store,
		Logger:         c.Logger,
	})
	if err := a.Bootstrap(cmd.Context(), initial); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load project %d from %s: %w", c.Cfg.Project, c.Cfg.ServerURL, err)
	}
	return &Session{App: a, Client: client, store: store}, nil
}

// openSettings opens the client-local settings database.
func openSettings(path string, logger *slog.Logger) (*state.SQLiteStore, error) {
	// Ensure state directory exists
	stateDir := filepath.Dir(path)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state: %w", err)
	}
	return store, nil
}

// viewState builds the initial selection for a --view flag: a numeric id
// selects a stored view, anything else is treated as a virtual view key.
func viewState(view string) url.Values {
	if view == "" {
		return nil
	}
	if _, err := strconv.ParseInt(view, 10, 64); err == nil {
		return url.Values{"tab": {view}}
	}
	return url.Values{"key": {view}}
}
