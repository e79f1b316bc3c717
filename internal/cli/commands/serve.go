package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/datamanager/internal/server"
	"github.com/leapstack-labs/datamanager/internal/state"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the development data manager API",
		Long: `Start a local server speaking the data manager API, backed by sqlite.

The server provides:
- Project, column and action metadata
- Views CRUD and ordering
- Paged tasks and annotations with filters and ordering applied
- Single task and next task lookups
- Bulk actions on selected tasks

Fixtures (yaml, json or jsonc) seed the project. With --watch the project is
re-seeded whenever the fixture file changes.`,
		Example: `  # Serve fixtures on the default port
  dm serve --fixtures fixtures/birds.yaml

  # Keep state between runs and reload fixtures on change
  dm serve --database .dm/server.db --fixtures birds.yaml --watch

  # Require a token
  DM_TOKEN=secret dm serve --fixtures birds.yaml`,
		RunE: runServe,
	}

	cmd.Flags().Int("port", 0, "Port to serve on (default: 8080)")
	cmd.Flags().String("database", "", "Server database path (default: in-memory)")
	cmd.Flags().String("fixtures", "", "Fixture file to seed from")
	cmd.Flags().Bool("watch", false, "Re-seed when the fixture file changes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	c := NewCommandContext(cmd)
	cfg := c.Cfg

	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(cfg.Serve.Database); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize server database: %w", err)
	}

	// Fixtures name the project unless one was asked for explicitly.
	project := cfg.Project
	if cfg.Serve.Fixtures != "" && !cmd.Flags().Changed("project") {
		project = 0
	}

	srv := server.NewServer(server.Config{
		Store:          store,
		Port:           cfg.Serve.Port,
		Watch:          cfg.Serve.Watch,
		Fixtures:       cfg.Serve.Fixtures,
		Token:          cfg.Token,
		Project:        project,
		PayloadVersion: cfg.Payload(),
		Logger:         c.Logger,
	})
	if err := srv.LoadFixtures(cmd.Context()); err != nil {
		return err
	}

	c.Renderer.Warn("Serving project %d at http://localhost:%d", srv.Project(), cfg.Serve.Port)
	return srv.Serve(cmd.Context())
}
