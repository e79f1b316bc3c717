package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/datamanager/internal/datastore"
)

// RowsOptions holds options for the rows command.
type RowsOptions struct {
	View  string
	Pages int
	All   bool
}

// NewRowsCommand creates the rows command.
func NewRowsCommand() *cobra.Command {
	opts := &RowsOptions{}

	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Print the rows of a view",
		Long: `Print the rows of a view with its filters and ordering applied.

Without --view the first view of the project is used. Pages are loaded one
after another the way scrolling the data manager does.`,
		Example: `  # First page of the first view
  dm rows

  # Three pages of view 4
  dm rows --view 4 --pages 3

  # Every row of a shared virtual view, as JSON
  dm rows --view H4sIAAAAAAAC... --all -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRows(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.View, "view", "", "View id or virtual view key")
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "Number of pages to load")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Load every page")

	return cmd
}

func runRows(cmd *cobra.Command, opts *RowsOptions) error {
	if opts.Pages < 1 && !opts.All {
		return fmt.Errorf("--pages must be at least 1")
	}

	c := NewCommandContext(cmd)
	sess, err := c.OpenSession(cmd, viewState(opts.View))
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	store := sess.App.Views()
	v := store.Selected()
	data := store.Data(v.Target())
	if err := data.Err(); err != nil {
		return err
	}

	for data.HasNextPage() && (opts.All || data.Page() < opts.Pages) {
		if err := data.Fetch(cmd.Context(), datastore.FetchOptions{Interaction: datastore.InteractionScroll}); err != nil {
			return err
		}
	}

	if err := renderRecords(c.Renderer, store.Registry(), v, data.List()); err != nil {
		return err
	}
	if !c.Renderer.Structured() {
		c.Renderer.Warn("%d of %d %s in view %q", data.Len(), data.Total(), v.Target(), v.Title())
	}
	return nil
}
