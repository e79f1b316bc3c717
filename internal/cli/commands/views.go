package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/datamanager/internal/cli/output"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// NewViewsCommand creates the views command group.
func NewViewsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "Inspect and share data manager views",
		Long: `Inspect the views (tabs) of a project.

Stored views are addressed by id. Virtual views live only in a shareable key
that encodes their title, filters and ordering.`,
	}
	cmd.AddCommand(
		newViewsListCommand(),
		newViewsShowCommand(),
		newViewsExportCommand(),
		newViewsDecodeCommand(),
		newViewsEncodeCommand(),
	)
	return cmd
}

func newViewsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the views of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := NewCommandContext(cmd)
			sess, err := c.OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()
			return renderViews(c.Renderer, sess.App.Views())
		},
	}
}

func newViewsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|key>",
		Short: "Show the full configuration of a view",
		Example: `  dm views show 3
  dm views show H4sIAAAAAAAC...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewCommandContext(cmd)
			sess, err := c.OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			store := sess.App.Views()
			v := lookupView(store, args[0])
			if v == nil {
				return fmt.Errorf("%w: %s", views.ErrViewNotFound, args[0])
			}
			return c.Renderer.Encode(exportView(v))
		},
	}
}

// lookupView resolves a view id, a view key or a virtual view key.
func lookupView(store *views.Store, ref string) *views.View {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return store.ViewByID(id)
	}
	return store.GetViewByKey(ref)
}

// exportedView is the portable form of a view.
type exportedView struct {
	ID       int64          `json:"id,omitempty" yaml:"id,omitempty"`
	Key      string         `json:"key" yaml:"key"`
	Virtual  bool           `json:"virtual,omitempty" yaml:"virtual,omitempty"`
	Snapshot views.Snapshot `json:"view" yaml:"view"`
}

func exportView(v *views.View) exportedView {
	e := exportedView{Key: v.Key(), Virtual: v.Virtual(), Snapshot: v.Snapshot()}
	if v.HasServerID() {
		e.ID = v.ID()
	}
	return e
}

func newViewsExportCommand() *cobra.Command {
	var file, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every view of the project",
		Example: `  dm views export --format yaml
  dm views export --file views.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := exportMode(format, file)
			if err != nil {
				return err
			}

			c := NewCommandContext(cmd)
			sess, err := c.OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			all := sess.App.Views().Views()
			out := make([]exportedView, 0, len(all))
			for _, v := range all {
				out = append(out, exportView(v))
			}

			if file == "" {
				return output.Write(cmd.OutOrStdout(), mode, out)
			}
			var buf bytes.Buffer
			if err := output.Write(&buf, mode, out); err != nil {
				return err
			}
			if err := atomic.WriteFile(file, &buf); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
			c.Renderer.Warn("Exported %d views to %s", len(out), file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to a file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "", "Export format: json or yaml (default: from the file extension, else json)")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func exportMode(format, file string) (output.OutputMode, error) {
	switch format {
	case "json":
		return output.ModeJSON, nil
	case "yaml", "yml":
		return output.ModeYAML, nil
	case "":
		switch strings.ToLower(filepath.Ext(file)) {
		case ".yaml", ".yml":
			return output.ModeYAML, nil
		default:
			return output.ModeJSON, nil
		}
	default:
		return "", fmt.Errorf("unknown export format %q (want json or yaml)", format)
	}
}

func newViewsDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <key>",
		Short: "Decode a virtual view key",
		Long:  `Decode a shared virtual view key into its title, filters and ordering. No server is contacted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := views.DecodeKey(args[0])
			if err != nil {
				return err
			}
			return NewCommandContext(cmd).Renderer.Encode(snap)
		},
	}
}

func newViewsEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <file>",
		Short: "Encode a view snapshot file into a virtual view key",
		Long: `Encode a view snapshot (yaml or json) into a key that opens it as a
virtual view, for example with "dm rows --view <key>". No server is contacted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			// Virtual views only carry their query.
			key, err := views.EncodeKey(views.Snapshot{
				Title:    snap.Title,
				Filters:  snap.Filters,
				Ordering: snap.Ordering,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func readSnapshot(path string) (views.Snapshot, error) {
	var snap views.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &snap)
	} else {
		err = yaml.Unmarshal(data, &snap)
	}
	if err != nil {
		return snap, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if snap.Title == "" {
		return snap, fmt.Errorf("%s: view has no title", path)
	}
	return snap, nil
}
