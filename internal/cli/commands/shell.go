package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/datamanager/internal/app"
	"github.com/leapstack-labs/datamanager/internal/cli/output"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/datastore"
	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/views"
)

const shellPrompt = "dm> "

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

// NewShellCommand creates the shell command.
func NewShellCommand() *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Explore a project interactively",
		Long: `Start an interactive session on a project: switch views, page through
rows, edit filters and ordering, open tasks and run actions.

Filter and ordering changes are saved to the view like in the data manager.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd, view)
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "View id or virtual view key to start on")
	return cmd
}

func runShell(cmd *cobra.Command, view string) error {
	c := NewCommandContext(cmd)
	sess, err := c.OpenSession(cmd, viewState(view))
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	sh := NewShell(sess.App, c.Renderer)

	// History lives next to the local state
	historyFile := filepath.Join(filepath.Dir(c.Cfg.StatePath), "shell_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shellPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    sh.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shell: %w", err)
	}
	defer func() { _ = rl.Close() }()

	p, _ := sess.App.Project()
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dm shell (project %d: %s)\n", p.ID, p.Title)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		err = sh.Exec(cmd.Context(), line)
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
	return nil
}

// Shell executes explorer commands against a bootstrapped app.
type Shell struct {
	app *app.App
	out *output.Renderer
}

// NewShell creates a shell writing through r.
func NewShell(a *app.App, r *output.Renderer) *Shell {
	return &Shell{app: a, out: r}
}

func (s *Shell) view() *views.View { return s.app.Views().Selected() }

func (s *Shell) data() *datastore.Store {
	return s.app.Views().Data(s.view().Target())
}

// Exec runs one command line. It returns errQuit for .quit and .exit.
func (s *Shell) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	command, args := strings.ToLower(parts[0]), parts[1:]

	switch command {
	case ".quit", ".exit":
		return errQuit
	case ".help":
		printShellHelp(s.out.Out())
		return nil
	case ".views":
		return renderViews(s.out, s.app.Views())
	case ".use":
		return s.use(ctx, args)
	case ".rows":
		return s.rows()
	case ".more":
		return s.more(ctx)
	case ".filters":
		return s.filters()
	case ".filter":
		return s.addFilter(ctx, args)
	case ".unfilter":
		return s.removeFilter(ctx, args)
	case ".and", ".or":
		return s.view().SetConjunction(ctx, views.Conjunction(strings.TrimPrefix(command, ".")))
	case ".order":
		return s.order(ctx, args)
	case ".open":
		return s.open(ctx, args)
	case ".next":
		return s.next(ctx)
	case ".actions":
		return s.actions()
	case ".run":
		return s.run(ctx, args)
	case ".save":
		return s.save(ctx)
	default:
		return fmt.Errorf("unknown command: %s (type .help for commands)", command)
	}
}

func (s *Shell) use(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .use <id|key>")
	}
	v := lookupView(s.app.Views(), args[0])
	if v == nil {
		return fmt.Errorf("%w: %s", views.ErrViewNotFound, args[0])
	}
	if err := s.app.Views().SetSelected(ctx, v, views.SelectOptions{PushState: true}); err != nil {
		return err
	}
	return s.rows()
}

func (s *Shell) rows() error {
	data := s.data()
	if err := data.Err(); err != nil {
		return err
	}
	if err := renderRecords(s.out, s.app.Registry(), s.view(), data.List()); err != nil {
		return err
	}
	more := ""
	if data.HasNextPage() {
		more = " (.more for the next page)"
	}
	s.out.Println(fmt.Sprintf("%d of %d rows in %q%s", data.Len(), data.Total(), s.view().Title(), more))
	return nil
}

func (s *Shell) more(ctx context.Context) error {
	data := s.data()
	if !data.HasNextPage() {
		s.out.Println("No more rows")
		return nil
	}
	if err := data.Fetch(ctx, datastore.FetchOptions{Interaction: datastore.InteractionScroll}); err != nil {
		return err
	}
	return s.rows()
}

func (s *Shell) filters() error {
	v := s.view()
	list := v.Filters()
	cells := make([][]string, 0, len(list))
	for i, f := range list {
		val, _ := json.Marshal(f.Value())
		valid := ""
		if f.IsValid() {
			valid = "yes"
		}
		cells = append(cells, []string{strconv.Itoa(i + 1), f.ColumnID(), f.Operator(), string(val), valid})
	}
	if err := s.out.Table([]string{"#", "column", "operator", "value", "valid"}, cells, v.Serialize().Filters); err != nil {
		return err
	}
	s.out.Println("conjunction: " + string(v.Conjunction()))
	return nil
}

// columnRef accepts "title" or "data.label" as well as full column ids.
func (s *Shell) columnRef(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return string(s.view().Target()) + ":" + name
}

func (s *Shell) addFilter(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: .filter <column> <operator> [value]")
	}
	v := s.view()
	catalog := s.app.Views().Catalog()

	columnID := s.columnRef(args[0])
	ft, ok := catalog.Lookup(columnID)
	if !ok {
		return fmt.Errorf("%w: %s", filters.ErrUnknownColumn, columnID)
	}
	op, ok := catalog.Operator(ft, args[1])
	if !ok {
		keys := make([]string, 0)
		for _, o := range catalog.Operators(ft) {
			keys = append(keys, o.Key)
		}
		return fmt.Errorf("%w: %s (available: %s)", filters.ErrUnknownOperator, args[1], strings.Join(keys, ", "))
	}

	f, err := v.CreateFilter(ctx)
	if err != nil {
		return err
	}
	if err := f.SetFilter(ctx, ft.ColumnID, false); err != nil {
		return err
	}
	if err := f.SetOperator(ctx, op.Key); err != nil {
		return err
	}
	f.SetValue(parseFilterValue(op.ValueType, strings.Join(args[2:], " ")))
	if !f.IsValid() {
		s.out.Println("Filter added but incomplete, it is not applied")
		return nil
	}
	if err := f.Save(ctx, false); err != nil {
		return err
	}
	return s.rows()
}

// parseFilterValue reads "a..b" as a range and "a,b" as a list, depending
// on what the operator expects.
func parseFilterValue(vt filters.ValueType, raw string) filters.Value {
	raw = strings.TrimSpace(raw)
	switch vt {
	case filters.ValueRange:
		lo, hi, _ := strings.Cut(raw, "..")
		return filters.Between(parseScalar(lo), parseScalar(hi))
	case filters.ValueList:
		var items []any
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, parseScalar(item))
			}
		}
		return filters.Items(items...)
	default:
		if raw == "" {
			return filters.Value{Type: filters.ValueSingle}
		}
		return filters.Single(parseScalar(raw))
	}
}

func parseScalar(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return strings.Trim(s, `"`)
}

func (s *Shell) removeFilter(ctx context.Context, args []string) error {
	v := s.view()
	list := v.Filters()
	if len(args) != 1 {
		return errors.New("usage: .unfilter <#|all>")
	}
	if args[0] == "all" {
		for _, f := range list {
			if err := v.DeleteFilter(ctx, f.ID()); err != nil {
				return err
			}
		}
		return s.rows()
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(list) {
		return fmt.Errorf("no filter #%s (see .filters)", args[0])
	}
	if err := v.DeleteFilter(ctx, list[n-1].ID()); err != nil {
		return err
	}
	return s.rows()
}

func (s *Shell) order(ctx context.Context, args []string) error {
	columnID := ""
	if len(args) > 0 {
		columnID = s.columnRef(args[0])
	}
	if err := s.view().SetOrdering(ctx, columnID); err != nil {
		return err
	}
	if o := s.view().Ordering(); len(o) > 0 {
		s.out.Println("ordering: " + o[0])
	} else {
		s.out.Println("ordering cleared")
	}
	return s.rows()
}

func (s *Shell) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .open <task id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", args[0])
	}
	rec, found, err := s.data().FetchItem(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("task %d not found", id)
	}
	s.app.Views().OpenTask(id)
	return s.printRecord(rec)
}

func (s *Shell) next(ctx context.Context) error {
	rec, found, err := s.app.NextTask(ctx)
	if err != nil {
		return err
	}
	if !found {
		s.out.Println("No more tasks to label")
		return nil
	}
	return s.printRecord(rec)
}

func (s *Shell) printRecord(rec columns.Record) error {
	data, err := plainRecords([]columns.Record{rec})
	if err != nil {
		return err
	}
	mode := output.ModeJSON
	if s.out.Effective() == output.ModeYAML {
		mode = output.ModeYAML
	}
	return output.Write(s.out.Out(), mode, data[0])
}

func (s *Shell) actions() error {
	list := s.app.Actions()
	cells := make([][]string, 0, len(list))
	for _, a := range list {
		cells = append(cells, []string{a.ID, a.Title})
	}
	return s.out.Table([]string{"id", "title"}, cells, list)
}

// run selects the given rows, or every row with "all", and invokes an
// action on them.
func (s *Shell) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: .run <action> <all|id...>")
	}
	sel := s.view().Selection()
	sel.Clear()
	if args[1] == "all" {
		sel.ToggleSelectedAll()
		for _, raw := range args[2:] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", raw)
			}
			sel.ToggleItem(id)
		}
	} else {
		for _, raw := range args[1:] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", raw)
			}
			sel.ToggleItem(id)
		}
	}

	resp, err := s.app.InvokeAction(ctx, args[0], nil)
	if err != nil {
		sel.Clear()
		return err
	}
	if len(resp) > 0 {
		s.out.Println(string(resp))
	}
	return s.rows()
}

// save stores the active virtual view on the server.
func (s *Shell) save(ctx context.Context) error {
	v := s.view()
	if !v.Virtual() {
		s.out.Println("View is already stored")
		return nil
	}
	saved, err := s.app.Views().SaveVirtual(ctx, v)
	if err != nil {
		return err
	}
	s.out.Println(fmt.Sprintf("Saved %q as view %d", saved.Title(), saved.ID()))
	return nil
}

// completer offers the dot-commands and the column paths of the project.
func (s *Shell) completer() *readline.PrefixCompleter {
	var cols []readline.PrefixCompleterInterface
	reg := s.app.Registry()
	for _, t := range reg.Targets() {
		for _, c := range reg.Leaves(t) {
			cols = append(cols, readline.PcItem(c.Path))
		}
	}

	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".views"),
		readline.PcItem(".use"),
		readline.PcItem(".rows"),
		readline.PcItem(".more"),
		readline.PcItem(".filters"),
		readline.PcItem(".filter", cols...),
		readline.PcItem(".unfilter"),
		readline.PcItem(".and"),
		readline.PcItem(".or"),
		readline.PcItem(".order", cols...),
		readline.PcItem(".open"),
		readline.PcItem(".next"),
		readline.PcItem(".actions"),
		readline.PcItem(".run"),
		readline.PcItem(".save"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}

func printShellHelp(w io.Writer) {
	help := `
Commands:
  .views                       List views
  .use <id|key>                Switch to a view
  .rows                        Show the loaded rows
  .more                        Load the next page
  .filters                     List the filters of the view
  .filter <col> <op> [value]   Add a filter (ranges as a..b, lists as a,b)
  .unfilter <#|all>            Remove filters
  .and / .or                   Set the filter conjunction
  .order [col]                 Toggle ordering on a column, or clear it
  .open <id>                   Show one task
  .next                        Show the next task to label
  .actions                     List actions
  .run <action> <all|id...>    Run an action ("all" then ids excludes them)
  .save                        Store a virtual view
  .quit / .exit                Exit the shell

Tips:
  - Columns are named by path, e.g. title or data.label
  - Tab completion works for commands and columns
`
	_, _ = fmt.Fprintln(w, help)
}
