package commands

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/leapstack-labs/datamanager/internal/cli/output"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// maxCellWidth truncates long values in table cells.
const maxCellWidth = 60

// visibleColumns returns the leaf columns the view shows in explore mode.
func visibleColumns(reg *columns.Registry, v *views.View) []columns.Column {
	var out []columns.Column
	for _, c := range reg.Leaves(v.Target()) {
		if v.IsHidden(columns.ModeExplore, c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// renderRecords draws rows of v. Structured modes get the records as nested
// objects keyed by field path.
func renderRecords(r *output.Renderer, reg *columns.Registry, v *views.View, rows []columns.Record) error {
	cols := visibleColumns(reg, v)
	headers := make([]string, 0, len(cols)+1)
	headers = append(headers, "#")
	for _, c := range cols {
		headers = append(headers, c.Path)
	}

	cells := make([][]string, 0, len(rows))
	for _, rec := range rows {
		row := make([]string, 0, len(cols)+1)
		row = append(row, strconv.FormatInt(rec.ID, 10))
		for _, c := range cols {
			val, _ := rec.Get(c.ID)
			row = append(row, truncate(val.String()))
		}
		cells = append(cells, row)
	}

	var data []any
	if r.Structured() {
		var err error
		if data, err = plainRecords(rows); err != nil {
			return err
		}
	}
	return r.Table(headers, cells, data)
}

// plainRecords converts records into generic maps so both encoders see the
// same nested shape.
func plainRecords(rows []columns.Record) ([]any, error) {
	out := make([]any, 0, len(rows))
	for _, rec := range rows {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= maxCellWidth {
		return s
	}
	return string([]rune(s)[:maxCellWidth-1]) + "…"
}

// viewSummary is the listing form of a view.
type viewSummary struct {
	ID       int64    `json:"id,omitempty" yaml:"id,omitempty"`
	Key      string   `json:"key" yaml:"key"`
	Title    string   `json:"title" yaml:"title"`
	Type     string   `json:"type" yaml:"type"`
	Target   string   `json:"target" yaml:"target"`
	Filters  int      `json:"filters" yaml:"filters"`
	Ordering []string `json:"ordering" yaml:"ordering"`
	Virtual  bool     `json:"virtual,omitempty" yaml:"virtual,omitempty"`
	Selected bool     `json:"selected,omitempty" yaml:"selected,omitempty"`
}

func summarize(v *views.View, selected bool) viewSummary {
	s := viewSummary{
		Key:      v.Key(),
		Title:    v.Title(),
		Type:     string(v.Kind()),
		Target:   string(v.Target()),
		Filters:  len(v.ValidFilters()),
		Ordering: v.Ordering(),
		Virtual:  v.Virtual(),
		Selected: selected,
	}
	if v.HasServerID() {
		s.ID = v.ID()
	}
	return s
}

// renderViews draws the view list, marking the selected one.
func renderViews(r *output.Renderer, store *views.Store) error {
	selected := store.Selected()
	all := store.Views()

	summaries := make([]viewSummary, 0, len(all))
	cells := make([][]string, 0, len(all))
	for _, v := range all {
		s := summarize(v, v == selected)
		summaries = append(summaries, s)

		id := "-"
		if s.ID != 0 {
			id = strconv.FormatInt(s.ID, 10)
		}
		mark := ""
		if s.Selected {
			mark = "*"
		}
		cells = append(cells, []string{
			mark, id, s.Title, s.Type, s.Target,
			strconv.Itoa(s.Filters), strings.Join(s.Ordering, ","),
		})
	}
	return r.Table([]string{"", "id", "title", "type", "target", "filters", "ordering"}, cells, summaries)
}
