package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/datastore"
	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/selection"
)

// Errors returned by view operations.
var (
	ErrViewLocked          = errors.New("view is locked")
	ErrViewNotFound        = errors.New("view not found")
	ErrNoFilterableColumns = errors.New("no filterable columns")
)

// PlaceholderID marks a view whose server id is not assigned yet.
const PlaceholderID int64 = 1<<53 - 1

// SaveOptions control what follows a successful save.
type SaveOptions struct {
	Reload      bool
	Interaction datastore.Interaction
}

// View is one saved or virtual configuration of the data grid.
type View struct {
	store  *Store
	logger *slog.Logger

	mu                 sync.RWMutex
	id                 int64
	key                string
	title              string
	kind               Kind
	target             columns.Target
	filters            []*filters.Filter
	conjunction        Conjunction
	ordering           []string
	hidden             columns.HiddenColumns
	columnsWidth       map[string]float64
	columnsDisplayType map[string]columns.Type
	gridWidth          int
	semanticSearch     []json.RawMessage
	threshold          *filters.Range
	selection          *selection.Tracker

	saved     bool
	virtual   bool
	locked    bool
	busy      bool
	lastSaved *Snapshot
}

// ID returns the server id, zero for views the server has not seen.
func (v *View) ID() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.id
}

// HasServerID reports whether the server assigned an id.
func (v *View) HasServerID() bool {
	id := v.ID()
	return id != 0 && id != PlaceholderID
}

// Key returns the client key. Consumers should resolve views by key because
// a save can replace the View object.
func (v *View) Key() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key
}

// Title returns the display title.
func (v *View) Title() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.title
}

// Kind returns the layout.
func (v *View) Kind() Kind {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.kind
}

// Target returns the record target.
func (v *View) Target() columns.Target {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.target
}

// Filters returns the filter rows, valid or not.
func (v *View) Filters() []*filters.Filter {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.filters)
}

// ValidFilters returns the filters that take part in queries.
func (v *View) ValidFilters() []*filters.Filter {
	var out []*filters.Filter
	for _, f := range v.Filters() {
		if f.IsValid() {
			out = append(out, f)
		}
	}
	return out
}

// Conjunction returns how filters combine.
func (v *View) Conjunction() Conjunction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.conjunction
}

// Ordering returns the ordering, at most one column.
func (v *View) Ordering() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.ordering)
}

// HiddenColumns returns the hidden column sets.
func (v *View) HiddenColumns() columns.HiddenColumns {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.hidden.Clone()
}

// ColumnWidth returns the width override of a column.
func (v *View) ColumnWidth(id string) (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	w, ok := v.columnsWidth[id]
	return w, ok
}

// DisplayType returns the display type override of a column.
func (v *View) DisplayType(id string) (columns.Type, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.columnsDisplayType[id]
	return t, ok
}

// GridWidth returns the number of grid columns.
func (v *View) GridWidth() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gridWidth
}

// Selection returns the view's row selection.
func (v *View) Selection() *selection.Tracker { return v.selection }

// Saved reports whether the view matches what was last persisted.
func (v *View) Saved() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.saved
}

// Virtual reports whether the view lives only in the URL.
func (v *View) Virtual() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.virtual
}

// Locked reports whether saves and reloads are currently rejected.
func (v *View) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked || v.busy
}

// SetLocked locks or unlocks the view against saves and reloads.
func (v *View) SetLocked(locked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.locked = locked
}

// Serialize returns the persistence snapshot. Virtual views carry only the
// title, the valid filters and the ordering.
func (v *View) Serialize() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.serializeLocked()
}

func (v *View) serializeLocked() Snapshot {
	s := Snapshot{
		Title:    v.title,
		Filters:  FilterSet{Conjunction: v.conjunction, Items: []filters.Item{}},
		Ordering: slices.Clone(v.ordering),
	}
	if s.Ordering == nil {
		s.Ordering = []string{}
	}
	for _, f := range v.filters {
		if f.IsValid() {
			s.Filters.Items = append(s.Filters.Items, f.Item())
		}
	}
	if v.virtual {
		return s
	}
	return v.fullLocked(s)
}

// fullLocked adds the configuration persisted views carry.
func (v *View) fullLocked(s Snapshot) Snapshot {
	hidden := v.hidden.Clone()
	s.Type = v.kind
	s.Target = v.target
	s.HiddenColumns = &hidden
	s.ColumnsWidth = maps.Clone(v.columnsWidth)
	s.ColumnsDisplayType = maps.Clone(v.columnsDisplayType)
	s.GridWidth = v.gridWidth
	s.SemanticSearch = slices.Clone(v.semanticSearch)
	if v.threshold != nil {
		t := *v.threshold
		s.Threshold = &t
	}
	return s
}

// Snapshot returns the full configuration regardless of virtuality.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := v.serializeLocked()
	if v.virtual {
		s = v.fullLocked(s)
	}
	return s
}

// Payload returns the server record of the view.
func (v *View) Payload(version PayloadVersion, project int64) any {
	id := v.ID()
	if id == PlaceholderID {
		id = 0
	}
	return Payload(version, id, project, v.Serialize())
}

// FetchParams implements datastore.Source. Persisted views are fetched by id;
// virtual views send their whole query.
func (v *View) FetchParams() (api.Params, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.virtual {
		if v.id == 0 || v.id == PlaceholderID {
			return nil, false
		}
		return api.Params{"view": v.id}, true
	}
	s := v.serializeLocked()
	return api.Params{"query": Query{
		Filters:       s.Filters,
		Ordering:      s.Ordering,
		HiddenColumns: v.hidden.Clone(),
	}}, true
}

// Query is the full row query of a virtual view.
type Query struct {
	Filters       FilterSet             `json:"filters"`
	Ordering      []string              `json:"ordering"`
	HiddenColumns columns.HiddenColumns `json:"hiddenColumns"`
}

// markDirty flags local changes not yet persisted.
func (v *View) markDirty() {
	v.saved = false
}

// Save persists the view. It is a no-op when nothing changed since the last
// save. Virtual views re-encode their key and push a history entry; persisted
// views go through the store, which may replace this View object.
func (v *View) Save(ctx context.Context, opts SaveOptions) error {
	v.mu.Lock()
	if v.locked || v.busy {
		v.mu.Unlock()
		return ErrViewLocked
	}
	snap := v.serializeLocked()
	if v.saved && v.lastSaved != nil && SnapshotsEqual(snap, *v.lastSaved) {
		v.mu.Unlock()
		v.logger.Debug("save skipped, snapshot unchanged")
		return nil
	}
	if v.lastSaved != nil {
		v.logger.Debug("view changed", "diff", SnapshotDiff(*v.lastSaved, snap))
	}
	v.busy = true
	virtual := v.virtual
	v.mu.Unlock()

	err := v.persist(ctx, virtual, snap)

	v.mu.Lock()
	v.busy = false
	v.mu.Unlock()

	if err != nil {
		return err
	}
	if opts.Reload {
		return v.store.reloadData(ctx, v.Key(), opts.Interaction)
	}
	return nil
}

func (v *View) persist(ctx context.Context, virtual bool, snap Snapshot) error {
	if !virtual {
		return v.store.SaveView(ctx, v, snap)
	}
	key, err := EncodeKey(snap)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.key = key
	v.saved = true
	v.lastSaved = &snap
	v.mu.Unlock()
	v.store.pushHistory(v)
	return nil
}

// markSaved records snap as the persisted state.
func (v *View) markSaved(snap Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.saved = true
	v.lastSaved = &snap
}

// SaveFilters implements filters.Saver: a filter change saves the view and
// reloads its rows from the first page.
func (v *View) SaveFilters(ctx context.Context) error {
	return v.Save(ctx, SaveOptions{Reload: true, Interaction: datastore.InteractionFilter})
}

// Reload refetches the view's rows. Only the selected view has rows loaded.
func (v *View) Reload(ctx context.Context, interaction datastore.Interaction) error {
	if v.Locked() {
		return ErrViewLocked
	}
	return v.store.reloadData(ctx, v.Key(), interaction)
}

// SetOrdering toggles ordering on a column: unordered becomes ascending,
// ascending becomes descending. An empty id clears the ordering. Only one
// column can be ordered at a time.
func (v *View) SetOrdering(ctx context.Context, columnID string) error {
	v.mu.Lock()
	var cur string
	if len(v.ordering) > 0 {
		cur = v.ordering[0]
	}
	switch {
	case columnID == "":
		v.ordering = []string{}
	case cur == columnID:
		v.ordering = []string{"-" + columnID}
	default:
		v.ordering = []string{strings.TrimPrefix(columnID, "-")}
	}
	v.markDirty()
	v.mu.Unlock()

	return v.Save(ctx, SaveOptions{Reload: true, Interaction: datastore.InteractionOrdering})
}

// CreateFilter appends a filter on the first filterable column of the view's
// target. It is saved right away only if it is already valid.
func (v *View) CreateFilter(ctx context.Context) (*filters.Filter, error) {
	cat := v.store.catalog
	ft, ok := cat.First(v.Target())
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoFilterableColumns, v.Target())
	}
	f := filters.New(cat, v, ft, v.store.filterOptions())

	v.mu.Lock()
	v.filters = append(v.filters, f)
	v.markDirty()
	v.mu.Unlock()

	if f.IsValid() {
		if err := f.Save(ctx, false); err != nil {
			return f, err
		}
	}
	return f, nil
}

// DeleteFilter removes a filter row. Removing a valid filter changes the
// query, so the rows are reloaded.
func (v *View) DeleteFilter(ctx context.Context, id string) error {
	v.mu.Lock()
	i := slices.IndexFunc(v.filters, func(f *filters.Filter) bool { return f.ID() == id })
	if i < 0 {
		v.mu.Unlock()
		return fmt.Errorf("filter %s not found", id)
	}
	f := v.filters[i]
	v.filters = slices.Delete(v.filters, i, i+1)
	v.markDirty()
	v.mu.Unlock()

	f.Close()
	return v.Save(ctx, SaveOptions{Reload: f.IsValid(), Interaction: datastore.InteractionFilter})
}

// SetConjunction switches between and/or and saves.
func (v *View) SetConjunction(ctx context.Context, c Conjunction) error {
	v.mu.Lock()
	v.conjunction = c
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{Reload: true, Interaction: datastore.InteractionFilter})
}

// SetTitle renames the view and saves.
func (v *View) SetTitle(ctx context.Context, title string) error {
	v.mu.Lock()
	v.title = title
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{})
}

// SetKind switches between list and grid layouts and saves.
func (v *View) SetKind(ctx context.Context, k Kind) error {
	v.mu.Lock()
	v.kind = k
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{})
}

// ToggleColumn hides or shows a column in the given mode and saves.
func (v *View) ToggleColumn(ctx context.Context, mode columns.Mode, columnID string) error {
	v.mu.Lock()
	list := &v.hidden.Explore
	if mode == columns.ModeLabeling {
		list = &v.hidden.Labeling
	}
	if i := slices.Index(*list, columnID); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
	} else {
		*list = append(*list, columnID)
	}
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{})
}

// IsHidden reports whether a column is hidden in the given mode.
func (v *View) IsHidden(mode columns.Mode, columnID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Contains(v.hidden.For(mode), columnID)
}

// SetColumnWidth overrides a column width and saves. Zero resets it.
func (v *View) SetColumnWidth(ctx context.Context, columnID string, width float64) error {
	v.mu.Lock()
	if width <= 0 {
		delete(v.columnsWidth, columnID)
	} else {
		if v.columnsWidth == nil {
			v.columnsWidth = make(map[string]float64)
		}
		v.columnsWidth[columnID] = width
	}
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{})
}

// SetDisplayType overrides how a column renders and saves. The renderer of
// the column type must list t among its display types.
func (v *View) SetDisplayType(ctx context.Context, columnID string, t columns.Type) error {
	reg := v.store.registry
	col, ok := reg.ByID(columnID)
	if !ok {
		return fmt.Errorf("column %s not found", columnID)
	}
	info, _ := reg.Renderers().Get(string(col.Type))
	if t != col.Type && !slices.Contains(info.DisplayTypes, t) {
		return fmt.Errorf("column %s cannot be displayed as %s", columnID, t)
	}

	v.mu.Lock()
	if t == col.Type {
		delete(v.columnsDisplayType, columnID)
	} else {
		if v.columnsDisplayType == nil {
			v.columnsDisplayType = make(map[string]columns.Type)
		}
		v.columnsDisplayType[columnID] = t
	}
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{})
}

// SetGridWidth sets the number of grid columns and saves.
func (v *View) SetGridWidth(ctx context.Context, n int) error {
	v.mu.Lock()
	v.gridWidth = n
	v.markDirty()
	v.mu.Unlock()
	return v.Save(ctx, SaveOptions{})
}

// close stops the filters' pending persists.
func (v *View) close() {
	for _, f := range v.Filters() {
		f.Close()
	}
}
