// Package views manages the data manager's views: saved or URL-encoded grid
// configurations, the active selection among them, and its mirror in the
// navigation history.
package views

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/datastore"
	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/notifier"
	"github.com/leapstack-labs/datamanager/internal/selection"
)

// Config wires a Store to its collaborators.
type Config struct {
	Caller   api.Caller
	Registry *columns.Registry
	// Catalog defaults to one built on Registry without exclusions.
	Catalog  *filters.Catalog
	Notifier *notifier.Notifier
	// Data holds the row store per target. Missing targets get one on demand.
	Data     map[columns.Target]*datastore.Store
	PageSize int
	History  History
	Settings LocalSettings

	Project        int64
	PayloadVersion PayloadVersion
	FilterDebounce time.Duration
	Logger         *slog.Logger
}

// SelectOptions control a selection change.
type SelectOptions struct {
	// PushState adds a history entry; otherwise the current one is replaced.
	PushState bool
	// CreateDefault creates a view when there is none to select.
	CreateDefault bool
}

// AddOptions control AddView.
type AddOptions struct {
	Snapshot *Snapshot
	Virtual  bool
	Select   bool
}

// Store owns the views of a project.
type Store struct {
	cfg      Config
	caller   api.Caller
	registry *columns.Registry
	catalog  *filters.Catalog
	notif    *notifier.Notifier
	history  History
	settings LocalSettings
	logger   *slog.Logger

	mu            sync.RWMutex
	views         []*View
	selected      *View
	data          map[columns.Target]*datastore.Store
	defaultHidden map[columns.Target]columns.HiddenColumns
}

// NewStore creates a store with no views.
func NewStore(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Registry == nil {
		cfg.Registry = columns.NewRegistry(nil, logger)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = filters.NewCatalog(cfg.Registry, filters.CatalogOptions{})
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.New()
	}
	if cfg.History == nil {
		cfg.History = NewMemoryHistory(nil)
	}
	if cfg.Settings == nil {
		cfg.Settings = newMemorySettings()
	}
	if cfg.PayloadVersion == "" {
		cfg.PayloadVersion = PayloadV2
	}

	s := &Store{
		cfg:           cfg,
		caller:        cfg.Caller,
		registry:      cfg.Registry,
		catalog:       cfg.Catalog,
		notif:         cfg.Notifier,
		history:       cfg.History,
		settings:      cfg.Settings,
		logger:        logger,
		data:          make(map[columns.Target]*datastore.Store),
		defaultHidden: make(map[columns.Target]columns.HiddenColumns),
	}
	for t, d := range cfg.Data {
		s.data[t] = d
	}
	s.history.OnPop(func(state url.Values) {
		if err := s.ApplyURL(context.Background(), state); err != nil {
			s.logger.Warn("history navigation failed", "error", err)
		}
	})
	return s
}

// Registry returns the column registry.
func (s *Store) Registry() *columns.Registry { return s.registry }

// Catalog returns the filter catalog.
func (s *Store) Catalog() *filters.Catalog { return s.catalog }

// Notifier returns the event stream the store publishes to.
func (s *Store) Notifier() *notifier.Notifier { return s.notif }

// History returns the navigation history.
func (s *Store) History() History { return s.history }

// AvailableFilters lists one filter type per filterable leaf column.
func (s *Store) AvailableFilters() []filters.FilterType { return s.catalog.Types() }

// Data returns the row store of a target, creating it on first use.
func (s *Store) Data(t columns.Target) *datastore.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataLocked(t)
}

func (s *Store) dataLocked(t columns.Target) *datastore.Store {
	if d, ok := s.data[t]; ok {
		return d
	}
	list, item := api.MethodTasks, api.MethodTask
	if t == columns.TargetAnnotations {
		list = api.MethodAnnotations
	}
	d := datastore.New(datastore.Config{
		Target:        t,
		ListMethod:    list,
		ItemMethod:    item,
		Caller:        s.caller,
		Registry:      s.registry,
		Notifier:      s.notif,
		PageSize:      s.cfg.PageSize,
		AllowToCancel: true,
		Logger:        s.logger,
	})
	s.data[t] = d
	return d
}

// Views returns the views in tab order.
func (s *Store) Views() []*View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.views)
}

// Selected returns the active view, nil before the first selection.
func (s *Store) Selected() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// ViewByKey resolves a view in memory by key.
func (s *Store) ViewByKey(key string) *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.views {
		if v.Key() == key {
			return v
		}
	}
	return nil
}

// ViewByID resolves a persisted view by server id.
func (s *Store) ViewByID(id int64) *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.views {
		if v.ID() == id && !v.Virtual() {
			return v
		}
	}
	return nil
}

// GetViewByKey resolves key in memory and otherwise decodes it as a virtual
// view snapshot, adding the result to the store. It returns nil when the key
// does not decode.
func (s *Store) GetViewByKey(key string) *View {
	if v := s.ViewByKey(key); v != nil {
		return v
	}
	snap, err := DecodeKey(key)
	if err != nil {
		s.logger.Debug("view key not decodable", "error", err)
		return nil
	}
	v := s.materialize(ServerView{Snapshot: snap}, key, true)
	v.markSaved(v.Serialize())

	s.mu.Lock()
	s.views = append(s.views, v)
	s.mu.Unlock()
	s.notif.Publish(notifier.ViewsChanged, len(s.Views()))
	return v
}

// DefaultHidden returns the hidden columns new views of target start with.
func (s *Store) DefaultHidden(t columns.Target) columns.HiddenColumns {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.defaultHidden[t]; ok {
		return h.Clone()
	}
	return columns.HiddenColumns{Explore: []string{}, Labeling: []string{}}
}

// FetchColumns loads the column registry and derives the default hidden
// columns of every target.
func (s *Store) FetchColumns(ctx context.Context) error {
	resp, err := s.caller.Call(ctx, api.MethodColumns, api.Params{}, nil, api.CallOptions{})
	if err != nil {
		return fmt.Errorf("fetch columns: %w", err)
	}

	var raw []columns.RawColumn
	if !resp.NotFound() {
		if err := decodeList(resp.Data, "columns", &raw); err != nil {
			return fmt.Errorf("fetch columns: %w", err)
		}
	}
	s.registry.Load(raw)

	hidden := make(map[columns.Target]columns.HiddenColumns)
	for _, t := range s.registry.Targets() {
		hidden[t] = s.registry.DefaultHidden(t)
	}
	s.mu.Lock()
	s.defaultHidden = hidden
	s.mu.Unlock()

	s.logger.Debug("columns loaded", "targets", len(hidden), "filters", len(s.catalog.Types()))
	return nil
}

// FetchViews replaces the persisted views with the server's list. Virtual
// views survive.
func (s *Store) FetchViews(ctx context.Context) error {
	resp, err := s.caller.Call(ctx, api.MethodTabs, api.Params{}, nil, api.CallOptions{})
	if err != nil {
		return fmt.Errorf("fetch views: %w", err)
	}
	var records []ServerView
	if !resp.NotFound() {
		if err := decodeList(resp.Data, "tabs", &records); err != nil {
			return fmt.Errorf("fetch views: %w", err)
		}
	}

	fresh := make([]*View, 0, len(records))
	for _, rec := range records {
		v := s.materialize(rec, uuid.NewString(), false)
		v.markSaved(v.Serialize())
		fresh = append(fresh, v)
	}

	s.mu.Lock()
	var dropped []*View
	for _, v := range s.views {
		if v.Virtual() {
			fresh = append(fresh, v)
		} else {
			dropped = append(dropped, v)
		}
	}
	s.views = fresh
	if s.selected != nil && !s.selected.Virtual() {
		s.selected = nil
	}
	s.mu.Unlock()

	for _, v := range dropped {
		v.close()
	}
	s.notif.Publish(notifier.ViewsChanged, len(fresh))
	return nil
}

// decodeList accepts a bare array or an object holding it under key.
func decodeList(data json.RawMessage, key string, out any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if data[0] == '[' {
		return json.Unmarshal(data, out)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if inner, ok := obj[key]; ok {
		return json.Unmarshal(inner, out)
	}
	return nil
}

// materialize builds a View from a server record. Filters on columns the
// registry does not know are dropped.
func (s *Store) materialize(rec ServerView, key string, virtual bool) *View {
	snap := rec.Snapshot
	target := snap.Target
	if target == "" {
		target = columns.DefaultTarget
	}
	kind := snap.Type
	if kind == "" {
		kind = KindList
	}
	conj := snap.Filters.Conjunction
	if conj == "" {
		conj = And
	}
	hidden := s.DefaultHidden(target)
	if snap.HiddenColumns != nil {
		hidden = snap.HiddenColumns.Clone()
	}
	ordering := slices.Clone(snap.Ordering)
	if ordering == nil {
		ordering = []string{}
	}
	id := rec.ID
	if virtual {
		id = 0
	}

	v := &View{
		store:              s,
		logger:             s.logger.With("view", key),
		id:                 id,
		key:                key,
		title:              snap.Title,
		kind:               kind,
		target:             target,
		conjunction:        conj,
		ordering:           ordering,
		hidden:             hidden,
		columnsWidth:       snap.ColumnsWidth,
		columnsDisplayType: snap.ColumnsDisplayType,
		gridWidth:          snap.GridWidth,
		semanticSearch:     snap.SemanticSearch,
		threshold:          snap.Threshold,
		selection:          selection.New(s.notif),
		virtual:            virtual,
	}
	for _, item := range snap.Filters.Items {
		f, err := filters.FromItem(s.catalog, v, item, s.filterOptions())
		if err != nil {
			s.logger.Warn("filter dropped", "view", key, "error", err)
			continue
		}
		v.filters = append(v.filters, f)
	}
	return v
}

func (s *Store) filterOptions() filters.Options {
	return filters.Options{Debounce: s.cfg.FilterDebounce, Logger: s.logger}
}

// SetSelected makes v the active view. An unknown or nil view falls back to
// the first one; with no views at all CreateDefault creates one. Selecting
// clears the target's rows, records history, reloads the rows and announces
// the change.
func (s *Store) SetSelected(ctx context.Context, v *View, opts SelectOptions) error {
	target := v
	s.mu.RLock()
	if target != nil && !slices.Contains(s.views, target) {
		target = nil
	}
	if target == nil && len(s.views) > 0 {
		target = s.views[0]
	}
	s.mu.RUnlock()

	if target == nil {
		if !opts.CreateDefault {
			return ErrViewNotFound
		}
		created, err := s.AddView(ctx, AddOptions{})
		if err != nil {
			return fmt.Errorf("create default view: %w", err)
		}
		target = created
	}

	s.mu.Lock()
	prev := s.selected
	s.selected = target
	if prev != nil && prev.Target() != target.Target() {
		s.dataLocked(prev.Target()).Clear()
	}
	data := s.dataLocked(target.Target())
	s.mu.Unlock()

	if prev != nil && prev != target {
		prev.Selection().Clear()
	}

	data.Clear()
	data.SetSource(target)
	s.recordHistory(opts.PushState)

	if err := data.Reload(ctx, datastore.InteractionNone); err != nil {
		s.logger.Warn("view data reload failed", "view", target.Key(), "error", err)
	}

	s.notif.Publish(notifier.TabChanged, target.Key())
	target.Selection().Notify()
	return nil
}

// SelectKey selects the view with key, decoding virtual keys.
func (s *Store) SelectKey(ctx context.Context, key string, opts SelectOptions) error {
	return s.SetSelected(ctx, s.GetViewByKey(key), opts)
}

// SelectID selects the persisted view with id.
func (s *Store) SelectID(ctx context.Context, id int64, opts SelectOptions) error {
	return s.SetSelected(ctx, s.ViewByID(id), opts)
}

// AddView creates a view. Persisted views are created on the server at once;
// virtual views get their key from the snapshot.
func (s *Store) AddView(ctx context.Context, opts AddOptions) (*View, error) {
	var snap Snapshot
	if opts.Snapshot != nil {
		snap = opts.Snapshot.Clone()
	} else {
		snap = Snapshot{Title: s.nextTitle()}
	}

	key := uuid.NewString()
	if opts.Virtual {
		enc, err := EncodeKey(snap)
		if err != nil {
			return nil, err
		}
		key = enc
	}
	v := s.materialize(ServerView{Snapshot: snap}, key, opts.Virtual)

	s.mu.Lock()
	s.views = append(s.views, v)
	n := len(s.views)
	s.mu.Unlock()
	s.notif.Publish(notifier.ViewsChanged, n)

	if opts.Virtual {
		v.markSaved(v.Serialize())
	} else if err := v.Save(ctx, SaveOptions{}); err != nil {
		return v, err
	}

	created := s.ViewByKey(key)
	if opts.Select {
		if err := s.SetSelected(ctx, created, SelectOptions{PushState: true}); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (s *Store) nextTitle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.views) == 0 {
		return "Default"
	}
	return "Tab " + strconv.Itoa(len(s.views)+1)
}

// DeleteView removes v, deleting it on the server when it was persisted.
// Deleting the active view selects its left neighbour.
func (s *Store) DeleteView(ctx context.Context, v *View) error {
	if !v.Virtual() && v.HasServerID() {
		if _, err := s.caller.Call(ctx, api.MethodDeleteTab, api.Params{"id": v.ID()}, nil, api.CallOptions{}); err != nil {
			return fmt.Errorf("delete view %d: %w", v.ID(), err)
		}
	}

	s.mu.Lock()
	i := slices.Index(s.views, v)
	if i < 0 {
		s.mu.Unlock()
		return ErrViewNotFound
	}
	s.views = slices.Delete(s.views, i, i+1)
	wasSelected := s.selected == v
	var next *View
	if wasSelected {
		s.selected = nil
		if len(s.views) > 0 {
			next = s.views[max(i-1, 0)]
		}
	}
	n := len(s.views)
	s.mu.Unlock()

	v.close()
	s.notif.Publish(notifier.ViewsChanged, n)

	if wasSelected {
		return s.SetSelected(ctx, next, SelectOptions{PushState: true, CreateDefault: true})
	}
	return nil
}

var copySuffix = regexp.MustCompile(`^(.*?) Copy(?: \((\d+)\))?$`)

// CopyTitle appends a copy suffix: "X" → "X Copy" → "X Copy (2)" → "X Copy (3)".
func CopyTitle(title string) string {
	m := copySuffix.FindStringSubmatch(title)
	if m == nil {
		return title + " Copy"
	}
	n := 1
	if m[2] != "" {
		n, _ = strconv.Atoi(m[2])
	}
	return fmt.Sprintf("%s Copy (%d)", m[1], n+1)
}

// DuplicateView copies v under a fresh key and a copy title, saves the copy
// and selects it.
func (s *Store) DuplicateView(ctx context.Context, v *View) (*View, error) {
	snap := v.Snapshot().Clone()
	snap.Title = CopyTitle(snap.Title)
	virtual := v.Virtual()

	dup := s.materialize(ServerView{ID: PlaceholderID, Snapshot: snap}, uuid.NewString(), virtual)
	sel := v.Selection().State()
	dup.selection = selection.FromState(sel, s.notif)

	s.mu.Lock()
	s.views = append(s.views, dup)
	n := len(s.views)
	s.mu.Unlock()
	s.notif.Publish(notifier.ViewsChanged, n)

	if err := dup.Save(ctx, SaveOptions{}); err != nil {
		return dup, err
	}

	created := s.ViewByKey(dup.Key())
	if err := s.SetSelected(ctx, created, SelectOptions{PushState: true}); err != nil {
		return created, err
	}
	return created, nil
}

// UpdateViewOrder moves the view at from to index to. The new order is sent
// to the server best effort; a failure is logged and the local order kept.
func (s *Store) UpdateViewOrder(ctx context.Context, from, to int) error {
	s.mu.Lock()
	if from < 0 || from >= len(s.views) || to < 0 || to >= len(s.views) {
		s.mu.Unlock()
		return fmt.Errorf("view order: index out of range [%d -> %d] with %d views", from, to, len(s.views))
	}
	v := s.views[from]
	s.views = slices.Delete(s.views, from, from+1)
	s.views = slices.Insert(s.views, to, v)
	ids := make([]int64, 0, len(s.views))
	for _, v := range s.views {
		if !v.Virtual() && v.HasServerID() {
			ids = append(ids, v.ID())
		}
	}
	n := len(s.views)
	s.mu.Unlock()
	s.notif.Publish(notifier.ViewsChanged, n)

	body := map[string]any{"project": s.cfg.Project, "ids": ids}
	if _, err := s.caller.Call(ctx, api.MethodOrderTabs, api.Params{}, body, api.CallOptions{}); err != nil {
		s.logger.Warn("view order not saved", "error", err)
	}
	return nil
}

// SaveView writes a persisted view: create when it has no server id, update
// otherwise. When the server answers with a different id the View object is
// replaced by a new one under the same key.
func (s *Store) SaveView(ctx context.Context, v *View, snap Snapshot) error {
	id := v.ID()
	create := id == 0 || id == PlaceholderID

	var (
		resp *api.Response
		err  error
	)
	if create {
		resp, err = s.caller.Call(ctx, api.MethodCreateTab, api.Params{}, Payload(s.cfg.PayloadVersion, 0, s.cfg.Project, snap), api.CallOptions{})
	} else {
		resp, err = s.caller.Call(ctx, api.MethodUpdateTab, api.Params{"id": id}, Payload(s.cfg.PayloadVersion, id, s.cfg.Project, snap), api.CallOptions{})
	}
	if err != nil {
		return fmt.Errorf("save view %q: %w", snap.Title, err)
	}

	var rec ServerView
	if resp != nil && resp.OK() {
		if err := resp.Decode(&rec); err != nil {
			return fmt.Errorf("save view %q: %w", snap.Title, err)
		}
	}
	if rec.ID == 0 {
		rec.ID = id
	}

	if rec.ID == id {
		v.markSaved(snap)
		s.notif.Publish(notifier.ViewsChanged, len(s.Views()))
		return nil
	}

	repl := s.materialize(ServerView{ID: rec.ID, Project: rec.Project, Snapshot: snap}, v.Key(), false)
	repl.selection = v.selection
	repl.markSaved(repl.Serialize())

	s.mu.Lock()
	if i := slices.Index(s.views, v); i >= 0 {
		s.views[i] = repl
	} else {
		s.views = append(s.views, repl)
	}
	wasSelected := s.selected == v
	if wasSelected {
		s.selected = repl
		s.dataLocked(repl.Target()).SetSource(repl)
	}
	s.mu.Unlock()

	v.close()
	s.logger.Debug("view replaced", "key", repl.Key(), "old_id", id, "id", rec.ID)
	if wasSelected {
		s.recordHistory(false)
	}
	s.notif.Publish(notifier.ViewsChanged, len(s.Views()))
	return nil
}

// SaveVirtual promotes a virtual view to a persisted one and returns the
// persisted View.
func (s *Store) SaveVirtual(ctx context.Context, v *View) (*View, error) {
	if !v.Virtual() {
		return v, nil
	}
	v.mu.Lock()
	v.virtual = false
	v.id = 0
	v.saved = false
	v.mu.Unlock()

	if err := v.Save(ctx, SaveOptions{}); err != nil {
		v.mu.Lock()
		v.virtual = true
		v.mu.Unlock()
		return v, err
	}
	return s.ViewByKey(v.Key()), nil
}

// reloadData clears the selection and reloads rows when the view with key
// is the active one.
func (s *Store) reloadData(ctx context.Context, key string, interaction datastore.Interaction) error {
	s.mu.Lock()
	sel := s.selected
	if sel == nil || sel.Key() != key {
		s.mu.Unlock()
		return nil
	}
	data := s.dataLocked(sel.Target())
	s.mu.Unlock()

	// The selection was made against the old rows.
	sel.Selection().Clear()
	data.SetSource(sel)
	return data.Reload(ctx, interaction)
}
