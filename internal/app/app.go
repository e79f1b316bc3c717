// Package app wires the data manager together: it bootstraps a project,
// owns the view store, and exposes the actions, editor hand-off and polling
// that sit on top of the active view.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/datastore"
	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/notifier"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// ErrCrashed is returned once the project could not be loaded. The app stays
// unusable until it is recreated.
var ErrCrashed = errors.New("data manager crashed")

// Config holds app configuration.
type Config struct {
	// Caller performs API calls; usually an *api.Client.
	Caller api.Caller
	// Project is the project id sent with view records.
	Project int64
	// PageSize is the row page size of every target.
	PageSize int
	// PayloadVersion selects the view record shape the server expects.
	PayloadVersion views.PayloadVersion
	// FilterDebounce delays persisting typed filter values.
	FilterDebounce time.Duration
	// FilterContext and Exclusions hide operators per deployment.
	FilterContext string
	Exclusions    filters.Exclusions
	// Renderers overrides the renderer metadata (optional).
	Renderers *columns.RendererRegistry
	History   views.History
	Settings  views.LocalSettings
	Notifier  *notifier.Notifier
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Project is the subset of the project record the data manager reads.
type Project struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	TaskNumber  int    `json:"task_number"`
	LabelConfig string `json:"label_config,omitempty"`
}

// Action is a bulk operation the server offers on selected rows.
type Action struct {
	ID     string        `json:"id" yaml:"id"`
	Title  string        `json:"title" yaml:"title"`
	Order  int           `json:"order" yaml:"order"`
	Dialog *ActionDialog `json:"dialog,omitempty" yaml:"dialog,omitempty"`
}

// ActionDialog asks for confirmation before an action runs.
type ActionDialog struct {
	Text string `json:"text" yaml:"text"`
	Type string `json:"type" yaml:"type"`
}

// App is one data manager instance bound to a project.
type App struct {
	cfg      Config
	caller   api.Caller
	logger   *slog.Logger
	notif    *notifier.Notifier
	registry *columns.Registry
	views    *views.Store

	mu      sync.RWMutex
	project *Project
	actions []Action
	crashed bool
}

// New creates an app. Nothing is fetched until Bootstrap.
func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notif := cfg.Notifier
	if notif == nil {
		notif = notifier.New()
	}

	registry := columns.NewRegistry(cfg.Renderers, logger)
	catalog := filters.NewCatalog(registry, filters.CatalogOptions{
		Context:    cfg.FilterContext,
		Exclusions: cfg.Exclusions,
	})
	store := views.NewStore(views.Config{
		Caller:         cfg.Caller,
		Registry:       registry,
		Catalog:        catalog,
		Notifier:       notif,
		PageSize:       cfg.PageSize,
		History:        cfg.History,
		Settings:       cfg.Settings,
		Project:        cfg.Project,
		PayloadVersion: cfg.PayloadVersion,
		FilterDebounce: cfg.FilterDebounce,
		Logger:         logger,
	})

	return &App{
		cfg:      cfg,
		caller:   cfg.Caller,
		logger:   logger,
		notif:    notif,
		registry: registry,
		views:    store,
	}
}

// Views returns the view store.
func (a *App) Views() *views.Store { return a.views }

// Notifier returns the app's event stream.
func (a *App) Notifier() *notifier.Notifier { return a.notif }

// Registry returns the column registry.
func (a *App) Registry() *columns.Registry { return a.registry }

// Project returns the loaded project.
func (a *App) Project() (Project, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.project == nil {
		return Project{}, false
	}
	return *a.project, true
}

// Crashed reports whether bootstrap failed to load the project.
func (a *App) Crashed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.crashed
}

// Bootstrap loads the project, then columns and actions concurrently, then
// the views, and finally selects the view named by the initial URL state.
// A project that cannot be loaded crashes the app.
func (a *App) Bootstrap(ctx context.Context, initial url.Values) error {
	a.logger.Debug("bootstrapping", "project", a.cfg.Project)

	if err := a.fetchProject(ctx); err != nil {
		a.mu.Lock()
		a.crashed = true
		a.mu.Unlock()
		a.logger.Error("project unavailable", "project", a.cfg.Project, "error", err)
		return fmt.Errorf("%w: %v", ErrCrashed, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.views.FetchColumns(gctx) })
	g.Go(func() error { return a.FetchActions(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if err := a.views.FetchViews(ctx); err != nil {
		return err
	}
	return a.views.ApplyURL(ctx, initial)
}

func (a *App) fetchProject(ctx context.Context) error {
	resp, err := a.caller.Call(ctx, api.MethodProject, api.Params{"project": a.cfg.Project}, nil, api.CallOptions{})
	if err != nil {
		return err
	}
	if resp.NotFound() {
		return fmt.Errorf("project %d not found", a.cfg.Project)
	}
	var p Project
	if err := resp.Decode(&p); err != nil {
		return fmt.Errorf("decode project: %w", err)
	}
	a.mu.Lock()
	a.project = &p
	a.mu.Unlock()
	return nil
}

// FetchActions loads the available bulk actions, sorted by order.
func (a *App) FetchActions(ctx context.Context) error {
	resp, err := a.caller.Call(ctx, api.MethodActions, api.Params{}, nil, api.CallOptions{})
	if err != nil {
		return fmt.Errorf("fetch actions: %w", err)
	}
	var actions []Action
	if !resp.NotFound() {
		if err := resp.Decode(&actions); err != nil {
			return fmt.Errorf("fetch actions: %w", err)
		}
	}
	slices.SortStableFunc(actions, func(x, y Action) int { return x.Order - y.Order })

	a.mu.Lock()
	a.actions = actions
	a.mu.Unlock()
	return nil
}

// Actions returns the loaded actions.
func (a *App) Actions() []Action {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.actions)
}

// InvokeAction runs a bulk action on the selection of the active view. The
// body carries the selection plus the view's filters and ordering; extra
// fields from a dialog are merged in. Afterwards the selection is cleared
// and the rows reloaded.
func (a *App) InvokeAction(ctx context.Context, actionID string, extra map[string]any) (json.RawMessage, error) {
	v := a.views.Selected()
	if v == nil {
		return nil, views.ErrViewNotFound
	}

	snap := v.Serialize()
	body := map[string]any{
		"selectedItems": v.Selection().Payload(),
		"filters":       snap.Filters,
		"ordering":      snap.Ordering,
	}
	for k, val := range extra {
		if _, reserved := body[k]; !reserved {
			body[k] = val
		}
	}
	params := api.Params{"id": actionID}
	if v.HasServerID() {
		params["tabID"] = v.ID()
	}

	resp, err := a.caller.Call(ctx, api.MethodInvokeAction, params, body, api.CallOptions{})
	if err != nil {
		return nil, fmt.Errorf("invoke action %s: %w", actionID, err)
	}
	a.logger.Info("action invoked", "action", actionID, "view", v.Key())

	v.Selection().Clear()
	if err := a.views.Data(v.Target()).Reload(ctx, datastore.InteractionNone); err != nil {
		a.logger.Warn("reload after action failed", "action", actionID, "error", err)
	}
	return resp.Data, nil
}

// NextTask asks the server for the next row to label in the active view and
// opens it. It returns false when there is none.
func (a *App) NextTask(ctx context.Context) (columns.Record, bool, error) {
	v := a.views.Selected()
	if v == nil {
		return columns.Record{}, false, views.ErrViewNotFound
	}
	params := api.Params{"project": a.cfg.Project}
	if v.HasServerID() {
		params["view"] = v.ID()
	}
	resp, err := a.caller.Call(ctx, api.MethodNextTask, params, nil, api.CallOptions{})
	if err != nil {
		return columns.Record{}, false, fmt.Errorf("next task: %w", err)
	}
	if resp.NotFound() || len(resp.Data) == 0 {
		return columns.Record{}, false, nil
	}
	rec, err := a.registry.Schema(v.Target()).Decode(resp.Data)
	if err != nil {
		return columns.Record{}, false, fmt.Errorf("next task: %w", err)
	}
	a.views.OpenTask(rec.ID)
	return rec, true, nil
}

// TaskSubmitted rereads a row after the editor saved it so the grid shows
// the new values.
func (a *App) TaskSubmitted(ctx context.Context, id int64) (columns.Record, bool, error) {
	v := a.views.Selected()
	if v == nil {
		return columns.Record{}, false, views.ErrViewNotFound
	}
	return a.views.Data(v.Target()).FetchItem(ctx, id)
}

// Poll refreshes the loaded pages of the active view every interval until
// ctx ends. A tick is skipped while a fetch is already running.
func (a *App) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v := a.views.Selected()
			if v == nil || v.Locked() {
				continue
			}
			data := a.views.Data(v.Target())
			if data.Loading() {
				continue
			}
			if err := data.Refresh(ctx, datastore.InteractionPolling); err != nil && ctx.Err() == nil {
				a.logger.Warn("poll failed", "view", v.Key(), "error", err)
			}
		}
	}
}
