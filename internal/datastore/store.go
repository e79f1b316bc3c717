// Package datastore keeps one target's paginated row list in sync with the
// server.
//
// Every Fetch mints a request id. A response is applied only when its id is
// still the latest one issued, so an overtaken request can never overwrite
// newer state.
package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/notifier"
)

// DefaultPageSize is used when the config leaves PageSize unset.
const DefaultPageSize = 30

// Status is the fetch state of a store.
type Status int

// Fetch states.
const (
	StatusIdle Status = iota
	StatusFetching
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFetching:
		return "fetching"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Interaction names what triggered a fetch.
type Interaction string

// Interactions. Filter and ordering changes restart from the first page.
const (
	InteractionNone     Interaction = ""
	InteractionFilter   Interaction = "filter"
	InteractionOrdering Interaction = "ordering"
	InteractionScroll   Interaction = "scroll"
	InteractionPolling  Interaction = "polling"
)

// Source is the live query of the active view. The store never chooses its
// view; it asks the source it was given.
type Source interface {
	// FetchParams returns the params that select the view's rows. ok is false
	// while no view is defined yet.
	FetchParams() (params api.Params, ok bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (api.Params, bool)

// FetchParams implements Source.
func (f SourceFunc) FetchParams() (api.Params, bool) { return f() }

// Config configures a Store.
type Config struct {
	Target columns.Target
	// ListMethod pages rows; ItemMethod reads a single row.
	ListMethod string
	ItemMethod string
	Caller     api.Caller
	Registry   *columns.Registry
	Notifier   *notifier.Notifier
	PageSize   int
	// AllowToCancel lets a new list request abort a duplicate in flight.
	AllowToCancel bool
	Logger        *slog.Logger
}

// FetchOptions select the page to load.
type FetchOptions struct {
	// PageNumber seeks directly to a page. Zero means "next page".
	PageNumber int
	Reload     bool
	// Refresh reloads every page loaded so far in a single request.
	Refresh     bool
	Interaction Interaction
	// PageSize overrides the store page size for this and later fetches.
	PageSize int
}

// Store is the paginated row cache of one target.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	source      Source
	latest      uint64
	page        int
	pageSize    int
	total       int
	list        []columns.Record
	status      Status
	err         error
	loadingItem bool
	highlighted int64
	selected    int64
}

// New creates an empty store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Target == "" {
		cfg.Target = columns.DefaultTarget
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.ListMethod == "" {
		cfg.ListMethod = api.MethodTasks
	}
	if cfg.ItemMethod == "" {
		cfg.ItemMethod = api.MethodTask
	}
	return &Store{
		cfg:      cfg,
		logger:   logger.With("target", cfg.Target),
		pageSize: cfg.PageSize,
	}
}

// Target returns the record target the store pages.
func (s *Store) Target() columns.Target { return s.cfg.Target }

// SetSource binds the store to the active view.
func (s *Store) SetSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// Fetch loads a page for the active view. Filter and ordering interactions and
// reloads restart at page 1; an explicit PageNumber seeks; otherwise the next
// page is loaded. Without a defined view Fetch does nothing.
//
// Failures are kept as the store's Err state and also returned.
func (s *Store) Fetch(ctx context.Context, opts FetchOptions) error {
	s.mu.Lock()
	if s.source == nil {
		s.mu.Unlock()
		return nil
	}
	params, ok := s.source.FetchParams()
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("fetch skipped, no view defined")
		return nil
	}

	reload := opts.Reload || opts.Refresh || opts.Interaction == InteractionFilter || opts.Interaction == InteractionOrdering
	page := s.page + 1
	switch {
	case reload:
		page = 1
	case opts.PageNumber > 0:
		page = opts.PageNumber
	}
	if opts.PageSize > 0 {
		s.pageSize = opts.PageSize
	}
	pageSize := s.pageSize

	// A refresh asks for the loaded window as one page and keeps the page
	// counter where scrolling left it.
	loaded := page
	if opts.Refresh && !opts.Reload && s.page > 1 {
		loaded = s.page
		pageSize *= loaded
	}

	s.latest++
	id := s.latest
	s.status = StatusFetching
	s.mu.Unlock()

	params = params.Clone()
	params["page"] = page
	params["page_size"] = pageSize
	if opts.Interaction != InteractionNone {
		params["interaction"] = string(opts.Interaction)
	}

	resp, err := s.cfg.Caller.Call(ctx, s.cfg.ListMethod, params, nil, api.CallOptions{AllowToCancel: s.cfg.AllowToCancel})

	if err == nil && resp == nil {
		resp = &api.Response{}
	}

	var rows []columns.Record
	var total int
	if err == nil && !resp.Canceled {
		rows, total, err = s.decodePage(resp)
	}

	s.mu.Lock()
	if latest := s.latest; id != latest {
		s.mu.Unlock()
		s.logger.Debug("stale response discarded", "request_id", id, "latest", latest)
		return nil
	}
	if err != nil {
		s.status = StatusError
		s.err = err
		s.mu.Unlock()
		return err
	}
	if resp.Canceled {
		s.status = StatusIdle
		s.mu.Unlock()
		return nil
	}

	if reload {
		s.list = dedupe(rows)
	} else {
		for _, r := range rows {
			s.upsertLocked(r)
		}
	}
	s.page = loaded
	s.total = total
	s.status = StatusIdle
	s.err = nil
	if s.highlighted != 0 && s.indexLocked(s.highlighted) < 0 {
		s.highlighted = 0
	}
	fetched := Page{Target: s.cfg.Target, Page: loaded, Total: total, Count: len(s.list), Reload: reload}
	s.mu.Unlock()

	s.publish(notifier.DataFetched, fetched)
	return nil
}

// Page is the DataFetched payload.
type Page struct {
	Target columns.Target
	Page   int
	Total  int
	Count  int
	Reload bool
}

// Reload refetches page 1 of the active view.
func (s *Store) Reload(ctx context.Context, interaction Interaction) error {
	return s.Fetch(ctx, FetchOptions{Reload: true, Interaction: interaction})
}

// Refresh refetches every loaded page of the active view. Rows gone from the
// server drop out and the page counter is kept.
func (s *Store) Refresh(ctx context.Context, interaction Interaction) error {
	return s.Fetch(ctx, FetchOptions{Refresh: true, Interaction: interaction})
}

func (s *Store) decodePage(resp *api.Response) ([]columns.Record, int, error) {
	if resp.NotFound() {
		return nil, 0, nil
	}
	var body map[string]json.RawMessage
	if err := resp.Decode(&body); err != nil {
		return nil, 0, err
	}

	var total int
	if raw, ok := body["total"]; ok {
		if err := json.Unmarshal(raw, &total); err != nil {
			return nil, 0, fmt.Errorf("decode total: %w", err)
		}
	}
	var raws []json.RawMessage
	if raw, ok := body[string(s.cfg.Target)]; ok {
		if err := json.Unmarshal(raw, &raws); err != nil {
			return nil, 0, fmt.Errorf("decode %s: %w", s.cfg.Target, err)
		}
	}

	schema := s.schema()
	rows := make([]columns.Record, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		rec, err := schema.Decode(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows = append(rows, rec)
	}
	if len(errs) > 0 {
		s.logger.Warn("rows skipped", "count", len(errs), "error", errors.Join(errs...))
	}
	return rows, total, nil
}

func (s *Store) schema() *columns.Schema {
	if s.cfg.Registry == nil {
		return columns.NewRegistry(nil, nil).Schema(s.cfg.Target)
	}
	return s.cfg.Registry.Schema(s.cfg.Target)
}

// dedupe keeps the last occurrence of every id, in first-seen order.
func dedupe(rows []columns.Record) []columns.Record {
	pos := make(map[int64]int, len(rows))
	out := make([]columns.Record, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func (s *Store) indexLocked(id int64) int {
	for i, r := range s.list {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// upsertLocked replaces the row with the same id in place or appends it.
func (s *Store) upsertLocked(r columns.Record) {
	if i := s.indexLocked(r.ID); i >= 0 {
		s.list[i] = r
		return
	}
	s.list = append(s.list, r)
}

func (s *Store) publish(t notifier.EventType, payload any) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Publish(t, payload)
	}
}

// Clear drops the loaded window and invalidates requests in flight.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	s.list = nil
	s.page = 0
	s.total = 0
	s.status = StatusIdle
	s.err = nil
	s.highlighted = 0
}
