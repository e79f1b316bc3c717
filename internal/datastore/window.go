package datastore

import (
	"context"
	"fmt"
	"slices"

	"github.com/leapstack-labs/datamanager/internal/api"
	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/notifier"
)

// Page returns the last loaded page number. Zero means nothing was fetched.
func (s *Store) Page() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// PageSize returns the current page size.
func (s *Store) PageSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageSize
}

// Total returns the remote row count reported by the last fetch.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Pages returns ceil(total / pageSize).
func (s *Store) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagesLocked()
}

func (s *Store) pagesLocked() int {
	if s.pageSize <= 0 {
		return 0
	}
	return (s.total + s.pageSize - 1) / s.pageSize
}

// HasNextPage reports whether another page can be loaded. It agrees with
// page != pages for every page up to the last one and stays false past it,
// so a shrinking total cannot cause runaway paging.
func (s *Store) HasNextPage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page < s.pagesLocked()
}

// List returns a copy of the loaded rows.
func (s *Store) List() []columns.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.list)
}

// Len returns the number of loaded rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Item returns the loaded row with id.
func (s *Store) Item(id int64) (columns.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.list[i], true
	}
	return columns.Record{}, false
}

// Status returns the fetch state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Loading reports whether a list fetch is in flight.
func (s *Store) Loading() bool { return s.Status() == StatusFetching }

// LoadingItem reports whether a single-row fetch is in flight.
func (s *Store) LoadingItem() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadingItem
}

// Err returns the failure of the last applied fetch.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Highlighted returns the keyboard-highlighted row id.
func (s *Store) Highlighted() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highlighted, s.highlighted != 0
}

// SetHighlighted moves the highlight to id when it is loaded.
func (s *Store) SetHighlighted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return false
	}
	s.highlighted = id
	return true
}

// FocusPrev moves the highlight one row up, clamped to the first row.
func (s *Store) FocusPrev() (int64, bool) { return s.focus(-1) }

// FocusNext moves the highlight one row down, clamped to the last row.
func (s *Store) FocusNext() (int64, bool) { return s.focus(1) }

// focus starts at the first row when nothing is highlighted.
func (s *Store) focus(delta int) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.list) == 0 {
		return 0, false
	}
	i := s.indexLocked(s.highlighted)
	if i < 0 {
		i = 0
	} else {
		i = min(max(i+delta, 0), len(s.list)-1)
	}
	s.highlighted = s.list[i].ID
	return s.highlighted, true
}

// Selected returns the row opened in the editor.
func (s *Store) Selected() (columns.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == 0 {
		return columns.Record{}, false
	}
	if i := s.indexLocked(s.selected); i >= 0 {
		return s.list[i], true
	}
	return columns.Record{ID: s.selected}, true
}

// SelectedID returns the id of the row opened in the editor.
func (s *Store) SelectedID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.selected != 0
}

// SetSelected opens id in the editor and highlights it. Zero closes the
// editor. A TaskSelected event carries the record, or nil on close.
func (s *Store) SetSelected(id int64) {
	s.mu.Lock()
	s.selected = id
	var payload any
	if id != 0 {
		s.highlighted = id
		rec := columns.Record{ID: id}
		if i := s.indexLocked(id); i >= 0 {
			rec = s.list[i]
		}
		payload = rec
	}
	s.mu.Unlock()
	s.publish(notifier.TaskSelected, payload)
}

// FetchItem rereads one row, typically after the editor submitted, and
// upserts it into the window. A missing row yields ok=false without error.
func (s *Store) FetchItem(ctx context.Context, id int64) (columns.Record, bool, error) {
	s.mu.Lock()
	s.loadingItem = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loadingItem = false
		s.mu.Unlock()
	}()

	params := api.Params{"taskID": id}
	resp, err := s.cfg.Caller.Call(ctx, s.cfg.ItemMethod, params, nil, api.CallOptions{})
	if err != nil {
		return columns.Record{}, false, err
	}
	if resp == nil || resp.Canceled || resp.NotFound() {
		return columns.Record{}, false, nil
	}
	rec, err := s.schema().Decode(resp.Data)
	if err != nil {
		return columns.Record{}, false, fmt.Errorf("fetch item %d: %w", id, err)
	}

	s.mu.Lock()
	s.upsertLocked(rec)
	s.mu.Unlock()
	return rec, true, nil
}

// UpdateItem patches a loaded row locally and returns the new record.
func (s *Store) UpdateItem(id int64, values map[string]columns.Value) (columns.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return columns.Record{}, false
	}
	s.list[i] = s.list[i].With(values)
	return s.list[i], true
}
