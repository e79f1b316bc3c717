package views

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// URLState returns the query parameters describing the active view and the
// open task.
func (s *Store) URLState() url.Values {
	state := url.Values{}
	v := s.Selected()
	if v == nil {
		return state
	}
	if v.Virtual() {
		state.Set(ParamKey, v.Key())
	} else {
		state.Set(ParamTab, strconv.FormatInt(v.ID(), 10))
	}
	if id, ok := s.Data(v.Target()).SelectedID(); ok {
		state.Set(ParamTask, strconv.FormatInt(id, 10))
	}
	return state
}

// recordHistory mirrors the selection into the history, as a new entry or
// in place.
func (s *Store) recordHistory(push bool) {
	state := s.URLState()
	if push {
		s.history.Push(state)
	} else {
		s.history.Replace(state)
	}
}

// pushHistory records a new entry when v is the active view.
func (s *Store) pushHistory(v *View) {
	if s.Selected() != v {
		return
	}
	s.recordHistory(true)
}

// ApplyURL selects the view described by state: a virtual key first, then a
// persisted tab id, falling back to the first view. A task parameter opens
// that task.
func (s *Store) ApplyURL(ctx context.Context, state url.Values) error {
	var target *View
	switch {
	case state.Get(ParamKey) != "":
		target = s.GetViewByKey(state.Get(ParamKey))
	case state.Get(ParamTab) != "":
		id, err := strconv.ParseInt(state.Get(ParamTab), 10, 64)
		if err == nil {
			target = s.ViewByID(id)
		}
	}
	if target == nil {
		s.logger.Debug("url names no known view, using first", "state", state.Encode())
	}

	if err := s.SetSelected(ctx, target, SelectOptions{CreateDefault: true}); err != nil {
		return err
	}

	data := s.Data(s.Selected().Target())
	if raw := state.Get(ParamTask); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("task param %q: %w", raw, err)
		}
		data.SetSelected(id)
	} else if _, open := data.SelectedID(); open {
		data.SetSelected(0)
	}
	s.recordHistory(false)
	return nil
}

// OpenTask opens a task of the active view and records it in the history.
func (s *Store) OpenTask(id int64) {
	v := s.Selected()
	if v == nil {
		return
	}
	s.Data(v.Target()).SetSelected(id)
	s.recordHistory(true)
}

// CloseTask closes the open task.
func (s *Store) CloseTask() {
	v := s.Selected()
	if v == nil {
		return
	}
	s.Data(v.Target()).SetSelected(0)
	s.recordHistory(true)
}
