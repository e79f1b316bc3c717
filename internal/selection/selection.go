// Package selection tracks row selection across a remote-backed list.
//
// A Tracker stores either the included IDs (All unset) or the excluded IDs
// (All set), so "select everything except these" stays cheap for lists that
// are never fully loaded.
package selection

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/leapstack-labs/datamanager/internal/notifier"
)

// State is the serializable selection.
type State struct {
	All  bool    `json:"all" yaml:"all"`
	List []int64 `json:"list" yaml:"list"`
}

// Tracker owns one view's selection and announces every mutation.
type Tracker struct {
	mu    sync.RWMutex
	all   bool
	list  []int64
	notif *notifier.Notifier
}

// New creates an empty tracker. A nil notifier disables notifications.
func New(n *notifier.Notifier) *Tracker {
	return &Tracker{notif: n}
}

// FromState restores a tracker from a saved state.
func FromState(s State, n *notifier.Notifier) *Tracker {
	return &Tracker{all: s.All, list: slices.Clone(s.List), notif: n}
}

// IsSelected reports whether id is selected.
func (t *Tracker) IsSelected(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.all != slices.Contains(t.list, id)
}

// All reports whether the tracker is in select-all mode.
func (t *Tracker) All() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.all
}

// List returns the included or excluded IDs, depending on All.
func (t *Tracker) List() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.list)
}

// State returns a copy of the current selection.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return State{All: t.all, List: slices.Clone(t.list)}
}

// Empty reports whether nothing is selected. In select-all mode the answer
// depends on the remote total, see Count.
func (t *Tracker) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.all && len(t.list) == 0
}

// Count returns the number of selected rows given the remote total.
func (t *Tracker) Count(total int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.all {
		return max(total-len(t.list), 0)
	}
	return len(t.list)
}

// ToggleItem adds id to the list or removes it.
func (t *Tracker) ToggleItem(id int64) {
	t.mu.Lock()
	if i := slices.Index(t.list, id); i >= 0 {
		t.list = slices.Delete(t.list, i, i+1)
	} else {
		t.list = append(t.list, id)
	}
	t.mu.Unlock()
	t.changed()
}

// ToggleSelectedAll flips select-all mode. The list is always cleared, so a
// partial exclusion or inclusion set never carries over.
func (t *Tracker) ToggleSelectedAll() {
	t.mu.Lock()
	t.all = !t.all
	t.list = nil
	t.mu.Unlock()
	t.changed()
}

// Clear deselects everything.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.all = false
	t.list = nil
	t.mu.Unlock()
	t.changed()
}

// Notify re-announces the current selection, e.g. after a view switch.
func (t *Tracker) Notify() { t.changed() }

func (t *Tracker) changed() {
	if t.notif != nil {
		t.notif.Publish(notifier.TaskSelectionChanged, t.State())
	}
}

// Payload is the selection as sent with action requests.
type Payload struct {
	All      bool    `json:"all"`
	Included []int64 `json:"included,omitempty"`
	Excluded []int64 `json:"excluded,omitempty"`
}

// Payload returns the action-request form of the selection.
func (t *Tracker) Payload() Payload {
	return t.State().Payload()
}

// Payload returns the action-request form of s.
func (s State) Payload() Payload {
	list := s.List
	if list == nil {
		list = []int64{}
	}
	if s.All {
		return Payload{All: true, Excluded: list}
	}
	return Payload{Included: list}
}

// MarshalJSON always emits the list key, even when empty.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.All {
		return json.Marshal(struct {
			All      bool    `json:"all"`
			Excluded []int64 `json:"excluded"`
		}{true, nonNil(p.Excluded)})
	}
	return json.Marshal(struct {
		All      bool    `json:"all"`
		Included []int64 `json:"included"`
	}{false, nonNil(p.Included)})
}

// UnmarshalJSON accepts both payload shapes.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw struct {
		All      bool    `json:"all"`
		Included []int64 `json:"included"`
		Excluded []int64 `json:"excluded"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("selection payload: %w", err)
	}
	*p = Payload(raw)
	return nil
}

// State converts the payload back to a selection state.
func (p Payload) State() State {
	if p.All {
		return State{All: true, List: slices.Clone(p.Excluded)}
	}
	return State{List: slices.Clone(p.Included)}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
