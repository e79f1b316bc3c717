package views

import (
	"net/url"
	"slices"
	"sync"
)

// URL query parameters that carry view state.
const (
	ParamTab  = "tab"
	ParamKey  = "key"
	ParamTask = "task"
)

// History is the navigation stack the store mirrors its selection into.
type History interface {
	Push(state url.Values)
	Replace(state url.Values)
	Current() url.Values
	// OnPop registers fn to run when navigation moves to another entry.
	OnPop(fn func(url.Values))
}

// MemoryHistory is an in-process History with back and forward.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []url.Values
	index   int
	pop     []func(url.Values)
}

// NewMemoryHistory starts with one entry holding initial.
func NewMemoryHistory(initial url.Values) *MemoryHistory {
	return &MemoryHistory{entries: []url.Values{cloneValues(initial)}}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Push adds an entry after the current one and drops the forward entries.
// Pushing the current state again is ignored.
func (h *MemoryHistory) Push(state url.Values) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries[h.index].Encode() == state.Encode() {
		return
	}
	h.entries = append(h.entries[:h.index+1], cloneValues(state))
	h.index++
}

// Replace overwrites the current entry.
func (h *MemoryHistory) Replace(state url.Values) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = cloneValues(state)
}

// Current returns the current entry.
func (h *MemoryHistory) Current() url.Values {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneValues(h.entries[h.index])
}

// Len returns the number of entries.
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// OnPop implements History.
func (h *MemoryHistory) OnPop(fn func(url.Values)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pop = append(h.pop, fn)
}

// Back moves one entry back and reports whether it moved.
func (h *MemoryHistory) Back() bool { return h.move(-1) }

// Forward moves one entry forward and reports whether it moved.
func (h *MemoryHistory) Forward() bool { return h.move(1) }

func (h *MemoryHistory) move(delta int) bool {
	h.mu.Lock()
	next := h.index + delta
	if next < 0 || next >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	h.index = next
	state := cloneValues(h.entries[next])
	pop := slices.Clone(h.pop)
	h.mu.Unlock()

	for _, fn := range pop {
		fn(state)
	}
	return true
}
