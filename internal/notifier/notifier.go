// Package notifier provides the event stream that data manager components
// publish to and renderers subscribe to.
package notifier

import "sync"

// EventType names a notification on the boundary between the engine and its
// consumers.
type EventType string

// Event types emitted by the engine.
const (
	TaskSelected         EventType = "taskSelected"
	DataFetched          EventType = "dataFetched"
	TabChanged           EventType = "tabChanged"
	TaskSelectionChanged EventType = "taskSelectionChanged"
	ViewsChanged         EventType = "viewsChanged"
	ErrorRecorded        EventType = "errorRecorded"
)

// Event is a single notification. Payload is event specific.
type Event struct {
	Type    EventType
	Payload any
}

// Handler reacts to an event synchronously on the publishing goroutine.
type Handler func(Event)

// Notifier fans events out to synchronous handlers and to channel listeners.
// Handlers run before Publish returns so dependent state can react in the
// same step. Channel listeners are best effort: a full channel drops the event.
type Notifier struct {
	mu        sync.RWMutex
	nextID    int
	handlers  map[int]handlerEntry
	listeners map[chan Event]struct{}
}

type handlerEntry struct {
	types map[EventType]struct{}
	fn    Handler
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		handlers:  make(map[int]handlerEntry),
		listeners: make(map[chan Event]struct{}),
	}
}

// On registers fn for the given event types (all types when none are given)
// and returns a function that removes the registration.
func (n *Notifier) On(fn Handler, types ...EventType) (off func()) {
	entry := handlerEntry{fn: fn}
	if len(types) > 0 {
		entry.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			entry.types[t] = struct{}{}
		}
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = entry
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers, id)
			n.mu.Unlock()
		})
	}
}

// Subscribe returns a channel that receives every published event.
// The caller must call Unsubscribe when done to prevent goroutine leaks.
func (n *Notifier) Subscribe(buffer int) chan Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	_, ok := n.listeners[ch]
	delete(n.listeners, ch)
	n.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish delivers an event to every handler and listener.
func (n *Notifier) Publish(t EventType, payload any) {
	ev := Event{Type: t, Payload: payload}

	n.mu.RLock()
	fns := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		if h.types != nil {
			if _, ok := h.types[t]; !ok {
				continue
			}
		}
		fns = append(fns, h.fn)
	}
	for ch := range n.listeners {
		select {
		case ch <- ev:
		default:
			// Channel full, skip (listener will catch up on next event)
		}
	}
	n.mu.RUnlock()

	// Handlers run without the lock held so they may publish in turn.
	for _, fn := range fns {
		fn(ev)
	}
}
