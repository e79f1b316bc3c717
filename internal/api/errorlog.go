package api

import (
	"errors"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/leapstack-labs/datamanager/internal/notifier"
)

// ErrorLog keeps the latest failure per API method for display as
// dismissible banners.
type ErrorLog struct {
	mu     sync.RWMutex
	errs   map[string]error
	notif  *notifier.Notifier
	logger *slog.Logger
}

// NewErrorLog creates an empty log. n may be nil.
func NewErrorLog(n *notifier.Notifier, logger *slog.Logger) *ErrorLog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ErrorLog{errs: make(map[string]error), notif: n, logger: logger}
}

// Record stores err for method, replacing an earlier one.
func (l *ErrorLog) Record(method string, err error) {
	l.mu.Lock()
	l.errs[method] = err
	l.mu.Unlock()

	attrs := []any{"method", method, "error", err}
	var se *StatusError
	if errors.As(err, &se) {
		attrs = append(attrs, "status", se.Status)
	}
	l.logger.Warn("api call failed", attrs...)

	if l.notif != nil {
		l.notif.Publish(notifier.ErrorRecorded, method)
	}
}

// Dismiss removes the error recorded for method.
func (l *ErrorLog) Dismiss(method string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.errs, method)
}

// Get returns the error recorded for method.
func (l *ErrorLog) Get(method string) (error, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	err, ok := l.errs[method]
	return err, ok
}

// All returns a snapshot of every recorded error.
func (l *ErrorLog) All() map[string]error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.errs)
}

// Methods returns the methods with a recorded error, sorted.
func (l *ErrorLog) Methods() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.errs))
	for m := range l.errs {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recorded errors.
func (l *ErrorLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.errs)
}
