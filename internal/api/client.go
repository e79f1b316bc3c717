package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
)

// Client implements Caller on top of a Transport. It cancels superseded
// duplicate requests and records failures in an ErrorLog.
type Client struct {
	transport Transport
	errors    *ErrorLog
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*pending
}

type pending struct {
	cancel context.CancelCauseFunc
}

// errSuperseded is the cancellation cause of a request replaced by a newer
// one with the same cache key.
var errSuperseded = errors.New("superseded by a newer request")

// NewClient creates a client. A nil error log gets a private one.
func NewClient(t Transport, log *ErrorLog, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if log == nil {
		log = NewErrorLog(nil, logger)
	}
	return &Client{
		transport: t,
		errors:    log,
		logger:    logger,
		inflight:  make(map[string]*pending),
	}
}

// Errors returns the client's error log.
func (c *Client) Errors() *ErrorLog { return c.errors }

// CacheKey identifies duplicate requests: same method, same params.
func CacheKey(method string, params Params) string {
	// encoding/json sorts map keys, so equal params encode equally.
	b, err := json.Marshal(params)
	if err != nil {
		return method
	}
	return method + string(b)
}

// Call performs method. A call superseded by a duplicate returns a Response
// with Canceled set and no error. A 404 is returned as a response without error. Any other
// failure is recorded in the error log, unless the ErrorHandler claims it,
// and returned.
func (c *Client) Call(ctx context.Context, method string, params Params, body any, opts CallOptions) (*Response, error) {
	if opts.AllowToCancel {
		var done func()
		ctx, done = c.track(ctx, CacheKey(method, params))
		defer done()
	}

	resp, err := c.transport.Do(ctx, method, params, body)
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), errSuperseded) {
			c.logger.Debug("api call superseded", "method", method)
			return &Response{Canceled: true}, nil
		}
		// The caller gave up; nothing to show in the error log.
		return nil, ctx.Err()
	}
	if err == nil && resp != nil {
		if resp.Status == http.StatusNotFound || (resp.Status >= 200 && resp.Status < 300) {
			return resp, nil
		}
		err = &StatusError{Method: method, Status: resp.Status, Detail: detail(resp.Data)}
	}
	if err == nil {
		err = &StatusError{Method: method}
	}

	if opts.ErrorHandler != nil && opts.ErrorHandler(resp, err) {
		return resp, err
	}
	c.errors.Record(method, err)
	return resp, err
}

// track cancels a previous request under key and registers the new one.
func (c *Client) track(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	p := &pending{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.inflight[key]; ok {
		prev.cancel(errSuperseded)
	}
	c.inflight[key] = p
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if c.inflight[key] == p {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel(nil)
	}
}

// detail pulls a human-readable message out of an error body.
func detail(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	switch {
	case body.Detail != "":
		return body.Detail
	case body.Message != "":
		return body.Message
	default:
		return body.Error
	}
}
