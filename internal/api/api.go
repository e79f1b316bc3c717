// Package api defines the call contract between the data manager engine and
// the Data Manager server, plus the client that layers request cancellation
// and error bookkeeping on top of a Transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Method names known to the engine.
const (
	MethodProject      = "project"
	MethodColumns      = "columns"
	MethodTabs         = "tabs"
	MethodTab          = "tab"
	MethodCreateTab    = "createTab"
	MethodUpdateTab    = "updateTab"
	MethodDeleteTab    = "deleteTab"
	MethodOrderTabs    = "orderTab"
	MethodTasks        = "tasks"
	MethodAnnotations  = "annotations"
	MethodTask         = "task"
	MethodNextTask     = "nextTask"
	MethodActions      = "actions"
	MethodInvokeAction = "invokeAction"
)

// ErrUnknownMethod is returned by transports for methods they cannot route.
var ErrUnknownMethod = errors.New("unknown api method")

// Params are the named parameters of a call. Path placeholders are filled
// from them; the rest travel as query parameters.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Response is the outcome of a call.
type Response struct {
	Data     json.RawMessage
	Status   int
	Canceled bool
}

// OK reports whether the call succeeded with a 2xx status.
func (r *Response) OK() bool {
	return r != nil && !r.Canceled && r.Status >= 200 && r.Status < 300
}

// NotFound reports a 404, which callers treat as absence rather than failure.
func (r *Response) NotFound() bool {
	return r != nil && r.Status == http.StatusNotFound
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx, non-404 response.
type StatusError struct {
	Method string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Method, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: status %d", e.Method, e.Status)
}

// CallOptions tune one call.
type CallOptions struct {
	// AllowToCancel aborts a previous in-flight call with the same method and
	// params before issuing this one.
	AllowToCancel bool
	// ErrorHandler sees failed responses first. Returning true marks the
	// failure as handled and keeps it out of the error log.
	ErrorHandler func(*Response, error) bool
}

// Transport performs a single call against the server.
type Transport interface {
	Do(ctx context.Context, method string, params Params, body any) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, method string, params Params, body any) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, method string, params Params, body any) (*Response, error) {
	return f(ctx, method, params, body)
}

// Caller is what engine components depend on.
type Caller interface {
	Call(ctx context.Context, method string, params Params, body any, opts CallOptions) (*Response, error)
}
