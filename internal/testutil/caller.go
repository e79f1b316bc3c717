package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/leapstack-labs/datamanager/internal/api"
)

// Call is one recorded invocation of a FakeCaller.
type Call struct {
	Method string
	Params api.Params
	Body   any
}

// HandlerFunc answers calls of one method.
type HandlerFunc func(Call) (*api.Response, error)

// FakeCaller is a scripted api.Caller. Methods without a handler answer 404.
type FakeCaller struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	deferred map[string][]*Pending
	calls    []Call
}

// NewFakeCaller creates a caller with no handlers.
func NewFakeCaller() *FakeCaller {
	return &FakeCaller{
		handlers: make(map[string]HandlerFunc),
		deferred: make(map[string][]*Pending),
	}
}

// JSON builds a response with v encoded as the body.
func JSON(status int, v any) *api.Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil.JSON: %v", err))
	}
	return &api.Response{Status: status, Data: data}
}

// Handle installs fn for method.
func (f *FakeCaller) Handle(method string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

// Reply answers every call of method with status and the JSON of body.
func (f *FakeCaller) Reply(method string, status int, body any) {
	resp := JSON(status, body)
	f.Handle(method, func(Call) (*api.Response, error) {
		return &api.Response{Status: resp.Status, Data: resp.Data}, nil
	})
}

// Defer makes the next call of method block until the returned Pending is
// answered. Deferred calls are consumed in order.
func (f *FakeCaller) Defer(method string) *Pending {
	p := &Pending{arrived: make(chan struct{}), reply: make(chan reply, 1)}
	f.mu.Lock()
	f.deferred[method] = append(f.deferred[method], p)
	f.mu.Unlock()
	return p
}

// Calls returns the recorded calls of method, or all calls for "".
func (f *FakeCaller) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Call implements api.Caller.
func (f *FakeCaller) Call(ctx context.Context, method string, params api.Params, body any, _ api.CallOptions) (*api.Response, error) {
	call := Call{Method: method, Params: params.Clone(), Body: body}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var p *Pending
	if q := f.deferred[method]; len(q) > 0 {
		p, f.deferred[method] = q[0], q[1:]
	}
	fn := f.handlers[method]
	f.mu.Unlock()

	if p != nil {
		p.call = call
		close(p.arrived)
		select {
		case r := <-p.reply:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn == nil {
		return &api.Response{Status: http.StatusNotFound}, nil
	}
	return fn(call)
}

// Pending is a deferred call waiting for its answer.
type Pending struct {
	arrived chan struct{}
	reply   chan reply
	call    Call
}

type reply struct {
	resp *api.Response
	err  error
}

// Wait blocks until the deferred call has been issued and returns it.
func (p *Pending) Wait() Call {
	<-p.arrived
	return p.call
}

// Respond answers the call with status and the JSON of body.
func (p *Pending) Respond(status int, body any) {
	p.reply <- reply{resp: JSON(status, body)}
}

// Fail answers the call with err.
func (p *Pending) Fail(err error) {
	p.reply <- reply{err: err}
}
