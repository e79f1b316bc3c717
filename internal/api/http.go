package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Endpoint routes one method to an HTTP verb and path. Path placeholders are
// written as {name}.
type Endpoint struct {
	Verb string
	Path string
}

// Endpoints is the route table of the Data Manager API.
var Endpoints = map[string]Endpoint{
	MethodProject:      {http.MethodGet, "/api/projects/{project}"},
	MethodColumns:      {http.MethodGet, "/api/dm/columns"},
	MethodTabs:         {http.MethodGet, "/api/dm/views"},
	MethodTab:          {http.MethodGet, "/api/dm/views/{id}"},
	MethodCreateTab:    {http.MethodPost, "/api/dm/views"},
	MethodUpdateTab:    {http.MethodPatch, "/api/dm/views/{id}"},
	MethodDeleteTab:    {http.MethodDelete, "/api/dm/views/{id}"},
	MethodOrderTabs:    {http.MethodPost, "/api/dm/views/order"},
	MethodTasks:        {http.MethodGet, "/api/dm/tasks"},
	MethodAnnotations:  {http.MethodGet, "/api/dm/annotations"},
	MethodTask:         {http.MethodGet, "/api/dm/tasks/{taskID}"},
	MethodNextTask:     {http.MethodGet, "/api/projects/{project}/next"},
	MethodActions:      {http.MethodGet, "/api/dm/actions"},
	MethodInvokeAction: {http.MethodPost, "/api/dm/actions"},
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	BaseURL string
	Token   string
	// Project is added to every call that does not carry its own.
	Project string
	Client  *http.Client
	// Retries bounds retries of idempotent calls on gateway errors.
	Retries uint64
	Logger  *slog.Logger
}

// HTTPTransport speaks the Data Manager REST API.
type HTTPTransport struct {
	base    *url.URL
	token   string
	project string
	client  *http.Client
	retries uint64
	logger  *slog.Logger
}

// NewHTTPTransport validates the base URL and returns a transport.
func NewHTTPTransport(opts HTTPOptions) (*HTTPTransport, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", opts.BaseURL)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPTransport{
		base:    base,
		token:   opts.Token,
		project: opts.Project,
		client:  client,
		retries: opts.Retries,
		logger:  logger,
	}, nil
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, method string, params Params, body any) (*Response, error) {
	ep, ok := Endpoints[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	params = params.Clone()
	if _, ok := params["project"]; !ok && t.project != "" {
		params["project"] = t.project
	}
	target, err := t.resolve(ep.Path, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", method, err)
		}
	}

	var resp *Response
	attempt := func(ctx context.Context) error {
		r, err := t.send(ctx, ep.Verb, target, payload)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		resp = r
		switch r.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return retry.RetryableError(fmt.Errorf("status %d", r.Status))
		}
		return nil
	}

	retries := t.retries
	if ep.Verb != http.MethodGet {
		retries = 0
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(100*time.Millisecond))
	if err := retry.Do(ctx, backoff, attempt); err != nil && resp == nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	t.logger.Debug("api call", "method", method, "verb", ep.Verb, "url", target, "status", resp.Status)
	return resp, nil
}

func (t *HTTPTransport) send(ctx context.Context, verb, target string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, verb, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Token "+t.token)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{Data: data, Status: res.StatusCode}, nil
}

// resolve fills path placeholders from params and encodes the remaining
// params as the query string.
func (t *HTTPTransport) resolve(path string, params Params) (string, error) {
	query := url.Values{}
	used := make(map[string]bool)

	var b strings.Builder
	for {
		open := strings.IndexByte(path, '{')
		if open < 0 {
			b.WriteString(path)
			break
		}
		end := strings.IndexByte(path[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", path)
		}
		name := path[open+1 : open+end]
		v, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing path param %q", name)
		}
		b.WriteString(path[:open])
		b.WriteString(url.PathEscape(fmt.Sprint(v)))
		used[name] = true
		path = path[open+end+1:]
	}

	for k, v := range params {
		if used[k] || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			query.Set(k, val)
		case fmt.Stringer:
			query.Set(k, val.String())
		case int, int64, float64, bool:
			query.Set(k, fmt.Sprint(val))
		default:
			enc, err := json.Marshal(val)
			if err != nil {
				return "", fmt.Errorf("encode param %q: %w", k, err)
			}
			query.Set(k, string(enc))
		}
	}

	u := *t.base
	u.Path = t.base.Path + b.String()
	u.RawQuery = query.Encode()
	return u.String(), nil
}
