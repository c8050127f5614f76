// Package remote issues calls against the intent manager HTTP API.
//
// Call is the low-level primitive: it resolves the endpoint address, attaches
// the session token and content headers, enforces the per-call deadline and
// logs the exchange. It returns an error only when no response was obtained;
// a response with a non-2xx status is a rejection the caller inspects.
// The typed helpers in nsp.go turn rejections into faults.Rejected errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
)

// logLimit bounds request and response bodies in log records.
const logLimit = 1000

// TokenSource yields the bearer token for a call.
type TokenSource interface {
	Acquire(ctx context.Context) (string, error)
}

// Request describes one call. Path is relative to the server
// ("/restconf/...") or an absolute https URL.
type Request struct {
	Method string
	Path   string
	Body   any // nil, []byte, string, or a value marshalled as JSON
	// Headers, when set, replace the default token and content headers.
	Headers http.Header
}

// Response is a completed exchange.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status <= 299 }

// Client calls the remote API.
type Client struct {
	cfg    *config.Holder
	tokens TokenSource
	http   *http.Client
	log    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// New returns a Client reading address, port and timeout from cfg on every call.
func New(cfg *config.Holder, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   http.DefaultClient,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("component", "remote").Logger()
	return c
}

// Config returns the snapshot in effect.
func (c *Client) Config() config.Config { return c.cfg.Get() }

// Call performs req. The error is non-nil only when there is no response:
// Timeout when the per-call deadline expired, Connectivity otherwise, or
// Authentication when no token could be obtained.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	cfg := c.cfg.Get()
	target := ResolveURL(cfg.Address, cfg.Port, req.Path)

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, faults.Wrap(faults.Invalid, req.Method, req.Path, err)
	}

	headers := req.Headers
	if headers == nil {
		tok, err := c.tokens.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		headers = DefaultHeaders(req.Path, tok)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	reqID := uuid.NewString()
	log := c.log.With().Str("req_id", reqID).Str("method", req.Method).Str("url", target).Logger()
	log.Debug().Str("body", truncate(body)).Msg("request")

	hreq, err := http.NewRequestWithContext(callCtx, req.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(faults.Invalid, req.Method, req.Path, err)
	}
	hreq.Header = headers.Clone()

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err == nil {
		var data []byte
		data, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err == nil {
			out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}
			ev := log.Debug()
			if resp.StatusCode >= 400 {
				ev = log.Warn()
			}
			ev.Int("status", resp.StatusCode).
				Dur("duration", time.Since(start)).
				Str("response", truncate(data)).
				Msg("response")
			return out, nil
		}
	}

	fail := classify(ctx, callCtx, req, cfg.Timeout, err)
	log.Error().Err(fail).Dur("duration", time.Since(start)).Msg("no response")
	return nil, fail
}

// classify separates an expired per-call deadline from caller cancellation
// and from plain network failures.
func classify(parent, call context.Context, req Request, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return faults.Wrap(faults.Connectivity, req.Method, req.Path, parent.Err())
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return &faults.Error{
			Kind: faults.Timeout,
			Op:   req.Method,
			Path: req.Path,
			Msg:  fmt.Sprintf("no response within %s", timeout),
		}
	default:
		return faults.Wrap(faults.Connectivity, req.Method, req.Path, err)
	}
}

// DefaultHeaders returns the token and content headers for path.
func DefaultHeaders(path, token string) http.Header {
	ct := "application/json"
	if strings.HasPrefix(path, "/restconf") {
		ct = "application/yang-data+json"
	}
	h := http.Header{}
	h.Set("Content-Type", ct)
	h.Set("Accept", ct)
	h.Set("Cache-Control", "no-cache")
	h.Set("Authorization", "Bearer "+token)
	return h
}

func encodeBody(b any) ([]byte, error) {
	switch v := b.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func truncate(b []byte) string {
	if len(b) <= logLimit {
		return string(b)
	}
	return string(b[:logLimit]) + "..."
}
