// Package remotetest provides an in-process fake of the intent manager API
// for tests. Every address and port a client resolves is dialled to the one
// TLS listener, so port resolution stays observable through Request.Host.
package remotetest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentic-research/intentfs/internal/config"
)

// Token is the access token the fake issues.
const Token = "test-token"

// Call records one request the fake served.
type Call struct {
	Method string
	Host   string
	Path   string // escaped path, without query
	Query  string
	Header http.Header
	Body   []byte
}

// JSON decodes the request body.
func (c Call) JSON(t testing.TB) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(c.Body, &m); err != nil {
		t.Fatalf("request body of %s %s is not JSON: %v", c.Method, c.Path, err)
	}
	return m
}

// Server is a fake intent manager.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	fallback http.HandlerFunc
	calls    []Call

	TokenRequests atomic.Int32
	Revocations   atomic.Int32
	// TokenStatus, when non-zero, is returned by the token endpoint.
	TokenStatus atomic.Int32
	// TokenDelay delays token responses.
	TokenDelay atomic.Int64
}

// NewServer starts a fake and registers its shutdown with t.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{routes: map[string]http.HandlerFunc{}}
	s.srv = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

// Address is the server address clients should be configured with.
func (s *Server) Address() string { return "nsp.test" }

// Config returns a snapshot pointing at the fake with the given port.
func (s *Server) Config(port string) config.Config {
	cfg := config.Default()
	cfg.Address = s.Address()
	cfg.Port = port
	cfg.Timeout = 5 * time.Second
	return cfg
}

// HTTPClient dials every address to the fake and skips certificate checks.
func (s *Server) HTTPClient() *http.Client {
	addr := s.srv.Listener.Addr().String()
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // test server
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	return &http.Client{Transport: tr}
}

// Handle registers h for "METHOD /escaped/path" (query excluded).
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = h
}

// Fallback registers h for requests no route matches.
func (s *Server) Fallback(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = h
}

// JSON registers a handler replying with status and the JSON encoding of body.
func (s *Server) JSON(method, path string, status int, body any) {
	s.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		Reply(w, status, body)
	})
}

// Reply writes a JSON response.
func Reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch b := body.(type) {
	case nil:
	case string:
		_, _ = io.WriteString(w, b)
	default:
		_ = json.NewEncoder(w).Encode(b)
	}
}

// RestconfError is a RESTCONF error body carrying msg.
func RestconfError(msg string) map[string]any {
	return map[string]any{"ietf-restconf:errors": map[string]any{
		"error": []any{map[string]any{"error-type": "application", "error-message": msg}},
	}}
}

// Calls returns the recorded requests, excluding authentication traffic.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded requests matching method and path.
func (s *Server) CallsTo(method, path string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()
	switch path {
	case "/rest-gateway/rest/api/v1/auth/token":
		s.TokenRequests.Add(1)
		if d := s.TokenDelay.Load(); d > 0 {
			time.Sleep(time.Duration(d))
		}
		if st := s.TokenStatus.Load(); st != 0 {
			Reply(w, int(st), map[string]any{"error": "invalid_client"})
			return
		}
		Reply(w, http.StatusOK, map[string]any{"access_token": Token, "expires_in": 600})
		return
	case "/rest-gateway/rest/api/v1/auth/revocation":
		s.Revocations.Add(1)
		w.WriteHeader(http.StatusOK)
		return
	}

	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.calls = append(s.calls, Call{
		Method: r.Method,
		Host:   r.Host,
		Path:   path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	h := s.routes[r.Method+" "+path]
	if h == nil {
		h = s.fallback
	}
	s.mu.Unlock()

	if h == nil {
		Reply(w, http.StatusNotFound, RestconfError("no route for "+r.Method+" "+path))
		return
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	h(w, r)
}
