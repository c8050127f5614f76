package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/remote/remotetest"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) Acquire(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

func newTestClient(t *testing.T, port string) (*Client, *remotetest.Server, *config.Holder) {
	t.Helper()
	srv := remotetest.NewServer(t)
	holder := config.NewHolder(srv.Config(port))
	c := New(holder, &staticTokens{token: remotetest.Token}, WithHTTPClient(srv.HTTPClient()))
	return c, srv, holder
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		port, path, want string
	}{
		{"443", "/restconf/data/x", "https://nsp/restconf/data/x"},
		{"", "/mdt/rest/ibn/save/a/1", "https://nsp/mdt/rest/ibn/save/a/1"},
		{"8545", "/restconf/data/x", "https://nsp:8545/restconf/data/x"},
		{"8545", "/mdt/rest/ibn/save/a/1", "https://nsp:8547/mdt/rest/ibn/save/a/1"},
		{"8545", "/logviewer/api/console/proxy", "https://nsp/logviewer/api/console/proxy"},
		{"", "/logviewer/api/console/proxy", "https://nsp/logviewer/api/console/proxy"},
		{"9443", "/restconf/data/x", "https://nsp:9443/restconf/data/x"},
		{"9443", "/logviewer/x", "https://nsp/logviewer/x"},
		{"8545", "https://nsp/internal/release", "https://nsp/internal/release"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveURL("nsp", tt.port, tt.path), "port=%q path=%q", tt.port, tt.path)
	}
}

func TestCallAttachesHeaders(t *testing.T) {
	c, srv, _ := newTestClient(t, "443")
	srv.JSON(http.MethodGet, "/restconf/data/x", http.StatusOK, map[string]any{"ok": true})
	srv.JSON(http.MethodGet, "/mdt/status", http.StatusOK, map[string]any{"ok": true})

	resp, err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/restconf/data/x"})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	_, err = c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/mdt/status"})
	require.NoError(t, err)

	calls := srv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "application/yang-data+json", calls[0].Header.Get("Content-Type"))
	assert.Equal(t, "application/yang-data+json", calls[0].Header.Get("Accept"))
	assert.Equal(t, "Bearer "+remotetest.Token, calls[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", calls[1].Header.Get("Content-Type"))
}

func TestCallExplicitHeadersSkipToken(t *testing.T) {
	srv := remotetest.NewServer(t)
	tokens := &staticTokens{token: "unused"}
	c := New(config.NewHolder(srv.Config("")), tokens, WithHTTPClient(srv.HTTPClient()))
	srv.JSON(http.MethodPost, "/logviewer/api/console/proxy", http.StatusOK, map[string]any{})

	h := http.Header{}
	h.Set("X-Custom", "1")
	_, err := c.Call(context.Background(), Request{Method: http.MethodPost, Path: "/logviewer/api/console/proxy", Headers: h})
	require.NoError(t, err)

	assert.Zero(t, tokens.calls)
	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "1", calls[0].Header.Get("X-Custom"))
	assert.Empty(t, calls[0].Header.Get("Authorization"))
}

func TestCallPortRouting(t *testing.T) {
	c, srv, _ := newTestClient(t, "8545")
	srv.JSON(http.MethodGet, "/restconf/data/x", http.StatusOK, nil)
	srv.JSON(http.MethodPost, "/mdt/rest/ibn/save/a/1", http.StatusOK, nil)

	_, err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/restconf/data/x"})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), Request{Method: http.MethodPost, Path: "/mdt/rest/ibn/save/a/1"})
	require.NoError(t, err)

	calls := srv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "nsp.test:8545", calls[0].Host)
	assert.Equal(t, "nsp.test:8547", calls[1].Host)
}

func TestCallTimeoutIsDistinct(t *testing.T) {
	c, srv, holder := newTestClient(t, "")
	cfg := holder.Get()
	cfg.Timeout = 50 * time.Millisecond
	holder.Swap(cfg)

	srv.Handle(http.MethodGet, "/restconf/data/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/restconf/data/slow"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.Timeout))
	assert.True(t, errors.Is(err, faults.Connectivity))
}

func TestCallUnavailable(t *testing.T) {
	srv := remotetest.NewServer(t)
	client := srv.HTTPClient()
	c := New(config.NewHolder(srv.Config("")), &staticTokens{token: "t"}, WithHTTPClient(client))
	client.Transport.(*http.Transport).DialContext = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	_, err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/restconf/data/x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.Connectivity))
	assert.False(t, errors.Is(err, faults.Timeout))
}

func TestCallTokenFailure(t *testing.T) {
	srv := remotetest.NewServer(t)
	authErr := faults.New(faults.Authentication, "acquire token", "nsp", "denied")
	c := New(config.NewHolder(srv.Config("")), &staticTokens{err: authErr}, WithHTTPClient(srv.HTTPClient()))

	_, err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/restconf/data/x"})
	assert.True(t, errors.Is(err, faults.Authentication))
	assert.Empty(t, srv.Calls(), "no API call without a token")
}

func TestRejectionMessage(t *testing.T) {
	body, _ := json.Marshal(remotetest.RestconfError("Intent-type is in use"))
	assert.Equal(t, "Intent-type is in use", RejectionMessage(body))

	nested := `{"ibn:errors": {"response": {"error": [{"error-message": "nested"}]}}}`
	assert.Equal(t, "nested", RejectionMessage([]byte(nested)))

	assert.Equal(t, "plain", RejectionMessage([]byte(`{"message": "plain"}`)))
	assert.Equal(t, "Bad Gateway", RejectionMessage([]byte("Bad Gateway")))
	assert.Equal(t, "empty response", RejectionMessage(nil))
}

func TestRejectedHelperError(t *testing.T) {
	c, srv, _ := newTestClient(t, "")
	srv.JSON(http.MethodDelete, "/restconf/data/ibn-administration:ibn-administration/intent-type-catalog/intent-type=a1,1",
		http.StatusConflict, remotetest.RestconfError("has instances"))

	err := c.DeleteIntentType(context.Background(), "a1", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.Rejected))
	assert.Equal(t, http.StatusConflict, faults.Status(err))
	assert.Contains(t, err.Error(), "has instances")
}

func TestSearchIntentTypes(t *testing.T) {
	c, srv, _ := newTestClient(t, "")
	srv.JSON(http.MethodPost, "/restconf/operations/ibn-administration:search-intent-types", http.StatusOK, map[string]any{
		"ibn-administration:output": map[string]any{
			"total-count": 1200,
			"intent-type": []any{
				map[string]any{"name": "a", "version": 1, "label": []string{"ArtifactAdmin"}},
				map[string]any{"name": "b", "version": "2"},
			},
		},
	})

	page, err := c.SearchIntentTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Truncated())
	assert.Equal(t, "a_v1", page.Items[0].Key())
	assert.True(t, page.Items[0].Signed())
	assert.Equal(t, "b_v2", page.Items[1].Key())

	req := srv.Calls()[0].JSON(t)
	input := req["ibn-administration:input"].(map[string]any)
	assert.EqualValues(t, PageSize, input["page-size"])
}

func TestSetDesiredStateBodies(t *testing.T) {
	c, srv, _ := newTestClient(t, "")
	path := "/restconf/data/ibn:ibn/intent=1%2F1%2Fc1,port"
	srv.JSON(http.MethodPatch, path, http.StatusNoContent, nil)

	require.NoError(t, c.SetDesiredState(context.Background(), "port", "1/1/c1", api.Suspend))
	require.NoError(t, c.SetDesiredState(context.Background(), "port", "1/1/c1", api.Planned))

	calls := srv.CallsTo(http.MethodPatch, path)
	require.Len(t, calls, 2)
	assert.JSONEq(t, `{"ibn:intent":{"required-network-state":"suspend"}}`, string(calls[0].Body))
	assert.JSONEq(t, `{"ibn:intent":{"required-network-state":"custom","custom-required-network-state":"planned"}}`, string(calls[1].Body))
}

func TestViewsDecoding(t *testing.T) {
	c, srv, _ := newTestClient(t, "")
	srv.JSON(http.MethodGet, "/restconf/data/nsp-intent-type-config-store:intent-type-config/intent-type-configs=a,1", http.StatusOK,
		map[string]any{"nsp-intent-type-config-store:intent-type-configs": []any{map[string]any{
			"views": []any{
				map[string]any{"name": "default", "viewconfig": `{"b":1,"a":2}`, "schemaform": `{"type":"object"}`},
			},
		}}})

	views, err := c.Views(context.Background(), "a", 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "default", views[0].Name)
	assert.JSONEq(t, `{"a":2,"b":1}`, string(views[0].Config))
	assert.JSONEq(t, `{"type":"object"}`, string(views[0].SchemaForm))
}

func TestAuditAndLastReport(t *testing.T) {
	c, srv, _ := newTestClient(t, "")
	base := "/restconf/data/ibn:ibn/intent=pe1,icmp"
	srv.JSON(http.MethodPost, base+"/audit", http.StatusOK, map[string]any{
		"ibn:output": map[string]any{"audit-report": map[string]any{"misaligned-attribute": []any{}}},
	})
	srv.JSON(http.MethodGet, base, http.StatusOK, map[string]any{"ibn:intent": map[string]any{}})

	report, err := c.Audit(context.Background(), "icmp", "pe1")
	require.NoError(t, err)
	assert.True(t, report.Misaligned())

	_, err = c.LastAuditReport(context.Background(), "icmp", "pe1")
	assert.True(t, errors.Is(err, faults.NotFound))
}

func TestSearchLogs(t *testing.T) {
	c, srv, _ := newTestClient(t, "8545")
	log1, _ := json.Marshal(map[string]any{"date": 1000, "level": "INFO", "target": "pe1", "intent_type": "icmp", "intent_type_version": "1", "message": "[x] hi"})
	srv.JSON(http.MethodPost, "/logviewer/api/console/proxy", http.StatusOK, map[string]any{
		"hits": map[string]any{"hits": []any{map[string]any{"_source": map[string]any{"log": string(log1)}}}},
	})

	entries, err := c.SearchLogs(context.Background(), []LogScope{{IntentType: "icmp", Version: 1, Target: "pe1"}}, api.Release{Major: 24, Minor: 4})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Message)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nsp.test", calls[0].Host, "log queries use the default port")
	assert.Equal(t, "2.10.0", calls[0].Header.Get("Osd-Version"))
	assert.Contains(t, calls[0].Query, "nsp-mdt-logs-")
	assert.Contains(t, string(calls[0].Body), `\"target\":\"pe1\"`)
}
