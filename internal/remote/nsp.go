package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
)

// PageSize is the page size of both catalog and instance searches.
const PageSize = 1000

const (
	catalogPath  = "/restconf/data/ibn-administration:ibn-administration/intent-type-catalog"
	ibnPath      = "/restconf/data/ibn:ibn"
	viewsPath    = "/restconf/data/nsp-intent-type-config-store:intent-type-config/intent-type-configs="
	releasePath  = "/internal/shared-app-banner-utils/rest/api/v1/appBannerUtils/release-version"
	logQueryPath = "/logviewer/api/console/proxy?path=nsp-mdt-logs-*/_search&method=GET"
	mdtSavePath  = "/mdt/rest/ibn/save/"
)

var (
	releaseExpr = jp.MustParseString(`$.response.data.nspOSVersion`)
	viewsExpr   = jp.MustParseString(`$['nsp-intent-type-config-store:intent-type-configs'][0].views[*]`)
	logsExpr    = jp.MustParseString(`$.hits.hits[*]._source.log`)
)

// Page is one page of search results. Total is the remote's total count.
type Page[T any] struct {
	Items []T
	Total int
}

// Truncated reports whether the remote holds more items than returned.
func (p Page[T]) Truncated() bool { return p.Total > len(p.Items) }

func (c *Client) do(ctx context.Context, op string, req Request, out any) error {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.OK() {
		return Rejection(op, req.Path, resp)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &faults.Error{Kind: faults.Invalid, Op: op, Path: req.Path, Msg: "malformed response", Err: err}
	}
	return nil
}

func intentTypePath(name string, version int) string {
	return catalogPath + "/intent-type=" + name + "," + strconv.Itoa(version)
}

func intentPath(name, target string) string {
	return ibnPath + "/intent=" + api.EscapeTarget(target) + "," + name
}

// Release queries the platform release banner.
func (c *Client) Release(ctx context.Context) (api.Release, error) {
	var doc any
	if err := c.do(ctx, "get release", Request{Method: http.MethodGet, Path: "https://" + c.Config().Address + releasePath}, &doc); err != nil {
		return api.Release{}, err
	}
	s, _ := releaseExpr.First(doc).(string)
	r, err := api.ParseRelease(s)
	if err != nil {
		return api.Release{}, faults.Wrap(faults.Invalid, "get release", releasePath, err)
	}
	return r, nil
}

// SearchIntentTypes returns the first page of the intent-type catalog.
func (c *Client) SearchIntentTypes(ctx context.Context) (Page[api.IntentTypeSummary], error) {
	body := map[string]any{"ibn-administration:input": map[string]any{"page-number": 0, "page-size": PageSize}}
	var out struct {
		Output struct {
			Total       int                     `json:"total-count"`
			IntentTypes []api.IntentTypeSummary `json:"intent-type"`
		} `json:"ibn-administration:output"`
	}
	req := Request{Method: http.MethodPost, Path: "/restconf/operations/ibn-administration:search-intent-types", Body: body}
	if err := c.do(ctx, "search intent-types", req, &out); err != nil {
		return Page[api.IntentTypeSummary]{}, err
	}
	return Page[api.IntentTypeSummary]{Items: out.Output.IntentTypes, Total: out.Output.Total}, nil
}

// IntentType fetches the full catalog document.
func (c *Client) IntentType(ctx context.Context, name string, version int) (*api.IntentType, error) {
	var out struct {
		Doc *api.IntentType `json:"ibn-administration:intent-type"`
	}
	if err := c.do(ctx, "get intent-type", Request{Method: http.MethodGet, Path: intentTypePath(name, version)}, &out); err != nil {
		return nil, err
	}
	if out.Doc == nil {
		return nil, faults.New(faults.Invalid, "get intent-type", intentTypePath(name, version), "response carries no intent-type")
	}
	return out.Doc, nil
}

// PutIntentType replaces the catalog document.
func (c *Client) PutIntentType(ctx context.Context, doc *api.IntentType) error {
	body := map[string]any{"ibn-administration:intent-type": doc}
	return c.do(ctx, "update intent-type", Request{Method: http.MethodPut, Path: intentTypePath(doc.Name, doc.Version), Body: body}, nil)
}

// CreateIntentType adds a catalog document.
func (c *Client) CreateIntentType(ctx context.Context, doc *api.IntentType) error {
	body := map[string]any{"ibn-administration:intent-type": doc}
	return c.do(ctx, "create intent-type", Request{Method: http.MethodPost, Path: catalogPath, Body: body}, nil)
}

// DeleteIntentType removes a catalog document.
func (c *Client) DeleteIntentType(ctx context.Context, name string, version int) error {
	return c.do(ctx, "delete intent-type", Request{Method: http.MethodDelete, Path: intentTypePath(name, version)}, nil)
}

// DeleteModule removes one YANG module from the catalog document.
func (c *Client) DeleteModule(ctx context.Context, name string, version int, module string) error {
	p := intentTypePath(name, version) + "/module=" + module
	return c.do(ctx, "delete module", Request{Method: http.MethodDelete, Path: p}, nil)
}

// DeleteResource removes one resource from the catalog document.
func (c *Client) DeleteResource(ctx context.Context, name string, version int, resource string) error {
	p := intentTypePath(name, version) + "/resource=" + api.EscapeTarget(resource)
	return c.do(ctx, "delete resource", Request{Method: http.MethodDelete, Path: p}, nil)
}

// SearchIntents returns the first page of instances of one intent-type version.
func (c *Client) SearchIntents(ctx context.Context, name string, version int) (Page[api.Intent], error) {
	body := map[string]any{"ibn:input": map[string]any{
		"filter": map[string]any{
			"config-required": false,
			"intent-type-list": []map[string]any{{
				"intent-type":         name,
				"intent-type-version": version,
			}},
		},
		"page-number": 0,
		"page-size":   PageSize,
	}}
	var out struct {
		Output struct {
			Total   int `json:"total-count"`
			Intents struct {
				Intent []api.Intent `json:"intent"`
			} `json:"intents"`
		} `json:"ibn:output"`
	}
	req := Request{Method: http.MethodPost, Path: "/restconf/operations/ibn:search-intents", Body: body}
	if err := c.do(ctx, "search intents", req, &out); err != nil {
		return Page[api.Intent]{}, err
	}
	return Page[api.Intent]{Items: out.Output.Intents.Intent, Total: out.Output.Total}, nil
}

// PutIntent replaces the intent-specific data of an instance.
func (c *Client) PutIntent(ctx context.Context, name, target string, data json.RawMessage) error {
	body := map[string]any{"ibn:intent-specific-data": data}
	return c.do(ctx, "update intent", Request{Method: http.MethodPut, Path: intentPath(name, target) + "/intent-specific-data", Body: body}, nil)
}

// CreateIntent creates an instance with desired state active.
func (c *Client) CreateIntent(ctx context.Context, name string, version int, target string, data json.RawMessage) error {
	body := map[string]any{"ibn:intent": map[string]any{
		"ibn:intent-specific-data": data,
		"target":                   target,
		"intent-type":              name,
		"intent-type-version":      version,
		"required-network-state":   string(api.Active),
	}}
	return c.do(ctx, "create intent", Request{Method: http.MethodPost, Path: ibnPath, Body: body}, nil)
}

// DeleteIntent removes an instance.
func (c *Client) DeleteIntent(ctx context.Context, name, target string) error {
	return c.do(ctx, "delete intent", Request{Method: http.MethodDelete, Path: intentPath(name, target)}, nil)
}

// SetDesiredState changes the required network state of an instance.
func (c *Client) SetDesiredState(ctx context.Context, name, target string, state api.DesiredState) error {
	attrs := map[string]any{"required-network-state": string(state)}
	if !state.Native() {
		attrs = map[string]any{
			"required-network-state":        "custom",
			"custom-required-network-state": string(state),
		}
	}
	body := map[string]any{"ibn:intent": attrs}
	return c.do(ctx, "set state", Request{Method: http.MethodPatch, Path: intentPath(name, target), Body: body}, nil)
}

// Audit runs an audit and returns its report.
func (c *Client) Audit(ctx context.Context, name, target string) (api.AuditReport, error) {
	var out struct {
		Output struct {
			Report api.AuditReport `json:"audit-report"`
		} `json:"ibn:output"`
	}
	if err := c.do(ctx, "audit", Request{Method: http.MethodPost, Path: intentPath(name, target) + "/audit", Body: ""}, &out); err != nil {
		return nil, err
	}
	if out.Output.Report == nil {
		return api.AuditReport{}, nil
	}
	return out.Output.Report, nil
}

// Synchronize pushes the intent to the network.
func (c *Client) Synchronize(ctx context.Context, name, target string) error {
	return c.do(ctx, "synchronize", Request{Method: http.MethodPost, Path: intentPath(name, target) + "/synchronize", Body: ""}, nil)
}

// LastAuditReport fetches the report of the most recent audit.
func (c *Client) LastAuditReport(ctx context.Context, name, target string) (api.AuditReport, error) {
	var out struct {
		Intent struct {
			Report api.AuditReport `json:"last-audit-report"`
		} `json:"ibn:intent"`
	}
	if err := c.do(ctx, "get last audit report", Request{Method: http.MethodGet, Path: intentPath(name, target)}, &out); err != nil {
		return nil, err
	}
	if out.Intent.Report == nil {
		return nil, faults.New(faults.NotFound, "get last audit report", target, "no audit report available")
	}
	return out.Intent.Report, nil
}

// Views fetches the view configurations of an intent-type version.
func (c *Client) Views(ctx context.Context, name string, version int) ([]api.View, error) {
	var doc any
	req := Request{Method: http.MethodGet, Path: viewsPath + name + "," + strconv.Itoa(version)}
	if err := c.do(ctx, "get views", req, &doc); err != nil {
		return nil, err
	}
	var views []api.View
	for _, v := range viewsExpr.Get(doc) {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		vname, _ := m["name"].(string)
		if vname == "" {
			continue
		}
		views = append(views, api.View{
			Name:       vname,
			Config:     embeddedJSON(m["viewconfig"]),
			SchemaForm: embeddedJSON(m["schemaform"]),
		})
	}
	return views, nil
}

// embeddedJSON decodes a document shipped as a JSON string.
func embeddedJSON(v any) json.RawMessage {
	switch t := v.(type) {
	case string:
		if json.Valid([]byte(t)) {
			return json.RawMessage(t)
		}
		b, _ := json.Marshal(t)
		return b
	case nil:
		return json.RawMessage(`{}`)
	default:
		b, _ := json.Marshal(t)
		return b
	}
}

// PutView stores the configuration of one view.
func (c *Client) PutView(ctx context.Context, name string, version int, view string, config json.RawMessage) error {
	body := map[string]any{"nsp-intent-type-config-store:intent-type-configs": []any{
		map[string]any{"views": []any{map[string]any{"name": view, "viewconfig": string(config)}}},
	}}
	req := Request{Method: http.MethodPatch, Path: viewsPath + name + "," + strconv.Itoa(version), Body: body}
	return c.do(ctx, "update view", req, nil)
}

// DeleteView removes one view.
func (c *Client) DeleteView(ctx context.Context, name string, version int, view string) error {
	req := Request{Method: http.MethodDelete, Path: viewsPath + name + "," + strconv.Itoa(version) + "/views=" + view}
	return c.do(ctx, "delete view", req, nil)
}

// NewVersion creates the next version of an intent-type.
func (c *Client) NewVersion(ctx context.Context, name string, version int) error {
	req := Request{Method: http.MethodPost, Path: mdtSavePath + name + "/" + strconv.Itoa(version), Body: "{}"}
	return c.do(ctx, "new version", req, nil)
}

// Clone copies an intent-type version under a new name.
func (c *Client) Clone(ctx context.Context, name string, version int, newName string) error {
	p := mdtSavePath + name + "/" + strconv.Itoa(version) + "?newIntentTypeName=" + url.QueryEscape(newName)
	return c.do(ctx, "clone intent-type", Request{Method: http.MethodPost, Path: p, Body: "{}"}, nil)
}

// LogScope narrows a log search. Empty fields match everything.
type LogScope struct {
	IntentType string
	Version    int
	Target     string
}

// SearchLogs queries scripted-engine logs of the last 10 minutes, newest
// first, capped at PageSize hits.
func (c *Client) SearchLogs(ctx context.Context, scopes []LogScope, release api.Release) ([]api.LogEntry, error) {
	tok, err := c.tokens.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	osd := "2.6.0"
	if release.AtLeast(23, 11) {
		osd = "2.10.0"
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-cache")
	h.Set("Osd-Version", osd)
	h.Set("Authorization", "Bearer "+tok)

	var doc any
	req := Request{Method: http.MethodPost, Path: logQueryPath, Body: LogQuery(scopes), Headers: h}
	if err := c.do(ctx, "search logs", req, &doc); err != nil {
		return nil, err
	}
	var entries []api.LogEntry
	for _, v := range logsExpr.Get(doc) {
		s, ok := v.(string)
		if !ok {
			continue
		}
		e, err := api.ParseLogEntry(s)
		if err != nil {
			c.log.Debug().Err(err).Msg("skip log entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func matchPhrase(field, value string) map[string]any {
	return map[string]any{"match_phrase": map[string]any{"log": fmt.Sprintf("%q:%q", field, value)}}
}

// LogQuery builds the search body for scopes.
func LogQuery(scopes []LogScope) map[string]any {
	should := []any{}
	for _, s := range scopes {
		must := []any{}
		if s.IntentType != "" {
			must = append(must, matchPhrase("intent_type", s.IntentType))
		}
		if s.Version > 0 {
			must = append(must, matchPhrase("intent_type_version", strconv.Itoa(s.Version)))
		}
		if s.Target != "" {
			must = append(must, matchPhrase("target", s.Target))
		}
		should = append(should, map[string]any{"bool": map[string]any{"must": must}})
	}
	query := map[string]any{"bool": map[string]any{"must": []any{
		map[string]any{"range": map[string]any{"@datetime": map[string]any{"gte": "now-10m"}}},
		matchPhrase("category", "com.nokia.fnms.controller.ibn.impl.ScriptedEngine"),
		map[string]any{"bool": map[string]any{"should": should}},
	}}}
	return map[string]any{
		"query": query,
		"sort":  map[string]any{"@datetime": "desc"},
		"size":  PageSize,
	}
}
