package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	catalogPath       = "/restconf/data/ibn-administration:ibn-administration/intent-type-catalog"
	ibnPath           = "/restconf/data/ibn:ibn"
	intentPrefix      = ibnPath + "/intent="
	viewsPrefix       = "/restconf/data/nsp-intent-type-config-store:intent-type-config/intent-type-configs="
	releasePath       = "/internal/shared-app-banner-utils/rest/api/v1/appBannerUtils/release-version"
	searchTypesPath   = "/restconf/operations/ibn-administration:search-intent-types"
	searchIntentsPath = "/restconf/operations/ibn:search-intents"
	mdtSavePrefix     = "/mdt/rest/ibn/save/"
	intentTypeElem    = "/intent-type="
)

// Intent is an instance held by a Catalog.
type Intent struct {
	Data    json.RawMessage
	State   string
	Aligned bool
	// Report is returned by audit and as the last audit report.
	Report map[string]any
}

// Catalog is a Server that keeps intent-types, intents and views in
// memory and serves the intent manager endpoints over them. Routes
// registered with Handle or JSON take precedence, which lets tests inject
// failures for single calls.
type Catalog struct {
	*Server

	mu      sync.Mutex
	release string
	types   map[string]map[string]any
	intents map[string]map[string]*Intent // intent-type name -> target
	views   map[string]map[string]string  // key -> view -> viewconfig
}

// NewCatalog starts an empty catalog.
func NewCatalog(t testing.TB) *Catalog {
	t.Helper()
	c := &Catalog{
		Server:  NewServer(t),
		release: "NSP 24.4.0",
		types:   map[string]map[string]any{},
		intents: map[string]map[string]*Intent{},
		views:   map[string]map[string]string{},
	}
	c.Fallback(c.serve)
	return c
}

func key(name string, version int) string { return name + "_v" + strconv.Itoa(version) }

// SetRelease sets the release banner.
func (c *Catalog) SetRelease(banner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release = banner
}

// AddIntentType stores a catalog document. It must carry name and version.
func (c *Catalog) AddIntentType(doc map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putType(clone(doc))
}

func (c *Catalog) putType(doc map[string]any) {
	for _, f := range []string{"module", "resource"} {
		if _, ok := doc[f]; !ok {
			doc[f] = []any{}
		}
	}
	c.types[key(doc["name"].(string), versionOf(doc["version"]))] = doc
}

// IntentType returns a copy of a stored document.
func (c *Catalog) IntentType(name string, version int) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.types[key(name, version)]
	if !ok {
		return nil, false
	}
	return clone(doc), true
}

// AddIntent stores an instance.
func (c *Catalog) AddIntent(name, target string, data any, state string, aligned bool) {
	raw, _ := json.Marshal(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intents[name] == nil {
		c.intents[name] = map[string]*Intent{}
	}
	c.intents[name][target] = &Intent{Data: raw, State: state, Aligned: aligned}
}

// Intent returns a copy of a stored instance.
func (c *Catalog) Intent(name, target string) (Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.intents[name][target]
	if !ok {
		return Intent{}, false
	}
	return *in, true
}

// RemoveIntent drops an instance behind the client's back.
func (c *Catalog) RemoveIntent(name, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.intents[name], target)
}

// SetReport sets the audit report of an instance.
func (c *Catalog) SetReport(name, target string, report map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in, ok := c.intents[name][target]; ok {
		in.Report = report
	}
}

// AddView stores a view configuration.
func (c *Catalog) AddView(name string, version int, view, config string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(name, version)
	if c.views[k] == nil {
		c.views[k] = map[string]string{}
	}
	c.views[k][view] = config
}

// View returns a stored view configuration.
func (c *Catalog) View(name string, version int, view string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[key(name, version)][view]
	return v, ok
}

func (c *Catalog) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	path := r.URL.EscapedPath()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case path == releasePath:
		Reply(w, http.StatusOK, map[string]any{"response": map[string]any{"data": map[string]any{"nspOSVersion": c.release}}})
	case path == searchTypesPath && r.Method == http.MethodPost:
		c.searchTypes(w)
	case path == searchIntentsPath && r.Method == http.MethodPost:
		c.searchIntents(w, body)
	case path == catalogPath && r.Method == http.MethodPost:
		c.createType(w, body)
	case strings.HasPrefix(path, catalogPath+intentTypeElem):
		c.serveType(w, r.Method, strings.TrimPrefix(path, catalogPath+intentTypeElem), body)
	case path == ibnPath && r.Method == http.MethodPost:
		c.createIntent(w, body)
	case strings.HasPrefix(path, intentPrefix):
		c.serveIntent(w, r.Method, strings.TrimPrefix(path, intentPrefix), body)
	case strings.HasPrefix(path, viewsPrefix):
		c.serveViews(w, r.Method, strings.TrimPrefix(path, viewsPrefix), body)
	case strings.HasPrefix(path, mdtSavePrefix) && r.Method == http.MethodPost:
		c.save(w, strings.TrimPrefix(path, mdtSavePrefix), r.URL.Query().Get("newIntentTypeName"))
	default:
		Reply(w, http.StatusNotFound, RestconfError("no route for "+r.Method+" "+path))
	}
}

func (c *Catalog) searchTypes(w http.ResponseWriter) {
	keys := make([]string, 0, len(c.types))
	for k := range c.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hits := []any{}
	for _, k := range keys {
		doc := c.types[k]
		hits = append(hits, map[string]any{"name": doc["name"], "version": doc["version"], "label": doc["label"]})
	}
	Reply(w, http.StatusOK, map[string]any{"ibn-administration:output": map[string]any{
		"total-count": len(hits), "intent-type": hits,
	}})
}

func (c *Catalog) searchIntents(w http.ResponseWriter, body map[string]any) {
	var name string
	if in, ok := body["ibn:input"].(map[string]any); ok {
		if f, ok := in["filter"].(map[string]any); ok {
			if l, ok := f["intent-type-list"].([]any); ok && len(l) > 0 {
				name, _ = l[0].(map[string]any)["intent-type"].(string)
			}
		}
	}
	targets := make([]string, 0, len(c.intents[name]))
	for t := range c.intents[name] {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	hits := []any{}
	for _, t := range targets {
		in := c.intents[name][t]
		hit := map[string]any{
			"target":                 t,
			"intent-type":            name,
			"intent-specific-data":   in.Data,
			"aligned":                strconv.FormatBool(in.Aligned),
			"required-network-state": in.State,
		}
		if in.State != "active" && in.State != "suspend" && in.State != "delete" {
			hit["required-network-state"] = "custom"
			hit["custom-required-network-state"] = in.State
		}
		hits = append(hits, hit)
	}
	Reply(w, http.StatusOK, map[string]any{"ibn:output": map[string]any{
		"total-count": len(hits), "intents": map[string]any{"intent": hits},
	}})
}

func (c *Catalog) createType(w http.ResponseWriter, body map[string]any) {
	doc, ok := body["ibn-administration:intent-type"].(map[string]any)
	if !ok {
		Reply(w, http.StatusBadRequest, RestconfError("missing intent-type"))
		return
	}
	k := key(fmt.Sprint(doc["name"]), versionOf(doc["version"]))
	if _, exists := c.types[k]; exists {
		Reply(w, http.StatusConflict, RestconfError("intent-type "+k+" already exists"))
		return
	}
	c.putType(doc)
	w.WriteHeader(http.StatusCreated)
}

func (c *Catalog) serveType(w http.ResponseWriter, method, rest string, body map[string]any) {
	id, sub, _ := strings.Cut(rest, "/")
	name, ver, _ := strings.Cut(id, ",")
	version, _ := strconv.Atoi(ver)
	k := key(name, version)
	doc, ok := c.types[k]
	if !ok {
		Reply(w, http.StatusNotFound, RestconfError("intent-type "+k+" not found"))
		return
	}

	switch {
	case sub == "" && method == http.MethodGet:
		Reply(w, http.StatusOK, map[string]any{"ibn-administration:intent-type": doc})
	case sub == "" && method == http.MethodPut:
		next, ok := body["ibn-administration:intent-type"].(map[string]any)
		if !ok {
			Reply(w, http.StatusBadRequest, RestconfError("missing intent-type"))
			return
		}
		c.putType(next)
		w.WriteHeader(http.StatusNoContent)
	case sub == "" && method == http.MethodDelete:
		if len(c.intents[name]) > 0 {
			Reply(w, http.StatusConflict, RestconfError("intent-type "+k+" is in use"))
			return
		}
		delete(c.types, k)
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(sub, "module=") && method == http.MethodDelete:
		c.removeItem(w, doc, "module", unescape(strings.TrimPrefix(sub, "module=")))
	case strings.HasPrefix(sub, "resource=") && method == http.MethodDelete:
		c.removeItem(w, doc, "resource", unescape(strings.TrimPrefix(sub, "resource=")))
	default:
		Reply(w, http.StatusMethodNotAllowed, RestconfError("unsupported "+method+" "+sub))
	}
}

func (c *Catalog) removeItem(w http.ResponseWriter, doc map[string]any, field, name string) {
	items, _ := doc[field].([]any)
	kept := []any{}
	for _, it := range items {
		if m, ok := it.(map[string]any); ok && m["name"] == name {
			continue
		}
		kept = append(kept, it)
	}
	if len(kept) == len(items) {
		Reply(w, http.StatusNotFound, RestconfError(field+" "+name+" not found"))
		return
	}
	doc[field] = kept
	w.WriteHeader(http.StatusNoContent)
}

func (c *Catalog) createIntent(w http.ResponseWriter, body map[string]any) {
	in, ok := body["ibn:intent"].(map[string]any)
	if !ok {
		Reply(w, http.StatusBadRequest, RestconfError("missing intent"))
		return
	}
	name, _ := in["intent-type"].(string)
	target, _ := in["target"].(string)
	if _, exists := c.intents[name][target]; exists {
		Reply(w, http.StatusConflict, RestconfError("intent "+target+" already exists"))
		return
	}
	raw, _ := json.Marshal(in["ibn:intent-specific-data"])
	if c.intents[name] == nil {
		c.intents[name] = map[string]*Intent{}
	}
	state, _ := in["required-network-state"].(string)
	c.intents[name][target] = &Intent{Data: raw, State: state}
	w.WriteHeader(http.StatusCreated)
}

func (c *Catalog) serveIntent(w http.ResponseWriter, method, rest string, body map[string]any) {
	id, sub, _ := strings.Cut(rest, "/")
	i := strings.LastIndex(id, ",")
	if i < 0 {
		Reply(w, http.StatusBadRequest, RestconfError("bad intent key"))
		return
	}
	target, name := unescape(id[:i]), id[i+1:]
	in, ok := c.intents[name][target]
	if !ok {
		Reply(w, http.StatusNotFound, RestconfError("intent "+target+" not found"))
		return
	}

	switch {
	case sub == "" && method == http.MethodGet:
		doc := map[string]any{"target": target, "intent-type": name}
		if in.Report != nil {
			doc["last-audit-report"] = in.Report
		}
		Reply(w, http.StatusOK, map[string]any{"ibn:intent": doc})
	case sub == "" && method == http.MethodDelete:
		delete(c.intents[name], target)
		w.WriteHeader(http.StatusNoContent)
	case sub == "" && method == http.MethodPatch:
		attrs, _ := body["ibn:intent"].(map[string]any)
		state, _ := attrs["required-network-state"].(string)
		if state == "custom" {
			state, _ = attrs["custom-required-network-state"].(string)
		}
		in.State = state
		w.WriteHeader(http.StatusNoContent)
	case sub == "intent-specific-data" && method == http.MethodPut:
		raw, _ := json.Marshal(body["ibn:intent-specific-data"])
		in.Data = raw
		in.Aligned = false
		w.WriteHeader(http.StatusNoContent)
	case sub == "audit" && method == http.MethodPost:
		report := in.Report
		if report == nil {
			report = map[string]any{"target": target}
		}
		in.Aligned = !misaligned(report)
		Reply(w, http.StatusOK, map[string]any{"ibn:output": map[string]any{"audit-report": report}})
	case sub == "synchronize" && method == http.MethodPost:
		in.Aligned = true
		in.Report = nil
		w.WriteHeader(http.StatusNoContent)
	default:
		Reply(w, http.StatusMethodNotAllowed, RestconfError("unsupported "+method+" "+sub))
	}
}

func misaligned(report map[string]any) bool {
	for _, k := range []string{"misaligned-attribute", "misaligned-object", "undesired-object"} {
		if _, ok := report[k]; ok {
			return true
		}
	}
	return false
}

func (c *Catalog) serveViews(w http.ResponseWriter, method, rest string, body map[string]any) {
	id, sub, _ := strings.Cut(rest, "/")
	name, ver, _ := strings.Cut(id, ",")
	version, _ := strconv.Atoi(ver)
	k := key(name, version)
	if _, ok := c.types[k]; !ok {
		Reply(w, http.StatusNotFound, RestconfError("intent-type "+k+" not found"))
		return
	}

	switch {
	case sub == "" && method == http.MethodGet:
		names := make([]string, 0, len(c.views[k]))
		for v := range c.views[k] {
			names = append(names, v)
		}
		sort.Strings(names)
		views := []any{}
		for _, v := range names {
			views = append(views, map[string]any{
				"name":       v,
				"viewconfig": c.views[k][v],
				"schemaform": `{"generated":"` + v + `"}`,
			})
		}
		Reply(w, http.StatusOK, map[string]any{"nsp-intent-type-config-store:intent-type-configs": []any{
			map[string]any{"intent-type": name, "version": version, "views": views},
		}})
	case sub == "" && method == http.MethodPatch:
		cfgs, _ := body["nsp-intent-type-config-store:intent-type-configs"].([]any)
		if c.views[k] == nil {
			c.views[k] = map[string]string{}
		}
		for _, cfg := range cfgs {
			views, _ := cfg.(map[string]any)["views"].([]any)
			for _, v := range views {
				m, _ := v.(map[string]any)
				vname, _ := m["name"].(string)
				vcfg, _ := m["viewconfig"].(string)
				c.views[k][vname] = vcfg
			}
		}
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(sub, "views=") && method == http.MethodDelete:
		view := unescape(strings.TrimPrefix(sub, "views="))
		if _, ok := c.views[k][view]; !ok {
			Reply(w, http.StatusNotFound, RestconfError("view "+view+" not found"))
			return
		}
		delete(c.views[k], view)
		w.WriteHeader(http.StatusNoContent)
	default:
		Reply(w, http.StatusMethodNotAllowed, RestconfError("unsupported "+method+" "+sub))
	}
}

// save implements new-version and clone.
func (c *Catalog) save(w http.ResponseWriter, rest, newName string) {
	name, ver, _ := strings.Cut(rest, "/")
	version, _ := strconv.Atoi(ver)
	doc, ok := c.types[key(name, version)]
	if !ok {
		Reply(w, http.StatusNotFound, RestconfError("intent-type not found"))
		return
	}
	next := clone(doc)
	if newName != "" {
		next["name"] = newName
		next["version"] = 1
	} else {
		latest := version
		for k := range c.types {
			if n, v, ok := strings.Cut(k, "_v"); ok && n == name {
				if i, _ := strconv.Atoi(v); i > latest {
					latest = i
				}
			}
		}
		next["version"] = latest + 1
	}
	c.putType(next)
	Reply(w, http.StatusOK, map[string]any{"response": map[string]any{"status": 0}})
}

func versionOf(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		i, _ := strconv.Atoi(t)
		return i
	case json.Number:
		i, _ := strconv.Atoi(t.String())
		return i
	}
	return 0
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

func clone(doc map[string]any) map[string]any {
	raw, _ := json.Marshal(doc)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
