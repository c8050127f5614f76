// Package api defines the typed records exchanged with the intent manager.
//
// Documents keep every field the remote side sends: the fields intentfs acts
// on are named, everything else rides along in Extra and is written back
// unchanged.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// SignedLabel marks intent-types whose artifacts are read-only.
const SignedLabel = "ArtifactAdmin"

// Module is a YANG module embedded in an intent-type.
type Module struct {
	Name        string `json:"name"`
	YangContent string `json:"yang-content"`
}

// Resource is a file embedded in an intent-type. Name is a relative path.
type Resource struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// IntentType is the catalog document of one intent-type version.
type IntentType struct {
	Name          string
	Version       int
	Labels        []string
	MappingEngine string
	Date          string
	Script        string
	Modules       []Module
	Resources     []Resource

	// Extra holds all other top-level fields verbatim.
	Extra map[string]json.RawMessage
}

// document field names handled explicitly
const (
	fieldName          = "name"
	fieldVersion       = "version"
	fieldLabel         = "label"
	fieldMappingEngine = "mapping-engine"
	fieldDate          = "date"
	fieldScript        = "script-content"
	fieldModule        = "module"
	fieldResource      = "resource"
)

var folderPattern = regexp.MustCompile(`^([a-z][a-z0-9_-]+)_v(\d+)$`)

// Key returns the folder name "{name}_v{version}".
func Key(name string, version int) string {
	return name + "_v" + strconv.Itoa(version)
}

// SplitKey parses a "{name}_v{version}" folder name.
func SplitKey(key string) (string, int, bool) {
	m := folderPattern.FindStringSubmatch(key)
	if m == nil {
		return "", 0, false
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], v, true
}

// Key returns the cache key of the document.
func (it *IntentType) Key() string { return Key(it.Name, it.Version) }

// Signed reports whether the intent-type carries the signed label.
func (it *IntentType) Signed() bool { return slices.Contains(it.Labels, SignedLabel) }

// ScriptFile is the projected file name of the script body.
func (it *IntentType) ScriptFile() string {
	if it.MappingEngine == "js-scripted" {
		return "script-content.js"
	}
	return "script-content.mjs"
}

// Module returns the named module.
func (it *IntentType) Module(name string) (Module, bool) {
	for _, m := range it.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// SetModule replaces or appends a module, keeping names unique.
func (it *IntentType) SetModule(name, content string) {
	for i := range it.Modules {
		if it.Modules[i].Name == name {
			it.Modules[i].YangContent = content
			return
		}
	}
	it.Modules = append(it.Modules, Module{Name: name, YangContent: content})
}

// RemoveModule drops the named module. Returns false if it was absent.
func (it *IntentType) RemoveModule(name string) bool {
	n := len(it.Modules)
	it.Modules = slices.DeleteFunc(it.Modules, func(m Module) bool { return m.Name == name })
	return len(it.Modules) != n
}

// Resource returns the named resource.
func (it *IntentType) Resource(name string) (Resource, bool) {
	for _, r := range it.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// SetResource replaces or appends a resource, keeping names unique.
func (it *IntentType) SetResource(name, value string) {
	for i := range it.Resources {
		if it.Resources[i].Name == name {
			it.Resources[i].Value = value
			return
		}
	}
	it.Resources = append(it.Resources, Resource{Name: name, Value: value})
}

// RemoveResource drops the named resource. Returns false if it was absent.
func (it *IntentType) RemoveResource(name string) bool {
	n := len(it.Resources)
	it.Resources = slices.DeleteFunc(it.Resources, func(r Resource) bool { return r.Name == name })
	return len(it.Resources) != n
}

// ResourceNames lists resource names in document order.
func (it *IntentType) ResourceNames() []string {
	names := make([]string, len(it.Resources))
	for i, r := range it.Resources {
		names[i] = r.Name
	}
	return names
}

// Clone returns a deep copy.
func (it *IntentType) Clone() *IntentType {
	if it == nil {
		return nil
	}
	c := *it
	c.Labels = slices.Clone(it.Labels)
	c.Modules = slices.Clone(it.Modules)
	c.Resources = slices.Clone(it.Resources)
	if it.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(it.Extra))
		for k, v := range it.Extra {
			c.Extra[k] = slices.Clone(v)
		}
	}
	return &c
}

// Fields returns the document as a generic field map. Numbers keep their
// literal form.
func (it *IntentType) Fields() (map[string]any, error) {
	raw, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

// IntentTypeFromFields builds a document from a generic field map.
func IntentTypeFromFields(fields map[string]any) (*IntentType, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var it IntentType
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func decodeFields(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// MarshalJSON merges the named fields over Extra.
func (it IntentType) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Extra)+8)
	for k, v := range it.Extra {
		out[k] = v
	}
	out[fieldName] = it.Name
	out[fieldVersion] = it.Version
	if it.Labels != nil {
		out[fieldLabel] = it.Labels
	}
	if it.MappingEngine != "" {
		out[fieldMappingEngine] = it.MappingEngine
	}
	if it.Date != "" {
		out[fieldDate] = it.Date
	}
	out[fieldScript] = it.Script
	out[fieldModule] = nonNil(it.Modules)
	out[fieldResource] = nonNil(it.Resources)
	return json.Marshal(out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// UnmarshalJSON accepts the version either as a number or a string.
func (it *IntentType) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*it = IntentType{}

	take := func(key string, dst any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		delete(fields, key)
		if string(raw) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("intent-type field %q: %w", key, err)
		}
		return nil
	}

	if err := take(fieldName, &it.Name); err != nil {
		return err
	}
	var version FlexInt
	if err := take(fieldVersion, &version); err != nil {
		return err
	}
	it.Version = int(version)
	for key, dst := range map[string]any{
		fieldLabel:         &it.Labels,
		fieldMappingEngine: &it.MappingEngine,
		fieldDate:          &it.Date,
		fieldScript:        &it.Script,
		fieldModule:        &it.Modules,
		fieldResource:      &it.Resources,
	} {
		if err := take(key, dst); err != nil {
			return err
		}
	}
	if len(fields) > 0 {
		it.Extra = fields
	}
	return nil
}

// FlexInt decodes a JSON number or a numeric string.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*n = FlexInt(v)
	return nil
}

// IntentTypeSummary is one hit of the intent-type search.
type IntentTypeSummary struct {
	Name    string   `json:"name"`
	Version FlexInt  `json:"version"`
	Labels  []string `json:"label"`
}

// Key returns the folder name of the summary.
func (s IntentTypeSummary) Key() string { return Key(s.Name, int(s.Version)) }

// Signed reports whether the summary carries the signed label.
func (s IntentTypeSummary) Signed() bool { return slices.Contains(s.Labels, SignedLabel) }

// HasAnyLabel reports whether any of labels is set on the summary.
func (s IntentTypeSummary) HasAnyLabel(labels []string) bool {
	for _, l := range s.Labels {
		if slices.Contains(labels, l) {
			return true
		}
	}
	return false
}
