package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DesiredState is the required network state of an intent.
type DesiredState string

const (
	Active   DesiredState = "active"
	Suspend  DesiredState = "suspend"
	Delete   DesiredState = "delete"
	Saved    DesiredState = "saved"
	Planned  DesiredState = "planned"
	Deployed DesiredState = "deployed"
)

var desiredLabels = map[DesiredState]string{
	Active:   "Active",
	Suspend:  "Suspended",
	Delete:   "Not Present",
	Saved:    "Saved",
	Planned:  "Planned",
	Deployed: "Deployed",
}

// DesiredStates lists every state in display order.
var DesiredStates = []DesiredState{Active, Suspend, Delete, Saved, Planned, Deployed}

// ParseDesiredState accepts a state value or its display label.
func ParseDesiredState(s string) (DesiredState, error) {
	for _, d := range DesiredStates {
		if strings.EqualFold(s, string(d)) || strings.EqualFold(s, desiredLabels[d]) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown desired state %q", s)
}

// Label is the human-readable name of the state.
func (d DesiredState) Label() string {
	if l, ok := desiredLabels[d]; ok {
		return l
	}
	return string(d)
}

// Native reports whether the state is set directly through
// required-network-state rather than the custom state field.
func (d DesiredState) Native() bool {
	return d == Active || d == Suspend || d == Delete
}

// Valid reports whether d is one of the six states.
func (d DesiredState) Valid() bool {
	_, ok := desiredLabels[d]
	return ok
}

// Intent is one deployed instance of an intent-type.
type Intent struct {
	Target  string
	Data    json.RawMessage
	Desired DesiredState
	Aligned bool
}

type wireIntent struct {
	Target       string          `json:"target"`
	Data         json.RawMessage `json:"intent-specific-data"`
	Aligned      any             `json:"aligned"`
	Required     string          `json:"required-network-state"`
	CustomNState string          `json:"custom-required-network-state"`
}

// UnmarshalJSON decodes a search hit. aligned is sent as the string "true".
func (in *Intent) UnmarshalJSON(data []byte) error {
	var w wireIntent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in.Target = w.Target
	in.Data = w.Data
	switch v := w.Aligned.(type) {
	case bool:
		in.Aligned = v
	case string:
		in.Aligned = v == "true"
	default:
		in.Aligned = false
	}
	in.Desired = DesiredState(w.Required)
	if w.Required == "custom" {
		in.Desired = DesiredState(w.CustomNState)
	}
	return nil
}

// componentMarks are left unescaped in URI components besides letters,
// digits and "-_.~".
var componentMarks = strings.NewReplacer("%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*", "+", "%20")

// EscapeTarget escapes an intent target for use as a file name stem or a
// RESTCONF list key, in URI component form.
func EscapeTarget(target string) string {
	return componentMarks.Replace(url.QueryEscape(target))
}

// UnescapeTarget inverts EscapeTarget.
func UnescapeTarget(name string) (string, error) {
	return url.PathUnescape(name)
}

// IntentFile is the projected file name of an intent target.
func IntentFile(target string) string {
	return EscapeTarget(target) + ".json"
}

// View is one UI view of an intent-type. SchemaForm is derived server-side.
type View struct {
	Name       string
	Config     json.RawMessage
	SchemaForm json.RawMessage
}

// ViewConfigFile is the projected name of the view configuration.
func ViewConfigFile(name string) string { return name + ".viewConfig" }

// SchemaFormFile is the projected name of the derived schema form.
func SchemaFormFile(name string) string { return name + ".schemaForm" }

// Misalignment sections of an audit report.
const (
	MisalignedAttribute = "misaligned-attribute"
	MisalignedObject    = "misaligned-object"
	UndesiredObject     = "undesired-object"
)

var misalignmentKeys = []string{MisalignedAttribute, MisalignedObject, UndesiredObject}

// AuditReport is the verbatim audit-report document.
type AuditReport map[string]json.RawMessage

// Misaligned reports whether any misalignment section is present.
func (r AuditReport) Misaligned() bool {
	for _, k := range misalignmentKeys {
		if _, ok := r[k]; ok {
			return true
		}
	}
	return false
}

// Finding is one entry of a misalignment section.
type Finding struct {
	Section      string
	ObjectID     string
	Name         string
	Expected     string
	Actual       string
	DeviceName   string
	IsConfigured bool
}

// Findings flattens the misalignment sections in section order.
func (r AuditReport) Findings() []Finding {
	var out []Finding
	for _, section := range misalignmentKeys {
		raw, ok := r[section]
		if !ok {
			continue
		}
		var entries []map[string]any
		if err := json.Unmarshal(raw, &entries); err != nil {
			out = append(out, Finding{Section: section, Name: string(raw)})
			continue
		}
		for _, e := range entries {
			out = append(out, Finding{
				Section:      section,
				ObjectID:     HumanModelPath(str(e["object-id"])),
				Name:         str(e["name"]),
				Expected:     str(e["expected-value"]),
				Actual:       str(e["actual-value"]),
				DeviceName:   str(e["device-name"]),
				IsConfigured: e["is-configured"] == true || e["is-configured"] == "true",
			})
		}
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// HumanModelPath unescapes key values of a model path such as
// "/nokia-conf:configure/port=1%2F1%2Fc1" into "/nokia-conf:configure/port=1/1/c1".
func HumanModelPath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		name, keys, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		vals := strings.Split(keys, ",")
		for j, v := range vals {
			if dec, err := url.PathUnescape(v); err == nil {
				vals[j] = dec
			}
		}
		parts[i] = name + "=" + strings.Join(vals, ",")
	}
	return strings.Join(parts, "/")
}
