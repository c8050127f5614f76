package writeback

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/vpath"
)

// metaInfoHidden lists catalog fields that meta-info.json does not show.
// Embedded content has its own files; the rest is server-managed.
var metaInfoHidden = []string{
	"default-version",
	"supports-health",
	"skip-device-connectivity-check",
	"support-aggregated-request",
	"resource",
	"name",
	"date",
	"module",
	"script-content",
}

const (
	fieldIntentType     = "intent-type"
	fieldDefaultVersion = "default-version"
)

// MetaInfo renders the meta-info.json projection of a catalog document.
func MetaInfo(doc *api.IntentType) ([]byte, error) {
	fields, err := doc.Fields()
	if err != nil {
		return nil, err
	}
	fields[fieldIntentType] = doc.Name
	fields["version"] = doc.Version
	for _, k := range metaInfoHidden {
		delete(fields, k)
	}
	return Canonical(fields)
}

// Splice returns a copy of doc with content placed at the sub-path ref
// names. doc is not modified.
func Splice(doc *api.IntentType, ref vpath.Ref, content []byte) (*api.IntentType, error) {
	if doc == nil {
		return nil, faults.New(faults.Consistency, "splice", ref.Path(), "no catalog document")
	}
	if ref.Kind == vpath.MetaInfo {
		return spliceMetaInfo(doc, ref, content)
	}

	out := doc.Clone()
	switch ref.Kind {
	case vpath.Script:
		out.Script = string(content)
	case vpath.Module:
		out.SetModule(ref.Item, string(content))
	case vpath.Resource:
		out.SetResource(ref.Item, string(content))
	default:
		return nil, faults.New(faults.Invalid, "splice", ref.Path(), fmt.Sprintf("cannot splice into a %s", ref.Kind))
	}
	delete(out.Extra, fieldDefaultVersion)
	return out, nil
}

// spliceMetaInfo rebuilds the document from edited meta-info, re-inserting
// the embedded content and the identity taken from the folder name.
func spliceMetaInfo(doc *api.IntentType, ref vpath.Ref, content []byte) (*api.IntentType, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, &faults.Error{Kind: faults.Invalid, Op: "splice", Path: ref.Path(), Msg: "meta-info is not a JSON object", Err: err}
	}
	if fields == nil {
		return nil, faults.New(faults.Invalid, "splice", ref.Path(), "meta-info is not a JSON object")
	}
	delete(fields, fieldIntentType)
	fields["name"] = ref.Name
	fields["version"] = ref.Version

	out, err := api.IntentTypeFromFields(fields)
	if err != nil {
		return nil, &faults.Error{Kind: faults.Invalid, Op: "splice", Path: ref.Path(), Msg: "malformed meta-info", Err: err}
	}
	out.Script = doc.Script
	out.Modules = append([]api.Module(nil), doc.Modules...)
	out.Resources = append([]api.Resource(nil), doc.Resources...)
	return out, nil
}
