// Package vpath resolves virtual tree paths to typed references.
//
// The grammar, with depth counted from the root:
//
//	/                                          Root
//	/{name}_v{N}                               IntentType
//	/{name}_v{N}/meta-info.json                MetaInfo
//	/{name}_v{N}/script-content.{ext}          Script
//	/{name}_v{N}/yang-modules[/{module}]       Modules / Module
//	/{name}_v{N}/intent-type-resources[/...]   Resources / Resource (path joined by "/")
//	/{name}_v{N}/views[/{view}.viewConfig]     Views / ViewConfig (or .schemaForm)
//	/{name}_v{N}/intents[/{escaped}.json]      Intents / Intent
//
// Resolve is pure: whether a Resource path names a file or a synthetic
// directory is decided later against the cached resource names.
package vpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
)

// Kind of a resolved reference.
type Kind int

const (
	Root Kind = iota
	IntentType
	MetaInfo
	Script
	Modules
	Module
	Resources
	Resource
	Views
	ViewConfig
	SchemaForm
	Intents
	Intent
)

var kindNames = [...]string{"root", "intent-type", "meta-info", "script", "modules", "module",
	"resources", "resource", "views", "view-config", "schema-form", "intents", "intent"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Fixed child names of an intent-type folder.
const (
	ModulesDir   = "yang-modules"
	ResourcesDir = "intent-type-resources"
	ViewsDir     = "views"
	IntentsDir   = "intents"
	MetaInfoFile = "meta-info.json"
	scriptPrefix = "script-content."
	intentSuffix = ".json"
)

// Children lists the fixed children of an intent-type folder (the script
// file is named per intent-type and is not included).
var Children = []string{ModulesDir, IntentsDir, ViewsDir, ResourcesDir, MetaInfoFile}

var (
	intentTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]+_v\d+$`)
	newNamePattern    = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)
)

// ParseNewIntentType accepts a folder name for the scaffold workflow:
// "{name}_v{N}", or a bare name that gets version 1.
func ParseNewIntentType(folder string) (string, int, bool) {
	if name, v, ok := api.SplitKey(folder); ok {
		return name, v, true
	}
	if newNamePattern.MatchString(folder) {
		return folder, 1, true
	}
	return "", 0, false
}

// Ref is a resolved path.
type Ref struct {
	Kind    Kind
	Name    string // intent-type name
	Version int
	// Item is the module name, resource path, view name or intent target.
	Item string
	// File is the script file name as given.
	File string
}

// Key is the intent-type folder name, or "" for the root.
func (r Ref) Key() string {
	if r.Kind == Root {
		return ""
	}
	return api.Key(r.Name, r.Version)
}

// IsDir reports whether the reference is a directory by grammar. Resource
// references may still turn out to be synthetic directories.
func (r Ref) IsDir() bool {
	switch r.Kind {
	case Root, IntentType, Modules, Resources, Views, Intents:
		return true
	}
	return false
}

// Path renders the reference as a virtual path.
func (r Ref) Path() string {
	if r.Kind == Root {
		return "/"
	}
	base := "/" + r.Key()
	switch r.Kind {
	case MetaInfo:
		return base + "/" + MetaInfoFile
	case Script:
		return base + "/" + r.File
	case Modules:
		return base + "/" + ModulesDir
	case Module:
		return base + "/" + ModulesDir + "/" + r.Item
	case Resources:
		return base + "/" + ResourcesDir
	case Resource:
		return base + "/" + ResourcesDir + "/" + r.Item
	case Views:
		return base + "/" + ViewsDir
	case ViewConfig:
		return base + "/" + ViewsDir + "/" + api.ViewConfigFile(r.Item)
	case SchemaForm:
		return base + "/" + ViewsDir + "/" + api.SchemaFormFile(r.Item)
	case Intents:
		return base + "/" + IntentsDir
	case Intent:
		return base + "/" + IntentsDir + "/" + api.IntentFile(r.Item)
	}
	return base
}

// Parent returns the enclosing directory reference.
func (r Ref) Parent() Ref {
	switch r.Kind {
	case Root, IntentType:
		return Ref{Kind: Root}
	case Module:
		return Ref{Kind: Modules, Name: r.Name, Version: r.Version}
	case Resource:
		if i := strings.LastIndex(r.Item, "/"); i >= 0 {
			return Ref{Kind: Resource, Name: r.Name, Version: r.Version, Item: r.Item[:i]}
		}
		return Ref{Kind: Resources, Name: r.Name, Version: r.Version}
	case ViewConfig, SchemaForm:
		return Ref{Kind: Views, Name: r.Name, Version: r.Version}
	case Intent:
		return Ref{Kind: Intents, Name: r.Name, Version: r.Version}
	}
	return Ref{Kind: IntentType, Name: r.Name, Version: r.Version}
}

func (r Ref) String() string { return r.Path() }

func invalid(segments []string, format string, args ...any) error {
	return faults.New(faults.Invalid, "resolve", "/"+strings.Join(segments, "/"), fmt.Sprintf(format, args...))
}

// Split turns "/a_v1/intents/x.json" into its segments. Empty segments are dropped.
func Split(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

// ResolvePath resolves a slash-separated virtual path.
func ResolvePath(p string) (Ref, error) { return Resolve(Split(p)) }

// Resolve maps path segments below the root to a reference.
func Resolve(segments []string) (Ref, error) {
	if len(segments) == 0 {
		return Ref{Kind: Root}, nil
	}
	folder := segments[0]
	if !intentTypePattern.MatchString(folder) {
		return Ref{}, invalid(segments, "%q is not an intent-type folder", folder)
	}
	name, version, ok := api.SplitKey(folder)
	if !ok {
		return Ref{}, invalid(segments, "%q is not an intent-type folder", folder)
	}
	ref := Ref{Kind: IntentType, Name: name, Version: version}
	if len(segments) == 1 {
		return ref, nil
	}

	child, rest := segments[1], segments[2:]
	switch {
	case child == MetaInfoFile:
		ref.Kind = MetaInfo
	case strings.HasPrefix(child, scriptPrefix) && len(child) > len(scriptPrefix):
		ref.Kind = Script
		ref.File = child
	case child == ModulesDir:
		return resolveModules(ref, segments, rest)
	case child == ResourcesDir:
		ref.Kind = Resources
		if err := plainSegments(segments, rest); err != nil {
			return Ref{}, err
		}
		if len(rest) > 0 {
			ref.Kind = Resource
			ref.Item = strings.Join(rest, "/")
		}
		return ref, nil
	case child == ViewsDir:
		return resolveViews(ref, segments, rest)
	case child == IntentsDir:
		return resolveIntents(ref, segments, rest)
	default:
		return Ref{}, invalid(segments, "unknown entry %q", child)
	}
	if len(rest) > 0 {
		return Ref{}, invalid(segments, "%q is not a directory", child)
	}
	return ref, nil
}

// plainSegments rejects empty and dot segments in artifact names.
func plainSegments(segments, rest []string) error {
	for _, s := range rest {
		if s == "" || s == "." || s == ".." {
			return invalid(segments, "%q is not a valid name", s)
		}
	}
	return nil
}

func resolveModules(ref Ref, segments, rest []string) (Ref, error) {
	switch len(rest) {
	case 0:
		ref.Kind = Modules
	case 1:
		if err := plainSegments(segments, rest); err != nil {
			return Ref{}, err
		}
		ref.Kind = Module
		ref.Item = rest[0]
	default:
		return Ref{}, invalid(segments, "yang-modules has no subdirectories")
	}
	return ref, nil
}

func resolveViews(ref Ref, segments, rest []string) (Ref, error) {
	switch len(rest) {
	case 0:
		ref.Kind = Views
		return ref, nil
	case 1:
	default:
		return Ref{}, invalid(segments, "views has no subdirectories")
	}
	file := rest[0]
	switch {
	case strings.HasSuffix(file, ".viewConfig") && len(file) > len(".viewConfig"):
		ref.Kind = ViewConfig
		ref.Item = strings.TrimSuffix(file, ".viewConfig")
	case strings.HasSuffix(file, ".schemaForm") && len(file) > len(".schemaForm"):
		ref.Kind = SchemaForm
		ref.Item = strings.TrimSuffix(file, ".schemaForm")
	default:
		return Ref{}, invalid(segments, "view files end in .viewConfig or .schemaForm")
	}
	return ref, nil
}

func resolveIntents(ref Ref, segments, rest []string) (Ref, error) {
	switch len(rest) {
	case 0:
		ref.Kind = Intents
		return ref, nil
	case 1:
	default:
		return Ref{}, invalid(segments, "intents has no subdirectories")
	}
	file := rest[0]
	stem, ok := strings.CutSuffix(file, intentSuffix)
	if !ok || stem == "" {
		return Ref{}, invalid(segments, "intent files end in .json")
	}
	target, err := api.UnescapeTarget(stem)
	if err != nil {
		return Ref{}, invalid(segments, "bad escaping in %q", file)
	}
	ref.Kind = Intent
	ref.Item = target
	return ref, nil
}
