package tree

import (
	"context"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/vpath"
	"github.com/agentic-research/intentfs/internal/writeback"
)

// Info describes a node of the tree.
type Info struct {
	Name     string
	Dir      bool
	Size     int64
	ModTime  time.Time
	Writable bool
}

// Read returns the content of the file at p. It never calls the remote:
// content that has not been cached by a listing reads as not found.
func (e *Engine) Read(_ context.Context, p string) ([]byte, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	if ref.IsDir() {
		return nil, faults.New(faults.Invalid, "read", ref.Path(), "is a directory")
	}
	ent, ok := e.store.Get(ref.Key())
	if !ok {
		return nil, faults.New(faults.NotFound, "read", ref.Path(), "intent-type not cached")
	}
	return render(ent, ref)
}

func notFound(ref vpath.Ref, what string) error {
	return faults.New(faults.NotFound, "read", ref.Path(), what+" not found")
}

// render produces the file content of ref from a cached entry.
func render(ent cache.Entry, ref vpath.Ref) ([]byte, error) {
	switch ref.Kind {
	case vpath.MetaInfo, vpath.Script, vpath.Module, vpath.Resource:
		if !ent.Loaded {
			return nil, faults.New(faults.NotFound, "read", ref.Path(), "catalog document not loaded")
		}
	}

	switch ref.Kind {
	case vpath.MetaInfo:
		return writeback.MetaInfo(ent.Data)
	case vpath.Script:
		if ref.File != ent.Data.ScriptFile() {
			return nil, notFound(ref, "script")
		}
		return []byte(ent.Data.Script), nil
	case vpath.Module:
		m, ok := ent.Data.Module(ref.Item)
		if !ok {
			return nil, notFound(ref, "module")
		}
		return []byte(m.YangContent), nil
	case vpath.Resource:
		r, ok := ent.Data.Resource(ref.Item)
		if !ok {
			if cache.IsResourceDir(ent.Data.ResourceNames(), ref.Item) {
				return nil, faults.New(faults.Invalid, "read", ref.Path(), "is a directory")
			}
			return nil, notFound(ref, "resource")
		}
		if strings.HasSuffix(r.Name, ".viewConfig") {
			return writeback.Pretty([]byte(r.Value)), nil
		}
		return []byte(r.Value), nil
	case vpath.ViewConfig, vpath.SchemaForm:
		doc, ok := ent.Views[path.Base(ref.Path())]
		if !ok {
			return nil, notFound(ref, "view")
		}
		return writeback.Pretty(doc), nil
	case vpath.Intent:
		doc, ok := ent.Intents[ref.Item]
		if !ok {
			return nil, notFound(ref, "intent")
		}
		return writeback.Pretty(doc), nil
	}
	return nil, faults.New(faults.Invalid, "read", ref.Path(), "not a file")
}

// Stat describes the node at p. An intent-type that is not cached triggers
// a root listing, and file metadata loads the catalog document if needed.
func (e *Engine) Stat(ctx context.Context, p string) (Info, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return Info{}, err
	}
	if ref.Kind == vpath.Root {
		return Info{Name: "/", Dir: true, ModTime: time.Now(), Writable: e.scaffold != nil}, nil
	}

	ent, err := e.heal(ctx, "stat", ref.Path(), ref.Key())
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: path.Base(ref.Path()), ModTime: ent.Timestamp}

	switch ref.Kind {
	case vpath.IntentType, vpath.Views:
		info.Dir, info.Writable = true, true
		return info, nil
	case vpath.Intents:
		info.Dir, info.Writable, info.ModTime = true, true, time.Now()
		return info, nil
	case vpath.Intent:
		info.ModTime = time.Now()
	case vpath.SchemaForm, vpath.ViewConfig:
	default:
		if ent, err = e.loaded(ctx, ent); err != nil {
			return Info{}, err
		}
	}

	switch ref.Kind {
	case vpath.Modules, vpath.Resources:
		info.Dir, info.Writable = true, !ent.Signed
		return info, nil
	case vpath.Resource:
		names := ent.Data.ResourceNames()
		if !slices.Contains(names, ref.Item) && cache.IsResourceDir(names, ref.Item) {
			info.Dir, info.Writable = true, !ent.Signed
			return info, nil
		}
	}

	content, err := render(ent, ref)
	if err != nil {
		return Info{}, err
	}
	info.Size = int64(len(content))
	info.Writable = writable(ent, ref)
	return info, nil
}

// writable reports whether a file may be written. Meta-info and intents
// stay writable on signed intent-types; server-derived schema forms never are.
func writable(ent cache.Entry, ref vpath.Ref) bool {
	switch ref.Kind {
	case vpath.SchemaForm:
		return false
	case vpath.Script, vpath.Module, vpath.Resource:
		return !ent.Signed
	}
	return true
}

// Targets lists the cached intent targets of the intent-type behind p.
func (e *Engine) Targets(p string) []string {
	ref, err := vpath.ResolvePath(p)
	if err != nil || ref.Kind == vpath.Root {
		return nil
	}
	ent, ok := e.store.Get(api.Key(ref.Name, ref.Version))
	if !ok {
		return nil
	}
	return ent.Targets()
}
