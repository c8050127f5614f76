package tree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/vpath"
	"github.com/agentic-research/intentfs/internal/writeback"
)

// copySuffix is appended by editors on "save as"; writing "{target} copy"
// for an existing target updates that target instead.
const copySuffix = " copy"

// Written reports what a Write did.
type Written struct {
	// Path is the path actually written. It differs from the requested
	// path when a copy name was normalized.
	Path    string
	Created bool
	Renamed bool
}

// Write stores content at p. The owning intent-type is looked up through a
// root listing if it is not cached. Only the affected cache facet changes,
// and only after the remote accepted the mutation.
func (e *Engine) Write(ctx context.Context, p string, content []byte) (Written, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return Written{}, err
	}
	switch {
	case ref.Kind == vpath.Root || ref.IsDir():
		return Written{}, faults.New(faults.Permission, "write", ref.Path(), "cannot write a directory")
	case ref.Kind == vpath.SchemaForm:
		return Written{}, faults.New(faults.Permission, "write", ref.Path(), "schema forms are generated from the view config")
	}

	ent, err := e.heal(ctx, "write", ref.Path(), ref.Key())
	if err != nil {
		return Written{}, err
	}
	switch ref.Kind {
	case vpath.Intent:
		return e.writeIntent(ctx, ref, ent, content)
	case vpath.ViewConfig:
		return e.writeView(ctx, ref, content)
	}
	return e.writeCatalog(ctx, ref, ent, content)
}

func (e *Engine) writeIntent(ctx context.Context, ref vpath.Ref, ent cache.Entry, content []byte) (Written, error) {
	out := Written{Path: ref.Path()}
	if base, ok := strings.CutSuffix(ref.Item, copySuffix); ok {
		if _, exists := ent.Intents[base]; exists {
			e.reporter.Warn(fmt.Sprintf("%q adjusted to %q to match intent naming", ref.Item, base))
			ref.Item = base
			out.Path, out.Renamed = ref.Path(), true
		}
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return Written{}, faults.New(faults.Invalid, "write", ref.Path(), "intent content is empty")
	}
	if !json.Valid(content) {
		return Written{}, faults.New(faults.Invalid, "write", ref.Path(), "intent content is not valid JSON")
	}
	data := json.RawMessage(bytes.Clone(content))

	if _, exists := ent.Intents[ref.Item]; exists {
		if err := e.remote.PutIntent(ctx, ref.Name, ref.Item, data); err != nil {
			return Written{}, err
		}
		e.reporter.Info(fmt.Sprintf("intent %s of %s updated", ref.Item, ref.Key()))
	} else {
		if err := e.remote.CreateIntent(ctx, ref.Name, ref.Version, ref.Item, data); err != nil {
			return Written{}, err
		}
		out.Created = true
		e.reporter.Info(fmt.Sprintf("intent %s of %s created", ref.Item, ref.Key()))
	}
	if err := e.store.SetIntent(ref.Key(), ref.Item, data); err != nil {
		return Written{}, err
	}
	e.publish(notify.IntentEntity, ref.Key(), ref.Item, false)
	return out, nil
}

func (e *Engine) writeView(ctx context.Context, ref vpath.Ref, content []byte) (Written, error) {
	cfg := bytes.TrimSpace(content)
	if len(cfg) == 0 {
		// a new empty file must still pass server validation
		cfg = []byte("{}")
	}
	if !json.Valid(cfg) {
		return Written{}, faults.New(faults.Invalid, "write", ref.Path(), "view config is not valid JSON")
	}
	ent, _ := e.store.Get(ref.Key())
	_, existed := ent.Views[api.ViewConfigFile(ref.Item)]

	if err := e.remote.PutView(ctx, ref.Name, ref.Version, ref.Item, cfg); err != nil {
		return Written{}, err
	}
	if err := e.store.SetViewConfig(ref.Key(), ref.Item, cfg); err != nil {
		return Written{}, err
	}
	e.reporter.Info(fmt.Sprintf("view %s of %s saved", ref.Item, ref.Key()))
	e.publish(notify.ViewEntity, ref.Key(), ref.Item, false)
	return Written{Path: ref.Path(), Created: !existed}, nil
}

// writeCatalog splices content into a copy of the catalog document and
// replaces the whole document remotely.
func (e *Engine) writeCatalog(ctx context.Context, ref vpath.Ref, ent cache.Entry, content []byte) (Written, error) {
	if ent.Signed && ref.Kind != vpath.MetaInfo {
		return Written{}, faults.New(faults.Permission, "write", ref.Path(), "signed intent-type artifacts are read-only")
	}
	ent, err := e.loaded(ctx, ent)
	if err != nil {
		return Written{}, err
	}
	if ref.Kind == vpath.Script && ref.File != ent.Data.ScriptFile() {
		return Written{}, faults.New(faults.Invalid, "write", ref.Path(), "script of "+ref.Key()+" is "+ent.Data.ScriptFile())
	}
	if ref.Kind == vpath.Resource && cache.IsResourceDir(ent.Data.ResourceNames(), ref.Item) {
		return Written{}, faults.New(faults.Permission, "write", ref.Path(), "cannot write a directory")
	}
	if err := writeback.Validate(content, ref.Path()); err != nil {
		return Written{}, &faults.Error{Kind: faults.Invalid, Op: "write", Path: ref.Path(), Err: err}
	}

	var created bool
	switch ref.Kind {
	case vpath.Module:
		_, found := ent.Data.Module(ref.Item)
		created = !found
	case vpath.Resource:
		_, found := ent.Data.Resource(ref.Item)
		created = !found
	}

	doc, err := writeback.Splice(ent.Data, ref, content)
	if err != nil {
		return Written{}, err
	}
	if err := e.remote.PutIntentType(ctx, doc); err != nil {
		return Written{}, err
	}
	if err := e.store.SetData(ref.Key(), doc, noTimestamp); err != nil {
		return Written{}, err
	}
	e.reporter.Info(ref.Key() + " saved")

	switch ref.Kind {
	case vpath.MetaInfo:
		// the signed flag may have flipped
		e.publish(notify.IntentTypeEntity, ref.Key(), "", false)
		e.publish(notify.MetaInfoEntity, ref.Key(), "", false)
	case vpath.Script:
		e.publish(notify.ScriptEntity, ref.Key(), ref.File, false)
	case vpath.Module:
		e.publish(notify.ModuleEntity, ref.Key(), ref.Item, false)
	case vpath.Resource:
		e.publish(notify.ResourceEntity, ref.Key(), ref.Item, false)
	}
	return Written{Path: ref.Path(), Created: created}, nil
}
