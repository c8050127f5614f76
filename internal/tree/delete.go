package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/vpath"
)

// Delete removes the node at p remotely and then drops the matching cache
// facet. Deleting an intent-type that still has intents needs confirmation
// and deletes every intent first.
func (e *Engine) Delete(ctx context.Context, p string) error {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return err
	}
	switch ref.Kind {
	case vpath.Root, vpath.Modules, vpath.Resources, vpath.Views, vpath.Intents, vpath.MetaInfo, vpath.Script:
		return faults.New(faults.Permission, "delete", ref.Path(), "deletion is prohibited")
	case vpath.SchemaForm:
		return faults.New(faults.Permission, "delete", ref.Path(), "delete the view config instead")
	}

	ent, err := e.heal(ctx, "delete", ref.Path(), ref.Key())
	if err != nil {
		return err
	}

	switch ref.Kind {
	case vpath.IntentType:
		return e.deleteIntentType(ctx, ref, ent)
	case vpath.Intent:
		if err := e.remote.DeleteIntent(ctx, ref.Name, ref.Item); err != nil {
			return err
		}
		if err := e.store.RemoveIntent(ref.Key(), ref.Item); err != nil {
			return err
		}
		e.publish(notify.IntentEntity, ref.Key(), ref.Item, true)
	case vpath.ViewConfig:
		if err := e.remote.DeleteView(ctx, ref.Name, ref.Version, ref.Item); err != nil {
			return err
		}
		if err := e.store.RemoveView(ref.Key(), ref.Item); err != nil {
			return err
		}
		e.publish(notify.ViewEntity, ref.Key(), ref.Item, true)
	case vpath.Module, vpath.Resource:
		if err := e.deleteArtifact(ctx, ref, ent); err != nil {
			return err
		}
	}
	e.reporter.Info(ref.Path() + " deleted")
	return nil
}

func (e *Engine) deleteArtifact(ctx context.Context, ref vpath.Ref, ent cache.Entry) error {
	if ent.Signed {
		return faults.New(faults.Permission, "delete", ref.Path(), "signed intent-type artifacts are read-only")
	}
	ent, err := e.loaded(ctx, ent)
	if err != nil {
		return err
	}

	if ref.Kind == vpath.Module {
		if _, ok := ent.Data.Module(ref.Item); !ok {
			return faults.New(faults.NotFound, "delete", ref.Path(), "module not found")
		}
		if err := e.remote.DeleteModule(ctx, ref.Name, ref.Version, ref.Item); err != nil {
			return err
		}
		if err := e.store.EditData(ref.Key(), func(doc *api.IntentType) { doc.RemoveModule(ref.Item) }); err != nil {
			return err
		}
		e.publish(notify.ModuleEntity, ref.Key(), ref.Item, true)
		return nil
	}

	if _, ok := ent.Data.Resource(ref.Item); !ok {
		if cache.IsResourceDir(ent.Data.ResourceNames(), ref.Item) {
			return faults.New(faults.Permission, "delete", ref.Path(), "resource directories only exist through their files")
		}
		return faults.New(faults.NotFound, "delete", ref.Path(), "resource not found")
	}
	if err := e.remote.DeleteResource(ctx, ref.Name, ref.Version, ref.Item); err != nil {
		return err
	}
	if err := e.store.EditData(ref.Key(), func(doc *api.IntentType) { doc.RemoveResource(ref.Item) }); err != nil {
		return err
	}
	e.publish(notify.ResourceEntity, ref.Key(), ref.Item, true)
	return nil
}

func (e *Engine) deleteIntentType(ctx context.Context, ref vpath.Ref, ent cache.Entry) error {
	if len(ent.Intents) == 0 {
		if _, err := e.listIntents(ctx, vpath.Ref{Kind: vpath.Intents, Name: ref.Name, Version: ref.Version}); err != nil {
			return err
		}
		ent, _ = e.store.Get(ref.Key())
	}

	if targets := ent.Targets(); len(targets) > 0 {
		ok, err := e.confirmer.Confirm(ctx, fmt.Sprintf("Intent-type %s is in use, %d intents exist. Delete them all?", ref.Key(), len(targets)))
		if err != nil {
			return err
		}
		if !ok {
			return faults.New(faults.Permission, "delete", ref.Path(), "operation cancelled")
		}
		for _, target := range targets {
			err := e.remote.DeleteIntent(ctx, ref.Name, target)
			switch {
			case errors.Is(err, faults.Connectivity):
				return err
			case err != nil:
				// the batch continues; the intent-type delete below will
				// be rejected if any intent survived
				e.reporter.Error(fmt.Sprintf("delete intent %s failed: %v", target, err))
				continue
			}
			if err := e.store.RemoveIntent(ref.Key(), target); err != nil {
				return err
			}
			e.publish(notify.IntentEntity, ref.Key(), target, true)
		}
	}

	if err := e.remote.DeleteIntentType(ctx, ref.Name, ref.Version); err != nil {
		return err
	}
	e.store.Remove(ref.Key())
	e.publish(notify.IntentTypeEntity, ref.Key(), "", true)
	e.reporter.Info(ref.Key() + " deleted")
	return nil
}

// Mkdir creates a new intent-type from a folder name "{name}" or
// "{name}_v{N}" at the root. Every other directory shape is refused.
func (e *Engine) Mkdir(ctx context.Context, p string) (*api.IntentType, error) {
	segments := vpath.Split(p)
	if len(segments) != 1 {
		return nil, faults.New(faults.Permission, "mkdir", p, "directories are only created for new intent-types")
	}
	name, version, ok := vpath.ParseNewIntentType(segments[0])
	if !ok {
		return nil, faults.New(faults.Invalid, "mkdir", p, "not a valid intent-type name")
	}
	if e.scaffold == nil {
		return nil, faults.New(faults.Permission, "mkdir", p, "no scaffold available")
	}
	doc, err := e.scaffold.Scaffold(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if err := e.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
