package tree

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/vpath"
)

// Create persists a new intent-type document and caches it.
func (e *Engine) Create(ctx context.Context, doc *api.IntentType) error {
	if doc == nil || doc.Name == "" || doc.Version < 1 {
		return faults.New(faults.Invalid, "create", "", "intent-type needs a name and a version")
	}
	if err := e.remote.CreateIntentType(ctx, doc); err != nil {
		return err
	}
	if err := e.store.Create(doc); err != nil {
		return err
	}
	e.reporter.Info(doc.Key() + " created")
	e.publish(notify.IntentTypeEntity, doc.Key(), "", false)
	return nil
}

// Put creates doc, or replaces it when the intent-type already exists.
// Reports whether it was created.
func (e *Engine) Put(ctx context.Context, doc *api.IntentType) (bool, error) {
	if doc == nil {
		return false, faults.New(faults.Invalid, "put", "", "no document")
	}
	if !e.store.Has(doc.Key()) {
		if _, err := e.listRoot(ctx); err != nil {
			return false, err
		}
	}
	if !e.store.Has(doc.Key()) {
		return true, e.Create(ctx, doc)
	}
	if err := e.remote.PutIntentType(ctx, doc); err != nil {
		return false, err
	}
	if err := e.store.SetData(doc.Key(), doc, noTimestamp); err != nil {
		return false, err
	}
	e.reporter.Info(doc.Key() + " updated")
	e.publish(notify.IntentTypeEntity, doc.Key(), "", false)
	return false, nil
}

// NewVersion creates the next version of the intent-type at p and refreshes
// the root listing so it shows up.
func (e *Engine) NewVersion(ctx context.Context, p string) error {
	ref, err := intentTypeRef("new version", p)
	if err != nil {
		return err
	}
	if err := e.remote.NewVersion(ctx, ref.Name, ref.Version); err != nil {
		return err
	}
	e.reporter.Info("new version of " + ref.Key() + " created")
	return e.refreshRoot(ctx)
}

// Clone copies the intent-type at p under newName.
func (e *Engine) Clone(ctx context.Context, p, newName string) error {
	ref, err := intentTypeRef("clone", p)
	if err != nil {
		return err
	}
	if _, _, ok := vpath.ParseNewIntentType(newName); !ok || newName != stripVersion(newName) {
		return faults.New(faults.Invalid, "clone", p, fmt.Sprintf("%q is not a valid intent-type name", newName))
	}
	if err := e.remote.Clone(ctx, ref.Name, ref.Version, newName); err != nil {
		return err
	}
	e.reporter.Info(ref.Key() + " cloned as " + newName)
	return e.refreshRoot(ctx)
}

func stripVersion(name string) string {
	if n, _, ok := api.SplitKey(name); ok {
		return n
	}
	return name
}

func (e *Engine) refreshRoot(ctx context.Context) error {
	if _, err := e.listRoot(ctx); err != nil {
		return err
	}
	e.publish(notify.IntentTypeEntity, "", "", false)
	return nil
}

func intentTypeRef(op, p string) (vpath.Ref, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return vpath.Ref{}, err
	}
	if ref.Kind == vpath.Root {
		return vpath.Ref{}, faults.New(faults.Invalid, op, p, "not inside an intent-type")
	}
	return vpath.Ref{Kind: vpath.IntentType, Name: ref.Name, Version: ref.Version}, nil
}

// URL returns the web UI address of the node at p: the intent-type list
// for the root, the intent list of an intent-type, or one intent.
func (e *Engine) URL(ctx context.Context, p string) (string, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return "", err
	}
	rel, err := e.Release(ctx)
	if err != nil {
		return "", err
	}
	base := "https://" + e.cfg.Get().Address
	modern := rel.AtLeast(23, 11)
	version := strconv.Itoa(ref.Version)

	switch {
	case ref.Kind == vpath.Root && modern:
		return base + "/web/intent-manager/intent-types", nil
	case ref.Kind == vpath.Root:
		return base + "/intent-manager/intentTypes", nil
	case ref.Kind == vpath.Intent && modern:
		return base + "/web/intent-manager/intent-types/intents-list/intent-details?intentTypeId=" + ref.Name +
			"&version=" + version + "&intentTargetId=" + url.QueryEscape(ref.Item), nil
	case ref.Kind == vpath.Intent:
		return base + "/intent-manager/intentTypes/" + ref.Name + "/" + version + "/intents/" + url.PathEscape(ref.Item), nil
	case modern:
		return base + "/web/intent-manager/intent-types/intents-list?intentTypeId=" + ref.Name + "&version=" + version, nil
	}
	return base + "/intent-manager/intentTypes/" + ref.Name + "/" + version + "/intents", nil
}
