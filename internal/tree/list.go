package tree

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/remote"
	"github.com/agentic-research/intentfs/internal/vpath"
)

// Entry is one child in a directory listing.
type Entry struct {
	Name string
	Dir  bool
}

// Listing is the result of List. Truncated is set when the remote holds
// more items than one search page returns; Total is then its count.
type Listing struct {
	Entries   []Entry
	Truncated bool
	Total     int
}

// Names returns the entry names in order.
func (l Listing) Names() []string {
	out := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.Name
	}
	return out
}

// List returns the children of the directory at p, refreshing the cache
// from the remote where the directory is backed by a remote collection.
func (e *Engine) List(ctx context.Context, p string) (Listing, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return Listing{}, err
	}
	switch ref.Kind {
	case vpath.Root:
		return e.listRoot(ctx)
	case vpath.IntentType:
		return e.listIntentType(ctx, ref)
	case vpath.Intents:
		return e.listIntents(ctx, ref)
	case vpath.Views:
		return e.listViews(ctx, ref)
	case vpath.Modules:
		return e.listModules(ctx, ref)
	case vpath.Resources, vpath.Resource:
		return e.listResources(ctx, ref)
	}
	return Listing{}, faults.New(faults.Invalid, "list", ref.Path(), "not a directory")
}

func (e *Engine) listRoot(ctx context.Context) (Listing, error) {
	if _, err := e.Release(ctx); err != nil {
		// retried at the next root listing
		e.log.Warn().Err(err).Msg("release discovery failed")
	}

	page, err := e.remote.SearchIntentTypes(ctx)
	if err != nil {
		return Listing{}, err
	}
	ignore := e.cfg.Get().IgnoreLabels

	var out Listing
	for _, sum := range page.Items {
		if sum.HasAnyLabel(ignore) {
			continue
		}
		e.store.Seed(sum)
		out.Entries = append(out.Entries, Entry{Name: sum.Key(), Dir: true})
	}
	sortEntries(out.Entries)
	e.truncation(&out, page.Truncated(), page.Total, len(page.Items), "intent-types")
	return out, nil
}

func (e *Engine) truncation(l *Listing, truncated bool, total, got int, what string) {
	if !truncated {
		return
	}
	l.Truncated, l.Total = true, total
	e.reporter.Warn(fmt.Sprintf("%d %s found, only the first %d are shown", total, what, got))
	e.log.Warn().Int("total", total).Int("page_size", remote.PageSize).Str("collection", what).Msg("search truncated")
}

func (e *Engine) listIntentType(ctx context.Context, ref vpath.Ref) (Listing, error) {
	if _, err := e.entry("list", ref.Path(), ref.Key()); err != nil {
		return Listing{}, err
	}
	if err := e.fetchCatalog(ctx, ref.Name, ref.Version); err != nil {
		return Listing{}, err
	}
	ent, err := e.entry("list", ref.Path(), ref.Key())
	if err != nil {
		return Listing{}, err
	}
	return Listing{Entries: []Entry{
		{Name: vpath.ModulesDir, Dir: true},
		{Name: vpath.IntentsDir, Dir: true},
		{Name: vpath.ViewsDir, Dir: true},
		{Name: vpath.ResourcesDir, Dir: true},
		{Name: vpath.MetaInfoFile},
		{Name: ent.Data.ScriptFile()},
	}}, nil
}

func (e *Engine) listIntents(ctx context.Context, ref vpath.Ref) (Listing, error) {
	if _, err := e.entry("list", ref.Path(), ref.Key()); err != nil {
		return Listing{}, err
	}
	page, err := e.remote.SearchIntents(ctx, ref.Name, ref.Version)
	if err != nil {
		return Listing{}, err
	}
	if err := e.store.ReplaceIntents(ref.Key(), page.Items); err != nil {
		return Listing{}, err
	}
	var out Listing
	for _, in := range page.Items {
		out.Entries = append(out.Entries, Entry{Name: api.IntentFile(in.Target)})
	}
	sortEntries(out.Entries)
	e.truncation(&out, page.Truncated(), page.Total, len(page.Items), "intents of "+ref.Key())
	return out, nil
}

func (e *Engine) listViews(ctx context.Context, ref vpath.Ref) (Listing, error) {
	if _, err := e.entry("list", ref.Path(), ref.Key()); err != nil {
		return Listing{}, err
	}
	views, err := e.remote.Views(ctx, ref.Name, ref.Version)
	if err != nil {
		return Listing{}, err
	}
	if err := e.store.ReplaceViews(ref.Key(), views); err != nil {
		return Listing{}, err
	}
	var out Listing
	for _, v := range views {
		out.Entries = append(out.Entries,
			Entry{Name: api.ViewConfigFile(v.Name)},
			Entry{Name: api.SchemaFormFile(v.Name)})
	}
	sortEntries(out.Entries)
	return out, nil
}

func (e *Engine) listModules(ctx context.Context, ref vpath.Ref) (Listing, error) {
	ent, err := e.entry("list", ref.Path(), ref.Key())
	if err != nil {
		return Listing{}, err
	}
	if ent, err = e.loaded(ctx, ent); err != nil {
		return Listing{}, err
	}
	var out Listing
	for _, m := range ent.Data.Modules {
		out.Entries = append(out.Entries, Entry{Name: m.Name})
	}
	sortEntries(out.Entries)
	return out, nil
}

// listResources serves both the resources root and synthetic directories
// below it, purely from the cached resource names.
func (e *Engine) listResources(ctx context.Context, ref vpath.Ref) (Listing, error) {
	ent, err := e.entry("list", ref.Path(), ref.Key())
	if err != nil {
		return Listing{}, err
	}
	if ent, err = e.loaded(ctx, ent); err != nil {
		return Listing{}, err
	}
	names := ent.Data.ResourceNames()
	dir := ""
	if ref.Kind == vpath.Resource {
		dir = ref.Item
		if !cache.IsResourceDir(names, dir) {
			if slices.Contains(names, dir) {
				return Listing{}, faults.New(faults.Invalid, "list", ref.Path(), "not a directory")
			}
			return Listing{}, faults.New(faults.NotFound, "list", ref.Path(), "no such resource directory")
		}
	}
	files, dirs := cache.ResourceChildren(names, dir)
	var out Listing
	for _, d := range dirs {
		out.Entries = append(out.Entries, Entry{Name: d, Dir: true})
	}
	for _, f := range files {
		out.Entries = append(out.Entries, Entry{Name: f})
	}
	return out, nil
}

// sortEntries orders directories first, then by name.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return strings.Compare(entries[i].Name, entries[j].Name) < 0
	})
}
