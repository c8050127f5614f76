// Package tree projects the remote intent catalog as a virtual tree.
//
// The Engine resolves virtual paths, serves reads from the cache and keeps
// the cache in step with every remote mutation it issues. Directory listings
// are the only operations that refresh cached state from the remote side.
package tree

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/remote"
)

// Remote is the part of the intent manager API the tree needs.
// *remote.Client implements it.
type Remote interface {
	Release(ctx context.Context) (api.Release, error)
	SearchIntentTypes(ctx context.Context) (remote.Page[api.IntentTypeSummary], error)
	IntentType(ctx context.Context, name string, version int) (*api.IntentType, error)
	PutIntentType(ctx context.Context, doc *api.IntentType) error
	CreateIntentType(ctx context.Context, doc *api.IntentType) error
	DeleteIntentType(ctx context.Context, name string, version int) error
	DeleteModule(ctx context.Context, name string, version int, module string) error
	DeleteResource(ctx context.Context, name string, version int, resource string) error
	SearchIntents(ctx context.Context, name string, version int) (remote.Page[api.Intent], error)
	PutIntent(ctx context.Context, name, target string, data json.RawMessage) error
	CreateIntent(ctx context.Context, name string, version int, target string, data json.RawMessage) error
	DeleteIntent(ctx context.Context, name, target string) error
	Views(ctx context.Context, name string, version int) ([]api.View, error)
	PutView(ctx context.Context, name string, version int, view string, config json.RawMessage) error
	DeleteView(ctx context.Context, name string, version int, view string) error
	NewVersion(ctx context.Context, name string, version int) error
	Clone(ctx context.Context, name string, version int, newName string) error
}

// Scaffolder builds the catalog document of a new intent-type. Templating
// lives outside the tree; the engine only persists what it is given.
type Scaffolder interface {
	Scaffold(ctx context.Context, name string, version int) (*api.IntentType, error)
}

// Engine implements list, read, write and delete on virtual paths.
type Engine struct {
	remote    Remote
	store     *cache.Store
	cfg       *config.Holder
	bus       *notify.Bus
	reporter  notify.Reporter
	confirmer notify.Confirmer
	scaffold  Scaffolder
	log       zerolog.Logger

	mu      sync.Mutex
	release api.Release
	known   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus sets the bus change events are published on.
func WithBus(b *notify.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithReporter sets where warnings and notices go.
func WithReporter(r notify.Reporter) Option { return func(e *Engine) { e.reporter = r } }

// WithConfirmer sets who approves destructive deletes. The default declines.
func WithConfirmer(c notify.Confirmer) Option { return func(e *Engine) { e.confirmer = c } }

// WithScaffolder enables directory creation at the root.
func WithScaffolder(s Scaffolder) Option { return func(e *Engine) { e.scaffold = s } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// New returns an Engine over rc, caching into store.
func New(rc Remote, store *cache.Store, cfg *config.Holder, opts ...Option) *Engine {
	e := &Engine{
		remote:    rc,
		store:     store,
		cfg:       cfg,
		reporter:  notify.Discard,
		confirmer: notify.Always(false),
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Store exposes the cache the engine maintains.
func (e *Engine) Store() *cache.Store { return e.store }

func (e *Engine) publish(entity notify.Entity, key, name string, deleted bool) {
	e.bus.Publish(notify.Event{Entity: entity, IntentType: key, Name: name, Deleted: deleted})
}

// entry returns the cached entry for key or a consistency fault.
func (e *Engine) entry(op, path, key string) (cache.Entry, error) {
	ent, ok := e.store.Get(key)
	if !ok {
		return cache.Entry{}, faults.New(faults.Consistency, op, path, "intent-type "+key+" not cached, list the root first")
	}
	return ent, nil
}

// heal makes sure key is cached, listing the root if it is not. A key that
// is still unknown afterwards does not exist remotely.
func (e *Engine) heal(ctx context.Context, op, path, key string) (cache.Entry, error) {
	if !e.store.Has(key) {
		e.log.Info().Str("intent_type", key).Msg("not cached, listing root")
		if _, err := e.listRoot(ctx); err != nil {
			return cache.Entry{}, err
		}
	}
	ent, ok := e.store.Get(key)
	if !ok {
		return cache.Entry{}, faults.New(faults.NotFound, op, path, "unknown intent-type "+key)
	}
	return ent, nil
}

// loaded returns the entry with its catalog document fetched.
func (e *Engine) loaded(ctx context.Context, ent cache.Entry) (cache.Entry, error) {
	if ent.Loaded {
		return ent, nil
	}
	if err := e.fetchCatalog(ctx, ent.Data.Name, ent.Data.Version); err != nil {
		return cache.Entry{}, err
	}
	next, ok := e.store.Get(ent.Data.Key())
	if !ok {
		return cache.Entry{}, faults.New(faults.Consistency, "load", "/"+ent.Data.Key(), "entry vanished while loading")
	}
	return next, nil
}

func (e *Engine) fetchCatalog(ctx context.Context, name string, version int) error {
	doc, err := e.remote.IntentType(ctx, name, version)
	if err != nil {
		return err
	}
	return e.store.SetData(api.Key(name, version), doc, parseDate(doc.Date))
}

// noTimestamp keeps the cached timestamp on SetData.
var noTimestamp time.Time

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
}

// parseDate reads the catalog modification date. Unknown formats yield the
// zero time, which leaves the cached timestamp unchanged.
func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Release returns the platform release, discovering it once.
func (e *Engine) Release(ctx context.Context) (api.Release, error) {
	e.mu.Lock()
	if e.known {
		r := e.release
		e.mu.Unlock()
		return r, nil
	}
	e.mu.Unlock()

	r, err := e.remote.Release(ctx)
	if err != nil {
		return api.Release{}, err
	}
	e.mu.Lock()
	e.release, e.known = r, true
	e.mu.Unlock()
	e.log.Info().Str("release", r.String()).Msg("platform release")
	return r, nil
}
