// Package notify carries state-change events and user-facing messages out
// of the core. A UI layer subscribes to the Bus and implements Reporter and
// Confirmer.
package notify

import (
	"context"
	"slices"
	"sync"
)

// Entity classifies what changed.
type Entity int

const (
	IntentTypeEntity Entity = iota
	MetaInfoEntity
	ScriptEntity
	ModuleEntity
	ResourceEntity
	ViewEntity
	IntentEntity
)

func (e Entity) String() string {
	switch e {
	case IntentTypeEntity:
		return "intent-type"
	case MetaInfoEntity:
		return "meta-info"
	case ScriptEntity:
		return "script"
	case ModuleEntity:
		return "module"
	case ResourceEntity:
		return "resource"
	case ViewEntity:
		return "view"
	case IntentEntity:
		return "intent"
	}
	return "unknown"
}

// Event says one entity changed. IntentType is the "{name}_v{N}" key;
// Name identifies the module, resource, view or intent target within it.
type Event struct {
	Entity     Entity
	IntentType string
	Name       string
	Deleted    bool
}

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

type subscriber struct {
	id int
	fn func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Publish delivers ev to every subscriber. A nil Bus drops events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// Reporter shows messages to the user.
type Reporter interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Confirmer asks the user to approve a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Discard is a Reporter that drops every message.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Info(string)  {}
func (discard) Warn(string)  {}
func (discard) Error(string) {}

// Always is a Confirmer with a fixed answer.
type Always bool

func (a Always) Confirm(context.Context, string) (bool, error) { return bool(a), nil }

// Recorder is a Reporter that keeps messages, for tests and batch summaries.
type Recorder struct {
	mu     sync.Mutex
	Infos  []string
	Warns  []string
	Errors []string
}

func (r *Recorder) Info(msg string)  { r.mu.Lock(); r.Infos = append(r.Infos, msg); r.mu.Unlock() }
func (r *Recorder) Warn(msg string)  { r.mu.Lock(); r.Warns = append(r.Warns, msg); r.mu.Unlock() }
func (r *Recorder) Error(msg string) { r.mu.Lock(); r.Errors = append(r.Errors, msg); r.mu.Unlock() }

// Snapshot returns copies of the recorded messages.
func (r *Recorder) Snapshot() (infos, warns, errs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Infos...), append([]string(nil), r.Warns...), append([]string(nil), r.Errors...)
}
