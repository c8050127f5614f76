// Package cache holds the in-memory projection of the remote catalog.
//
// The Store exclusively owns every Entry. Readers receive deep copies, and
// all mutation goes through Store methods that keep the three per-intent
// facets (content, desired state, alignment) keyed by the same targets.
package cache

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
)

// Entry is the cached state of one intent-type version.
type Entry struct {
	Signed    bool
	Timestamp time.Time
	// Data is the catalog document. Until Loaded it only carries the
	// name, version and labels seen in the catalog search.
	Data    *api.IntentType
	Loaded  bool
	Intents map[string]json.RawMessage
	Desired map[string]api.DesiredState
	Aligned map[string]bool
	// Views is keyed by "{view}.viewConfig" and "{view}.schemaForm".
	Views map[string]json.RawMessage
}

func newEntry(doc *api.IntentType) *Entry {
	return &Entry{
		Signed:    doc.Signed(),
		Timestamp: time.Now(),
		Data:      doc,
		Intents:   map[string]json.RawMessage{},
		Desired:   map[string]api.DesiredState{},
		Aligned:   map[string]bool{},
		Views:     map[string]json.RawMessage{},
	}
}

func (e *Entry) clone() Entry {
	c := *e
	c.Data = e.Data.Clone()
	c.Intents = make(map[string]json.RawMessage, len(e.Intents))
	for k, v := range e.Intents {
		c.Intents[k] = slices.Clone(v)
	}
	c.Desired = maps.Clone(e.Desired)
	c.Aligned = maps.Clone(e.Aligned)
	c.Views = make(map[string]json.RawMessage, len(e.Views))
	for k, v := range e.Views {
		c.Views[k] = slices.Clone(v)
	}
	return c
}

// Targets lists intent targets in sorted order.
func (e *Entry) Targets() []string {
	return sortedKeys(e.Intents)
}

// Check verifies the entry invariants for key.
func (e *Entry) Check(key string) error {
	if e.Data == nil || e.Data.Key() != key {
		return faults.New(faults.Consistency, "cache", key, "entry key does not match its document")
	}
	if len(e.Intents) != len(e.Desired) || len(e.Intents) != len(e.Aligned) {
		return faults.New(faults.Consistency, "cache", key, "intent facets out of sync")
	}
	for t := range e.Intents {
		_, d := e.Desired[t]
		_, a := e.Aligned[t]
		if !d || !a {
			return faults.New(faults.Consistency, "cache", key, fmt.Sprintf("intent %q missing from a facet", t))
		}
	}
	if dup := duplicate(e.Data.ResourceNames()); dup != "" {
		return faults.New(faults.Consistency, "cache", key, fmt.Sprintf("duplicate resource %q", dup))
	}
	names := make([]string, len(e.Data.Modules))
	for i, m := range e.Data.Modules {
		names[i] = m.Name
	}
	if dup := duplicate(names); dup != "" {
		return faults.New(faults.Consistency, "cache", key, fmt.Sprintf("duplicate module %q", dup))
	}
	return nil
}

func duplicate(names []string) string {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return n
		}
		seen[n] = struct{}{}
	}
	return ""
}

// Store maps intent-type keys to entries. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewStore() *Store {
	return &Store{entries: map[string]*Entry{}}
}

func notCached(key string) error {
	return faults.New(faults.Consistency, "cache", key, "intent-type not cached")
}

// Has reports whether key is cached.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Get returns a deep copy of the entry.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Keys lists cached intent-types in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.entries)
}

// update applies fn to the entry under the write lock and verifies the
// invariants afterwards. A failed check leaves the entry unchanged.
func (s *Store) update(key string, fn func(e *Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return notCached(key)
	}
	work := e.clone()
	if err := fn(&work); err != nil {
		return err
	}
	if err := work.Check(key); err != nil {
		return err
	}
	s.entries[key] = &work
	return nil
}

// Seed records an intent-type seen in the catalog search. An existing entry
// only has its signed flag and labels refreshed.
func (s *Store) Seed(sum api.IntentTypeSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sum.Key()
	if e, ok := s.entries[key]; ok {
		e.Signed = sum.Signed()
		e.Data.Labels = slices.Clone(sum.Labels)
		return
	}
	s.entries[key] = newEntry(&api.IntentType{
		Name:    sum.Name,
		Version: int(sum.Version),
		Labels:  slices.Clone(sum.Labels),
	})
}

// Create adds an entry for a new catalog document, replacing any existing one.
func (s *Store) Create(doc *api.IntentType) error {
	e := newEntry(doc.Clone())
	e.Loaded = true
	if err := e.Check(doc.Key()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[doc.Key()] = e
	return nil
}

// Remove drops an entry.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// SetData replaces the catalog document. A zero ts keeps the timestamp.
func (s *Store) SetData(key string, doc *api.IntentType, ts time.Time) error {
	return s.update(key, func(e *Entry) error {
		e.Data = doc.Clone()
		e.Signed = doc.Signed()
		e.Loaded = true
		if !ts.IsZero() {
			e.Timestamp = ts
		}
		return nil
	})
}

// ReplaceIntents swaps all three intent facets for the given instances.
func (s *Store) ReplaceIntents(key string, intents []api.Intent) error {
	return s.update(key, func(e *Entry) error {
		e.Intents = make(map[string]json.RawMessage, len(intents))
		e.Desired = make(map[string]api.DesiredState, len(intents))
		e.Aligned = make(map[string]bool, len(intents))
		for _, in := range intents {
			e.Intents[in.Target] = slices.Clone(in.Data)
			e.Desired[in.Target] = in.Desired
			e.Aligned[in.Target] = in.Aligned
		}
		return nil
	})
}

// SetIntent stores new content for target and marks it misaligned. A new
// target starts in desired state active.
func (s *Store) SetIntent(key, target string, data json.RawMessage) error {
	return s.update(key, func(e *Entry) error {
		e.Intents[target] = slices.Clone(data)
		e.Aligned[target] = false
		if _, ok := e.Desired[target]; !ok {
			e.Desired[target] = api.Active
		}
		return nil
	})
}

// RemoveIntent drops target from all three facets.
func (s *Store) RemoveIntent(key, target string) error {
	return s.update(key, func(e *Entry) error {
		delete(e.Intents, target)
		delete(e.Desired, target)
		delete(e.Aligned, target)
		return nil
	})
}

// SetAligned records an alignment outcome. Unknown targets are ignored and
// reported as false.
func (s *Store) SetAligned(key, target string, aligned bool) (bool, error) {
	found := false
	err := s.update(key, func(e *Entry) error {
		if _, ok := e.Intents[target]; !ok {
			return nil
		}
		found = true
		e.Aligned[target] = aligned
		return nil
	})
	return found, err
}

// SetDesired records a desired-state change for a known target.
func (s *Store) SetDesired(key, target string, state api.DesiredState) error {
	return s.update(key, func(e *Entry) error {
		if _, ok := e.Intents[target]; !ok {
			return faults.New(faults.NotFound, "cache", key, fmt.Sprintf("intent %q not cached", target))
		}
		e.Desired[target] = state
		return nil
	})
}

// ReplaceViews swaps the views facet.
func (s *Store) ReplaceViews(key string, views []api.View) error {
	return s.update(key, func(e *Entry) error {
		e.Views = make(map[string]json.RawMessage, 2*len(views))
		for _, v := range views {
			e.Views[api.ViewConfigFile(v.Name)] = slices.Clone(v.Config)
			e.Views[api.SchemaFormFile(v.Name)] = slices.Clone(v.SchemaForm)
		}
		return nil
	})
}

// SetViewConfig stores the configuration of one view.
func (s *Store) SetViewConfig(key, view string, cfg json.RawMessage) error {
	return s.update(key, func(e *Entry) error {
		e.Views[api.ViewConfigFile(view)] = slices.Clone(cfg)
		return nil
	})
}

// RemoveView drops both documents of a view.
func (s *Store) RemoveView(key, view string) error {
	return s.update(key, func(e *Entry) error {
		delete(e.Views, api.ViewConfigFile(view))
		delete(e.Views, api.SchemaFormFile(view))
		return nil
	})
}

// EditData applies fn to a copy of the catalog document and stores it.
func (s *Store) EditData(key string, fn func(doc *api.IntentType)) error {
	return s.update(key, func(e *Entry) error {
		fn(e.Data)
		e.Signed = e.Data.Signed()
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
