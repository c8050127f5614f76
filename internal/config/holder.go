package config

import "sync"

// Holder publishes the current snapshot. Readers take a copy per operation,
// so a Swap affects subsequent operations only.
type Holder struct {
	mu      sync.RWMutex
	current Config
}

func NewHolder(initial Config) *Holder {
	return &Holder{current: initial}
}

// Get returns a copy of the current snapshot.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.current
	c.IgnoreLabels = append([]string(nil), h.current.IgnoreLabels...)
	return c
}

// Swap replaces the snapshot and returns the previous one.
func (h *Holder) Swap(next Config) Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.current
	h.current = next
	return prev
}
