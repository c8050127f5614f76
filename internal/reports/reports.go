// Package reports keeps the latest audit report per intent instance so a
// misalignment found by a bulk audit can be shown on demand afterwards.
package reports

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentic-research/intentfs/api"
)

// Report is one stored audit report.
type Report struct {
	IntentType string // "{name}_v{N}"
	Target     string
	Taken      time.Time
	Doc        api.AuditReport
}

// Misaligned reports whether the stored document has a misalignment section.
func (r Report) Misaligned() bool { return r.Doc.Misaligned() }

// Store persists reports. Put replaces the report of the same instance.
type Store interface {
	Put(ctx context.Context, r Report) error
	Get(ctx context.Context, intentType, target string) (Report, bool, error)
	List(ctx context.Context, intentType string) ([]Report, error)
	Close() error
}

type instance struct{ intentType, target string }

// MemoryStore is a Store that lives as long as the process.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[instance]Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: map[instance]Report{}}
}

func (m *MemoryStore) Put(_ context.Context, r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Doc = copyDoc(r.Doc)
	m.reports[instance{r.IntentType, r.Target}] = r
	return nil
}

func (m *MemoryStore) Get(_ context.Context, intentType, target string) (Report, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[instance{intentType, target}]
	if !ok {
		return Report{}, false, nil
	}
	r.Doc = copyDoc(r.Doc)
	return r, true, nil
}

// List returns the reports of intentType ordered by target. An empty
// intentType lists every report.
func (m *MemoryStore) List(_ context.Context, intentType string) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Report
	for k, r := range m.reports {
		if intentType != "" && k.intentType != intentType {
			continue
		}
		r.Doc = copyDoc(r.Doc)
		out = append(out, r)
	}
	sortReports(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyDoc(doc api.AuditReport) api.AuditReport {
	if doc == nil {
		return nil
	}
	out := make(api.AuditReport, len(doc))
	for k, v := range doc {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func sortReports(rs []Report) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].IntentType != rs[j].IntentType {
			return rs[i].IntentType < rs[j].IntentType
		}
		return rs[i].Target < rs[j].Target
	})
}
