package reports

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/intentfs/api"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemoryStore(), "sqlite": sq}
}

func misalignedDoc() api.AuditReport {
	return api.AuditReport{
		"target":               json.RawMessage(`"pe1"`),
		"misaligned-attribute": json.RawMessage(`[{"name":"mtu","expected-value":"9000","actual-value":"1500"}]`),
	}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	taken := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "l3vpn_v1", "pe1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, Report{IntentType: "l3vpn_v1", Target: "pe1", Taken: taken, Doc: misalignedDoc()}))
			r, ok, err := s.Get(ctx, "l3vpn_v1", "pe1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, r.Misaligned())
			assert.True(t, taken.Equal(r.Taken))
			require.Len(t, r.Doc.Findings(), 1)
			assert.Equal(t, "mtu", r.Doc.Findings()[0].Name)

			// replaced by the next audit
			require.NoError(t, s.Put(ctx, Report{IntentType: "l3vpn_v1", Target: "pe1", Taken: taken.Add(time.Minute),
				Doc: api.AuditReport{"target": json.RawMessage(`"pe1"`)}}))
			r, _, err = s.Get(ctx, "l3vpn_v1", "pe1")
			require.NoError(t, err)
			assert.False(t, r.Misaligned())
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, r := range []Report{
				{IntentType: "l3vpn_v1", Target: "pe2", Doc: misalignedDoc()},
				{IntentType: "l3vpn_v1", Target: "pe1", Doc: api.AuditReport{}},
				{IntentType: "icmp_v2", Target: "n1", Doc: api.AuditReport{}},
			} {
				require.NoError(t, s.Put(ctx, r))
			}

			got, err := s.List(ctx, "l3vpn_v1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "pe1", got[0].Target)
			assert.Equal(t, "pe2", got[1].Target)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "icmp_v2", all[0].IntentType)
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc := misalignedDoc()
	require.NoError(t, s.Put(ctx, Report{IntentType: "a_v1", Target: "t", Doc: doc}))
	delete(doc, "misaligned-attribute")

	r, _, err := s.Get(ctx, "a_v1", "t")
	require.NoError(t, err)
	assert.True(t, r.Misaligned())
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reports.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Report{IntentType: "a_v1", Target: "t", Taken: time.Unix(100, 0), Doc: misalignedDoc()}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	r, ok, err := s.Get(ctx, "a_v1", "t")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.Misaligned())
}
