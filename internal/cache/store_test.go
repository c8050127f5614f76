package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.Seed(api.IntentTypeSummary{Name: "icmp", Version: 1, Labels: []string{"ArtifactAdmin"}})
	return s
}

func TestSeedAndGet(t *testing.T) {
	s := seeded(t)

	e, ok := s.Get("icmp_v1")
	require.True(t, ok)
	assert.True(t, e.Signed)
	assert.False(t, e.Loaded)
	assert.Equal(t, "icmp", e.Data.Name)
	assert.Equal(t, []string{"icmp_v1"}, s.Keys())

	// reseeding refreshes the signed flag only
	s.Seed(api.IntentTypeSummary{Name: "icmp", Version: 1})
	e, _ = s.Get("icmp_v1")
	assert.False(t, e.Signed)
}

func TestGetReturnsCopy(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.SetIntent("icmp_v1", "pe1", json.RawMessage(`{"a":1}`)))

	e, _ := s.Get("icmp_v1")
	e.Intents["pe1"][2] = 'X'
	e.Data.Name = "mutated"
	delete(e.Aligned, "pe1")

	again, _ := s.Get("icmp_v1")
	assert.JSONEq(t, `{"a":1}`, string(again.Intents["pe1"]))
	assert.Equal(t, "icmp", again.Data.Name)
	assert.Contains(t, again.Aligned, "pe1")
}

func TestSetDataChecksKey(t *testing.T) {
	s := seeded(t)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	doc := &api.IntentType{Name: "icmp", Version: 1, Script: "x"}
	require.NoError(t, s.SetData("icmp_v1", doc, ts))
	e, _ := s.Get("icmp_v1")
	assert.True(t, e.Loaded)
	assert.Equal(t, ts, e.Timestamp)
	assert.False(t, e.Signed)

	err := s.SetData("icmp_v1", &api.IntentType{Name: "icmp", Version: 2}, ts)
	assert.True(t, errors.Is(err, faults.Consistency))

	err = s.SetData("other_v1", doc, ts)
	assert.True(t, errors.Is(err, faults.Consistency))
}

func TestDuplicateResourceRejected(t *testing.T) {
	s := seeded(t)
	doc := &api.IntentType{Name: "icmp", Version: 1, Resources: []api.Resource{{Name: "a"}, {Name: "a"}}}
	err := s.SetData("icmp_v1", doc, time.Time{})
	assert.True(t, errors.Is(err, faults.Consistency))

	e, _ := s.Get("icmp_v1")
	assert.False(t, e.Loaded, "failed update leaves the entry unchanged")
}

func TestIntentFacetsStayInSync(t *testing.T) {
	s := seeded(t)
	key := "icmp_v1"

	require.NoError(t, s.ReplaceIntents(key, []api.Intent{
		{Target: "pe1", Data: json.RawMessage(`{}`), Desired: api.Suspend, Aligned: true},
		{Target: "pe2", Data: json.RawMessage(`{}`), Desired: api.Active, Aligned: false},
	}))
	e, _ := s.Get(key)
	require.NoError(t, e.Check(key))
	assert.Equal(t, []string{"pe1", "pe2"}, e.Targets())

	require.NoError(t, s.SetIntent(key, "pe1", json.RawMessage(`{"x":1}`)))
	require.NoError(t, s.SetIntent(key, "pe3", json.RawMessage(`{}`)))
	e, _ = s.Get(key)
	assert.False(t, e.Aligned["pe1"])
	assert.Equal(t, api.Suspend, e.Desired["pe1"], "update keeps desired state")
	assert.Equal(t, api.Active, e.Desired["pe3"], "new intents start active")

	require.NoError(t, s.RemoveIntent(key, "pe2"))
	e, _ = s.Get(key)
	assert.NotContains(t, e.Intents, "pe2")
	assert.NotContains(t, e.Desired, "pe2")
	assert.NotContains(t, e.Aligned, "pe2")
	require.NoError(t, e.Check(key))

	// replace drops stale targets
	require.NoError(t, s.ReplaceIntents(key, []api.Intent{{Target: "pe3", Data: json.RawMessage(`{}`)}}))
	e, _ = s.Get(key)
	assert.Equal(t, []string{"pe3"}, e.Targets())
	assert.Len(t, e.Desired, 1)
	assert.Len(t, e.Aligned, 1)
}

func TestSetAlignedAndDesired(t *testing.T) {
	s := seeded(t)
	key := "icmp_v1"
	require.NoError(t, s.SetIntent(key, "pe1", json.RawMessage(`{}`)))

	found, err := s.SetAligned(key, "pe1", true)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.SetAligned(key, "ghost", true)
	require.NoError(t, err)
	assert.False(t, found)
	e, _ := s.Get(key)
	require.NoError(t, e.Check(key), "unknown target not added to one facet")

	require.NoError(t, s.SetDesired(key, "pe1", api.Planned))
	assert.True(t, errors.Is(s.SetDesired(key, "ghost", api.Planned), faults.NotFound))
}

func TestViews(t *testing.T) {
	s := seeded(t)
	key := "icmp_v1"
	require.NoError(t, s.ReplaceViews(key, []api.View{
		{Name: "default", Config: json.RawMessage(`{}`), SchemaForm: json.RawMessage(`{"s":1}`)},
	}))
	e, _ := s.Get(key)
	assert.Len(t, e.Views, 2)

	require.NoError(t, s.SetViewConfig(key, "default", json.RawMessage(`{"c":2}`)))
	require.NoError(t, s.RemoveView(key, "default"))
	e, _ = s.Get(key)
	assert.Empty(t, e.Views)
}

func TestUnknownKeyIsConsistencyFault(t *testing.T) {
	s := NewStore()
	err := s.ReplaceIntents("nope_v1", nil)
	assert.True(t, errors.Is(err, faults.Consistency))
}

func TestResourceChildren(t *testing.T) {
	names := []string{"a.js", "lib/b.js", "lib/sub/c.js", "lib/sub/d.js", "other/e.txt"}

	files, dirs := ResourceChildren(names, "")
	assert.Equal(t, []string{"a.js"}, files)
	assert.Equal(t, []string{"lib", "other"}, dirs)

	files, dirs = ResourceChildren(names, "lib")
	assert.Equal(t, []string{"b.js"}, files)
	assert.Equal(t, []string{"sub"}, dirs)

	files, dirs = ResourceChildren(names, "lib/sub")
	assert.Equal(t, []string{"c.js", "d.js"}, files)
	assert.Empty(t, dirs)

	assert.True(t, IsResourceDir(names, "lib/sub"))
	assert.False(t, IsResourceDir(names, "lib/b.js"))
	assert.False(t, IsResourceDir(names, "li"))
}
