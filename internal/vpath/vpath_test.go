package vpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/intentfs/internal/faults"
)

func TestResolveValid(t *testing.T) {
	tests := []struct {
		path string
		want Ref
	}{
		{"/", Ref{Kind: Root}},
		{"/l3vpn_v2", Ref{Kind: IntentType, Name: "l3vpn", Version: 2}},
		{"/my_v_type_v10", Ref{Kind: IntentType, Name: "my_v_type", Version: 10}},
		{"/l3vpn_v2/meta-info.json", Ref{Kind: MetaInfo, Name: "l3vpn", Version: 2}},
		{"/l3vpn_v2/script-content.mjs", Ref{Kind: Script, Name: "l3vpn", Version: 2, File: "script-content.mjs"}},
		{"/l3vpn_v2/yang-modules", Ref{Kind: Modules, Name: "l3vpn", Version: 2}},
		{"/l3vpn_v2/yang-modules/l3vpn.yang", Ref{Kind: Module, Name: "l3vpn", Version: 2, Item: "l3vpn.yang"}},
		{"/l3vpn_v2/intent-type-resources", Ref{Kind: Resources, Name: "l3vpn", Version: 2}},
		{"/l3vpn_v2/intent-type-resources/lib/sub/a.js", Ref{Kind: Resource, Name: "l3vpn", Version: 2, Item: "lib/sub/a.js"}},
		{"/l3vpn_v2/views", Ref{Kind: Views, Name: "l3vpn", Version: 2}},
		{"/l3vpn_v2/views/default.viewConfig", Ref{Kind: ViewConfig, Name: "l3vpn", Version: 2, Item: "default"}},
		{"/l3vpn_v2/views/default.schemaForm", Ref{Kind: SchemaForm, Name: "l3vpn", Version: 2, Item: "default"}},
		{"/l3vpn_v2/intents", Ref{Kind: Intents, Name: "l3vpn", Version: 2}},
		{"/l3vpn_v2/intents/1%2F1%2Fc1.json", Ref{Kind: Intent, Name: "l3vpn", Version: 2, Item: "1/1/c1"}},
		{"/l3vpn_v2/intents/foo%20copy.json", Ref{Kind: Intent, Name: "l3vpn", Version: 2, Item: "foo copy"}},
	}
	for _, tt := range tests {
		got, err := ResolvePath(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)

		again, _ := ResolvePath(tt.path)
		assert.Equal(t, got, again, "deterministic: %s", tt.path)
	}
}

func TestResolveInvalid(t *testing.T) {
	for _, p := range []string{
		"/L3vpn_v2",
		"/l3vpn",
		"/l3vpn_vx",
		"/a_v1",
		"/l3vpn_v2/unknown",
		"/l3vpn_v2/script-content.",
		"/l3vpn_v2/meta-info.json/extra",
		"/l3vpn_v2/yang-modules/a/b.yang",
		"/l3vpn_v2/yang-modules/..",
		"/l3vpn_v2/intent-type-resources/..",
		"/l3vpn_v2/intent-type-resources/../x",
		"/l3vpn_v2/intent-type-resources/a/../../b",
		"/l3vpn_v2/views/default",
		"/l3vpn_v2/views/.viewConfig",
		"/l3vpn_v2/views/x/y.viewConfig",
		"/l3vpn_v2/intents/target.txt",
		"/l3vpn_v2/intents/.json",
		"/l3vpn_v2/intents/a/b.json",
		"/l3vpn_v2/intents/bad%zz.json",
	} {
		_, err := ResolvePath(p)
		require.Error(t, err, p)
		assert.True(t, errors.Is(err, faults.Invalid), p)
	}
}

func TestResolveRejectsDotSegments(t *testing.T) {
	for _, segs := range [][]string{
		{"l3vpn_v2", "yang-modules", "."},
		{"l3vpn_v2", "yang-modules", ""},
		{"l3vpn_v2", "intent-type-resources", "a", "", "b"},
		{"l3vpn_v2", "intent-type-resources", "."},
	} {
		_, err := Resolve(segs)
		assert.ErrorIs(t, err, faults.Invalid, "%v", segs)
	}
}

func TestPathRoundTrip(t *testing.T) {
	for _, p := range []string{
		"/",
		"/l3vpn_v2",
		"/l3vpn_v2/meta-info.json",
		"/l3vpn_v2/script-content.js",
		"/l3vpn_v2/yang-modules/m.yang",
		"/l3vpn_v2/intent-type-resources/a/b/c.txt",
		"/l3vpn_v2/views/v.viewConfig",
		"/l3vpn_v2/views/v.schemaForm",
		"/l3vpn_v2/intents/1%2F1%2Fc1.json",
	} {
		ref, err := ResolvePath(p)
		require.NoError(t, err)
		assert.Equal(t, p, ref.Path())
	}
}

func TestParent(t *testing.T) {
	ref, err := ResolvePath("/tt_v1/intent-type-resources/a/b/c.txt")
	require.NoError(t, err)

	assert.Equal(t, "/tt_v1/intent-type-resources/a/b", ref.Parent().Path())
	assert.Equal(t, "/tt_v1/intent-type-resources", ref.Parent().Parent().Parent().Path())
	assert.Equal(t, "/tt_v1", ref.Parent().Parent().Parent().Parent().Path())

	intent, _ := ResolvePath("/tt_v1/intents/x.json")
	assert.Equal(t, Intents, intent.Parent().Kind)
}

func TestParseNewIntentType(t *testing.T) {
	name, v, ok := ParseNewIntentType("fresh_type")
	require.True(t, ok)
	assert.Equal(t, "fresh_type", name)
	assert.Equal(t, 1, v)

	name, v, ok = ParseNewIntentType("fresh_v3")
	require.True(t, ok)
	assert.Equal(t, "fresh", name)
	assert.Equal(t, 3, v)

	_, _, ok = ParseNewIntentType("Fresh")
	assert.False(t, ok)
	_, _, ok = ParseNewIntentType("x")
	assert.False(t, ok)
}
