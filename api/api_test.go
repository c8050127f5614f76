package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIntentType = `{
  "name": "l3vpn",
  "version": 3,
  "label": ["ArtifactAdmin", "L3"],
  "mapping-engine": "js-scripted",
  "date": "2024-03-08T10:15:30.000Z",
  "script-content": "function synchronize() {}",
  "module": [{"name": "l3vpn.yang", "yang-content": "module l3vpn {}"}],
  "resource": [{"name": "common/utils.js", "value": "x"}],
  "supports-health": "always",
  "priority": 50
}`

func TestIntentTypeRoundTrip(t *testing.T) {
	var it IntentType
	require.NoError(t, json.Unmarshal([]byte(sampleIntentType), &it))

	assert.Equal(t, "l3vpn", it.Name)
	assert.Equal(t, 3, it.Version)
	assert.Equal(t, "l3vpn_v3", it.Key())
	assert.True(t, it.Signed())
	assert.Equal(t, "script-content.js", it.ScriptFile())
	assert.Len(t, it.Extra, 2)

	out, err := json.Marshal(it)
	require.NoError(t, err)
	assert.JSONEq(t, sampleIntentType, string(out))
}

func TestIntentTypeVersionAsString(t *testing.T) {
	var it IntentType
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a1","version":"7"}`), &it))
	assert.Equal(t, 7, it.Version)
	assert.False(t, it.Signed())
	assert.Equal(t, "script-content.mjs", it.ScriptFile())
}

func TestIntentTypeCloneIsDeep(t *testing.T) {
	var it IntentType
	require.NoError(t, json.Unmarshal([]byte(sampleIntentType), &it))

	c := it.Clone()
	c.SetModule("l3vpn.yang", "changed")
	c.SetResource("new.txt", "n")
	c.Labels[0] = "other"

	m, _ := it.Module("l3vpn.yang")
	assert.Equal(t, "module l3vpn {}", m.YangContent)
	assert.Len(t, it.Resources, 1)
	assert.True(t, it.Signed())
}

func TestModuleAndResourceEditing(t *testing.T) {
	it := &IntentType{Name: "x1", Version: 1}
	it.SetResource("a/b.js", "1")
	it.SetResource("a/b.js", "2")
	require.Len(t, it.Resources, 1)
	assert.Equal(t, "2", it.Resources[0].Value)

	assert.True(t, it.RemoveResource("a/b.js"))
	assert.False(t, it.RemoveResource("a/b.js"))

	it.SetModule("m.yang", "y")
	assert.True(t, it.RemoveModule("m.yang"))
	assert.Empty(t, it.Modules)
}

func TestSplitKey(t *testing.T) {
	name, v, ok := SplitKey("my_type_v12")
	require.True(t, ok)
	assert.Equal(t, "my_type", name)
	assert.Equal(t, 12, v)

	_, _, ok = SplitKey("Bad_v1")
	assert.False(t, ok)
	_, _, ok = SplitKey("novers")
	assert.False(t, ok)
}

func TestIntentDecode(t *testing.T) {
	var in Intent
	require.NoError(t, json.Unmarshal([]byte(`{
		"target": "1/1/c1",
		"aligned": "true",
		"required-network-state": "custom",
		"custom-required-network-state": "planned",
		"intent-specific-data": {"port": {"mtu": 9000}}
	}`), &in))

	assert.Equal(t, "1/1/c1", in.Target)
	assert.True(t, in.Aligned)
	assert.Equal(t, Planned, in.Desired)
	assert.JSONEq(t, `{"port":{"mtu":9000}}`, string(in.Data))
}

func TestIntentFileEscaping(t *testing.T) {
	for _, target := range []string{"simple", "1/1/c1", "a b%c", "näme?x#y"} {
		name := IntentFile(target)
		assert.NotContains(t, name, "/")
		back, err := UnescapeTarget(name[:len(name)-len(".json")])
		require.NoError(t, err)
		assert.Equal(t, target, back)
	}
}

func TestEscapeTargetComponentForm(t *testing.T) {
	for target, want := range map[string]string{
		"1/1/c1":     "1%2F1%2Fc1",
		"a b":        "a%20b",
		"pe(1)!*'":   "pe(1)!*'",
		"x+y&z=1":    "x%2By%26z%3D1",
		"node~_-.ok": "node~_-.ok",
	} {
		assert.Equal(t, want, EscapeTarget(target), target)
		back, err := UnescapeTarget(want)
		require.NoError(t, err)
		assert.Equal(t, target, back)
	}
}

func TestDesiredStates(t *testing.T) {
	d, err := ParseDesiredState("Not Present")
	require.NoError(t, err)
	assert.Equal(t, Delete, d)
	assert.True(t, d.Native())
	assert.False(t, Planned.Native())
	assert.Equal(t, "Suspended", Suspend.Label())

	_, err = ParseDesiredState("gone")
	assert.Error(t, err)
}

func TestAuditReport(t *testing.T) {
	aligned := AuditReport{"audit-time": json.RawMessage(`"x"`)}
	assert.False(t, aligned.Misaligned())

	var r AuditReport
	require.NoError(t, json.Unmarshal([]byte(`{
		"misaligned-object": [{"object-id": "/conf/port=1%2F1%2Fc1", "is-configured": true, "device-name": "pe1"}]
	}`), &r))
	require.True(t, r.Misaligned())

	f := r.Findings()
	require.Len(t, f, 1)
	assert.Equal(t, "/conf/port=1/1/c1", f[0].ObjectID)
	assert.Equal(t, "pe1", f[0].DeviceName)
	assert.True(t, f[0].IsConfigured)
}

func TestRelease(t *testing.T) {
	r, err := ParseRelease("NSP 23.11.0-rel.121")
	require.NoError(t, err)
	assert.Equal(t, Release{23, 11, 0}, r)
	assert.True(t, r.AtLeast(23, 11))
	assert.False(t, r.AtLeast(24, 4))
	assert.True(t, Release{24, 4, 0}.AtLeast(23, 11))

	_, err = ParseRelease("unknown")
	assert.Error(t, err)
	assert.True(t, Release{}.IsZero())
}

func TestParseLogEntry(t *testing.T) {
	e, err := ParseLogEntry(`{"date": 1700000000123, "level": "INFO", "target": "pe1",
		"intent_type": "icmp", "intent_type_version": 2,
		"message": "[ScriptedEngine] [icmp] [2] [pe1] audit done"}`)
	require.NoError(t, err)

	assert.Equal(t, "2", e.Version)
	assert.Equal(t, "audit done", e.Message)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), e.Time)
	assert.Contains(t, e.String(), "INFO\t[icmp_v2 pe1] audit done")
}
