package cmd

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/remote/remotetest"
	"github.com/agentic-research/intentfs/internal/writeback"
)

func newCLI(t *testing.T) (*remotetest.Catalog, string) {
	t.Helper()
	cat := remotetest.NewCatalog(t)
	cat.AddIntentType(map[string]any{
		"name":           "l3vpn",
		"version":        1,
		"mapping-engine": "js-scripted",
		"script-content": "var x = 1;",
		"module":         []any{map[string]any{"name": "l3vpn.yang", "yang-content": "module l3vpn {}"}},
	})
	cat.AddIntent("l3vpn", "pe1", map[string]any{"vpn-id": 1}, "active", true)

	prev := newHTTPClient
	newHTTPClient = func(config.Config) *http.Client { return cat.HTTPClient() }
	t.Cleanup(func() { newHTTPClient = prev })
	t.Setenv("INTENTFS_PASSWORD", "secret")

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("address: "+cat.Address()+"\n"), 0o644))
	return cat, cfgFile
}

func execute(t *testing.T, cfgFile string, args ...string) (string, error) {
	t.Helper()
	longListing, remoteReport, listReports, assumeYes = false, false, false, false
	intentsOf, address, logLevel = "", "", ""
	var out bytes.Buffer
	err := run(append([]string{"--config", cfgFile, "--env-file", ""}, args...), &out)
	return out.String(), err
}

func TestListAndCat(t *testing.T) {
	_, cfg := newCLI(t)

	out, err := execute(t, cfg, "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "l3vpn_v1/")

	out, err = execute(t, cfg, "ls", "/l3vpn_v1/intents")
	require.NoError(t, err)
	assert.Contains(t, out, "pe1.json")

	out, err = execute(t, cfg, "cat", "/l3vpn_v1/intents/pe1.json")
	require.NoError(t, err)
	assert.Contains(t, out, `"vpn-id"`)

	out, err = execute(t, cfg, "cat", "/l3vpn_v1/yang-modules/l3vpn.yang")
	require.NoError(t, err)
	assert.Equal(t, "module l3vpn {}", out)
}

func TestCatMissing(t *testing.T) {
	_, cfg := newCLI(t)

	_, err := execute(t, cfg, "cat", "/l3vpn_v1/intents/nope.json")
	assert.ErrorIs(t, err, faults.NotFound)
}

func TestPutUpdatesIntent(t *testing.T) {
	cat, cfg := newCLI(t)
	local := filepath.Join(t.TempDir(), "pe1.json")
	require.NoError(t, os.WriteFile(local, []byte(`{"vpn-id": 7}`), 0o644))

	out, err := execute(t, cfg, "put", "/l3vpn_v1/intents/pe1.json", local)
	require.NoError(t, err)
	assert.Contains(t, out, "updated")

	in, ok := cat.Intent("l3vpn", "pe1")
	require.True(t, ok)
	assert.JSONEq(t, `{"vpn-id": 7}`, string(in.Data))
}

func TestAuditAndReport(t *testing.T) {
	cat, cfg := newCLI(t)
	cat.SetReport("l3vpn", "pe1", map[string]any{
		"misaligned-attribute": []any{map[string]any{
			"object-id":      "/nokia-conf:configure/port=1%2F1%2Fc1",
			"name":           "admin-state",
			"expected-value": "enable",
			"actual-value":   "disable",
		}},
	})

	out, err := execute(t, cfg, "audit", "/l3vpn_v1")
	require.NoError(t, err, "a misaligned intent is not a failure")
	assert.Contains(t, out, "misaligned")

	out, err = execute(t, cfg, "report", "--remote", "/l3vpn_v1/intents/pe1.json")
	require.NoError(t, err)
	assert.Contains(t, out, "misaligned-attribute:")
	assert.Contains(t, out, "/nokia-conf:configure/port=1/1/c1 admin-state")
	assert.Contains(t, out, `expected "enable", actual "disable"`)
}

func TestReportNeedsAudit(t *testing.T) {
	_, cfg := newCLI(t)

	_, err := execute(t, cfg, "report", "/l3vpn_v1/intents/pe1.json")
	assert.ErrorIs(t, err, faults.NotFound)
}

func TestSyncFailureIsReported(t *testing.T) {
	cat, cfg := newCLI(t)
	cat.JSON(http.MethodPost, "/restconf/data/ibn:ibn/intent=pe1,l3vpn/synchronize",
		http.StatusInternalServerError, remotetest.RestconfError("engine down"))

	out, err := execute(t, cfg, "sync", "/l3vpn_v1/intents/pe1.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.Rejected)
	assert.Contains(t, out, "failed")
}

func TestStateInvalid(t *testing.T) {
	_, cfg := newCLI(t)

	_, err := execute(t, cfg, "state", "bogus", "/l3vpn_v1")
	assert.ErrorIs(t, err, faults.Invalid)
}

func TestStateSuspend(t *testing.T) {
	cat, cfg := newCLI(t)

	_, err := execute(t, cfg, "state", "suspend", "/l3vpn_v1/intents/pe1.json")
	require.NoError(t, err)
	in, _ := cat.Intent("l3vpn", "pe1")
	assert.Equal(t, "suspend", in.State)
}

func TestVersionAndURL(t *testing.T) {
	_, cfg := newCLI(t)

	out, err := execute(t, cfg, "version")
	require.NoError(t, err)
	assert.Equal(t, "24.4.0\n", out)

	out, err = execute(t, cfg, "url", "/l3vpn_v1")
	require.NoError(t, err)
	assert.Equal(t, "https://nsp.test/web/intent-manager/intent-types/intents-list?intentTypeId=l3vpn&version=1\n", out)
}

func TestMkdirScaffolds(t *testing.T) {
	cat, cfg := newCLI(t)

	_, err := execute(t, cfg, "mkdir", "icmp")
	require.NoError(t, err)
	doc, ok := cat.IntentType("icmp", 1)
	require.True(t, ok)
	assert.Equal(t, "js-scripted-graal", doc["mapping-engine"])
}

func TestSessionRevokedAfterRun(t *testing.T) {
	cat, cfg := newCLI(t)

	_, err := execute(t, cfg, "ls")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cat.Revocations.Load())
	assert.Nil(t, current)
}

func TestMissingAddress(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("port: \"8545\"\n"), 0o644))
	t.Setenv("INTENTFS_ADDRESS", "")

	_, err := execute(t, cfgFile, "ls")
	assert.ErrorContains(t, err, "address is required")
}

func TestScaffoldScriptIsValid(t *testing.T) {
	doc, err := scaffolder{}.Scaffold(t.Context(), "icmp", 2)
	require.NoError(t, err)
	assert.Equal(t, "icmp_v2", doc.Key())
	assert.Equal(t, "script-content.mjs", doc.ScriptFile())
	require.NoError(t, writeback.Validate([]byte(doc.Script), doc.ScriptFile()))
	require.Len(t, doc.Modules, 1)
	assert.Contains(t, doc.Modules[0].YangContent, "module icmp {")
}

func TestFormatLogs(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := func(offset time.Duration, msg string) api.LogEntry {
		return api.LogEntry{Time: base.Add(offset), Level: "INFO", IntentType: "l3vpn", Version: "1", Target: "pe1", Message: msg}
	}
	// newest first, as the log store returns them
	lines := formatLogs([]api.LogEntry{
		entry(90*time.Second, "third"),
		entry(10*time.Second, "second"),
		entry(0, "first"),
	})
	require.Len(t, lines, 4)
	assert.Equal(t, "10:00:00.000Z INFO\t[l3vpn_v1 pe1] first", lines[0])
	assert.Contains(t, lines[1], "second")
	assert.Equal(t, "", lines[2])
	assert.Contains(t, lines[3], "third")
}

func TestMountMetadata(t *testing.T) {
	dir := t.TempDir()
	prev := mountsDir
	mountsDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { mountsDir = prev })

	live := &MountMetadata{PID: os.Getpid(), Address: "nsp.test", MountPoint: "/mnt/nsp", Backend: "nfs", Port: 2049, Timestamp: time.Now().UTC()}
	require.NoError(t, saveMountMetadata(live))
	require.NoError(t, saveMountMetadata(&MountMetadata{PID: 0, MountPoint: "/mnt/stale", Backend: "fuse"}))

	got, err := loadMountMetadata("/mnt/nsp")
	require.NoError(t, err)
	assert.Equal(t, 2049, got.Port)
	assert.True(t, got.Timestamp.Equal(live.Timestamp))

	mounts, err := listActiveMounts()
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, "/mnt/nsp", mounts[0].MountPoint)

	_, err = loadMountMetadata("/mnt/stale")
	assert.ErrorIs(t, err, os.ErrNotExist, "stale sidecars are removed")

	removeMountMetadata("/mnt/nsp")
	mounts, err = listActiveMounts()
	require.NoError(t, err)
	assert.Empty(t, mounts)
}

func TestMountName(t *testing.T) {
	assert.Regexp(t, `^nsp-[0-9a-f]{6}$`, mountName("/mnt/nsp"))
	assert.NotEqual(t, mountName("/a/nsp"), mountName("/b/nsp"))
}
