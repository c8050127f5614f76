package api

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Release is the platform release the remote side runs.
type Release struct {
	Major int
	Minor int
	Patch int
}

var releasePattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// ParseRelease extracts "major.minor.patch" from a version banner such as
// "NSP 24.4.0 (build 117)".
func ParseRelease(s string) (Release, error) {
	m := releasePattern.FindStringSubmatch(s)
	if m == nil {
		return Release{}, fmt.Errorf("no release number in %q", s)
	}
	var r Release
	r.Major, _ = strconv.Atoi(m[1])
	r.Minor, _ = strconv.Atoi(m[2])
	r.Patch, _ = strconv.Atoi(m[3])
	return r, nil
}

func (r Release) String() string { return fmt.Sprintf("%d.%d.%d", r.Major, r.Minor, r.Patch) }

// IsZero reports whether the release is unknown.
func (r Release) IsZero() bool { return r == Release{} }

// AtLeast reports whether r is major.minor or newer.
func (r Release) AtLeast(major, minor int) bool {
	if r.Major != major {
		return r.Major > major
	}
	return r.Minor >= minor
}

// LogEntry is one scripted-engine log line.
type LogEntry struct {
	Time       time.Time
	Level      string
	Target     string
	IntentType string
	Version    string
	Message    string
}

type wireLogEntry struct {
	Date       int64           `json:"date"`
	Level      string          `json:"level"`
	Target     string          `json:"target"`
	IntentType string          `json:"intent_type"`
	Version    json.RawMessage `json:"intent_type_version"`
	Message    string          `json:"message"`
}

// ParseLogEntry decodes the JSON log document carried in a search hit.
func ParseLogEntry(doc string) (LogEntry, error) {
	var w wireLogEntry
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return LogEntry{}, fmt.Errorf("parse log entry: %w", err)
	}
	e := LogEntry{
		Time:       time.UnixMilli(w.Date).UTC(),
		Level:      w.Level,
		Target:     w.Target,
		IntentType: w.IntentType,
		Version:    strings.Trim(string(w.Version), `"`),
	}
	// drop the "[logger]" prefix and the tags the script logger repeats
	msg := w.Message
	if i := strings.Index(msg, "]"); i >= 0 {
		msg = msg[i+1:]
	}
	for _, tag := range []string{e.IntentType, e.Version, e.Target} {
		if tag != "" {
			msg = strings.Replace(msg, "["+tag+"]", "", 1)
		}
	}
	e.Message = strings.TrimSpace(msg)
	return e, nil
}

// String formats the entry as "HH:MM:SS.mmmZ LEVEL\t[type_vN target] message".
func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s\t[%s_v%s %s] %s",
		e.Time.Format("15:04:05.000Z"), e.Level, e.IntentType, e.Version, e.Target, e.Message)
}
