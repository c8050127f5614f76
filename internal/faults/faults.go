// Package faults defines the error taxonomy shared by every intentfs layer.
//
// Errors carry a Kind that callers match with errors.Is against the exported
// Kind values, e.g. errors.Is(err, faults.Permission). Timeout is a
// Connectivity sub-kind, so matching Connectivity also catches timeouts.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	// Connectivity: remote unreachable or the call was aborted.
	Connectivity
	// Timeout: no response within the per-call deadline.
	Timeout
	// Authentication: no valid token obtainable.
	Authentication
	// Rejected: the remote answered with a non-2xx status.
	Rejected
	// Permission: mutation of a read-only artifact or a prohibited path shape.
	Permission
	// Consistency: internal fault, e.g. a parent that was never listed.
	Consistency
	NotFound
	Invalid
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	Connectivity:   "service unavailable",
	Timeout:        "no response within timeout",
	Authentication: "authentication failed",
	Rejected:       "rejected by remote",
	Permission:     "permission denied",
	Consistency:    "internal consistency fault",
	NotFound:       "not found",
	Invalid:        "invalid",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error implements error so a Kind can be used directly as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string // operation, e.g. "write" or "audit"
	Path   string // virtual path or remote path, if any
	Status int    // HTTP status for Rejected
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return e.Op + ": " + msg
	case e.Path != "":
		return e.Path + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches Kind targets. A Timeout error also matches Connectivity.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	if k == e.Kind {
		return true
	}
	return k == Connectivity && e.Kind == Timeout
}

// New returns an error of the given kind.
func New(kind Kind, op, path, msg string) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Status returns the HTTP status carried by a Rejected error, or 0.
func Status(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}
