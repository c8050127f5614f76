package remote

import (
	"encoding/json"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/intentfs/internal/faults"
)

var (
	restconfMessage = jp.MustParseString(`$..error[0]['error-message']`)
	plainMessage    = jp.MustParseString(`$.message`)
)

// RejectionMessage extracts the human-readable message from an error body:
// the first error-message of a RESTCONF error list, else a top-level
// "message", else the raw body.
func RejectionMessage(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, x := range []jp.Expr{restconfMessage, plainMessage} {
			if s, ok := x.First(doc).(string); ok && s != "" {
				return s
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	return truncate([]byte(msg))
}

// Rejection converts a non-2xx response into a faults.Rejected error.
func Rejection(op, path string, resp *Response) error {
	return &faults.Error{
		Kind:   faults.Rejected,
		Op:     op,
		Path:   path,
		Status: resp.Status,
		Msg:    RejectionMessage(resp.Body),
	}
}
