// Package writeback prepares file content on its way between the tree and
// the remote catalog: rendering cached documents for reads, validating
// edited content and splicing it back into a full catalog document.
package writeback

import (
	"bytes"
	"encoding/json"
)

const indent = "  "

// Pretty re-indents a JSON document, preserving key order and number
// literals. Returns the input unchanged if it is not valid JSON.
func Pretty(raw []byte) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", indent); err != nil {
		return raw
	}
	return buf.Bytes()
}

// Canonical renders v pretty-printed with map keys in sorted order, so equal
// documents always render to equal bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Compact strips insignificant whitespace from a JSON document.
func Compact(raw []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
