package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// ValidationError contains structured information about a syntax error.
type ValidationError struct {
	FilePath string
	Line     uint32 // 0-indexed
	Column   uint32 // 0-indexed
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line+1, e.Column+1, e.Message)
}

// Validate checks content before it is uploaded. Intent scripts are parsed
// with tree-sitter, JSON documents (meta-info, intents, view configs) with
// encoding/json. Other files (YANG modules, plain resources) pass through.
func Validate(content []byte, filePath string) error {
	switch kindForPath(filePath) {
	case kindScript:
		return validateScript(content, filePath)
	case kindJSON:
		return validateJSON(content, filePath)
	}
	return nil
}

func validateScript(content []byte, filePath string) error {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return fmt.Errorf("tree-sitter parse failed for %s: %w", filePath, err)
	}

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("tree-sitter returned nil root for %s", filePath)
	}
	if !root.HasError() {
		return nil
	}

	// Walk tree to find first ERROR node for a useful error message
	if errNode := findFirstError(root); errNode != nil {
		return &ValidationError{
			FilePath: filePath,
			Line:     errNode.StartPoint().Row,
			Column:   errNode.StartPoint().Column,
			Message:  "syntax error in script",
		}
	}
	return &ValidationError{FilePath: filePath, Message: "script contains errors"}
}

func validateJSON(content []byte, filePath string) error {
	var v any
	err := json.Unmarshal(content, &v)
	if err == nil {
		return nil
	}
	ve := &ValidationError{FilePath: filePath, Message: err.Error()}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		ve.Line, ve.Column = position(content, se.Offset)
		ve.Message = "invalid JSON: " + se.Error()
	}
	return ve
}

// position converts a byte offset into a 0-indexed line and column.
func position(content []byte, offset int64) (line, col uint32) {
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	for _, b := range content[:offset] {
		if b == '\n' {
			line++
			col = 0
			continue
		}
		col++
	}
	if col > 0 {
		col--
	}
	return line, col
}

// ScriptErrors returns all ERROR node locations in a script for diagnostic
// reporting. Returns nil if there are none.
func ScriptErrors(content []byte, filePath string) []ValidationError {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil
	}
	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}

	var errs []ValidationError
	collectErrors(root, filePath, &errs)
	return errs
}

// findFirstError does a depth-first search for the first ERROR node.
func findFirstError(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			if found := findFirstError(child); found != nil {
				return found
			}
		}
	}
	return nil
}

func collectErrors(node *sitter.Node, filePath string, errs *[]ValidationError) {
	if node.IsError() || node.IsMissing() {
		*errs = append(*errs, ValidationError{
			FilePath: filePath,
			Line:     node.StartPoint().Row,
			Column:   node.StartPoint().Column,
			Message:  "syntax error in script",
		})
		return // don't recurse into error children
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			collectErrors(child, filePath, errs)
		}
	}
}

type contentKind int

const (
	kindOpaque contentKind = iota
	kindScript
	kindJSON
)

func kindForPath(filePath string) contentKind {
	base := filepath.Base(filePath)
	if strings.HasPrefix(base, "script-content.") {
		return kindScript
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".js", ".mjs":
		return kindScript
	case ".json", ".viewconfig":
		return kindJSON
	}
	return kindOpaque
}
