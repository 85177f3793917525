package graph

import (
	"context"
	"errors"
	"fmt"
)

// ErrSyntax marks a file the parser could not read cleanly.
var ErrSyntax = errors.New("graph: syntax error")

// SyntaxError locates the first malformed region of a file.
type SyntaxError struct {
	Path string
	Line int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: syntax error", e.Path, e.Line)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// ParseResult holds the declarations and imports extracted from one file.
type ParseResult struct {
	File    FileNode   `json:"file"`
	Units   []UnitNode `json:"units"`
	Imports []string   `json:"imports"`
}

// Testable returns the units that should receive generated tests.
func (r *ParseResult) Testable() []UnitNode {
	var out []UnitNode
	for _, u := range r.Units {
		if u.Kind.Testable() {
			out = append(out, u)
		}
	}
	return out
}

// Parser extracts structural information from source files.
type Parser interface {
	// Parse extracts declarations and imports from a single file. A file with
	// syntax errors yields a *SyntaxError.
	Parse(ctx context.Context, path string, source []byte, lang Language) (*ParseResult, error)

	// SupportedLanguages returns the languages this parser can handle.
	SupportedLanguages() []Language

	Close() error
}
