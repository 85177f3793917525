package graph

import (
	"path/filepath"
	"strings"
)

// UnitKind classifies a declaration extracted from a source file.
type UnitKind string

const (
	UnitFunction  UnitKind = "function"
	UnitMethod    UnitKind = "method"
	UnitClass     UnitKind = "class"
	UnitType      UnitKind = "type"
	UnitInterface UnitKind = "interface"
)

// Testable reports whether units of this kind get generated tests.
func (k UnitKind) Testable() bool {
	return k == UnitFunction || k == UnitMethod
}

// EdgeKind classifies relationships in the analysis index.
type EdgeKind string

const (
	EdgeDeclares EdgeKind = "DECLARES"
	EdgeImports  EdgeKind = "IMPORTS"
)

// Language identifies a programming language for parsing.
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangRust       Language = "rust"
)

// Languages lists every language the analysis stage understands.
var Languages = []Language{LangGo, LangTypeScript, LangPython, LangRust}

var extensions = map[string]Language{
	".go":  LangGo,
	".ts":  LangTypeScript,
	".tsx": LangTypeScript,
	".mts": LangTypeScript,
	".py":  LangPython,
	".rs":  LangRust,
}

// LanguageForPath maps a file name to its language by extension. Generated
// test files and declaration files are not source for analysis.
func LanguageForPath(path string) (Language, bool) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasSuffix(base, ".d.ts"),
		strings.HasSuffix(base, ".test.ts"),
		strings.HasSuffix(base, ".spec.ts"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
		return "", false
	}
	lang, ok := extensions[filepath.Ext(base)]
	return lang, ok
}

// ParseLanguage accepts a language name as written in configuration.
func ParseLanguage(s string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "go", "golang":
		return LangGo, true
	case "ts", "typescript":
		return LangTypeScript, true
	case "py", "python":
		return LangPython, true
	case "rs", "rust":
		return LangRust, true
	}
	return "", false
}

// FileNode is one analyzed source file.
type FileNode struct {
	Path     string   `json:"path"`
	Language Language `json:"language"`
	LOC      int      `json:"loc"`
}

// UnitNode is a declaration inside a file. Receiver names the enclosing type
// for methods.
type UnitNode struct {
	Name      string   `json:"name"`
	Kind      UnitKind `json:"kind"`
	Receiver  string   `json:"receiver,omitempty"`
	Exported  bool     `json:"exported"`
	FilePath  string   `json:"filePath"`
	StartLine int      `json:"startLine"`
	EndLine   int      `json:"endLine"`
}

// ID is the unit's key within the index. Methods are qualified by receiver
// so that same-named methods on different types stay distinct.
func (u UnitNode) ID() string {
	if u.Receiver != "" {
		return u.FilePath + ":" + u.Receiver + "." + u.Name
	}
	return u.FilePath + ":" + u.Name
}

// QualifiedName is Receiver.Name for methods and Name otherwise.
func (u UnitNode) QualifiedName() string {
	if u.Receiver != "" {
		return u.Receiver + "." + u.Name
	}
	return u.Name
}

// Edge is a relationship between a file and a unit or an imported module.
type Edge struct {
	SourceID string   `json:"sourceId"`
	TargetID string   `json:"targetId"`
	Kind     EdgeKind `json:"kind"`
}

// IndexStats summarizes an analysis index.
type IndexStats struct {
	Files         int              `json:"files"`
	Units         int              `json:"units"`
	TestableUnits int              `json:"testableUnits"`
	Edges         int              `json:"edges"`
	LOC           int              `json:"loc"`
	ByLanguage    map[Language]int `json:"byLanguage"`
}
