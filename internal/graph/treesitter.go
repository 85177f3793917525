package graph

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Compile-time check.
var _ Parser = (*TreeSitterParser)(nil)

// scope is the enclosing container (class, impl block) of a declaration.
type scope struct {
	name     string
	exported bool
}

// rules is the per-language table driving the generic walker.
type rules struct {
	// units maps declaration node kinds to the unit they produce. Unit nodes
	// are not descended into unless they are also containers.
	units map[string]UnitKind

	// refine adjusts the unit kind for a matched node; returning "" skips it.
	refine func(n *tree_sitter.Node, src []byte, kind UnitKind, in *scope) UnitKind

	// name extracts the declared name. Defaults to the "name" field.
	name func(n *tree_sitter.Node, src []byte) string

	// containers maps node kinds whose nested functions become methods to
	// the field that names the receiver.
	containers map[string]string

	// receiver extracts a method receiver declared on the node itself.
	receiver func(n *tree_sitter.Node, src []byte) string

	imports map[string]func(n *tree_sitter.Node, src []byte) []string

	exported func(n *tree_sitter.Node, src []byte, name string, in *scope) bool
}

// TreeSitterParser implements Parser with tree-sitter grammars. A new
// tree-sitter parser is created per Parse call, so one TreeSitterParser may
// be shared by concurrent callers.
type TreeSitterParser struct {
	languages map[Language]*tree_sitter.Language
	rules     map[Language]*rules
}

// NewTreeSitterParser creates a TreeSitterParser with Go, TypeScript, Python
// and Rust grammars registered.
func NewTreeSitterParser() *TreeSitterParser {
	return &TreeSitterParser{
		languages: map[Language]*tree_sitter.Language{
			LangGo:         tree_sitter.NewLanguage(tree_sitter_go.Language()),
			LangTypeScript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
			LangPython:     tree_sitter.NewLanguage(tree_sitter_python.Language()),
			LangRust:       tree_sitter.NewLanguage(tree_sitter_rust.Language()),
		},
		rules: map[Language]*rules{
			LangGo:         goRules(),
			LangTypeScript: tsRules(),
			LangPython:     pyRules(),
			LangRust:       rsRules(),
		},
	}
}

// Parse extracts declarations and imports from a single source file.
func (p *TreeSitterParser) Parse(ctx context.Context, path string, source []byte, lang Language) (*ParseResult, error) {
	tsLang, ok := p.languages[lang]
	if !ok {
		return nil, fmt.Errorf("graph: unsupported language: %s", lang)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tsLang); err != nil {
		return nil, fmt.Errorf("graph: set language %s: %w", lang, err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("graph: tree-sitter returned nil tree for %s", path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &SyntaxError{Path: path, Line: firstErrorLine(root)}
	}

	res := &ParseResult{File: FileNode{Path: path, Language: lang, LOC: countLOC(source)}}
	w := walker{r: p.rules[lang], src: source, path: path, out: res}
	w.walk(root, nil)
	slices.SortStableFunc(res.Units, func(a, b UnitNode) int { return a.StartLine - b.StartLine })
	return res, nil
}

// SupportedLanguages returns the languages this parser can handle.
func (p *TreeSitterParser) SupportedLanguages() []Language {
	langs := make([]Language, 0, len(p.languages))
	for _, l := range Languages {
		if _, ok := p.languages[l]; ok {
			langs = append(langs, l)
		}
	}
	return langs
}

// Close is a no-op because parsers are created per Parse call.
func (p *TreeSitterParser) Close() error {
	return nil
}

type walker struct {
	r    *rules
	src  []byte
	path string
	out  *ParseResult
}

func (w *walker) walk(n *tree_sitter.Node, in *scope) {
	kind := n.Kind()

	if imp, ok := w.r.imports[kind]; ok {
		w.out.Imports = append(w.out.Imports, imp(n, w.src)...)
		return
	}

	descend := true
	if uk, ok := w.r.units[kind]; ok {
		w.unit(n, uk, in)
		descend = false
	}
	if field, ok := w.r.containers[kind]; ok {
		in = w.container(n, field)
		descend = true
	}
	if !descend {
		return
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if child := n.NamedChild(i); child != nil {
			w.walk(child, in)
		}
	}
}

func (w *walker) unit(n *tree_sitter.Node, kind UnitKind, in *scope) {
	if w.r.refine != nil {
		if kind = w.r.refine(n, w.src, kind, in); kind == "" {
			return
		}
	}
	name := w.nameOf(n)
	if name == "" {
		return
	}
	u := UnitNode{
		Name:      name,
		Kind:      kind,
		FilePath:  w.path,
		StartLine: int(n.StartPosition().Row) + 1,
		EndLine:   int(n.EndPosition().Row) + 1,
		Exported:  w.r.exported(n, w.src, name, in),
	}
	switch {
	case w.r.receiver != nil:
		u.Receiver = w.r.receiver(n, w.src)
	case in != nil && kind == UnitMethod:
		u.Receiver = in.name
	}
	w.out.Units = append(w.out.Units, u)
}

func (w *walker) container(n *tree_sitter.Node, field string) *scope {
	s := &scope{}
	if f := n.ChildByFieldName(field); f != nil {
		s.name = baseTypeName(f.Utf8Text(w.src))
	}
	s.exported = w.r.exported(n, w.src, s.name, nil)
	return s
}

func (w *walker) nameOf(n *tree_sitter.Node) string {
	if w.r.name != nil {
		return w.r.name(n, w.src)
	}
	if f := n.ChildByFieldName("name"); f != nil {
		return f.Utf8Text(w.src)
	}
	return ""
}

// firstErrorLine finds the 1-based line of the first ERROR or MISSING node.
func firstErrorLine(n *tree_sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPosition().Row) + 1
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if child == nil || !child.HasError() && !child.IsMissing() {
			continue
		}
		return firstErrorLine(child)
	}
	return int(n.StartPosition().Row) + 1
}

// baseTypeName strips pointers, references and generic arguments from a
// receiver type: "*Cache[K, V]" and "&mut Cache<K>" both become "Cache".
func baseTypeName(t string) string {
	t = strings.TrimLeft(t, "*& ")
	t = strings.TrimPrefix(t, "mut ")
	if i := strings.IndexAny(t, "[<("); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func trimQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}

// countLOC counts lines, including a final line without a trailing newline.
func countLOC(source []byte) int {
	if len(source) == 0 {
		return 0
	}
	n := bytes.Count(source, []byte{'\n'})
	if source[len(source)-1] != '\n' {
		n++
	}
	return n
}
