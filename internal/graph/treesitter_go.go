package graph

import (
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func goRules() *rules {
	return &rules{
		units: map[string]UnitKind{
			"function_declaration": UnitFunction,
			"method_declaration":   UnitMethod,
			"type_spec":            UnitType,
		},
		refine: func(n *tree_sitter.Node, _ []byte, kind UnitKind, _ *scope) UnitKind {
			if kind != UnitType {
				return kind
			}
			if t := n.ChildByFieldName("type"); t != nil && t.Kind() == "interface_type" {
				return UnitInterface
			}
			return kind
		},
		receiver: goReceiver,
		imports: map[string]func(*tree_sitter.Node, []byte) []string{
			"import_spec": func(n *tree_sitter.Node, src []byte) []string {
				p := n.ChildByFieldName("path")
				if p == nil {
					return nil
				}
				if path := trimQuotes(p.Utf8Text(src)); path != "" {
					return []string{path}
				}
				return nil
			},
		},
		exported: func(_ *tree_sitter.Node, _ []byte, name string, _ *scope) bool {
			return isGoExported(name)
		},
	}
}

// goReceiver returns the receiver type of a method_declaration.
func goReceiver(n *tree_sitter.Node, src []byte) string {
	if n.Kind() != "method_declaration" {
		return ""
	}
	params := n.ChildByFieldName("receiver")
	if params == nil {
		return ""
	}
	for i := uint(0); i < params.NamedChildCount(); i++ {
		p := params.NamedChild(i)
		if p == nil || p.Kind() != "parameter_declaration" {
			continue
		}
		if t := p.ChildByFieldName("type"); t != nil {
			return baseTypeName(t.Utf8Text(src))
		}
	}
	return ""
}

func isGoExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
