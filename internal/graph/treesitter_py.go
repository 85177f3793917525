package graph

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func pyRules() *rules {
	return &rules{
		units: map[string]UnitKind{
			"function_definition": UnitFunction,
			"class_definition":    UnitClass,
		},
		refine: func(n *tree_sitter.Node, src []byte, kind UnitKind, in *scope) UnitKind {
			if kind != UnitFunction || in == nil {
				return kind
			}
			// Dunder methods are exercised through their class, not directly.
			if name := n.ChildByFieldName("name"); name != nil && isDunder(name.Utf8Text(src)) {
				return ""
			}
			return UnitMethod
		},
		containers: map[string]string{
			"class_definition": "name",
		},
		imports: map[string]func(*tree_sitter.Node, []byte) []string{
			"import_statement": func(n *tree_sitter.Node, src []byte) []string {
				var out []string
				for i := uint(0); i < n.NamedChildCount(); i++ {
					child := n.NamedChild(i)
					switch {
					case child == nil:
					case child.Kind() == "dotted_name":
						out = append(out, child.Utf8Text(src))
					case child.Kind() == "aliased_import":
						if name := child.ChildByFieldName("name"); name != nil {
							out = append(out, name.Utf8Text(src))
						}
					}
				}
				return out
			},
			"import_from_statement": func(n *tree_sitter.Node, src []byte) []string {
				if m := n.ChildByFieldName("module_name"); m != nil {
					return []string{m.Utf8Text(src)}
				}
				return nil
			},
		},
		exported: func(_ *tree_sitter.Node, _ []byte, name string, in *scope) bool {
			if in != nil && !in.exported {
				return false
			}
			return !strings.HasPrefix(name, "_")
		},
	}
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
