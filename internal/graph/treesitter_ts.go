package graph

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func tsRules() *rules {
	return &rules{
		units: map[string]UnitKind{
			"function_declaration":           UnitFunction,
			"generator_function_declaration": UnitFunction,
			"variable_declarator":            UnitFunction,
			"class_declaration":              UnitClass,
			"abstract_class_declaration":     UnitClass,
			"method_definition":              UnitMethod,
			"interface_declaration":          UnitInterface,
			"type_alias_declaration":         UnitType,
			"enum_declaration":               UnitType,
		},
		refine: func(n *tree_sitter.Node, src []byte, kind UnitKind, in *scope) UnitKind {
			switch n.Kind() {
			case "variable_declarator":
				// Only arrow functions and function expressions bound to a name.
				v := n.ChildByFieldName("value")
				if v == nil || v.Kind() != "arrow_function" && v.Kind() != "function_expression" {
					return ""
				}
			case "method_definition":
				if in == nil {
					return ""
				}
				if name := n.ChildByFieldName("name"); name != nil && name.Utf8Text(src) == "constructor" {
					return ""
				}
			}
			return kind
		},
		containers: map[string]string{
			"class_declaration":          "name",
			"abstract_class_declaration": "name",
		},
		imports: map[string]func(*tree_sitter.Node, []byte) []string{
			"import_statement": func(n *tree_sitter.Node, src []byte) []string {
				if s := n.ChildByFieldName("source"); s != nil {
					return []string{trimQuotes(s.Utf8Text(src))}
				}
				return nil
			},
		},
		exported: tsExported,
	}
}

// tsExported treats a declaration as exported when it sits under an export
// statement. Class members follow their class unless private.
func tsExported(n *tree_sitter.Node, src []byte, name string, in *scope) bool {
	if n.Kind() == "method_definition" {
		if in == nil || !in.exported || strings.HasPrefix(name, "#") {
			return false
		}
		for i := uint(0); i < n.NamedChildCount(); i++ {
			c := n.NamedChild(i)
			if c != nil && c.Kind() == "accessibility_modifier" && c.Utf8Text(src) != "public" {
				return false
			}
		}
		return true
	}
	for p, depth := n.Parent(), 0; p != nil && depth < 2; p, depth = p.Parent(), depth+1 {
		if p.Kind() == "export_statement" {
			return true
		}
	}
	return false
}
