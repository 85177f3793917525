package graph

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func rsRules() *rules {
	return &rules{
		units: map[string]UnitKind{
			"function_item": UnitFunction,
			"struct_item":   UnitType,
			"enum_item":     UnitType,
			"type_item":     UnitType,
			"trait_item":    UnitInterface,
		},
		refine: func(_ *tree_sitter.Node, _ []byte, kind UnitKind, in *scope) UnitKind {
			if kind == UnitFunction && in != nil {
				return UnitMethod
			}
			return kind
		},
		containers: map[string]string{
			"impl_item": "type",
		},
		imports: map[string]func(*tree_sitter.Node, []byte) []string{
			"use_declaration": func(n *tree_sitter.Node, src []byte) []string {
				if arg := n.ChildByFieldName("argument"); arg != nil {
					return []string{arg.Utf8Text(src)}
				}
				return nil
			},
		},
		exported: func(n *tree_sitter.Node, _ []byte, _ string, _ *scope) bool {
			first := n.NamedChild(0)
			return first != nil && first.Kind() == "visibility_modifier"
		},
	}
}
