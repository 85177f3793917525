package stages

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dusk-indust/testgen/internal/graph"
)

// Snippet is one generated test case for a unit.
type Snippet struct {
	Unit string `json:"unit"` // qualified unit name
	Name string `json:"name"` // test function or case name
	Code string `json:"code"`
}

// Merger assembles snippets from a synthesis backend into one test file.
type Merger struct {
	order []string // qualified unit names in source order
}

// NewMerger creates a Merger ordering snippets like units.
func NewMerger(units []graph.UnitNode) *Merger {
	order := make([]string, 0, len(units))
	for _, u := range units {
		order = append(order, u.QualifiedName())
	}
	return &Merger{order: order}
}

// Merge joins header and snippets into file content. Snippets follow the
// unit order; snippets for units outside that order are appended in input
// order. Duplicate test names are rejected. It also returns the units that
// received at least one snippet.
func (m *Merger) Merge(header string, snippets []Snippet) (string, []string, error) {
	if len(snippets) == 0 {
		return "", nil, fmt.Errorf("merge: no tests")
	}

	seen := make(map[string]int, len(snippets))
	for _, s := range snippets {
		seen[s.Name]++
	}
	var duplicates []string
	for name, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, fmt.Sprintf("%q (x%d)", name, count))
		}
	}
	if len(duplicates) > 0 {
		slices.Sort(duplicates)
		return "", nil, fmt.Errorf("merge: duplicate test names: %s", strings.Join(duplicates, ", "))
	}

	byUnit := make(map[string][]Snippet, len(snippets))
	for _, s := range snippets {
		byUnit[s.Unit] = append(byUnit[s.Unit], s)
	}

	parts := make([]string, 0, len(snippets)+1)
	if header != "" {
		parts = append(parts, strings.TrimRight(header, "\n"))
	}
	var covered []string
	planned := make(map[string]bool, len(m.order))
	for _, unit := range m.order {
		planned[unit] = true
		if len(byUnit[unit]) == 0 {
			continue
		}
		covered = append(covered, unit)
		for _, s := range byUnit[unit] {
			parts = append(parts, strings.TrimRight(s.Code, "\n"))
		}
	}
	for _, s := range snippets {
		if !planned[s.Unit] {
			parts = append(parts, strings.TrimRight(s.Code, "\n"))
		}
	}
	return strings.Join(parts, "\n\n") + "\n", covered, nil
}
