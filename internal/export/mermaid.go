package export

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// GenerateMermaid produces a Mermaid graph LR diagram of a stage plan.
// Required dependencies are solid arrows, optional ones dashed. When res is
// non-nil, nodes are classed by how their stage ended.
func GenerateMermaid(plan *orchestrator.Plan, res *orchestrator.Result) string {
	nodeIDs := make(map[orchestrator.StageID]string, len(plan.Stages))
	for i, d := range plan.Stages {
		nodeIDs[d.ID] = fmt.Sprintf("S%d", i)
	}

	status := make(map[orchestrator.StageID]orchestrator.OutcomeStatus)
	if res != nil {
		for _, s := range res.Stages {
			status[s.Stage] = s.Status
		}
	}

	var sb strings.Builder
	sb.WriteString("graph LR\n")
	for _, d := range plan.Stages {
		label := string(d.ID)
		if d.Required {
			label += " *"
		}
		fmt.Fprintf(&sb, "  %s[\"%s\"]\n", nodeIDs[d.ID], label)
	}

	for _, d := range plan.Stages {
		planned := plan.DependenciesOf(d.ID)
		for _, dep := range d.DependsOn {
			src, ok := nodeIDs[dep.Stage]
			if !ok || !slices.Contains(planned, dep.Stage) {
				continue
			}
			arrow := "-.->"
			if dep.Required {
				arrow = "-->"
			}
			fmt.Fprintf(&sb, "  %s %s %s\n", src, arrow, nodeIDs[d.ID])
		}
	}

	if len(status) > 0 {
		sb.WriteString("  classDef success fill:#d4edda,stroke:#28a745\n")
		sb.WriteString("  classDef partial fill:#fff3cd,stroke:#ffc107\n")
		sb.WriteString("  classDef fatal fill:#f8d7da,stroke:#dc3545\n")
		sb.WriteString("  classDef notrun fill:#eeeeee,stroke:#999999\n")
		for _, d := range plan.Stages {
			if class := statusClass(status[d.ID]); class != "" {
				fmt.Fprintf(&sb, "  class %s %s\n", nodeIDs[d.ID], class)
			}
		}
	}
	return sb.String()
}

func statusClass(s orchestrator.OutcomeStatus) string {
	switch s {
	case orchestrator.OutcomeSuccess:
		return "success"
	case orchestrator.OutcomePartial:
		return "partial"
	case orchestrator.OutcomeFatal:
		return "fatal"
	case orchestrator.OutcomeNotRun:
		return "notrun"
	default:
		return ""
	}
}
