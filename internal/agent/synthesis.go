package agent

import (
	"context"
	"fmt"

	"github.com/dusk-indust/testgen/internal/a2a"
	"github.com/dusk-indust/testgen/internal/stages"
)

// SynthesisCard describes a template-backed test synthesis agent.
func SynthesisCard(version string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:        "testgen-synthesis",
		Description: "Generates skeleton tests for source units from language templates.",
		Version:     version,
		Skills: []a2a.AgentSkill{
			{
				ID:          stages.SkillTestSynthesis,
				Name:        "Test synthesis",
				Description: "Accepts a synthesis task as a data part and returns one test snippet per testable unit.",
				Tags:        []string{"go", "python", "typescript", "rust"},
			},
		},
	}
}

// NewSynthesisAgent creates an agent that answers synthesis tasks with
// template-rendered snippets.
func NewSynthesisAgent(version string) *BaseAgent {
	return NewBaseAgent(SynthesisCard(version), synthesize)
}

func synthesize(ctx context.Context, _ *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
	var task stages.SynthesisTask
	if err := msg.Data(&task); err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	if task.Path == "" {
		return nil, fmt.Errorf("synthesis: task has no path")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply, err := stages.RenderSnippets(task)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %s: %w", task.Path, err)
	}
	part, err := a2a.DataPart(reply)
	if err != nil {
		return nil, fmt.Errorf("synthesis: encode reply: %w", err)
	}
	return []a2a.Artifact{{Name: stages.ReplyArtifact, Parts: []a2a.Part{part}}}, nil
}
