package stages

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/testgen/internal/a2a"
)

// SkillTestSynthesis is the skill id synthesis agents advertise on their
// agent card.
const SkillTestSynthesis = "test-synthesis"

// ReplyArtifact names the task artifact carrying a SynthesisReply.
const ReplyArtifact = "tests"

// AgentSynthesizer sends synthesis tasks to remote A2A agents, rotating
// through the endpoints round-robin.
type AgentSynthesizer struct {
	client    a2a.Client
	endpoints []string
	next      atomic.Uint64
}

// NewAgentSynthesizer creates an AgentSynthesizer. At least one endpoint is
// required.
func NewAgentSynthesizer(client a2a.Client, endpoints []string) (*AgentSynthesizer, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("agent synthesis: no endpoints")
	}
	return &AgentSynthesizer{client: client, endpoints: endpoints}, nil
}

func (s *AgentSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error) {
	endpoint := s.endpoints[(s.next.Add(1)-1)%uint64(len(s.endpoints))]

	task := taskFor(req)
	data, err := a2a.DataPart(task)
	if err != nil {
		return nil, fmt.Errorf("agent synthesis: encode task: %w", err)
	}
	msg := a2a.NewMessage(a2a.RoleUser,
		a2a.TextPart(fmt.Sprintf("Generate tests for %d units in %s", len(task.Units), task.Path)),
		data,
	)

	result, err := s.client.SendMessage(ctx, endpoint, a2a.SendMessageRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("agent synthesis: %s: %w", endpoint, err)
	}
	if result.Status.State != a2a.TaskStateCompleted {
		return nil, fmt.Errorf("agent synthesis: %s: task %s %s: %s", endpoint, result.ID, result.Status.State, result.StatusText())
	}
	art, ok := result.Artifact(ReplyArtifact)
	if !ok {
		return nil, fmt.Errorf("agent synthesis: %s: task %s has no %q artifact", endpoint, result.ID, ReplyArtifact)
	}
	var reply SynthesisReply
	if err := art.Data(&reply); err != nil {
		return nil, fmt.Errorf("agent synthesis: %s: %w", endpoint, err)
	}
	return assemble(req, reply, "agent:"+endpoint)
}

// DiscoverAgents probes endpoints concurrently and returns, in input order,
// the ones whose agent card advertises SkillTestSynthesis. Unreachable
// endpoints are skipped.
func DiscoverAgents(ctx context.Context, client a2a.Client, endpoints []string, timeout time.Duration) []string {
	ok := make([]bool, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			card, err := client.DiscoverAgent(probeCtx, ep)
			if err != nil {
				log.Printf("discovery: %s: %v", ep, err)
				return
			}
			if !card.HasSkill(SkillTestSynthesis) {
				log.Printf("discovery: %s (%s) lacks skill %s", ep, card.Name, SkillTestSynthesis)
				return
			}
			ok[i] = true
		}()
	}
	wg.Wait()

	var found []string
	for i, ep := range endpoints {
		if ok[i] {
			found = append(found, ep)
		}
	}
	log.Printf("discovery: %d of %d agents available", len(found), len(endpoints))
	return found
}
