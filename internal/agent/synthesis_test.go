package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/a2a"
	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/stages"
)

func TestSynthesisCard(t *testing.T) {
	card := SynthesisCard("1.2.3")
	assert.Equal(t, "1.2.3", card.Version)
	assert.True(t, card.HasSkill(stages.SkillTestSynthesis))
}

func TestSynthesisAgent_RendersSnippets(t *testing.T) {
	agent := NewSynthesisAgent("dev")
	data, err := a2a.DataPart(stages.SynthesisTask{
		Path:     "svc/store.go",
		Language: graph.LangGo,
		Units: []graph.UnitNode{
			{Name: "Open", Kind: graph.UnitFunction, Exported: true},
			{Name: "Get", Kind: graph.UnitMethod, Receiver: "Store", Exported: true},
		},
		Source: "package svc\n",
	})
	require.NoError(t, err)

	task, err := agent.HandleTask(context.Background(), a2a.NewMessage(a2a.RoleUser, data))
	require.NoError(t, err)
	require.Equal(t, a2a.TaskStateCompleted, task.Status.State)

	art, ok := task.Artifact(stages.ReplyArtifact)
	require.True(t, ok)
	var reply stages.SynthesisReply
	require.NoError(t, art.Data(&reply))
	assert.Contains(t, reply.Header, "package svc")
	require.Len(t, reply.Tests, 2)
	assert.Equal(t, "TestOpen", reply.Tests[0].Name)
	assert.Equal(t, "Store.Get", reply.Tests[1].Unit)
}

func TestSynthesisAgent_RejectsBadInput(t *testing.T) {
	agent := NewSynthesisAgent("dev")

	task, err := agent.HandleTask(context.Background(), a2a.NewMessage(a2a.RoleUser, a2a.TextPart("no data")))
	require.Error(t, err)
	assert.Equal(t, a2a.TaskStateFailed, task.Status.State)
	assert.Contains(t, task.StatusText(), "no data part")

	data, err := a2a.DataPart(stages.SynthesisTask{Path: "a.kt", Language: "kotlin"})
	require.NoError(t, err)
	task, err = agent.HandleTask(context.Background(), a2a.NewMessage(a2a.RoleUser, data))
	require.Error(t, err)
	assert.Contains(t, task.StatusText(), "no template for kotlin")
}

// The stage-side client and the agent agree on the wire format.
func TestSynthesisAgent_ServesAgentSynthesizer(t *testing.T) {
	agent := NewSynthesisAgent("dev")
	require.NoError(t, agent.Start(context.Background(), "127.0.0.1:0"))
	defer agent.Stop(context.Background())
	endpoint := "http://" + agent.Addr().String()

	client := a2a.NewHTTPClient()
	found := stages.DiscoverAgents(context.Background(), client, []string{endpoint}, time.Second)
	require.Equal(t, []string{endpoint}, found)

	synth, err := stages.NewAgentSynthesizer(client, found)
	require.NoError(t, err)
	out, err := synth.Synthesize(context.Background(), stages.SynthesisRequest{
		File: stages.AnalyzedFile{
			Path:     "lib/util.py",
			Language: graph.LangPython,
			Units:    []graph.UnitNode{{Name: "slugify", Kind: graph.UnitFunction, Exported: true}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "lib/test_util.py", out.Path)
	assert.Equal(t, []string{"slugify"}, out.Units)
	assert.Contains(t, string(out.Content), "from lib.util import slugify")
	assert.Equal(t, "agent:"+endpoint, out.Backend)
}
