package stages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/a2a"
	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

type fakeClient struct {
	mu       sync.Mutex
	called   []string
	send     func(ctx context.Context, endpoint string, req a2a.SendMessageRequest) (*a2a.Task, error)
	discover func(ctx context.Context, baseURL string) (*a2a.AgentCard, error)
}

func (f *fakeClient) SendMessage(ctx context.Context, endpoint string, req a2a.SendMessageRequest) (*a2a.Task, error) {
	f.mu.Lock()
	f.called = append(f.called, endpoint)
	f.mu.Unlock()
	return f.send(ctx, endpoint, req)
}

func (f *fakeClient) GetTask(context.Context, string, a2a.GetTaskRequest) (*a2a.Task, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) CancelTask(context.Context, string, a2a.CancelTaskRequest) (*a2a.Task, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) DiscoverAgent(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
	return f.discover(ctx, baseURL)
}

// templateAgent answers like a remote synthesis agent backed by templates.
func templateAgent(t *testing.T) func(context.Context, string, a2a.SendMessageRequest) (*a2a.Task, error) {
	return func(_ context.Context, _ string, req a2a.SendMessageRequest) (*a2a.Task, error) {
		var task SynthesisTask
		if err := req.Message.Data(&task); err != nil {
			return nil, err
		}
		reply, err := RenderSnippets(task)
		if err != nil {
			return nil, err
		}
		reply.Usage = &orchestrator.Usage{OutputTokens: 42}
		part, err := a2a.DataPart(reply)
		require.NoError(t, err)
		return &a2a.Task{
			ID:        "task-1",
			Status:    a2a.TaskStatus{State: a2a.TaskStateCompleted},
			Artifacts: []a2a.Artifact{{Name: ReplyArtifact, Parts: []a2a.Part{part}}},
		}, nil
	}
}

func serviceRequest() SynthesisRequest {
	return SynthesisRequest{
		File: AnalyzedFile{
			Path:     "svc/service.go",
			Language: graph.LangGo,
			Units: []graph.UnitNode{
				{Name: "Service", Kind: graph.UnitType},
				{Name: "New", Kind: graph.UnitFunction, Exported: true},
				{Name: "Run", Kind: graph.UnitMethod, Receiver: "Service", Exported: true},
			},
		},
		Source: []byte("package svc\n"),
	}
}

func TestAgentSynthesizer_RoundRobinAndMerge(t *testing.T) {
	client := &fakeClient{send: templateAgent(t)}
	s, err := NewAgentSynthesizer(client, []string{"http://a", "http://b"})
	require.NoError(t, err)

	var last *SynthesizedTest
	for range 3 {
		last, err = s.Synthesize(context.Background(), serviceRequest())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"http://a", "http://b", "http://a"}, client.called)

	assert.Equal(t, "svc/service_gen_test.go", last.Path)
	assert.Equal(t, []string{"New", "Service.Run"}, last.Units)
	assert.Equal(t, 2, last.Tests)
	assert.Equal(t, "agent:http://a", last.Backend)
	require.NotNil(t, last.Usage)
	assert.Equal(t, int64(42), last.Usage.OutputTokens)
	assert.Contains(t, string(last.Content), "package svc")
	assert.Contains(t, string(last.Content), "func TestService_Run(t *testing.T)")
}

func TestAgentSynthesizer_Errors(t *testing.T) {
	tests := []struct {
		name string
		task *a2a.Task
		err  error
		want string
	}{
		{
			name: "transport",
			err:  errors.New("connection refused"),
			want: "connection refused",
		},
		{
			name: "failed task",
			task: &a2a.Task{ID: "t1", Status: a2a.TaskStatus{
				State:   a2a.TaskStateFailed,
				Message: &a2a.Message{Parts: []a2a.Part{a2a.TextPart("model overloaded")}},
			}},
			want: "task t1 failed: model overloaded",
		},
		{
			name: "missing artifact",
			task: &a2a.Task{ID: "t2", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}},
			want: `has no "tests" artifact`,
		},
		{
			name: "artifact without data",
			task: &a2a.Task{ID: "t3", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
				Artifacts: []a2a.Artifact{{Name: ReplyArtifact, Parts: []a2a.Part{a2a.TextPart("oops")}}}},
			want: "no data part",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{send: func(context.Context, string, a2a.SendMessageRequest) (*a2a.Task, error) {
				return tc.task, tc.err
			}}
			s, err := NewAgentSynthesizer(client, []string{"http://a"})
			require.NoError(t, err)

			_, err = s.Synthesize(context.Background(), serviceRequest())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewAgentSynthesizer_RequiresEndpoints(t *testing.T) {
	_, err := NewAgentSynthesizer(&fakeClient{}, nil)
	assert.Error(t, err)
}

func TestFallbackSynthesizer(t *testing.T) {
	failing := synthFunc(func(context.Context, SynthesisRequest) (*SynthesizedTest, error) {
		return nil, errors.New("agent down")
	})
	s := NewFallbackSynthesizer(failing, templateSynth(t))

	out, err := s.Synthesize(context.Background(), serviceRequest())
	require.NoError(t, err)
	assert.Equal(t, "template", out.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Synthesize(ctx, serviceRequest())
	assert.ErrorContains(t, err, "agent down", "cancelled requests do not fall back")
}

func TestDiscoverAgents(t *testing.T) {
	client := &fakeClient{discover: func(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
		switch baseURL {
		case "http://synth-1", "http://synth-2":
			return &a2a.AgentCard{Name: baseURL, Skills: []a2a.AgentSkill{{ID: SkillTestSynthesis}}}, nil
		case "http://planner":
			return &a2a.AgentCard{Name: "planner", Skills: []a2a.AgentSkill{{ID: "planning"}}}, nil
		case "http://slow":
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, errors.New("connection refused")
	}}

	found := DiscoverAgents(context.Background(), client,
		[]string{"http://synth-2", "http://down", "http://planner", "http://slow", "http://synth-1"},
		50*time.Millisecond)
	assert.Equal(t, []string{"http://synth-2", "http://synth-1"}, found)
}
