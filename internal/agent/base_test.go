package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/a2a"
)

// testCard returns an AgentCard suitable for testing.
func testCard() a2a.AgentCard {
	return a2a.AgentCard{
		Name:        "test-agent",
		Description: "A test agent",
		Version:     "0.1.0",
		Skills:      []a2a.AgentSkill{{ID: "echo", Name: "Echo", Tags: []string{"test"}}},
	}
}

// successProcess returns a ProcessFunc that produces a single text artifact.
func successProcess() ProcessFunc {
	return func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		return []a2a.Artifact{{ArtifactID: "art-1", Name: "output", Parts: []a2a.Part{a2a.TextPart("hello")}}}, nil
	}
}

// failProcess returns a ProcessFunc that always returns an error.
func failProcess() ProcessFunc {
	return func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		return nil, errors.New("processing failed")
	}
}

func testMessage() a2a.Message {
	msg := a2a.NewMessage(a2a.RoleUser, a2a.TextPart("test input"))
	msg.ContextID = "ctx-1"
	return msg
}

func TestBaseAgent_HandleTask_HappyPath(t *testing.T) {
	var seen a2a.TaskState
	agent := NewBaseAgent(testCard(), func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		seen = task.Status.State
		return []a2a.Artifact{{Name: "output", Parts: []a2a.Part{a2a.TextPart(msg.Text())}}}, nil
	})

	result, err := agent.HandleTask(context.Background(), testMessage())
	require.NoError(t, err)

	assert.Equal(t, a2a.TaskStateWorking, seen, "process runs on a working task")
	assert.Equal(t, "ctx-1", result.ContextID)
	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	assert.False(t, result.Status.Timestamp.IsZero())
	require.Len(t, result.Artifacts, 1)
	assert.NotEmpty(t, result.Artifacts[0].ArtifactID, "missing artifact ids are filled in")
	assert.Equal(t, "test input", result.Artifacts[0].Parts[0].Text)
	require.Len(t, result.History, 1)
}

func TestBaseAgent_HandleTask_Failure(t *testing.T) {
	agent := NewBaseAgent(testCard(), failProcess())

	result, err := agent.HandleTask(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processing failed")
	require.NotNil(t, result)
	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
	require.NotNil(t, result.Status.Message)
	assert.Equal(t, a2a.RoleAgent, result.Status.Message.Role)
	assert.Equal(t, result.ID, result.Status.Message.TaskID)
	assert.Equal(t, "processing failed", result.StatusText())
}

func TestBaseAgent_HandleSendMessage_FailureIsTaskState(t *testing.T) {
	agent := NewBaseAgent(testCard(), failProcess())

	result, err := agent.HandleSendMessage(context.Background(), a2a.SendMessageRequest{Message: testMessage()})
	require.NoError(t, err, "process failures are reported through the task")
	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
}

func TestBaseAgent_HandleGetTask(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ctx := context.Background()

	created, err := agent.HandleSendMessage(ctx, a2a.SendMessageRequest{Message: testMessage()})
	require.NoError(t, err)

	retrieved, err := agent.HandleGetTask(ctx, a2a.GetTaskRequest{ID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)
	assert.Equal(t, a2a.TaskStateCompleted, retrieved.Status.State)
	require.Len(t, retrieved.Artifacts, 1)
	assert.Equal(t, "art-1", retrieved.Artifacts[0].ArtifactID)

	_, err = agent.HandleGetTask(ctx, a2a.GetTaskRequest{ID: "nonexistent"})
	assert.ErrorIs(t, err, a2a.ErrTaskNotFound)
}

func TestBaseAgent_HandleCancelTask_Terminal(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ctx := context.Background()

	created, err := agent.HandleSendMessage(ctx, a2a.SendMessageRequest{Message: testMessage()})
	require.NoError(t, err)

	_, err = agent.HandleCancelTask(ctx, a2a.CancelTaskRequest{ID: created.ID})
	assert.ErrorIs(t, err, a2a.ErrTaskNotCancelable)

	_, err = agent.HandleCancelTask(ctx, a2a.CancelTaskRequest{ID: "nonexistent"})
	assert.ErrorIs(t, err, a2a.ErrTaskNotFound)
}

func TestBaseAgent_HandleCancelTask_InterruptsProcess(t *testing.T) {
	started := make(chan string, 1)
	agent := NewBaseAgent(testCard(), func(ctx context.Context, task *a2a.Task, _ a2a.Message) ([]a2a.Artifact, error) {
		started <- task.ID
		<-ctx.Done()
		return nil, context.Cause(ctx)
	})
	ctx := context.Background()

	type outcome struct {
		task *a2a.Task
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		task, err := agent.HandleTask(ctx, testMessage())
		done <- outcome{task, err}
	}()

	id := <-started
	cancelled, err := agent.HandleCancelTask(ctx, a2a.CancelTaskRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, cancelled.Status.State)

	select {
	case out := <-done:
		assert.ErrorIs(t, out.err, errTaskCancelled)
		assert.Equal(t, a2a.TaskStateCanceled, out.task.Status.State, "cancellation is final")
	case <-time.After(5 * time.Second):
		t.Fatal("process was not interrupted")
	}
}

func TestBaseAgent_HandleTask_ContextCanceled(t *testing.T) {
	process := func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []a2a.Artifact{{Name: "output"}}, nil
	}
	agent := NewBaseAgent(testCard(), process)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := agent.HandleTask(ctx, testMessage())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
}

func TestBaseAgent_UniqueTaskIDs(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ids := make(map[string]struct{})
	for range 10 {
		result, err := agent.HandleSendMessage(context.Background(), a2a.SendMessageRequest{Message: testMessage()})
		require.NoError(t, err)
		ids[result.ID] = struct{}{}
	}
	assert.Len(t, ids, 10)
}

func TestBaseAgent_StartStop(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ctx := context.Background()

	require.NoError(t, agent.Start(ctx, "127.0.0.1:0"))
	addr := agent.Addr().String()

	resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, a2a.WellKnownCardPath))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Round trip through the real client.
	task, err := a2a.NewHTTPClient().SendMessage(ctx, "http://"+addr, a2a.SendMessageRequest{Message: testMessage()})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, agent.Stop(stopCtx))

	_, err = http.Get(fmt.Sprintf("http://%s%s", addr, a2a.WellKnownCardPath))
	require.Error(t, err)
}
