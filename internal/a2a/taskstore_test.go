package a2a

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStore_CreateAndGet(t *testing.T) {
	s := NewTaskStore(0)
	msg := NewMessage(RoleUser, TextPart("hi"))
	msg.ContextID = "ctx-1"

	task := s.Create(msg)
	_, err := uuid.Parse(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", task.ContextID)
	assert.Equal(t, TaskStateSubmitted, task.Status.State)
	require.Len(t, task.History, 1)

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_ContextIDGenerated(t *testing.T) {
	s := NewTaskStore(0)
	task := s.Create(NewMessage(RoleUser))
	assert.NotEmpty(t, task.ContextID)
}

func TestTaskStore_GetReturnsCopy(t *testing.T) {
	s := NewTaskStore(0)
	task := s.Create(NewMessage(RoleUser, TextPart("original")))

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	got.History[0].Parts[0].Text = "mutated"

	again, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.History[0].Parts[0].Text)
}

func TestTaskStore_TransitionAndTerminalIsFinal(t *testing.T) {
	s := NewTaskStore(0)
	task := s.Create(NewMessage(RoleUser))

	working, err := s.Transition(task.ID, TaskStateWorking, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskStateWorking, working.Status.State)

	reason := NewMessage(RoleAgent, TextPart("no units"))
	failed, err := s.Transition(task.ID, TaskStateFailed, &reason)
	require.NoError(t, err)
	assert.Equal(t, "no units", failed.StatusText())

	after, err := s.Transition(task.ID, TaskStateCompleted, nil, Artifact{Name: "late"})
	require.NoError(t, err)
	assert.Equal(t, TaskStateFailed, after.Status.State)
	assert.Empty(t, after.Artifacts)

	_, err = s.Transition("nope", TaskStateWorking, nil)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_Cancel(t *testing.T) {
	s := NewTaskStore(0)
	task := s.Create(NewMessage(RoleUser))

	cancelled, err := s.Cancel(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCanceled, cancelled.Status.State)

	_, err = s.Cancel(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotCancelable)
	_, err = s.Cancel("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_EvictsOldestTerminal(t *testing.T) {
	s := NewTaskStore(2)
	running := s.Create(NewMessage(RoleUser))

	var done []string
	for range 4 {
		task := s.Create(NewMessage(RoleUser))
		_, err := s.Transition(task.ID, TaskStateCompleted, nil)
		require.NoError(t, err)
		done = append(done, task.ID)
	}

	assert.Equal(t, 3, s.Len())
	_, err := s.Get(running.ID)
	assert.NoError(t, err, "running tasks are never evicted")
	_, err = s.Get(done[0])
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.Get(done[3])
	assert.NoError(t, err)
}

func TestTaskStore_Concurrent(t *testing.T) {
	s := NewTaskStore(0)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := s.Create(NewMessage(RoleUser, TextPart(fmt.Sprint(i))))
			_, _ = s.Transition(task.ID, TaskStateWorking, nil)
			_, _ = s.Transition(task.ID, TaskStateCompleted, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Len())
}

func TestTaskState_IsTerminal(t *testing.T) {
	for _, s := range []TaskState{TaskStateCompleted, TaskStateFailed, TaskStateCanceled} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []TaskState{TaskStateSubmitted, TaskStateWorking} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestMessage_TextAndData(t *testing.T) {
	data, err := DataPart(struct{ N int }{7})
	require.NoError(t, err)
	m := NewMessage(RoleUser, TextPart("a"), data, TextPart("b"))
	assert.Equal(t, "ab", m.Text())

	var v struct{ N int }
	require.NoError(t, m.Data(&v))
	assert.Equal(t, 7, v.N)

	assert.ErrorIs(t, NewMessage(RoleUser).Data(&v), ErrNoData)
}
