package a2a

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("a2a: task not found")
	// ErrTaskNotCancelable is returned when cancelling a terminal task.
	ErrTaskNotCancelable = errors.New("a2a: task not cancelable")
)

// NewTaskID returns a random task id.
func NewTaskID() string {
	return uuid.NewString()
}

// TaskStore is a concurrency-safe in-memory store for agent-side task
// tracking. Terminal tasks beyond the retention limit are evicted oldest
// first.
type TaskStore struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string // insertion order
	retain int
	now    func() time.Time
}

// NewTaskStore returns a store keeping at most retain terminal tasks;
// retain <= 0 keeps everything.
func NewTaskStore(retain int) *TaskStore {
	return &TaskStore{
		tasks:  make(map[string]*Task),
		retain: retain,
		now:    time.Now,
	}
}

// Create registers a new submitted task for msg and returns a copy of it.
func (s *TaskStore) Create(msg Message) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Task{
		ID:        NewTaskID(),
		ContextID: msg.ContextID,
		Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: s.now()},
		History:   []Message{msg},
	}
	if t.ContextID == "" {
		t.ContextID = uuid.NewString()
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return copyTask(t)
}

// Get returns a copy of the task.
func (s *TaskStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return copyTask(t), nil
}

// Transition moves a task to state, attaching artifacts and an optional
// status message. Terminal tasks do not change; the call reports the stored
// task either way.
func (s *TaskStore) Transition(id string, state TaskState, msg *Message, artifacts ...Artifact) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.State.IsTerminal() {
		return copyTask(t), nil
	}
	t.Status = TaskStatus{State: state, Message: msg, Timestamp: s.now()}
	t.Artifacts = append(t.Artifacts, artifacts...)
	if state.IsTerminal() {
		s.evictLocked()
	}
	return copyTask(t), nil
}

// Cancel marks a running task canceled.
func (s *TaskStore) Cancel(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotCancelable, id, t.Status.State)
	}
	t.Status = TaskStatus{State: TaskStateCanceled, Timestamp: s.now()}
	return copyTask(t), nil
}

// Len reports the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *TaskStore) evictLocked() {
	if s.retain <= 0 {
		return
	}
	terminal := 0
	for _, id := range s.order {
		if s.tasks[id].Status.State.IsTerminal() {
			terminal++
		}
	}
	for i := 0; terminal > s.retain && i < len(s.order); {
		id := s.order[i]
		if !s.tasks[id].Status.State.IsTerminal() {
			i++
			continue
		}
		delete(s.tasks, id)
		s.order = slices.Delete(s.order, i, i+1)
		terminal--
	}
}

// copyTask returns a copy whose slices can be mutated without touching the
// store.
func copyTask(src *Task) *Task {
	dst := *src
	dst.Artifacts = slices.Clone(src.Artifacts)
	for i := range dst.Artifacts {
		dst.Artifacts[i].Parts = slices.Clone(dst.Artifacts[i].Parts)
	}
	dst.History = slices.Clone(src.History)
	for i := range dst.History {
		dst.History[i].Parts = slices.Clone(dst.History[i].Parts)
	}
	if src.Status.Message != nil {
		m := *src.Status.Message
		m.Parts = slices.Clone(m.Parts)
		dst.Status.Message = &m
	}
	return &dst
}
