package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/dusk-indust/testgen/internal/a2a"
)

// Compile-time interface checks.
var (
	_ Agent       = (*BaseAgent)(nil)
	_ a2a.Handler = (*BaseAgent)(nil)
)

// errTaskCancelled is the cause handed to a process func whose task was
// cancelled through tasks/cancel.
var errTaskCancelled = errors.New("agent: task cancelled")

// DefaultRetainTasks bounds how many finished tasks an agent keeps for
// tasks/get.
const DefaultRetainTasks = 256

// ProcessFunc is the function that agents implement to handle incoming
// messages. It receives the task (in working state) and the message, and
// returns artifacts to attach to the completed task.
type ProcessFunc func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error)

// BaseAgent provides shared boilerplate for agents. It composes an A2A
// server and task store, implementing both the Agent and a2a.Handler
// interfaces.
type BaseAgent struct {
	server  *a2a.Server
	store   *a2a.TaskStore
	card    a2a.AgentCard
	process ProcessFunc

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// NewBaseAgent creates a BaseAgent with the given card and process function.
func NewBaseAgent(card a2a.AgentCard, process ProcessFunc) *BaseAgent {
	b := &BaseAgent{
		store:   a2a.NewTaskStore(DefaultRetainTasks),
		card:    card,
		process: process,
		running: make(map[string]context.CancelCauseFunc),
	}
	b.server = a2a.NewServer(card, b)
	return b
}

// Card returns the agent's A2A Agent Card.
func (b *BaseAgent) Card() a2a.AgentCard {
	return b.card
}

// HandleTask runs the process func for msg. A failed process leaves the task
// failed with the error text as its status message; the task is returned
// along with the error.
func (b *BaseAgent) HandleTask(ctx context.Context, msg a2a.Message) (*a2a.Task, error) {
	task := b.store.Create(msg)
	if _, err := b.store.Transition(task.ID, a2a.TaskStateWorking, nil); err != nil {
		return nil, fmt.Errorf("agent: start task: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	b.mu.Lock()
	b.running[task.ID] = cancel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.running, task.ID)
		b.mu.Unlock()
		cancel(nil)
	}()

	working, err := b.store.Get(task.ID)
	if err != nil {
		return nil, err
	}
	artifacts, err := b.process(ctx, working, msg)
	if err != nil {
		reason := a2a.NewMessage(a2a.RoleAgent, a2a.TextPart(err.Error()))
		reason.TaskID = task.ID
		failed, terr := b.store.Transition(task.ID, a2a.TaskStateFailed, &reason)
		if terr != nil {
			return nil, terr
		}
		log.Printf("agent %s: task %s failed: %v", b.card.Name, task.ID, err)
		return failed, err
	}
	for i := range artifacts {
		if artifacts[i].ArtifactID == "" {
			artifacts[i].ArtifactID = a2a.NewTaskID()
		}
	}
	return b.store.Transition(task.ID, a2a.TaskStateCompleted, nil, artifacts...)
}

// Start launches the agent's HTTP server on the given address.
func (b *BaseAgent) Start(ctx context.Context, addr string) error {
	return b.server.Start(ctx, addr)
}

// Addr is the bound address after Start.
func (b *BaseAgent) Addr() net.Addr {
	return b.server.Addr()
}

// Stop gracefully shuts down the agent.
func (b *BaseAgent) Stop(ctx context.Context) error {
	return b.server.Stop(ctx)
}

// --- a2a.Handler implementation ---

// HandleSendMessage processes the message as a new task. Process failures
// are reported through the task's failed state, not as RPC errors.
func (b *BaseAgent) HandleSendMessage(ctx context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	task, err := b.HandleTask(ctx, req.Message)
	if task != nil {
		return task, nil
	}
	return nil, err
}

// HandleGetTask retrieves a task by ID from the store.
func (b *BaseAgent) HandleGetTask(_ context.Context, req a2a.GetTaskRequest) (*a2a.Task, error) {
	return b.store.Get(req.ID)
}

// HandleCancelTask cancels a running task and interrupts its process func.
func (b *BaseAgent) HandleCancelTask(_ context.Context, req a2a.CancelTaskRequest) (*a2a.Task, error) {
	task, err := b.store.Cancel(req.ID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	if cancel, ok := b.running[req.ID]; ok {
		cancel(errTaskCancelled)
	}
	b.mu.Unlock()
	return task, nil
}
