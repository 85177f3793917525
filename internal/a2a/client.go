package a2a

import "context"

// Client sends work to remote agents.
type Client interface {
	// SendMessage sends a message and returns the resulting task. Agents in
	// this system answer synchronously, so the task is usually terminal.
	SendMessage(ctx context.Context, endpoint string, req SendMessageRequest) (*Task, error)

	GetTask(ctx context.Context, endpoint string, req GetTaskRequest) (*Task, error)

	CancelTask(ctx context.Context, endpoint string, req CancelTaskRequest) (*Task, error)

	// DiscoverAgent fetches the Agent Card from the well-known URI.
	DiscoverAgent(ctx context.Context, baseURL string) (*AgentCard, error)
}
