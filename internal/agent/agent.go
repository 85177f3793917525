// Package agent hosts A2A agents that perform pipeline work on behalf of a
// remote coordinator, such as test synthesis.
package agent

import (
	"context"
	"net"

	"github.com/dusk-indust/testgen/internal/a2a"
)

// Agent is the interface that all agents implement.
type Agent interface {
	// Card returns the agent's A2A Agent Card.
	Card() a2a.AgentCard

	// HandleTask processes one message as a new task and returns the task in
	// its final state.
	HandleTask(ctx context.Context, msg a2a.Message) (*a2a.Task, error)

	// Start launches the agent's HTTP server on the given address.
	Start(ctx context.Context, addr string) error

	// Addr is the bound address after Start.
	Addr() net.Addr

	// Stop gracefully shuts down the agent.
	Stop(ctx context.Context) error
}

// Role identifies an agent type.
type Role string

const (
	RoleSynthesis Role = "synthesis"
)
