package agent

import (
	"context"
	"fmt"
	"sync"
)

// AgentFactory is a constructor that creates an Agent.
type AgentFactory func() Agent

// Registry maps agent roles to their factory constructors and manages the
// lifecycle of spawned agents.
type Registry struct {
	mu        sync.Mutex
	factories map[Role]AgentFactory
	spawned   []Agent
}

// NewRegistry creates a Registry with the synthesis agent registered.
func NewRegistry(version string) *Registry {
	r := &Registry{
		factories: make(map[Role]AgentFactory),
	}
	r.factories[RoleSynthesis] = func() Agent { return NewSynthesisAgent(version) }
	return r
}

// Register adds or replaces the factory for role.
func (r *Registry) Register(role Role, factory AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[role] = factory
}

// Spawn creates a single agent by role without starting it.
func (r *Registry) Spawn(role Role) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[role]
	if !ok {
		return nil, fmt.Errorf("no factory registered for role %q", role)
	}
	ag := factory()
	r.spawned = append(r.spawned, ag)
	return ag, nil
}

// SpawnReplicas starts n agents of role on sequential ports beginning at
// basePort. Port 0 lets the system pick a free port for every replica. On
// failure every replica started by this call is stopped.
func (r *Registry) SpawnReplicas(ctx context.Context, role Role, host string, basePort, n int) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[role]
	if !ok {
		return nil, fmt.Errorf("no factory registered for role %q", role)
	}

	var agents []Agent
	for i := range n {
		port := 0
		if basePort > 0 {
			port = basePort + i
		}
		ag := factory()
		addr := fmt.Sprintf("%s:%d", host, port)
		if err := ag.Start(ctx, addr); err != nil {
			for j := len(agents) - 1; j >= 0; j-- {
				_ = agents[j].Stop(ctx)
			}
			return nil, fmt.Errorf("start agent %q on %s: %w", role, addr, err)
		}
		agents = append(agents, ag)
	}

	r.spawned = append(r.spawned, agents...)
	return agents, nil
}

// StopAll gracefully stops all spawned agents in reverse order.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := len(r.spawned) - 1; i >= 0; i-- {
		if err := r.spawned[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.spawned = nil
	return firstErr
}
