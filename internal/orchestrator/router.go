package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// StageExecutor runs a single pipeline stage. Run must honour ctx: once it is
// done, the executor should stop at its next checkpoint and return. Everything
// the stage reports goes through emit; executors never publish events
// themselves.
type StageExecutor interface {
	Run(ctx context.Context, sc StageContext, emit Emitter) Outcome
}

// StageFunc adapts a plain function to StageExecutor.
type StageFunc func(ctx context.Context, sc StageContext, emit Emitter) Outcome

// Run calls f.
func (f StageFunc) Run(ctx context.Context, sc StageContext, emit Emitter) Outcome {
	return f(ctx, sc, emit)
}

// Emitter is a stage's only way to report progress. Every call counts as
// activity for the stall watchdog. Calls after the stage was abandoned return
// ErrStageDetached and publish nothing.
type Emitter interface {
	// Progress reports the stage's own completion percentage in [0, 100].
	// Values below the last reported percentage are ignored.
	Progress(percent float64, message string) error

	// Item reports one produced unit. Its kind must be declared in the
	// stage's descriptor.
	Item(item Item) error

	// Error reports a non-terminal error.
	Error(err error, canContinue bool) error

	// Checkpoint returns the cancellation cause once the stage should stop,
	// nil otherwise.
	Checkpoint() error
}

// StageContext is the read-only input handed to an executor.
type StageContext struct {
	JobID  string
	Config JobConfig
	Stage  StageDescriptor

	// Inputs holds the results of the stage's requested dependencies.
	Inputs map[StageID]StageResult
}

// Input returns the result of dependency id, if it ran and produced output.
func (sc StageContext) Input(id StageID) (StageResult, bool) {
	r, ok := sc.Inputs[id]
	return r, ok
}

// Registry maps stage ids to their descriptors and executors. Registration
// order is the tie-breaker when planning otherwise unordered stages.
type Registry struct {
	mu     sync.RWMutex
	stages map[StageID]registration
	order  []StageID
}

type registration struct {
	desc StageDescriptor
	exec StageExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[StageID]registration)}
}

// Register associates an executor with a stage descriptor.
func (r *Registry) Register(desc StageDescriptor, exec StageExecutor) error {
	if desc.ID == "" {
		return fmt.Errorf("registry: stage id must not be empty")
	}
	if exec == nil {
		return fmt.Errorf("registry: nil executor for stage %s", desc.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stages[desc.ID]; ok {
		return fmt.Errorf("registry: stage %s already registered", desc.ID)
	}
	desc.DependsOn = slices.Clone(desc.DependsOn)
	desc.Emits = slices.Clone(desc.Emits)
	r.stages[desc.ID] = registration{desc: desc, exec: exec}
	r.order = append(r.order, desc.ID)
	return nil
}

// Lookup returns the descriptor and executor registered for id.
func (r *Registry) Lookup(id StageID) (StageDescriptor, StageExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.stages[id]
	return reg.desc, reg.exec, ok
}

// Stages returns all registered descriptors in registration order.
func (r *Registry) Stages() []StageDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.stages[id].desc)
	}
	return out
}

// Plan is the validated execution plan for a set of requested stages.
type Plan struct {
	// Stages lists the requested stages in a topological order.
	Stages []StageDescriptor

	deps  map[StageID][]StageID
	execs map[StageID]StageExecutor
}

// Order returns the planned stage ids.
func (p *Plan) Order() []StageID {
	out := make([]StageID, len(p.Stages))
	for i, d := range p.Stages {
		out[i] = d.ID
	}
	return out
}

// DependenciesOf returns the planned stages that id waits for.
func (p *Plan) DependenciesOf(id StageID) []StageID {
	return slices.Clone(p.deps[id])
}

// Plan validates requested against the registry and orders it so that every
// stage follows its dependencies. Unknown stages, required dependencies that
// were not requested and dependency cycles are ConfigurationErrors.
func (r *Registry) Plan(requested []StageID) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[StageID]bool, len(requested))
	for _, id := range requested {
		if _, ok := r.stages[id]; !ok {
			return nil, &ConfigurationError{
				Field:  "stages",
				Reason: fmt.Sprintf("no executor registered for stage %q", id),
			}
		}
		want[id] = true
	}

	plan := &Plan{
		deps:  make(map[StageID][]StageID, len(want)),
		execs: make(map[StageID]StageExecutor, len(want)),
	}
	indegree := make(map[StageID]int, len(want))
	dependents := make(map[StageID][]StageID, len(want))

	for _, id := range r.order {
		if !want[id] {
			continue
		}
		reg := r.stages[id]
		plan.execs[id] = reg.exec
		for _, dep := range reg.desc.DependsOn {
			if !want[dep.Stage] {
				if dep.Required {
					return nil, &ConfigurationError{
						Field:  "stages",
						Reason: fmt.Sprintf("stage %s requires %s, which was not requested", id, dep.Stage),
					}
				}
				continue
			}
			if slices.Contains(plan.deps[id], dep.Stage) {
				continue
			}
			plan.deps[id] = append(plan.deps[id], dep.Stage)
			dependents[dep.Stage] = append(dependents[dep.Stage], id)
			indegree[id]++
		}
	}

	// Kahn's algorithm, scanning in registration order for stable output.
	placed := make(map[StageID]bool, len(want))
	for len(plan.Stages) < len(want) {
		progressed := false
		for _, id := range r.order {
			if !want[id] || placed[id] || indegree[id] > 0 {
				continue
			}
			placed[id] = true
			plan.Stages = append(plan.Stages, r.stages[id].desc)
			for _, next := range dependents[id] {
				indegree[next]--
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, id := range r.order {
				if want[id] && !placed[id] {
					stuck = append(stuck, string(id))
				}
			}
			return nil, &ConfigurationError{
				Field:  "stages",
				Reason: "dependency cycle among " + strings.Join(stuck, ", "),
			}
		}
	}
	return plan, nil
}
