package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// run dispatches the planned stages and concludes the job. Stages start in
// topological order, each waiting for its dependencies, with at most
// maxConcurrent of them in flight. A required stage's Fatal outcome is
// returned to the errgroup, which cancels every stage still running.
func (j *job) run() {
	g, gctx := errgroup.WithContext(j.ctx)
	g.SetLimit(j.opts.maxConcurrent)

	done := make(map[StageID]chan struct{}, len(j.plan.Stages))
	for _, d := range j.plan.Stages {
		done[d.ID] = make(chan struct{})
	}

	for _, desc := range j.plan.Stages {
		if gctx.Err() != nil || j.halted() {
			break
		}
		g.Go(func() error {
			defer close(done[desc.ID])
			for _, dep := range j.plan.deps[desc.ID] {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return nil
				}
			}
			return j.runStage(gctx, desc)
		})
	}

	j.conclude(g.Wait())
}

func (j *job) runStage(ctx context.Context, desc StageDescriptor) error {
	if ctx.Err() != nil || j.halted() {
		return nil
	}
	j.markRunning()

	inputs, err := j.inputsFor(desc)
	if err != nil {
		return j.settle(desc, Fatal(err), 0, nil)
	}

	start := time.Now()
	out, em := j.execute(ctx, desc, j.plan.execs[desc.ID], inputs)
	return j.settle(desc, out, time.Since(start), em)
}

// inputsFor collects dependency results. A required dependency that produced
// no usable output blocks the stage.
func (j *job) inputsFor(desc StageDescriptor) (map[StageID]StageResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	inputs := make(map[StageID]StageResult, len(j.plan.deps[desc.ID]))
	for _, dep := range desc.DependsOn {
		out, ok := j.outcomes[dep.Stage]
		if ok && out.Usable() {
			inputs[dep.Stage] = out.Result
			continue
		}
		if dep.Required {
			return nil, fmt.Errorf("dependency %s produced no output", dep.Stage)
		}
	}
	return inputs, nil
}

// settle records a stage outcome and publishes what it implies: error events
// for partial failures and non-required fatals, and the stage's final
// progress. Errors the stage already emitted through em are not published
// again. A required Fatal halts the job.
func (j *job) settle(desc StageDescriptor, out Outcome, took time.Duration, em *stageEmitter) error {
	if out.Status == "" {
		out = Fatal(fmt.Errorf("executor returned no outcome"))
	}
	if out.Status == OutcomeFatal && out.Cause == nil {
		out.Cause = errors.New("executor reported fatal without a cause")
	}
	out.Result.Stage = desc.ID

	j.opts.sink.StageCompleted(string(desc.ID), string(out.Status), took)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.outcomes[desc.ID] = out

	switch out.Status {
	case OutcomePartial:
		for _, err := range out.Errors {
			if err == nil || em.consumeReported(err.Error()) {
				continue
			}
			_ = j.publishLocked(Event{
				Kind:  KindError,
				Stage: desc.ID,
				Error: &ErrorPayload{Cause: err.Error(), CanContinue: true},
			})
		}
	case OutcomeFatal:
		if desc.Required {
			fatal := &FatalStageError{Stage: desc.ID, Err: out.Cause}
			j.haltLocked(fatal)
			return fatal
		}
		log.Printf("orchestrator: job %s: optional stage %s failed: %v", j.id, desc.ID, out.Cause)
		if em.consumeReported(out.Cause.Error()) {
			break
		}
		_ = j.publishLocked(Event{
			Kind:  KindError,
			Stage: desc.ID,
			Error: &ErrorPayload{Cause: out.Cause.Error(), CanContinue: true},
		})
	}

	if j.halt == nil {
		return j.progressLocked(desc.ID, 100, "")
	}
	return nil
}

// execute runs one executor under the stall watchdog and cancellation grace.
// Stages that outlive either are abandoned: their emitter is sealed and a
// Fatal outcome is recorded in their place.
func (j *job) execute(ctx context.Context, desc StageDescriptor, exec StageExecutor, inputs map[StageID]StageResult) (Outcome, *stageEmitter) {
	stageCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	em := newStageEmitter(j, desc, stageCtx)
	sc := StageContext{JobID: j.id, Config: j.cfg, Stage: desc, Inputs: inputs}

	results := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- Fatal(fmt.Errorf("stage %s panicked: %v", desc.ID, r))
			}
		}()
		results <- exec.Run(stageCtx, sc, em)
	}()

	var stall <-chan time.Time
	if j.opts.stallTimeout > 0 {
		ticker := time.NewTicker(watchInterval(j.opts.stallTimeout))
		defer ticker.Stop()
		stall = ticker.C
	}
	cancelled := ctx.Done()
	var grace <-chan time.Time

	for {
		select {
		case out := <-results:
			em.detach()
			return out, em

		case <-stall:
			if em.idle() < j.opts.stallTimeout {
				continue
			}
			cause := fmt.Errorf("%w: no events for %s", ErrStageStalled, j.opts.stallTimeout)
			cancel(cause)
			em.detach()
			j.opts.sink.StageStalled(string(desc.ID))
			log.Printf("orchestrator: job %s: stage %s stalled after %s", j.id, desc.ID, j.opts.stallTimeout)
			return Fatal(cause), em

		case <-cancelled:
			cancelled, stall = nil, nil
			timer := time.NewTimer(j.opts.cancelGrace)
			defer timer.Stop()
			grace = timer.C

		case <-grace:
			em.detach()
			log.Printf("orchestrator: job %s: stage %s ignored cancellation for %s, output discarded",
				j.id, desc.ID, j.opts.cancelGrace)
			return Fatal(fmt.Errorf("%w: %v", ErrStageDetached, context.Cause(ctx))), em
		}
	}
}

func watchInterval(stall time.Duration) time.Duration {
	iv := stall / 4
	switch {
	case iv < time.Millisecond:
		return time.Millisecond
	case iv > time.Second:
		return time.Second
	default:
		return iv
	}
}

// Compile-time interface check.
var _ Emitter = (*stageEmitter)(nil)

// stageEmitter is the Emitter handed to one stage execution. The detached
// flag is guarded by the job lock so that nothing is published for a stage
// after the coordinator has given up on it.
type stageEmitter struct {
	j     *job
	desc  StageDescriptor
	ctx   context.Context
	start time.Time

	detached   bool
	lastActive time.Duration  // since start; guarded by j.mu
	reported   map[string]int // error causes published via Error; guarded by j.mu
}

func newStageEmitter(j *job, desc StageDescriptor, ctx context.Context) *stageEmitter {
	return &stageEmitter{j: j, desc: desc, ctx: ctx, start: time.Now(), reported: make(map[string]int)}
}

// consumeReported reports whether an error event with this cause was
// already published for the stage, using up one such event. Callers hold
// j.mu. A nil emitter has reported nothing.
func (e *stageEmitter) consumeReported(cause string) bool {
	if e == nil || e.reported[cause] == 0 {
		return false
	}
	e.reported[cause]--
	return true
}

func (e *stageEmitter) detach() {
	e.j.mu.Lock()
	e.detached = true
	e.j.mu.Unlock()
}

func (e *stageEmitter) idle() time.Duration {
	e.j.mu.Lock()
	defer e.j.mu.Unlock()
	return time.Since(e.start) - e.lastActive
}

// begin takes the job lock for an emit. It returns false, with the lock
// released, when the stage has been detached.
func (e *stageEmitter) begin() bool {
	e.j.mu.Lock()
	if e.detached {
		e.j.mu.Unlock()
		return false
	}
	e.lastActive = time.Since(e.start)
	return true
}

func (e *stageEmitter) Progress(percent float64, message string) error {
	if !e.begin() {
		return ErrStageDetached
	}
	defer e.j.mu.Unlock()
	return e.j.progressLocked(e.desc.ID, percent, message)
}

func (e *stageEmitter) Item(item Item) error {
	if !e.desc.CanEmit(item.Kind) {
		return &StageError{Stage: e.desc.ID, Err: fmt.Errorf("item kind %s not declared", item.Kind)}
	}
	if !e.begin() {
		return ErrStageDetached
	}
	defer e.j.mu.Unlock()
	return e.j.publishLocked(Event{Kind: KindStageItem, Stage: e.desc.ID, Item: &item})
}

func (e *stageEmitter) Error(err error, canContinue bool) error {
	if err == nil {
		return nil
	}
	if !e.begin() {
		return ErrStageDetached
	}
	defer e.j.mu.Unlock()
	cause := err.Error()
	if err := e.j.publishLocked(Event{
		Kind:  KindError,
		Stage: e.desc.ID,
		Error: &ErrorPayload{Cause: cause, CanContinue: canContinue},
	}); err != nil {
		return err
	}
	e.reported[cause]++
	return nil
}

func (e *stageEmitter) Checkpoint() error {
	if e.ctx.Err() != nil {
		return context.Cause(e.ctx)
	}
	return nil
}
