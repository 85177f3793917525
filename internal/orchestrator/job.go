package orchestrator

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"
)

// JobInfo is a point-in-time description of a job.
type JobInfo struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Config     JobConfig  `json:"config"`
	Stages     []StageID  `json:"stages"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Percent    float64    `json:"percent"`
	LastSeq    uint64     `json:"lastSeq"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// job is the coordinator-owned state of one run. All event publication goes
// through publishLocked so that sequence numbers, the aggregator and the
// channel never disagree.
type job struct {
	id        string
	cfg       JobConfig
	plan      *Plan
	opts      options
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	channel *EventChannel
	done    chan struct{}

	mu         sync.Mutex
	state      JobState
	seq        uint64
	agg        *Aggregator
	stagePct   map[StageID]float64
	outcomes   map[StageID]Outcome
	halt       error // first reason dispatch stopped
	result     *Result
	err        error
	finishedAt time.Time

	terminalOnce sync.Once
	onFinish     func(*job)
}

func newJob(parent context.Context, id string, cfg JobConfig, plan *Plan, opts options, onFinish func(*job)) *job {
	now := opts.clock()
	j := &job{
		id:        id,
		cfg:       cfg,
		plan:      plan,
		opts:      opts,
		createdAt: now,
		done:      make(chan struct{}),
		state:     JobCreated,
		agg:       NewAggregator(now),
		stagePct:  make(map[StageID]float64, len(plan.Stages)),
		outcomes:  make(map[StageID]Outcome, len(plan.Stages)),
		onFinish:  onFinish,
	}
	j.ctx, j.cancel = context.WithCancelCause(parent)
	j.channel = NewEventChannel(j.subscriberFault)
	return j
}

// publishLocked stamps and publishes ev. Caller holds j.mu.
func (j *job) publishLocked(ev Event) error {
	ev.JobID = j.id
	ev.Seq = j.seq + 1
	if ev.At.IsZero() {
		ev.At = j.opts.clock()
	}
	if err := j.channel.Publish(ev); err != nil {
		var inv *InvariantError
		if errors.As(err, &inv) {
			log.Printf("orchestrator: job %s: %v", j.id, err)
			j.haltLocked(err)
		}
		return err
	}
	j.seq = ev.Seq
	j.agg.Observe(ev)
	j.opts.sink.EventPublished(string(ev.Kind))
	return nil
}

// haltLocked records the first reason to stop dispatching and cancels the
// job context. Caller holds j.mu.
func (j *job) haltLocked(cause error) {
	if j.halt == nil {
		j.halt = cause
	}
	j.cancel(cause)
}

func (j *job) halted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.halt != nil
}

// requestCancel is idempotent and a no-op once the job is terminal.
func (j *job) requestCancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.haltLocked(ErrJobCancelled)
}

func (j *job) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobCreated {
		j.state = JobRunning
	}
}

// overallLocked is the mean of the planned stages' own percentages.
func (j *job) overallLocked() float64 {
	if len(j.plan.Stages) == 0 {
		return 0
	}
	var sum float64
	for _, d := range j.plan.Stages {
		sum += j.stagePct[d.ID]
	}
	return sum / float64(len(j.plan.Stages))
}

func (j *job) progressLocked(stage StageID, pct float64, msg string) error {
	pct = clampPercent(pct)
	if pct <= j.stagePct[stage] {
		return nil
	}
	j.stagePct[stage] = pct
	return j.publishLocked(Event{
		Kind:  KindProgress,
		Stage: stage,
		Progress: &ProgressPayload{
			Percent:      j.overallLocked(),
			StagePercent: pct,
			Message:      msg,
		},
	})
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// subscriberFault turns a subscriber panic into an error event. Faults raised
// while delivering such an event are only logged, so a subscriber that panics
// on everything cannot feed itself an endless stream of reports.
func (j *job) subscriberFault(f *SubscriberFault) {
	j.opts.sink.SubscriberFault()
	log.Printf("orchestrator: job %s: %v", j.id, f)
	if f.Stage == StageSubscriber {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.publishLocked(Event{
		Kind:  KindError,
		Stage: StageSubscriber,
		Error: &ErrorPayload{Cause: f.Error(), CanContinue: true},
	})
}

// conclude picks the terminal outcome once dispatch has wound down.
func (j *job) conclude(groupErr error) {
	j.mu.Lock()
	halt := j.halt
	j.mu.Unlock()
	if halt == nil && j.ctx.Err() != nil {
		halt = context.Cause(j.ctx)
	}

	var (
		inv   *InvariantError
		fatal *FatalStageError
	)
	switch {
	case errors.As(halt, &inv), errors.As(halt, &fatal):
		j.finish(TerminalFailed, halt)
	case halt != nil:
		j.finish(TerminalCancelled, halt)
	case groupErr != nil:
		j.finish(TerminalFailed, groupErr)
	default:
		j.finish(TerminalCompleted, nil)
	}
}

// finish publishes exactly one terminal event, however many paths reach it.
func (j *job) finish(kind TerminalKind, cause error) {
	j.terminalOnce.Do(func() {
		j.mu.Lock()
		at := j.opts.clock()
		snap := j.agg.Snapshot()
		snap.advance(at)

		var res *Result
		if kind != TerminalFailed {
			res = BuildResult(snap, j.outcomes, j.plan.Order(), j.cfg.CoverageTarget, kind == TerminalCancelled)
		}

		to := stateFor(kind)
		if err := ValidateTransition(j.state, to); err != nil {
			log.Printf("orchestrator: job %s: %v", j.id, err)
		}
		j.state = to
		j.finishedAt = at
		j.result = res
		switch kind {
		case TerminalFailed:
			j.err = cause
		case TerminalCancelled:
			j.err = &CancelledError{Partial: res, Cause: cause}
		}

		ev := Event{
			Kind:     KindTerminal,
			At:       at,
			Terminal: &TerminalPayload{Kind: kind, Result: res},
		}
		if kind != TerminalCompleted {
			ev.Terminal.Cause = failureCause(cause)
		}
		if err := j.publishLocked(ev); err != nil {
			log.Printf("orchestrator: job %s: publish terminal: %v", j.id, err)
		}
		j.mu.Unlock()

		j.cancel(context.Canceled)
		j.opts.sink.JobFinished(string(kind), at.Sub(j.createdAt))
		if cause != nil {
			log.Printf("orchestrator: job %s %s: %v", j.id, kind, cause)
		} else {
			log.Printf("orchestrator: job %s %s", j.id, kind)
		}
		if j.onFinish != nil {
			j.onFinish(j)
		}
		close(j.done)
	})
}

// snapshot returns the live accumulated state. Elapsed is advanced to now
// while the job is still running.
func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := j.agg.Snapshot()
	if !j.state.Terminal() {
		snap.advance(j.opts.clock())
	}
	return snap
}

func (j *job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := JobInfo{
		ID:        j.id,
		State:     j.state,
		Config:    j.cfg,
		Stages:    j.plan.Order(),
		CreatedAt: j.createdAt,
		Percent:   j.agg.snap.Percent,
		LastSeq:   j.seq,
		Result:    j.result,
	}
	if j.state.Terminal() {
		at := j.finishedAt
		info.FinishedAt = &at
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}

func (j *job) currentState() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *job) await(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	return j.result, nil
}
