package orchestrator

import (
	"context"
	"sync"
)

// StreamHandle is a consumer's view of one job. Several handles may observe
// the same job; disposing one never affects the job or the other handles.
type StreamHandle struct {
	job *job

	mu       sync.Mutex
	subs     []*Subscription
	disposed bool
}

func newStreamHandle(j *job) *StreamHandle {
	return &StreamHandle{job: j}
}

// JobID returns the job's identifier.
func (h *StreamHandle) JobID() string { return h.job.id }

// State returns the job's current lifecycle state.
func (h *StreamHandle) State() JobState { return h.job.currentState() }

// Info describes the job.
func (h *StreamHandle) Info() JobInfo { return h.job.info() }

// Snapshot returns the accumulated progress so far.
func (h *StreamHandle) Snapshot() Snapshot { return h.job.snapshot() }

// Done is closed when the job reaches a terminal state.
func (h *StreamHandle) Done() <-chan struct{} { return h.job.done }

// OnEvent registers fn for events of the given kind, followed by the
// terminal event.
func (h *StreamHandle) OnEvent(kind EventKind, fn func(Event)) *Subscription {
	return h.Subscribe(1, fn, kind)
}

// OnAny registers fn for every event.
func (h *StreamHandle) OnAny(fn func(Event)) *Subscription {
	return h.Subscribe(1, fn)
}

// Subscribe registers fn for events with Seq >= from, optionally restricted
// to kinds. After Dispose it returns an inert subscription.
func (h *StreamHandle) Subscribe(from uint64, fn func(Event), kinds ...EventKind) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return inertSubscription()
	}
	s := h.job.channel.SubscribeFrom(from, fn, kinds...)
	h.subs = append(h.subs, s)
	return s
}

// AwaitCompletion blocks until the job is terminal or ctx is done. A
// completed job yields its Result; a failed job a *FatalStageError (or
// *InvariantError); a cancelled job a *CancelledError carrying the partial
// Result.
func (h *StreamHandle) AwaitCompletion(ctx context.Context) (*Result, error) {
	return h.job.await(ctx)
}

// Cancel requests cancellation of the job. It is idempotent.
func (h *StreamHandle) Cancel() {
	h.job.requestCancel()
}

// Dispose unsubscribes everything registered through this handle. The job
// keeps running. Dispose is idempotent.
func (h *StreamHandle) Dispose() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.disposed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func inertSubscription() *Subscription {
	s := newSubscription(nil, 0, func(Event) {}, nil)
	s.closed = true
	close(s.done)
	return s
}
