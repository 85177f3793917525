package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned by Publish after the terminal event. Seeing
	// it outside of a late emit from an abandoned stage is always a defect.
	ErrChannelClosed = errors.New("orchestrator: event channel closed")

	// ErrStageStalled is the cause recorded for a stage that emitted nothing
	// for longer than the configured stall timeout.
	ErrStageStalled = errors.New("orchestrator: stage stalled")

	// ErrStageDetached is returned to a stage that keeps emitting after the
	// coordinator stopped waiting for it.
	ErrStageDetached = errors.New("orchestrator: stage detached")

	// ErrJobCancelled is the cancellation cause delivered to stage contexts.
	ErrJobCancelled = errors.New("orchestrator: job cancelled")

	// ErrJobNotFound is returned when looking up an unknown job id.
	ErrJobNotFound = errors.New("orchestrator: job not found")
)

// ConfigurationError rejects a job before it starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("orchestrator: invalid configuration: %s: %s", e.Field, e.Reason)
}

// StageError is a recoverable, stage-scoped error. It is surfaced as an
// error event and the job continues.
type StageError struct {
	Stage StageID
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FatalStageError means a required stage could not continue. It is the cause
// a failed job's completion future resolves with.
type FatalStageError struct {
	Stage StageID
	Err   error
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *FatalStageError) Unwrap() error { return e.Err }

// SubscriberFault records a subscriber callback that panicked. It never
// propagates to stages or to other subscribers.
type SubscriberFault struct {
	Subscription uint64
	Seq          uint64
	Kind         EventKind
	Stage        StageID
	Value        any
}

func (f *SubscriberFault) Error() string {
	return fmt.Sprintf("subscriber %d panicked on event %d (%s): %v", f.Subscription, f.Seq, f.Kind, f.Value)
}

// CancelledError is returned by AwaitCompletion for a cancelled job. Partial
// holds whatever had been accumulated when the job stopped.
type CancelledError struct {
	Partial *Result
	Cause   error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil && !errors.Is(e.Cause, ErrJobCancelled) {
		return fmt.Sprintf("orchestrator: job cancelled: %v", e.Cause)
	}
	return "orchestrator: job cancelled"
}

func (e *CancelledError) Unwrap() error {
	if e.Cause == nil {
		return ErrJobCancelled
	}
	return e.Cause
}

// InvariantError reports a coordinator-internal invariant violation, such as
// an out-of-order publish.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "orchestrator: invariant violated: " + e.Reason
}

// failureCause converts a terminal cause into its wire form.
func failureCause(err error) *FailureCause {
	if err == nil {
		return nil
	}
	fc := &FailureCause{Message: err.Error()}
	var fatal *FatalStageError
	if errors.As(err, &fatal) {
		fc.Stage = fatal.Stage
		fc.Message = fatal.Err.Error()
	}
	return fc
}
