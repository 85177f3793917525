// Package metrics records job orchestration metrics.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Job lifecycle
	JobStarted()
	JobFinished(terminal string, duration time.Duration)

	// Stage execution
	StageCompleted(stage, outcome string, duration time.Duration)
	StageStalled(stage string)

	// Event channel
	EventPublished(kind string)
	SubscriberFault()
}

// Terminal constants for JobFinished, mirroring the terminal event kinds.
const (
	TerminalCompleted = "completed"
	TerminalFailed    = "failed"
	TerminalCancelled = "cancelled"
)
