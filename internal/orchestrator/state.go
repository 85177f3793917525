package orchestrator

import "fmt"

// JobState is a job's lifecycle state.
type JobState string

const (
	JobCreated   JobState = "created"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

var allowedTransitions = map[JobState]map[JobState]struct{}{
	JobCreated: {
		JobRunning:   {},
		JobFailed:    {},
		JobCancelled: {},
	},
	JobRunning: {
		JobCompleted: {},
		JobFailed:    {},
		JobCancelled: {},
	},
	JobCompleted: {},
	JobFailed:    {},
	JobCancelled: {},
}

// ValidateTransition returns an error unless from -> to is allowed.
func ValidateTransition(from, to JobState) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("invalid job state: %q", from)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid job transition: %s -> %s", from, to)
	}
	return nil
}

func stateFor(kind TerminalKind) JobState {
	switch kind {
	case TerminalCompleted:
		return JobCompleted
	case TerminalCancelled:
		return JobCancelled
	default:
		return JobFailed
	}
}
