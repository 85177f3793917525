// Package orchestrator coordinates streaming test-generation jobs. A
// Coordinator owns each job's lifecycle, dispatches pluggable stage executors
// in dependency order and serializes everything they report into a single,
// strictly ordered event stream consumed through a StreamHandle.
package orchestrator

// StageID identifies a pipeline stage.
type StageID string

const (
	StageFileAnalysis        StageID = "file-analysis"
	StageTestSynthesis       StageID = "test-synthesis"
	StageCoverageComputation StageID = "coverage-computation"
	StageMetricsCollection   StageID = "metrics-collection"
)

// StageSubscriber scopes error events that report a faulty subscriber rather
// than a pipeline stage.
const StageSubscriber StageID = "subscriber"

func (s StageID) String() string { return string(s) }

// Dependency declares that a stage consumes another stage's output.
type Dependency struct {
	Stage StageID

	// Required dependencies must be part of the requested stage set. Optional
	// ones are honoured for ordering when requested and ignored otherwise.
	Required bool
}

// StageDescriptor describes one pipeline stage. Descriptors are immutable
// once registered and shared read-only between executors.
type StageDescriptor struct {
	ID StageID

	// Required stages fail the job when they return Fatal. A non-required
	// stage's Fatal outcome is recorded and the job continues.
	Required bool

	// DependsOn lists the stages whose output this stage consumes.
	DependsOn []Dependency

	// Emits lists the item kinds the stage may publish. Empty means any.
	Emits []ItemKind
}

// CanEmit reports whether the stage declared the given item kind.
func (d StageDescriptor) CanEmit(kind ItemKind) bool {
	if len(d.Emits) == 0 {
		return true
	}
	for _, k := range d.Emits {
		if k == kind {
			return true
		}
	}
	return false
}

// StageResult holds the output of a finished stage.
type StageResult struct {
	Stage     StageID
	Artifacts []string // output files written
	Output    any      // stage-specific payload handed to dependent stages
}

// OutcomeStatus is how a stage ended.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial-failure"
	OutcomeFatal   OutcomeStatus = "fatal"

	// OutcomeNotRun marks stages that were never dispatched, e.g. after a
	// cancellation. It only appears in Result summaries.
	OutcomeNotRun OutcomeStatus = "not-run"
)

// Outcome is what a StageExecutor returns.
type Outcome struct {
	Status OutcomeStatus
	Result StageResult
	Errors []error // non-fatal errors for OutcomePartial
	Cause  error   // set for OutcomeFatal
}

// Success reports a stage that finished without errors.
func Success(res StageResult) Outcome {
	return Outcome{Status: OutcomeSuccess, Result: res}
}

// PartialFailure reports a stage that produced usable output but hit
// recoverable errors along the way.
func PartialFailure(res StageResult, errs ...error) Outcome {
	return Outcome{Status: OutcomePartial, Result: res, Errors: errs}
}

// Fatal reports a stage that could not produce output.
func Fatal(cause error) Outcome {
	return Outcome{Status: OutcomeFatal, Cause: cause}
}

// Usable reports whether dependents may consume the outcome's result.
func (o Outcome) Usable() bool {
	return o.Status == OutcomeSuccess || o.Status == OutcomePartial
}
