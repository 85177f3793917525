package orchestrator

import (
	"encoding/json"
	"time"
)

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	KindProgress  EventKind = "progress"
	KindStageItem EventKind = "stage-item"
	KindError     EventKind = "error"
	KindTerminal  EventKind = "terminal"
)

// ItemKind classifies a unit produced by a stage.
type ItemKind string

const (
	ItemFileAnalyzed     ItemKind = "file-analyzed"
	ItemTestGenerated    ItemKind = "test-generated"
	ItemCoverageSnapshot ItemKind = "coverage-snapshot"
	ItemMetricsSample    ItemKind = "metrics-sample"
)

// TerminalKind is how a job ended.
type TerminalKind string

const (
	TerminalCompleted TerminalKind = "completed"
	TerminalFailed    TerminalKind = "failed"
	TerminalCancelled TerminalKind = "cancelled"
)

// Event is one entry of a job's ordered stream. Seq starts at 1 and grows by
// exactly one per published event. The JSON form is the wire contract for
// remote subscribers, so field names must stay stable.
type Event struct {
	JobID string    `json:"jobId"`
	Seq   uint64    `json:"seq"`
	Kind  EventKind `json:"kind"`
	Stage StageID   `json:"stage,omitempty"`
	At    time.Time `json:"at"`

	// Exactly one of these is set, matching Kind.
	Progress *ProgressPayload `json:"progress,omitempty"`
	Item     *Item            `json:"item,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
	Terminal *TerminalPayload `json:"terminal,omitempty"`
}

// IsTerminal reports whether the event ends the job's stream.
func (e Event) IsTerminal() bool {
	return e.Kind == KindTerminal
}

// ProgressPayload carries the job-level percentage alongside the percentage
// reported by the emitting stage.
type ProgressPayload struct {
	Percent      float64 `json:"percent"`
	StagePercent float64 `json:"stagePercent"`
	Message      string  `json:"message,omitempty"`
}

// Item is a unit produced by a stage: an analyzed file, a generated test, a
// coverage snapshot or a metrics sample.
type Item struct {
	Kind     ItemKind        `json:"kind"`
	Ref      string          `json:"ref,omitempty"` // file path, test path or metric name
	Coverage *CoverageFigure `json:"coverage,omitempty"`
	Metric   *MetricSample   `json:"metric,omitempty"`
	Usage    *Usage          `json:"usage,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// CoverageFigure is a coverage measurement.
type CoverageFigure struct {
	Percent float64 `json:"percent"`
	Covered int     `json:"covered"`
	Total   int     `json:"total"`
}

// MetricSample is a single named measurement.
type MetricSample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Usage is optional cost metadata reported by synthesis backends.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// IsZero reports whether no usage has been recorded.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.CostUSD == 0
}

func (u Usage) add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

// ErrorPayload is a stage-scoped, non-terminal error.
type ErrorPayload struct {
	Cause       string `json:"cause"`
	CanContinue bool   `json:"canContinue"`
}

// TerminalPayload ends a job's stream. Result is set for completed and
// cancelled jobs (partial in the latter case); Cause for failed and cancelled.
type TerminalPayload struct {
	Kind   TerminalKind  `json:"kind"`
	Result *Result       `json:"result,omitempty"`
	Cause  *FailureCause `json:"cause,omitempty"`
}

// FailureCause identifies why a job did not complete.
type FailureCause struct {
	Stage   StageID `json:"stage,omitempty"`
	Message string  `json:"message"`
}
