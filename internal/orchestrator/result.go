package orchestrator

import (
	"slices"
	"time"
)

// Result is the final outcome of a job. Completed jobs carry a full Result,
// cancelled jobs a Result with Partial set.
type Result struct {
	FilesAnalyzed  int              `json:"filesAnalyzed"`
	TestsGenerated int              `json:"testsGenerated"`
	Items          map[ItemKind]int `json:"items"`

	Coverage       *CoverageFigure `json:"coverage,omitempty"`
	CoverageTarget float64         `json:"coverageTarget,omitempty"`
	TargetMet      bool            `json:"targetMet"`

	Elapsed   time.Duration `json:"elapsed"`
	Artifacts []string      `json:"artifacts"`
	Usage     *Usage        `json:"usage,omitempty"`

	Stages []StageSummary `json:"stages"`
	Errors []ErrorRecord  `json:"errors,omitempty"`

	Partial bool `json:"partial,omitempty"`
}

// StageSummary reports how one requested stage ended.
type StageSummary struct {
	Stage  StageID       `json:"stage"`
	Status OutcomeStatus `json:"status"`
	Items  int           `json:"items"`
	Errors int           `json:"errors"`
}

// ErrorRecord is a non-terminal error retained in the Result.
type ErrorRecord struct {
	Stage   StageID `json:"stage"`
	Message string  `json:"message"`
	Fatal   bool    `json:"fatal,omitempty"`
}

// BuildResult assembles a Result from the accumulated snapshot and the stage
// outcomes. order lists the planned stages; it fixes the order of Stages and
// Errors so that equal inputs always produce equal Results.
func BuildResult(snap Snapshot, outcomes map[StageID]Outcome, order []StageID, target float64, partial bool) *Result {
	res := &Result{
		FilesAnalyzed:  snap.Items[ItemFileAnalyzed],
		TestsGenerated: snap.Items[ItemTestGenerated],
		Items:          make(map[ItemKind]int, len(snap.Items)),
		CoverageTarget: target,
		Elapsed:        snap.Elapsed,
		Artifacts:      []string{},
		Stages:         make([]StageSummary, 0, len(order)),
		Partial:        partial,
	}
	for k, n := range snap.Items {
		res.Items[k] = n
	}
	if snap.Coverage != nil {
		c := *snap.Coverage
		res.Coverage = &c
		res.TargetMet = target > 0 && c.Percent >= target
	}
	if !snap.Usage.IsZero() {
		u := snap.Usage
		res.Usage = &u
	}

	for _, id := range order {
		sum := StageSummary{Stage: id, Status: OutcomeNotRun, Errors: snap.Errors[id]}
		for _, n := range snap.StageItems[id] {
			sum.Items += n
		}
		out, ok := outcomes[id]
		if ok {
			sum.Status = out.Status
			res.Artifacts = append(res.Artifacts, out.Result.Artifacts...)
			for _, err := range out.Errors {
				if err != nil {
					res.Errors = append(res.Errors, ErrorRecord{Stage: id, Message: err.Error()})
				}
			}
			if out.Status == OutcomeFatal && out.Cause != nil {
				res.Errors = append(res.Errors, ErrorRecord{Stage: id, Message: out.Cause.Error(), Fatal: true})
			}
		}
		res.Stages = append(res.Stages, sum)
	}

	slices.Sort(res.Artifacts)
	res.Artifacts = slices.Compact(res.Artifacts)
	return res
}
