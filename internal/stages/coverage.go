package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Compile-time checks.
var (
	_ orchestrator.StageExecutor = (*Coverage)(nil)
	_ CoverageEstimator          = UnitCoverage{}
)

// CoverageReportFile is written to the output directory by the coverage
// stage.
const CoverageReportFile = "coverage.json"

// FileCoverage is the coverage of one source file.
type FileCoverage struct {
	Path    string `json:"path"`
	Covered int    `json:"covered"`
	Total   int    `json:"total"`
}

// Figure converts the counts into a coverage figure.
func (c FileCoverage) Figure() orchestrator.CoverageFigure {
	return figure(c.Covered, c.Total)
}

func figure(covered, total int) orchestrator.CoverageFigure {
	f := orchestrator.CoverageFigure{Covered: covered, Total: total}
	if total > 0 {
		f.Percent = 100 * float64(covered) / float64(total)
	}
	return f
}

// CoverageEstimator computes per-file coverage. synthesis is nil when the
// test-synthesis stage was not part of the job.
type CoverageEstimator interface {
	Estimate(ctx context.Context, analysis *AnalysisOutput, synthesis *SynthesisOutput) ([]FileCoverage, error)
}

// UnitCoverage counts a testable unit as covered when a generated test file
// targets it.
type UnitCoverage struct{}

func (UnitCoverage) Estimate(ctx context.Context, analysis *AnalysisOutput, synthesis *SynthesisOutput) ([]FileCoverage, error) {
	covered := map[string]map[string]bool{}
	if synthesis != nil {
		covered = synthesis.Covered()
	}
	var out []FileCoverage
	for _, f := range analysis.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		units := f.Testable()
		if len(units) == 0 {
			continue
		}
		fc := FileCoverage{Path: f.Path, Total: len(units)}
		for _, u := range units {
			if covered[f.Path][u.QualifiedName()] {
				fc.Covered++
			}
		}
		out = append(out, fc)
	}
	return out, nil
}

// CoverageOutput is the coverage-computation stage's output.
type CoverageOutput struct {
	Files   []FileCoverage              `json:"files"`
	Overall orchestrator.CoverageFigure `json:"overall"`
	Target  float64                     `json:"target,omitempty"`
}

// Coverage computes coverage for the job and reports one snapshot per file
// followed by the overall figure.
type Coverage struct {
	estimator CoverageEstimator
}

// NewCoverage creates the coverage-computation stage.
func NewCoverage(estimator CoverageEstimator) *Coverage {
	return &Coverage{estimator: estimator}
}

func (c *Coverage) Run(ctx context.Context, sc orchestrator.StageContext, emit orchestrator.Emitter) orchestrator.Outcome {
	analysis, ok := input[*AnalysisOutput](sc, orchestrator.StageFileAnalysis)
	if !ok {
		return orchestrator.Fatal(errors.New("coverage: file-analysis output missing"))
	}
	synthesis, _ := input[*SynthesisOutput](sc, orchestrator.StageTestSynthesis)

	files, err := c.estimator.Estimate(ctx, analysis, synthesis)
	if err != nil {
		return orchestrator.Fatal(fmt.Errorf("coverage: %w", err))
	}

	out := &CoverageOutput{Files: files, Target: sc.Config.CoverageTarget}
	var covered, total int
	for i, f := range files {
		if err := emit.Checkpoint(); err != nil {
			return orchestrator.Fatal(err)
		}
		fig := f.Figure()
		if err := emit.Item(orchestrator.Item{Kind: orchestrator.ItemCoverageSnapshot, Ref: f.Path, Coverage: &fig}); err != nil {
			return orchestrator.Fatal(err)
		}
		if err := emit.Progress(percent(i+1, len(files)+1), f.Path); err != nil {
			return orchestrator.Fatal(err)
		}
		covered += f.Covered
		total += f.Total
	}

	// The overall figure goes last so it is the job's last-known coverage.
	out.Overall = figure(covered, total)
	overall := out.Overall
	if err := emit.Item(orchestrator.Item{Kind: orchestrator.ItemCoverageSnapshot, Coverage: &overall}); err != nil {
		return orchestrator.Fatal(err)
	}

	res := orchestrator.StageResult{Stage: orchestrator.StageCoverageComputation, Output: out}
	path := filepath.Join(OutputDir(sc.Config), CoverageReportFile)
	data, err := json.MarshalIndent(out, "", "  ")
	if err == nil {
		err = writeFile(path, append(data, '\n'))
	}
	if err != nil {
		werr := fmt.Errorf("coverage: report: %w", err)
		if eerr := emit.Error(werr, true); eerr != nil {
			return orchestrator.Fatal(eerr)
		}
		return orchestrator.PartialFailure(res, werr)
	}
	res.Artifacts = []string{path}
	if err := emit.Progress(100, "overall"); err != nil {
		return orchestrator.Fatal(err)
	}
	return orchestrator.Success(res)
}
