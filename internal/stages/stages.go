// Package stages implements the built-in pipeline stages: file analysis,
// test synthesis, coverage computation and metrics collection. Register wires
// them into an orchestrator.Registry.
package stages

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// DefaultOutputDir is used when a job does not set OutputDir. Relative paths
// resolve against the job's source root.
const DefaultOutputDir = ".testgen"

// Deps are the collaborators shared by the built-in stages. Zero fields get
// defaults in Register.
type Deps struct {
	// Parser extracts units from source files. Defaults to a tree-sitter
	// parser.
	Parser graph.Parser

	// NewStore opens the analysis index for one job. Defaults to an
	// in-memory store.
	NewStore func() (graph.Store, error)

	// Synthesizer produces test files. Defaults to template synthesis.
	Synthesizer Synthesizer

	// Estimator computes coverage. Defaults to UnitCoverage.
	Estimator CoverageEstimator

	// Workers bounds per-stage file concurrency. Defaults to the CPU count.
	Workers int
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Parser == nil {
		d.Parser = graph.NewTreeSitterParser()
	}
	if d.NewStore == nil {
		d.NewStore = func() (graph.Store, error) { return graph.NewMemStore(), nil }
	}
	if d.Synthesizer == nil {
		ts, err := NewTemplateSynthesizer()
		if err != nil {
			return d, err
		}
		d.Synthesizer = ts
	}
	if d.Estimator == nil {
		d.Estimator = UnitCoverage{}
	}
	if d.Workers <= 0 {
		d.Workers = runtime.NumCPU()
	}
	return d, nil
}

// Descriptors returns the descriptors of the built-in stages in pipeline
// order.
func Descriptors() []orchestrator.StageDescriptor {
	return []orchestrator.StageDescriptor{
		{
			ID:       orchestrator.StageFileAnalysis,
			Required: true,
			Emits:    []orchestrator.ItemKind{orchestrator.ItemFileAnalyzed},
		},
		{
			ID:        orchestrator.StageTestSynthesis,
			Required:  true,
			DependsOn: []orchestrator.Dependency{{Stage: orchestrator.StageFileAnalysis, Required: true}},
			Emits:     []orchestrator.ItemKind{orchestrator.ItemTestGenerated},
		},
		{
			ID:       orchestrator.StageCoverageComputation,
			Required: true,
			DependsOn: []orchestrator.Dependency{
				{Stage: orchestrator.StageFileAnalysis, Required: true},
				{Stage: orchestrator.StageTestSynthesis},
			},
			Emits: []orchestrator.ItemKind{orchestrator.ItemCoverageSnapshot},
		},
		{
			ID: orchestrator.StageMetricsCollection,
			DependsOn: []orchestrator.Dependency{
				{Stage: orchestrator.StageFileAnalysis},
				{Stage: orchestrator.StageTestSynthesis},
				{Stage: orchestrator.StageCoverageComputation},
			},
			Emits: []orchestrator.ItemKind{orchestrator.ItemMetricsSample},
		},
	}
}

// Register adds the four built-in stages to reg.
func Register(reg *orchestrator.Registry, d Deps) error {
	d, err := d.withDefaults()
	if err != nil {
		return fmt.Errorf("stages: %w", err)
	}
	execs := map[orchestrator.StageID]orchestrator.StageExecutor{
		orchestrator.StageFileAnalysis:        NewAnalysis(d.Parser, d.NewStore, d.Workers),
		orchestrator.StageTestSynthesis:       NewSynthesis(d.Synthesizer, d.Workers),
		orchestrator.StageCoverageComputation: NewCoverage(d.Estimator),
		orchestrator.StageMetricsCollection:   NewMetrics(),
	}
	for _, desc := range Descriptors() {
		if err := reg.Register(desc, execs[desc.ID]); err != nil {
			return fmt.Errorf("stages: %w", err)
		}
	}
	return nil
}

// OutputDir resolves where a job writes generated files.
func OutputDir(cfg orchestrator.JobConfig) string {
	dir := cfg.OutputDir
	if dir == "" {
		dir = DefaultOutputDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.Source, dir)
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(done) / float64(total)
}

// input fetches a dependency's typed output.
func input[T any](sc orchestrator.StageContext, id orchestrator.StageID) (T, bool) {
	var zero T
	res, ok := sc.Input(id)
	if !ok {
		return zero, false
	}
	out, ok := res.Output.(T)
	return out, ok
}
