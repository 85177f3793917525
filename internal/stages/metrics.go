package stages

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Compile-time check.
var _ orchestrator.StageExecutor = (*Metrics)(nil)

// Metrics derives summary measurements from whichever upstream stages ran.
type Metrics struct{}

// NewMetrics creates the metrics-collection stage.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Run(_ context.Context, sc orchestrator.StageContext, emit orchestrator.Emitter) orchestrator.Outcome {
	samples := collect(sc)
	for i, s := range samples {
		data, _ := json.Marshal(s)
		if err := emit.Item(orchestrator.Item{Kind: orchestrator.ItemMetricsSample, Ref: s.Name, Metric: &s, Data: data}); err != nil {
			return orchestrator.Fatal(err)
		}
		if err := emit.Progress(percent(i+1, len(samples)), s.Name); err != nil {
			return orchestrator.Fatal(err)
		}
	}
	return orchestrator.Success(orchestrator.StageResult{Stage: orchestrator.StageMetricsCollection, Output: samples})
}

// collect builds the samples in a fixed order.
func collect(sc orchestrator.StageContext) []orchestrator.MetricSample {
	var out []orchestrator.MetricSample
	add := func(name string, v float64, unit string) {
		out = append(out, orchestrator.MetricSample{Name: name, Value: v, Unit: unit})
	}

	if a, ok := input[*AnalysisOutput](sc, orchestrator.StageFileAnalysis); ok {
		add("files.analyzed", float64(len(a.Files)), "files")
		add("files.failed", float64(len(a.Failed)), "files")
		add("source.loc", float64(a.Stats.LOC), "lines")
		add("units.total", float64(a.Stats.Units), "units")
		add("units.testable", float64(a.TestableUnits()), "units")
		add("index.edges", float64(a.Stats.Edges), "edges")
		byLang := map[string]int{}
		for _, f := range a.Files {
			byLang[string(f.Language)]++
		}
		for _, lang := range slices.Sorted(maps.Keys(byLang)) {
			add("files."+lang, float64(byLang[lang]), "files")
		}
	}
	if s, ok := input[*SynthesisOutput](sc, orchestrator.StageTestSynthesis); ok {
		tests := 0
		for _, t := range s.Tests {
			tests += t.Tests
		}
		add("tests.files", float64(len(s.Tests)), "files")
		add("tests.generated", float64(tests), "tests")
	}
	if c, ok := input[*CoverageOutput](sc, orchestrator.StageCoverageComputation); ok {
		add("coverage.percent", c.Overall.Percent, "%")
	}
	return out
}
