package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

func TestMetrics_SamplesFromAllInputs(t *testing.T) {
	analysis := &AnalysisOutput{
		Files: []AnalyzedFile{
			{Path: "a.go", Language: graph.LangGo, Units: []graph.UnitNode{{Name: "A", Kind: graph.UnitFunction}}},
			{Path: "b.py", Language: graph.LangPython},
		},
		Failed: []string{"c.go"},
		Stats:  graph.IndexStats{LOC: 120, Units: 7, Edges: 9},
	}
	inputs := analysisInputs(analysis)
	inputs[orchestrator.StageTestSynthesis] = orchestrator.StageResult{Output: &SynthesisOutput{Tests: []GeneratedTest{{Tests: 3}, {Tests: 2}}}}
	inputs[orchestrator.StageCoverageComputation] = orchestrator.StageResult{Output: &CoverageOutput{Overall: orchestrator.CoverageFigure{Percent: 75}}}

	emit := &recordingEmitter{}
	out := NewMetrics().Run(context.Background(), stageContext(orchestrator.JobConfig{}, inputs), emit)
	require.Equal(t, orchestrator.OutcomeSuccess, out.Status)

	got := map[string]float64{}
	for _, it := range emit.items {
		require.NotNil(t, it.Metric)
		assert.Equal(t, orchestrator.ItemMetricsSample, it.Kind)
		got[it.Metric.Name] = it.Metric.Value
	}
	assert.Equal(t, map[string]float64{
		"files.analyzed":   2,
		"files.failed":     1,
		"source.loc":       120,
		"units.total":      7,
		"units.testable":   1,
		"index.edges":      9,
		"files.go":         1,
		"files.python":     1,
		"tests.files":      2,
		"tests.generated":  5,
		"coverage.percent": 75,
	}, got)
	assert.Equal(t, []string{
		"files.analyzed", "files.failed", "source.loc", "units.total", "units.testable", "index.edges",
		"files.go", "files.python", "tests.files", "tests.generated", "coverage.percent",
	}, emit.refs())
	assert.Len(t, out.Result.Output.([]orchestrator.MetricSample), 11)
}

func TestMetrics_NoInputs(t *testing.T) {
	emit := &recordingEmitter{}
	out := NewMetrics().Run(context.Background(), stageContext(orchestrator.JobConfig{}, nil), emit)
	assert.Equal(t, orchestrator.OutcomeSuccess, out.Status)
	assert.Empty(t, emit.items)
}
