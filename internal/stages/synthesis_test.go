package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// synthFunc adapts a function to Synthesizer.
type synthFunc func(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error)

func (f synthFunc) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error) {
	return f(ctx, req)
}

func analysisInputs(a *AnalysisOutput) map[orchestrator.StageID]orchestrator.StageResult {
	return map[orchestrator.StageID]orchestrator.StageResult{
		orchestrator.StageFileAnalysis: {Stage: orchestrator.StageFileAnalysis, Output: a},
	}
}

func templateSynth(t *testing.T) *TemplateSynthesizer {
	t.Helper()
	ts, err := NewTemplateSynthesizer()
	require.NoError(t, err)
	return ts
}

func TestSynthesis_WritesTemplateTests(t *testing.T) {
	analysis := analyze(t, fixtureDir)
	outDir := t.TempDir()
	emit := &recordingEmitter{}

	out := NewSynthesis(templateSynth(t), 2).Run(context.Background(),
		stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: outDir}, analysisInputs(analysis)), emit)
	require.Equal(t, orchestrator.OutcomeSuccess, out.Status, "%v", out.Cause)

	res := out.Result.Output.(*SynthesisOutput)
	require.Len(t, res.Tests, 2)
	assert.Equal(t, GeneratedTest{
		Path:    "service_gen_test.go",
		Target:  "service.go",
		Units:   []string{"NewUserService", "UserService.GetUser", "UserService.CreateUser"},
		Tests:   3,
		Backend: "template",
	}, res.Tests[1])
	assert.Equal(t, []string{
		filepath.Join(outDir, "model_gen_test.go"),
		filepath.Join(outDir, "service_gen_test.go"),
	}, out.Result.Artifacts)

	data, err := os.ReadFile(filepath.Join(outDir, "model_gen_test.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "package project")
	assert.Contains(t, string(data), "func TestNewUser(t *testing.T)")

	assert.ElementsMatch(t, []string{"model_gen_test.go", "service_gen_test.go"}, emit.refs())
	for _, it := range emit.items {
		assert.Equal(t, orchestrator.ItemTestGenerated, it.Kind)
	}
	assert.Equal(t, 100.0, emit.lastProgress())
}

func TestSynthesis_FailingFileIsPartial(t *testing.T) {
	analysis := analyze(t, fixtureDir)
	ts := templateSynth(t)
	synth := synthFunc(func(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error) {
		if req.File.Path == "model.go" {
			return nil, errors.New("backend unavailable")
		}
		return ts.Synthesize(ctx, req)
	})

	emit := &recordingEmitter{}
	out := NewSynthesis(synth, 1).Run(context.Background(),
		stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: t.TempDir()}, analysisInputs(analysis)), emit)

	require.Equal(t, orchestrator.OutcomePartial, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0].Error(), "model.go: backend unavailable")
	assert.Len(t, out.Result.Output.(*SynthesisOutput).Tests, 1)
	assert.Len(t, emit.errs, 1)
	assert.Equal(t, []string{"service_gen_test.go"}, emit.refs())
}

func TestSynthesis_AllFailingIsFatal(t *testing.T) {
	analysis := analyze(t, fixtureDir)
	synth := synthFunc(func(context.Context, SynthesisRequest) (*SynthesizedTest, error) {
		return nil, errors.New("quota exceeded")
	})

	out := NewSynthesis(synth, 2).Run(context.Background(),
		stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: t.TempDir()}, analysisInputs(analysis)), &recordingEmitter{})
	require.Equal(t, orchestrator.OutcomeFatal, out.Status)
	assert.Contains(t, out.Cause.Error(), "quota exceeded")
}

func TestSynthesis_ForwardsUsage(t *testing.T) {
	analysis := analyze(t, fixtureDir)
	synth := synthFunc(func(_ context.Context, req SynthesisRequest) (*SynthesizedTest, error) {
		return &SynthesizedTest{
			Path:    TestPath(req.File.Language, req.File.Path),
			Content: []byte("package project\n"),
			Units:   []string{req.File.Testable()[0].QualifiedName()},
			Tests:   1,
			Usage:   &orchestrator.Usage{InputTokens: 10, OutputTokens: 5},
			Backend: "stub",
		}, nil
	})

	emit := &recordingEmitter{}
	out := NewSynthesis(synth, 2).Run(context.Background(),
		stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: t.TempDir()}, analysisInputs(analysis)), emit)
	require.Equal(t, orchestrator.OutcomeSuccess, out.Status)
	require.Len(t, emit.items, 2)
	for _, it := range emit.items {
		require.NotNil(t, it.Usage)
		assert.Equal(t, int64(10), it.Usage.InputTokens)
	}
}

func TestSynthesis_NoTestableUnits(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"types.go": "package x\n\ntype T struct{}\n"})
	analysis := analyze(t, dir)

	emit := &recordingEmitter{}
	out := NewSynthesis(templateSynth(t), 1).Run(context.Background(),
		stageContext(orchestrator.JobConfig{Source: dir, OutputDir: t.TempDir()}, analysisInputs(analysis)), emit)
	require.Equal(t, orchestrator.OutcomeSuccess, out.Status)
	assert.Empty(t, out.Result.Output.(*SynthesisOutput).Tests)
	assert.Empty(t, emit.items)
	assert.Equal(t, []float64{100}, emit.progress)
}

func TestSynthesis_MissingAnalysisIsFatal(t *testing.T) {
	out := NewSynthesis(templateSynth(t), 1).Run(context.Background(),
		stageContext(orchestrator.JobConfig{Source: fixtureDir}, nil), &recordingEmitter{})
	require.Equal(t, orchestrator.OutcomeFatal, out.Status)
	assert.Contains(t, out.Cause.Error(), "file-analysis output missing")
}

func TestSynthesisOutput_Covered(t *testing.T) {
	out := &SynthesisOutput{Tests: []GeneratedTest{
		{Target: "a.go", Units: []string{"A", "B"}},
		{Target: "a.go", Units: []string{"C"}},
		{Target: "b.go", Units: []string{"D"}},
	}}
	covered := out.Covered()
	assert.Len(t, covered["a.go"], 3)
	assert.True(t, covered["b.go"]["D"])
	assert.False(t, covered["b.go"]["A"])
}
