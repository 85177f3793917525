package stages

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

func newTestAnalysis() *Analysis {
	return NewAnalysis(graph.NewTreeSitterParser(), func() (graph.Store, error) { return graph.NewMemStore(), nil }, 2)
}

// analyze runs the analysis stage over dir and requires a usable outcome.
func analyze(t *testing.T, dir string) *AnalysisOutput {
	t.Helper()
	out := newTestAnalysis().Run(context.Background(), stageContext(orchestrator.JobConfig{Source: dir, OutputDir: t.TempDir()}, nil), &recordingEmitter{})
	require.True(t, out.Usable(), "analysis outcome: %v", out.Cause)
	return out.Result.Output.(*AnalysisOutput)
}

func TestAnalysis_GoFixture(t *testing.T) {
	emit := &recordingEmitter{}
	out := newTestAnalysis().Run(context.Background(), stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: t.TempDir()}, nil), emit)

	require.Equal(t, orchestrator.OutcomeSuccess, out.Status, "%v", out.Cause)
	assert.Equal(t, orchestrator.StageFileAnalysis, out.Result.Stage)

	res := out.Result.Output.(*AnalysisOutput)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "model.go", res.Files[0].Path)
	assert.Equal(t, "service.go", res.Files[1].Path)
	assert.Equal(t, 18, res.Files[0].LOC)
	assert.Equal(t, []string{"fmt"}, res.Files[1].Imports)
	assert.Equal(t, 4, res.TestableUnits())
	assert.Equal(t, 2, res.Stats.Files)
	assert.Equal(t, 4, res.Stats.TestableUnits)
	assert.Empty(t, res.Failed)

	assert.ElementsMatch(t, []string{"model.go", "service.go"}, emit.refs())
	for _, it := range emit.items {
		assert.Equal(t, orchestrator.ItemFileAnalyzed, it.Kind)
		assert.NotEmpty(t, it.Data)
	}
	assert.Equal(t, 100.0, emit.lastProgress())
	assert.Empty(t, emit.errs)
}

func TestAnalysis_SyntaxErrorIsPartial(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"good.go": "package x\n\nfunc Good() int { return 1 }\n",
		"bad.go":  "package x\n\nfunc Bad( {\n",
	})

	emit := &recordingEmitter{}
	out := newTestAnalysis().Run(context.Background(), stageContext(orchestrator.JobConfig{Source: dir}, nil), emit)

	require.Equal(t, orchestrator.OutcomePartial, out.Status)
	require.Len(t, out.Errors, 1)
	assert.True(t, errors.Is(out.Errors[0], graph.ErrSyntax))

	res := out.Result.Output.(*AnalysisOutput)
	assert.Equal(t, []string{"bad.go"}, res.Failed)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "good.go", res.Files[0].Path)

	require.Len(t, emit.errs, 1)
	assert.Equal(t, []string{"good.go"}, emit.refs())
}

func TestAnalysis_AllFilesBrokenIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"bad.go": "package x\nfunc (\n"})

	out := newTestAnalysis().Run(context.Background(), stageContext(orchestrator.JobConfig{Source: dir}, nil), &recordingEmitter{})
	require.Equal(t, orchestrator.OutcomeFatal, out.Status)
	assert.ErrorIs(t, out.Cause, graph.ErrSyntax)
}

func TestAnalysis_SkipsFilteredFiles(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.go":                "package a\n\nfunc A() {}\n",
		"a_test.go":           "package a\n\nfunc TestA() {}\n",
		"b.py":                "def b():\n    return 1\n",
		"vendor/v.go":         "package v\n",
		".hidden/h.go":        "package h\n",
		"skip/s.go":           "package s\n",
		"node_modules/n.ts":   "export function n() {}\n",
		"out/generated.go":    "package out\n",
		"pkg/nested/c.go":     "package nested\n\nfunc C() {}\n",
		"notes.txt":           "not source",
		"pkg/nested/types.rs": "pub fn r() {}\n",
	})

	cfg := orchestrator.JobConfig{
		Source:      dir,
		Languages:   []string{"go"},
		ExcludeDirs: []string{"skip"},
		OutputDir:   "out",
	}
	out := newTestAnalysis().Run(context.Background(), stageContext(cfg, nil), &recordingEmitter{})
	require.Equal(t, orchestrator.OutcomeSuccess, out.Status, "%v", out.Cause)

	var paths []string
	for _, f := range out.Result.Output.(*AnalysisOutput).Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"a.go", "pkg/nested/c.go"}, paths)
}

func TestAnalysis_ConfigErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name string
		cfg  orchestrator.JobConfig
		want string
	}{
		{"unknown language", orchestrator.JobConfig{Source: fixtureDir, Languages: []string{"cobol"}}, "unknown language"},
		{"missing source", orchestrator.JobConfig{Source: filepath.Join(t.TempDir(), "nope")}, "no such file"},
		{"empty tree", orchestrator.JobConfig{Source: t.TempDir()}, "no supported source files"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := newTestAnalysis().Run(context.Background(), stageContext(tc.cfg, nil), &recordingEmitter{})
			require.Equal(t, orchestrator.OutcomeFatal, out.Status)
			assert.Contains(t, out.Cause.Error(), tc.want)
		})
	}
}

func TestAnalysis_StopsAtCheckpoint(t *testing.T) {
	emit := &recordingEmitter{cause: orchestrator.ErrJobCancelled}
	out := newTestAnalysis().Run(context.Background(), stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: t.TempDir()}, nil), emit)

	require.Equal(t, orchestrator.OutcomeFatal, out.Status)
	assert.ErrorIs(t, out.Cause, orchestrator.ErrJobCancelled)
	assert.Empty(t, emit.items)
}

func TestAnalysis_StoreFailureIsFatal(t *testing.T) {
	a := NewAnalysis(graph.NewTreeSitterParser(), func() (graph.Store, error) { return nil, errors.New("disk full") }, 1)
	out := a.Run(context.Background(), stageContext(orchestrator.JobConfig{Source: fixtureDir, OutputDir: t.TempDir()}, nil), &recordingEmitter{})
	require.Equal(t, orchestrator.OutcomeFatal, out.Status)
	assert.Contains(t, out.Cause.Error(), "disk full")
}
