package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_MissingFileIsZeroConfig(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &ProjectConfig{}, cfg)
}

func TestLoad_PrefersYml(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "testgen.yml", "output_dir: from-yml\n")
	writeConfig(t, dir, "testgen.yaml", "output_dir: from-yaml\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-yml", cfg.OutputDir)
}

func TestLoad_YamlExtension(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "testgen.yaml", "languages: [go, python]\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python"}, cfg.Languages)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "testgen.yml", "stages: [file-analysis\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testgen.yml")
}

func TestLoad_FullDocument(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "testgen.yml", `
source: src
stages: [file-analysis, test-synthesis]
coverage_target: 75
output_dir: out
outputs: [report.json]
exclude_dirs: [vendor]
coordinator:
  max_concurrent_stages: 4
  stall_timeout: 30s
  cancel_grace: 1s
  retain_finished: 8
agents: [http://127.0.0.1:9100]
agent_probe_timeout: 2s
serve:
  addr: :9000
  metrics_path: /prom
redis_addr: localhost:6379
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Coordinator.StallTimeout)
	assert.Equal(t, time.Second, cfg.Coordinator.CancelGrace)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, ":9000", cfg.ServeAddr())
	assert.Equal(t, "/prom", cfg.MetricsPath())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Len(t, cfg.CoordinatorOptions(), 4)

	job := cfg.JobConfig(dir)
	assert.Equal(t, filepath.Join(dir, "src"), job.Source)
	assert.Equal(t, []orchestrator.StageID{orchestrator.StageFileAnalysis, orchestrator.StageTestSynthesis}, job.Stages)
	assert.Equal(t, 75.0, job.CoverageTarget)
	assert.Equal(t, "out", job.OutputDir)
	assert.Equal(t, []string{"report.json"}, job.Outputs)
	assert.Equal(t, []string{"vendor"}, job.ExcludeDirs)
}

func TestParse_InvalidDurationsFallBack(t *testing.T) {
	cfg, err := Parse([]byte(`
coordinator:
  stall_timeout: soon
  cancel_grace: -3s
agent_probe_timeout: 1 minute
`))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.DefaultStallTimeout, cfg.Coordinator.StallTimeout)
	assert.Equal(t, orchestrator.DefaultCancelGrace, cfg.Coordinator.CancelGrace)
	assert.Equal(t, DefaultAgentProbeTimeout, cfg.AgentProbeTimeout)
}

func TestDefault_MatchesEmbeddedFile(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".", cfg.Source)
	assert.Equal(t, []string{"file-analysis", "test-synthesis", "coverage-computation", "metrics-collection"}, cfg.Stages)
	assert.Equal(t, 80.0, cfg.CoverageTarget)
	assert.Equal(t, ".testgen", cfg.OutputDir)
	assert.Equal(t, 2, cfg.Coordinator.MaxConcurrentStages)
	assert.Equal(t, 2*time.Minute, cfg.Coordinator.StallTimeout)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.CancelGrace)
	assert.Equal(t, 500*time.Millisecond, cfg.ProbeTimeout())
	assert.Equal(t, "127.0.0.1:8420", cfg.ServeAddr())
	assert.Empty(t, cfg.Agents)
}

func TestJobConfig_Defaults(t *testing.T) {
	var cfg ProjectConfig
	job := cfg.JobConfig("/work")
	assert.Equal(t, "/work", job.Source)
	assert.Empty(t, job.Stages)

	cfg.Source = "/abs/src"
	assert.Equal(t, "/abs/src", cfg.JobConfig("/work").Source)
	assert.Empty(t, cfg.CoordinatorOptions())
	assert.Equal(t, DefaultServeAddr, cfg.ServeAddr())
	assert.Equal(t, DefaultMetricsPath, cfg.MetricsPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ProjectConfig
		fields []string
	}{
		{name: "zero config", cfg: ProjectConfig{}},
		{name: "target too high", cfg: ProjectConfig{CoverageTarget: 120}, fields: []string{"coverage_target"}},
		{name: "negative target", cfg: ProjectConfig{CoverageTarget: -1}, fields: []string{"coverage_target"}},
		{name: "target not a number", cfg: ProjectConfig{CoverageTarget: math.NaN()}, fields: []string{"coverage_target"}},
		{name: "blank stage", cfg: ProjectConfig{Stages: []string{"file-analysis", " "}}, fields: []string{"stages[1]"}},
		{
			name:   "negative coordinator settings",
			cfg:    ProjectConfig{Coordinator: CoordinatorConfig{MaxConcurrentStages: -1, RetainFinished: -2}},
			fields: []string{"coordinator.max_concurrent_stages", "coordinator.retain_finished"},
		},
		{name: "agent without scheme", cfg: ProjectConfig{Agents: []string{"localhost:9100"}}, fields: []string{"agents[0]"}},
		{name: "relative metrics path", cfg: ProjectConfig{Serve: ServeConfig{MetricsPath: "metrics"}}, fields: []string{"serve.metrics_path"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if len(tc.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			var got []string
			for _, e := range errs {
				got = append(got, e.Field)
			}
			assert.Equal(t, tc.fields, got)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	one := ValidationErrors{{Field: "a", Message: "bad"}}
	assert.Equal(t, "a: bad", one.Error())

	two := ValidationErrors{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}
	assert.Equal(t, "2 validation errors:\n  - a: bad\n  - b: worse", two.Error())
}
