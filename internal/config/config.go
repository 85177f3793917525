package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/testgen/internal/orchestrator"
	"github.com/dusk-indust/testgen/internal/skilldata"
)

// FileNames are the project config files Load looks for, in order.
var FileNames = []string{"testgen.yml", "testgen.yaml"}

// Defaults for settings outside the coordinator.
const (
	DefaultAgentProbeTimeout = 500 * time.Millisecond
	DefaultServeAddr         = "127.0.0.1:8420"
	DefaultMetricsPath       = "/metrics"
)

// ProjectConfig holds project-level settings loaded from testgen.yml.
type ProjectConfig struct {
	Source         string   `yaml:"source,omitempty"`
	Stages         []string `yaml:"stages,omitempty"`
	CoverageTarget float64  `yaml:"coverage_target,omitempty"`
	OutputDir      string   `yaml:"output_dir,omitempty"`
	Outputs        []string `yaml:"outputs,omitempty"`
	Languages      []string `yaml:"languages,omitempty"`
	ExcludeDirs    []string `yaml:"exclude_dirs,omitempty"`

	Coordinator CoordinatorConfig `yaml:"coordinator,omitempty"`

	Agents               []string      `yaml:"agents,omitempty"`
	AgentProbeTimeout    time.Duration `yaml:"-"`
	AgentProbeTimeoutStr string        `yaml:"agent_probe_timeout,omitempty"`

	Serve     ServeConfig `yaml:"serve,omitempty"`
	RedisAddr string      `yaml:"redis_addr,omitempty"`
}

// CoordinatorConfig tunes the job coordinator. Zero values keep the
// coordinator defaults.
type CoordinatorConfig struct {
	MaxConcurrentStages int `yaml:"max_concurrent_stages,omitempty"`
	RetainFinished      int `yaml:"retain_finished,omitempty"`

	StallTimeout    time.Duration `yaml:"-"`
	StallTimeoutStr string        `yaml:"stall_timeout,omitempty"`
	CancelGrace     time.Duration `yaml:"-"`
	CancelGraceStr  string        `yaml:"cancel_grace,omitempty"`
}

// ServeConfig configures `testgen serve`.
type ServeConfig struct {
	Addr        string `yaml:"addr,omitempty"`
	MetricsPath string `yaml:"metrics_path,omitempty"`
}

// Load attempts to read testgen.yml or testgen.yaml from the given
// directory. Returns a zero-value config (not an error) if no config file
// exists. Durations that fail to parse fall back to their defaults with a
// logged warning.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return cfg, nil
	}
	return &ProjectConfig{}, nil
}

// Parse decodes a testgen.yml document.
func Parse(data []byte) (*ProjectConfig, error) {
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Coordinator.StallTimeout = parseDuration("coordinator.stall_timeout", cfg.Coordinator.StallTimeoutStr, orchestrator.DefaultStallTimeout)
	cfg.Coordinator.CancelGrace = parseDuration("coordinator.cancel_grace", cfg.Coordinator.CancelGraceStr, orchestrator.DefaultCancelGrace)
	cfg.AgentProbeTimeout = parseDuration("agent_probe_timeout", cfg.AgentProbeTimeoutStr, DefaultAgentProbeTimeout)
	return &cfg, nil
}

// Default returns the embedded default configuration written by
// `testgen init`.
func Default() (*ProjectConfig, error) {
	return Parse(skilldata.DefaultConfig)
}

func parseDuration(field, s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		log.Printf("config: invalid %s %q, using default %s", field, s, def)
		return def
	}
	return d
}

// JobConfig converts the project settings into a job request. A relative
// source is resolved against dir, the directory the config was loaded from.
func (c *ProjectConfig) JobConfig(dir string) orchestrator.JobConfig {
	src := c.Source
	if src == "" {
		src = "."
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}
	stages := make([]orchestrator.StageID, 0, len(c.Stages))
	for _, s := range c.Stages {
		stages = append(stages, orchestrator.StageID(s))
	}
	return orchestrator.JobConfig{
		Source:         src,
		Stages:         stages,
		CoverageTarget: c.CoverageTarget,
		OutputDir:      c.OutputDir,
		Outputs:        c.Outputs,
		Languages:      c.Languages,
		ExcludeDirs:    c.ExcludeDirs,
	}
}

// CoordinatorOptions returns the coordinator options this config sets.
func (c *ProjectConfig) CoordinatorOptions() []orchestrator.Option {
	var opts []orchestrator.Option
	cc := c.Coordinator
	if cc.MaxConcurrentStages > 0 {
		opts = append(opts, orchestrator.WithMaxConcurrentStages(cc.MaxConcurrentStages))
	}
	if cc.RetainFinished > 0 {
		opts = append(opts, orchestrator.WithRetainFinished(cc.RetainFinished))
	}
	if cc.StallTimeout > 0 {
		opts = append(opts, orchestrator.WithStallTimeout(cc.StallTimeout))
	}
	if cc.CancelGraceStr != "" {
		opts = append(opts, orchestrator.WithCancelGrace(cc.CancelGrace))
	}
	return opts
}

// ServeAddr returns the listen address for `testgen serve`.
func (c *ProjectConfig) ServeAddr() string {
	if c.Serve.Addr == "" {
		return DefaultServeAddr
	}
	return c.Serve.Addr
}

// MetricsPath returns the path the Prometheus handler is mounted on.
func (c *ProjectConfig) MetricsPath() string {
	if c.Serve.MetricsPath == "" {
		return DefaultMetricsPath
	}
	return c.Serve.MetricsPath
}

// ProbeTimeout returns the agent discovery timeout.
func (c *ProjectConfig) ProbeTimeout() time.Duration {
	if c.AgentProbeTimeout <= 0 {
		return DefaultAgentProbeTimeout
	}
	return c.AgentProbeTimeout
}
