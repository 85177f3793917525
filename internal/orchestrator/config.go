package orchestrator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dusk-indust/testgen/internal/metrics"
)

// JobConfig describes one test-generation run.
type JobConfig struct {
	// Source is the root of the code under test.
	Source string `json:"source" yaml:"source"`

	// Stages lists the stages to run. Order does not matter; the coordinator
	// derives execution order from stage dependencies.
	Stages []StageID `json:"stages" yaml:"stages"`

	// CoverageTarget is the desired coverage percentage in [0, 100]. Zero
	// means no target.
	CoverageTarget float64 `json:"coverageTarget,omitempty" yaml:"coverage_target"`

	// OutputDir receives generated test files and reports.
	OutputDir string `json:"outputDir,omitempty" yaml:"output_dir"`

	// Outputs names additional report destinations, e.g. "report.json".
	Outputs []string `json:"outputs,omitempty" yaml:"outputs"`

	// Languages restricts analysis to the named languages. Empty means all
	// supported languages.
	Languages []string `json:"languages,omitempty" yaml:"languages"`

	// ExcludeDirs lists directory names skipped during analysis.
	ExcludeDirs []string `json:"excludeDirs,omitempty" yaml:"exclude_dirs"`

	// Labels are free-form key/values carried into JobInfo.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels"`
}

// Validate checks field-level constraints. Stage availability is checked
// against the registry when the job is created.
func (c JobConfig) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return &ConfigurationError{Field: "source", Reason: "must not be empty"}
	}
	if len(c.Stages) == 0 {
		return &ConfigurationError{Field: "stages", Reason: "at least one stage is required"}
	}
	if math.IsNaN(c.CoverageTarget) || c.CoverageTarget < 0 || c.CoverageTarget > 100 {
		return &ConfigurationError{
			Field:  "coverageTarget",
			Reason: fmt.Sprintf("%.2f is outside [0, 100]", c.CoverageTarget),
		}
	}
	return nil
}

// Defaults applied by NewCoordinator.
const (
	DefaultMaxConcurrentStages = 2
	DefaultStallTimeout        = 2 * time.Minute
	DefaultCancelGrace         = 5 * time.Second
	DefaultRetainFinished      = 64
)

type options struct {
	maxConcurrent  int
	stallTimeout   time.Duration
	cancelGrace    time.Duration
	retainFinished int
	sink           metrics.Sink
	clock          func() time.Time
	newID          func() string
}

// Option configures a Coordinator.
type Option func(*options)

// WithMaxConcurrentStages bounds how many independent stages of one job run
// at the same time.
func WithMaxConcurrentStages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithStallTimeout sets how long a stage may go without emitting before it
// is cancelled. Zero or negative disables the watchdog.
func WithStallTimeout(d time.Duration) Option {
	return func(o *options) { o.stallTimeout = d }
}

// WithCancelGrace sets how long cancelled stages get to return before their
// output is discarded.
func WithCancelGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.cancelGrace = d
		}
	}
}

// WithRetainFinished sets how many finished jobs stay queryable.
func WithRetainFinished(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retainFinished = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}
