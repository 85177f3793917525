package mcptools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// DefaultAwaitTimeout bounds await_job when the caller gives no timeout.
const DefaultAwaitTimeout = 60 * time.Second

// JobService handles MCP tool calls against a coordinator.
type JobService struct {
	coord    *orchestrator.Coordinator
	defaults orchestrator.JobConfig
}

// NewJobService creates a JobService. defaults fills fields a start_job
// call leaves empty.
func NewJobService(coord *orchestrator.Coordinator, defaults orchestrator.JobConfig) *JobService {
	return &JobService{coord: coord, defaults: defaults}
}

// StartJob creates a job and returns immediately.
func (s *JobService) StartJob(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StartJobInput,
) (*mcp.CallToolResult, JobSummary, error) {
	cfg := s.jobConfig(input)
	// The job outlives the tool call.
	h, err := s.coord.CreateJob(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return nil, JobSummary{}, fmt.Errorf("start job: %w", err)
	}
	return nil, summarize(h.Info()), nil
}

// GetJob reports a job's current state.
func (s *JobService) GetJob(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input JobIDInput,
) (*mcp.CallToolResult, JobSummary, error) {
	info, err := s.coord.Job(input.ID)
	if err != nil {
		return nil, JobSummary{}, err
	}
	return nil, summarize(info), nil
}

// AwaitJob waits for a job to finish or for the timeout, whichever comes
// first. A failed or cancelled job is a successful call; the summary
// carries the error.
func (s *JobService) AwaitJob(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AwaitJobInput,
) (*mcp.CallToolResult, JobSummary, error) {
	if input.TimeoutSeconds < 0 {
		return nil, JobSummary{}, fmt.Errorf("timeoutSeconds must not be negative, got %d", input.TimeoutSeconds)
	}
	h, err := s.coord.Attach(input.ID)
	if err != nil {
		return nil, JobSummary{}, err
	}
	defer h.Dispose()

	timeout := DefaultAwaitTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = h.AwaitCompletion(waitCtx)
	timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	if ctx.Err() != nil {
		return nil, JobSummary{}, ctx.Err()
	}

	sum := summarize(h.Info())
	sum.TimedOut = timedOut
	return nil, sum, nil
}

// CancelJob requests cancellation and returns the job's state at that
// moment; cancellation completes asynchronously.
func (s *JobService) CancelJob(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input JobIDInput,
) (*mcp.CallToolResult, JobSummary, error) {
	if err := s.coord.Cancel(input.ID); err != nil {
		return nil, JobSummary{}, err
	}
	info, err := s.coord.Job(input.ID)
	if err != nil {
		return nil, JobSummary{}, err
	}
	return nil, summarize(info), nil
}

// ListJobs lists live and retained jobs, oldest first.
func (s *JobService) ListJobs(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListJobsInput,
) (*mcp.CallToolResult, ListJobsOutput, error) {
	out := ListJobsOutput{Jobs: []JobSummary{}}
	for _, info := range s.coord.Jobs() {
		if input.State != "" && string(info.State) != input.State {
			continue
		}
		out.Jobs = append(out.Jobs, summarize(info))
	}
	return nil, out, nil
}

func (s *JobService) jobConfig(in StartJobInput) orchestrator.JobConfig {
	cfg := s.defaults
	cfg.Labels = map[string]string{"origin": "mcp"}
	if in.Source != "" {
		cfg.Source = in.Source
	}
	if len(in.Stages) > 0 {
		cfg.Stages = make([]orchestrator.StageID, len(in.Stages))
		for i, st := range in.Stages {
			cfg.Stages[i] = orchestrator.StageID(st)
		}
	}
	if in.CoverageTarget != 0 {
		cfg.CoverageTarget = in.CoverageTarget
	}
	if in.OutputDir != "" {
		cfg.OutputDir = in.OutputDir
	}
	if len(in.Languages) > 0 {
		cfg.Languages = in.Languages
	}
	if len(in.ExcludeDirs) > 0 {
		cfg.ExcludeDirs = in.ExcludeDirs
	}
	return cfg
}

func summarize(info orchestrator.JobInfo) JobSummary {
	sum := JobSummary{
		ID:        info.ID,
		State:     string(info.State),
		Source:    info.Config.Source,
		Stages:    make([]string, len(info.Stages)),
		Percent:   info.Percent,
		LastSeq:   info.LastSeq,
		CreatedAt: info.CreatedAt.Format(time.RFC3339),
		Error:     info.Error,
	}
	for i, st := range info.Stages {
		sum.Stages[i] = string(st)
	}
	if info.FinishedAt != nil {
		sum.FinishedAt = info.FinishedAt.Format(time.RFC3339)
	}
	if r := info.Result; r != nil {
		rs := &ResultSummary{
			FilesAnalyzed:  r.FilesAnalyzed,
			TestsGenerated: r.TestsGenerated,
			CoverageTarget: r.CoverageTarget,
			TargetMet:      r.TargetMet,
			ElapsedMS:      r.Elapsed.Milliseconds(),
			Artifacts:      r.Artifacts,
			Partial:        r.Partial,
		}
		if r.Coverage != nil {
			rs.CoveragePercent = r.Coverage.Percent
		}
		for _, e := range r.Errors {
			rs.Errors = append(rs.Errors, fmt.Sprintf("%s: %s", e.Stage, e.Message))
		}
		sum.Result = rs
	}
	return sum
}
