package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// ReportFile is the default report name inside a job's output directory.
const ReportFile = "report.json"

// JobReport is the top-level JSON export of a finished job.
type JobReport struct {
	JobID      string                 `json:"jobId"`
	State      orchestrator.JobState  `json:"state"`
	ExportedAt string                 `json:"exportedAt"`
	Source     string                 `json:"source"`
	Stages     []orchestrator.StageID `json:"stages"`
	CreatedAt  string                 `json:"createdAt"`
	FinishedAt string                 `json:"finishedAt,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Result     *orchestrator.Result   `json:"result,omitempty"`
	Config     orchestrator.JobConfig `json:"config"`
}

// BuildReport converts a job description into its export form.
func BuildReport(info orchestrator.JobInfo, at time.Time) *JobReport {
	r := &JobReport{
		JobID:      info.ID,
		State:      info.State,
		ExportedAt: at.UTC().Format(time.RFC3339),
		Source:     info.Config.Source,
		Stages:     info.Stages,
		CreatedAt:  info.CreatedAt.UTC().Format(time.RFC3339),
		Error:      info.Error,
		Result:     info.Result,
		Config:     info.Config,
	}
	if info.FinishedAt != nil {
		r.FinishedAt = info.FinishedAt.UTC().Format(time.RFC3339)
	}
	return r
}

// WriteReport writes the report for info to path, creating parent
// directories as needed.
func WriteReport(path string, info orchestrator.JobInfo, at time.Time) error {
	if !info.State.Terminal() {
		return fmt.Errorf("export: job %s is %s, not finished", info.ID, info.State)
	}
	data, err := json.MarshalIndent(BuildReport(info, at), "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*JobReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	var r JobReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("export: parse %s: %w", path, err)
	}
	return &r, nil
}

// WriteOutputs writes every destination named in the job's Outputs into
// outDir. Names ending in .json receive the report, .mmd and .md the plan
// diagram. It returns the paths written.
func WriteOutputs(outDir string, info orchestrator.JobInfo, plan *orchestrator.Plan, at time.Time) ([]string, error) {
	var written []string
	for _, name := range info.Config.Outputs {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(outDir, name)
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json":
			if err := WriteReport(path, info, at); err != nil {
				return written, err
			}
		case ".mmd", ".md":
			if plan == nil {
				return written, fmt.Errorf("export: %s: no plan to draw", name)
			}
			diagram := GenerateMermaid(plan, info.Result)
			if strings.EqualFold(filepath.Ext(name), ".md") {
				diagram = "```mermaid\n" + diagram + "```\n"
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return written, fmt.Errorf("export: %w", err)
			}
			if err := os.WriteFile(path, []byte(diagram), 0o644); err != nil {
				return written, fmt.Errorf("export: write %s: %w", path, err)
			}
		default:
			return written, fmt.Errorf("export: %s: unsupported output format", name)
		}
		written = append(written, path)
	}
	return written, nil
}
