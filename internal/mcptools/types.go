package mcptools

// --- MCP tool types for `testgen mcp` ---
// These tools let an MCP client start test-generation jobs and follow them
// without speaking the HTTP event stream.

// StartJobInput is the input for the start_job MCP tool. Empty fields fall
// back to the server's project configuration.
type StartJobInput struct {
	Source         string   `json:"source" jsonschema:"directory of source code to generate tests for"`
	Stages         []string `json:"stages,omitempty" jsonschema:"stages to run: file-analysis, test-synthesis, coverage-computation, metrics-collection"`
	CoverageTarget float64  `json:"coverageTarget,omitempty" jsonschema:"desired coverage percentage in [0, 100]"`
	OutputDir      string   `json:"outputDir,omitempty" jsonschema:"where generated tests and reports are written (default: .testgen under source)"`
	Languages      []string `json:"languages,omitempty" jsonschema:"languages to analyze (default: all). Values: go, typescript, python, rust"`
	ExcludeDirs    []string `json:"excludeDirs,omitempty" jsonschema:"directory names to skip (e.g. vendor, node_modules)"`
}

// JobIDInput names a job.
type JobIDInput struct {
	ID string `json:"id" jsonschema:"job id returned by start_job"`
}

// AwaitJobInput is the input for the await_job MCP tool.
type AwaitJobInput struct {
	ID             string `json:"id" jsonschema:"job id returned by start_job"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" jsonschema:"how long to wait before returning the current state (default: 60)"`
}

// ListJobsInput is the input for the list_jobs MCP tool.
type ListJobsInput struct {
	State string `json:"state,omitempty" jsonschema:"only jobs in this state: created, running, completed, failed, cancelled"`
}

// ListJobsOutput is the result of the list_jobs MCP tool.
type ListJobsOutput struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobSummary is a flattened view of a job for tool results.
type JobSummary struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Source     string         `json:"source"`
	Stages     []string       `json:"stages"`
	Percent    float64        `json:"percent"`
	LastSeq    uint64         `json:"lastSeq"`
	CreatedAt  string         `json:"createdAt"`
	FinishedAt string         `json:"finishedAt,omitempty"`
	Error      string         `json:"error,omitempty"`
	TimedOut   bool           `json:"timedOut,omitempty"` // await_job only
	Result     *ResultSummary `json:"result,omitempty"`
}

// ResultSummary is a flattened job result.
type ResultSummary struct {
	FilesAnalyzed   int      `json:"filesAnalyzed"`
	TestsGenerated  int      `json:"testsGenerated"`
	CoveragePercent float64  `json:"coveragePercent"`
	CoverageTarget  float64  `json:"coverageTarget,omitempty"`
	TargetMet       bool     `json:"targetMet"`
	ElapsedMS       int64    `json:"elapsedMs"`
	Artifacts       []string `json:"artifacts"`
	Errors          []string `json:"errors,omitempty"`
	Partial         bool     `json:"partial,omitempty"`
}
