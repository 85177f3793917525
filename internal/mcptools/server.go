package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMCPServer creates an MCP server with the job tools registered:
// start_job, get_job, await_job, cancel_job and list_jobs.
func NewMCPServer(svc *JobService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "testgen",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_job",
		Description: "Start a test-generation job for a source directory. Returns the job id immediately; the job runs in the background.",
	}, svc.StartJob)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_job",
		Description: "Get the state, progress and, once finished, the result of a job.",
	}, svc.GetJob)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "await_job",
		Description: "Wait until a job finishes or the timeout elapses, then return its state and result.",
	}, svc.AwaitJob)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Request cancellation of a running job. Cancelling a finished job has no effect.",
	}, svc.CancelJob)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_jobs",
		Description: "List running and recently finished jobs, oldest first, optionally filtered by state.",
	}, svc.ListJobs)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP tools over streamable HTTP until ctx is cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
