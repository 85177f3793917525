package mcptools

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupServerClient wires an MCP server and client together using in-memory
// transports.
func setupServerClient(t *testing.T, svc *JobService) *mcp.ClientSession {
	t.Helper()

	server := NewMCPServer(svc)
	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		session.Close()
	})
	return session
}

// callTool invokes a tool and decodes its structured output into out.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args, out any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "%s should not return an error", name)
	require.NotNil(t, result.StructuredContent, "expected structured content from %s", name)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t, testService(t, analyzeStage()))

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"await_job", "cancel_job", "get_job", "list_jobs", "start_job"}, names)
}

func TestMCPStartAndAwait(t *testing.T) {
	session := setupServerClient(t, testService(t, analyzeStage("main.go")))

	var started JobSummary
	callTool(t, session, "start_job", StartJobInput{Source: t.TempDir()}, &started)
	require.NotEmpty(t, started.ID)

	var done JobSummary
	callTool(t, session, "await_job", AwaitJobInput{ID: started.ID, TimeoutSeconds: 5}, &done)
	assert.Equal(t, "completed", done.State)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.FilesAnalyzed)

	var got JobSummary
	callTool(t, session, "get_job", JobIDInput{ID: started.ID}, &got)
	assert.Equal(t, done.ID, got.ID)
	assert.Equal(t, done.LastSeq, got.LastSeq)

	var list ListJobsOutput
	callTool(t, session, "list_jobs", ListJobsInput{}, &list)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, started.ID, list.Jobs[0].ID)
}

func TestMCPCancel(t *testing.T) {
	session := setupServerClient(t, testService(t, blockingStage()))

	var started JobSummary
	callTool(t, session, "start_job", StartJobInput{Source: t.TempDir()}, &started)

	var cancelled JobSummary
	callTool(t, session, "cancel_job", JobIDInput{ID: started.ID}, &cancelled)
	assert.Equal(t, started.ID, cancelled.ID)

	var done JobSummary
	callTool(t, session, "await_job", AwaitJobInput{ID: started.ID, TimeoutSeconds: 5}, &done)
	assert.Equal(t, "cancelled", done.State)
}

// Handler errors surface as tool errors; the SDK may also report them at the
// protocol level.
func TestMCPToolErrors(t *testing.T) {
	session := setupServerClient(t, testService(t, analyzeStage()))
	ctx := context.Background()

	for _, tc := range []struct {
		tool string
		args any
	}{
		{"get_job", JobIDInput{ID: "missing"}},
		{"start_job", StartJobInput{Source: ""}},
		{"nonexistent_tool", map[string]any{}},
	} {
		t.Run(tc.tool, func(t *testing.T) {
			result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tc.tool, Arguments: tc.args})
			if err != nil {
				return
			}
			assert.True(t, result.IsError)
		})
	}
}
