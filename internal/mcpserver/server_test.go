package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/treesync/internal/runservice"
	"github.com/starford/treesync/internal/testutil"
)

// testServer returns a server over a database holding one finished run
// with id "run-1".
func testServer(t *testing.T) *Server {
	t.Helper()
	db := testutil.TestDB(t)
	_, out := testutil.TestOutput(t)

	src, dst := testutil.ThreeGenerations()
	dir := t.TempDir()
	svc := runservice.New(db, out, runservice.DefaultSettings(),
		runservice.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		runservice.WithIDGenerator(func() string { return "run-1" }))
	_, err := svc.Compare(context.Background(), runservice.CompareRequest{
		SourceFile:        testutil.WriteSnapshot(t, dir, "source.json", src),
		DestinationFile:   testutil.WriteSnapshot(t, dir, "destination.json", dst),
		SourceAnchor:      "@I1",
		DestinationAnchor: "@DI1",
	})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	return New(db)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" helper, so the handlers are called
	// directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	case "get_run":
		result, err = srv.getRun(ctx, req)
	case "find_mapping":
		result, err = srv.findMapping(ctx, req)
	case "get_report":
		result, err = srv.getReport(ctx, req)
	case "list_issues":
		result, err = srv.listIssues(ctx, req)
	case "get_report_format":
		result, err = srv.getReportFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListAndGetRun(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "list_runs", map[string]any{"limit": 5})
	var list struct {
		Runs []struct {
			ID string `json:"id"`
		} `json:"runs"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || list.Runs[0].ID != "run-1" {
		t.Errorf("list = %+v", list)
	}

	r = callTool(t, srv, "get_run", map[string]any{"run_id": "run-1"})
	if r.IsError || !strings.Contains(resultText(r), `"status": "completed"`) {
		t.Errorf("get_run = %s", resultText(r))
	}
}

func TestGetRunMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_run", map[string]any{"run_id": "nope"})
	if !r.IsError || resultText(r) != "not found: run nope" {
		t.Errorf("missing run = %q", resultText(r))
	}
	r = callTool(t, srv, "get_run", map[string]any{})
	if !r.IsError {
		t.Error("expected error without run_id")
	}
}

func TestFindMapping(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "find_mapping", map[string]any{"run_id": "run-1", "source_id": "@I5"})
	if r.IsError || !strings.Contains(resultText(r), `"destination_id": "@DI5"`) {
		t.Errorf("find_mapping = %s", resultText(r))
	}

	r = callTool(t, srv, "find_mapping", map[string]any{"run_id": "run-1", "source_id": "@I6"})
	if !r.IsError {
		t.Error("expected error for an unmapped person")
	}
}

func TestGetReport(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "get_report", map[string]any{"run_id": "run-1"})
	if r.IsError || !strings.Contains(resultText(r), `"nodes_to_add"`) {
		t.Errorf("get_report = %s", resultText(r))
	}
}

func TestListIssues(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "list_issues", map[string]any{"run_id": "run-1", "min_severity": "high"})
	if r.IsError {
		t.Errorf("list_issues = %s", resultText(r))
	}
	r = callTool(t, srv, "list_issues", map[string]any{"run_id": "run-1", "min_severity": "urgent"})
	if !r.IsError {
		t.Error("expected error for unknown severity")
	}
	r = callTool(t, srv, "list_issues", map[string]any{"run_id": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown run")
	}
}

func TestReportFormat(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_report_format", nil)
	if resultText(r) != ReportFormatContract {
		t.Error("report format tool does not return the contract")
	}
}
