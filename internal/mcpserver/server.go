// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes stored TreeSync runs for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/store"
)

const reportFormatURI = "treesync://report-format"

// Server wraps the MCP server with run inspection tools.
type Server struct {
	mcp *server.MCPServer
	db  store.RunStore
}

// New creates a new MCP server with all tools registered.
func New(db store.RunStore) *Server {
	s := &Server{db: db}

	s.mcp = server.NewMCPServer(
		"TreeSync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List comparison runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get one run: inputs, anchors, status, termination and statistics."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
	), s.getRun)

	s.mcp.AddTool(mcp.NewTool("find_mapping",
		mcp.WithDescription("Find the destination person a source person was matched to in a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("source_id", mcp.Required(), mcp.Description("Source person id, e.g. @I12@")),
	), s.findMapping)

	s.mcp.AddTool(mcp.NewTool("get_report",
		mcp.WithDescription("Get the high-confidence report of a run. "+
			"Read the treesync://report-format resource or the get_report_format tool first."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
	), s.getReport)

	s.mcp.AddTool(mcp.NewTool("list_issues",
		mcp.WithDescription("List validation issues of a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("min_severity", mcp.Description("Minimum severity: low, medium or high"),
			mcp.Enum(string(models.SeverityLow), string(models.SeverityMedium), string(models.SeverityHigh))),
	), s.listIssues)

	s.mcp.AddTool(mcp.NewTool("get_report_format",
		mcp.WithDescription("Returns the description of runs, mappings, reports and issues."),
	), s.getReportFormat)

	// Resource: report format.
	s.mcp.AddResource(
		mcp.NewResource(reportFormatURI, "Report Format",
			mcp.WithResourceDescription("Structure of runs, mappings, reports and validation issues."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readReportFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(what string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", what))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	runs, total, err := s.db.ListRuns(limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return jsonResult(map[string]any{"runs": runs, "total": total})
}

func (s *Server) getRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.db.GetRun(id)
	if err != nil {
		return errorResult("run "+id, err), nil
	}
	return jsonResult(run)
}

func (s *Server) findMapping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sourceID, err := req.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.db.LookupMapping(id, sourceID)
	if err != nil {
		return errorResult(fmt.Sprintf("mapping for %s in run %s", sourceID, id), err), nil
	}
	return jsonResult(m)
}

func (s *Server) getReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.db.Report(id)
	if err != nil {
		return errorResult("report of run "+id, err), nil
	}
	return jsonResult(rep)
}

func (s *Server) listIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sev := models.Severity(req.GetString("min_severity", ""))
	if sev != "" && sev.Rank() == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("unknown severity: %s", sev)), nil
	}
	if _, err := s.db.GetRun(id); err != nil {
		return errorResult("run "+id, err), nil
	}
	issues, err := s.db.Issues(id, sev)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(issues) == 0 {
		return mcp.NewToolResultText("no issues found"), nil
	}
	return jsonResult(issues)
}

func (s *Server) getReportFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ReportFormatContract), nil
}

func (s *Server) readReportFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      reportFormatURI,
			MIMEType: "text/markdown",
			Text:     ReportFormatContract,
		},
	}, nil
}
