package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/model"
)

// registerTools registers the explanation tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("querylens_explain",
			mcp.WithDescription(
				"Explain a SQL query in plain language. Returns a summary, a clause-by-clause "+
					"walkthrough, index suggestions, and detected antipatterns. When EXPLAIN "+
					"output is supplied, the plan is analyzed for sequential scans and missing "+
					"indexes. Results are cached by query structure, so repeated calls with "+
					"different literal values are cheap.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("The SQL statement to explain"),
			),
			mcp.WithString("dialect",
				mcp.Description("SQL dialect: postgres (default), mysql, or sqlite"),
			),
			mcp.WithString("schema",
				mcp.Description("Optional DDL or schema description for better explanations"),
			),
			mcp.WithString("explain_plan",
				mcp.Description("Optional raw EXPLAIN output for the statement"),
			),
		),
		s.handleExplain,
	)

	srv.AddTool(
		mcp.NewTool("querylens_fingerprint",
			mcp.WithDescription(
				"Compute the literal-independent fingerprint of a SQL statement: a stable "+
					"hash, the normalized pattern with literals replaced by placeholders, the "+
					"referenced tables, the join count, and the WHERE clause complexity. Two "+
					"statements differing only in literal values share a fingerprint.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("The SQL statement to fingerprint"),
			),
		),
		s.handleFingerprint,
	)
}

func (s *MCPServer) handleExplain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil {
		return toolError("missing required parameter %q", "sql")
	}

	req := model.ExplainRequest{
		SQL:         sql,
		Dialect:     model.Dialect(request.GetString("dialect", "")),
		Schema:      request.GetString("schema", ""),
		ExplainPlan: request.GetString("explain_plan", ""),
	}

	result, err := s.svc.Explain(ctx, req)
	if err != nil {
		var verr *explain.ValidationError
		if errors.As(err, &verr) {
			return toolError("invalid request: %v", verr)
		}
		if errors.Is(err, explain.ErrBudgetExceeded) {
			return toolError("daily token budget exceeded, try again tomorrow")
		}
		s.logger.Error("mcp explain failed", "error", err)
		return toolError("explanation failed: %v", err)
	}
	return successJSON(result)
}

func (s *MCPServer) handleFingerprint(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil {
		return toolError("missing required parameter %q", "sql")
	}

	fp, err := s.svc.Fingerprint(sql)
	if err != nil {
		return toolError("invalid request: %v", err)
	}
	return successJSON(fp)
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
