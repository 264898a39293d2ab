package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/querylens/querylens/internal/backend"
	"github.com/querylens/querylens/internal/cache"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/model"
)

func newTestMCP(t *testing.T) *MCPServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := explain.New(explain.Config{
		Backend: backend.NewStatic(),
		Cache:   cache.NewMemory(),
		Logger:  logger,
	})
	return NewMCPServer(svc, logger)
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestHandleExplain(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.handleExplain(context.Background(), callRequest(map[string]interface{}{
		"sql": "SELECT * FROM users WHERE id = 1",
	}))
	if err != nil {
		t.Fatalf("handleExplain: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var result model.ExplanationResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Summary == "" {
		t.Error("expected non-empty summary")
	}
	if result.Fingerprint == nil {
		t.Error("expected fingerprint in result")
	}
}

func TestHandleExplainMissingSQL(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.handleExplain(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handleExplain: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool-level error for missing sql")
	}
}

func TestHandleExplainInvalidDialect(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.handleExplain(context.Background(), callRequest(map[string]interface{}{
		"sql":     "SELECT 1",
		"dialect": "oracle",
	}))
	if err != nil {
		t.Fatalf("handleExplain: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool-level error for bad dialect")
	}
	if !strings.Contains(resultText(t, res), "dialect") {
		t.Errorf("error should mention dialect: %s", resultText(t, res))
	}
}

func TestHandleFingerprint(t *testing.T) {
	s := newTestMCP(t)

	res, err := s.handleFingerprint(context.Background(), callRequest(map[string]interface{}{
		"sql": "SELECT * FROM orders WHERE total > 100",
	}))
	if err != nil {
		t.Fatalf("handleFingerprint: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var fp model.QueryFingerprint
	if err := json.Unmarshal([]byte(resultText(t, res)), &fp); err != nil {
		t.Fatalf("decode fingerprint: %v", err)
	}
	if fp.Hash == "" || len(fp.Tables) != 1 || fp.Tables[0] != "orders" {
		t.Errorf("unexpected fingerprint: %+v", fp)
	}
}

func TestBoolPtr(t *testing.T) {
	truePtr := boolPtr(true)
	if truePtr == nil || *truePtr != true {
		t.Error("boolPtr(true) should point at true")
	}

	ann := readOnlyAnnotation()
	if ann.ReadOnlyHint == nil || !*ann.ReadOnlyHint {
		t.Error("readOnlyAnnotation should set ReadOnlyHint true")
	}
}
