package backend

import (
	"fmt"
	"strings"
)

// systemPrompt pins the reply format. The endpoint is asked for a JSON
// object; anything that does not unmarshal into the result shape is
// rejected wholesale by the caller.
const systemPrompt = `You are a senior database engineer. Explain SQL queries for developers.

Respond with a single JSON object, no prose around it, with these fields:
  "summary": one-paragraph plain-language description of what the query does
  "walkthrough": array of strings, one per logical step in execution order
  "planAnalysis": array of {"operation", "detail", "concern"} objects describing how the engine will run it
  "optimizations": array of {"title", "severity", "reason", "change", "estimatedImpact"} objects; severity is "low", "medium" or "high"
  "antipatterns": array of {"name", "description", "fix"} objects for recognizable SQL antipatterns, empty if none
  "rewrittenSQL": improved statement if a rewrite helps, otherwise omit
  "confidence": "low", "medium" or "high" for how certain the analysis is`

// buildUserPrompt assembles the user message. Schema and explain-plan text
// are appended verbatim when present.
func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dialect: %s\n\nQuery:\n%s\n", req.Dialect, req.PromptSQL())
	if req.Schema != "" {
		fmt.Fprintf(&b, "\nSchema:\n%s\n", req.Schema)
	}
	if req.ExplainPlan != "" {
		fmt.Fprintf(&b, "\nEXPLAIN output:\n%s\n", req.ExplainPlan)
	}
	return b.String()
}
