// Package backend produces the generative half of an explanation. Two
// interchangeable implementations exist: Remote talks to an
// OpenAI-compatible completion endpoint, Static derives a fixed-shape
// answer from lexical inspection so the rest of the pipeline is fully
// testable without network access. The choice between them is made once
// at construction time, never per request.
package backend

import (
	"context"
	"errors"

	"github.com/querylens/querylens/internal/model"
)

// Request is the input contract for one explanation generation.
type Request struct {
	SQL          string
	SanitizedSQL string
	Dialect      model.Dialect
	Schema       string
	ExplainPlan  string
	PrivacyMode  bool
}

// PromptSQL returns the SQL that may leave the process: the sanitized form
// when privacy mode is on, the raw statement otherwise.
func (r Request) PromptSQL() string {
	if r.PrivacyMode {
		return r.SanitizedSQL
	}
	return r.SQL
}

// Usage reports the token spend of a generation. The static variant always
// reports zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// ErrInvalidResponse is returned when the remote backend replies with
// something that is not a valid ExplanationResult document. Partial replies
// are never accepted.
var ErrInvalidResponse = errors.New("backend returned an invalid response")

// Explainer is the capability the orchestrator depends on.
type Explainer interface {
	// Explain generates a structured explanation for req. A non-nil error
	// aborts the whole request; it is the only pipeline step with that
	// property.
	Explain(ctx context.Context, req Request) (*model.ExplanationResult, Usage, error)

	// Name identifies the variant for logs and readiness reporting.
	Name() string
}
