package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/querylens/querylens/internal/model"
)

var fromTable = regexp.MustCompile(`(?i)\bfrom\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// Static is the deterministic stand-in backend. It is selected when no
// remote credential is configured and in test contexts, and derives a
// plausible fixed-shape result from lexical inspection of the SQL text.
// Confidence is always low.
type Static struct{}

// NewStatic creates the stand-in backend.
func NewStatic() *Static { return &Static{} }

// Name implements Explainer.
func (s *Static) Name() string { return "static" }

// Explain implements Explainer. It never fails and reports zero token use.
func (s *Static) Explain(_ context.Context, req Request) (*model.ExplanationResult, Usage, error) {
	upper := strings.ToUpper(req.SQL)
	hasSelect := strings.Contains(upper, "SELECT")
	hasJoin := strings.Contains(upper, "JOIN")
	hasWhere := strings.Contains(upper, "WHERE")

	table := "the table"
	if m := fromTable.FindStringSubmatch(req.SQL); m != nil {
		table = m[1]
	}

	result := &model.ExplanationResult{
		Confidence:   model.ConfidenceLow,
		Walkthrough:  []string{},
		PlanAnalysis: []model.PlanAnalysisNode{},
		Antipatterns: []model.Antipattern{},
	}

	switch {
	case hasSelect && hasJoin:
		result.Summary = fmt.Sprintf("Reads rows from %s, combines them with rows from the joined tables, and returns the selected columns.", table)
	case hasSelect:
		result.Summary = fmt.Sprintf("Reads rows from %s and returns the selected columns.", table)
	default:
		result.Summary = "Executes the given statement against the database."
	}

	if hasSelect {
		result.Walkthrough = append(result.Walkthrough, fmt.Sprintf("Scan %s for candidate rows.", table))
		result.PlanAnalysis = append(result.PlanAnalysis, model.PlanAnalysisNode{
			Operation: string(model.OpSeqScan),
			Detail:    fmt.Sprintf("Without index statistics available, assume a sequential scan over %s.", table),
			Concern:   "May read the whole table if no suitable index exists.",
		})
	}
	if hasJoin {
		result.Walkthrough = append(result.Walkthrough, "Match rows against the joined tables using the join conditions.")
	}
	if hasWhere {
		result.Walkthrough = append(result.Walkthrough, "Filter rows with the WHERE predicate before producing output.")
		result.Optimizations = append(result.Optimizations, model.OptimizationSuggestion{
			Title:           "Add index on filtered column",
			Severity:        model.SeverityMedium,
			Reason:          "The WHERE clause filters rows; an index on the filtered column lets the engine skip non-matching rows.",
			Change:          fmt.Sprintf("Create an index on the column(s) referenced in the WHERE clause of %s.", table),
			EstimatedImpact: "Reduces rows read on selective predicates.",
		})
	}
	if hasSelect {
		result.Walkthrough = append(result.Walkthrough, "Return the selected columns to the client.")
	}

	if strings.Contains(upper, "SELECT *") {
		result.Antipatterns = append(result.Antipatterns, model.Antipattern{
			Name:        "select-star",
			Description: "SELECT * fetches every column, which widens rows on the wire and defeats covering indexes.",
			Fix:         "List only the columns the caller needs.",
		})
	}

	return result, Usage{}, nil
}
