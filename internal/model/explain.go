// Package model defines the request, result, and plan types shared across
// the QueryLens explanation pipeline.
package model

// Dialect identifies the SQL dialect of an inbound statement.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		return true
	}
	return false
}

// ExplainRequest is the transport-independent input contract for an
// explanation run. PrivacyMode and Cache default to true when omitted,
// Dialect defaults to postgres.
type ExplainRequest struct {
	SQL         string  `json:"sql"`
	Dialect     Dialect `json:"dialect,omitempty"`
	Schema      string  `json:"schema,omitempty"`
	ExplainPlan string  `json:"explainPlan,omitempty"`
	PrivacyMode *bool   `json:"privacyMode,omitempty"`
	Cache       *bool   `json:"cache,omitempty"`

	// Target optionally names a configured database target. When set and no
	// ExplainPlan is supplied, the server collects a live plan from it.
	Target string `json:"target,omitempty"`
}

// Normalize applies the documented defaults in place.
func (r *ExplainRequest) Normalize() {
	if r.Dialect == "" {
		r.Dialect = DialectPostgres
	}
}

// PrivacyEnabled returns the privacy-mode flag with its default applied.
func (r *ExplainRequest) PrivacyEnabled() bool {
	return r.PrivacyMode == nil || *r.PrivacyMode
}

// CacheEnabled returns the cache flag with its default applied.
func (r *ExplainRequest) CacheEnabled() bool {
	return r.Cache == nil || *r.Cache
}

// QueryFingerprint is the stable, literal-independent identity of a SQL
// statement. Identical statements differing only in literal values share
// the same Hash.
type QueryFingerprint struct {
	Hash            string   `json:"hash"`
	Pattern         string   `json:"pattern"`
	Tables          []string `json:"tables"`
	JoinCount       int      `json:"joinCount"`
	WhereComplexity int      `json:"whereClauseComplexity"`
}

// Severity grades an optimization suggestion.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Confidence grades how much trust to place in a generated explanation.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Recommendation is an index suggestion emitted by the heuristic analyzer.
type Recommendation struct {
	Type    string   `json:"type"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Reason  string   `json:"reason"`
}

// OptimizationSuggestion is a single actionable improvement. Suggestions
// come from two provenances: the generative backend and the heuristic
// analyzer (see Recommendation).
type OptimizationSuggestion struct {
	Title           string   `json:"title"`
	Severity        Severity `json:"severity"`
	Reason          string   `json:"reason"`
	Change          string   `json:"change"`
	EstimatedImpact string   `json:"estimatedImpact"`
}

// PlanAnalysisNode is one human-readable observation about a plan step.
type PlanAnalysisNode struct {
	Operation string `json:"operation"`
	Detail    string `json:"detail"`
	Concern   string `json:"concern,omitempty"`
}

// Antipattern flags a recognizable SQL antipattern in the statement.
type Antipattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Fix         string `json:"fix,omitempty"`
}

// ExplanationResult is the outbound contract of an explanation run. It is
// cached verbatim; only the Cached flag differs between a computed result
// and a cache hit.
type ExplanationResult struct {
	Summary         string                   `json:"summary"`
	Walkthrough     []string                 `json:"walkthrough"`
	PlanAnalysis    []PlanAnalysisNode       `json:"planAnalysis"`
	Optimizations   []OptimizationSuggestion `json:"optimizations"`
	Antipatterns    []Antipattern            `json:"antipatterns"`
	RewrittenSQL    string                   `json:"rewrittenSQL,omitempty"`
	Confidence      Confidence               `json:"confidence"`
	Fingerprint     *QueryFingerprint        `json:"fingerprint,omitempty"`
	ExecutionTimeMs int64                    `json:"executionTimeMs"`
	Cached          bool                     `json:"cached"`
}
