// Package planparse converts dialect-specific EXPLAIN output into the
// normalized plan tree. Parsing is pure and side-effect free; callers
// treat any failure as "no plan available" rather than a fatal error.
package planparse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/model"
)

var (
	// ErrUnsupportedDialect is returned for dialect values outside the
	// supported set. It is never coerced into a guess.
	ErrUnsupportedDialect = errors.New("unsupported dialect")

	// ErrUnsupportedFormat is returned when a dialect has no parser for the
	// supplied format, e.g. MySQL tabular EXPLAIN output.
	ErrUnsupportedFormat = errors.New("unsupported explain format")
)

// Parse dispatches explainOutput to the dialect-appropriate parser:
//
//   - postgres: JSON (EXPLAIN FORMAT JSON) first, text format as fallback
//   - mysql: JSON only; tabular EXPLAIN output is rejected
//   - sqlite: EXPLAIN QUERY PLAN rows (no JSON variant exists)
func Parse(explainOutput string, dialect model.Dialect) (*model.PlanNode, error) {
	trimmed := strings.TrimSpace(explainOutput)
	if trimmed == "" {
		return nil, errors.New("empty explain output")
	}

	switch dialect {
	case model.DialectPostgres:
		node, err := parsePostgresJSON(trimmed)
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, errNotJSON) {
			return nil, err
		}
		return parsePostgresText(trimmed)
	case model.DialectMySQL:
		return parseMySQLJSON(trimmed)
	case model.DialectSQLite:
		return parseSQLiteText(trimmed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
}
