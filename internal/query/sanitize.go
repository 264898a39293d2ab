package query

import (
	"github.com/xwb1989/sqlparser"
)

// Sanitize redacts literal values from sql so it can be sent to an external
// generation backend without leaking data. When enabled is false the input
// is returned unchanged. Statements the parser rejects are redacted with
// the same regex normalizer the fingerprinter uses.
func Sanitize(sql string, enabled bool) string {
	if !enabled {
		return sql
	}
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return fallbackPattern(sql)
	}
	buf := sqlparser.NewTrackedBuffer(redactLiterals)
	buf.Myprintf("%v", stmt)
	return buf.String()
}
