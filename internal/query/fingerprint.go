// Package query derives stable identities from SQL text and redacts
// literal values for privacy. Both operations must never fail: statements
// the SQL parser cannot handle fall back to a regex-based normalizer so a
// fingerprint is always produced.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/querylens/querylens/internal/model"
)

var (
	stringLiteral  = regexp.MustCompile(`'(?:[^']|'')*'`)
	numberLiteral  = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	tableRefRegex  = regexp.MustCompile(`(?i)\b(?:from|join|into|update)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	joinKeyword    = regexp.MustCompile(`(?i)\bjoin\b`)
	boolConnective = regexp.MustCompile(`(?i)\b(?:and|or)\b`)
	whereKeyword   = regexp.MustCompile(`(?i)\bwhere\b`)
)

// Fingerprint maps raw SQL text to its stable identity. Statements that
// differ only in literal values produce the same hash.
func Fingerprint(sql string) model.QueryFingerprint {
	pattern, tables, joins, whereComplexity := analyze(sql)
	sum := sha256.Sum256([]byte(pattern))
	return model.QueryFingerprint{
		Hash:            hex.EncodeToString(sum[:]),
		Pattern:         pattern,
		Tables:          tables,
		JoinCount:       joins,
		WhereComplexity: whereComplexity,
	}
}

func analyze(sql string) (pattern string, tables []string, joins, whereComplexity int) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return fallbackPattern(sql), fallbackTables(sql), fallbackJoins(sql), fallbackWhereComplexity(sql)
	}

	buf := sqlparser.NewTrackedBuffer(redactLiterals)
	buf.Myprintf("%v", stmt)
	pattern = buf.String()

	switch s := stmt.(type) {
	case *sqlparser.Select:
		tables, joins = tablesFromExprs(s.From)
		whereComplexity = whereConditions(s.Where)
	case *sqlparser.Update:
		tables, joins = tablesFromExprs(s.TableExprs)
		whereComplexity = whereConditions(s.Where)
	case *sqlparser.Delete:
		tables, joins = tablesFromExprs(s.TableExprs)
		whereComplexity = whereConditions(s.Where)
	case *sqlparser.Insert:
		tables = []string{s.Table.Name.String()}
	}
	return pattern, tables, joins, whereComplexity
}

// redactLiterals is a TrackedBuffer formatter that prints literal values
// as placeholders and everything else in the default form.
func redactLiterals(buf *sqlparser.TrackedBuffer, node sqlparser.SQLNode) {
	switch node.(type) {
	case *sqlparser.SQLVal, *sqlparser.NullVal:
		buf.WriteByte('?')
	default:
		node.Format(buf)
	}
}

func tablesFromExprs(exprs sqlparser.TableExprs) (tables []string, joins int) {
	seen := map[string]bool{}
	var visit func(expr sqlparser.TableExpr)
	visit = func(expr sqlparser.TableExpr) {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			if name, ok := t.Expr.(sqlparser.TableName); ok {
				s := name.Name.String()
				if s != "" && !seen[s] {
					seen[s] = true
					tables = append(tables, s)
				}
			}
		case *sqlparser.JoinTableExpr:
			joins++
			visit(t.LeftExpr)
			visit(t.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, e := range t.Exprs {
				visit(e)
			}
		}
	}
	for _, e := range exprs {
		visit(e)
	}
	return tables, joins
}

// whereConditions counts the boolean conditions in a WHERE clause as a
// rough complexity measure: one per comparison, range, IS, EXISTS, or LIKE
// style predicate.
func whereConditions(where *sqlparser.Where) int {
	if where == nil {
		return 0
	}
	count := 0
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.ComparisonExpr, *sqlparser.RangeCond, *sqlparser.IsExpr, *sqlparser.ExistsExpr:
			count++
		}
		return true, nil
	}, where.Expr)
	if count == 0 {
		count = 1
	}
	return count
}

// fallbackPattern normalizes statements the parser rejects: literals become
// placeholders and whitespace collapses, which keeps the fingerprint stable
// across literal-only changes even for unsupported syntax.
func fallbackPattern(sql string) string {
	s := stringLiteral.ReplaceAllString(sql, "?")
	s = numberLiteral.ReplaceAllString(s, "?")
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

func fallbackTables(sql string) []string {
	seen := map[string]bool{}
	var tables []string
	for _, m := range tableRefRegex.FindAllStringSubmatch(sql, -1) {
		name := m[1]
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if name != "" && !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}

func fallbackJoins(sql string) int {
	return len(joinKeyword.FindAllString(sql, -1))
}

func fallbackWhereComplexity(sql string) int {
	if !whereKeyword.MatchString(sql) {
		return 0
	}
	return len(boolConnective.FindAllString(sql, -1)) + 1
}
