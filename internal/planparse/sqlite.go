package planparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/model"
)

// parseSQLiteText handles EXPLAIN QUERY PLAN output, either the tree
// rendering the sqlite3 shell produces ("|--SCAN users") or raw
// pipe-separated rows ("3|0|0|SCAN users").
func parseSQLiteText(input string) (*model.PlanNode, error) {
	type row struct {
		depth  int
		detail string
	}
	var rows []row

	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "QUERY PLAN" {
			continue
		}

		if marker := strings.Index(line, "--"); marker >= 0 &&
			(strings.Contains(line[:marker], "|") || strings.Contains(line[:marker], "`") || marker == 0) {
			rows = append(rows, row{depth: marker/3 + 1, detail: strings.TrimSpace(line[marker+2:])})
			continue
		}

		// Raw row format: id|parent|notused|detail
		if parts := strings.SplitN(trimmed, "|", 4); len(parts) == 4 {
			if _, err := strconv.Atoi(parts[0]); err == nil {
				rows = append(rows, row{depth: 1, detail: strings.TrimSpace(parts[3])})
				continue
			}
		}

		rows = append(rows, row{depth: 1, detail: trimmed})
	}

	if len(rows) == 0 {
		return nil, errors.New("sqlite explain: no plan rows found")
	}
	for _, r := range rows {
		if !sqliteDetailRecognized(r.detail) {
			return nil, fmt.Errorf("sqlite explain: unrecognized plan row %q", r.detail)
		}
	}

	root := &model.PlanNode{NodeID: "0", Operation: model.OpOther}
	byDepth := []*model.PlanNode{root}
	counter := map[string]int{}
	for _, r := range rows {
		depth := r.depth
		if depth > len(byDepth) {
			depth = len(byDepth)
		}
		parent := byDepth[depth-1]
		node := sqliteDetailNode(r.detail)
		node.NodeID = fmt.Sprintf("%s.%d", parent.NodeID, counter[parent.NodeID])
		counter[parent.NodeID]++
		parent.Children = append(parent.Children, node)
		byDepth = append(byDepth[:depth], node)
	}

	// Single top-level step: no wrapper needed.
	if len(root.Children) == 1 {
		only := root.Children[0]
		only.NodeID = "0"
		renumber(only)
		return only, nil
	}
	return root, nil
}

func sqliteDetailRecognized(detail string) bool {
	upper := strings.ToUpper(detail)
	for _, prefix := range []string{
		"SCAN", "SEARCH", "USE TEMP B-TREE", "USING", "COMPOUND", "MERGE",
		"UNION", "EXCEPT", "INTERSECT", "SCALAR SUBQUERY", "LIST SUBQUERY",
		"CORRELATED", "CO-ROUTINE", "MATERIALIZE", "MULTI-INDEX",
	} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

func sqliteDetailNode(detail string) *model.PlanNode {
	upper := strings.ToUpper(detail)
	node := &model.PlanNode{Operation: model.OpOther}

	switch {
	case strings.HasPrefix(upper, "SCAN"):
		node.Operation = model.OpSeqScan
		node.Relation = sqliteRelation(detail)
	case strings.HasPrefix(upper, "SEARCH"):
		if strings.Contains(upper, "COVERING INDEX") {
			node.Operation = model.OpIndexOnlyScan
		} else {
			node.Operation = model.OpIndexScan
		}
		node.Relation = sqliteRelation(detail)
		if i := strings.Index(upper, "INDEX "); i >= 0 {
			name := detail[i+len("INDEX "):]
			if j := strings.IndexByte(name, ' '); j >= 0 {
				name = name[:j]
			}
			node.IndexName = name
		}
		if i := strings.IndexByte(detail, '('); i >= 0 {
			node.Filter = strings.TrimSuffix(detail[i+1:], ")")
		}
	case strings.HasPrefix(upper, "USE TEMP B-TREE FOR GROUP BY"):
		node.Operation = model.OpAggregate
	case strings.HasPrefix(upper, "USE TEMP B-TREE"):
		node.Operation = model.OpSort
	}
	return node
}

// sqliteRelation extracts the table name from a SCAN/SEARCH row, skipping
// the legacy "TABLE" keyword and the optional "USING ..." suffix.
func sqliteRelation(detail string) string {
	fields := strings.Fields(detail)
	if len(fields) < 2 {
		return ""
	}
	name := fields[1]
	if strings.EqualFold(name, "TABLE") && len(fields) > 2 {
		name = fields[2]
	}
	return name
}

func renumber(node *model.PlanNode) {
	for i, c := range node.Children {
		c.NodeID = fmt.Sprintf("%s.%d", node.NodeID, i)
		renumber(c)
	}
}
