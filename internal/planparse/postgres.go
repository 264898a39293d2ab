package planparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/model"
)

// errNotJSON signals that the input is not JSON at all, so the text-format
// parser should be tried instead.
var errNotJSON = errors.New("not json")

// parsePostgresJSON handles EXPLAIN (FORMAT JSON) output: a one-element
// array wrapping an object with a "Plan" root.
func parsePostgresJSON(input string) (*model.PlanNode, error) {
	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, errNotJSON
	}

	var entry map[string]any
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, errors.New("postgres explain json: empty array")
		}
		obj, ok := v[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("postgres explain json: unexpected entry type %T", v[0])
		}
		entry = obj
	case map[string]any:
		entry = v
	default:
		return nil, fmt.Errorf("postgres explain json: unexpected top-level type %T", payload)
	}

	planVal, ok := entry["Plan"]
	if !ok {
		return nil, errors.New("postgres explain json: missing Plan root")
	}
	planMap, ok := planVal.(map[string]any)
	if !ok {
		return nil, errors.New("postgres explain json: Plan is not an object")
	}
	return convertPostgresNode(planMap, "0"), nil
}

func convertPostgresNode(data map[string]any, path string) *model.PlanNode {
	node := &model.PlanNode{
		NodeID:        path,
		Operation:     mapPostgresOp(jsonString(data["Node Type"])),
		Relation:      jsonString(data["Relation Name"]),
		IndexName:     jsonString(data["Index Name"]),
		Filter:        jsonString(data["Filter"]),
		EstimatedRows: jsonFloat(data["Plan Rows"]),
		ActualRows:    jsonFloat(data["Actual Rows"]),
	}
	if node.Filter == "" {
		node.Filter = jsonString(data["Index Cond"])
	}
	if _, ok := data["Total Cost"]; ok {
		node.Cost = &model.CostEstimate{
			Startup: jsonFloat(data["Startup Cost"]),
			Total:   jsonFloat(data["Total Cost"]),
		}
	}
	if children, ok := data["Plans"].([]any); ok {
		for i, c := range children {
			childMap, ok := c.(map[string]any)
			if !ok {
				continue
			}
			node.Children = append(node.Children, convertPostgresNode(childMap, fmt.Sprintf("%s.%d", path, i)))
		}
	}
	return node
}

func mapPostgresOp(nodeType string) model.PlanOperation {
	switch nodeType {
	case "Seq Scan":
		return model.OpSeqScan
	case "Index Scan":
		return model.OpIndexScan
	case "Index Only Scan":
		return model.OpIndexOnlyScan
	case "Bitmap Heap Scan":
		return model.OpBitmapHeapScan
	case "Hash Join":
		return model.OpHashJoin
	case "Nested Loop":
		return model.OpNestedLoop
	case "Sort", "Incremental Sort":
		return model.OpSort
	case "Aggregate", "HashAggregate", "GroupAggregate":
		return model.OpAggregate
	case "Limit":
		return model.OpLimit
	default:
		return model.OpOther
	}
}

var (
	pgCostRegex   = regexp.MustCompile(`cost=([\d.]+)\.\.([\d.]+) rows=(\d+)`)
	pgActualRegex = regexp.MustCompile(`actual time=[\d.]+\.\.[\d.]+ rows=(\d+)`)
)

// parsePostgresText handles the default text EXPLAIN format. Node lines
// carry a cost annotation; child nodes are introduced by "->" with six
// spaces of indentation per level. Detail lines (Filter:, Hash Cond:)
// annotate the most recent node.
func parsePostgresText(input string) (*model.PlanNode, error) {
	var (
		root    *model.PlanNode
		byDepth []*model.PlanNode
		counter = map[int]int{}
	)

	for _, line := range strings.Split(input, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		arrow := strings.Index(line, "->")
		body := strings.TrimSpace(line)
		depth := 0
		isNode := strings.Contains(line, "(cost=") || strings.Contains(line, "(actual time=")

		switch {
		case arrow >= 0:
			depth = arrow/6 + 1
			body = strings.TrimSpace(line[arrow+2:])
		case root == nil:
			// first node line
		case !isNode:
			// detail line for the previous node
			if len(byDepth) > 0 {
				last := byDepth[len(byDepth)-1]
				if rest, ok := strings.CutPrefix(body, "Filter: "); ok && last.Filter == "" {
					last.Filter = rest
				}
				if rest, ok := strings.CutPrefix(body, "Index Cond: "); ok && last.Filter == "" {
					last.Filter = rest
				}
			}
			continue
		}

		if !isNode {
			continue
		}

		node := parsePostgresTextNode(body)
		if root == nil {
			node.NodeID = "0"
			root = node
			byDepth = []*model.PlanNode{root}
			continue
		}
		if depth <= 0 || depth > len(byDepth) {
			return nil, fmt.Errorf("postgres explain text: unexpected indentation at %q", strings.TrimSpace(line))
		}
		parent := byDepth[depth-1]
		node.NodeID = fmt.Sprintf("%s.%d", parent.NodeID, counter[depth])
		counter[depth]++
		for d := range counter {
			if d > depth {
				delete(counter, d)
			}
		}
		parent.Children = append(parent.Children, node)
		byDepth = append(byDepth[:depth], node)
	}

	if root == nil {
		return nil, errors.New("postgres explain text: no plan nodes found")
	}
	return root, nil
}

func parsePostgresTextNode(body string) *model.PlanNode {
	head := body
	if i := strings.Index(body, "  ("); i >= 0 {
		head = body[:i]
	} else if i := strings.Index(body, " (cost="); i >= 0 {
		head = body[:i]
	}

	opName := head
	relation := ""
	if i := strings.Index(head, " on "); i >= 0 {
		opName = head[:i]
		relation = head[i+4:]
		if j := strings.IndexByte(relation, ' '); j >= 0 {
			relation = relation[:j] // drop alias
		}
	}
	opName = strings.TrimPrefix(opName, "Parallel ")

	node := &model.PlanNode{
		Operation: mapPostgresOp(opName),
		Relation:  relation,
	}
	if m := pgCostRegex.FindStringSubmatch(body); m != nil {
		startup, _ := strconv.ParseFloat(m[1], 64)
		total, _ := strconv.ParseFloat(m[2], 64)
		rows, _ := strconv.ParseFloat(m[3], 64)
		node.Cost = &model.CostEstimate{Startup: startup, Total: total}
		node.EstimatedRows = rows
	}
	if m := pgActualRegex.FindStringSubmatch(body); m != nil {
		node.ActualRows, _ = strconv.ParseFloat(m[1], 64)
	}
	return node
}

func jsonString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func jsonFloat(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
