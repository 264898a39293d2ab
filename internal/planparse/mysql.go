package planparse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/model"
)

// parseMySQLJSON handles EXPLAIN FORMAT=JSON output. The tabular and
// traditional text formats are deliberately rejected: guessing at their
// column layout produces worse results than no plan at all.
func parseMySQLJSON(input string) (*model.PlanNode, error) {
	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: mysql plans must be EXPLAIN FORMAT=JSON output", ErrUnsupportedFormat)
	}

	block, ok := payload["query_block"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing query_block", ErrUnsupportedFormat)
	}

	root := convertMySQLBlock(block, "0")
	if root == nil {
		return nil, fmt.Errorf("%w: query_block carries no table access", ErrUnsupportedFormat)
	}
	return root, nil
}

// convertMySQLBlock walks a query_block (or nested operation object) and
// returns the plan subtree it describes. Ordering and grouping operations
// wrap their inputs; nested_loop arrays become a NestedLoop parent.
func convertMySQLBlock(block map[string]any, path string) *model.PlanNode {
	if ord, ok := block["ordering_operation"].(map[string]any); ok {
		node := &model.PlanNode{NodeID: path, Operation: model.OpSort}
		if child := convertMySQLBlock(ord, childPath(path, 0)); child != nil {
			node.Children = append(node.Children, child)
		}
		return node
	}
	if grp, ok := block["grouping_operation"].(map[string]any); ok {
		node := &model.PlanNode{NodeID: path, Operation: model.OpAggregate}
		if child := convertMySQLBlock(grp, childPath(path, 0)); child != nil {
			node.Children = append(node.Children, child)
		}
		return node
	}
	if loops, ok := block["nested_loop"].([]any); ok {
		node := &model.PlanNode{NodeID: path, Operation: model.OpNestedLoop}
		for i, l := range loops {
			entry, ok := l.(map[string]any)
			if !ok {
				continue
			}
			if child := convertMySQLBlock(entry, childPath(path, i)); child != nil {
				node.Children = append(node.Children, child)
			}
		}
		return node
	}
	if table, ok := block["table"].(map[string]any); ok {
		return convertMySQLTable(table, path)
	}
	return nil
}

func convertMySQLTable(table map[string]any, path string) *model.PlanNode {
	node := &model.PlanNode{
		NodeID:        path,
		Operation:     mapMySQLAccessType(jsonString(table["access_type"])),
		Relation:      jsonString(table["table_name"]),
		IndexName:     jsonString(table["key"]),
		Filter:        jsonString(table["attached_condition"]),
		EstimatedRows: jsonFloat(table["rows_examined_per_scan"]),
	}
	if ci, ok := table["cost_info"].(map[string]any); ok {
		node.Cost = &model.CostEstimate{Total: jsonFloat(ci["read_cost"]) + jsonFloat(ci["eval_cost"])}
	}
	return node
}

func mapMySQLAccessType(accessType string) model.PlanOperation {
	switch accessType {
	case "ALL":
		return model.OpSeqScan
	case "index":
		return model.OpIndexOnlyScan
	case "range", "ref", "eq_ref", "const", "fulltext", "ref_or_null",
		"unique_subquery", "index_subquery", "index_merge":
		return model.OpIndexScan
	default:
		return model.OpOther
	}
}

func childPath(parent string, i int) string {
	return fmt.Sprintf("%s.%d", parent, i)
}
