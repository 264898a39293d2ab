package model

// PlanOperation is the normalized operation kind of a plan node. Dialect
// specific operation names are mapped onto this enum by the plan parsers.
type PlanOperation string

const (
	OpSeqScan        PlanOperation = "SeqScan"
	OpIndexScan      PlanOperation = "IndexScan"
	OpIndexOnlyScan  PlanOperation = "IndexOnlyScan"
	OpBitmapHeapScan PlanOperation = "BitmapHeapScan"
	OpHashJoin       PlanOperation = "HashJoin"
	OpNestedLoop     PlanOperation = "NestedLoop"
	OpSort           PlanOperation = "Sort"
	OpAggregate      PlanOperation = "Aggregate"
	OpLimit          PlanOperation = "Limit"
	OpOther          PlanOperation = "Other"
)

// CostEstimate carries the planner's startup and total cost for a node.
type CostEstimate struct {
	Startup float64 `json:"startup"`
	Total   float64 `json:"total"`
}

// PlanNode is one node of a normalized EXPLAIN plan tree. Node IDs encode
// the position in the tree ("0", "0.1", "0.1.0", ...).
type PlanNode struct {
	NodeID        string        `json:"nodeId"`
	Operation     PlanOperation `json:"operation"`
	Relation      string        `json:"relation,omitempty"`
	IndexName     string        `json:"indexName,omitempty"`
	Filter        string        `json:"filter,omitempty"`
	EstimatedRows float64       `json:"estimatedRows,omitempty"`
	ActualRows    float64       `json:"actualRows,omitempty"`
	Cost          *CostEstimate `json:"cost,omitempty"`
	Children      []*PlanNode   `json:"children,omitempty"`
}

// Walk visits the tree pre-order, parents before children.
func (n *PlanNode) Walk(visit func(*PlanNode)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}
