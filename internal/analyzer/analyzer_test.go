package analyzer

import (
	"strings"
	"testing"

	"github.com/querylens/querylens/internal/model"
)

func TestAnalyzeSeqScanWithFilter(t *testing.T) {
	plan := &model.PlanNode{
		NodeID:    "0",
		Operation: model.OpSeqScan,
		Relation:  "users",
		Filter:    "(created_at > '2024-01-01')",
	}
	recs := Analyze(plan)
	if len(recs) != 1 {
		t.Fatalf("recommendations = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Table != "users" || r.Type != "btree" {
		t.Errorf("rec = %+v", r)
	}
	if len(r.Columns) != 1 || r.Columns[0] != "created_at" {
		t.Errorf("columns = %v, want [created_at]", r.Columns)
	}
	if !strings.Contains(r.Reason, "sequential") {
		t.Errorf("reason should mention sequential scan: %q", r.Reason)
	}
}

func TestAnalyzeSeqScanWithoutFilter(t *testing.T) {
	plan := &model.PlanNode{NodeID: "0", Operation: model.OpSeqScan, Relation: "users"}
	if recs := Analyze(plan); len(recs) != 0 {
		t.Errorf("unfiltered scan should not produce recommendations, got %+v", recs)
	}
}

func TestAnalyzeOrderIsPreOrder(t *testing.T) {
	plan := &model.PlanNode{
		NodeID:    "0",
		Operation: model.OpHashJoin,
		Children: []*model.PlanNode{
			{NodeID: "0.0", Operation: model.OpSeqScan, Relation: "orders", Filter: "(total > 100)"},
			{NodeID: "0.1", Operation: model.OpSeqScan, Relation: "users", Filter: "(active = 1)"},
		},
	}
	recs := Analyze(plan)
	if len(recs) != 2 {
		t.Fatalf("recommendations = %d, want 2", len(recs))
	}
	if recs[0].Table != "orders" || recs[1].Table != "users" {
		t.Errorf("order = [%s %s], want [orders users]", recs[0].Table, recs[1].Table)
	}
}

func TestAnalyzeNestedLoop(t *testing.T) {
	plan := &model.PlanNode{
		NodeID:        "0",
		Operation:     model.OpNestedLoop,
		EstimatedRows: 50000,
		Children: []*model.PlanNode{
			{NodeID: "0.0", Operation: model.OpIndexScan, Relation: "users"},
			{NodeID: "0.1", Operation: model.OpSeqScan, Relation: "orders", Filter: "(user_id = users.id)"},
		},
	}
	recs := Analyze(plan)
	// The nested loop rule fires for the loop, and the seq scan rule fires
	// for the inner scan itself.
	if len(recs) != 2 {
		t.Fatalf("recommendations = %d, want 2: %+v", len(recs), recs)
	}
	if recs[0].Table != "orders" {
		t.Errorf("rec table = %s, want orders", recs[0].Table)
	}
}

func TestAnalyzeNilPlan(t *testing.T) {
	if recs := Analyze(nil); recs != nil {
		t.Errorf("nil plan should produce nil, got %+v", recs)
	}
}

func TestFilterColumns(t *testing.T) {
	cols := filterColumns("((o.total > 100) AND (o.status = 'open') AND (o.total < 900))")
	if len(cols) != 2 || cols[0] != "total" || cols[1] != "status" {
		t.Errorf("columns = %v, want [total status]", cols)
	}
}
