// Package analyzer is a deterministic rule engine over normalized plan
// trees. It proposes index improvements; it never consults the generative
// backend, so its output is stable for a given plan.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querylens/querylens/internal/model"
)

// largeLoopRows is the estimated row count above which a nested loop is
// worth flagging for a join index.
const largeLoopRows = 1000

var columnRef = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)\s*(?:=|>|<|>=|<=|<>|!=|~~|LIKE|IN)`)

// Analyze walks the plan pre-order and emits one recommendation per rule
// hit, in visit order. The order is part of the contract: callers append
// the derived suggestions to backend output without re-sorting.
func Analyze(plan *model.PlanNode) []model.Recommendation {
	if plan == nil {
		return nil
	}
	var recs []model.Recommendation
	plan.Walk(func(n *model.PlanNode) {
		switch n.Operation {
		case model.OpSeqScan:
			if n.Relation == "" || n.Filter == "" {
				return
			}
			cols := filterColumns(n.Filter)
			if len(cols) == 0 {
				return
			}
			recs = append(recs, model.Recommendation{
				Type:    "btree",
				Table:   n.Relation,
				Columns: cols,
				Reason: fmt.Sprintf("sequential scan on %s evaluates %q for every row; a missing index forces a full table read",
					n.Relation, n.Filter),
			})
		case model.OpNestedLoop:
			inner := innerScan(n)
			if inner == nil || n.EstimatedRows < largeLoopRows {
				return
			}
			cols := filterColumns(inner.Filter)
			if len(cols) == 0 {
				cols = []string{"id"}
			}
			recs = append(recs, model.Recommendation{
				Type:    "btree",
				Table:   inner.Relation,
				Columns: cols,
				Reason: fmt.Sprintf("nested loop probes %s repeatedly without an index on the join key (~%.0f rows per probe)",
					inner.Relation, n.EstimatedRows),
			})
		case model.OpSort:
			scan := childScanWithoutIndex(n)
			if scan == nil {
				return
			}
			cols := filterColumns(scan.Filter)
			if len(cols) == 0 {
				return
			}
			recs = append(recs, model.Recommendation{
				Type:    "covering",
				Table:   scan.Relation,
				Columns: cols,
				Reason: fmt.Sprintf("sort over %s reads and orders rows separately; a covering index would return them pre-sorted",
					scan.Relation),
			})
		case model.OpBitmapHeapScan:
			if n.Relation == "" || n.Filter == "" {
				return
			}
			cols := filterColumns(n.Filter)
			if len(cols) == 0 {
				return
			}
			recs = append(recs, model.Recommendation{
				Type:    "partial",
				Table:   n.Relation,
				Columns: cols,
				Reason: fmt.Sprintf("bitmap heap scan on %s rechecks %q; a partial index matching the predicate avoids the recheck",
					n.Relation, n.Filter),
			})
		}
	})
	return recs
}

// filterColumns pulls referenced column names out of a filter expression,
// stripping table qualifiers and deduplicating in appearance order.
func filterColumns(filter string) []string {
	if filter == "" {
		return nil
	}
	seen := map[string]bool{}
	var cols []string
	for _, m := range columnRef.FindAllStringSubmatch(filter, -1) {
		name := m[1]
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		name = strings.ToLower(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, name)
	}
	return cols
}

// innerScan returns the inner-side sequential scan of a nested loop, the
// side whose repeated probing an index would eliminate.
func innerScan(loop *model.PlanNode) *model.PlanNode {
	if len(loop.Children) < 2 {
		return nil
	}
	inner := loop.Children[len(loop.Children)-1]
	if inner.Operation == model.OpSeqScan && inner.Relation != "" {
		return inner
	}
	return nil
}

func childScanWithoutIndex(sort *model.PlanNode) *model.PlanNode {
	for _, c := range sort.Children {
		if c.Operation == model.OpSeqScan && c.Relation != "" {
			return c
		}
	}
	return nil
}
