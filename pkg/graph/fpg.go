package graph

import (
	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// BuildFPG builds the Fact Precedence Graph of store.
//
// Every fact mentioned by a rule becomes a node, sorted by fact. Nodes are
// tagged initial (in initial), goal (in goals but not initial), intermediate
// (reachable from an initial fact and reaching a goal along edges) or unused.
// Edges are ordered by rule id, then by premise position.
func BuildFPG(store *rules.Store, initial, goals fact.Set) *Graph {
	g := &Graph{Kind: KindFPG, Nodes: []Node{}, Edges: []Edge{}}

	succ := make(map[fact.Fact][]fact.Fact)
	pred := make(map[fact.Fact][]fact.Fact)
	for _, r := range store.Rules() {
		for _, p := range r.Premise {
			g.Edges = append(g.Edges, Edge{
				From:  string(p),
				To:    string(r.Conclusion),
				Rule:  r.ID,
				Label: r.ID.Label(),
			})
			succ[p] = append(succ[p], r.Conclusion)
			pred[r.Conclusion] = append(pred[r.Conclusion], p)
		}
	}

	fromInitial := reach(initial, succ)
	toGoal := reach(goals, pred)

	for _, f := range store.Facts().Sorted() {
		kind := NodeUnused
		switch {
		case initial.Has(f):
			kind = NodeInitial
		case goals.Has(f):
			kind = NodeGoal
		case fromInitial.Has(f) && toGoal.Has(f):
			kind = NodeIntermediate
		}
		g.Nodes = append(g.Nodes, Node{ID: string(f), Label: string(f), Kind: kind})
	}
	return g
}

// reach returns every fact reachable from start along adj, start included.
func reach(start fact.Set, adj map[fact.Fact][]fact.Fact) fact.Set {
	seen := start.Clone()
	queue := start.Sorted()
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for _, next := range adj[f] {
			if seen.Add(next) {
				queue = append(queue, next)
			}
		}
	}
	return seen
}
