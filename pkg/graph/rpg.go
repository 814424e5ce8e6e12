package graph

import (
	"github.com/orneryd/rulechain/pkg/rules"
)

// BuildRPG builds the Rule Precedence Graph of store. Nodes follow rule id
// order; an edge A -> B, labeled with the linking fact, exists exactly when
// the conclusion of A is in the premise of B.
func BuildRPG(store *rules.Store) *Graph {
	g := &Graph{Kind: KindRPG, Nodes: []Node{}, Edges: []Edge{}}

	for _, r := range store.Rules() {
		g.Nodes = append(g.Nodes, Node{
			ID:         r.ID.Label(),
			Label:      r.ID.Label(),
			Kind:       NodeRule,
			Premise:    r.Premise,
			Conclusion: r.Conclusion,
		})
	}

	for _, a := range store.Rules() {
		for _, b := range store.RulesWithPremise(a.Conclusion) {
			g.Edges = append(g.Edges, Edge{
				From:  a.ID.Label(),
				To:    b.Label(),
				Label: string(a.Conclusion),
			})
		}
	}
	return g
}
