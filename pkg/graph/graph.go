// Package graph derives the two dependency views of a rule set.
//
// The Fact Precedence Graph (FPG) has one node per fact and one edge per
// (premise, rule) pair, pointing from the premise to the rule's conclusion.
// A rule with several premises is drawn as a fan-in of edges sharing the rule
// label. The Rule Precedence Graph (RPG) has one node per rule and an edge
// A -> B exactly when the conclusion of A is a premise of B.
//
// Both builders are pure functions of their inputs: they read the Store and
// return fresh slices, so building twice yields identical graphs. Layout and
// pixels are not computed here. A Renderer turns a Graph into a document
// (DOTRenderer emits Graphviz text) for an external layout engine.
//
// Example Usage:
//
//	fpg := graph.BuildFPG(store, fact.NewSet("A", "B"), fact.NewSet("D"))
//	for _, n := range fpg.Nodes {
//		fmt.Println(n.ID, n.Kind) // A initial, C intermediate, D goal
//	}
//
//	var buf bytes.Buffer
//	_ = graph.DOTRenderer{}.Render(&buf, graph.BuildRPG(store), graph.LayoutHierarchical)
package graph

import (
	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// Kind names the graph flavor.
type Kind string

const (
	KindFPG Kind = "fpg"
	KindRPG Kind = "rpg"
)

// NodeKind tags a node.
type NodeKind string

const (
	NodeInitial      NodeKind = "initial"
	NodeGoal         NodeKind = "goal"
	NodeIntermediate NodeKind = "intermediate"
	NodeUnused       NodeKind = "unused"
	NodeRule         NodeKind = "rule"
)

// Node is a fact (FPG) or a rule (RPG).
type Node struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Kind  NodeKind `json:"kind"`

	// RPG only.
	Premise    []fact.Fact `json:"premise,omitempty"`
	Conclusion fact.Fact   `json:"conclusion,omitempty"`
}

// Edge is a directed edge between two node ids.
type Edge struct {
	From  string       `json:"from"`
	To    string       `json:"to"`
	Rule  rules.RuleID `json:"rule,omitempty"`
	Label string       `json:"label"`
}

// Graph is a node/edge model ready for rendering.
type Graph struct {
	Kind  Kind   `json:"kind"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.Edges) }
