package graph

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// testStore: r1 {A, B} -> C, r2 {C} -> D, r3 {X} -> Y.
func testStore(t *testing.T) *rules.Store {
	t.Helper()
	store, err := rules.Build([]rules.Rule{
		rules.New("1", []string{"A", "B"}, "C", ""),
		rules.New("2", []string{"C"}, "D", ""),
		rules.New("3", []string{"X"}, "Y", ""),
	})
	require.NoError(t, err)
	return store
}

func TestBuildFPG(t *testing.T) {
	g := BuildFPG(testStore(t), fact.NewSet("A", "B"), fact.NewSet("D"))

	wantNodes := []Node{
		{ID: "A", Label: "A", Kind: NodeInitial},
		{ID: "B", Label: "B", Kind: NodeInitial},
		{ID: "C", Label: "C", Kind: NodeIntermediate},
		{ID: "D", Label: "D", Kind: NodeGoal},
		{ID: "X", Label: "X", Kind: NodeUnused},
		{ID: "Y", Label: "Y", Kind: NodeUnused},
	}
	if diff := cmp.Diff(wantNodes, g.Nodes); diff != "" {
		t.Errorf("nodes (-want +got):\n%s", diff)
	}

	wantEdges := []Edge{
		{From: "A", To: "C", Rule: "1", Label: "r1"},
		{From: "B", To: "C", Rule: "1", Label: "r1"},
		{From: "C", To: "D", Rule: "2", Label: "r2"},
		{From: "X", To: "Y", Rule: "3", Label: "r3"},
	}
	if diff := cmp.Diff(wantEdges, g.Edges); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
	assert.Equal(t, KindFPG, g.Kind)
	assert.Equal(t, 6, g.NodeCount())
	assert.Equal(t, 4, g.EdgeCount())
}

func TestBuildFPG_Tags(t *testing.T) {
	t.Run("goal inside initial stays initial", func(t *testing.T) {
		g := BuildFPG(testStore(t), fact.NewSet("D"), fact.NewSet("D"))
		for _, n := range g.Nodes {
			if n.ID == "D" {
				assert.Equal(t, NodeInitial, n.Kind)
			}
		}
	})

	t.Run("not reaching a goal is unused", func(t *testing.T) {
		g := BuildFPG(testStore(t), fact.NewSet("A", "B"), fact.NewSet("Y"))
		kinds := map[string]NodeKind{}
		for _, n := range g.Nodes {
			kinds[n.ID] = n.Kind
		}
		assert.Equal(t, NodeUnused, kinds["C"])
		assert.Equal(t, NodeUnused, kinds["X"])
		assert.Equal(t, NodeGoal, kinds["Y"])
	})

	t.Run("no context", func(t *testing.T) {
		g := BuildFPG(testStore(t), fact.NewSet(), fact.NewSet())
		for _, n := range g.Nodes {
			assert.Equal(t, NodeUnused, n.Kind, n.ID)
		}
	})
}

func TestBuildRPG(t *testing.T) {
	store, err := rules.Build([]rules.Rule{
		rules.New("1", []string{"A"}, "B", ""),
		rules.New("2", []string{"B"}, "C", ""),
		rules.New("3", []string{"B", "C"}, "D", ""),
		rules.New("4", []string{"Z"}, "W", ""),
	})
	require.NoError(t, err)

	g := BuildRPG(store)
	assert.Equal(t, KindRPG, g.Kind)
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, Node{ID: "r3", Label: "r3", Kind: NodeRule, Premise: []fact.Fact{"B", "C"}, Conclusion: "D"}, g.Nodes[2])

	wantEdges := []Edge{
		{From: "r1", To: "r2", Label: "B"},
		{From: "r1", To: "r3", Label: "B"},
		{From: "r2", To: "r3", Label: "C"},
	}
	if diff := cmp.Diff(wantEdges, g.Edges); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
}

func TestBuilders_Pure(t *testing.T) {
	store := testStore(t)

	if diff := cmp.Diff(BuildRPG(store), BuildRPG(store)); diff != "" {
		t.Errorf("RPG differs between builds:\n%s", diff)
	}

	initial, goals := fact.NewSet("A", "B"), fact.NewSet("D")
	first := BuildFPG(store, initial, goals)
	second := BuildFPG(store, initial, goals)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("FPG differs between builds:\n%s", diff)
	}
	assert.True(t, initial.Equal(fact.NewSet("A", "B")))
}

func TestLayoutEngine(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"", "dot"},
		{LayoutHierarchical, "dot"},
		{LayoutKamadaKawai, "neato"},
		{LayoutSpring, "fdp"},
		{LayoutCircular, "circo"},
		{LayoutShell, "twopi"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := LayoutEngine(tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LayoutEngine("random")
	assert.True(t, errors.Is(err, ErrUnknownLayout))
	assert.Len(t, Layouts(), len(layoutEngines))
}

func TestDOTRenderer(t *testing.T) {
	store := testStore(t)

	t.Run("fpg", func(t *testing.T) {
		var buf bytes.Buffer
		err := DOTRenderer{}.Render(&buf, BuildFPG(store, fact.NewSet("A", "B"), fact.NewSet("D")), "")
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "digraph fpg {")
		assert.Contains(t, out, "layout=dot;")
		assert.Contains(t, out, `"A" -> "C" [label="r1"];`)
		assert.Contains(t, out, `"D" [label="D", shape=doublecircle`)
	})

	t.Run("rpg escapes labels", func(t *testing.T) {
		var buf bytes.Buffer
		err := DOTRenderer{}.Render(&buf, BuildRPG(store), LayoutCircular)
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "layout=circo;")
		assert.NotContains(t, out, "rankdir")
		assert.Contains(t, out, `"r1" [label="r1\nA, B -> C"`)
		assert.Contains(t, out, `"r1" -> "r2" [label="C"];`)
	})

	t.Run("unknown layout", func(t *testing.T) {
		var buf bytes.Buffer
		err := DOTRenderer{}.Render(&buf, BuildRPG(store), "nope")
		assert.True(t, errors.Is(err, ErrUnknownLayout))
		assert.Zero(t, buf.Len())
	})

	assert.Equal(t, "dot", DOTRenderer{}.Format())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"say \"hi\""`, quote(`say "hi"`))
	assert.Equal(t, `"a\\b"`, quote(`a\b`))
}
