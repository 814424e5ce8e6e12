package graph

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/pool"
)

// Layout methods accepted by the graph endpoints.
const (
	LayoutHierarchical = "improved_hierarchical"
	LayoutKamadaKawai  = "kamada_kawai"
	LayoutSpring       = "spring"
	LayoutCircular     = "circular"
	LayoutShell        = "shell"
)

// DefaultLayout is used when the caller names none.
const DefaultLayout = LayoutHierarchical

// ErrUnknownLayout is returned for a layout method with no engine.
var ErrUnknownLayout = errors.New("unknown layout method")

var layoutEngines = map[string]string{
	LayoutHierarchical: "dot",
	LayoutKamadaKawai:  "neato",
	LayoutSpring:       "fdp",
	LayoutCircular:     "circo",
	LayoutShell:        "twopi",
}

// LayoutEngine maps a layout method to the Graphviz engine that draws it.
// An empty method selects DefaultLayout.
func LayoutEngine(method string) (string, error) {
	if method == "" {
		method = DefaultLayout
	}
	engine, ok := layoutEngines[method]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, method)
	}
	return engine, nil
}

// Layouts returns the accepted layout methods.
func Layouts() []string {
	return []string{LayoutHierarchical, LayoutKamadaKawai, LayoutSpring, LayoutCircular, LayoutShell}
}

// Renderer turns a graph into a document for an external layout engine.
type Renderer interface {
	Render(w io.Writer, g *Graph, layout string) error
	// Format names the produced document type, e.g. "dot".
	Format() string
}

// DOTRenderer writes Graphviz DOT.
type DOTRenderer struct{}

var nodeStyles = map[NodeKind]string{
	NodeInitial:      `shape=circle, style=filled, fillcolor="#c6efce"`,
	NodeGoal:         `shape=doublecircle, style=filled, fillcolor="#ffd966"`,
	NodeIntermediate: `shape=circle, style=filled, fillcolor="#ffffff"`,
	NodeUnused:       `shape=circle, style=dashed, fontcolor="#808080"`,
	NodeRule:         `shape=box, style=rounded`,
}

// Format implements Renderer.
func (DOTRenderer) Format() string { return "dot" }

// Render implements Renderer.
func (DOTRenderer) Render(w io.Writer, g *Graph, layout string) error {
	engine, err := LayoutEngine(layout)
	if err != nil {
		return err
	}

	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)

	sb.Printf("digraph %s {\n", g.Kind)
	sb.Printf("  layout=%s;\n", engine)
	if engine == "dot" {
		sb.WriteString("  rankdir=LR;\n")
	}
	sb.WriteString("  node [fontname=\"Helvetica\"];\n")

	for _, n := range g.Nodes {
		label := n.Label
		if g.Kind == KindRPG {
			label = fmt.Sprintf("%s\n%s -> %s", n.Label, strings.Join(fact.ToStrings(n.Premise), ", "), n.Conclusion)
		}
		sb.Printf("  %s [label=%s, %s];\n", quote(n.ID), quote(label), nodeStyles[n.Kind])
	}
	for _, e := range g.Edges {
		sb.Printf("  %s -> %s [label=%s];\n", quote(e.From), quote(e.To), quote(e.Label))
	}
	sb.WriteString("}\n")

	_, err = io.WriteString(w, sb.String())
	return err
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// quote renders s as a DOT string literal.
func quote(s string) string {
	return `"` + dotEscaper.Replace(s) + `"`
}
