package dsg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/juju/errors"

	"github.com/pingcap/isocheck/pkg/history"
)

// Rendering emits a portable DOT description of the DSG or of a single
// cycle. Edges carrying only RW/PRW labels are dashed, the way Adya draws
// antidependencies; edges with a WW or WR label are solid. Output is
// deterministic: nodes and edges in id order.

// RenderOptions controls what DOT covers.
type RenderOptions struct {
	// Full includes every committed transaction; otherwise only members of
	// non-trivial strongly connected components are drawn.
	Full bool
	// Highlight marks the transactions of a reported cycle.
	Highlight *Cycle
}

const highlightColor = "#C02700"

// DOT renders the graph.
func (g *DSG) DOT(opts RenderOptions) string {
	include := make(map[history.TxnRef]bool)
	if opts.Full {
		for _, v := range g.nodes {
			include[v] = true
		}
	} else {
		for _, comp := range g.SCCs() {
			for _, v := range comp {
				include[v] = true
			}
		}
	}

	marked := make(map[history.TxnRef]bool)
	if opts.Highlight != nil {
		for _, v := range opts.Highlight.Txns {
			marked[v] = true
			include[v] = true
		}
	}

	var b strings.Builder
	b.WriteString("digraph dsg {\n")
	for _, v := range g.nodes {
		if !include[v] {
			continue
		}
		if marked[v] {
			fmt.Fprintf(&b, "\tT%d [color=\"%s\",fontcolor=\"%s\"];\n", g.h.Txn(v).ID, highlightColor, highlightColor)
		} else {
			fmt.Fprintf(&b, "\tT%d;\n", g.h.Txn(v).ID)
		}
	}
	for _, e := range g.Edges() {
		if !include[e.From] || !include[e.To] {
			continue
		}
		b.WriteString("\t" + g.dotEdge(e) + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// DOT renders one cycle as a standalone graph.
func (c *Cycle) DOT(h *history.History) string {
	var b strings.Builder
	b.WriteString("digraph cycle {\n")
	for _, v := range c.Txns {
		fmt.Fprintf(&b, "\tT%d [color=\"%s\",fontcolor=\"%s\"];\n", h.Txn(v).ID, highlightColor, highlightColor)
	}
	for _, e := range c.Edges {
		b.WriteString("\t" + dotEdge(h, e) + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func (g *DSG) dotEdge(e *Edge) string { return dotEdge(g.h, e) }

func dotEdge(h *history.History, e *Edge) string {
	attrs := []string{fmt.Sprintf("label=\"%s\"", edgeAnnotation(e))}
	if e.Anti() && !e.Has(WW) && !e.Has(WR) {
		attrs = append(attrs, "style=dashed")
	}
	return fmt.Sprintf("T%d -> T%d [%s];", h.Txn(e.From).ID, h.Txn(e.To).ID, strings.Join(attrs, ","))
}

// edgeAnnotation labels an edge with its kinds and the objects justifying
// them, e.g. "ww(x),rw(y)".
func edgeAnnotation(e *Edge) string {
	keysByKind := make(map[EdgeKind][]string)
	for _, ev := range e.Proof {
		keysByKind[ev.Kind] = append(keysByKind[ev.Kind], ev.Key)
	}
	var parts []string
	for _, k := range e.Kinds {
		keys := dedupSorted(keysByKind[k])
		parts = append(parts, fmt.Sprintf("%s(%s)", k, strings.Join(keys, " ")))
	}
	return strings.Join(parts, ",")
}

func dedupSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// RenderSVG rasterizes a DOT description to an SVG file.
func RenderSVG(dot, filename string) error {
	g := graphviz.New()
	graph, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return errors.Annotate(err, "parse DOT")
	}
	return errors.Trace(g.RenderFilename(graph, graphviz.SVG, filename))
}
