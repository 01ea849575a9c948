package dsg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDOTOutput(t *testing.T) {
	h := wrCycleHistory(t)
	_, _, g := analyze(t, h)

	dot := g.DOT(RenderOptions{Full: true})
	require.True(t, strings.HasPrefix(dot, "digraph dsg {"))
	require.Contains(t, dot, "T1 -> T2")
	require.Contains(t, dot, "T2 -> T1")
	require.Contains(t, dot, "wr(x)")
	require.Contains(t, dot, "wr(y)")
	require.Contains(t, dot, "T0")
}

func TestDOTCyclesOnlyByDefault(t *testing.T) {
	h := wrCycleHistory(t)
	_, _, g := analyze(t, h)

	dot := g.DOT(RenderOptions{})
	require.NotContains(t, dot, "T0")
	require.Contains(t, dot, "T1 -> T2")
}

func TestDOTHighlightsCycle(t *testing.T) {
	h := wrCycleHistory(t)
	_, _, g := analyze(t, h)

	var cycle *Cycle
	g.EnumerateCycles(func(c *Cycle) bool {
		cycle = c
		return false
	})
	require.NotNil(t, cycle)

	dot := g.DOT(RenderOptions{Highlight: cycle})
	require.Contains(t, dot, `T1 [color="`+highlightColor)

	single := cycle.DOT(h)
	require.True(t, strings.HasPrefix(single, "digraph cycle {"))
	require.Contains(t, single, "T1 -> T2")
}

func TestDashedAntidependencies(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0},
		committed(1, w(0, "x", 1)),
		committed(2, r(0, "x", 0), w(1, "y", 2)),
	)
	_, _, g := analyze(t, h)
	dot := g.DOT(RenderOptions{Full: true})
	require.Contains(t, dot, "style=dashed")
}

func TestDOTIsByteStable(t *testing.T) {
	render := func() string {
		h := wrCycleHistory(t)
		_, _, g := analyze(t, h)
		return g.DOT(RenderOptions{Full: true})
	}
	require.Equal(t, render(), render())
}
