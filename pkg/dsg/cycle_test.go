package dsg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingcap/isocheck/pkg/history"
)

// wrCycleHistory builds two transactions reading each other's writes.
func wrCycleHistory(t *testing.T) *history.History {
	return mustHistory(t, map[string]int64{"x": 0, "y": 0},
		committed(1, w(0, "x", 1), r(1, "y", 2)),
		committed(2, w(0, "y", 2), r(1, "x", 1)),
	)
}

func TestSCCs(t *testing.T) {
	h := wrCycleHistory(t)
	_, _, g := analyze(t, h)

	sccs := g.SCCs()
	require.Len(t, sccs, 1)
	require.Equal(t, []history.TxnRef{mustRef(t, h, 1), mustRef(t, h, 2)}, sccs[0])
}

func TestSCCsOnAcyclicGraph(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0},
		committed(1, w(0, "x", 1)),
		committed(2, r(0, "x", 1)),
	)
	_, _, g := analyze(t, h)
	require.Empty(t, g.SCCs())
}

func TestEnumerateCyclesCanonicalForm(t *testing.T) {
	h := wrCycleHistory(t)
	_, _, g := analyze(t, h)

	var cycles []*Cycle
	g.EnumerateCycles(func(c *Cycle) bool {
		cycles = append(cycles, c)
		return true
	})
	require.Len(t, cycles, 1)

	c := cycles[0]
	require.Len(t, c.Txns, 2)
	// rotation starts at the smallest transaction
	require.Equal(t, mustRef(t, h, 1), c.Txns[0])
	require.Equal(t, mustRef(t, h, 2), c.Txns[1])
	require.Equal(t, c.Txns[1], c.Edges[0].To)
	require.Equal(t, c.Txns[0], c.Edges[1].To)
}

func TestEnumerateCyclesStops(t *testing.T) {
	// two overlapping 2-cycles through T1
	h := mustHistory(t, map[string]int64{"x": 0, "y": 0, "a": 0, "b": 0},
		committed(1, w(0, "x", 1), r(1, "y", 2), w(2, "a", 3), r(3, "b", 4)),
		committed(2, w(0, "y", 2), r(1, "x", 1)),
		committed(3, w(0, "b", 4), r(1, "a", 3)),
	)
	_, _, g := analyze(t, h)

	count := 0
	g.EnumerateCycles(func(c *Cycle) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)

	count = 0
	g.EnumerateCycles(func(c *Cycle) bool {
		count++
		return true
	})
	require.Equal(t, 2, count)
}

func TestEnumerationOrderIsDeterministic(t *testing.T) {
	run := func() []string {
		h := wrCycleHistory(t)
		_, _, g := analyze(t, h)
		var keys []string
		g.EnumerateCycles(func(c *Cycle) bool {
			keys = append(keys, c.Key())
			return true
		})
		return keys
	}
	require.Equal(t, run(), run())
}
