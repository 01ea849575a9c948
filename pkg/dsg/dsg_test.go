package dsg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingcap/isocheck/pkg/history"
)

func TestWWEdgesFollowVersionOrder(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0},
		committed(1, w(0, "x", 1)),
		committed(2, w(0, "x", 2)),
	)
	_, _, g := analyze(t, h)

	require.Equal(t, []EdgeKind{WW}, edgeKinds(t, h, g, 0, 1))
	require.Equal(t, []EdgeKind{WW}, edgeKinds(t, h, g, 1, 2))
	// only direct successors, transitive WW stays implicit
	noEdge(t, h, g, 0, 2)
}

func TestWREdge(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0},
		committed(1, w(0, "x", 1)),
		committed(2, r(0, "x", 1)),
	)
	_, _, g := analyze(t, h)
	require.Equal(t, []EdgeKind{WR}, edgeKinds(t, h, g, 1, 2))
}

func TestRWEdge(t *testing.T) {
	// T2 read the initial version that T1 overwrote
	h := mustHistory(t, map[string]int64{"x": 0},
		committed(1, w(0, "x", 1)),
		committed(2, r(0, "x", 0), w(1, "y", 2)),
	)
	_, _, g := analyze(t, h)
	require.Equal(t, []EdgeKind{RW}, edgeKinds(t, h, g, 2, 1))
}

func TestEdgeCoalescing(t *testing.T) {
	// T2 both reads T1's x and writes y after T1: the WR and WW labels
	// coalesce onto a single T1 -> T2 edge with provenance for each
	h := mustHistory(t, map[string]int64{"x": 0, "y": 0},
		committed(1, w(0, "x", 1), w(1, "y", 1)),
		committed(2, r(0, "x", 1), w(1, "y", 2)),
	)
	_, _, g := analyze(t, h)

	kinds := edgeKinds(t, h, g, 1, 2)
	require.Equal(t, []EdgeKind{WW, WR}, kinds)

	e, ok := g.EdgeBetween(mustRef(t, h, 1), mustRef(t, h, 2))
	require.True(t, ok)
	require.Len(t, e.Proof, 2)
}

func TestUnknownOutcomeExcludedFromDSG(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0},
		unknown(1, w(0, "x", 1)),
		committed(2, w(0, "x", 2)),
	)
	rr := Resolve(h)
	orders, conflicts := InferVersionOrders(h, rr)
	require.Empty(t, conflicts)
	g := Build(h, rr, orders)

	for _, node := range g.Nodes() {
		require.NotEqual(t, history.OutcomeUnknown, h.Txn(node).Outcome)
	}
	// T1's write is not installed, so the order runs T0 -> T2
	require.Equal(t, []int{0, 2}, orderIDs(t, h, orders, "x"))
}

func TestG0WriteCycleEdges(t *testing.T) {
	// version orders x: T1->T4->T3 and y: T2->T3->T4, pinned by readers,
	// produce WW edges in both directions between T3 and T4
	h := mustHistory(t, map[string]int64{"x": 0, "y": 0},
		committed(1, w(0, "x", 1)),
		committed(2, w(0, "y", 2)),
		committed(3, w(0, "x", 31), w(1, "y", 32)),
		committed(4, w(0, "x", 41), w(1, "y", 42)),
		committed(5, r(0, "x", 41), r(1, "x", 31)),
		committed(6, r(0, "y", 32), r(1, "y", 42)),
	)
	_, orders, g := analyze(t, h)

	require.Equal(t, []int{0, 1, 4, 3}, orderIDs(t, h, orders, "x"))
	require.Equal(t, []int{0, 2, 3, 4}, orderIDs(t, h, orders, "y"))

	require.Equal(t, []EdgeKind{WW}, edgeKinds(t, h, g, 4, 3))
	require.Equal(t, []EdgeKind{WW}, edgeKinds(t, h, g, 3, 4))
}

func TestPredicateAntidependencyOnMiss(t *testing.T) {
	// T1's predicate read saw nothing above 30; T2 installed the first
	// matching version of k
	h := mustHistory(t, map[string]int64{"k": 0},
		committed(1, pr(0, 30)),
		committed(2, w(0, "k", 40)),
	)
	_, _, g := analyze(t, h)
	require.Equal(t, []EdgeKind{PRW}, edgeKinds(t, h, g, 1, 2))
}

func TestPredicateAntidependencyOnMatchedRow(t *testing.T) {
	// the predicate matched k at version 40; T3's overwrite changes the
	// result set
	h := mustHistory(t, map[string]int64{"k": 0},
		committed(2, w(0, "k", 40)),
		committed(3, w(0, "k", 50)),
		committed(4, pr(0, 30, history.Row{Key: "k", Value: 40}), r(1, "k", 40)),
		committed(5, r(0, "k", 40), r(1, "k", 50)),
	)
	_, orders, g := analyze(t, h)
	require.Equal(t, []int{0, 2, 3}, orderIDs(t, h, orders, "k"))
	require.Contains(t, edgeKinds(t, h, g, 4, 3), PRW)
}

func TestNoPredicateEdgeForOwnWrite(t *testing.T) {
	h := mustHistory(t, map[string]int64{"k": 0},
		committed(1, pr(0, 30), w(1, "k", 40)),
	)
	_, _, g := analyze(t, h)
	require.Empty(t, g.Edges()[1:]) // at most the T0 -> T1 ww edge
	noEdge(t, h, g, 1, 1)
}

func TestBuildIsIdempotent(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0, "y": 0},
		committed(1, w(0, "x", 1), r(1, "y", 0)),
		committed(2, r(0, "x", 1), w(1, "y", 2)),
		committed(3, w(0, "x", 3)),
	)
	_, _, g1 := analyze(t, h)
	_, _, g2 := analyze(t, h)

	require.Equal(t, g1.Nodes(), g2.Nodes())
	e1, e2 := g1.Edges(), g2.Edges()
	require.Equal(t, len(e1), len(e2))
	for i := range e1 {
		require.Equal(t, *e1[i], *e2[i])
	}
}

func TestForkIsIndependent(t *testing.T) {
	h := mustHistory(t, map[string]int64{"x": 0},
		committed(1, w(0, "x", 1)),
	)
	_, _, g := analyze(t, h)
	f := g.Fork()
	require.Equal(t, len(g.Edges()), len(f.Edges()))
	f.Edges()[0].Kinds[0] = PRW
	require.Equal(t, WW, g.Edges()[0].Kinds[0])
}
