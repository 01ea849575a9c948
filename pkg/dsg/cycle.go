package dsg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pingcap/isocheck/pkg/history"
)

// Cycle is a simple cycle of the DSG in canonical form: the rotation starting
// at the smallest transaction, direction preserved. Edges[i] joins Txns[i] to
// Txns[(i+1) % len].
type Cycle struct {
	Txns  []history.TxnRef
	Edges []*Edge
}

// Key is the canonical identity of the cycle. EnumerateCycles visits each
// simple cycle once, so no two visited cycles share a key.
func (c *Cycle) Key() string {
	parts := make([]string, len(c.Txns))
	for i, ref := range c.Txns {
		parts[i] = fmt.Sprintf("%d", ref)
	}
	return strings.Join(parts, ">")
}

func (c *Cycle) String() string {
	var b strings.Builder
	for i, ref := range c.Txns {
		fmt.Fprintf(&b, "%d -%s-> ", ref, labelString(c.Edges[i].Kinds))
	}
	fmt.Fprintf(&b, "%d", c.Txns[0])
	return b.String()
}

func labelString(kinds []EdgeKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}

// SCCs returns the strongly connected components of size > 1, each sorted
// ascending, ordered by smallest member. Self loops cannot exist by
// construction.
func (g *DSG) SCCs() [][]history.TxnRef {
	index := make(map[history.TxnRef]int, len(g.nodes))
	low := make(map[history.TxnRef]int, len(g.nodes))
	onStack := make(map[history.TxnRef]bool, len(g.nodes))
	var stack []history.TxnRef
	var sccs [][]history.TxnRef
	next := 0

	type frame struct {
		v    history.TxnRef
		succ []history.TxnRef
		i    int
	}

	for _, root := range g.nodes {
		if _, seen := index[root]; seen {
			continue
		}
		frames := []frame{{v: root, succ: g.Out(root)}}
		index[root], low[root] = next, next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.i < len(f.succ) {
				w := f.succ[f.i]
				f.i++
				if _, seen := index[w]; !seen {
					index[w], low[w] = next, next
					next++
					stack = append(stack, w)
					onStack[w] = true
					frames = append(frames, frame{v: w, succ: g.Out(w)})
				} else if onStack[w] && index[w] < low[f.v] {
					low[f.v] = index[w]
				}
				continue
			}

			if low[f.v] == index[f.v] {
				var comp []history.TxnRef
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == f.v {
						break
					}
				}
				if len(comp) > 1 {
					sort.Slice(comp, func(i, j int) bool { return comp[i] < comp[j] })
					sccs = append(sccs, comp)
				}
			}
			v := f.v
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				p := &frames[len(frames)-1]
				if low[v] < low[p.v] {
					low[p.v] = low[v]
				}
			}
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}

// EnumerateCycles walks every simple cycle of the graph in deterministic
// order: components by smallest member, cycles by lexicographic DFS from
// their smallest transaction. The visitor returns false to stop enumeration
// early.
func (g *DSG) EnumerateCycles(visit func(*Cycle) bool) {
	for _, comp := range g.SCCs() {
		members := make(map[history.TxnRef]bool, len(comp))
		for _, v := range comp {
			members[v] = true
		}
		for _, start := range comp {
			if !g.cyclesFrom(start, members, visit) {
				return
			}
			// cycles through start are exhausted; later starts must not
			// revisit it
			members[start] = false
		}
	}
}

func (g *DSG) cyclesFrom(start history.TxnRef, members map[history.TxnRef]bool, visit func(*Cycle) bool) bool {
	path := []history.TxnRef{start}
	onPath := map[history.TxnRef]bool{start: true}

	var dfs func(v history.TxnRef) bool
	dfs = func(v history.TxnRef) bool {
		for _, w := range g.Out(v) {
			if w == start && len(path) > 1 {
				if !visit(g.cycleOf(path)) {
					return false
				}
				continue
			}
			if !members[w] || onPath[w] {
				continue
			}
			path = append(path, w)
			onPath[w] = true
			ok := dfs(w)
			path = path[:len(path)-1]
			onPath[w] = false
			if !ok {
				return false
			}
		}
		return true
	}
	return dfs(start)
}

func (g *DSG) cycleOf(path []history.TxnRef) *Cycle {
	c := &Cycle{Txns: append([]history.TxnRef(nil), path...)}
	for i := range c.Txns {
		e, _ := g.EdgeBetween(c.Txns[i], c.Txns[(i+1)%len(c.Txns)])
		c.Edges = append(c.Edges, e)
	}
	return c
}
