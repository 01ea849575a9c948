package dsg

import (
	"sort"

	"github.com/mohae/deepcopy"

	"github.com/pingcap/isocheck/pkg/history"
)

// EdgeKind labels one dependency relation between two transactions.
type EdgeKind int8

// EdgeKind enums
const (
	WW EdgeKind = iota
	WR
	RW
	PRW
)

func (k EdgeKind) String() string {
	switch k {
	case WW:
		return "ww"
	case WR:
		return "wr"
	case RW:
		return "rw"
	default:
		return "prw"
	}
}

// Evidence records the operations that justified one label of an edge.
type Evidence struct {
	Kind EdgeKind
	Key  string
	// From is the justifying operation in the source transaction; To the one
	// in the target. For WW edges both are writes; for WR/RW one side is the
	// read; for PRW the source side is the predicate read.
	From history.OpRef
	To   history.OpRef
}

// Edge is the coalesced dependency between an ordered pair of committed
// transactions: at most one Edge per pair, carrying the union of label kinds
// with per-kind provenance.
type Edge struct {
	From  history.TxnRef
	To    history.TxnRef
	Kinds []EdgeKind
	Proof []Evidence
}

// Has reports whether the edge carries the given label.
func (e *Edge) Has(k EdgeKind) bool {
	for _, kind := range e.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Anti reports whether the edge carries an antidependency label.
func (e *Edge) Anti() bool { return e.Has(RW) || e.Has(PRW) }

func (e *Edge) addLabel(k EdgeKind, ev Evidence) {
	if !e.Has(k) {
		e.Kinds = append(e.Kinds, k)
		sort.Slice(e.Kinds, func(i, j int) bool { return e.Kinds[i] < e.Kinds[j] })
	}
	e.Proof = append(e.Proof, ev)
}

// DSG is the Direct Serialization Graph: committed transactions as nodes,
// coalesced WW/WR/RW/PRW edges between them. It is an immutable snapshot once
// built.
type DSG struct {
	h     *history.History
	nodes []history.TxnRef
	out   map[history.TxnRef]map[history.TxnRef]*Edge
}

// Nodes returns the committed transactions in id order.
func (g *DSG) Nodes() []history.TxnRef { return g.nodes }

// History returns the history the graph was built from.
func (g *DSG) History() *history.History { return g.h }

// EdgeBetween returns the coalesced edge from a to b, if present.
func (g *DSG) EdgeBetween(a, b history.TxnRef) (*Edge, bool) {
	e, ok := g.out[a][b]
	return e, ok
}

// Out returns a's successors in ascending id order.
func (g *DSG) Out(a history.TxnRef) []history.TxnRef {
	succ := make([]history.TxnRef, 0, len(g.out[a]))
	for b := range g.out[a] {
		succ = append(succ, b)
	}
	sort.Slice(succ, func(i, j int) bool { return succ[i] < succ[j] })
	return succ
}

// Edges returns every edge, ordered by (from, to).
func (g *DSG) Edges() []*Edge {
	var edges []*Edge
	for _, a := range g.nodes {
		for _, b := range g.Out(a) {
			edges = append(edges, g.out[a][b])
		}
	}
	return edges
}

// Fork copies the graph so renderers can hold a snapshot independent of the
// checker's lifetime. The history is immutable and stays shared; edges are
// deep-copied.
func (g *DSG) Fork() *DSG {
	f := &DSG{
		h:     g.h,
		nodes: append([]history.TxnRef(nil), g.nodes...),
		out:   make(map[history.TxnRef]map[history.TxnRef]*Edge, len(g.out)),
	}
	for a, m := range g.out {
		f.out[a] = make(map[history.TxnRef]*Edge, len(m))
		for b, e := range m {
			f.out[a][b] = deepcopy.Copy(e).(*Edge)
		}
	}
	return f
}

func (g *DSG) link(kind EdgeKind, from, to history.TxnRef, ev Evidence) {
	if from == to {
		return
	}
	if g.out[from] == nil {
		g.out[from] = make(map[history.TxnRef]*Edge)
	}
	e, ok := g.out[from][to]
	if !ok {
		e = &Edge{From: from, To: to}
		g.out[from][to] = e
	}
	e.addLabel(kind, ev)
}

// Build constructs the DSG from resolved reads and inferred version orders.
// Only committed transactions appear; objects missing from orders (version
// order conflicts) contribute no edges.
func Build(h *history.History, rr *ResolvedReads, orders VersionOrders) *DSG {
	g := &DSG{h: h, out: make(map[history.TxnRef]map[history.TxnRef]*Edge)}
	for _, ref := range h.Committed() {
		g.nodes = append(g.nodes, ref)
	}
	committed := make(map[history.TxnRef]struct{}, len(g.nodes))
	for _, ref := range g.nodes {
		committed[ref] = struct{}{}
	}

	keys := make([]string, 0, len(orders))
	for key := range orders {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// WW: direct successors in each version order
	for _, key := range keys {
		vo := orders[key]
		for i := 0; i+1 < len(vo.writes); i++ {
			a, b := vo.writes[i], vo.writes[i+1]
			g.link(WW, a.Txn, b.Txn, Evidence{Kind: WW, Key: key, From: a.Op, To: b.Op})
		}
	}

	// WR and RW from the resolution map
	for _, read := range rr.Reads() {
		res, _ := rr.Of(read)
		if _, ok := committed[read.Txn]; !ok {
			continue
		}
		if !res.HasWrite {
			continue
		}
		vo, ok := orders[res.Write.Key]
		if !ok {
			continue
		}

		switch res.Kind {
		case SourceCommitted:
			g.link(WR, res.Write.Txn, read.Txn, Evidence{
				Kind: WR, Key: res.Write.Key, From: res.Write.Op, To: read,
			})
			fallthrough
		case SourceInitial:
			if p, ok := vo.position(res.Write.Txn); ok {
				if succ, ok := vo.successor(p); ok {
					g.link(RW, read.Txn, succ.Txn, Evidence{
						Kind: RW, Key: res.Write.Key, From: read, To: succ.Op,
					})
				}
			}
		}
	}

	// PRW from predicate reads
	for _, ref := range g.nodes {
		if ref == h.Initial() {
			continue
		}
		for idx, op := range h.Txn(ref).Ops {
			if op.Kind != history.OpPredicateRead {
				continue
			}
			g.predicateAntideps(history.OpRef{Txn: ref, Index: idx}, op, orders)
		}
	}

	return g
}

// predicateAntideps emits PRW edges for one predicate read: for every object,
// the committed write immediately succeeding the version the predicate
// evaluation observed, provided that write would change the result set
// (insert into the match set, delete from it, or update a matched row).
func (g *DSG) predicateAntideps(read history.OpRef, op history.Op, orders VersionOrders) {
	h := g.h
	observed := make(map[string]int64, len(op.Rows))
	for _, row := range op.Rows {
		observed[row.Key] = row.Value
	}

	keys := make([]string, 0, len(orders))
	for key := range orders {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		vo := orders[key]
		if v, ok := observed[key]; ok {
			// a matched row: the overwriting version removes it from the
			// match set or updates it in place, either way the result changes
			p := positionOfValue(vo, v)
			if p < 0 {
				continue
			}
			if succ, ok := vo.successor(p); ok && succ.Txn != read.Txn {
				g.link(PRW, read.Txn, succ.Txn, Evidence{
					Kind: PRW, Key: key, From: read, To: succ.Op,
				})
			}
			continue
		}

		// an unmatched object: the predicate observed some non-matching
		// version, so the first version flipping the object into the match
		// set is the immediate successor of whatever it observed. If the
		// object already matched at its initial version the observed one is
		// ambiguous and nothing is emitted.
		for _, w := range vo.writes {
			if !op.Pred.Match(true, w.Value) {
				continue
			}
			if w.Txn != h.Initial() && w.Txn != read.Txn {
				g.link(PRW, read.Txn, w.Txn, Evidence{
					Kind: PRW, Key: key, From: read, To: w.Op,
				})
			}
			break
		}
	}
}

func positionOfValue(vo *versionOrder, value int64) int {
	for i, w := range vo.writes {
		if w.Value == value {
			return i
		}
	}
	return -1
}
