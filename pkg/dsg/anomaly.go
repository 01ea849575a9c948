package dsg

import (
	"fmt"
	"strings"

	"github.com/pingcap/isocheck/pkg/history"
)

// Kind names an Adya anomaly.
type Kind string

// Kind enums
const (
	KindG0      Kind = "G0"
	KindG1a     Kind = "G1a"
	KindG1b     Kind = "G1b"
	KindG1c     Kind = "G1c"
	KindGSingle Kind = "G-single"
	KindG2Item  Kind = "G2-item"
	KindG2      Kind = "G2"
)

// Description gives the short human name of the anomaly.
func (k Kind) Description() string {
	switch k {
	case KindG0:
		return "G0: write cycles"
	case KindG1a:
		return "G1a: aborted read"
	case KindG1b:
		return "G1b: intermediate read"
	case KindG1c:
		return "G1c: circular information flow"
	case KindGSingle:
		return "G-single: single anti dependency cycle"
	case KindG2Item:
		return "G2-item: item anti dependency cycle"
	case KindG2:
		return "G2: anti dependency cycle"
	default:
		return string(k)
	}
}

// Anomaly is one named finding with its evidence: a cycle, or for G1a/G1b a
// (read, offending write) witness pair.
type Anomaly struct {
	Kind  Kind
	Cycle *Cycle

	Read   history.OpRef
	Source history.Write
}

// Cyclic reports whether the anomaly carries cycle evidence.
func (a *Anomaly) Cyclic() bool { return a.Cycle != nil }

// Classify names a cycle by the multiset of its edge labels. Checks run from
// most to least specific, so a G0 cycle is not also counted as G1c.
func Classify(c *Cycle) (Kind, bool) {
	var (
		wrCount, antiCount, prwCount int
		pureAntiEdges                int
	)
	for _, e := range c.Edges {
		if e.Has(WR) {
			wrCount++
		}
		if e.Has(PRW) {
			prwCount++
		}
		if e.Anti() {
			antiCount++
			if !e.Has(WW) && !e.Has(WR) {
				pureAntiEdges++
			}
		}
	}

	switch {
	case antiCount == 0 && wrCount == 0:
		return KindG0, true
	case antiCount == 0:
		return KindG1c, true
	case antiCount == 1 && pureAntiEdges == 1:
		return KindGSingle, true
	case prwCount == 0:
		return KindG2Item, true
	default:
		return KindG2, true
	}
}

// Summary renders the one-line report form: name, participating transactions,
// one-line evidence.
func (a *Anomaly) Summary(h *history.History) string {
	if a.Cyclic() {
		ids := make([]string, len(a.Cycle.Txns))
		for i, ref := range a.Cycle.Txns {
			ids[i] = fmt.Sprintf("T%d", h.Txn(ref).ID)
		}
		return fmt.Sprintf("%s [%s] %s", a.Kind, strings.Join(ids, " "), a.cycleLine(h))
	}
	read := h.Op(a.Read)
	return fmt.Sprintf("%s [T%d T%d] T%d read %s written by T%d which %s",
		a.Kind, h.Txn(a.Read.Txn).ID, h.Txn(a.Source.Txn).ID,
		h.Txn(a.Read.Txn).ID, read.String(), h.Txn(a.Source.Txn).ID,
		a.sourceState())
}

func (a *Anomaly) sourceState() string {
	if a.Kind == KindG1a {
		return "aborted"
	}
	return "overwrote it before committing"
}

func (a *Anomaly) cycleLine(h *history.History) string {
	var b strings.Builder
	for i, ref := range a.Cycle.Txns {
		fmt.Fprintf(&b, "T%d -%s-> ", h.Txn(ref).ID, labelString(a.Cycle.Edges[i].Kinds))
	}
	fmt.Fprintf(&b, "T%d", h.Txn(a.Cycle.Txns[0]).ID)
	return b.String()
}

// Explain renders the full evidence block.
func (a *Anomaly) Explain(h *history.History) string {
	var b strings.Builder
	fmt.Fprintf(&b, "+--------------------------\n")
	fmt.Fprintf(&b, "| Anomaly type: %s\n", a.Kind.Description())
	fmt.Fprintf(&b, "|\n| Let:\n")
	for _, ref := range a.txns() {
		fmt.Fprintf(&b, "|\t%s\n", h.Txn(ref).String())
	}
	fmt.Fprintf(&b, "|\n| Then:\n")
	for i, step := range a.steps(h) {
		fmt.Fprintf(&b, "|\t%d: %s\n", i+1, step)
	}
	fmt.Fprintf(&b, "+--------------------------")
	return b.String()
}

func (a *Anomaly) txns() []history.TxnRef {
	if a.Cyclic() {
		return a.Cycle.Txns
	}
	if a.Read.Txn == a.Source.Txn {
		return []history.TxnRef{a.Read.Txn}
	}
	return []history.TxnRef{a.Read.Txn, a.Source.Txn}
}

func (a *Anomaly) steps(h *history.History) []string {
	if !a.Cyclic() {
		read := h.Op(a.Read)
		return []string{
			fmt.Sprintf("T%d reads %s", h.Txn(a.Read.Txn).ID, read.String()),
			fmt.Sprintf("%s = %d was written by T%d which %s",
				a.Source.Key, a.Source.Value, h.Txn(a.Source.Txn).ID, a.sourceState()),
		}
	}

	var steps []string
	for i, e := range a.Cycle.Edges {
		from := h.Txn(a.Cycle.Txns[i]).ID
		to := h.Txn(a.Cycle.Txns[(i+1)%len(a.Cycle.Txns)]).ID
		step := fmt.Sprintf("T%d < T%d, because %s", from, to, explainEdge(h, e))
		if i == len(a.Cycle.Edges)-1 {
			step = "But " + step
		}
		steps = append(steps, step)
	}
	steps = append(steps, "This means we have a cycle (and an anomaly)")
	return steps
}

func explainEdge(h *history.History, e *Edge) string {
	ev := e.Proof[0]
	from, to := h.Txn(e.From).ID, h.Txn(e.To).ID
	switch ev.Kind {
	case WW:
		return fmt.Sprintf("T%d wrote %s before T%d overwrote it (write dependency)", from, ev.Key, to)
	case WR:
		return fmt.Sprintf("T%d wrote %s and T%d read that version (read dependency)", from, ev.Key, to)
	case RW:
		return fmt.Sprintf("T%d read a version of %s that T%d overwrote (item antidependency)", from, ev.Key, to)
	default:
		return fmt.Sprintf("T%d's predicate read did not observe the version of %s installed by T%d (predicate antidependency)", from, ev.Key, to)
	}
}
