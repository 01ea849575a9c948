package dsg

import (
	"sort"

	"github.com/juju/errors"

	"github.com/pingcap/isocheck/pkg/history"
)

// versionOrder is the inferred total order over the committed installed
// writes of one object, the initial transaction's write first.
type versionOrder struct {
	key    string
	writes []history.Write
	pos    map[history.TxnRef]int
}

// successor returns the write immediately following position i, if any.
func (vo *versionOrder) successor(i int) (history.Write, bool) {
	if i+1 < len(vo.writes) {
		return vo.writes[i+1], true
	}
	return history.Write{}, false
}

// position returns the index of txn's installed write of this object.
func (vo *versionOrder) position(txn history.TxnRef) (int, bool) {
	p, ok := vo.pos[txn]
	return p, ok
}

// VersionOrders holds the inferred order for every object that admits one.
type VersionOrders map[string]*versionOrder

// InferVersionOrders derives the per-object version order over committed
// installed writes. When every writer carries a commit stamp the order is the
// stamp order, verified against the reads. Otherwise the order is the one
// consistent with everything the readers observed — each read pins its source
// write relative to the transaction's other observations and to its own
// subsequent write — completed by smallest-transaction-id choice among the
// unconstrained, which keeps the derived antidependency set minimal and
// deterministic. Objects admitting no consistent order are conflicts: dropped
// from the result, reported, and excluded from the DSG by the caller.
func InferVersionOrders(h *history.History, rr *ResolvedReads) (VersionOrders, []error) {
	orders := make(VersionOrders)
	var conflicts []error

	for _, key := range h.Keys() {
		vo, err := orderFor(h, rr, key)
		if err != nil {
			conflicts = append(conflicts, err)
			continue
		}
		if vo != nil {
			orders[key] = vo
		}
	}
	return orders, conflicts
}

func orderFor(h *history.History, rr *ResolvedReads, key string) (*versionOrder, error) {
	var writes []history.Write
	stamped := true
	for _, w := range h.WritesOf(key) {
		if !w.Final || h.Txn(w.Txn).Outcome != history.OutcomeCommitted {
			continue
		}
		writes = append(writes, w)
		if w.Txn != h.Initial() && h.Txn(w.Txn).End == 0 {
			stamped = false
		}
	}
	if len(writes) == 0 {
		return nil, nil
	}

	pins := observationPins(h, rr, key, writes)

	if stamped {
		vo := stampOrder(h, key, writes)
		for _, pin := range pins {
			pa, aok := vo.position(pin.before)
			pb, bok := vo.position(pin.after)
			if aok && bok && pa > pb {
				return nil, errors.Errorf(
					"object %s: reads pin T%d's write before T%d's, contradicting the commit-stamp order",
					key, h.Txn(pin.before).ID, h.Txn(pin.after).ID)
			}
		}
		return vo, nil
	}

	return pinnedOrder(h, key, writes, pins)
}

// pin is one ordering constraint between the installed writes of two
// transactions, derived from an observation.
type pin struct {
	before, after history.TxnRef
}

// observationPins turns reads into ordering constraints:
//
//   - within one transaction, successive reads of the object observe sources
//     in version order;
//   - a transaction that reads the object and later writes it installs its
//     version after the one it observed (read-modify-write).
//
// Only committed readers pin anything; an aborted observation proves nothing
// about the installed order.
func observationPins(h *history.History, rr *ResolvedReads, key string, writes []history.Write) []pin {
	installed := make(map[history.TxnRef]struct{}, len(writes))
	for _, w := range writes {
		installed[w.Txn] = struct{}{}
	}

	var pins []pin
	add := func(before, after history.TxnRef) {
		if before == after {
			return
		}
		if _, ok := installed[before]; !ok {
			return
		}
		if _, ok := installed[after]; !ok {
			return
		}
		pins = append(pins, pin{before: before, after: after})
	}

	for _, ref := range h.Committed() {
		t := h.Txn(ref)

		var observed []history.TxnRef // source writers in observation order
		ownWrite := -1
		for idx, op := range t.Ops {
			if op.Kind == history.OpWrite && op.Key == key {
				ownWrite = idx
				continue
			}
			if op.Kind != history.OpRead || op.Key != key {
				continue
			}
			res, ok := rr.Of(history.OpRef{Txn: ref, Index: idx})
			if !ok || !res.HasWrite {
				continue
			}
			if res.Kind != SourceCommitted && res.Kind != SourceInitial {
				continue
			}
			observed = append(observed, res.Write.Txn)
			if ownWrite < 0 {
				// observed before this transaction's own install
				add(res.Write.Txn, ref)
			}
		}
		for i := 0; i+1 < len(observed); i++ {
			add(observed[i], observed[i+1])
		}
	}
	return pins
}

func stampOrder(h *history.History, key string, writes []history.Write) *versionOrder {
	sort.SliceStable(writes, func(i, j int) bool {
		a, b := writes[i], writes[j]
		if (a.Txn == h.Initial()) != (b.Txn == h.Initial()) {
			return a.Txn == h.Initial()
		}
		ae, be := h.Txn(a.Txn).End, h.Txn(b.Txn).End
		if ae != be {
			return ae < be
		}
		return h.Txn(a.Txn).ID < h.Txn(b.Txn).ID
	})
	return newVersionOrder(key, writes)
}

// pinnedOrder topologically sorts the writes under the pins, always releasing
// the smallest eligible transaction id next.
func pinnedOrder(h *history.History, key string, writes []history.Write, pins []pin) (*versionOrder, error) {
	byTxn := make(map[history.TxnRef]history.Write, len(writes))
	for _, w := range writes {
		byTxn[w.Txn] = w
	}

	succ := make(map[history.TxnRef]map[history.TxnRef]struct{})
	blockers := make(map[history.TxnRef]int, len(writes))
	for _, w := range writes {
		blockers[w.Txn] = 0
	}
	for _, p := range pins {
		if _, dup := succ[p.before][p.after]; dup {
			continue
		}
		if succ[p.before] == nil {
			succ[p.before] = make(map[history.TxnRef]struct{})
		}
		succ[p.before][p.after] = struct{}{}
		blockers[p.after]++
	}
	// the initial transaction's write precedes everything
	if _, ok := byTxn[h.Initial()]; ok {
		for _, w := range writes {
			if w.Txn == h.Initial() {
				continue
			}
			if _, dup := succ[h.Initial()][w.Txn]; !dup {
				if succ[h.Initial()] == nil {
					succ[h.Initial()] = make(map[history.TxnRef]struct{})
				}
				succ[h.Initial()][w.Txn] = struct{}{}
				blockers[w.Txn]++
			}
		}
	}

	var ready []history.TxnRef
	for txn, n := range blockers {
		if n == 0 {
			ready = append(ready, txn)
		}
	}

	ordered := make([]history.Write, 0, len(writes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byTxn[next])
		for after := range succ[next] {
			blockers[after]--
			if blockers[after] == 0 {
				ready = append(ready, after)
			}
		}
	}

	if len(ordered) != len(writes) {
		return nil, errors.Errorf(
			"object %s: observed reads are inconsistent with any total version order", key)
	}
	return newVersionOrder(key, ordered), nil
}

func newVersionOrder(key string, writes []history.Write) *versionOrder {
	vo := &versionOrder{key: key, writes: writes, pos: make(map[history.TxnRef]int, len(writes))}
	for i, w := range writes {
		vo.pos[w.Txn] = i
	}
	return vo
}
