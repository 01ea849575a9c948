package dsg

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/pingcap/isocheck/pkg/history"
)

// SourceKind classifies which write produced the value a read observed.
type SourceKind int8

// SourceKind enums
const (
	SourceUnresolved SourceKind = iota
	SourceInitial
	SourceSelf
	SourceCommitted
	SourceIntermediate
	SourceAborted
)

func (k SourceKind) String() string {
	switch k {
	case SourceInitial:
		return "initial"
	case SourceSelf:
		return "self-write"
	case SourceCommitted:
		return "committed"
	case SourceIntermediate:
		return "committed-intermediate"
	case SourceAborted:
		return "aborted"
	default:
		return "unresolved"
	}
}

// Resolution maps one read to the write instance that produced its value.
// HasWrite is false for SourceUnresolved and for SourceInitial when the read
// observed the initial absence of a row.
type Resolution struct {
	Kind     SourceKind
	Write    history.Write
	HasWrite bool
}

// ResolvedReads is the output of the version resolver: one Resolution per
// item read, plus the integrity errors met along the way.
type ResolvedReads struct {
	h         *history.History
	reads     []history.OpRef
	res       map[history.OpRef]Resolution
	integrity []error
}

// Resolve maps every item read of the history to its producing write,
// following the preference order: committed final write of another
// transaction, prior write of the same transaction, the initial transaction,
// an aborted write, a committed intermediate write. Ties between committed
// writes carrying the same value are broken by commit stamp when present,
// else by smallest writer id, so the same history always resolves the same
// way.
func Resolve(h *history.History) *ResolvedReads {
	rr := &ResolvedReads{h: h, res: make(map[history.OpRef]Resolution)}

	for _, ref := range h.Transactions() {
		if ref == h.Initial() {
			continue
		}
		t := h.Txn(ref)
		for idx, op := range t.Ops {
			if op.Kind != history.OpRead {
				continue
			}
			opRef := history.OpRef{Txn: ref, Index: idx}
			rr.reads = append(rr.reads, opRef)
			rr.res[opRef] = rr.resolveRead(ref, idx, op)
		}
	}
	return rr
}

func (rr *ResolvedReads) resolveRead(reader history.TxnRef, readIdx int, op history.Op) Resolution {
	h := rr.h

	if !op.Found {
		if _, exists := h.InitialValue(op.Key); !exists {
			// the row never existed before the workload; absence is the
			// initial state
			return Resolution{Kind: SourceInitial}
		}
		rr.integrity = append(rr.integrity, errors.Errorf(
			"T%d read no row for %s but the object has an initial value",
			h.Txn(reader).ID, op.Key))
		return Resolution{Kind: SourceUnresolved}
	}

	var (
		committed []history.Write
		selfPrior *history.Write
		aborted   *history.Write
		interm    *history.Write
		unknown   bool
	)
	initialW, haveInitial := rr.initialWrite(op.Key, op.Value)

	for _, w := range h.WritesOf(op.Key) {
		w := w
		if w.Value != op.Value || w.Txn == h.Initial() {
			continue
		}
		switch h.Txn(w.Txn).Outcome {
		case history.OutcomeCommitted:
			if w.Txn == reader {
				if w.Op.Index < readIdx {
					selfPrior = &w // later prior writes win
				}
			} else if w.Final {
				committed = append(committed, w)
			} else if interm == nil {
				interm = &w
			}
		case history.OutcomeAborted:
			if w.Txn != reader && aborted == nil {
				aborted = &w
			}
		default:
			if w.Txn != reader {
				unknown = true
			}
		}
	}

	switch {
	case len(committed) > 0:
		return Resolution{Kind: SourceCommitted, Write: rr.pickCommitted(reader, committed), HasWrite: true}
	case selfPrior != nil:
		return Resolution{Kind: SourceSelf, Write: *selfPrior, HasWrite: true}
	case haveInitial:
		return Resolution{Kind: SourceInitial, Write: initialW, HasWrite: true}
	case aborted != nil:
		return Resolution{Kind: SourceAborted, Write: *aborted, HasWrite: true}
	case interm != nil:
		return Resolution{Kind: SourceIntermediate, Write: *interm, HasWrite: true}
	case unknown:
		// a transaction with UNKNOWN outcome wrote this value; no claim can
		// be made either way
		return Resolution{Kind: SourceUnresolved}
	default:
		rr.integrity = append(rr.integrity, errors.Errorf(
			"T%d read %d from %s but no write produced that value",
			rr.h.Txn(reader).ID, op.Value, op.Key))
		return Resolution{Kind: SourceUnresolved}
	}
}

// initialWrite finds T0's conventional write of value to key.
func (rr *ResolvedReads) initialWrite(key string, value int64) (history.Write, bool) {
	if v, ok := rr.h.InitialValue(key); !ok || v != value {
		return history.Write{}, false
	}
	for _, w := range rr.h.WritesOf(key) {
		if w.Txn == rr.h.Initial() && w.Value == value {
			return w, true
		}
	}
	return history.Write{}, false
}

// pickCommitted breaks ties between multiple committed writes of the same
// value: the latest-committing write preceding the reader's commit when
// commit stamps are present, else the write of the smallest transaction id.
func (rr *ResolvedReads) pickCommitted(reader history.TxnRef, candidates []history.Write) history.Write {
	if len(candidates) == 1 {
		return candidates[0]
	}

	readerEnd := rr.h.Txn(reader).End
	stamped := readerEnd != 0
	for _, w := range candidates {
		if rr.h.Txn(w.Txn).End == 0 {
			stamped = false
			break
		}
	}

	if stamped {
		var best *history.Write
		var bestEnd int64
		for i := range candidates {
			end := rr.h.Txn(candidates[i].Txn).End
			if end < readerEnd && (best == nil || end > bestEnd) {
				best = &candidates[i]
				bestEnd = end
			}
		}
		if best != nil {
			return *best
		}
	}

	best := candidates[0]
	for _, w := range candidates[1:] {
		if rr.h.Txn(w.Txn).ID < rr.h.Txn(best.Txn).ID {
			best = w
		}
	}
	return best
}

// Of returns the resolution for a read.
func (rr *ResolvedReads) Of(ref history.OpRef) (Resolution, bool) {
	r, ok := rr.res[ref]
	return r, ok
}

// Reads returns every resolved read handle in deterministic history order.
func (rr *ResolvedReads) Reads() []history.OpRef { return rr.reads }

// IntegrityErrors returns the reads that resolved to no write at all.
func (rr *ResolvedReads) IntegrityErrors() []error { return rr.integrity }

func (rr *ResolvedReads) String() string {
	return fmt.Sprintf("resolved %d reads (%d integrity errors)", len(rr.reads), len(rr.integrity))
}
