package dsg

import (
	"github.com/pingcap/isocheck/pkg/history"
)

// FindNonCyclic scans the resolution map for G1a (aborted read) and G1b
// (intermediate read) witnesses. Both are independent of the requested
// isolation level; the caller suppresses them when the level permits them.
// Only committed readers are considered: an aborted transaction observing an
// aborted write proves nothing about the committed history.
func FindNonCyclic(h *history.History, rr *ResolvedReads) []Anomaly {
	var anomalies []Anomaly
	for _, read := range rr.Reads() {
		if h.Txn(read.Txn).Outcome != history.OutcomeCommitted {
			continue
		}
		res, _ := rr.Of(read)
		if !res.HasWrite {
			continue
		}
		switch res.Kind {
		case SourceAborted:
			anomalies = append(anomalies, Anomaly{Kind: KindG1a, Read: read, Source: res.Write})
		case SourceIntermediate:
			anomalies = append(anomalies, Anomaly{Kind: KindG1b, Read: read, Source: res.Write})
		}
	}
	return anomalies
}
