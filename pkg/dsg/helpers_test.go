package dsg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingcap/isocheck/pkg/history"
)

func r(seq int, key string, value int64) history.Op {
	return history.Op{Seq: seq, Kind: history.OpRead, Key: key, Value: value, Found: true}
}

func rnil(seq int, key string) history.Op {
	return history.Op{Seq: seq, Kind: history.OpRead, Key: key}
}

func w(seq int, key string, value int64) history.Op {
	return history.Op{Seq: seq, Kind: history.OpWrite, Key: key, Value: value}
}

func pr(seq int, arg int64, rows ...history.Row) history.Op {
	return history.Op{
		Seq: seq, Kind: history.OpPredicateRead,
		Pred: history.Predicate{Kind: history.PredGreater, Arg: arg},
		Rows: rows,
	}
}

func committed(id int, ops ...history.Op) history.Transaction {
	return history.Transaction{ID: id, Outcome: history.OutcomeCommitted, Ops: ops}
}

func aborted(id int, ops ...history.Op) history.Transaction {
	return history.Transaction{ID: id, Outcome: history.OutcomeAborted, Ops: ops}
}

func unknown(id int, ops ...history.Op) history.Transaction {
	return history.Transaction{ID: id, Outcome: history.OutcomeUnknown, Ops: ops}
}

func mustHistory(t *testing.T, initial map[string]int64, txns ...history.Transaction) *history.History {
	h, err := history.New(txns, initial)
	require.NoError(t, err)
	return h
}

// analyze runs the resolver, version-order inference and graph construction.
func analyze(t *testing.T, h *history.History) (*ResolvedReads, VersionOrders, *DSG) {
	rr := Resolve(h)
	orders, conflicts := InferVersionOrders(h, rr)
	require.Empty(t, conflicts)
	return rr, orders, Build(h, rr, orders)
}

// mustRef resolves a transaction id to its handle.
func mustRef(t *testing.T, h *history.History, id int) history.TxnRef {
	ref, ok := h.ByID(id)
	require.True(t, ok)
	return ref
}

// edgeKinds fetches the labels of the edge between two transaction ids.
func edgeKinds(t *testing.T, h *history.History, g *DSG, from, to int) []EdgeKind {
	e, ok := g.EdgeBetween(mustRef(t, h, from), mustRef(t, h, to))
	require.True(t, ok, "expected an edge T%d -> T%d", from, to)
	return e.Kinds
}

func noEdge(t *testing.T, h *history.History, g *DSG, from, to int) {
	_, ok := g.EdgeBetween(mustRef(t, h, from), mustRef(t, h, to))
	require.False(t, ok, "unexpected edge T%d -> T%d", from, to)
}
