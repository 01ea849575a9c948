package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func read(seq int, key string, value int64) Op {
	return Op{Seq: seq, Kind: OpRead, Key: key, Value: value, Found: true}
}

func write(seq int, key string, value int64) Op {
	return Op{Seq: seq, Kind: OpWrite, Key: key, Value: value}
}

func TestNewSynthesizesInitialTransaction(t *testing.T) {
	h, err := New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted, Ops: []Op{write(0, "x", 1)}},
	}, map[string]int64{"x": 0, "y": 0})
	require.NoError(t, err)

	t0 := h.Txn(h.Initial())
	require.Equal(t, InitialTxnID, t0.ID)
	require.Equal(t, OutcomeCommitted, t0.Outcome)
	require.Len(t, t0.Ops, 2)
	// key order, so construction is deterministic
	require.Equal(t, "x", t0.Ops[0].Key)
	require.Equal(t, "y", t0.Ops[1].Key)

	v, ok := h.InitialValue("y")
	require.True(t, ok)
	require.Equal(t, int64(0), v)
	_, ok = h.InitialValue("z")
	require.False(t, ok)
}

func TestNewRejectsBadHistories(t *testing.T) {
	_, err := New([]Transaction{{ID: 0, Outcome: OutcomeCommitted}}, nil)
	require.Error(t, err)

	_, err = New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted},
		{ID: 1, Outcome: OutcomeAborted},
	}, nil)
	require.Error(t, err)

	_, err = New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted, Ops: []Op{write(3, "x", 1), write(3, "x", 2)}},
	}, nil)
	require.Error(t, err)

	_, err = New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted, Ops: []Op{write(5, "x", 1), write(2, "x", 2)}},
	}, nil)
	require.Error(t, err)
}

func TestQueries(t *testing.T) {
	h, err := New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted, Ops: []Op{write(0, "x", 1), write(1, "x", 2)}},
		{ID: 2, Outcome: OutcomeAborted, Ops: []Op{write(0, "x", 3)}},
		{ID: 3, Outcome: OutcomeCommitted, Ops: []Op{read(0, "x", 2)}},
		{ID: 4, Outcome: OutcomeUnknown, Ops: []Op{write(0, "y", 4)}},
	}, map[string]int64{"x": 0})
	require.NoError(t, err)

	require.Equal(t, 5, h.Len())
	require.Len(t, h.Committed(), 3) // T0, T1, T3
	require.Len(t, h.Aborted(), 1)

	writes := h.WritesOf("x")
	require.Len(t, writes, 4) // T0, T1 twice, T2
	require.False(t, writes[1].Final)
	require.True(t, writes[2].Final)
	require.True(t, writes[0].Final) // T0's

	reads := h.ReadsOf("x")
	require.Len(t, reads, 1)
	require.Equal(t, int64(2), h.Op(reads[0]).Value)

	require.Equal(t, []string{"x", "y"}, h.Keys())

	ref, ok := h.ByID(3)
	require.True(t, ok)
	opRef, ok := h.OperationAt(ref, 0)
	require.True(t, ok)
	require.Equal(t, OpRead, h.Op(opRef).Kind)
	_, ok = h.OperationAt(ref, 9)
	require.False(t, ok)
}

func TestPredicateWriteRowsAreWrites(t *testing.T) {
	h, err := New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted, Ops: []Op{{
			Seq: 0, Kind: OpPredicateWrite,
			Pred:  Predicate{Kind: PredGreater, Arg: 10},
			Value: 99,
			Rows:  []Row{{Key: "a", Value: 99}, {Key: "b", Value: 99}},
		}}},
	}, map[string]int64{"a": 20, "b": 30})
	require.NoError(t, err)

	require.Len(t, h.WritesOf("a"), 2)
	require.Len(t, h.WritesOf("b"), 2)
	require.True(t, h.WritesOf("a")[1].Final)
	require.Equal(t, int64(99), h.WritesOf("b")[1].Value)
}

func TestPredicateMatch(t *testing.T) {
	gt := Predicate{Kind: PredGreater, Arg: 30}
	require.True(t, gt.Match(true, 40))
	require.False(t, gt.Match(true, 30))
	require.False(t, gt.Match(false, 40))

	lt := Predicate{Kind: PredLess, Arg: 5}
	require.True(t, lt.Match(true, 4))
	require.False(t, lt.Match(true, 5))

	eq := Predicate{Kind: PredEqual, Arg: 7}
	require.True(t, eq.Match(true, 7))
	require.False(t, eq.Match(true, 8))

	require.False(t, Predicate{}.Match(true, 1))
}
