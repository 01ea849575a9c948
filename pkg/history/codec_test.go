package history

import (
	"bytes"
	"io/ioutil"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHistory(t *testing.T) *History {
	h, err := New([]Transaction{
		{ID: 1, Outcome: OutcomeCommitted, Start: 100, End: 200, Ops: []Op{
			write(0, "x", 1),
			{Seq: 1, Kind: OpRead, Key: "y", Found: false},
		}},
		{ID: 2, Outcome: OutcomeAborted, Start: 150, Ops: []Op{
			write(0, "x", 2),
		}},
		{ID: 3, Outcome: OutcomeCommitted, Ops: []Op{
			{Seq: 0, Kind: OpPredicateRead, Pred: Predicate{Kind: PredGreater, Arg: 0},
				Rows: []Row{{Key: "x", Value: 1}}},
			{Seq: 2, Kind: OpPredicateWrite, Pred: Predicate{Kind: PredLess, Arg: 9},
				Value: 3, Rows: []Row{{Key: "x", Value: 3}}},
		}},
		{ID: 4, Outcome: OutcomeUnknown},
	}, map[string]int64{"x": 0})
	require.NoError(t, err)
	return h
}

func TestCodecRoundTrip(t *testing.T) {
	h := sampleHistory(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h))

	got, err := Decode(&buf)
	require.NoError(t, err)

	require.Equal(t, h.InitialValues(), got.InitialValues())
	require.Equal(t, h.Len(), got.Len())
	for _, ref := range h.Transactions() {
		want, have := h.Txn(ref), got.Txn(ref)
		require.Equal(t, want.ID, have.ID)
		require.Equal(t, want.Outcome, have.Outcome)
		require.Equal(t, want.Start, have.Start)
		require.Equal(t, want.End, have.End)
		require.Equal(t, want.Ops, have.Ops)
	}
}

func TestReadWriteFile(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "isocheck")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	name := path.Join(tmpDir, "history.log")
	h := sampleHistory(t)
	require.NoError(t, WriteFile(name, h))

	got, err := ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, h.Len(), got.Len())
}

func TestDecodeEmptyFile(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestRecorder(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "isocheck")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	name := path.Join(tmpDir, "history.log")
	r, err := NewRecorder(name, map[string]int64{"x": 0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs <- r.Record(Transaction{
				ID: id, Outcome: OutcomeCommitted,
				Ops: []Op{write(0, "x", int64(id))},
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	inMemory, err := r.History()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	fromDisk, err := ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, inMemory.Len(), fromDisk.Len())
	require.Equal(t, 9, fromDisk.Len())
}
