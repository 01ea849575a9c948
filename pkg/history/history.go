package history

import (
	"fmt"
	"sort"

	"github.com/juju/errors"
)

// Outcome is the terminal state of a transaction as observed by the client.
type Outcome int8

// Outcome enums
const (
	OutcomeUnknown Outcome = iota
	OutcomeCommitted
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// OpKind enumerates the closed family of operations.
type OpKind int8

// OpKind enums
const (
	OpRead OpKind = iota
	OpWrite
	OpPredicateRead
	OpPredicateWrite
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpPredicateRead:
		return "predicate-read"
	case OpPredicateWrite:
		return "predicate-write"
	default:
		return fmt.Sprintf("op(%d)", int8(k))
	}
}

// Row is an observed (key, value) pair, e.g. one row of a predicate read
// result set or one row updated by a predicate write.
type Row struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// Op is a single operation inside a transaction. The populated fields depend
// on Kind:
//
//	OpRead           Key; Found, Value record the observed result
//	OpWrite          Key, Value
//	OpPredicateRead  Pred; Rows records the observed result set
//	OpPredicateWrite Pred, Value; Rows records the rows actually updated,
//	                 each carrying the installed value
type Op struct {
	Seq   int       `json:"seq"`
	Kind  OpKind    `json:"kind"`
	Key   string    `json:"key,omitempty"`
	Value int64     `json:"value,omitempty"`
	Found bool      `json:"found,omitempty"`
	Pred  Predicate `json:"pred,omitempty"`
	Rows  []Row     `json:"rows,omitempty"`
}

func (op Op) String() string {
	switch op.Kind {
	case OpRead:
		if !op.Found {
			return fmt.Sprintf("r(%s) -> nil", op.Key)
		}
		return fmt.Sprintf("r(%s) -> %d", op.Key, op.Value)
	case OpWrite:
		return fmt.Sprintf("w(%s, %d)", op.Key, op.Value)
	case OpPredicateRead:
		return fmt.Sprintf("pr(%s) -> %v", op.Pred, op.Rows)
	case OpPredicateWrite:
		return fmt.Sprintf("pw(%s, %d) -> %v", op.Pred, op.Value, op.Rows)
	default:
		return "op(?)"
	}
}

// Transaction is an ordered list of operations plus a terminal outcome.
// Start and End are optional wall-clock stamps in unix nanoseconds supplied by
// the adapter; zero means absent. They are used only for rendering and
// tie-breaking, never for correctness.
type Transaction struct {
	ID      int     `json:"id"`
	Outcome Outcome `json:"outcome"`
	Start   int64   `json:"start,omitempty"`
	End     int64   `json:"end,omitempty"`
	Ops     []Op    `json:"ops"`
}

func (t *Transaction) String() string {
	s := fmt.Sprintf("T%d(%s):", t.ID, t.Outcome)
	for _, op := range t.Ops {
		s += " " + op.String()
	}
	return s
}

// TxnRef is an opaque handle to a transaction: an index into the history
// arena. Equality is handle identity.
type TxnRef int

// OpRef is an opaque handle to an operation.
type OpRef struct {
	Txn   TxnRef
	Index int
}

// Write is one write instance: an item write, one row effect of a predicate
// write, or one of the initial transaction's conventional writes.
type Write struct {
	Op    OpRef
	Txn   TxnRef
	Key   string
	Value int64
	// Final reports whether this is the last write of Key by its transaction.
	Final bool
}

// InitialTxnID is the conventional id of the initial transaction. Recorded
// transactions must use ids >= 1.
const InitialTxnID = 0

// History is an immutable record of all transactions plus the conventional
// initial transaction, with a query surface for downstream analysis.
type History struct {
	txns    []Transaction
	byID    map[int]TxnRef
	initial map[string]int64

	keys        []string
	writesByKey map[string][]Write
	readsByKey  map[string][]OpRef
}

// New validates txns, synthesizes the initial transaction from the initial
// value map, and builds the query indexes. Objects absent from initial start
// with no row. The input slices are copied; the History never mutates after
// construction.
func New(txns []Transaction, initial map[string]int64) (*History, error) {
	h := &History{
		byID:        make(map[int]TxnRef),
		initial:     make(map[string]int64, len(initial)),
		writesByKey: make(map[string][]Write),
		readsByKey:  make(map[string][]OpRef),
	}
	for k, v := range initial {
		h.initial[k] = v
	}

	sorted := make([]Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h.txns = append(h.txns, initialTxn(h.initial))
	h.txns = append(h.txns, sorted...)

	for i := range h.txns {
		t := &h.txns[i]
		if i > 0 {
			if t.ID < 1 {
				return nil, errors.Errorf("transaction id %d: recorded transactions must have id >= 1", t.ID)
			}
			if _, dup := h.byID[t.ID]; dup {
				return nil, errors.Errorf("duplicate transaction id %d", t.ID)
			}
		}
		if t.Outcome != OutcomeCommitted && t.Outcome != OutcomeAborted && t.Outcome != OutcomeUnknown {
			return nil, errors.Errorf("T%d: invalid outcome %d", t.ID, t.Outcome)
		}
		h.byID[t.ID] = TxnRef(i)

		seen := make(map[int]struct{}, len(t.Ops))
		lastSeq := -1
		for _, op := range t.Ops {
			if _, dup := seen[op.Seq]; dup {
				return nil, errors.Errorf("T%d: duplicate operation sequence number %d", t.ID, op.Seq)
			}
			seen[op.Seq] = struct{}{}
			if op.Seq < lastSeq {
				return nil, errors.Errorf("T%d: operation sequence numbers must be increasing", t.ID)
			}
			lastSeq = op.Seq
		}
	}

	h.index()
	return h, nil
}

// initialTxn builds the conventional T0 which wrote the initial value of
// every object, in key order so construction is deterministic.
func initialTxn(initial map[string]int64) Transaction {
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := Transaction{ID: InitialTxnID, Outcome: OutcomeCommitted}
	for i, k := range keys {
		t.Ops = append(t.Ops, Op{Seq: i, Kind: OpWrite, Key: k, Value: initial[k]})
	}
	return t
}

func (h *History) index() {
	keySet := make(map[string]struct{})
	for k := range h.initial {
		keySet[k] = struct{}{}
	}

	for i := range h.txns {
		t := &h.txns[i]
		ref := TxnRef(i)

		for j, op := range t.Ops {
			switch op.Kind {
			case OpRead:
				keySet[op.Key] = struct{}{}
				h.readsByKey[op.Key] = append(h.readsByKey[op.Key], OpRef{Txn: ref, Index: j})
			case OpWrite:
				keySet[op.Key] = struct{}{}
				h.writesByKey[op.Key] = append(h.writesByKey[op.Key], Write{
					Op: OpRef{Txn: ref, Index: j}, Txn: ref, Key: op.Key, Value: op.Value,
				})
			case OpPredicateRead:
				for _, row := range op.Rows {
					keySet[row.Key] = struct{}{}
				}
			case OpPredicateWrite:
				for _, row := range op.Rows {
					keySet[row.Key] = struct{}{}
					h.writesByKey[row.Key] = append(h.writesByKey[row.Key], Write{
						Op: OpRef{Txn: ref, Index: j}, Txn: ref, Key: row.Key, Value: row.Value,
					})
				}
			}
		}
	}

	// a transaction's last write to a key is the one it installs
	for key, writes := range h.writesByKey {
		last := make(map[TxnRef]int)
		for i := range writes {
			last[writes[i].Txn] = i
		}
		for _, i := range last {
			writes[i].Final = true
		}
		h.writesByKey[key] = writes
	}

	h.keys = make([]string, 0, len(keySet))
	for k := range keySet {
		h.keys = append(h.keys, k)
	}
	sort.Strings(h.keys)
}

// Initial returns the handle of the conventional initial transaction.
func (h *History) Initial() TxnRef { return 0 }

// InitialValue returns the initial value of key and whether the row existed
// before the workload.
func (h *History) InitialValue(key string) (int64, bool) {
	v, ok := h.initial[key]
	return v, ok
}

// InitialValues returns a copy of the initial value map.
func (h *History) InitialValues() map[string]int64 {
	m := make(map[string]int64, len(h.initial))
	for k, v := range h.initial {
		m[k] = v
	}
	return m
}

// Len returns the number of transactions, including the initial one.
func (h *History) Len() int { return len(h.txns) }

// Transactions returns handles of all transactions in id order, the initial
// transaction first.
func (h *History) Transactions() []TxnRef {
	refs := make([]TxnRef, len(h.txns))
	for i := range h.txns {
		refs[i] = TxnRef(i)
	}
	return refs
}

// Txn resolves a handle. The returned pointer is shared; callers must not
// mutate through it.
func (h *History) Txn(ref TxnRef) *Transaction { return &h.txns[ref] }

// Op resolves an operation handle.
func (h *History) Op(ref OpRef) Op { return h.txns[ref.Txn].Ops[ref.Index] }

// ByID returns the handle for a transaction id.
func (h *History) ByID(id int) (TxnRef, bool) {
	ref, ok := h.byID[id]
	return ref, ok
}

// Committed returns handles of all committed transactions in id order,
// including the initial transaction.
func (h *History) Committed() []TxnRef { return h.filter(OutcomeCommitted) }

// Aborted returns handles of all aborted transactions in id order.
func (h *History) Aborted() []TxnRef { return h.filter(OutcomeAborted) }

func (h *History) filter(o Outcome) []TxnRef {
	var refs []TxnRef
	for i := range h.txns {
		if h.txns[i].Outcome == o {
			refs = append(refs, TxnRef(i))
		}
	}
	return refs
}

// Keys returns all object keys touched by the history, sorted.
func (h *History) Keys() []string { return h.keys }

// WritesOf returns every write instance to key in history order (initial
// transaction first, then recorded transactions by id, operations in sequence
// order). Predicate writes contribute one instance per updated row.
func (h *History) WritesOf(key string) []Write { return h.writesByKey[key] }

// ReadsOf returns every item read of key in history order.
func (h *History) ReadsOf(key string) []OpRef { return h.readsByKey[key] }

// OperationAt returns the operation with the given per-transaction sequence
// number.
func (h *History) OperationAt(ref TxnRef, seq int) (OpRef, bool) {
	for j, op := range h.txns[ref].Ops {
		if op.Seq == seq {
			return OpRef{Txn: ref, Index: j}, true
		}
	}
	return OpRef{}, false
}
