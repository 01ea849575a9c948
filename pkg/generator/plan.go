package generator

import (
	"fmt"
	"math/rand"

	"github.com/pingcap/isocheck/pkg/history"
)

// txnPlan is one transaction the workers will execute: the operation list
// with pre-assigned write values, and whether it deliberately rolls back.
type txnPlan struct {
	id    int
	ops   []history.Op
	abort bool
}

// planner produces deterministic transaction plans from a seeded PRNG. Write
// values come from one monotonic counter, so every written value is globally
// unique and a recorded read pins exactly one producing write.
type planner struct {
	rnd     *rand.Rand
	cfg     Config
	keys    []string
	counter int64
}

func newPlanner(cfg Config, seed int64) *planner {
	p := &planner{rnd: rand.New(rand.NewSource(seed)), cfg: cfg}
	for i := 0; i < cfg.Objects; i++ {
		p.keys = append(p.keys, fmt.Sprintf("obj_%d", i))
	}
	return p
}

// initialValues gives every object the value zero before the workload; the
// write counter starts above it.
func (p *planner) initialValues() map[string]int64 {
	values := make(map[string]int64, len(p.keys))
	for _, k := range p.keys {
		values[k] = 0
	}
	return values
}

// InitialValues returns the initial row set the workload assumes; the caller
// installs it before running (see db.MySQLConn.Setup).
func InitialValues(cfg Config) map[string]int64 {
	return newPlanner(cfg, 0).initialValues()
}

func (p *planner) nextValue() int64 {
	p.counter++
	return p.counter
}

// plan generates the whole workload up front, the way the transaction queue
// is filled before the workers start.
func (p *planner) plan() []txnPlan {
	plans := make([]txnPlan, 0, p.cfg.Transactions)
	for id := 1; id <= p.cfg.Transactions; id++ {
		plans = append(plans, p.planTxn(id))
	}
	return plans
}

func (p *planner) planTxn(id int) txnPlan {
	t := txnPlan{id: id, abort: p.rnd.Float64() < p.cfg.AbortRate}
	size := p.cfg.MinOps + p.rnd.Intn(p.cfg.MaxOps-p.cfg.MinOps+1)

	seq := 0
	add := func(op history.Op) {
		op.Seq = seq
		seq++
		t.ops = append(t.ops, op)
	}

	for i := 0; i < size; i++ {
		r := p.rnd.Float64()
		switch {
		case r < p.cfg.WriteRate:
			// read-modify-write on one object
			key := p.pickKey()
			add(history.Op{Kind: history.OpRead, Key: key})
			add(history.Op{Kind: history.OpWrite, Key: key, Value: p.nextValue()})
		case r < p.cfg.WriteRate+p.cfg.PredicateReadRate:
			add(history.Op{Kind: history.OpPredicateRead, Pred: p.pickPredicate()})
		case r < p.cfg.WriteRate+p.cfg.PredicateReadRate+p.cfg.PredicateWriteRate:
			add(history.Op{Kind: history.OpPredicateWrite, Pred: p.pickPredicate(), Value: p.nextValue()})
		default:
			add(history.Op{Kind: history.OpRead, Key: p.pickKey()})
		}
	}
	return t
}

func (p *planner) pickKey() string {
	return p.keys[p.rnd.Intn(len(p.keys))]
}

// pickPredicate skews thresholds toward recently written values so match sets
// stay small, which is what produces predicate antidependencies.
func (p *planner) pickPredicate() history.Predicate {
	lo := int64(float64(p.counter) * 0.85)
	hi := int64(float64(p.counter)*1.35) + 1
	arg := lo + p.rnd.Int63n(hi-lo+1)
	return history.Predicate{Kind: history.PredGreater, Arg: arg}
}

// finalPlan reads every object once the workload has quiesced.
func (p *planner) finalPlan(id int) txnPlan {
	t := txnPlan{id: id}
	for i, key := range p.keys {
		t.ops = append(t.ops, history.Op{Seq: i, Kind: history.OpRead, Key: key})
	}
	return t
}
