package generator

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/ngaut/log"
	"go.uber.org/atomic"

	"github.com/pingcap/isocheck/pkg/db"
	"github.com/pingcap/isocheck/pkg/history"
	"github.com/pingcap/isocheck/pkg/nemesis"
)

// Generator dispatches planned transactions over multiple connections in
// parallel and records their operations, results and outcomes. The analysis
// core only ever sees the History it produces.
type Generator struct {
	cfg   Config
	conns []db.Conn

	txns []history.Transaction
	mu   sync.Mutex
	done atomic.Int64
}

// New builds a generator over the given connections. Setup of the schema and
// initial values is the caller's concern (see db.MySQLConn.Setup).
func New(cfg Config, conns []db.Conn) *Generator {
	return &Generator{cfg: cfg, conns: conns}
}

// Run executes the workload and returns the complete history. Every
// transaction started ends with a recorded outcome. When historyFile is
// non-empty the history is also persisted as it is produced.
func (g *Generator) Run(ctx context.Context, seed int64, historyFile string) (*history.History, error) {
	p := newPlanner(g.cfg, seed)
	initial := p.initialValues()
	plans := p.plan()

	var recorder *history.Recorder
	if historyFile != "" {
		var err error
		recorder, err = history.NewRecorder(historyFile, initial)
		if err != nil {
			return nil, err
		}
		defer recorder.Close()
	}

	log.Infof("[generator]: starting %d transactions over %d connections (seed %d)",
		len(plans), len(g.conns), seed)

	queue := make(chan txnPlan, len(plans))
	for _, plan := range plans {
		queue <- plan
	}
	close(queue)

	nemesisCtx, stopNemesis := context.WithCancel(ctx)
	var nemesisWg sync.WaitGroup
	if g.cfg.Nemesis != "" && g.cfg.Nemesis != "noop" {
		n := nemesis.Get(g.cfg.Nemesis)
		if n == nil {
			stopNemesis()
			return nil, errors.Errorf("unknown nemesis %q", g.cfg.Nemesis)
		}
		nemesisWg.Add(1)
		go func() {
			defer nemesisWg.Done()
			nemesis.Run(nemesisCtx, n, g.cfg.NemesisInterval)
		}()
	}

	var wg sync.WaitGroup
	for i, conn := range g.conns {
		wg.Add(1)
		go func(connID int, conn db.Conn) {
			defer wg.Done()
			g.connectionWork(ctx, connID, conn, queue, recorder)
		}(i, conn)
	}
	wg.Wait()
	stopNemesis()
	nemesisWg.Wait()

	// quiescent final reads, on one connection with nothing concurrent
	final := g.runTxn(ctx, 0, g.conns[0], p.finalPlan(len(plans)+1))
	g.record(recorder, final)

	log.Infof("[generator]: finished, %d transactions recorded", g.done.Load()+1)

	g.mu.Lock()
	defer g.mu.Unlock()
	return history.New(g.txns, initial)
}

func (g *Generator) connectionWork(ctx context.Context, connID int, conn db.Conn, queue <-chan txnPlan, recorder *history.Recorder) {
	for plan := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t := g.runTxn(ctx, connID, conn, plan)
		g.record(recorder, t)
		if n := g.done.Inc(); n%50 == 0 {
			log.Infof("[conn %d]: %d transactions done", connID, n)
		}
	}
}

// runTxn executes one planned transaction and reports exactly what was
// observed: operations that never ran are dropped, errors abort, and a lost
// commit acknowledgement leaves the outcome unknown.
func (g *Generator) runTxn(ctx context.Context, connID int, conn db.Conn, plan txnPlan) history.Transaction {
	t := history.Transaction{ID: plan.id, Start: time.Now().UnixNano()}

	if err := conn.Begin(ctx, g.cfg.Level); err != nil {
		log.Warnf("[conn %d]: begin T%d failed: %v", connID, plan.id, err)
		t.Outcome = history.OutcomeAborted
		return t
	}

	for _, op := range plan.ops {
		observed, err := conn.Execute(ctx, op)
		if err != nil {
			log.Warnf("[conn %d]: T%d op %d failed, rolling back: %v", connID, plan.id, op.Seq, err)
			t.Outcome = conn.Rollback(ctx)
			return t
		}
		t.Ops = append(t.Ops, observed)
	}

	if plan.abort {
		t.Outcome = conn.Rollback(ctx)
		return t
	}
	t.Outcome = conn.Commit(ctx)
	if t.Outcome == history.OutcomeCommitted {
		t.End = time.Now().UnixNano()
	}
	return t
}

func (g *Generator) record(recorder *history.Recorder, t history.Transaction) {
	g.mu.Lock()
	g.txns = append(g.txns, t)
	g.mu.Unlock()
	if recorder != nil {
		if err := recorder.Record(t); err != nil {
			log.Errorf("[generator]: record T%d failed: %v", t.ID, err)
		}
	}
}
