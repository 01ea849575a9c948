package db

import (
	"context"

	"github.com/pingcap/isocheck/pkg/history"
	"github.com/pingcap/isocheck/pkg/isolation"
)

// Conn is one transactional connection to the database under test. The
// adapter translates abstract operations into native SQL and reports
// per-transaction outcomes truthfully; the analysis core never calls it.
type Conn interface {
	// Begin starts a transaction at the given isolation level.
	Begin(ctx context.Context, level isolation.Level) error
	// Execute runs op inside the current transaction and returns a copy with
	// the observed result fields populated.
	Execute(ctx context.Context, op history.Op) (history.Op, error)
	// Commit ends the transaction, reporting the outcome actually observed:
	// OutcomeUnknown when the acknowledgement was lost.
	Commit(ctx context.Context) history.Outcome
	// Rollback aborts the transaction.
	Rollback(ctx context.Context) history.Outcome
	// Close releases the connection.
	Close() error
}
