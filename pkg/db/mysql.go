package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jpillora/backoff"
	"github.com/juju/errors"
	"github.com/ngaut/log"

	"github.com/pingcap/isocheck/pkg/history"
	"github.com/pingcap/isocheck/pkg/isolation"
)

// MySQLConn drives one connection against a MySQL-compatible database. Each
// workload object is one row of a (k, v) table addressed by primary key.
type MySQLConn struct {
	db        *sql.DB
	conn      *sql.Conn
	txn       *sql.Tx
	table     string
	forUpdate bool
}

// MySQLOptions configures OpenMySQL.
type MySQLOptions struct {
	User      string
	Password  string
	Database  string
	Table     string
	ForUpdate bool
}

// OpenMySQL dials addr (host:port) and pins one connection, retrying with
// backoff until the server answers or the context expires.
func OpenMySQL(ctx context.Context, addr string, opts MySQLOptions) (*MySQLConn, error) {
	user := opts.User
	if user == "" {
		user = "root"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?interpolateParams=true", user, opts.Password, addr, opts.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	db.SetMaxOpenConns(1)

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 5 * time.Second, Jitter: true}
	for {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		d := b.Duration()
		log.Warnf("ping %s failed, retry in %s: %v", addr, d, err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, errors.Annotatef(ctx.Err(), "dial %s", addr)
		case <-time.After(d):
		}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	return &MySQLConn{db: db, conn: conn, table: opts.Table, forUpdate: opts.ForUpdate}, nil
}

// Setup creates the workload table and installs the initial values. Run once,
// before any concurrent transaction.
func (c *MySQLConn) Setup(ctx context.Context, initial map[string]int64) error {
	stmts := []string{
		fmt.Sprintf("create table if not exists %s (k varchar(64) not null, v bigint not null, primary key (k))", c.table),
		fmt.Sprintf("truncate table %s", c.table),
	}
	for _, stmt := range stmts {
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			return errors.Annotate(err, "setup table")
		}
	}
	for k, v := range initial {
		if _, err := c.conn.ExecContext(ctx,
			fmt.Sprintf("insert into %s (k, v) values (?, ?)", c.table), k, v); err != nil {
			return errors.Annotatef(err, "install initial value of %s", k)
		}
	}
	return nil
}

// Teardown drops the workload table.
func (c *MySQLConn) Teardown(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, fmt.Sprintf("drop table if exists %s", c.table))
	return errors.Trace(err)
}

// Begin impls Conn.
func (c *MySQLConn) Begin(ctx context.Context, level isolation.Level) error {
	if _, err := c.conn.ExecContext(ctx,
		fmt.Sprintf("set transaction isolation level %s", level.SQL())); err != nil {
		return errors.Trace(err)
	}
	txn, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	c.txn = txn
	return nil
}

// Execute impls Conn.
func (c *MySQLConn) Execute(ctx context.Context, op history.Op) (history.Op, error) {
	if c.txn == nil {
		return op, errors.New("no transaction in progress")
	}
	switch op.Kind {
	case history.OpRead:
		query := fmt.Sprintf("select v from %s where k = ?", c.table) + c.lockSuffix()
		err := c.txn.QueryRowContext(ctx, query, op.Key).Scan(&op.Value)
		if err == sql.ErrNoRows {
			op.Found = false
			return op, nil
		}
		if err != nil {
			return op, errors.Trace(err)
		}
		op.Found = true
		return op, nil

	case history.OpWrite:
		_, err := c.txn.ExecContext(ctx,
			fmt.Sprintf("insert into %s (k, v) values (?, ?) on duplicate key update v = ?", c.table),
			op.Key, op.Value, op.Value)
		return op, errors.Trace(err)

	case history.OpPredicateRead:
		query := fmt.Sprintf("select k, v from %s where %s order by k",
			c.table, op.Pred.SQL("v")) + c.lockSuffix()
		rows, err := c.txn.QueryContext(ctx, query)
		if err != nil {
			return op, errors.Trace(err)
		}
		defer rows.Close()
		op.Rows = nil
		for rows.Next() {
			var row history.Row
			if err := rows.Scan(&row.Key, &row.Value); err != nil {
				return op, errors.Trace(err)
			}
			op.Rows = append(op.Rows, row)
		}
		return op, errors.Trace(rows.Err())

	case history.OpPredicateWrite:
		// lock and note the rows first so the recorded effect is exact
		query := fmt.Sprintf("select k from %s where %s order by k for update", c.table, op.Pred.SQL("v"))
		rows, err := c.txn.QueryContext(ctx, query)
		if err != nil {
			return op, errors.Trace(err)
		}
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return op, errors.Trace(err)
			}
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return op, errors.Trace(err)
		}
		if len(keys) > 0 {
			placeholders := strings.Repeat(",?", len(keys))[1:]
			args := []interface{}{op.Value}
			for _, k := range keys {
				args = append(args, k)
			}
			if _, err := c.txn.ExecContext(ctx,
				fmt.Sprintf("update %s set v = ? where k in (%s)", c.table, placeholders), args...); err != nil {
				return op, errors.Trace(err)
			}
		}
		op.Rows = nil
		for _, k := range keys {
			op.Rows = append(op.Rows, history.Row{Key: k, Value: op.Value})
		}
		return op, nil

	default:
		return op, errors.Errorf("unsupported operation kind %s", op.Kind)
	}
}

func (c *MySQLConn) lockSuffix() string {
	if c.forUpdate {
		return " for update"
	}
	return ""
}

// Commit impls Conn. A server-side rejection means the transaction aborted; a
// lost acknowledgement leaves the outcome unknown.
func (c *MySQLConn) Commit(ctx context.Context) history.Outcome {
	txn := c.txn
	c.txn = nil
	if txn == nil {
		return history.OutcomeUnknown
	}
	err := txn.Commit()
	if err == nil {
		return history.OutcomeCommitted
	}
	if _, ok := err.(*mysql.MySQLError); ok {
		return history.OutcomeAborted
	}
	log.Warnf("commit acknowledgement lost: %v", err)
	return history.OutcomeUnknown
}

// Rollback impls Conn.
func (c *MySQLConn) Rollback(ctx context.Context) history.Outcome {
	txn := c.txn
	c.txn = nil
	if txn == nil {
		return history.OutcomeAborted
	}
	if err := txn.Rollback(); err != nil {
		if _, ok := err.(*mysql.MySQLError); !ok {
			log.Warnf("rollback acknowledgement lost: %v", err)
			return history.OutcomeUnknown
		}
	}
	return history.OutcomeAborted
}

// Close impls Conn.
func (c *MySQLConn) Close() error {
	if c.txn != nil {
		c.txn.Rollback()
		c.txn = nil
	}
	c.conn.Close()
	return errors.Trace(c.db.Close())
}
