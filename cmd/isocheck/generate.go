package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/pingcap/isocheck/pkg/db"
	"github.com/pingcap/isocheck/pkg/generator"
	"github.com/pingcap/isocheck/pkg/history"
	"github.com/pingcap/isocheck/pkg/isolation"
)

type generateFlags struct {
	config   string
	nodes    []string
	user     string
	password string
	database string
	verbose  bool
	seed     int64
	cfg      generator.Config
	setFlags func(*cobra.Command)
}

func newGenerateFlags() *generateFlags {
	g := &generateFlags{cfg: generator.DefaultConfig()}
	g.setFlags = func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&g.config, "config", "", "TOML workload config file; flags win over file values")
		cmd.Flags().StringSliceVar(&g.nodes, "nodes", []string{"127.0.0.1:3306"}, "database hosts, format <hostname:port>")
		cmd.Flags().StringVar(&g.user, "user", "root", "database user")
		cmd.Flags().StringVar(&g.password, "password", "", "database password")
		cmd.Flags().StringVar(&g.database, "database", "test", "database name")
		cmd.Flags().IntVarP(&g.cfg.Transactions, "transactions", "t", g.cfg.Transactions, "number of transactions")
		cmd.Flags().IntVarP(&g.cfg.Objects, "objects", "n", g.cfg.Objects, "number of objects")
		cmd.Flags().IntVarP(&g.cfg.Connections, "connections", "c", g.cfg.Connections, "number of connections")
		cmd.Flags().Float64VarP(&g.cfg.AbortRate, "abort-rate", "a", g.cfg.AbortRate, "abort rate of the transactions")
		cmd.Flags().Float64VarP(&g.cfg.WriteRate, "write-rate", "w", g.cfg.WriteRate, "write rate of the operations")
		cmd.Flags().Float64Var(&g.cfg.PredicateReadRate, "predicate-read-rate", g.cfg.PredicateReadRate, "predicate read rate of the operations")
		cmd.Flags().Float64Var(&g.cfg.PredicateWriteRate, "predicate-write-rate", g.cfg.PredicateWriteRate, "predicate write rate of the operations")
		cmd.Flags().BoolVar(&g.cfg.ForUpdate, "for-update", false, "add FOR UPDATE clause to SELECTs")
		cmd.Flags().StringVar(&g.cfg.Nemesis, "nemesis", "", "fault injector to run during the workload")
		cmd.Flags().Int64Var(&g.seed, "seed", 0, "seed for the workload PRNG; 0 uses the config file's seed, else draws one from the clock")
		cmd.Flags().BoolVarP(&g.verbose, "verbose", "v", false, "print history to stdout")
	}
	return g
}

// loadConfig merges a config file under flags set explicitly on the command
// line.
func (g *generateFlags) loadConfig(cmd *cobra.Command) error {
	if g.config == "" {
		return nil
	}
	fileCfg, err := generator.LoadConfig(g.config)
	if err != nil {
		return err
	}
	flagCfg := g.cfg
	fileCfg.Level = flagCfg.Level
	changed := cmd.Flags().Changed
	if changed("transactions") {
		fileCfg.Transactions = flagCfg.Transactions
	}
	if changed("objects") {
		fileCfg.Objects = flagCfg.Objects
	}
	if changed("connections") {
		fileCfg.Connections = flagCfg.Connections
	}
	if changed("abort-rate") {
		fileCfg.AbortRate = flagCfg.AbortRate
	}
	if changed("write-rate") {
		fileCfg.WriteRate = flagCfg.WriteRate
	}
	if changed("predicate-read-rate") {
		fileCfg.PredicateReadRate = flagCfg.PredicateReadRate
	}
	if changed("predicate-write-rate") {
		fileCfg.PredicateWriteRate = flagCfg.PredicateWriteRate
	}
	if changed("for-update") {
		fileCfg.ForUpdate = flagCfg.ForUpdate
	}
	if changed("nemesis") {
		fileCfg.Nemesis = flagCfg.Nemesis
	}
	g.cfg = fileCfg
	return nil
}

// runWorkload opens the connections, installs the schema and runs the
// generator.
func (g *generateFlags) runWorkload(ctx context.Context, historyFile string) (*history.History, error) {
	if err := g.cfg.Validate(); err != nil {
		return nil, err
	}
	seed := g.seed
	if seed == 0 {
		seed = g.cfg.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	table := "iso_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	conns := make([]db.Conn, 0, g.cfg.Connections)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < g.cfg.Connections; i++ {
		addr := g.nodes[i%len(g.nodes)]
		if len(strings.Split(strings.TrimSpace(addr), ":")) != 2 {
			return nil, errors.Errorf("node addresses need to be of the form <ip>:<port>: %s", addr)
		}
		conn, err := db.OpenMySQL(ctx, strings.TrimSpace(addr), db.MySQLOptions{
			User:      g.user,
			Password:  g.password,
			Database:  g.database,
			Table:     table,
			ForUpdate: g.cfg.ForUpdate,
		})
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	first := conns[0].(*db.MySQLConn)
	if err := first.Setup(ctx, generator.InitialValues(g.cfg)); err != nil {
		return nil, err
	}
	defer first.Teardown(context.Background())

	return generator.New(g.cfg, conns).Run(ctx, seed, historyFile)
}

func newGenerateCmd() *cobra.Command {
	flags := newGenerateFlags()
	cmd := &cobra.Command{
		Use:   "generate [flags] <isolation-level> <output>",
		Short: "Run an SQL workload under an isolation level and record its history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := isolation.Parse(args[0])
			if err != nil {
				return err
			}
			flags.cfg.Level = level
			if err := flags.loadConfig(cmd); err != nil {
				return err
			}

			h, err := flags.runWorkload(context.Background(), args[1])
			if err != nil {
				return err
			}
			if flags.verbose {
				printHistory(h)
			}
			fmt.Printf("history of %d transactions written to %s\n", h.Len()-1, args[1])
			return nil
		},
	}
	flags.setFlags(cmd)
	return cmd
}

func printHistory(h *history.History) {
	for _, ref := range h.Transactions() {
		if ref == h.Initial() {
			continue
		}
		fmt.Println(h.Txn(ref).String())
	}
}
