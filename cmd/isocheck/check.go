package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pingcap/isocheck/pkg/checker"
	"github.com/pingcap/isocheck/pkg/history"
	"github.com/pingcap/isocheck/pkg/isolation"
)

type checkFlags struct {
	targetIsolation string
	failOnAnomaly   bool
	limit           int
	graph           string
	fullGraph       bool
	separateCycles  bool
	verbose         bool
	setFlags        func(*cobra.Command)
	setSharedFlags  func(*cobra.Command)
}

func newCheckFlags() *checkFlags {
	c := &checkFlags{}
	// shared flags are also registered on test-isolation, which claims -t and
	// -v for the workload side
	c.setSharedFlags = func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&c.targetIsolation, "isolation", "i", "serializable", "isolation level the history is checked against")
		cmd.Flags().IntVarP(&c.limit, "limit", "l", 0, "limit the number of anomalies reported; 0 means no limit")
		cmd.Flags().StringVarP(&c.graph, "graph", "g", "", "filename for a graph in DOT format (.svg renders an image)")
		cmd.Flags().BoolVar(&c.fullGraph, "full-graph", false, "draw the full graph, not just the cycles")
		cmd.Flags().BoolVarP(&c.separateCycles, "separate-cycles", "s", false, "also write each cycle to <n>_<graph>")
	}
	c.setFlags = func(cmd *cobra.Command) {
		c.setSharedFlags(cmd)
		cmd.Flags().BoolVarP(&c.failOnAnomaly, "treat-anomalies-as-failure", "t", false, "exit non-zero when anomalies are found")
		cmd.Flags().BoolVarP(&c.verbose, "verbose", "v", false, "print history and full anomaly explanations")
	}
	return c
}

// run checks a history and prints the report. It returns whether anomalies
// were found; operational errors come back as error.
func (c *checkFlags) run(h *history.History) (bool, error) {
	level, err := isolation.Parse(c.targetIsolation)
	if err != nil {
		return false, err
	}

	report, err := checker.Check(h, checker.Options{
		Level:          level,
		MaxAnomalies:   c.limit,
		GraphOutput:    c.graph,
		FullGraph:      c.fullGraph,
		SeparateCycles: c.separateCycles,
	})
	if err != nil {
		return false, err
	}

	if c.verbose {
		for i := range report.Anomalies {
			fmt.Println(report.Anomalies[i].Explain(h))
		}
	}
	fmt.Println(report.Summary(h))
	return len(report.Anomalies) > 0, nil
}

func newCheckCmd() *cobra.Command {
	flags := newCheckFlags()
	cmd := &cobra.Command{
		Use:   "check [flags] <history-file>",
		Short: "Verify a recorded history against an isolation level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := history.ReadFile(args[0])
			if err != nil {
				return err
			}
			if flags.verbose {
				printHistory(h)
			}
			found, err := flags.run(h)
			if err != nil {
				return err
			}
			if found && flags.failOnAnomaly {
				os.Exit(1)
			}
			return nil
		},
	}
	flags.setFlags(cmd)
	return cmd
}
