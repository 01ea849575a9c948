package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/pingcap/isocheck/pkg/isolation"
)

func newTestIsolationCmd() *cobra.Command {
	genFlags := newGenerateFlags()
	chkFlags := newCheckFlags()
	var output string

	cmd := &cobra.Command{
		Use:   "test-isolation [flags] <isolation-level>",
		Short: "Run a workload and immediately check the recorded history",
		Long: `Runs an SQL workload under the given isolation level, then checks the
recorded history against the target isolation level (-i). By default the
target is the level the workload ran at.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := isolation.Parse(args[0])
			if err != nil {
				return err
			}
			genFlags.cfg.Level = level
			if !cmd.Flags().Changed("isolation") {
				chkFlags.targetIsolation = args[0]
			}
			if err := genFlags.loadConfig(cmd); err != nil {
				return err
			}

			h, err := genFlags.runWorkload(context.Background(), output)
			if err != nil {
				return err
			}
			if genFlags.verbose {
				printHistory(h)
				chkFlags.verbose = true
			}
			found, err := chkFlags.run(h)
			if err != nil {
				return err
			}
			if found && chkFlags.failOnAnomaly {
				os.Exit(1)
			}
			return nil
		},
	}
	genFlags.setFlags(cmd)
	chkFlags.setSharedFlags(cmd)
	cmd.Flags().BoolVar(&chkFlags.failOnAnomaly, "fail", false, "exit non-zero when anomalies are found")
	cmd.Flags().StringVarP(&output, "output", "o", "", "save the recorded history to a file")
	return cmd
}
