package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pingcap/isocheck/pkg/logger"
)

func main() {
	logger.InitGlobalLogger("./isocheck.log")

	var rootCmd = &cobra.Command{
		Use:          "isocheck",
		Short:        "A black-box isolation checker for SQL databases",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newTestIsolationCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
