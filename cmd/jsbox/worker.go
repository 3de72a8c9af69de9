package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

// workerCmd is started by the process sandbox, one process per execution.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single sandboxed program read from stdin",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if code := sandbox.ServeWorker(os.Stdin, os.Stdout); code != 0 {
			return exitError{code: code}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
