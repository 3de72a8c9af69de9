package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFlag string
	urlFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "jsbox",
	Short: "jsbox - sandboxed JavaScript execution service",
	Long: `jsbox runs untrusted JavaScript in an isolated engine with a wall-clock
timeout and returns the result together with the captured console output.

It serves the POST /run_js HTTP endpoint, runs programs from the command line,
and exposes the same sandbox as an MCP tool and to an LLM agent.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./jsbox.yaml or ~/.jsbox/jsbox.yaml)")
}

// exitError ends the process with a status code and no message.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
