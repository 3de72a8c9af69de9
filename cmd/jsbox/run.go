package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Execute a JavaScript program and print the outcome",
	Long: `Execute a program once and print the outcome JSON, exactly as POST /run_js
would return it. The source is read from the file, or from stdin when the
argument is "-" or missing. The exit status is 1 when the program fails.

Examples:
  jsbox run script.js
  echo 'return 1+1' | jsbox run
  jsbox run --url http://localhost:8081/run_js script.js`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&urlFlag, "url", "", "Run on a remote /run_js endpoint instead of locally")
	rootCmd.AddCommand(runCmd)
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	code, err := readSource(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := sandboxFor(cfg, urlFlag).Run(ctx, sandbox.Request{Code: code})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return err
	}
	if out.Failed {
		return exitError{code: 1}
	}
	return nil
}
