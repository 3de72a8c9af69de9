package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt; each line runs as its own program",
	Long: `Start an interactive prompt. Every line is executed as a separate program
in a fresh sandbox, so nothing carries over between lines. Use return to
produce a result.

Examples:
  jsbox repl
  jsbox repl --url http://localhost:8081/run_js`,
	Args: cobra.NoArgs,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().StringVar(&urlFlag, "url", "", "Run on a remote /run_js endpoint instead of locally")
	rootCmd.AddCommand(replCmd)
}

func historyFile(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".jsbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, name)
}

func runREPL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sb := sandboxFor(cfg, urlFlag)

	fmt.Printf("jsbox %s - each line runs in a fresh sandbox (timeout %s)\n", version, cfg.Sandbox.Timeout)
	fmt.Printf("Type .help for commands, .exit to quit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mjs>\033[0m ",
		HistoryFile:     historyFile("repl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C while a program runs cancels it; at the prompt it exits.
	var runCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if runCancel != nil {
				runCancel()
			}
		}
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ".exit", ".quit":
			return nil
		case ".help":
			fmt.Println("Commands:")
			fmt.Println("  .help  - Show this help")
			fmt.Println("  .exit  - Exit")
			fmt.Println("Anything else is run as a function body, e.g. return [1, 2].map(x => x * 2)")
			fmt.Println()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		runCancel = cancel
		out := sb.Run(ctx, sandbox.Request{
			Code: line,
			OnLog: func(entry string) {
				fmt.Printf("\033[90m%s\033[0m\n", entry)
			},
		})
		cancel()
		runCancel = nil

		printOutcome(out)
	}
}

func printOutcome(out *sandbox.Outcome) {
	if out.Failed {
		fmt.Printf("\033[31m%s\033[0m\n", out.Error)
		return
	}
	fmt.Printf("\033[32m=>\033[0m %s\n", out.Result)
}
