package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/jsbox/internal/agent"
	"github.com/michaelbrown/jsbox/internal/llm"
)

var modelFlag string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with an LLM that can search, call AI Pipe and run JavaScript",
	Long: `Start an interactive conversation with an OpenAI-compatible model whose
tools are search, aipipe and run_js. run_js calls execute in the local sandbox,
or on the endpoint given by --url or agent.sandbox_url (JS_SANDBOX_URL).
search needs SERPAPI_API_KEY, or GOOGLE_API_KEY with GOOGLE_CX; aipipe needs
AIPIPE_TOKEN. Without them the tools answer that they are not configured.

Examples:
  OPENAI_API_KEY=... jsbox agent
  jsbox agent --model gpt-4o --url http://localhost:8081/run_js`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&urlFlag, "url", "", "Run tool calls on a remote /run_js endpoint")
	agentCmd.Flags().StringVar(&modelFlag, "model", "", "Model to use (overrides config)")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if modelFlag != "" {
		cfg.Agent.Model = modelFlag
	}
	model := cfg.Agent.Model
	sandboxURL := cfg.Agent.SandboxURL
	if urlFlag != "" {
		sandboxURL = urlFlag
	}

	fmt.Printf("jsbox agent\n")
	fmt.Printf("Endpoint: %s | Model: %s\n", cfg.Agent.BaseURL, model)
	if sandboxURL != "" {
		fmt.Printf("Sandbox: %s\n", sandboxURL)
	} else {
		fmt.Printf("Sandbox: local (%s)\n", cfg.Sandbox.Isolation)
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	client := llm.NewClient(cfg.Agent.BaseURL, cfg.Agent.APIKey, model)
	a := agent.New(client, sandboxFor(cfg, sandboxURL), cfg.Agent.MaxIterations, cfg.Agent.Tools()...)

	a.OnTextDelta = func(delta string) {
		fmt.Print(delta)
	}
	a.OnToolCall = func(name string, args map[string]any) {
		fmt.Printf("\n  \033[33m⚡ Tool: %s\033[0m\n", agent.FormatToolCall(name, args))
	}
	a.OnToolResult = func(name string, result string) {
		lines := strings.Split(strings.TrimSpace(result), "\n")
		preview := lines
		if len(preview) > 8 {
			preview = preview[:8]
		}
		for _, line := range preview {
			fmt.Printf("  \033[90m│ %s\033[0m\n", line)
		}
		if len(lines) > 8 {
			fmt.Printf("  \033[90m│ ... (%d more lines)\033[0m\n", len(lines)-8)
		}
		fmt.Println()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     historyFile("agent_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the active request; at the prompt it exits.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(input, a); quit {
				return nil
			}
			continue
		}

		reqCtx, cancel := context.WithCancel(context.Background())
		reqCancel = cancel

		fmt.Printf("\n\033[32mjsbox>\033[0m ")
		_, err = a.RunStreaming(reqCtx, input)
		wasInterrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil

		if err != nil {
			if wasInterrupted {
				fmt.Println("\n(interrupted)")
				continue
			}
			fmt.Printf("\n\033[31merror: %s\033[0m\n\n", err)
			continue
		}

		fmt.Printf("\n\n")
	}
}

// handleCommand runs a slash command and reports whether to quit.
func handleCommand(input string, a *agent.Agent) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/reset":
		a.Reset()
		fmt.Println("Conversation reset.")
		fmt.Println()
	case "/history":
		data, _ := json.MarshalIndent(a.History(), "", "  ")
		fmt.Println(string(data))
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help     - Show this help")
		fmt.Println("  /reset    - Clear conversation history")
		fmt.Println("  /history  - Show raw conversation history (JSON)")
		fmt.Println("  /quit     - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}
