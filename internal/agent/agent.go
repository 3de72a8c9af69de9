package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/michaelbrown/jsbox/internal/llm"
	"github.com/michaelbrown/jsbox/internal/sandbox"
	"github.com/michaelbrown/jsbox/internal/tools"
)

const (
	// ToolName is the sandbox tool, always offered last.
	ToolName = "run_js"

	DefaultMaxIterations = 6

	// maxToolOutput caps the tool result, in characters, fed back to the model.
	maxToolOutput = 4000

	defaultMaxTokens = 6000
)

// Agent manages a conversation and executes the ReAct loop over run_js and
// any extra tools.
type Agent struct {
	llm          llm.Client
	history      []llm.Message
	registry     *tools.Registry
	maxIter      int
	maxTokens    int
	OnToolCall   func(name string, args map[string]any)
	OnToolResult func(name string, result string)
	OnTextDelta  func(delta string)
}

// New creates an Agent offering extra followed by run_js, which executes in
// sb: the local engine or a remote client.
func New(client llm.Client, sb sandbox.Sandbox, maxIterations int, extra ...tools.Tool) *Agent {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	registry := tools.NewRegistry(extra...)
	registry.Register(runJS{sandbox: sb})

	return &Agent{
		llm:       client,
		registry:  registry,
		maxIter:   maxIterations,
		maxTokens: defaultMaxTokens,
		history: []llm.Message{
			llm.SystemMessage(systemPrompt(registry.Names())),
		},
	}
}

// systemPrompt is installed as the first message of every conversation.
func systemPrompt(toolNames []string) string {
	return "You are an assistant that may call tools: " + strings.Join(toolNames, ", ") +
		". When calling a tool use OpenAI-style function calling. Keep answers concise."
}

// RunJSTool is the run_js tool definition offered to the model.
func RunJSTool() llm.ToolDef {
	return llm.ToolDef{
		Name:        ToolName,
		Description: "Execute JS code in a sandbox and return result",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript function body; use return to produce the result",
				},
			},
			"required": []string{"code"},
		},
	}
}

// SetMaxTokens sets the history budget used when trimming old turns.
func (a *Agent) SetMaxTokens(maxTokens int) {
	if maxTokens > 0 {
		a.maxTokens = maxTokens
	}
}

type completeFunc func(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (*llm.Response, error)

// Run sends a user message and executes the full ReAct loop.
// Returns the final assistant text response.
func (a *Agent) Run(ctx context.Context, userMessage string) (string, error) {
	return a.run(ctx, userMessage, a.llm.ChatCompletion)
}

// RunStreaming is like Run but streams text output token-by-token via OnTextDelta.
func (a *Agent) RunStreaming(ctx context.Context, userMessage string) (string, error) {
	return a.run(ctx, userMessage, func(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (*llm.Response, error) {
		return a.llm.ChatCompletionStream(ctx, messages, tools, a.OnTextDelta)
	})
}

func (a *Agent) run(ctx context.Context, userMessage string, complete completeFunc) (string, error) {
	a.trimHistory()
	a.history = append(a.history, llm.UserMessage(userMessage))

	for i := 0; i < a.maxIter; i++ {
		resp, err := complete(ctx, a.history, a.registry.Definitions())
		if err != nil {
			return "", fmt.Errorf("llm call (iteration %d): %w", i+1, err)
		}

		a.history = append(a.history, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			return resp.Message.Content, nil
		}

		// Every tool call needs an answer before the next completion.
		for _, tc := range resp.Message.ToolCalls {
			if a.OnToolCall != nil {
				a.OnToolCall(tc.Name, tc.Args)
			}

			result := a.executeTool(ctx, tc)

			if a.OnToolResult != nil {
				a.OnToolResult(tc.Name, result)
			}

			a.history = append(a.history, llm.ToolResultMessage(tc.ID, tc.Name, result))
		}
	}

	return "", fmt.Errorf("agent reached max iterations (%d) without a final response", a.maxIter)
}

func (a *Agent) executeTool(ctx context.Context, tc llm.ToolCall) string {
	result, err := a.registry.Call(ctx, tc.Name, tc.Args)
	if err != nil {
		return "error: " + err.Error()
	}
	return result
}

// runJS executes the code argument in a sandbox.
type runJS struct {
	sandbox sandbox.Sandbox
}

func (runJS) Definition() llm.ToolDef {
	return RunJSTool()
}

func (t runJS) Call(ctx context.Context, args map[string]any) string {
	code, ok := args["code"].(string)
	if !ok {
		return formatOutcome(sandbox.Failed("code (string) required", nil))
	}
	return formatOutcome(t.sandbox.Run(ctx, sandbox.Request{Code: code}))
}

// formatOutcome renders the outcome as indented JSON capped at maxToolOutput
// characters.
func formatOutcome(out *sandbox.Outcome) string {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return truncate(string(data), maxToolOutput)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// History returns the current conversation history.
func (a *Agent) History() []llm.Message {
	return a.history
}

// Reset clears conversation history (keeps system prompt).
func (a *Agent) Reset() {
	a.history = a.history[:1]
}

// String returns a summary of the agent state.
func (a *Agent) String() string {
	return fmt.Sprintf("Agent(tools=%d, history=%d messages, maxIter=%d)",
		a.registry.Len(), len(a.history), a.maxIter)
}

// FormatToolCall returns a human-readable string for a tool call.
func FormatToolCall(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}
