package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/jsbox/internal/llm"
	"github.com/michaelbrown/jsbox/internal/sandbox"
	"github.com/michaelbrown/jsbox/internal/tools"
)

// mockClient implements llm.Client for testing.
type mockClient struct {
	responses []llm.Response
	callCount int
	seen      [][]llm.Message
	streamed  bool
}

func (m *mockClient) ChatCompletion(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (*llm.Response, error) {
	m.seen = append(m.seen, append([]llm.Message(nil), messages...))
	if m.callCount >= len(m.responses) {
		return nil, errors.New("no more mock responses")
	}
	resp := m.responses[m.callCount]
	m.callCount++
	return &resp, nil
}

func (m *mockClient) ChatCompletionStream(ctx context.Context, messages []llm.Message, tools []llm.ToolDef, handler llm.StreamHandler) (*llm.Response, error) {
	m.streamed = true
	resp, err := m.ChatCompletion(ctx, messages, tools)
	if err == nil && handler != nil && resp.Message.Content != "" {
		handler(resp.Message.Content)
	}
	return resp, err
}

func toolCall(id, code string) llm.Response {
	return llm.Response{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: ToolName, Args: map[string]any{"code": code}}},
	}}
}

func newAgent(mock *mockClient) *Agent {
	return New(mock, sandbox.NewEngine(sandbox.DefaultPolicy()), 0)
}

func TestRunDirectAnswer(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{{Message: llm.AssistantMessage("4")}}}
	a := newAgent(mock)

	out, err := a.Run(context.Background(), "what is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	require.Len(t, mock.seen, 1)
	assert.Equal(t, llm.SystemMessage(systemPrompt([]string{ToolName})), mock.seen[0][0])
	assert.Equal(t, llm.UserMessage("what is 2+2?"), mock.seen[0][1])
}

func TestRunExecutesToolCall(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{
		toolCall("c1", `console.log("adding"); return 1+1`),
		{Message: llm.AssistantMessage("It is 2.")},
	}}
	a := newAgent(mock)

	var calls, results []string
	a.OnToolCall = func(name string, args map[string]any) { calls = append(calls, FormatToolCall(name, args)) }
	a.OnToolResult = func(name, result string) { results = append(results, result) }

	out, err := a.Run(context.Background(), "add")
	require.NoError(t, err)
	assert.Equal(t, "It is 2.", out)
	assert.Equal(t, []string{`run_js(code=console.log("adding"); return 1+1)`}, calls)

	history := a.History()
	require.Len(t, history, 5)
	toolMsg := history[3]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Equal(t, ToolName, toolMsg.Name)
	assert.JSONEq(t, `{"result":"2","logs":["\"adding\""]}`, toolMsg.Content)
	assert.Contains(t, toolMsg.Content, "\n  ", "tool output is indented")
	assert.Equal(t, []string{toolMsg.Content}, results)
}

func TestRunToolFailureIsFedBack(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{
		toolCall("c1", `throw new Error("boom")`),
		{Message: llm.AssistantMessage("It failed.")},
	}}
	a := newAgent(mock)

	_, err := a.Run(context.Background(), "try")
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Error: boom","logs":[]}`, a.History()[3].Content)
}

func TestRunInvalidToolArguments(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "a", Name: ToolName, Args: map[string]any{"_raw": "oops"}},
			{ID: "b", Name: "browse", Args: map[string]any{"q": "x"}},
		}}},
		{Message: llm.AssistantMessage("ok")},
	}}
	a := newAgent(mock)

	_, err := a.Run(context.Background(), "x")
	require.NoError(t, err)

	history := a.History()
	require.Len(t, history, 6)
	assert.JSONEq(t, `{"error":"code (string) required","logs":[]}`, history[3].Content)
	assert.Equal(t, `error: unknown tool "browse"`, history[4].Content)
}

func TestRunMaxIterations(t *testing.T) {
	var responses []llm.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCall("c", "return 1"))
	}
	mock := &mockClient{responses: responses}
	a := New(mock, sandbox.NewEngine(sandbox.DefaultPolicy()), 3)

	_, err := a.Run(context.Background(), "loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max iterations (3)")
	assert.Equal(t, 3, mock.callCount)
}

func TestRunDefaultMaxIterations(t *testing.T) {
	var responses []llm.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCall("c", "return 1"))
	}
	mock := &mockClient{responses: responses}

	_, err := newAgent(mock).Run(context.Background(), "loop")
	require.Error(t, err)
	assert.Equal(t, DefaultMaxIterations, mock.callCount)
}

func TestRunLLMError(t *testing.T) {
	a := newAgent(&mockClient{})
	_, err := a.Run(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration 1")
}

func TestRunStreaming(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{{Message: llm.AssistantMessage("streamed")}}}
	a := newAgent(mock)

	var deltas []string
	a.OnTextDelta = func(d string) { deltas = append(deltas, d) }

	out, err := a.RunStreaming(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, mock.streamed)
	assert.Equal(t, "streamed", out)
	assert.Equal(t, []string{"streamed"}, deltas)
}

func TestToolOutputTruncated(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{
		toolCall("c1", `return "é".repeat(10000)`),
		{Message: llm.AssistantMessage("long")},
	}}
	a := newAgent(mock)

	_, err := a.Run(context.Background(), "x")
	require.NoError(t, err)

	content := a.History()[3].Content
	assert.Equal(t, maxToolOutput, utf8.RuneCountInString(content))
	assert.True(t, utf8.ValidString(content))
	assert.False(t, json.Valid([]byte(content)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
}

func TestReset(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{{Message: llm.AssistantMessage("hi")}}}
	a := newAgent(mock)
	_, err := a.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, a.History(), 3)

	a.Reset()
	assert.Equal(t, []llm.Message{llm.SystemMessage(systemPrompt([]string{ToolName}))}, a.History())
	assert.Equal(t, "Agent(tools=1, history=1 messages, maxIter=6)", a.String())
}

func TestRunJSToolSchema(t *testing.T) {
	tool := RunJSTool()
	assert.Equal(t, "run_js", tool.Name)
	assert.Equal(t, []string{"code"}, tool.Parameters["required"])
}

func TestFormatToolCallSortsArgs(t *testing.T) {
	assert.Equal(t, "f(a=1, b=x)", FormatToolCall("f", map[string]any{"b": "x", "a": 1}))
}

func TestAgentWithSearchAndAIPipe(t *testing.T) {
	mock := &mockClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "s", Name: tools.SearchToolName, Args: map[string]any{"query": "go", "k": float64(2)}},
			{ID: "p", Name: tools.AIPipeToolName, Args: map[string]any{"prompt": "hi"}},
			{ID: "j", Name: ToolName, Args: map[string]any{"code": "return 1"}},
		}}},
		{Message: llm.AssistantMessage("done")},
	}}
	a := New(mock, sandbox.NewEngine(sandbox.DefaultPolicy()), 0,
		tools.NewSearch(tools.SearchOptions{}),
		tools.NewAIPipe(tools.AIPipeOptions{}),
	)

	out, err := a.Run(context.Background(), "look it up")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	assert.Equal(t, "You are an assistant that may call tools: search, aipipe, run_js. "+
		"When calling a tool use OpenAI-style function calling. Keep answers concise.", a.History()[0].Content)
	assert.Equal(t, "Agent(tools=3, history=7 messages, maxIter=6)", a.String())

	history := a.History()
	require.Len(t, history, 7)
	assert.Equal(t, tools.SearchToolName, history[3].Name)
	assert.Equal(t, "No search provider configured. Set SERPAPI_KEY or GOOGLE_API_KEY + GOOGLE_CX.", history[3].Content)
	assert.Equal(t, tools.AIPipeToolName, history[4].Name)
	assert.Equal(t, "AIPipe token not configured. Set AIPIPE_TOKEN in sidebar/env.", history[4].Content)
	assert.JSONEq(t, `{"result":"1","logs":[]}`, history[5].Content)
}

type fixedTool struct{}

func (fixedTool) Definition() llm.ToolDef {
	return llm.ToolDef{Name: "fixed", Parameters: map[string]any{"type": "object"}}
}

func (fixedTool) Call(context.Context, map[string]any) string { return "fixed output" }

func TestAgentOffersExtraToolsBeforeRunJS(t *testing.T) {
	var offered []string
	mock := &recordingClient{onTools: func(defs []llm.ToolDef) {
		for _, d := range defs {
			offered = append(offered, d.Name)
		}
	}}
	a := New(mock, sandbox.NewEngine(sandbox.DefaultPolicy()), 0, fixedTool{})

	_, err := a.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"fixed", ToolName}, offered)
}

// recordingClient answers immediately and reports the offered tools.
type recordingClient struct {
	onTools func([]llm.ToolDef)
}

func (r *recordingClient) ChatCompletion(_ context.Context, _ []llm.Message, defs []llm.ToolDef) (*llm.Response, error) {
	r.onTools(defs)
	return &llm.Response{Message: llm.AssistantMessage("ok")}, nil
}

func (r *recordingClient) ChatCompletionStream(ctx context.Context, messages []llm.Message, defs []llm.ToolDef, _ llm.StreamHandler) (*llm.Response, error) {
	return r.ChatCompletion(ctx, messages, defs)
}
