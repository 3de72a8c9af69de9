package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runJSTool = ToolDef{
	Name:        "run_js",
	Description: "Execute JS",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"code": map[string]any{"type": "string"}},
		"required":   []string{"code"},
	},
}

func fakeProvider(t *testing.T, handler func(body map[string]any, w http.ResponseWriter)) *OpenAICompatClient {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(data, &body))
		handler(body, w)
	}))
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/v1/", "test-key", "test-model")
}

func TestChatCompletionToolCall(t *testing.T) {
	var sent map[string]any
	c := fakeProvider(t, func(body map[string]any, w http.ResponseWriter) {
		sent = body
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
			"choices": [{
				"index": 0, "finish_reason": "tool_calls",
				"message": {
					"role": "assistant", "content": null,
					"tool_calls": [{
						"id": "call_1", "type": "function",
						"function": {"name": "run_js", "arguments": "{\"code\":\"return 1+1\"}"}
					}]
				}
			}]
		}`)
	})

	resp, err := c.ChatCompletion(context.Background(), []Message{
		SystemMessage("sys"),
		UserMessage("add"),
	}, []ToolDef{runJSTool})
	require.NoError(t, err)

	assert.Equal(t, "test-model", sent["model"])
	assert.Len(t, sent["messages"], 2)
	assert.Len(t, sent["tools"], 1)

	require.Len(t, resp.Message.ToolCalls, 1)
	tc := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "run_js", tc.Name)
	assert.Equal(t, map[string]any{"code": "return 1+1"}, tc.Args)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	code, ok := tc.StringArg("code")
	assert.True(t, ok)
	assert.Equal(t, "return 1+1", code)
	_, ok = tc.StringArg("missing")
	assert.False(t, ok)
}

func TestChatCompletionRawArguments(t *testing.T) {
	c := fakeProvider(t, func(_ map[string]any, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"tool_calls",
			"message":{"role":"assistant","tool_calls":[{"id":"c","type":"function","function":{"name":"run_js","arguments":"not json"}}]}}]}`)
	})

	resp, err := c.ChatCompletion(context.Background(), []Message{UserMessage("x")}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, map[string]any{"_raw": "not json"}, resp.Message.ToolCalls[0].Args)
}

func TestChatCompletionNoChoices(t *testing.T) {
	c := fakeProvider(t, func(_ map[string]any, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	})

	_, err := c.ChatCompletion(context.Background(), []Message{UserMessage("x")}, nil)
	assert.ErrorIs(t, err, errNoChoices)
}

func TestChatCompletionStream(t *testing.T) {
	c := fakeProvider(t, func(body map[string]any, w http.ResponseWriter) {
		assert.Equal(t, true, body["stream"])
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":%q},\"finish_reason\":null}]}\n\n", delta)
		}
		io.WriteString(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	var deltas []string
	resp, err := c.ChatCompletionStream(context.Background(), []Message{UserMessage("hi")}, nil, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Message.Content)
	assert.Equal(t, RoleAssistant, resp.Message.Role)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]Message{
		SystemMessage("sys"),
		UserMessage("u"),
		{Role: RoleAssistant, Content: "thinking", ToolCalls: []ToolCall{{ID: "1", Name: "run_js", Args: map[string]any{"code": "1"}}}},
		ToolResultMessage("1", "run_js", `{"result":"1","logs":[]}`),
		AssistantMessage("done"),
	})
	require.Len(t, out, 5)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	s := string(data)
	assert.True(t, strings.Contains(s, `"tool_call_id":"1"`), s)
	assert.True(t, strings.Contains(s, `"arguments":"{\"code\":\"1\"}"`), s)
}
