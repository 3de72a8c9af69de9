package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// StreamHandler receives text deltas during streaming.
type StreamHandler func(delta string)

// ChatCompletionStream sends a streaming chat completion request. handler is
// called with each text delta; the accumulated response is returned once the
// stream ends.
func (c *OpenAICompatClient) ChatCompletionStream(ctx context.Context, messages []Message, tools []ToolDef, handler StreamHandler) (*Response, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages, tools))
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && handler != nil {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				handler(delta)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	if len(acc.Choices) == 0 {
		return nil, errNoChoices
	}
	resp := toResponse(acc.Choices[0].Message)
	resp.FinishReason = string(acc.Choices[0].FinishReason)
	return resp, nil
}
