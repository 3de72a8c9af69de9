package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/michaelbrown/jsbox/internal/llm"
)

const (
	AIPipeToolName = "aipipe"

	// AIPipeURL is the OpenRouter chat completions proxy.
	AIPipeURL = "https://aipipe.org/openrouter/v1/chat/completions"

	DefaultAIPipeMaxTokens = 600

	aipipeTimeout = 20 * time.Second

	aipipeNotConfigured = "AIPipe token not configured. Set AIPIPE_TOKEN in sidebar/env."
)

type AIPipeOptions struct {
	Token     string
	URL       string
	Model     string
	MaxTokens int
}

// AIPipe forwards a single prompt to a model behind the AI Pipe proxy.
type AIPipe struct {
	opts AIPipeOptions
	http *resty.Client
}

func NewAIPipe(opts AIPipeOptions) *AIPipe {
	if opts.URL == "" {
		opts.URL = AIPipeURL
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultAIPipeMaxTokens
	}
	return &AIPipe{
		opts: opts,
		http: resty.New().SetTimeout(aipipeTimeout),
	}
}

func (p *AIPipe) Definition() llm.ToolDef {
	return llm.ToolDef{
		Name:        AIPipeToolName,
		Description: "Call AI Pipe proxy with a prompt",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string"},
			},
			"required": []string{"prompt"},
		},
	}
}

type aipipeRequest struct {
	Model     string        `json:"model"`
	Messages  []llm.Message `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type aipipeChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Text string `json:"text"`
}

// Call returns the first choice's text. Without a token it returns a
// message saying so instead of calling out.
func (p *AIPipe) Call(ctx context.Context, args map[string]any) string {
	if p.opts.Token == "" {
		return aipipeNotConfigured
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(p.opts.Token).
		SetHeader("Content-Type", "application/json").
		SetBody(aipipeRequest{
			Model:     p.opts.Model,
			Messages:  []llm.Message{llm.UserMessage(stringArg(args, "prompt"))},
			MaxTokens: p.opts.MaxTokens,
		}).
		Post(p.opts.URL)
	if err != nil {
		return fmt.Sprintf("AIPipe error: %v", err)
	}

	var body struct {
		Choices []json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Sprintf("AIPipe error: %v", err)
	}
	if len(body.Choices) == 0 {
		return truncateRaw(resp.Body())
	}

	var choice aipipeChoice
	if err := json.Unmarshal(body.Choices[0], &choice); err == nil {
		if choice.Message.Content != "" {
			return choice.Message.Content
		}
		if choice.Text != "" {
			return choice.Text
		}
	}
	return string(body.Choices[0])
}
