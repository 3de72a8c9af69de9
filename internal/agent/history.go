package agent

import (
	"encoding/json"

	"github.com/michaelbrown/jsbox/internal/llm"
)

// estimateTokens returns an approximate token count for a message using a
// chars/4 heuristic.
func estimateTokens(m llm.Message) int {
	tokens := len(m.Content) / 4
	for _, tc := range m.ToolCalls {
		tokens += len(tc.Name) / 4
		if argsJSON, err := json.Marshal(tc.Args); err == nil {
			tokens += len(argsJSON) / 4
		}
	}
	// Role overhead.
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// keepFrom returns the index of the first message to keep so the retained
// tail fits budget and starts on a user message, never separating a tool call
// from its result. The system prompt at index 0 is always kept separately.
// When even the latest turn is over budget, that turn is kept whole.
func keepFrom(messages []llm.Message, budget int) int {
	keep := len(messages)
	tokens := 0
	for i := len(messages) - 1; i >= 1; i-- {
		tokens += estimateTokens(messages[i])
		if tokens > budget {
			break
		}
		if messages[i].Role == llm.RoleUser {
			keep = i
		}
	}
	if keep < len(messages) {
		return keep
	}

	for i := len(messages) - 1; i >= 1; i-- {
		if messages[i].Role == llm.RoleUser {
			return i
		}
	}
	return 1
}

// trimHistory drops the oldest turns once the history exceeds maxTokens.
func (a *Agent) trimHistory() {
	if len(a.history) <= 1 {
		return
	}
	from := keepFrom(a.history, a.maxTokens)
	if from <= 1 {
		return
	}
	trimmed := make([]llm.Message, 0, 1+len(a.history)-from)
	trimmed = append(trimmed, a.history[0])
	trimmed = append(trimmed, a.history[from:]...)
	a.history = trimmed
}
