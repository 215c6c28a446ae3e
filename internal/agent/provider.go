package agent

import "context"

// ChatRequest is a provider-neutral chat invocation. The provider chooses a
// reasonable max_tokens; callers never supply one.
type ChatRequest struct {
	Model  string
	System string

	// Messages is the conversation so far. Providers must treat it as
	// read-only.
	Messages []Message

	Tools []ToolDefinition
}

// Provider streams chat completions. Chat returns a channel that yields the
// turn's events in order and is closed after the terminal event (Done or
// Err). Cancelling ctx releases the underlying stream; the channel still
// closes. A second Chat call with an extended message list restarts the
// conversation.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (<-chan ChatEvent, error)
}
