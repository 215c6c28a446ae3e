// Package providers adapts vendor LLM streaming APIs to the agent.Provider
// contract. Each adapter converts its vendor's streaming events into the
// ChatEvent union, assembling fragmented tool-call input before emitting the
// tool_call event.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/hearthd/hearthd/internal/agent"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// anthropicMaxTokens is the per-response generation cap. The runner never
// supplies one; the adapter decides.
const anthropicMaxTokens = 4096

// AnthropicProvider streams chat completions from the Anthropic Messages
// API. Safe for concurrent use; each Chat call owns an independent stream.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures the Anthropic adapter. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider builds the adapter, applying defaults for every
// optional field.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = anthropicDefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements agent.Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat implements agent.Provider. The returned channel closes after the
// terminal event. Stream creation retries with exponential backoff on
// transient failures.
func (p *AnthropicProvider) Chat(ctx context.Context, req *agent.ChatRequest) (<-chan agent.ChatEvent, error) {
	events := make(chan agent.ChatEvent)

	go func() {
		defer close(events)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				emit(ctx, events, agent.ChatEvent{Err: err.Error()})
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					emit(ctx, events, agent.ChatEvent{Err: ctx.Err().Error()})
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			emit(ctx, events, agent.ChatEvent{Err: fmt.Sprintf("anthropic: max retries exceeded: %v", err)})
			return
		}
		defer stream.Close()

		p.processStream(ctx, stream, events)
	}()

	return events, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.ChatRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: anthropicMaxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream converts Anthropic SSE events into ChatEvents. Tool input
// streams as JSON fragments across content_block_delta events and is
// assembled before the tool_call event is emitted; an accumulated fragment
// that fails to parse degrades to an empty input object rather than being
// dropped.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- agent.ChatEvent) {
	var currentCall *agent.ToolCall
	var currentInput strings.Builder
	var usage agent.Usage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &agent.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(ctx, events, agent.ChatEvent{Text: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Input = normalizeToolInput(currentInput.String())
				if !emit(ctx, events, agent.ChatEvent{ToolCall: currentCall}) {
					return
				}
				currentCall = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			emit(ctx, events, agent.ChatEvent{Done: true, Usage: usage})
			return

		case "error":
			emit(ctx, events, agent.ChatEvent{Err: "anthropic: stream error"})
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(ctx, events, agent.ChatEvent{Err: fmt.Sprintf("anthropic: %v", err)})
	}
}

func convertAnthropicMessages(messages []agent.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if len(msg.Blocks) == 0 {
			if msg.Content == "" {
				continue
			}
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, block := range msg.Blocks {
			switch block.Type {
			case agent.BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case agent.BlockToolUse:
				var input map[string]any
				if err := json.Unmarshal(normalizeToolInput(string(block.Input)), &input); err != nil {
					return nil, fmt.Errorf("tool_use %s input: %w", block.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case agent.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, false))
			}
		}
		if msg.Role == agent.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// normalizeToolInput returns a valid JSON object for the accumulated tool
// input, degrading malformed fragments to {}.
func normalizeToolInput(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

// emit sends one event unless the context is gone; it reports whether the
// stream should keep going.
func emit(ctx context.Context, events chan<- agent.ChatEvent, ev agent.ChatEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// isRetryable classifies stream-creation failures. Rate limits, 5xx
// responses, timeouts and connection resets are worth retrying; auth and
// validation failures are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
