package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hearthd/hearthd/internal/agent"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIProvider streams chat completions from the OpenAI Chat Completions
// API via sashabaranov/go-openai.
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures the OpenAI adapter. Only APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAIProvider builds the adapter, applying defaults for every optional
// field.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openaiDefaultModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements agent.Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Chat implements agent.Provider. Stream creation retries with linear
// backoff; streaming errors arrive as a terminal Err event.
func (p *OpenAIProvider) Chat(ctx context.Context, req *agent.ChatRequest) (<-chan agent.ChatEvent, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	events := make(chan agent.ChatEvent)
	go p.processStream(ctx, stream, events)
	return events, nil
}

// processStream converts the OpenAI delta stream into ChatEvents. Tool calls
// arrive fragmented across chunks keyed by index: the first fragment carries
// id and name, later ones append argument JSON. They are emitted when the
// finish reason says they are complete, or at EOF as a fallback.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- agent.ChatEvent) {
	defer close(events)
	defer stream.Close()

	pending := make(map[int]*agent.ToolCall)
	var order []int
	var usage agent.Usage

	flushCalls := func() bool {
		for _, idx := range order {
			call := pending[idx]
			if call == nil || call.ID == "" || call.Name == "" {
				continue
			}
			call.Input = normalizeToolInput(string(call.Input))
			if !emit(ctx, events, agent.ChatEvent{ToolCall: call}) {
				return false
			}
		}
		pending = make(map[int]*agent.ToolCall)
		order = order[:0]
		return true
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushCalls() {
					return
				}
				emit(ctx, events, agent.ChatEvent{Done: true, Usage: usage})
				return
			}
			emit(ctx, events, agent.ChatEvent{Err: fmt.Sprintf("openai: %v", err)})
			return
		}

		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(ctx, events, agent.ChatEvent{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &agent.ToolCall{}
				pending[index] = call
				order = append(order, index)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushCalls() {
				return
			}
		}
	}
}

func convertOpenAIMessages(messages []agent.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		if len(msg.Blocks) == 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
			continue
		}

		// Blocks split across the OpenAI shapes: text and tool_use stay on
		// the assistant/user message, each tool_result becomes its own
		// "tool" role message.
		base := openai.ChatCompletionMessage{Role: msg.Role}
		var toolMessages []openai.ChatCompletionMessage
		for _, block := range msg.Blocks {
			switch block.Type {
			case agent.BlockText:
				base.Content += block.Text
			case agent.BlockToolUse:
				base.ToolCalls = append(base.ToolCalls, openai.ToolCall{
					ID:   block.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.Name,
						Arguments: string(normalizeToolInput(string(block.Input))),
					},
				})
			case agent.BlockToolResult:
				toolMessages = append(toolMessages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.Content,
					ToolCallID: block.ToolUseID,
				})
			}
		}
		if base.Content != "" || len(base.ToolCalls) > 0 {
			result = append(result, base)
		}
		result = append(result, toolMessages...)
	}
	return result
}

func convertOpenAITools(defs []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}
