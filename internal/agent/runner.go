package agent

import (
	"context"
	"fmt"
	"strings"
)

// maxToolTurns caps the provider calls per turn so a model cannot drive tool
// invocations indefinitely.
const maxToolTurns = 10

// ErrTurnLimit is the message of the synthetic error event emitted at the cap.
const ErrTurnLimit = "Maximum tool call turns exceeded"

// TurnOptions configures one chat turn.
type TurnOptions struct {
	Provider Provider
	Model    string
	System   string

	// Messages is the turn's starting conversation. RunTurn extends a local
	// copy; the caller's slice is never mutated.
	Messages []Message

	Tools []ToolDefinition

	// OnEvent receives every provider event in emission order, plus the
	// synthetic turn-cap error. Never called after ctx is cancelled.
	OnEvent func(ChatEvent)

	// OnToolCall executes one tool request and returns its output string.
	// Failures are reported in the string, never as an error.
	OnToolCall func(name string, input []byte, callID string) string
}

// RunTurn drives the provider/tool loop for one chat turn: stream a provider
// response, execute any requested tools, feed the results back, and repeat
// up to the turn cap. Tool_use blocks in an assistant message are always
// paired with tool_result blocks in the immediately following user message.
func RunTurn(ctx context.Context, opts TurnOptions) error {
	if opts.Provider == nil {
		return fmt.Errorf("runner: no provider")
	}

	messages := make([]Message, len(opts.Messages))
	copy(messages, opts.Messages)

	for turn := 0; turn < maxToolTurns; turn++ {
		events, err := opts.Provider.Chat(ctx, &ChatRequest{
			Model:    opts.Model,
			System:   opts.System,
			Messages: messages,
			Tools:    opts.Tools,
		})
		if err != nil {
			return fmt.Errorf("provider %s: %w", opts.Provider.Name(), err)
		}

		var text strings.Builder
		var pending []*ToolCall
		failed := false

	stream:
		for event := range events {
			if ctx.Err() != nil {
				// Aborted: drop remaining events, no terminal reaches the
				// caller. The provider sees the cancelled context and
				// releases its stream.
				return ctx.Err()
			}
			if opts.OnEvent != nil {
				opts.OnEvent(event)
			}
			switch {
			case event.Err != "":
				failed = true
				break stream
			case event.Done:
				break stream
			case event.ToolCall != nil:
				pending = append(pending, event.ToolCall)
			case event.Text != "":
				text.WriteString(event.Text)
			}
		}

		if failed {
			return nil
		}
		if len(pending) == 0 {
			return nil
		}

		// Assistant message: optional text block, then one tool_use block
		// per pending call in order.
		var blocks []ContentBlock
		if text.Len() > 0 {
			blocks = append(blocks, ContentBlock{Type: BlockText, Text: text.String()})
		}
		for _, call := range pending {
			blocks = append(blocks, ContentBlock{
				Type:  BlockToolUse,
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			})
		}
		messages = append(messages, Message{Role: RoleAssistant, Blocks: blocks})

		// User message: one tool_result per call, ids matched one to one.
		var results []ContentBlock
		for _, call := range pending {
			var output string
			if opts.OnToolCall != nil {
				output = opts.OnToolCall(call.Name, call.Input, call.ID)
			}
			results = append(results, ContentBlock{
				Type:      BlockToolResult,
				ToolUseID: call.ID,
				Content:   output,
			})
		}
		messages = append(messages, Message{Role: RoleUser, Blocks: results})
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opts.OnEvent != nil {
		opts.OnEvent(ChatEvent{Err: ErrTurnLimit})
	}
	return nil
}
