package agent

import (
	"context"
	"encoding/json"
	"testing"
)

// scriptedProvider replays canned event batches, one per Chat call, and
// records the message list of each request.
type scriptedProvider struct {
	script   func(call int) []ChatEvent
	calls    int
	requests [][]Message
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan ChatEvent, error) {
	p.calls++
	snapshot := make([]Message, len(req.Messages))
	copy(snapshot, req.Messages)
	p.requests = append(p.requests, snapshot)

	events := p.script(p.calls)
	ch := make(chan ChatEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func TestRunTurnToolPairing(t *testing.T) {
	provider := &scriptedProvider{
		script: func(call int) []ChatEvent {
			if call == 1 {
				return []ChatEvent{
					{Text: "let me check"},
					{ToolCall: &ToolCall{ID: "call-1", Name: "bash", Input: json.RawMessage(`{"command":"date"}`)}},
					{Done: true},
				}
			}
			return []ChatEvent{{Text: "done"}, {Done: true}}
		},
	}

	var toolName, toolID string
	err := RunTurn(context.Background(), TurnOptions{
		Provider: provider,
		Model:    "m",
		Messages: []Message{TextMessage(RoleUser, "what time is it?")},
		OnToolCall: func(name string, input []byte, callID string) string {
			toolName, toolID = name, callID
			return "Tue Jun 17"
		},
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.calls)
	}
	if toolName != "bash" || toolID != "call-1" {
		t.Errorf("tool call = %s/%s", toolName, toolID)
	}

	// Second request must carry the assistant tool_use and the paired
	// tool_result in the very next user message.
	msgs := provider.requests[1]
	if len(msgs) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Role != RoleAssistant {
		t.Fatalf("message 1 role = %s", assistant.Role)
	}
	if len(assistant.Blocks) != 2 || assistant.Blocks[0].Type != BlockText || assistant.Blocks[1].Type != BlockToolUse {
		t.Fatalf("assistant blocks = %+v", assistant.Blocks)
	}
	if assistant.Blocks[1].ID != "call-1" {
		t.Errorf("tool_use id = %q", assistant.Blocks[1].ID)
	}
	user := msgs[2]
	if user.Role != RoleUser || len(user.Blocks) != 1 {
		t.Fatalf("pairing message = %+v", user)
	}
	if user.Blocks[0].Type != BlockToolResult || user.Blocks[0].ToolUseID != "call-1" {
		t.Errorf("tool_result = %+v", user.Blocks[0])
	}
	if user.Blocks[0].Content != "Tue Jun 17" {
		t.Errorf("tool output = %q", user.Blocks[0].Content)
	}
}

func TestRunTurnCap(t *testing.T) {
	provider := &scriptedProvider{
		script: func(call int) []ChatEvent {
			return []ChatEvent{
				{ToolCall: &ToolCall{ID: "loop", Name: "bash", Input: json.RawMessage(`{}`)}},
				{Done: true},
			}
		},
	}
	var last ChatEvent
	err := RunTurn(context.Background(), TurnOptions{
		Provider:   provider,
		Messages:   []Message{TextMessage(RoleUser, "go")},
		OnEvent:    func(ev ChatEvent) { last = ev },
		OnToolCall: func(string, []byte, string) string { return "again" },
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if provider.calls != 10 {
		t.Errorf("provider calls = %d, want 10", provider.calls)
	}
	if last.Err != ErrTurnLimit {
		t.Errorf("last event = %+v, want turn limit error", last)
	}
}

func TestRunTurnStopsOnProviderError(t *testing.T) {
	provider := &scriptedProvider{
		script: func(call int) []ChatEvent {
			return []ChatEvent{{Text: "partial"}, {Err: "upstream 500"}}
		},
	}
	var events []ChatEvent
	toolCalled := false
	err := RunTurn(context.Background(), TurnOptions{
		Provider:   provider,
		Messages:   []Message{TextMessage(RoleUser, "hi")},
		OnEvent:    func(ev ChatEvent) { events = append(events, ev) },
		OnToolCall: func(string, []byte, string) string { toolCalled = true; return "" },
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
	if toolCalled {
		t.Error("tool executed after stream error")
	}
	if len(events) != 2 || events[1].Err != "upstream 500" {
		t.Errorf("events = %+v", events)
	}
}

func TestRunTurnAbortDropsEvents(t *testing.T) {
	provider := &scriptedProvider{
		script: func(call int) []ChatEvent {
			return []ChatEvent{{Text: "one"}, {Text: "two"}, {Done: true}}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	var forwarded []ChatEvent
	err := RunTurn(ctx, TurnOptions{
		Provider: provider,
		Messages: []Message{TextMessage(RoleUser, "hi")},
		OnEvent: func(ev ChatEvent) {
			forwarded = append(forwarded, ev)
			cancel()
		},
	})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(forwarded) != 1 || forwarded[0].Text != "one" {
		t.Errorf("forwarded = %+v, want only the first delta", forwarded)
	}
}

func TestRunTurnNoProvider(t *testing.T) {
	if err := RunTurn(context.Background(), TurnOptions{}); err == nil {
		t.Fatal("expected error")
	}
}
