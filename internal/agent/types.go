// Package agent implements the provider-neutral chat turn pipeline: the
// message model shared with providers, the tool contract, the approval
// coordinator, and the turn runner that drives the provider/tool loop.
package agent

import "encoding/json"

// ChatEvent is the tagged union a provider stream emits. Exactly one variant
// is set per event: Text for a delta, ToolCall for a tool request, Done plus
// Usage for the terminal final, Err for a terminal provider failure.
type ChatEvent struct {
	Text     string
	ToolCall *ToolCall
	Done     bool
	Usage    Usage
	Err      string
}

// ToolCall is a model request to invoke a named tool. Input is the fully
// assembled JSON argument object.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Usage carries the token accounting reported with a final event.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Message roles accepted by providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Message is one entry in the conversation passed to a provider. Content
// holds plain text; Blocks, when non-empty, carries the structured content
// and takes precedence.
type Message struct {
	Role    string
	Content string
	Blocks  []ContentBlock
}

// ContentBlock is one typed element inside a message, discriminated by Type.
type ContentBlock struct {
	Type string

	// Text, for type "text".
	Text string

	// ID, Name, Input, for type "tool_use".
	ID    string
	Name  string
	Input json.RawMessage

	// ToolUseID, Content, for type "tool_result".
	ToolUseID string
	Content   string
}

// TextMessage builds a plain-text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// ToolDefinition describes a tool to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Attachment is binary output produced by a tool (screenshots, files).
type Attachment struct {
	Type     string `json:"type"` // image or file
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
	Name     string `json:"name,omitempty"`
}
