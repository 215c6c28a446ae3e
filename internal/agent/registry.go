package agent

import (
	"context"
	"encoding/json"
	"sync"
)

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Output      string
	ExitCode    int
	Truncated   bool
	Attachments []Attachment
}

// ToolContext carries the per-run facilities a tool may use. SendEvent and
// ReportProgress are best-effort sinks; in scheduled runs they are no-ops
// and AutoApprove is set.
type ToolContext struct {
	SessionKey string
	RunID      string

	// WorkspaceDir is the user-editable workspace directory.
	WorkspaceDir string

	// AutoApprove bypasses the approval gate (scheduler path).
	AutoApprove bool

	// Approvals coordinates the human-in-the-loop gate for live runs.
	Approvals *ApprovalManager

	// SendEvent pushes a named event to the connected client.
	SendEvent func(name string, data any)

	// ReportProgress surfaces per-step status lines to the client.
	ReportProgress func(message string)
}

// Tool is a named side-effecting capability with a JSON schema input.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	RequiresApproval() bool
	Execute(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error)
}

// Registry is an insertion-ordered tool lookup. Registering a duplicate name
// overwrites the earlier tool in place.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns the registered tools in insertion order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions renders the registry for a provider request.
func (r *Registry) Definitions() []ToolDefinition {
	tools := r.All()
	defs := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}
