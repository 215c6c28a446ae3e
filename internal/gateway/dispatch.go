package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthd/hearthd/internal/agent"
	"github.com/hearthd/hearthd/internal/agent/providers"
	"github.com/hearthd/hearthd/internal/audit"
	"github.com/hearthd/hearthd/internal/memory"
	"github.com/hearthd/hearthd/internal/scheduler"
	"github.com/hearthd/hearthd/internal/security"
	"github.com/hearthd/hearthd/internal/sessions"
	"github.com/hearthd/hearthd/internal/workspace"
)

// JSON-RPC error codes.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID     string    `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *rpcError `json:"error,omitempty"`
}

// DispatcherOptions wires the dispatcher's collaborators.
type DispatcherOptions struct {
	Token        string
	DefaultAgent string
	Sessions     *sessions.Store
	Workspace    *workspace.Workspace
	Providers    *providers.Registry
	Tools        *agent.Registry
	Approvals    *agent.ApprovalManager
	Scheduler    *scheduler.Engine
	Memory       *memory.Searcher
	Audit        *audit.Logger
	Filter       *security.Filter
}

// Dispatcher validates and routes RPC requests, owns the in-flight chat
// runs, and fans push events out to every authenticated connection.
type Dispatcher struct {
	token        string
	defaultAgent string
	sessions     *sessions.Store
	workspace    *workspace.Workspace
	providers    *providers.Registry
	tools        *agent.Registry
	approvals    *agent.ApprovalManager
	scheduler    *scheduler.Engine
	memory       *memory.Searcher
	audit        *audit.Logger
	filter       *security.Filter
	start        time.Time
	logger       *slog.Logger

	mu         sync.Mutex
	activeRuns map[string]context.CancelFunc
	conns      map[*conn]bool
}

type handler func(c *conn, params json.RawMessage) (any, *rpcError)

// NewDispatcher builds the dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		token:        opts.Token,
		defaultAgent: opts.DefaultAgent,
		sessions:     opts.Sessions,
		workspace:    opts.Workspace,
		providers:    opts.Providers,
		tools:        opts.Tools,
		approvals:    opts.Approvals,
		scheduler:    opts.Scheduler,
		memory:       opts.Memory,
		audit:        opts.Audit,
		filter:       opts.Filter,
		start:        time.Now(),
		logger:       slog.Default().With("component", "gateway.dispatch"),
		activeRuns:   make(map[string]context.CancelFunc),
		conns:        make(map[*conn]bool),
	}
	if d.defaultAgent == "" {
		d.defaultAgent = "assistant"
	}
	return d
}

// Broadcast pushes an event to every authenticated connection.
func (d *Dispatcher) Broadcast(event string, data any) {
	d.mu.Lock()
	conns := make([]*conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		c.sendEvent(event, data)
	}
}

func (d *Dispatcher) addConn(c *conn) {
	d.mu.Lock()
	d.conns[c] = true
	d.mu.Unlock()
}

func (d *Dispatcher) removeConn(c *conn) {
	d.mu.Lock()
	delete(d.conns, c)
	d.mu.Unlock()
}

func (d *Dispatcher) closeConns() {
	d.mu.Lock()
	conns := make([]*conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// dispatch handles one raw frame from an authenticated connection.
func (d *Dispatcher) dispatch(c *conn, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.enqueue(mustMarshal(response{Error: &rpcError{Code: codeParse, Message: "parse error"}}))
		return
	}
	if req.ID == "" || req.Method == "" {
		c.enqueue(mustMarshal(response{ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "id and method required"}}))
		return
	}

	h, ok := d.handlers()[req.Method]
	if !ok {
		d.respondError(c, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		return
	}
	if err := validateParams(req.Method, req.Params); err != nil {
		d.respondError(c, req.ID, codeInvalidParams, err.Error())
		return
	}

	result, rpcErr := h(c, req.Params)
	if rpcErr != nil {
		c.enqueue(mustMarshal(response{ID: req.ID, Error: rpcErr}))
		return
	}
	c.enqueue(mustMarshal(response{ID: req.ID, Result: result}))
}

func (d *Dispatcher) respondError(c *conn, id string, code int, message string) {
	c.enqueue(mustMarshal(response{ID: id, Error: &rpcError{Code: code, Message: message}}))
}

func (d *Dispatcher) handlers() map[string]handler {
	return map[string]handler{
		"health.check":    d.handleHealth,
		"agents.list":     d.handleAgentsList,
		"sessions.create": d.handleSessionsCreate,
		"sessions.list":   d.handleSessionsList,
		"sessions.get":    d.handleSessionsGet,
		"chat.send":       d.handleChatSend,
		"chat.history":    d.handleChatHistory,
		"chat.abort":      d.handleChatAbort,
		"exec.approve":    d.handleExecApprove,
		"exec.deny":       d.handleExecDeny,
		"memory.search":   d.handleMemorySearch,
		"scheduler.list":  d.handleSchedulerList,
		"scheduler.get":   d.handleSchedulerGet,
		"scheduler.runs":  d.handleSchedulerRuns,
	}
}

func (d *Dispatcher) handleHealth(c *conn, params json.RawMessage) (any, *rpcError) {
	return map[string]any{"status": "ok", "uptime": int(time.Since(d.start).Seconds())}, nil
}

func (d *Dispatcher) handleAgentsList(c *conn, params json.RawMessage) (any, *rpcError) {
	agents := d.workspace.Agents()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"id":          a.ID,
			"model":       a.Provider + "/" + a.Model,
			"description": a.Description,
		})
	}
	return map[string]any{"agents": out}, nil
}

func (d *Dispatcher) handleSessionsCreate(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		AgentID string `json:"agentId"`
	}
	json.Unmarshal(params, &p)
	if p.AgentID == "" {
		p.AgentID = d.defaultAgent
	}
	meta, err := d.sessions.Create(p.AgentID)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"sessionKey": meta.Key, "meta": meta}, nil
}

func (d *Dispatcher) handleSessionsList(c *conn, params json.RawMessage) (any, *rpcError) {
	metas, err := d.sessions.List()
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"sessions": metas}, nil
}

func (d *Dispatcher) handleSessionsGet(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	json.Unmarshal(params, &p)
	meta, err := d.sessions.Get(p.SessionKey)
	if err != nil {
		return nil, internalError(err)
	}
	if meta == nil {
		return nil, &rpcError{Code: codeInternal, Message: "session not found"}
	}
	events, err := d.sessions.ReadEvents(p.SessionKey, 0)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"session": meta, "messages": events}, nil
}

func (d *Dispatcher) handleChatSend(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		SessionKey string `json:"sessionKey"`
		Message    string `json:"message"`
	}
	json.Unmarshal(params, &p)

	meta, err := d.sessions.Get(p.SessionKey)
	if err != nil {
		return nil, internalError(err)
	}
	if meta == nil {
		return nil, &rpcError{Code: codeInternal, Message: "session not found"}
	}

	runID := uuid.New().String()
	if err := d.sessions.AppendEvent(p.SessionKey, &sessions.TranscriptEvent{
		Role:    sessions.RoleUser,
		Content: p.Message,
		RunID:   runID,
	}); err != nil {
		return nil, internalError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.activeRuns[runID] = cancel
	d.mu.Unlock()

	go d.runChat(ctx, c, meta, runID)
	return map[string]any{"runId": runID}, nil
}

func (d *Dispatcher) handleChatHistory(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		SessionKey string `json:"sessionKey"`
		Limit      int    `json:"limit"`
	}
	json.Unmarshal(params, &p)
	if p.Limit == 0 {
		p.Limit = 100
	}
	meta, err := d.sessions.Get(p.SessionKey)
	if err != nil {
		return nil, internalError(err)
	}
	if meta == nil {
		return nil, &rpcError{Code: codeInternal, Message: "session not found"}
	}
	events, err := d.sessions.ReadEvents(p.SessionKey, p.Limit)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"messages": events}, nil
}

func (d *Dispatcher) handleChatAbort(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		RunID string `json:"runId"`
	}
	json.Unmarshal(params, &p)
	d.mu.Lock()
	cancel, ok := d.activeRuns[p.RunID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) handleExecApprove(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		ApprovalID string `json:"approvalId"`
	}
	json.Unmarshal(params, &p)
	if !d.approvals.Resolve(p.ApprovalID) {
		return nil, &rpcError{Code: codeInvalidParams, Message: "unknown approval id"}
	}
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) handleExecDeny(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		ApprovalID string `json:"approvalId"`
		Reason     string `json:"reason"`
	}
	json.Unmarshal(params, &p)
	if !d.approvals.Reject(p.ApprovalID, p.Reason) {
		return nil, &rpcError{Code: codeInvalidParams, Message: "unknown approval id"}
	}
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) handleMemorySearch(c *conn, params json.RawMessage) (any, *rpcError) {
	var p struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	json.Unmarshal(params, &p)
	if p.K == 0 {
		p.K = 10
	}
	results, err := d.memory.Search(context.Background(), p.Query, p.K)
	if err != nil {
		return nil, internalError(err)
	}
	if results == nil {
		results = []memory.Entry{}
	}
	return map[string]any{"results": results}, nil
}

func (d *Dispatcher) handleSchedulerList(c *conn, params json.RawMessage) (any, *rpcError) {
	if d.scheduler == nil {
		return nil, &rpcError{Code: codeInternal, Message: "scheduler unavailable"}
	}
	var p struct {
		EnabledOnly bool `json:"enabledOnly"`
	}
	json.Unmarshal(params, &p)
	jobs, err := d.scheduler.Store().ListJobs(context.Background(), p.EnabledOnly)
	if err != nil {
		return nil, internalError(err)
	}
	if jobs == nil {
		jobs = []*scheduler.Job{}
	}
	return map[string]any{"jobs": jobs}, nil
}

func (d *Dispatcher) handleSchedulerGet(c *conn, params json.RawMessage) (any, *rpcError) {
	if d.scheduler == nil {
		return nil, &rpcError{Code: codeInternal, Message: "scheduler unavailable"}
	}
	var p struct {
		ID string `json:"id"`
	}
	json.Unmarshal(params, &p)
	job, err := d.scheduler.GetJob(context.Background(), p.ID)
	if err != nil {
		return nil, internalError(err)
	}
	if job == nil {
		return nil, &rpcError{Code: codeInternal, Message: "job not found"}
	}
	return map[string]any{"job": job}, nil
}

func (d *Dispatcher) handleSchedulerRuns(c *conn, params json.RawMessage) (any, *rpcError) {
	if d.scheduler == nil {
		return nil, &rpcError{Code: codeInternal, Message: "scheduler unavailable"}
	}
	var p struct {
		JobID string `json:"jobId"`
		Limit int    `json:"limit"`
	}
	json.Unmarshal(params, &p)
	if p.Limit == 0 {
		p.Limit = 20
	}
	runs, err := d.scheduler.ListRuns(context.Background(), p.JobID, p.Limit)
	if err != nil {
		return nil, internalError(err)
	}
	if runs == nil {
		runs = []*scheduler.Run{}
	}
	return map[string]any{"runs": runs}, nil
}

// runChat executes one interactive turn, streaming deltas and tool traffic
// back to the requesting connection.
func (d *Dispatcher) runChat(ctx context.Context, c *conn, meta *sessions.Meta, runID string) {
	defer func() {
		d.mu.Lock()
		delete(d.activeRuns, runID)
		d.mu.Unlock()
	}()

	providerName, model := "", ""
	if ag, ok := d.workspace.Agent(meta.AgentID); ok {
		providerName, model = ag.Provider, ag.Model
	}
	provider, model, err := d.providers.Resolve(providerName, model)
	if err != nil {
		c.sendEvent("chat.error", map[string]any{"runId": runID, "message": err.Error()})
		return
	}

	messages, err := d.historyMessages(meta.Key)
	if err != nil {
		c.sendEvent("chat.error", map[string]any{"runId": runID, "message": err.Error()})
		return
	}

	var (
		buf      strings.Builder
		usage    agent.Usage
		done     bool
		errored  bool
	)
	err = agent.RunTurn(ctx, agent.TurnOptions{
		Provider: provider,
		Model:    model,
		System:   d.workspace.SystemPrompt(),
		Messages: messages,
		Tools:    d.tools.Definitions(),
		OnEvent: func(ev agent.ChatEvent) {
			switch {
			case ev.Err != "":
				errored = true
				c.sendEvent("chat.error", map[string]any{"runId": runID, "message": ev.Err})
			case ev.Done:
				// Intermediate turns of the tool loop also end with a
				// terminal event; only the last one becomes chat.final.
				done = true
				usage.InputTokens += ev.Usage.InputTokens
				usage.OutputTokens += ev.Usage.OutputTokens
			case ev.Text != "":
				buf.WriteString(ev.Text)
				c.sendEvent("chat.delta", map[string]any{"runId": runID, "text": ev.Text})
			}
		},
		OnToolCall: func(name string, input []byte, callID string) string {
			return d.invokeTool(ctx, c, meta.Key, runID, name, input)
		},
	})
	if err != nil {
		// Aborted runs end silently; the client asked for the cancel.
		d.logger.Debug("chat run ended", "runId", runID, "error", err)
		return
	}

	if text := buf.String(); text != "" {
		if err := d.sessions.AppendEvent(meta.Key, &sessions.TranscriptEvent{
			Role:    sessions.RoleAssistant,
			Content: text,
			RunID:   runID,
		}); err != nil {
			d.logger.Warn("append assistant transcript", "session", meta.Key, "error", err)
		}
	}
	if done && !errored {
		c.sendEvent("chat.final", map[string]any{"runId": runID, "usage": usage})
	}
}

// historyMessages rebuilds the provider message list from the transcript.
// Tool traffic is not replayed; only user and assistant text carries over.
func (d *Dispatcher) historyMessages(sessionKey string) ([]agent.Message, error) {
	events, err := d.sessions.ReadEvents(sessionKey, 0)
	if err != nil {
		return nil, err
	}
	var messages []agent.Message
	for _, ev := range events {
		switch ev.Role {
		case sessions.RoleUser:
			messages = append(messages, agent.TextMessage(agent.RoleUser, ev.Content))
		case sessions.RoleAssistant:
			messages = append(messages, agent.TextMessage(agent.RoleAssistant, ev.Content))
		}
	}
	return messages, nil
}

// invokeTool is the live-path tool callback: schema validation, the
// approval round-trip, execution, redaction and audit.
func (d *Dispatcher) invokeTool(ctx context.Context, c *conn, sessionKey, runID, name string, input []byte) string {
	tool, ok := d.tools.Get(name)
	if !ok {
		return fmt.Sprintf("Tool not found: %s", name)
	}
	if err := agent.ValidateInput(tool.Schema(), input); err != nil {
		return fmt.Sprintf("Invalid input for %s: %v", name, err)
	}

	if tool.RequiresApproval() {
		approvalID := uuid.New().String()
		decision := d.approvals.Request(approvalID)
		// The pending entry exists before the client hears about it, so an
		// instant response cannot be lost.
		c.sendEvent("exec.approval_request", map[string]any{
			"approvalId": approvalID,
			"toolName":   name,
			"summary":    toolSummary(name, input),
			"details":    json.RawMessage(input),
		})
		if err := agent.AwaitDecision(ctx, decision); err != nil {
			output := err.Error()
			d.audit.Log(&audit.Event{
				Kind:       audit.KindToolDenied,
				SessionKey: sessionKey,
				RunID:      runID,
				Tool:       name,
				Detail:     map[string]any{"summary": toolSummary(name, input)},
			})
			d.appendToolTranscript(sessionKey, runID, name, output, 1)
			return output
		}
	}

	toolCtx := &agent.ToolContext{
		SessionKey:   sessionKey,
		RunID:        runID,
		WorkspaceDir: d.workspace.Dir(),
		Approvals:    d.approvals,
		SendEvent:    c.sendEvent,
		ReportProgress: func(message string) {
			c.sendEvent("tool.progress", map[string]any{"runId": runID, "message": message})
		},
	}

	var output string
	var exitCode int
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		output = fmt.Sprintf("Tool %s failed: %v", name, err)
		exitCode = 1
	} else {
		output = result.Output
		exitCode = result.ExitCode
		if len(result.Attachments) > 0 {
			c.sendEvent("tool.attachments", map[string]any{
				"runId":       runID,
				"tool":        name,
				"attachments": result.Attachments,
			})
		}
	}
	output = d.filter.Apply(output)

	d.audit.Log(&audit.Event{
		Kind:       audit.KindToolExec,
		SessionKey: sessionKey,
		RunID:      runID,
		Tool:       name,
		Detail: map[string]any{
			"summary":  toolSummary(name, input),
			"exitCode": exitCode,
		},
	})
	d.appendToolTranscript(sessionKey, runID, name, output, exitCode)
	return output
}

func (d *Dispatcher) appendToolTranscript(sessionKey, runID, tool, output string, exitCode int) {
	if err := d.sessions.AppendEvent(sessionKey, &sessions.TranscriptEvent{
		Role:     sessions.RoleToolResult,
		Content:  output,
		RunID:    runID,
		ToolName: tool,
		ExitCode: exitCode,
	}); err != nil {
		d.logger.Warn("append tool transcript", "session", sessionKey, "error", err)
	}
}

// toolSummary gives the approval prompt a one-line human summary: the bash
// command itself, or a compact rendering of the input for other tools.
func toolSummary(name string, input []byte) string {
	if name == "bash" {
		var p struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &p); err == nil && p.Command != "" {
			return p.Command
		}
	}
	compact := string(input)
	if len(compact) > 120 {
		compact = compact[:120] + "..."
	}
	return compact
}

func internalError(err error) *rpcError {
	return &rpcError{Code: codeInternal, Message: err.Error()}
}
