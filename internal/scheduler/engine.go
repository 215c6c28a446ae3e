package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearthd/internal/agent"
	"github.com/hearthd/hearthd/internal/agent/providers"
	"github.com/hearthd/hearthd/internal/audit"
	"github.com/hearthd/hearthd/internal/cron"
	"github.com/hearthd/hearthd/internal/security"
	"github.com/hearthd/hearthd/internal/sessions"
	"github.com/hearthd/hearthd/internal/workspace"
)

// maxTimerDelay is the longest single timer the engine arms (~24.8 days).
// Beyond it a relay timer re-plans the job a day later, so far-future cron
// matches survive arbitrarily long gaps.
const (
	maxTimerDelay = time.Duration(math.MaxInt32) * time.Millisecond
	relayDelay    = 24 * time.Hour
)

const schedulerPreamble = `This is an unattended scheduled run. Every tool is pre-approved: do not
ask for confirmation or permission, execute the task directly and report the
outcome.`

const retryReminder = `Reminder: all tools are already approved for this scheduled run. Do not
ask for confirmation; execute the task now.`

// approvalMarkers flag assistant output that reads like a permission
// request. A turn ending in one of these with no tool calls is retried once.
var approvalMarkers = []string{"approve", "approval", "proceed", "permission", "confirm"}

// Options wires the engine's collaborators.
type Options struct {
	Store     *Store
	Providers *providers.Registry
	Sessions  *sessions.Store
	Tools     *agent.Registry
	Audit     *audit.Logger
	Filter    *security.Filter
	Workspace *workspace.Workspace

	// Broadcast pushes scheduler.run_completed to connected clients.
	// Optional.
	Broadcast func(event string, data any)
}

// Engine owns the job timers and executes full agent turns when they fire.
// At most one execution per job is in flight at any instant.
type Engine struct {
	store     *Store
	providers *providers.Registry
	sessions  *sessions.Store
	tools     *agent.Registry
	audit     *audit.Logger
	filter    *security.Filter
	workspace *workspace.Workspace
	broadcast func(event string, data any)
	logger    *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	active  map[string]bool
	running bool
}

// NewEngine builds a stopped engine.
func NewEngine(opts Options) *Engine {
	return &Engine{
		store:     opts.Store,
		providers: opts.Providers,
		sessions:  opts.Sessions,
		tools:     opts.Tools,
		audit:     opts.Audit,
		filter:    opts.Filter,
		workspace: opts.Workspace,
		broadcast: opts.Broadcast,
		logger:    slog.Default().With("component", "scheduler"),
		timers:    make(map[string]*time.Timer),
		active:    make(map[string]bool),
	}
}

// Start arms a timer for every enabled job. Occurrences missed while the
// process was down are skipped; only the next future instant is planned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	jobs, err := e.store.ListJobs(ctx, true)
	if err != nil {
		return fmt.Errorf("load enabled jobs: %w", err)
	}
	for _, job := range jobs {
		e.scheduleJob(job)
	}
	e.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop cancels every timer. In-flight executions finish on their own.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.logger.Info("scheduler stopped")
}

// Store exposes the underlying persistence layer.
func (e *Engine) Store() *Store { return e.store }

// ActiveTimerCount reports the number of armed timers.
func (e *Engine) ActiveTimerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// scheduleJob cancels any existing timer for the job and, when the engine
// runs and the job is enabled, arms the next one.
func (e *Engine) scheduleJob(job *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, ok := e.timers[job.ID]; ok {
		timer.Stop()
		delete(e.timers, job.ID)
	}
	if !e.running || !job.Enabled {
		return
	}

	next, err := cron.NextRun(job.CronExpression, time.Now())
	if err != nil {
		e.logger.Warn("cannot plan job", "job", job.ID, "cron", job.CronExpression, "error", err)
		return
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	if delay > maxTimerDelay {
		// Relay: re-plan in a day rather than arming an oversized timer.
		e.timers[job.ID] = time.AfterFunc(relayDelay, func() { e.scheduleJob(job) })
		return
	}
	e.timers[job.ID] = time.AfterFunc(delay, func() { e.executeJob(job) })
}

// executeJob runs one scheduled agent turn end to end. Whatever happens, the
// job's next timer is re-armed from fresh state afterwards.
func (e *Engine) executeJob(job *Job) {
	ctx := context.Background()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if e.active[job.ID] {
		e.mu.Unlock()
		e.logger.Warn("job already executing, skipping this fire", "job", job.ID)
		e.scheduleJob(job)
		return
	}
	e.active[job.ID] = true
	delete(e.timers, job.ID)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, job.ID)
		e.mu.Unlock()
		if fresh, err := e.store.GetJob(ctx, job.ID); err == nil && fresh != nil {
			e.scheduleJob(fresh)
		}
	}()

	run := &Run{JobID: job.ID, Status: StatusRunning}
	if err := e.store.InsertRun(ctx, run); err != nil {
		e.logger.Error("insert run row", "job", job.ID, "error", err)
		return
	}

	summary, err := e.runAgentTurn(ctx, job, run)
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if err != nil {
		run.Status = StatusError
		run.Error = err.Error()
		e.logger.Error("scheduled run failed", "job", job.ID, "run", run.ID, "error", err)
	} else {
		run.Status = StatusSuccess
		run.Summary = summary
	}
	if dbErr := e.store.UpdateRun(ctx, run); dbErr != nil {
		e.logger.Error("update run row", "run", run.ID, "error", dbErr)
	}
	lastSummary := run.Summary
	if run.Status == StatusError {
		lastSummary = run.Error
	}
	if dbErr := e.store.SetLastRun(ctx, job.ID, finished, run.Status, lastSummary); dbErr != nil {
		e.logger.Error("update job last-run fields", "job", job.ID, "error", dbErr)
	}

	if e.broadcast != nil {
		e.broadcast("scheduler.run_completed", map[string]any{
			"jobId":      job.ID,
			"jobName":    job.Name,
			"runId":      run.ID,
			"sessionKey": run.SessionKey,
			"status":     run.Status,
			"summary":    run.Summary,
			"error":      run.Error,
		})
	}
}

// runAgentTurn performs the provider/tool loop for one scheduled job and
// returns the assistant's final text as the run summary.
func (e *Engine) runAgentTurn(ctx context.Context, job *Job, run *Run) (summary string, err error) {
	meta, err := e.sessions.Create(job.AgentID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	// Persist the session key onto the run row before the turn starts, so
	// tool audit events carry it and a crash mid-run still leaves the row
	// pointing at its transcript.
	run.SessionKey = meta.Key
	if dbErr := e.store.UpdateRun(ctx, run); dbErr != nil {
		e.logger.Warn("persist run session key", "run", run.ID, "error", dbErr)
	}
	if err := e.sessions.AppendEvent(run.SessionKey, &sessions.TranscriptEvent{
		Role:    sessions.RoleUser,
		Content: job.Prompt,
		RunID:   run.ID,
	}); err != nil {
		return "", fmt.Errorf("append prompt: %w", err)
	}

	providerName, model := "", ""
	if ag, ok := e.workspace.Agent(job.AgentID); ok {
		providerName, model = ag.Provider, ag.Model
	}
	provider, model, err := e.providers.Resolve(providerName, model)
	if err != nil {
		return "", err
	}

	system := schedulerPreamble + "\n\n" + e.workspace.SystemPrompt()
	if overlay := e.workspace.SchedulerOverlay(); overlay != "" {
		system += "\n\n" + overlay
	}

	defs := e.preApprovedDefinitions()
	messages := []agent.Message{agent.TextMessage(agent.RoleUser, job.Prompt)}

	text, hadToolCalls, streamErr, err := e.runOnce(ctx, provider, model, system, defs, messages, run)
	if err != nil {
		return "", err
	}
	if streamErr == "" && !hadToolCalls && looksLikeApprovalRequest(text) {
		messages = append(messages,
			agent.TextMessage(agent.RoleAssistant, text),
			agent.TextMessage(agent.RoleUser, retryReminder),
		)
		text, _, streamErr, err = e.runOnce(ctx, provider, model, system, defs, messages, run)
		if err != nil {
			return "", err
		}
	}
	if streamErr != "" {
		return "", fmt.Errorf("provider stream: %s", streamErr)
	}

	if text == "" {
		text = "(no output)"
	}
	if err := e.sessions.AppendEvent(run.SessionKey, &sessions.TranscriptEvent{
		Role:    sessions.RoleAssistant,
		Content: text,
		RunID:   run.ID,
	}); err != nil {
		e.logger.Warn("append assistant transcript", "session", run.SessionKey, "error", err)
	}
	return text, nil
}

// runOnce executes a single RunTurn with the scheduler's auto-approving
// tool context and returns the accumulated assistant text.
func (e *Engine) runOnce(ctx context.Context, provider agent.Provider, model, system string,
	defs []agent.ToolDefinition, messages []agent.Message, run *Run) (text string, hadToolCalls bool, streamErr string, err error) {

	var buf strings.Builder
	toolCtx := &agent.ToolContext{
		SessionKey:   run.SessionKey,
		RunID:        run.ID,
		WorkspaceDir: e.workspace.Dir(),
		AutoApprove:  true,
	}

	err = agent.RunTurn(ctx, agent.TurnOptions{
		Provider: provider,
		Model:    model,
		System:   system,
		Messages: messages,
		Tools:    defs,
		OnEvent: func(ev agent.ChatEvent) {
			if ev.Text != "" {
				buf.WriteString(ev.Text)
			}
			if ev.Err != "" {
				streamErr = ev.Err
			}
		},
		OnToolCall: func(name string, input []byte, callID string) string {
			hadToolCalls = true
			return e.invokeTool(ctx, name, input, toolCtx, run)
		},
	})
	return buf.String(), hadToolCalls, streamErr, err
}

// invokeTool looks up, validates and executes one tool call on the
// scheduler path, redacting the output and recording the audit event.
// Failures come back as the tool's output string.
func (e *Engine) invokeTool(ctx context.Context, name string, input []byte, toolCtx *agent.ToolContext, run *Run) string {
	tool, ok := e.tools.Get(name)
	if !ok {
		return fmt.Sprintf("Tool not found: %s", name)
	}
	var output string
	if err := agent.ValidateInput(tool.Schema(), input); err != nil {
		output = fmt.Sprintf("Invalid input for %s: %v", name, err)
	} else if result, err := tool.Execute(ctx, input, toolCtx); err != nil {
		output = fmt.Sprintf("Tool %s failed: %v", name, err)
	} else {
		output = result.Output
	}
	output = e.filter.Apply(output)

	e.audit.Log(&audit.Event{
		Kind:       audit.KindSchedulerRun,
		SessionKey: toolCtx.SessionKey,
		RunID:      run.ID,
		Tool:       name,
		Detail:     map[string]any{"jobId": run.JobID, "output": truncateForAudit(output)},
	})
	return output
}

// preApprovedDefinitions rewrites the tool definitions so tools that would
// normally gate on approval advertise their pre-approval to the model.
func (e *Engine) preApprovedDefinitions() []agent.ToolDefinition {
	var defs []agent.ToolDefinition
	for _, tool := range e.tools.All() {
		desc := tool.Description()
		if tool.RequiresApproval() {
			desc += " (Pre-approved for this scheduled run; no confirmation needed.)"
		}
		defs = append(defs, agent.ToolDefinition{
			Name:        tool.Name(),
			Description: desc,
			InputSchema: tool.Schema(),
		})
	}
	return defs
}

func looksLikeApprovalRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range approvalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncateForAudit(s string) string {
	const max = 2048
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
