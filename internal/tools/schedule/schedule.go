// Package schedule implements the tool the model uses to manage cron jobs.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hearthd/hearthd/internal/agent"
	"github.com/hearthd/hearthd/internal/cron"
	"github.com/hearthd/hearthd/internal/scheduler"
)

const recentRunCount = 5

const inputSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["create", "list", "get", "update", "delete"]},
		"jobId": {"type": "string", "description": "Target job id for get/update/delete"},
		"name": {"type": "string"},
		"cronExpression": {"type": "string", "description": "Five-field cron expression"},
		"prompt": {"type": "string", "description": "Prompt delivered to the agent when the job fires"},
		"agentId": {"type": "string"},
		"enabled": {"type": "boolean"}
	},
	"required": ["action"],
	"additionalProperties": false
}`

type input struct {
	Action         string `json:"action"`
	JobID          string `json:"jobId,omitempty"`
	Name           string `json:"name,omitempty"`
	CronExpression string `json:"cronExpression,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// Tool lets the model create and manage scheduled jobs. It runs without
// approval; the jobs it creates get the scheduler's own guardrails at
// execution time.
type Tool struct {
	engine *scheduler.Engine
}

// New builds the schedule tool over the running engine.
func New(engine *scheduler.Engine) *Tool {
	return &Tool{engine: engine}
}

func (t *Tool) Name() string { return "schedule" }

func (t *Tool) Description() string {
	return "Create, list, inspect, update or delete scheduled jobs that run agent prompts on a cron expression."
}

func (t *Tool) Schema() json.RawMessage { return json.RawMessage(inputSchema) }

func (t *Tool) RequiresApproval() bool { return false }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode schedule input: %w", err)
	}

	var (
		out string
		err error
	)
	switch in.Action {
	case "create":
		out, err = t.create(ctx, &in)
	case "list":
		out, err = t.list(ctx)
	case "get":
		out, err = t.get(ctx, in.JobID)
	case "update":
		out, err = t.update(ctx, &in)
	case "delete":
		out, err = t.delete(ctx, in.JobID)
	default:
		return nil, fmt.Errorf("unknown schedule action %q", in.Action)
	}
	if err != nil {
		return &agent.ToolResult{Output: "Error: " + err.Error(), ExitCode: 1}, nil
	}
	return &agent.ToolResult{Output: out}, nil
}

func (t *Tool) create(ctx context.Context, in *input) (string, error) {
	if in.CronExpression == "" || in.Prompt == "" {
		return "", fmt.Errorf("create requires cronExpression and prompt")
	}
	name := in.Name
	if name == "" {
		name = defaultName(in.Prompt)
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	job := &scheduler.Job{
		Name:           name,
		CronExpression: in.CronExpression,
		Prompt:         in.Prompt,
		AgentID:        in.AgentID,
		Enabled:        enabled,
	}
	if err := t.engine.CreateJob(ctx, job); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created job %q (%s), %s: %s", job.Name, job.ID, describe(job.CronExpression), state(job.Enabled)), nil
}

func (t *Tool) list(ctx context.Context) (string, error) {
	jobs, err := t.engine.ListJobs(ctx)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled job(s):\n", len(jobs))
	for _, job := range jobs {
		lastRun := "never run"
		if job.LastRunAt != nil {
			lastRun = fmt.Sprintf("last run %s (%s)", job.LastRunStatus, firstLine(job.LastRunSummary))
		}
		fmt.Fprintf(&b, "- %s [%s] %q: %s, %s\n", job.ID, state(job.Enabled), job.Name, job.CronExpression, lastRun)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Tool) get(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("get requires jobId")
	}
	job, err := t.engine.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job %s not found", jobID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Job %q (%s)\n", job.Name, job.ID)
	fmt.Fprintf(&b, "State: %s\n", state(job.Enabled))
	fmt.Fprintf(&b, "Schedule: %s (%s)\n", job.CronExpression, describe(job.CronExpression))
	fmt.Fprintf(&b, "Agent: %s\n", job.AgentID)
	fmt.Fprintf(&b, "Prompt: %s\n", job.Prompt)
	if next, err := cron.NextRun(job.CronExpression, timeNow()); err == nil {
		fmt.Fprintf(&b, "Next run: %s\n", next.Format("2006-01-02 15:04"))
	}

	runs, err := t.engine.ListRuns(ctx, job.ID, recentRunCount)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		b.WriteString("No runs yet.")
		return b.String(), nil
	}
	fmt.Fprintf(&b, "Recent runs (%d):\n", len(runs))
	for _, run := range runs {
		line := fmt.Sprintf("- %s %s", run.StartedAt.Format("2006-01-02 15:04"), run.Status)
		if run.Status == scheduler.StatusError && run.Error != "" {
			line += ": " + firstLine(run.Error)
		} else if run.Summary != "" {
			line += ": " + firstLine(run.Summary)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Tool) update(ctx context.Context, in *input) (string, error) {
	if in.JobID == "" {
		return "", fmt.Errorf("update requires jobId")
	}
	job, err := t.engine.GetJob(ctx, in.JobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job %s not found", in.JobID)
	}
	if in.Name != "" {
		job.Name = in.Name
	}
	if in.CronExpression != "" {
		job.CronExpression = in.CronExpression
	}
	if in.Prompt != "" {
		job.Prompt = in.Prompt
	}
	if in.AgentID != "" {
		job.AgentID = in.AgentID
	}
	if in.Enabled != nil {
		job.Enabled = *in.Enabled
	}
	if err := t.engine.UpdateJob(ctx, job); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated job %q (%s), %s: %s", job.Name, job.ID, describe(job.CronExpression), state(job.Enabled)), nil
}

func (t *Tool) delete(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("delete requires jobId")
	}
	if err := t.engine.DeleteJob(ctx, jobID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted job %s.", jobID), nil
}

// timeNow is swapped in tests.
var timeNow = time.Now

func describe(expr string) string {
	if desc, err := cron.Describe(expr); err == nil {
		return desc
	}
	return expr
}

func state(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func defaultName(prompt string) string {
	name := firstLine(prompt)
	if len(name) > 40 {
		name = name[:40]
	}
	return name
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
