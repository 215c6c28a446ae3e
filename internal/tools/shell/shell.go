// Package shell implements the approval-gated shell execution tool.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hearthd/hearthd/internal/agent"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxOutput = 100 * 1024
	// killDelay is the grace between the polite termination signal and the
	// forced kill.
	killDelay = 2 * time.Second
)

// credentialEnvPattern strips credential-shaped variables from the child's
// environment.
var credentialEnvPattern = regexp.MustCompile(`(?i)_(KEY|SECRET|TOKEN|PASSWORD|CREDENTIAL)$`)

// defaultScrubKeys are stripped by exact name regardless of shape.
var defaultScrubKeys = []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "HEARTHD_TOKEN"}

const inputSchema = `{
	"type": "object",
	"properties": {
		"command": {"type": "string", "minLength": 1, "description": "Shell command to execute"},
		"workingDir": {"type": "string", "description": "Working directory for the command"}
	},
	"required": ["command"],
	"additionalProperties": false
}`

type input struct {
	Command    string `json:"command"`
	WorkingDir string `json:"workingDir,omitempty"`
}

// Tool runs a model-authored command through `sh -c` after user approval.
// The command string is passed verbatim as the single -c argument; the
// server never splices anything into it.
type Tool struct {
	timeout   time.Duration
	maxOutput int
	scrubKeys map[string]bool
	logger    *slog.Logger
}

// Option adjusts a Tool.
type Option func(*Tool)

// WithTimeout overrides the default 120s execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaxOutput overrides the default 100 KiB output cap.
func WithMaxOutput(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxOutput = n
		}
	}
}

// WithScrubKeys adds environment variable names stripped from the child
// process by exact match.
func WithScrubKeys(keys ...string) Option {
	return func(t *Tool) {
		for _, k := range keys {
			t.scrubKeys[k] = true
		}
	}
}

// New builds the shell tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		timeout:   defaultTimeout,
		maxOutput: defaultMaxOutput,
		scrubKeys: make(map[string]bool),
		logger:    slog.Default().With("component", "tool.shell"),
	}
	for _, k := range defaultScrubKeys {
		t.scrubKeys[k] = true
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string { return "bash" }

func (t *Tool) Description() string {
	return "Execute a shell command on the host and return its combined output. Requires user approval."
}

func (t *Tool) Schema() json.RawMessage { return json.RawMessage(inputSchema) }

func (t *Tool) RequiresApproval() bool { return true }

// Execute runs the command. Approval has already been settled by the caller;
// denial never reaches this method.
func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode shell input: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, errors.New("command must not be empty")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	buf := newBoundedBuffer(t.maxOutput)
	cmd := exec.CommandContext(runCtx, "sh", "-c", in.Command)
	cmd.Dir = in.WorkingDir
	cmd.Env = t.scrubbedEnv(os.Environ())
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &agent.ToolResult{
			Output:   "Failed to spawn process: " + err.Error(),
			ExitCode: 1,
		}, nil
	}
	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	t.logger.Debug("command finished",
		"exitCode", exitCode,
		"truncated", buf.Truncated(),
		"duration", time.Since(start),
	)
	return &agent.ToolResult{
		Output:    buf.String(),
		ExitCode:  exitCode,
		Truncated: buf.Truncated(),
	}, nil
}

// scrubbedEnv drops credential-bearing variables from the inherited
// environment.
func (t *Tool) scrubbedEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if t.scrubKeys[name] || credentialEnvPattern.MatchString(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// boundedBuffer keeps the first max bytes written and silently discards the
// rest, remembering that it did.
type boundedBuffer struct {
	mu        sync.Mutex
	data      []byte
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - len(b.data)
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.data = append(b.data, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
