// Package workspace reads the user-editable markdown files that shape agent
// behavior: AGENTS.md binds agent ids to provider/model pairs, SOUL.md and
// TOOLS.md extend the system prompt, SCHEDULER.md overlays scheduled runs.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const basePrompt = `You are a helpful local assistant running on the user's own machine.
Be concise. When a task needs a side effect, use the available tools rather
than describing what the user should do.`

const defaultAgentsFile = `# Agents

## assistant

Model: anthropic/claude-sonnet-4-20250514

General-purpose assistant.
`

// Agent is one entry parsed from AGENTS.md.
type Agent struct {
	ID          string
	Provider    string
	Model       string
	Description string
}

// Workspace reads workspace files through a small cache that an fsnotify
// watcher invalidates on change, so every turn sees current contents without
// a disk read per call.
type Workspace struct {
	dir     string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	cache map[string]string
}

// New prepares the workspace directory, seeding a default AGENTS.md when
// absent, and starts the change watcher. A watcher failure degrades to
// uncached reads rather than failing startup.
func New(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	agentsPath := filepath.Join(dir, "AGENTS.md")
	if _, err := os.Stat(agentsPath); os.IsNotExist(err) {
		if err := os.WriteFile(agentsPath, []byte(defaultAgentsFile), 0o644); err != nil {
			return nil, fmt.Errorf("seed AGENTS.md: %w", err)
		}
	}

	w := &Workspace{
		dir:    dir,
		logger: slog.Default().With("component", "workspace"),
		cache:  make(map[string]string),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("file watcher unavailable, reads are uncached", "error", err)
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("cannot watch workspace dir, reads are uncached", "error", err)
		watcher.Close()
		return w, nil
	}
	w.watcher = watcher
	go w.watchLoop()
	return w, nil
}

func (w *Workspace) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			w.mu.Lock()
			delete(w.cache, name)
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workspace watch error", "error", err)
		}
	}
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// Close stops the change watcher.
func (w *Workspace) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// read returns the file's contents, empty when absent. Cached until the
// watcher sees a change; without a watcher every call hits the disk.
func (w *Workspace) read(name string) string {
	if w.watcher != nil {
		w.mu.Lock()
		if content, ok := w.cache[name]; ok {
			w.mu.Unlock()
			return content
		}
		w.mu.Unlock()
	}
	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return ""
	}
	content := string(data)
	if w.watcher != nil {
		w.mu.Lock()
		w.cache[name] = content
		w.mu.Unlock()
	}
	return content
}

// Agents parses AGENTS.md. Each second-level heading is an agent id; the
// first "Model: provider/model" line beneath it binds the provider, and the
// first other prose line becomes the description. Arbitrary surrounding
// prose is tolerated.
func (w *Workspace) Agents() []Agent {
	content := w.read("AGENTS.md")
	if content == "" {
		return nil
	}
	var agents []Agent
	var current *Agent
	flush := func() {
		if current != nil {
			agents = append(agents, *current)
			current = nil
		}
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "## "):
			flush()
			id := strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			if id != "" {
				current = &Agent{ID: id}
			}
		case current == nil || trimmed == "" || strings.HasPrefix(trimmed, "#"):
			// Prose outside any agent block, blank lines, other headings.
		case strings.HasPrefix(strings.ToLower(trimmed), "model:"):
			if current.Model != "" {
				continue
			}
			ref := strings.TrimSpace(trimmed[len("model:"):])
			if provider, model, ok := strings.Cut(ref, "/"); ok {
				current.Provider = strings.TrimSpace(provider)
				current.Model = strings.TrimSpace(model)
			} else {
				current.Model = ref
			}
		default:
			if current.Description == "" {
				current.Description = trimmed
			}
		}
	}
	flush()
	return agents
}

// Agent looks up one agent by id.
func (w *Workspace) Agent(id string) (Agent, bool) {
	for _, agent := range w.Agents() {
		if agent.ID == id {
			return agent, true
		}
	}
	return Agent{}, false
}

// SystemPrompt builds the system prompt: the base prompt plus SOUL.md and
// TOOLS.md when present.
func (w *Workspace) SystemPrompt() string {
	parts := []string{basePrompt}
	if soul := strings.TrimSpace(w.read("SOUL.md")); soul != "" {
		parts = append(parts, soul)
	}
	if tools := strings.TrimSpace(w.read("TOOLS.md")); tools != "" {
		parts = append(parts, tools)
	}
	return strings.Join(parts, "\n\n")
}

// SchedulerOverlay returns the SCHEDULER.md contents, empty when absent.
// Only the scheduler's system prompt uses it.
func (w *Workspace) SchedulerOverlay() string {
	return strings.TrimSpace(w.read("SCHEDULER.md"))
}
