package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestWorkspace(t *testing.T, files map[string]string) *Workspace {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestAgentsParsing(t *testing.T) {
	w := newTestWorkspace(t, map[string]string{
		"AGENTS.md": `# My Agents

Some introductory prose the parser must tolerate.

## assistant

Model: anthropic/claude-sonnet-4-20250514

General-purpose helper.

## researcher

Digs through sources before answering.

Model: openai/gpt-4o

### not an agent heading

## empty-model
`,
	})

	agents := w.Agents()
	if len(agents) != 3 {
		t.Fatalf("got %d agents, want 3", len(agents))
	}

	a := agents[0]
	if a.ID != "assistant" || a.Provider != "anthropic" || a.Model != "claude-sonnet-4-20250514" {
		t.Errorf("assistant = %+v", a)
	}
	if a.Description != "General-purpose helper." {
		t.Errorf("description = %q", a.Description)
	}

	r := agents[1]
	if r.Provider != "openai" || r.Model != "gpt-4o" {
		t.Errorf("researcher = %+v", r)
	}
	if r.Description != "Digs through sources before answering." {
		t.Errorf("description = %q", r.Description)
	}

	if agents[2].ID != "empty-model" || agents[2].Model != "" {
		t.Errorf("empty-model = %+v", agents[2])
	}
}

func TestAgentLookup(t *testing.T) {
	w := newTestWorkspace(t, map[string]string{
		"AGENTS.md": "## solo\n\nModel: openai/gpt-4o-mini\n",
	})
	if _, ok := w.Agent("missing"); ok {
		t.Error("unexpected hit for missing agent")
	}
	agent, ok := w.Agent("solo")
	if !ok || agent.Model != "gpt-4o-mini" {
		t.Errorf("Agent(solo) = %+v, %v", agent, ok)
	}
}

func TestSeedsDefaultAgentsFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	agents := w.Agents()
	if len(agents) != 1 || agents[0].ID != "assistant" {
		t.Errorf("seeded agents = %+v", agents)
	}
}

func TestSystemPromptIncludesOverlays(t *testing.T) {
	w := newTestWorkspace(t, map[string]string{
		"SOUL.md":  "Speak plainly.",
		"TOOLS.md": "Prefer the bash tool for file inspection.",
	})
	prompt := w.SystemPrompt()
	if !strings.Contains(prompt, "Speak plainly.") {
		t.Error("SOUL.md missing from system prompt")
	}
	if !strings.Contains(prompt, "Prefer the bash tool") {
		t.Error("TOOLS.md missing from system prompt")
	}
}

func TestSchedulerOverlay(t *testing.T) {
	w := newTestWorkspace(t, map[string]string{
		"SCHEDULER.md": "Scheduled runs report tersely.",
	})
	if got := w.SchedulerOverlay(); got != "Scheduled runs report tersely." {
		t.Errorf("SchedulerOverlay = %q", got)
	}
}

func TestSchedulerOverlayAbsent(t *testing.T) {
	w := newTestWorkspace(t, nil)
	if got := w.SchedulerOverlay(); got != "" {
		t.Errorf("SchedulerOverlay = %q, want empty", got)
	}
}

func TestCacheInvalidationOnEdit(t *testing.T) {
	w := newTestWorkspace(t, map[string]string{
		"SOUL.md": "version one",
	})
	if !strings.Contains(w.SystemPrompt(), "version one") {
		t.Fatal("initial read failed")
	}
	if err := os.WriteFile(filepath.Join(w.Dir(), "SOUL.md"), []byte("version two"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The watcher needs a moment to deliver the event.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.SystemPrompt(), "version two") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("edit never became visible through the cache")
}
