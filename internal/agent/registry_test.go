package agent

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name     string
	desc     string
	approval bool
	output   string
}

func (t *stubTool) Name() string             { return t.name }
func (t *stubTool) Description() string      { return t.desc }
func (t *stubTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) RequiresApproval() bool   { return t.approval }
func (t *stubTool) Execute(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
	return &ToolResult{Output: t.output}, nil
}

func TestRegistryOrderAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "bash"})
	r.Register(&stubTool{name: "browser"})
	r.Register(&stubTool{name: "schedule"})

	if _, ok := r.Get("browser"); !ok {
		t.Fatal("browser not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unexpected hit")
	}

	all := r.All()
	want := []string{"bash", "browser", "schedule"}
	if len(all) != len(want) {
		t.Fatalf("got %d tools", len(all))
	}
	for i, name := range want {
		if all[i].Name() != name {
			t.Errorf("tool %d = %s, want %s", i, all[i].Name(), name)
		}
	}
}

func TestRegistryOverwriteByName(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "bash", output: "old"})
	r.Register(&stubTool{name: "bash", output: "new"})

	if got := len(r.All()); got != 1 {
		t.Fatalf("registry holds %d tools, want 1", got)
	}
	tool, _ := r.Get("bash")
	res, err := tool.Execute(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "new" {
		t.Errorf("output = %q, want the replacement tool", res.Output)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "bash", desc: "run a shell command"})
	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0].Name != "bash" || defs[0].Description != "run a shell command" {
		t.Errorf("definition = %+v", defs[0])
	}
	if len(defs[0].InputSchema) == 0 {
		t.Error("empty schema")
	}
}
