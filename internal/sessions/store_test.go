package sessions

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	meta, err := store.Create("assistant")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if meta.Key == "" {
		t.Fatal("empty session key")
	}
	got, err := store.Get(meta.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.AgentID != "assistant" {
		t.Errorf("Get = %+v", got)
	}
}

func TestGetUnknownReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get("no-such-session")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}

func TestAppendReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	meta, err := store.Create("assistant")
	if err != nil {
		t.Fatal(err)
	}

	want := []*TranscriptEvent{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there", RunID: "run-1"},
		{Role: RoleToolResult, Content: "ok", ToolName: "bash", RunID: "run-1"},
	}
	for _, ev := range want {
		if err := store.AppendEvent(meta.Key, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	got, err := store.ReadEvents(meta.Key, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[2].ToolName != "bash" {
		t.Errorf("toolName = %q", got[2].ToolName)
	}
}

func TestReadEventsLimit(t *testing.T) {
	store := newTestStore(t)
	meta, _ := store.Create("assistant")
	for i := 0; i < 5; i++ {
		if err := store.AppendEvent(meta.Key, &TranscriptEvent{Role: RoleUser, Content: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.ReadEvents(meta.Key, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Content != "d" || got[1].Content != "e" {
		t.Errorf("limited tail = %q, %q", got[0].Content, got[1].Content)
	}
}

func TestReadEventsDiscardsTornTrailingLine(t *testing.T) {
	store := newTestStore(t)
	meta, _ := store.Create("assistant")
	if err := store.AppendEvent(meta.Key, &TranscriptEvent{Role: RoleUser, Content: "intact"}); err != nil {
		t.Fatal(err)
	}
	// Simulate a torn write: partial JSON without trailing newline.
	path := store.transcriptPath(meta.Key)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"role":"assistant","content":"tor`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := store.ReadEvents(meta.Key, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 1 || got[0].Content != "intact" {
		t.Errorf("events = %+v, want only the intact record", got)
	}
}

func TestListNewestFirstSkipsMalformedMeta(t *testing.T) {
	store := newTestStore(t)
	first, _ := store.Create("assistant")
	time.Sleep(10 * time.Millisecond)
	second, _ := store.Create("assistant")

	// Drop a malformed metadata file alongside the real ones.
	bad := filepath.Join(store.dir, "deadbeef.meta.json")
	if err := os.WriteFile(bad, []byte("{corrupt"), 0o600); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d sessions, want 2", len(metas))
	}
	if metas[0].Key != second.Key || metas[1].Key != first.Key {
		t.Errorf("order = %s, %s; want newest first", metas[0].Key, metas[1].Key)
	}
}

func TestSetLabelAndTouch(t *testing.T) {
	store := newTestStore(t)
	meta, _ := store.Create("assistant")
	if err := store.SetLabel(meta.Key, "morning sync"); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}
	got, _ := store.Get(meta.Key)
	if got.Label != "morning sync" {
		t.Errorf("label = %q", got.Label)
	}
	before := got.UpdatedAt
	time.Sleep(10 * time.Millisecond)
	if err := store.Touch(meta.Key); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ = store.Get(meta.Key)
	if !got.UpdatedAt.After(before) {
		t.Error("Touch did not advance updatedAt")
	}
}

func TestSetLabelUnknownSession(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetLabel("missing", "x"); err == nil {
		t.Fatal("expected error")
	}
}
