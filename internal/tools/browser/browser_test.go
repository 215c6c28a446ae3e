package browser

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hearthd/hearthd/internal/agent"
)

// These tests exercise validation and the scheme screen; none of them may
// launch a real browser.

func TestBlockedURL(t *testing.T) {
	cases := []struct {
		url     string
		blocked bool
	}{
		{"https://example.com", false},
		{"http://example.com/page", false},
		{"file:///etc/passwd", true},
		{"chrome://settings", true},
		{"chrome-extension://abc/page.html", true},
		{"about:blank", true},
		{"javascript:alert(1)", true},
		{"ftp://example.com", true},
		{"", true},
	}
	for _, tc := range cases {
		if _, blocked := blockedURL(tc.url); blocked != tc.blocked {
			t.Errorf("blockedURL(%q) = %v, want %v", tc.url, blocked, tc.blocked)
		}
	}
}

func TestExecuteBlockedNavigateSkipsRest(t *testing.T) {
	tool := New(NewManager())
	in := `{"actions":[{"action":"navigate","url":"file:///etc/passwd"},{"action":"extract"},{"action":"screenshot"}]}`

	var progress []string
	tc := &agent.ToolContext{ReportProgress: func(msg string) { progress = append(progress, msg) }}
	res, err := tool.Execute(context.Background(), json.RawMessage(in), tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Output, "Blocked") {
		t.Fatalf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "Skipped 2 remaining action(s).") {
		t.Fatalf("remaining actions not skipped: %q", res.Output)
	}
	if !strings.HasPrefix(res.Output, "Browser session: ") {
		t.Fatalf("missing session header: %q", res.Output)
	}
	if len(progress) != 1 {
		t.Fatalf("progress = %v", progress)
	}
}

func TestExecuteMintsSessionID(t *testing.T) {
	tool := New(NewManager())
	in := `{"actions":[{"action":"navigate","url":"about:blank"}]}`
	res, err := tool.Execute(context.Background(), json.RawMessage(in), &agent.ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(res.Output, "\n", 2)[0]
	id := strings.TrimPrefix(header, "Browser session: ")
	if id == "" || id == header {
		t.Fatalf("no session id in %q", header)
	}
}

func TestExecuteKeepsCallerSessionID(t *testing.T) {
	tool := New(NewManager())
	in := `{"actions":[{"action":"navigate","url":"about:blank"}],"sessionId":"my-session"}`
	res, err := tool.Execute(context.Background(), json.RawMessage(in), &agent.ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Output, "Browser session: my-session") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestExecuteActionCountBounds(t *testing.T) {
	tool := New(NewManager())

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"actions":[]}`), nil); err == nil {
		t.Error("empty action list accepted")
	}

	var actions []string
	for i := 0; i < 21; i++ {
		actions = append(actions, `{"action":"screenshot"}`)
	}
	in := `{"actions":[` + strings.Join(actions, ",") + `]}`
	if _, err := tool.Execute(context.Background(), json.RawMessage(in), nil); err == nil {
		t.Error("21 actions accepted")
	}
}

func TestSchemaValidation(t *testing.T) {
	schema := New(NewManager()).Schema()

	valid := `{"actions":[{"action":"navigate","url":"https://example.com"}]}`
	if err := agent.ValidateInput(schema, json.RawMessage(valid)); err != nil {
		t.Fatal(err)
	}
	invalid := []string{
		`{}`,
		`{"actions":[]}`,
		`{"actions":[{"action":"teleport"}]}`,
		`{"actions":[{"url":"https://example.com"}]}`,
	}
	for _, in := range invalid {
		if err := agent.ValidateInput(schema, json.RawMessage(in)); err == nil {
			t.Errorf("schema accepted %s", in)
		}
	}
}

func TestTruncateExtract(t *testing.T) {
	short := "plain text"
	if got := truncateExtract(short); got != short {
		t.Fatalf("truncateExtract(short) = %q", got)
	}

	// Multi-byte runes at the cut must not be split into invalid UTF-8.
	long := strings.Repeat("é", maxExtractChars+50)
	got := truncateExtract(long)
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("missing truncation marker: %q", got[len(got)-40:])
	}
	body := strings.TrimSuffix(got, truncationMarker)
	if !utf8.ValidString(body) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(body); n != maxExtractChars {
		t.Fatalf("rune count = %d, want %d", n, maxExtractChars)
	}

	exact := strings.Repeat("日", maxExtractChars)
	if got := truncateExtract(exact); got != exact {
		t.Fatal("text at exactly the cap must not be truncated")
	}
}

func TestDescribeAction(t *testing.T) {
	cases := []struct {
		action Action
		want   string
	}{
		{Action{Action: "navigate", URL: "https://x.test"}, "Navigating to https://x.test"},
		{Action{Action: "click", Selector: "#go"}, "Clicking #go"},
		{Action{Action: "type", Selector: "#q"}, "Typing into #q"},
		{Action{Action: "screenshot"}, "Taking screenshot"},
		{Action{Action: "extract"}, "Extracting page text"},
		{Action{Action: "extract", Selector: "#main"}, "Extracting text from #main"},
	}
	for _, tc := range cases {
		if got := describeAction(&tc.action); got != tc.want {
			t.Errorf("describeAction(%s) = %q, want %q", tc.action.Action, got, tc.want)
		}
	}
}
