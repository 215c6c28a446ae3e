package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/hearthd/hearthd/internal/agent"
)

const (
	maxActions        = 20
	maxExtractChars   = 10_000
	commitTimeoutMs   = 20_000
	domReadyTimeoutMs = 3_000
	truncationMarker  = "...[truncated]"
)

// blockedSchemes are never navigable; a model asking for one gets a
// per-action "Blocked" result and the remaining actions are skipped.
var blockedSchemes = []string{"file", "chrome", "chrome-extension", "about", "javascript"}

const inputSchema = `{
	"type": "object",
	"properties": {
		"actions": {
			"type": "array",
			"minItems": 1,
			"maxItems": 20,
			"items": {
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["navigate", "click", "type", "screenshot", "extract"]},
					"url": {"type": "string"},
					"selector": {"type": "string"},
					"text": {"type": "string"}
				},
				"required": ["action"],
				"additionalProperties": false
			}
		},
		"sessionId": {"type": "string", "description": "Reuse an existing browser session"}
	},
	"required": ["actions"],
	"additionalProperties": false
}`

// Action is one step of a browser invocation.
type Action struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
}

type input struct {
	Actions   []Action `json:"actions"`
	SessionID string   `json:"sessionId,omitempty"`
}

// Tool drives the shared headless browser through a batch of actions.
type Tool struct {
	manager *Manager
}

// New builds the browser tool over the session manager.
func New(manager *Manager) *Tool {
	return &Tool{manager: manager}
}

func (t *Tool) Name() string { return "browser" }

func (t *Tool) Description() string {
	return "Control a headless browser: navigate, click, type, screenshot and extract page text. Requires user approval."
}

func (t *Tool) Schema() json.RawMessage { return json.RawMessage(inputSchema) }

func (t *Tool) RequiresApproval() bool { return true }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode browser input: %w", err)
	}
	if len(in.Actions) == 0 {
		return nil, fmt.Errorf("at least one action required")
	}
	if len(in.Actions) > maxActions {
		return nil, fmt.Errorf("too many actions: %d (max %d)", len(in.Actions), maxActions)
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	result := &agent.ToolResult{}
	lines := []string{fmt.Sprintf("Browser session: %s", sessionID)}
	screenshots := 0

	for i, action := range in.Actions {
		line, stop := t.runAction(sessionID, &action, result, &screenshots)
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, line))
		if tc != nil && tc.ReportProgress != nil {
			tc.ReportProgress(describeAction(&action))
		}
		if stop {
			if remaining := len(in.Actions) - i - 1; remaining > 0 {
				lines = append(lines, fmt.Sprintf("Skipped %d remaining action(s).", remaining))
			}
			break
		}
	}
	result.Output = strings.Join(lines, "\n")
	return result, nil
}

// runAction executes one action against the session's page. The returned
// stop flag aborts the rest of the batch.
func (t *Tool) runAction(sessionID string, action *Action, result *agent.ToolResult, screenshots *int) (line string, stop bool) {
	// Scheme screening happens before any browser work so a fully blocked
	// batch never launches one.
	if action.Action == "navigate" {
		if reason, blocked := blockedURL(action.URL); blocked {
			return fmt.Sprintf("Blocked: %s", reason), true
		}
	}

	sess, err := t.manager.Session(sessionID)
	if err != nil {
		return fmt.Sprintf("Failed: %v", err), true
	}

	switch action.Action {
	case "navigate":
		return t.navigate(sess, action.URL)
	case "click":
		if action.Selector == "" {
			return "Failed: click requires a selector", true
		}
		if err := sess.page.Click(action.Selector); err != nil {
			return fmt.Sprintf("Failed to click %s: %v", action.Selector, err), true
		}
		return fmt.Sprintf("Clicked %s", action.Selector), false
	case "type":
		return t.typeInto(sess, action.Selector, action.Text)
	case "screenshot":
		return t.screenshot(sess, result, screenshots)
	case "extract":
		return t.extract(sess, action.Selector)
	default:
		return fmt.Sprintf("Failed: unknown action %q", action.Action), true
	}
}

// navigate waits for the navigation to commit, then best-effort for
// DOM-content-loaded. The second timeout is not fatal.
func (t *Tool) navigate(sess *session, rawURL string) (string, bool) {
	if _, err := sess.page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateCommit,
		Timeout:   playwright.Float(commitTimeoutMs),
	}); err != nil {
		return fmt.Sprintf("Failed to navigate to %s: %v", rawURL, err), true
	}
	if err := sess.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(domReadyTimeoutMs),
	}); err != nil {
		return fmt.Sprintf("Navigated to %s (page still loading)", rawURL), false
	}
	return fmt.Sprintf("Navigated to %s", rawURL), false
}

// typeInto fills a field after confirming it is not a password input.
func (t *Tool) typeInto(sess *session, selector, text string) (string, bool) {
	if selector == "" {
		return "Failed: type requires a selector", true
	}
	inputType, err := sess.page.Locator(selector).GetAttribute("type")
	if err == nil && strings.EqualFold(inputType, "password") {
		// Refusal is per-action; later actions still run.
		return fmt.Sprintf("Refused to type into password field %s", selector), false
	}
	if err := sess.page.Fill(selector, text); err != nil {
		return fmt.Sprintf("Failed to type into %s: %v", selector, err), true
	}
	return fmt.Sprintf("Typed into %s", selector), false
}

func (t *Tool) screenshot(sess *session, result *agent.ToolResult, screenshots *int) (string, bool) {
	data, err := sess.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return fmt.Sprintf("Failed to take screenshot: %v", err), true
	}
	*screenshots++
	result.Attachments = append(result.Attachments, agent.Attachment{
		Type:     "image",
		MimeType: "image/png",
		Data:     base64.StdEncoding.EncodeToString(data),
		Name:     fmt.Sprintf("screenshot-%d.png", *screenshots),
	})
	return fmt.Sprintf("Screenshot captured (screenshot-%d.png)", *screenshots), false
}

func (t *Tool) extract(sess *session, selector string) (string, bool) {
	target := selector
	if target == "" {
		target = "body"
	}
	text, err := sess.page.TextContent(target)
	if err != nil {
		return fmt.Sprintf("Failed to extract from %s: %v", target, err), true
	}
	text = truncateExtract(strings.TrimSpace(text))
	return fmt.Sprintf("Extracted from %s:\n%s", target, text), false
}

// truncateExtract caps extracted text at maxExtractChars characters,
// counting runes so a multi-byte character at the boundary stays intact.
func truncateExtract(text string) string {
	runes := []rune(text)
	if len(runes) <= maxExtractChars {
		return text
	}
	return string(runes[:maxExtractChars]) + truncationMarker
}

// blockedURL rejects anything that is not plain http(s).
func blockedURL(rawURL string) (reason string, blocked bool) {
	if rawURL == "" {
		return "navigate requires a url", true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("unparseable url %q", rawURL), true
	}
	scheme := strings.ToLower(parsed.Scheme)
	for _, banned := range blockedSchemes {
		if scheme == banned {
			return fmt.Sprintf("scheme %q is not allowed", scheme), true
		}
	}
	if scheme != "http" && scheme != "https" {
		return fmt.Sprintf("scheme %q is not allowed", scheme), true
	}
	return "", false
}

func describeAction(a *Action) string {
	switch a.Action {
	case "navigate":
		return "Navigating to " + a.URL
	case "click":
		return "Clicking " + a.Selector
	case "type":
		return "Typing into " + a.Selector
	case "screenshot":
		return "Taking screenshot"
	case "extract":
		if a.Selector != "" {
			return "Extracting text from " + a.Selector
		}
		return "Extracting page text"
	default:
		return a.Action
	}
}
