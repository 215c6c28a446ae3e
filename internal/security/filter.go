// Package security implements the secret redaction boundary applied to tool
// output before it reaches the audit log or the model's next turn.
package security

import (
	"regexp"
	"strings"
)

const redactedMarker = "[REDACTED]"

// tokenPatterns match common credential shapes independent of the process
// environment. Order matters: longer, more specific prefixes first so a
// partial match does not split a longer token.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
}

// Filter scrubs known secret values and credential-shaped strings from text.
// Filtering is idempotent: Apply(Apply(x)) == Apply(x).
type Filter struct {
	enabled bool
	secrets []string
}

// NewFilter builds a filter over the given known secret values (provider API
// keys, the gateway token). Empty and very short values are ignored so the
// filter never redacts trivial substrings.
func NewFilter(enabled bool, secrets ...string) *Filter {
	f := &Filter{enabled: enabled}
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if len(s) >= 8 {
			f.secrets = append(f.secrets, s)
		}
	}
	return f
}

// Apply returns text with every known secret and credential-shaped token
// replaced by the redaction marker. A disabled filter returns text unchanged.
func (f *Filter) Apply(text string) string {
	if f == nil || !f.enabled || text == "" {
		return text
	}
	for _, secret := range f.secrets {
		text = strings.ReplaceAll(text, secret, redactedMarker)
	}
	for _, re := range tokenPatterns {
		text = re.ReplaceAllStringFunc(text, func(match string) string {
			// Bearer headers keep the scheme word so logs stay readable.
			if i := strings.IndexAny(match, " \t"); i >= 0 && strings.EqualFold(match[:i], "bearer") {
				return match[:i+1] + redactedMarker
			}
			return redactedMarker
		})
	}
	return text
}

// Enabled reports whether the filter rewrites anything.
func (f *Filter) Enabled() bool {
	return f != nil && f.enabled
}
