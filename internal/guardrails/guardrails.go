// Package guardrails screens user messages before a turn runs.
//
// Checks:
//   - max_length: rune limit; the only check that rejects a message
//   - pii: email, phone, SSN and card number patterns
//   - prompt_injection: heuristic patterns, widened at high sensitivity
//
// Non-blocking findings are recorded on the turn's trace so they can be
// reviewed without refusing the user.
package guardrails

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/agentoven/hearth/internal/config"
)

// ErrMessageTooLong is returned when a message exceeds the rune limit.
var ErrMessageTooLong = errors.New("message too long")

const (
	KindMaxLength       = "max_length"
	KindPII             = "pii"
	KindPromptInjection = "prompt_injection"
)

// Finding is one failed check.
type Finding struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Blocking findings reject the message.
	Blocking bool `json:"blocking,omitempty"`
}

// Screener runs the configured checks.
type Screener struct {
	cfg config.GuardrailsConfig
}

func NewScreener(cfg config.GuardrailsConfig) *Screener {
	return &Screener{cfg: cfg}
}

// Screen checks text and returns every finding. The error is non-nil when a
// blocking finding exists.
func (s *Screener) Screen(text string) ([]Finding, error) {
	var findings []Finding
	if f, ok := s.maxLength(text); ok {
		findings = append(findings, f)
	}
	if s.cfg.DetectPII {
		findings = append(findings, detectPII(text)...)
	}
	if s.cfg.DetectInjection {
		if f, ok := detectInjection(text, s.cfg.Sensitivity); ok {
			findings = append(findings, f)
		}
	}

	for _, f := range findings {
		if f.Blocking {
			return findings, fmt.Errorf("%w: %s", ErrMessageTooLong, f.Message)
		}
	}
	return findings, nil
}

// ── Max Length ──────────────────────────────────────────────

func (s *Screener) maxLength(text string) (Finding, bool) {
	limit := s.cfg.MaxMessageChars
	if limit <= 0 {
		return Finding{}, false
	}
	if n := utf8.RuneCountInString(text); n > limit {
		return Finding{
			Kind:     KindMaxLength,
			Message:  fmt.Sprintf("%d characters, limit is %d", n, limit),
			Blocking: true,
		}, true
	}
	return Finding{}, false
}

// ── PII Detection ───────────────────────────────────────────

var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
}

func detectPII(text string) []Finding {
	names := make([]string, 0, len(piiPatterns))
	for name := range piiPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Finding
	for _, name := range names {
		if piiPatterns[name].MatchString(text) {
			out = append(out, Finding{Kind: KindPII, Message: name + " pattern matched"})
		}
	}
	return out
}

// ── Prompt Injection Detection ──────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+have\s+no\s+(restrictions?|rules?|filters?)`),
}

var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?|rules?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
}

func detectInjection(text, sensitivity string) (Finding, bool) {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return Finding{Kind: KindPromptInjection, Message: "potential prompt injection"}, true
		}
	}
	if sensitivity == "high" {
		for _, re := range highSensitivityPatterns {
			if re.MatchString(text) {
				return Finding{Kind: KindPromptInjection, Message: "potential prompt injection (high sensitivity)"}, true
			}
		}
	}
	return Finding{}, false
}
