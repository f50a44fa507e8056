package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/hearth/pkg/models"
)

// stripFences removes a surrounding markdown code block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:] // language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSON decodes the first JSON object or array embedded in a model
// answer. Models wrap JSON in prose and fences often enough that a strict
// decode is useless.
func extractJSON(answer string, v interface{}) error {
	s := stripFences(answer)
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return fmt.Errorf("no JSON found in %q", truncate(answer, 80))
	}
	closing := "}"
	if s[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(s, closing)
	if end < start {
		return fmt.Errorf("unterminated JSON in %q", truncate(answer, 80))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("JSON parse error: %w", err)
	}
	return nil
}

// parseTaskSpecs accepts a bare array of tasks or an object holding one
// under "tasks". Tasks without a name take their description as name.
func parseTaskSpecs(answer string) ([]models.TaskSpec, error) {
	var specs []models.TaskSpec
	if err := extractJSON(answer, &specs); err != nil {
		var wrapped struct {
			Tasks []models.TaskSpec `json:"tasks"`
		}
		if err2 := extractJSON(answer, &wrapped); err2 != nil {
			return nil, err
		}
		specs = wrapped.Tasks
	}
	out := specs[:0]
	for _, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		s.Description = strings.TrimSpace(s.Description)
		if s.Name == "" {
			s.Name = s.Description
		}
		if s.Name == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// parseStringList accepts a JSON array of strings.
func parseStringList(answer string) ([]string, error) {
	var raw []string
	if err := extractJSON(answer, &raw); err != nil {
		return nil, err
	}
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

type toolChoice struct {
	Tool   string `json:"tool"`
	Action string `json:"action"`
}

// actionCall is the use answer for a tool whose action is still open.
type actionCall struct {
	Action string                 `json:"action"`
	Input  map[string]interface{} `json:"input"`
}

// parseToolChoice reads {"tool": ..., "action": ...}. A bare word is taken
// as the tool name.
func parseToolChoice(answer string) toolChoice {
	var c toolChoice
	if err := extractJSON(answer, &c); err == nil {
		c.Tool = strings.TrimSpace(c.Tool)
		c.Action = strings.TrimSpace(c.Action)
		return c
	}
	word := strings.Trim(strings.TrimSpace(stripFences(answer)), "\"'`.")
	if word == "" || strings.ContainsAny(word, " \n\t") {
		return toolChoice{}
	}
	return toolChoice{Tool: word}
}

// isAffirmative reports whether a classifier answer starts with yes.
func isAffirmative(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.TrimLeft(a, "\"'`*")
	return strings.HasPrefix(a, "yes") || strings.HasPrefix(a, "true")
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
