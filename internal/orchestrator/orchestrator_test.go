package orchestrator

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/agentoven/hearth/internal/state"
	"github.com/agentoven/hearth/internal/tools"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldContinueThinking(t *testing.T) {
	pending := []models.Task{{ID: "t1", Actions: []models.Action{{Status: models.ActionPending}}}}
	unplanned := []models.Task{{ID: "t1"}}
	settled := []models.Task{{ID: "t1", Actions: []models.Action{{Status: models.ActionFailed}}}}

	cases := []struct {
		name  string
		tasks []models.Task
		step  int
		tool  string
		want  bool
	}{
		{"pending action", pending, 0, "", true},
		{"unplanned task", unplanned, 2, "web", true},
		{"nothing left", settled, 0, "", false},
		{"no tasks", nil, 0, "", false},
		{"budget reached", pending, 6, "", false},
		{"final answer", pending, 1, tools.FinalAnswerName, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := state.ConversationState{
				Interaction: state.Interaction{Tasks: tc.tasks},
				Config:      state.Config{Step: tc.step, CurrentTool: tc.tool},
			}
			assert.Equal(t, tc.want, ShouldContinueThinking(s, 6))
		})
	}
}

func TestParseTaskSpecs(t *testing.T) {
	specs, err := parseTaskSpecs("Sure! Here is the plan:\n```json\n[{\"name\":\"a\",\"description\":\"do a\"},{\"description\":\"b only\"},{}]\n```")
	require.NoError(t, err)
	assert.Equal(t, []models.TaskSpec{{Name: "a", Description: "do a"}, {Name: "b only", Description: "b only"}}, specs)

	specs, err = parseTaskSpecs(`{"tasks":[{"name":"x"}]}`)
	require.NoError(t, err)
	assert.Equal(t, []models.TaskSpec{{Name: "x"}}, specs)

	specs, err = parseTaskSpecs(`[]`)
	require.NoError(t, err)
	assert.Empty(t, specs)

	_, err = parseTaskSpecs("no plan")
	assert.Error(t, err)
}

func TestParseToolChoice(t *testing.T) {
	assert.Equal(t, toolChoice{Tool: "web", Action: "fetch"}, parseToolChoice(`I'd use {"tool": "web", "action": "fetch"}`))
	assert.Equal(t, toolChoice{Tool: "final_answer"}, parseToolChoice(" `final_answer`\n"))
	assert.Equal(t, toolChoice{}, parseToolChoice("I am not sure which tool"))
}

func TestIsAffirmative(t *testing.T) {
	for answer, want := range map[string]bool{
		"yes":      true,
		"Yes.":     true,
		" **YES**": true,
		"no":       false,
		"":         false,
		"maybe":    false,
	} {
		assert.Equal(t, want, isAffirmative(answer), answer)
	}
}

func TestToolContextEntry(t *testing.T) {
	ok := models.Action{ToolID: "web", Name: "search", Status: models.ActionCompleted, Result: []byte(`{"n":1}`)}
	assert.Equal(t, `web.search (completed): {"n":1}`, toolContextEntry(ok))

	bad := models.Action{ToolID: "spotify", Name: "play", Status: models.ActionFailed, Error: "tool not found: spotify"}
	assert.Equal(t, "spotify.play (failed): tool not found: spotify", toolContextEntry(bad))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))

	// "é" is two bytes; cutting at 3 would split the second one.
	got := truncate("éééé", 3)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "é…", got)

	long := strings.Repeat("日本語", 400)
	entry := toolContextEntry(models.Action{ToolID: "web", Name: "fetch", Status: models.ActionCompleted, Result: []byte(`"` + long + `"`)})
	assert.True(t, utf8.ValidString(entry))
	assert.True(t, strings.HasSuffix(entry, "…"))
}
