package orchestrator

import (
	"fmt"
	"strings"

	"github.com/agentoven/hearth/internal/state"
	"github.com/agentoven/hearth/internal/tools"
	"github.com/agentoven/hearth/pkg/models"
)

const toolContextLimit = 2000

func preamble(s state.ConversationState) string {
	p := fmt.Sprintf("You are %s, a personal assistant.", s.Profile.AssistantName)
	if s.Profile.UserName != "" {
		p += fmt.Sprintf(" You are talking to %s.", s.Profile.UserName)
	}
	return p
}

func history(msgs []models.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func transcript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func lastUserMessage(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func withSystem(system string, rest ...models.ChatMessage) []models.ChatMessage {
	return append([]models.ChatMessage{{Role: models.RoleSystem, Content: system}}, rest...)
}

func userTurn(content string) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleUser, Content: content}
}

func fastTrackPrompt(policy string, s state.ConversationState) []models.ChatMessage {
	return withSystem(policy, userTurn(lastUserMessage(s.Interaction.Messages)))
}

func environmentPrompt(s state.ConversationState) []models.ChatMessage {
	return withSystem(preamble(s)+`
Describe in one short paragraph the situation the user is in: what they are doing, where, and any constraints they mentioned.
Only use facts from the conversation. Say "unknown" when nothing is known.`,
		userTurn("Conversation:\n"+transcript(s.Interaction.Messages)))
}

func contextPrompt(s state.ConversationState) []models.ChatMessage {
	return withSystem(preamble(s)+`
State in one or two sentences what the user wants from you right now and which earlier parts of the conversation matter for it.`,
		userTurn("Conversation:\n"+transcript(s.Interaction.Messages)))
}

func toolCatalog(s state.ConversationState, reg *tools.Registry) string {
	var b strings.Builder
	for _, info := range s.Session.Tools {
		if !info.Available {
			fmt.Fprintf(&b, "- %s (not configured)\n", info.Name)
			continue
		}
		t, err := reg.Lookup(info.Name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		for _, a := range t.Actions() {
			fmt.Fprintf(&b, "    - %s: %s\n", a.Name, a.Description)
		}
	}
	return b.String()
}

func thoughtsBlock(s state.ConversationState) string {
	t := s.Thoughts
	return fmt.Sprintf("Environment: %s\nUser intent: %s\nCandidate tools: %s\nRelevant memory: %s\n",
		orNone(t.Environment), orNone(t.Context), orNone(strings.Join(t.Tools, ", ")), orNone(strings.Join(t.Memory, "; ")))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func draftToolsPrompt(s state.ConversationState, reg *tools.Registry) []models.ChatMessage {
	return withSystem(preamble(s)+`
Pick the tools that could help with the user's request. Respond with ONLY a JSON array of tool names, for example ["web"]. Respond with [] when no tool helps.

Tools:
`+toolCatalog(s, reg),
		userTurn(thoughtsBlock(s)))
}

func draftMemoryPrompt(s state.ConversationState) []models.ChatMessage {
	return withSystem(preamble(s)+`
List facts from the conversation that matter for answering the latest message. Respond with ONLY a JSON array of short strings, or [] when there are none.`,
		userTurn("Conversation:\n"+transcript(s.Interaction.Messages)))
}

func planPrompt(s state.ConversationState, reg *tools.Registry) []models.ChatMessage {
	return withSystem(preamble(s)+`
Break the user's request into the tasks needed before you can answer. Each task should need at most one tool call.
Use as few tasks as possible and return [] when the request can be answered without any tool.

Respond with ONLY a JSON array in this exact format:
[{"name": "short-task-name", "description": "what has to be found out or done"}]

Tools:
`+toolCatalog(s, reg),
		userTurn(thoughtsBlock(s)+"\nLatest message: "+lastUserMessage(s.Interaction.Messages)))
}

func nextPrompt(s state.ConversationState, reg *tools.Registry, task models.Task) []models.ChatMessage {
	return withSystem(preamble(s)+`
Choose the tool and action for the task below. Choose "`+tools.FinalAnswerName+`" when everything needed to answer is already known.

Respond with ONLY a JSON object: {"tool": "tool-name", "action": "action-name"}

Tools:
`+toolCatalog(s, reg),
		userTurn(fmt.Sprintf("Task: %s\n%s\n\nResults so far:\n%s", task.Name, task.Description, orNone(strings.Join(s.Interaction.ToolContext, "\n")))))
}

func usePrompt(s state.ConversationState, task models.Task, action models.Action, tool tools.Tool) []models.ChatMessage {
	var schema string
	for _, a := range tool.Actions() {
		if a.Name == action.Name || action.Name == "" {
			schema += fmt.Sprintf("%s: %s\n", a.Name, a.Schema)
		}
	}
	instruction := "Write the input for the tool call below. Respond with ONLY a JSON object matching the input schema."
	if action.Name == "" {
		instruction = `Pick one of the actions below and write its input. Respond with ONLY a JSON object: {"action": "action-name", "input": {...}} where input matches that action's schema.`
	}
	return withSystem(preamble(s)+"\n"+instruction,
		userTurn(fmt.Sprintf("Task: %s\n%s\n\nTool: %s\nAction: %s\nInput schema:\n%s\nResults so far:\n%s\n\nLatest message: %s",
			task.Name, task.Description, tool.Name(), action.Name, schema,
			orNone(strings.Join(s.Interaction.ToolContext, "\n")), lastUserMessage(s.Interaction.Messages))))
}

func replyPrompt(s state.ConversationState, fast bool) []models.ChatMessage {
	system := preamble(s) + " Answer the user's latest message helpfully and concisely."
	if !fast {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nWhat you worked out:\n")
		b.WriteString(thoughtsBlock(s))
		if len(s.Interaction.Tasks) > 0 {
			b.WriteString("\nTasks:\n")
			for _, t := range s.Interaction.Tasks {
				fmt.Fprintf(&b, "- %s", t.Name)
				for _, a := range t.Actions {
					fmt.Fprintf(&b, " [%s.%s %s", a.ToolID, a.Name, a.Status)
					if a.Error != "" {
						fmt.Fprintf(&b, ": %s", a.Error)
					}
					b.WriteString("]")
				}
				b.WriteString("\n")
			}
		}
		if len(s.Interaction.ToolContext) > 0 {
			b.WriteString("\nTool results:\n")
			b.WriteString(strings.Join(s.Interaction.ToolContext, "\n"))
			b.WriteString("\n")
		}
		b.WriteString("\nIf a tool failed, say so briefly instead of inventing results.")
		system = b.String()
	}
	return withSystem(system, history(s.Interaction.Messages)...)
}

// toolContextEntry renders the outcome of an action for later prompts.
func toolContextEntry(a models.Action) string {
	outcome := a.Error
	if a.Status == models.ActionCompleted {
		outcome = string(a.Result)
		if outcome == "" {
			outcome = "done"
		}
	}
	return truncate(fmt.Sprintf("%s.%s (%s): %s", a.ToolID, a.Name, a.Status, outcome), toolContextLimit)
}

func params(maxTokens int, temperature float64) map[string]interface{} {
	return map[string]interface{}{"max_tokens": maxTokens, "temperature": temperature}
}
