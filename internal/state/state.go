// Package state holds the working memory of one reasoning cycle.
package state

import (
	"encoding/json"
	"sync"

	"github.com/agentoven/hearth/pkg/models"
)

// Interaction is the conversation as seen by the model plus the work planned
// during the turn.
type Interaction struct {
	Messages    []models.Message `json:"messages"`
	Tasks       []models.Task    `json:"tasks"`
	ToolContext []string         `json:"tool_context"`
}

// Config is the per-cycle control block. Empty strings stand for "none".
type Config struct {
	Model          string `json:"model"`
	AltModel       string `json:"alt_model"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Step           int    `json:"step"`
	CurrentTool    string `json:"current_tool,omitempty"`
	CurrentAction  string `json:"current_action,omitempty"`
	CurrentTask    string `json:"current_task,omitempty"`
	FastTrack      bool   `json:"fast_track"`
}

type Profile struct {
	AssistantName string `json:"assistant_name"`
	UserName      string `json:"user_name,omitempty"`
}

// Thoughts accumulate what the observe and draft phases produced.
type Thoughts struct {
	Environment string   `json:"environment,omitempty"`
	Context     string   `json:"context,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Memory      []string `json:"memory,omitempty"`
}

type Session struct {
	Tools []models.ToolInfo `json:"tools"`
}

// ConversationState is a point-in-time copy of a Store.
type ConversationState struct {
	Interaction Interaction `json:"interaction"`
	Config      Config      `json:"config"`
	Profile     Profile     `json:"profile"`
	Thoughts    Thoughts    `json:"thoughts"`
	Session     Session     `json:"session"`
}

// Store guards one ConversationState. Every update touches exactly one
// sub-object and is atomic with respect to Snapshot.
type Store struct {
	mu sync.Mutex
	st ConversationState
}

// New seeds a store. The seed is copied, so the caller keeps ownership.
func New(seed ConversationState) *Store {
	return &Store{st: seed.clone()}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.clone()
}

// UpdateConfig applies fn to the config block. fn assigns only the fields
// it changes.
func (s *Store) UpdateConfig(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st.Config)
}

func (s *Store) UpdateThoughts(fn func(*Thoughts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st.Thoughts)
}

func (s *Store) UpdateInteraction(fn func(*Interaction)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st.Interaction)
}

func (s *Store) UpdateProfile(fn func(*Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st.Profile)
}

func (s *Store) UpdateSession(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st.Session)
}

// AppendMessage adds a message to the prompt history.
func (s *Store) AppendMessage(m models.Message) {
	s.UpdateInteraction(func(in *Interaction) {
		in.Messages = append(in.Messages, m)
	})
}

// ReplaceAction swaps the stored copy of an action inside its task.
func (s *Store) ReplaceAction(a models.Action) {
	s.UpdateInteraction(func(in *Interaction) {
		for i := range in.Tasks {
			if in.Tasks[i].ID != a.TaskID {
				continue
			}
			for j := range in.Tasks[i].Actions {
				if in.Tasks[i].Actions[j].ID == a.ID {
					in.Tasks[i].Actions[j] = cloneAction(a)
					return
				}
			}
			in.Tasks[i].Actions = append(in.Tasks[i].Actions, cloneAction(a))
			return
		}
	})
}

func (c ConversationState) clone() ConversationState {
	out := c
	out.Interaction.Messages = append([]models.Message(nil), c.Interaction.Messages...)
	out.Interaction.ToolContext = append([]string(nil), c.Interaction.ToolContext...)
	if c.Interaction.Tasks != nil {
		out.Interaction.Tasks = make([]models.Task, len(c.Interaction.Tasks))
		for i, t := range c.Interaction.Tasks {
			out.Interaction.Tasks[i] = cloneTask(t)
		}
	}
	out.Thoughts.Tools = append([]string(nil), c.Thoughts.Tools...)
	out.Thoughts.Memory = append([]string(nil), c.Thoughts.Memory...)
	out.Session.Tools = append([]models.ToolInfo(nil), c.Session.Tools...)
	return out
}

func cloneTask(t models.Task) models.Task {
	out := t
	if t.Actions != nil {
		out.Actions = make([]models.Action, len(t.Actions))
		for i, a := range t.Actions {
			out.Actions[i] = cloneAction(a)
		}
	}
	return out
}

func cloneAction(a models.Action) models.Action {
	out := a
	out.Payload = cloneRaw(a.Payload)
	out.Result = cloneRaw(a.Result)
	return out
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
