package models

import (
	"encoding/json"
	"time"
)

// ── Conversation ─────────────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Conversation struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title,omitempty" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one turn of the prompt history. Order of insertion is the
// order the model sees.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Role           Role      `json:"role" db:"role"`
	Content        string    `json:"content" db:"content"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ── Tasks & Actions ──────────────────────────────────────────

// TaskSpec is a planned unit of work before it is persisted.
type TaskSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Task is a planned unit of work. Lower Sequence runs first.
type Task struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description" db:"description"`
	Sequence       int       `json:"sequence" db:"sequence"`
	Actions        []Action  `json:"actions"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// HasPending reports whether any action of the task is still pending.
func (t Task) HasPending() bool {
	for _, a := range t.Actions {
		if a.Status == ActionPending {
			return true
		}
	}
	return false
}

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionFailed
}

// CanTransition encodes pending → running → {completed|failed}, plus
// pending → failed for actions whose tool could not be resolved.
func (s ActionStatus) CanTransition(to ActionStatus) bool {
	switch s {
	case ActionPending:
		return to == ActionRunning || to == ActionFailed
	case ActionRunning:
		return to == ActionCompleted || to == ActionFailed
	default:
		return false
	}
}

// Action is one tool invocation attempt inside a task.
type Action struct {
	ID        string          `json:"id" db:"id"`
	TaskID    string          `json:"task_id" db:"task_id"`
	ToolID    string          `json:"tool_id" db:"tool_id"`
	Name      string          `json:"name" db:"name"`
	Payload   json.RawMessage `json:"payload,omitempty" db:"payload"`
	Sequence  int             `json:"sequence" db:"sequence"`
	Status    ActionStatus    `json:"status" db:"status"`
	Result    json.RawMessage `json:"result,omitempty" db:"result"`
	Error     string          `json:"error,omitempty" db:"error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// ── Tools ────────────────────────────────────────────────────

// ToolInfo is the session-visible view of a tool.
type ToolInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ── Model Routing ────────────────────────────────────────────

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ── Streaming ────────────────────────────────────────────────

// StreamChunk is one SSE frame sent to the client. The envelope follows the
// chat completion chunk shape so OpenAI-compatible clients can consume it.
type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type ChunkDelta struct {
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// NewStreamChunk builds a single-choice content chunk.
func NewStreamChunk(id, model, content string) StreamChunk {
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{Delta: ChunkDelta{Role: RoleAssistant, Content: content}}},
	}
}

// NewStopChunk builds the closing chunk carrying finish_reason "stop".
func NewStopChunk(id, model string) StreamChunk {
	stop := "stop"
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{Delta: ChunkDelta{}, FinishReason: &stop}},
	}
}
