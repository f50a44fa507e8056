// Package store persists conversations, messages, tasks and actions.
// MemoryStore serves tests and zero-config runs; SQLiteStore is the default
// for the server.
package store

import (
	"context"

	"github.com/agentoven/hearth/pkg/models"
)

// Store is the persistence collaborator of the reasoning core. Writes return
// the canonical stored record with generated IDs and timestamps.
type Store interface {
	ConversationStore
	MessageStore
	TaskStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

type ConversationStore interface {
	// EnsureConversation returns the conversation, creating it on first use.
	EnsureConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	// ListMessages returns the newest limit messages, oldest first.
	// limit <= 0 returns everything.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

type TaskStore interface {
	// CreateTasks stores tasks atomically. Actions on the input are ignored.
	CreateTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error)
	// ListTasks returns tasks by ascending sequence with their actions.
	ListTasks(ctx context.Context, conversationID string) ([]models.Task, error)
	CreateAction(ctx context.Context, action *models.Action) (*models.Action, error)
	UpdateAction(ctx context.Context, action *models.Action) (*models.Action, error)
	GetAction(ctx context.Context, id string) (*models.Action, error)
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
