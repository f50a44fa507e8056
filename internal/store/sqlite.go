package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/hearth/pkg/models"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases intact and serializes writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store opened")
	return &SQLiteStore{path: path, db: db}, nil
}

type actionRow struct {
	ID        string         `db:"id"`
	TaskID    string         `db:"task_id"`
	ToolID    string         `db:"tool_id"`
	Name      string         `db:"name"`
	Payload   sql.NullString `db:"payload"`
	Sequence  int            `db:"sequence"`
	Status    string         `db:"status"`
	Result    sql.NullString `db:"result"`
	Error     string         `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r actionRow) model() models.Action {
	a := models.Action{
		ID:        r.ID,
		TaskID:    r.TaskID,
		ToolID:    r.ToolID,
		Name:      r.Name,
		Sequence:  r.Sequence,
		Status:    models.ActionStatus(r.Status),
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Payload.Valid && r.Payload.String != "" {
		a.Payload = json.RawMessage(r.Payload.String)
	}
	if r.Result.Valid && r.Result.String != "" {
		a.Result = json.RawMessage(r.Result.String)
	}
	return a
}

type taskRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	Sequence       int       `db:"sequence"`
	CreatedAt      time.Time `db:"created_at"`
}

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ── Conversations ────────────────────────────────────────────

func (s *SQLiteStore) EnsureConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, '', ?, ?)
		 ON CONFLICT(id) DO NOTHING`, id, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := sqlscan.Get(ctx, s.db, &c,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Entity: "conversation", Key: id}
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ── Messages ─────────────────────────────────────────────────

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, stored.CreatedAt, stored.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &ErrNotFound{Entity: "conversation", Key: stored.ConversationID}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		stored.ID, stored.ConversationID, string(stored.Role), stored.Content, stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &stored, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []messageRow
	err := sqlscan.Select(ctx, s.db, &rows,
		`SELECT id, conversation_id, role, content, created_at FROM (
			SELECT seq, id, conversation_id, role, content, created_at FROM messages
			WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           models.Role(r.Role),
			Content:        r.Content,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

// ── Tasks & Actions ──────────────────────────────────────────

func (s *SQLiteStore) CreateTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		stored := t
		stored.Actions = nil
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, conversation_id, name, description, sequence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			stored.ID, stored.ConversationID, stored.Name, stored.Description, stored.Sequence, stored.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert task %q: %w", stored.Name, err)
		}
		out = append(out, stored)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, conversationID string) ([]models.Task, error) {
	var trows []taskRow
	if err := sqlscan.Select(ctx, s.db, &trows,
		`SELECT id, conversation_id, name, description, sequence, created_at FROM tasks
		 WHERE conversation_id = ? ORDER BY sequence, created_at`, conversationID); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var arows []actionRow
	if err := sqlscan.Select(ctx, s.db, &arows,
		`SELECT a.id, a.task_id, a.tool_id, a.name, a.payload, a.sequence, a.status, a.result, a.error, a.created_at, a.updated_at
		 FROM actions a JOIN tasks t ON t.id = a.task_id
		 WHERE t.conversation_id = ? ORDER BY a.sequence`, conversationID); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	byTask := make(map[string][]models.Action, len(trows))
	for _, r := range arows {
		byTask[r.TaskID] = append(byTask[r.TaskID], r.model())
	}
	out := make([]models.Task, 0, len(trows))
	for _, r := range trows {
		out = append(out, models.Task{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Name:           r.Name,
			Description:    r.Description,
			Sequence:       r.Sequence,
			Actions:        byTask[r.ID],
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

func (s *SQLiteStore) CreateAction(ctx context.Context, action *models.Action) (*models.Action, error) {
	stored := *action
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (id, task_id, tool_id, name, payload, sequence, status, result, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.TaskID, stored.ToolID, stored.Name, nullJSON(stored.Payload), stored.Sequence,
		string(stored.Status), nullJSON(stored.Result), stored.Error, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		if _, gerr := s.taskExists(ctx, stored.TaskID); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("insert action: %w", err)
	}
	return &stored, nil
}

func (s *SQLiteStore) taskExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check task: %w", err)
	}
	if n == 0 {
		return false, &ErrNotFound{Entity: "task", Key: id}
	}
	return true, nil
}

func (s *SQLiteStore) UpdateAction(ctx context.Context, action *models.Action) (*models.Action, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET tool_id = ?, name = ?, payload = ?, status = ?, result = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		action.ToolID, action.Name, nullJSON(action.Payload), string(action.Status), nullJSON(action.Result),
		action.Error, now, action.ID)
	if err != nil {
		return nil, fmt.Errorf("update action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &ErrNotFound{Entity: "action", Key: action.ID}
	}
	return s.GetAction(ctx, action.ID)
}

func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var r actionRow
	err := sqlscan.Get(ctx, s.db, &r,
		`SELECT id, task_id, tool_id, name, payload, sequence, status, result, error, created_at, updated_at
		 FROM actions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Entity: "action", Key: id}
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	a := r.model()
	return &a, nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	log.Info().Str("path", s.path).Msg("SQLite store closed")
	return s.db.Close()
}
