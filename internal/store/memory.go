package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/hearth/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Conversations map[string]*models.Conversation `json:"conversations"`
	Messages      map[string][]*models.Message    `json:"messages"` // key: conversation ID
	Tasks         map[string]*models.Task         `json:"tasks"`
	Actions       map[string]*models.Action       `json:"actions"`
}

// MemoryStore implements Store with in-memory maps and optional debounced
// JSON snapshots so data survives restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // key: conversation ID, append order
	tasks         map[string]*models.Task      // key: task ID, Actions always nil
	actions       map[string]*models.Action    // key: action ID

	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates an in-memory store. When dataDir is non-empty the
// contents are snapshotted to dataDir/memory.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		tasks:         make(map[string]*models.Task),
		actions:       make(map[string]*models.Action),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "memory.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

func (m *MemoryStore) scheduleSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Conversations: m.conversations,
		Messages:      m.messages,
		Tasks:         m.tasks,
		Actions:       m.actions,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Actions != nil {
		m.actions = snap.Actions
	}
	log.Info().
		Int("conversations", len(m.conversations)).
		Int("tasks", len(m.tasks)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

// ── Conversations ────────────────────────────────────────────

func (m *MemoryStore) EnsureConversation(_ context.Context, id, userID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		cp := *c
		return &cp, nil
	}
	now := time.Now().UTC()
	c := &models.Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.conversations[id] = c
	m.scheduleSave()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	cp := *c
	return &cp, nil
}

// ── Messages ─────────────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	c.UpdatedAt = stored.CreatedAt
	m.scheduleSave()
	cp := stored
	return &cp, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.Message, 0, len(all))
	for _, msg := range all {
		out = append(out, *msg)
	}
	return out, nil
}

// ── Tasks & Actions ──────────────────────────────────────────

func (m *MemoryStore) CreateTasks(_ context.Context, tasks []models.Task) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
		m.tasks[stored.ID] = &stored
		out = append(out, stored)
	}
	m.scheduleSave()
	return out, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, conversationID string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.ConversationID != conversationID {
			continue
		}
		cp := *t
		for _, a := range m.actions {
			if a.TaskID == t.ID {
				cp.Actions = append(cp.Actions, *a)
			}
		}
		sort.Slice(cp.Actions, func(i, j int) bool { return cp.Actions[i].Sequence < cp.Actions[j].Sequence })
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateAction(_ context.Context, action *models.Action) (*models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[action.TaskID]; !ok {
		return nil, &ErrNotFound{Entity: "task", Key: action.TaskID}
	}
	stored := *action
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.actions[stored.ID] = &stored
	m.scheduleSave()
	cp := stored
	return &cp, nil
}

func (m *MemoryStore) UpdateAction(_ context.Context, action *models.Action) (*models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.actions[action.ID]
	if !ok {
		return nil, &ErrNotFound{Entity: "action", Key: action.ID}
	}
	stored := *action
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	m.actions[stored.ID] = &stored
	m.scheduleSave()
	cp := stored
	return &cp, nil
}

func (m *MemoryStore) GetAction(_ context.Context, id string) (*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "action", Key: id}
	}
	cp := *a
	return &cp, nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the save loop and writes a final snapshot.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}
	log.Info().Msg("Memory store closed")
	return nil
}
