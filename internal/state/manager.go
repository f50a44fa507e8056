package state

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCycleActive is returned when a conversation already has a reasoning
// cycle in flight.
var ErrCycleActive = errors.New("reasoning cycle already active")

type entry struct {
	store     *Store
	active    bool
	updatedAt time.Time
}

// Manager scopes one Store per conversation and allows a single active cycle
// per conversation. Different conversations proceed independently.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry // key: conversation ID
}

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Acquire installs st as the state of conversationID and marks the cycle
// active. The returned release func ends the cycle; the store stays readable
// through Get until the next Acquire or Forget.
func (m *Manager) Acquire(conversationID string, st *Store) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[conversationID]; ok && e.active {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrCycleActive)
	}
	e := &entry{store: st, active: true, updatedAt: time.Now().UTC()}
	m.entries[conversationID] = e

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			e.active = false
			e.updatedAt = time.Now().UTC()
		})
	}
	return release, nil
}

// Get returns the latest state of a conversation.
func (m *Manager) Get(conversationID string) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[conversationID]
	if !ok {
		return nil, false
	}
	return e.store, true
}

// Active reports whether a cycle is in flight for the conversation.
func (m *Manager) Active(conversationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[conversationID]
	return ok && e.active
}

// Forget drops an idle conversation's state.
func (m *Manager) Forget(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	if e.active {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrCycleActive)
	}
	delete(m.entries, conversationID)
	return nil
}

// Evict drops idle states not touched since before cutoff and returns how
// many were removed.
func (m *Manager) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if !e.active && e.updatedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
