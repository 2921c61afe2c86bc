package state

import (
	"context"
	"strings"
	"sync"
)

const (
	defaultStoreKeyPrefix = "chative:session:"
)

// Store is the Domain State Store. Every mutation touches exactly one field so that
// concurrent updates of different fields never clobber each other.
type Store interface {
	// Get returns the session's state; a session never written yields an empty state.
	Get(ctx context.Context, sessionID string) (*SessionState, error)
	AppendLedgerEntry(ctx context.Context, sessionID string, entry LedgerEntry) error
	AppendNote(ctx context.Context, sessionID string, note Note) error
	SetWeight(ctx context.Context, sessionID string, kg float64) error
	SetHeight(ctx context.Context, sessionID string, cm float64) error
}

func checkSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionState)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*SessionState, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.sessions[sessionID]; ok {
		return st.Clone(), nil
	}
	return NewSessionState(sessionID), nil
}

func (m *MemoryStore) AppendLedgerEntry(_ context.Context, sessionID string, entry LedgerEntry) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	m.mutate(sessionID, func(st *SessionState) {
		st.LedgerEntries = append(st.LedgerEntries, entry)
	})
	return nil
}

func (m *MemoryStore) AppendNote(_ context.Context, sessionID string, note Note) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := note.Validate(); err != nil {
		return err
	}
	note.Tags = append([]string(nil), note.Tags...)
	m.mutate(sessionID, func(st *SessionState) {
		st.Notes = append(st.Notes, note)
	})
	return nil
}

func (m *MemoryStore) SetWeight(_ context.Context, sessionID string, kg float64) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := validateMetric(kg); err != nil {
		return err
	}
	m.mutate(sessionID, func(st *SessionState) {
		st.Weight = &kg
	})
	return nil
}

func (m *MemoryStore) SetHeight(_ context.Context, sessionID string, cm float64) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := validateMetric(cm); err != nil {
		return err
	}
	m.mutate(sessionID, func(st *SessionState) {
		st.Height = &cm
	})
	return nil
}

// mutate creates the session lazily on first write.
func (m *MemoryStore) mutate(sessionID string, fn func(*SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		st = NewSessionState(sessionID)
		m.sessions[sessionID] = st
	}
	fn(st)
}
