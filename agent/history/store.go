// Package history persists the conversation turns of each session.
package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

var ErrInvalidSession = errors.New("history: session id is empty")

// Store is append-only: turns are never edited once written.
type Store interface {
	// Load returns the last limit turns in chronological order; limit <= 0 means all.
	Load(ctx context.Context, sessionID string, limit int) ([]contractx.ConversationTurn, error)
	Append(ctx context.Context, sessionID string, turns ...contractx.ConversationTurn) error
}

func checkSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

func tail[T any](items []T, limit int) []T {
	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[len(items)-limit:]
}

type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]contractx.ConversationTurn
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]contractx.ConversationTurn)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string, limit int) ([]contractx.ConversationTurn, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]contractx.ConversationTurn(nil), tail(m.turns[sessionID], limit)...), nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, turns ...contractx.ConversationTurn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[sessionID] = append(m.turns[sessionID], turns...)
	return nil
}

// Messages converts stored turns into provider messages. Tool turns stay internal.
func Messages(turns []contractx.ConversationTurn) []contractx.Message {
	out := make([]contractx.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case contractx.RoleUser:
			out = append(out, contractx.Message{Role: contractx.MessageUser, Content: t.Content})
		case contractx.RoleAssistant:
			out = append(out, contractx.Message{Role: contractx.MessageAssistant, Content: t.Content})
		}
	}
	return out
}
