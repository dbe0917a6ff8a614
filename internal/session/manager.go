// Package session resolves, guards and reads back chat sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kalambet/shopassist/internal/storage"
)

const (
	// DefaultAgent is used when a request names no agent.
	DefaultAgent = "chat"
	// DefaultHistoryLimit bounds the history window sent upstream.
	DefaultHistoryLimit = 8

	StatusOpen = "OPEN"
)

var (
	// ErrNotFound is returned when the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNotOwned is returned when the session belongs to another user.
	ErrNotOwned = errors.New("session not owned by user")
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetSession(ctx context.Context, id int64) (storage.ChatSession, error)
	CreateSession(ctx context.Context, s storage.ChatSession) (storage.ChatSession, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]storage.ChatMessage, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager owns the session lifecycle: resume-or-create, ownership checks and
// the bounded history window.
type Manager struct {
	store Store
	clock Clock
}

// NewManager creates a Manager using the wall clock.
func NewManager(store Store) *Manager {
	return &Manager{store: store, clock: realClock{}}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock) *Manager {
	return &Manager{store: store, clock: clock}
}

// Resolve returns the session a message should be appended to. A nil agent
// means DefaultAgent. The requested session is resumed when it exists, is
// owned by userID and was opened for the same agent (an empty agent matches
// any). In every other case a new OPEN session is created.
func (m *Manager) Resolve(ctx context.Context, userID int64, sessionID *int64, agent *string) (storage.ChatSession, error) {
	name := DefaultAgent
	if agent != nil {
		name = *agent
	}

	if sessionID != nil {
		s, err := m.store.GetSession(ctx, *sessionID)
		switch {
		case err == nil:
			if s.UserID == userID && (name == "" || s.Agent == name) {
				return s, nil
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return storage.ChatSession{}, fmt.Errorf("loading session %d: %w", *sessionID, err)
		}
	}

	now := m.clock.Now().UTC()
	s, err := m.store.CreateSession(ctx, storage.ChatSession{
		UserID:    userID,
		Agent:     name,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return storage.ChatSession{}, fmt.Errorf("creating session: %w", err)
	}
	return s, nil
}

// EnsureOwner loads the session and checks that userID owns it.
func (m *Manager) EnsureOwner(ctx context.Context, userID, sessionID int64) (storage.ChatSession, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ChatSession{}, ErrNotFound
	}
	if err != nil {
		return storage.ChatSession{}, fmt.Errorf("loading session %d: %w", sessionID, err)
	}
	if s.UserID != userID {
		return storage.ChatSession{}, ErrNotOwned
	}
	return s, nil
}

// RecentHistory returns the newest limit messages of the session, oldest
// first. A non-positive limit means DefaultHistoryLimit.
func (m *Manager) RecentHistory(ctx context.Context, sessionID int64, limit int) ([]storage.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := m.store.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history for session %d: %w", sessionID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}
