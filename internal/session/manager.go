package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Manager owns the live sessions and the shared runtime collaborators
// they are built from.
type Manager struct {
	deps   Deps
	logger *observability.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates the session registry.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Manager{
		deps:     deps,
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session for the user and registers it.
func (m *Manager) Create(ctx context.Context, userID string, notifier Notifier) (*Session, models.SessionStatus, error) {
	id := uuid.NewString()
	sess := New(id, userID, m.deps, notifier)

	status, err := sess.Start(ctx)
	if err != nil {
		return nil, status, fmt.Errorf("start session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Inc()
	}
	m.logger.Info(ctx, "session created", "session_id", id, "user_id", userID)
	return sess, status, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Stop tears a session down and removes it from the registry.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}

	sess.Stop(ctx)
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Dec()
	}
	return nil
}

// StopAll tears down every session, used on server shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop(ctx)
		if m.deps.Metrics != nil {
			m.deps.Metrics.ActiveSessions.Dec()
		}
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
