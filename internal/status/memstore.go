package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finlake/tradeflow/model"
)

// MemorySessionStore is an in-memory SessionStore for testing and
// single-instance deployments.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.WorkflowSession // key: session ID
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]model.WorkflowSession),
	}
}

// Create persists a new session.
func (s *MemorySessionStore) Create(_ context.Context, session model.WorkflowSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("session %q already exists", session.SessionID),
		)
	}

	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

// Get retrieves a session by ID.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (model.WorkflowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return model.WorkflowSession{}, model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	return cloneSession(session), nil
}

// UpdateStage applies a partial update to one stage.
func (s *MemorySessionStore) UpdateStage(_ context.Context, sessionID, stage string, status model.StageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	if session.IsTerminal() {
		return model.NewConflictError(
			fmt.Sprintf("session %q is already %s", sessionID, session.OverallStatus),
		)
	}
	if current, ok := session.Stages[stage]; ok && current.IsTerminal() && current.Status != status.Status {
		return model.NewConflictError(
			fmt.Sprintf("session %q stage %q is already %s", sessionID, stage, current.Status),
		)
	}

	session.Stages[stage] = status
	session.LastUpdated = time.Now().UTC()
	s.sessions[sessionID] = session
	return nil
}

// SetOverallStatus moves the session's overall status.
func (s *MemorySessionStore) SetOverallStatus(_ context.Context, sessionID, overall, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	if session.IsTerminal() && session.OverallStatus != overall {
		return model.NewConflictError(
			fmt.Sprintf("session %q is already %s", sessionID, session.OverallStatus),
		)
	}

	session.OverallStatus = overall
	if errMsg != "" {
		session.Error = errMsg
	}
	session.LastUpdated = time.Now().UTC()
	s.sessions[sessionID] = session
	return nil
}

// FindExpired returns session IDs past their expiration time.
func (s *MemorySessionStore) FindExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(cutoff) {
			result = append(result, id)
		}
	}
	return result, nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the total number of sessions. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// cloneSession deep-copies the stage map so callers cannot mutate stored
// state through the returned value.
func cloneSession(in model.WorkflowSession) model.WorkflowSession {
	out := in
	out.Stages = make(map[string]model.StageStatus, len(in.Stages))
	for name, st := range in.Stages {
		out.Stages[name] = st
	}
	return out
}
