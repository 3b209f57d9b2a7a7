package memory

import (
	"context"
	"sync"

	"classroom-live/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Code]; ok {
		return domain.ErrCodeTaken
	}
	stored := session
	stored.Participants = append([]string(nil), session.Participants...)
	s.sessions[session.Code] = &stored
	return nil
}

func (s *SessionStore) Get(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.Session{}, domain.ErrRoomNotFound
	}
	out := *session
	out.Participants = append([]string{}, session.Participants...)
	return out, nil
}

func (s *SessionStore) AddParticipant(_ context.Context, code, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	for _, id := range session.Participants {
		if id == participantID {
			return nil
		}
	}
	session.Participants = append(session.Participants, participantID)
	return nil
}

func (s *SessionStore) SetActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	session.Active = active
	return nil
}
