package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"classroom-live/internal/domain"
)

// SessionRepository stores room code → teacher ownership → roster.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, code string) (domain.Session, error)
	AddParticipant(ctx context.Context, code, participantID string) error
	SetActive(ctx context.Context, code string, active bool) error
}

// Invalidator is implemented by directory caches that must forget a code.
type Invalidator interface {
	Invalidate(ctx context.Context, code string)
}

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength     = 6
	createAttempts = 5
)

// SessionService provisions and ends classroom sessions.
type SessionService struct {
	repo      SessionRepository
	directory RoomDirectory
	registry  *Registry
	quiz      *QuizEngine
	presence  *Presence
	clock     Clock
	logger    *slog.Logger
	newCode   func() (string, error)
}

func NewSessionService(repo SessionRepository, directory RoomDirectory, registry *Registry, quiz *QuizEngine, presence *Presence, clock Clock, logger *slog.Logger) *SessionService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		repo:      repo,
		directory: directory,
		registry:  registry,
		quiz:      quiz,
		presence:  presence,
		clock:     clock,
		logger:    logger,
		newCode:   generateCode,
	}
}

// Create provisions a new session owned by teacherID.
func (s *SessionService) Create(ctx context.Context, teacherID string) (domain.Session, error) {
	if strings.TrimSpace(teacherID) == "" {
		return domain.Session{}, domain.Invalid(domain.ReasonMissingFields)
	}
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Session{}, err
		}
		session := domain.Session{
			Code:         code,
			TeacherID:    teacherID,
			StartTime:    s.clock.Now().UTC(),
			Participants: []string{},
			Active:       true,
		}
		err = s.repo.Create(ctx, session)
		if errors.Is(err, domain.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Session{}, fmt.Errorf("%w: create session: %v", domain.ErrPersistence, err)
		}
		s.logger.Info("session created", "room", code, "teacher", teacherID)
		return session, nil
	}
	return domain.Session{}, domain.ErrCodeTaken
}

// Join validates a code and records studentID on the roster.
func (s *SessionService) Join(ctx context.Context, code, studentID string) (domain.Session, error) {
	code = NormalizeCode(code)
	if code == "" || strings.TrimSpace(studentID) == "" {
		return domain.Session{}, domain.Invalid(domain.ReasonMissingFields)
	}
	session, err := s.repo.Get(ctx, code)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.Active {
		return domain.Session{}, domain.ErrRoomClosed
	}
	for _, id := range session.Participants {
		if id == studentID {
			return session, nil
		}
	}
	if err := s.repo.AddParticipant(ctx, code, studentID); err != nil {
		return domain.Session{}, fmt.Errorf("%w: add participant: %v", domain.ErrPersistence, err)
	}
	session.Participants = append(session.Participants, studentID)
	return session, nil
}

// End retires the room. Quiz history is kept until Teardown.
func (s *SessionService) End(ctx context.Context, code, teacherID string) error {
	session, err := s.owned(ctx, code, teacherID)
	if err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, session.Code, false); err != nil {
		return fmt.Errorf("%w: end session: %v", domain.ErrPersistence, err)
	}
	if inv, ok := s.directory.(Invalidator); ok {
		inv.Invalidate(ctx, session.Code)
	}
	s.registry.Retire(session.Code)
	s.quiz.Close(ctx, session.Code)
	s.registry.Publish(session.Code, Envelope{Type: EventSessionEnded, Payload: sessionEndedPayload{
		Code:    session.Code,
		EndedAt: s.clock.Now().UTC(),
	}})
	s.logger.Info("session ended", "room", session.Code, "teacher", teacherID)
	return nil
}

// Teardown deletes the ended session's quiz history and focus state.
func (s *SessionService) Teardown(ctx context.Context, code, teacherID string) error {
	session, err := s.owned(ctx, code, teacherID)
	if err != nil {
		return err
	}
	if session.Active {
		if err := s.End(ctx, session.Code, teacherID); err != nil {
			return err
		}
	}
	s.presence.Drop(session.Code)
	s.registry.Unretire(session.Code)
	return s.quiz.Teardown(ctx, session.Code)
}

// Get returns the stored session.
func (s *SessionService) Get(ctx context.Context, code string) (domain.Session, error) {
	return s.repo.Get(ctx, NormalizeCode(code))
}

func (s *SessionService) owned(ctx context.Context, code, teacherID string) (domain.Session, error) {
	session, err := s.repo.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Session{}, err
	}
	if session.TeacherID != teacherID {
		return domain.Session{}, domain.ErrNotTeacher
	}
	return session, nil
}

// RepositoryDirectory adapts a SessionRepository into a RoomDirectory without caching.
type RepositoryDirectory struct {
	Repo SessionRepository
}

func (d RepositoryDirectory) SessionActive(ctx context.Context, code string) (bool, error) {
	session, err := d.Repo.Get(ctx, NormalizeCode(code))
	if err != nil {
		return false, err
	}
	return session.Active, nil
}

func generateCode() (string, error) {
	var b strings.Builder
	upper := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, upper)
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
