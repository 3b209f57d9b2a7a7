package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"classroom-live/internal/domain"
	"github.com/uptrace/bun"
)

type sessionModel struct {
	bun.BaseModel `bun:"table:sessions"`

	Code      string    `bun:"code,pk"`
	TeacherID string    `bun:"teacher_id,notnull"`
	StartTime time.Time `bun:"start_time,notnull"`
	Active    bool      `bun:"is_active,notnull"`
}

type participantModel struct {
	bun.BaseModel `bun:"table:session_participants"`

	SessionCode   string    `bun:"session_code,pk"`
	ParticipantID string    `bun:"participant_id,pk"`
	JoinedAt      time.Time `bun:"joined_at,notnull"`
}

// SessionStore keeps session ownership and rosters in Postgres through bun.
type SessionStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	model := sessionModel{
		Code:      session.Code,
		TeacherID: session.TeacherID,
		StartTime: session.StartTime,
		Active:    session.Active,
	}
	if model.StartTime.IsZero() {
		model.StartTime = s.now().UTC()
	}
	res, err := s.db.NewInsert().Model(&model).On("CONFLICT (code) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCodeTaken
	}
	for _, id := range session.Participants {
		if err := s.AddParticipant(ctx, session.Code, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.Session, error) {
	var model sessionModel
	err := s.db.NewSelect().Model(&model).Where("code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}

	var roster []participantModel
	err = s.db.NewSelect().Model(&roster).
		Where("session_code = ?", code).
		Order("joined_at ASC", "participant_id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("load roster: %w", err)
	}

	session := domain.Session{
		Code:         model.Code,
		TeacherID:    model.TeacherID,
		StartTime:    model.StartTime,
		Participants: make([]string, 0, len(roster)),
		Active:       model.Active,
	}
	for _, p := range roster {
		session.Participants = append(session.Participants, p.ParticipantID)
	}
	return session, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, code, participantID string) error {
	exists, err := s.db.NewSelect().Model((*sessionModel)(nil)).Where("code = ?", code).Exists(ctx)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return domain.ErrRoomNotFound
	}
	p := participantModel{SessionCode: code, ParticipantID: participantID, JoinedAt: s.now().UTC()}
	if _, err := s.db.NewInsert().Model(&p).On("CONFLICT (session_code, participant_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (s *SessionStore) SetActive(ctx context.Context, code string, active bool) error {
	res, err := s.db.NewUpdate().Model((*sessionModel)(nil)).
		Set("is_active = ?", active).
		Where("code = ?", code).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}
