package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"classroom-live/internal/domain"
	"github.com/google/uuid"
)

// QuizStore persists questions and graded answers.
//
// InsertAnswer must be an atomic check-and-insert keyed by (question,
// participant): a second insert for the same pair returns
// domain.ErrDuplicateSubmission and leaves the first answer untouched.
type QuizStore interface {
	SaveQuestion(ctx context.Context, q domain.Question) error
	EndQuestion(ctx context.Context, questionID string) error
	Question(ctx context.Context, questionID string) (domain.Question, error)
	ActiveQuestion(ctx context.Context, roomCode string) (domain.Question, error)
	InsertAnswer(ctx context.Context, answer domain.GradedAnswer) error
	RoomAnswers(ctx context.Context, roomCode string) ([]domain.GradedAnswer, error)
	DeleteRoom(ctx context.Context, roomCode string) error
}

// MaxDurationSec caps how long a question may stay open.
const MaxDurationSec = 24 * 60 * 60

// QuizOptions tunes engine behaviour.
type QuizOptions struct {
	// AnnounceLock schedules a question:locked broadcast at each deadline.
	AnnounceLock bool
}

// QuizEngine is the per-room question/answer state machine. All mutations
// for one room run under that room's lock; rooms never block each other.
type QuizEngine struct {
	registry *Registry
	store    QuizStore
	sessions SessionRepository
	board    *Aggregator
	clock    Clock
	logger   *slog.Logger
	opts     QuizOptions

	mu    sync.Mutex
	rooms map[string]*roomQuiz
}

type roomQuiz struct {
	mu     sync.Mutex
	loaded bool
	active *domain.Question
	timer  Timer
}

// NewQuizEngine builds the engine. sessions may be nil, in which case any
// connected teacher of a provisioned room may ask questions.
func NewQuizEngine(registry *Registry, store QuizStore, sessions SessionRepository, board *Aggregator, clock Clock, logger *slog.Logger, opts QuizOptions) *QuizEngine {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizEngine{
		registry: registry,
		store:    store,
		sessions: sessions,
		board:    board,
		clock:    clock,
		logger:   logger,
		opts:     opts,
		rooms:    make(map[string]*roomQuiz),
	}
}

// SubmitQuestion validates a draft, stores it, makes it the room's active
// question and broadcasts it without the correct answer.
func (e *QuizEngine) SubmitQuestion(ctx context.Context, roomCode, teacherID string, draft domain.QuestionDraft) (domain.Question, error) {
	q, err := buildQuestion(roomCode, teacherID, draft)
	if err != nil {
		return domain.Question{}, err
	}

	code, err := e.registry.RequireProvisioned(ctx, roomCode)
	if err != nil {
		return domain.Question{}, err
	}
	sender, ok := e.registry.Member(code, teacherID)
	if !ok || sender.Role != domain.RoleTeacher {
		return domain.Question{}, domain.ErrNotTeacher
	}
	if e.sessions != nil {
		session, err := e.sessions.Get(ctx, code)
		if err != nil {
			return domain.Question{}, err
		}
		if session.TeacherID != sender.ID {
			return domain.Question{}, domain.ErrNotTeacher
		}
	}

	rq := e.room(code)
	rq.mu.Lock()
	defer rq.mu.Unlock()
	e.loadLocked(ctx, code, rq)

	now := e.clock.Now()
	q.ID = uuid.NewString()
	q.RoomCode = code
	q.SentAt = now
	q.EndsAt = now.Add(time.Duration(q.DurationSec) * time.Second)
	q.Status = domain.QuestionActive

	if err := e.store.SaveQuestion(ctx, q); err != nil {
		e.logger.Error("save question failed", "room", code, "err", err)
		return domain.Question{}, fmt.Errorf("%w: save question: %v", domain.ErrPersistence, err)
	}

	if prior := rq.active; prior != nil {
		if err := e.store.EndQuestion(ctx, prior.ID); err != nil {
			e.logger.Warn("end prior question failed", "room", code, "question", prior.ID, "err", err)
		}
	}
	if rq.timer != nil {
		rq.timer.Stop()
		rq.timer = nil
	}
	active := q
	rq.active = &active
	if e.opts.AnnounceLock {
		rq.timer = e.clock.AfterFunc(q.EndsAt.Sub(now), func() { e.announceLock(code, q.ID) })
	}

	e.registry.Publish(code, Envelope{Type: EventQuestionNew, Payload: q.Public()})
	e.logger.Info("question sent", "room", code, "question", q.ID, "type", q.Type, "duration_sec", q.DurationSec)
	return q, nil
}

// SubmitAnswer grades and stores a participant's single answer to a question.
// Locked answers are stored but reported with OK=false.
func (e *QuizEngine) SubmitAnswer(ctx context.Context, roomCode, questionID, participantID, participantName, raw string) (domain.AnswerResult, error) {
	code := NormalizeCode(roomCode)
	if code == "" || questionID == "" || participantID == "" {
		return domain.AnswerResult{}, domain.Invalid(domain.ReasonMissingFields)
	}

	q, err := e.store.Question(ctx, questionID)
	if errors.Is(err, domain.ErrQuestionNotFound) || (err == nil && q.RoomCode != code) {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		e.logger.Error("load question failed", "room", code, "question", questionID, "err", err)
		return domain.AnswerResult{}, fmt.Errorf("%w: load question: %v", domain.ErrPersistence, err)
	}

	answer, err := domain.ValidateAnswerShape(q.Type, raw, q.Options)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if member, ok := e.registry.Member(code, participantID); ok && member.Name != "" {
		participantName = member.Name
	}

	rq := e.room(code)
	rq.mu.Lock()
	defer rq.mu.Unlock()
	e.loadLocked(ctx, code, rq)

	now := e.clock.Now()
	superseded := rq.active != nil && rq.active.ID != q.ID
	closed := rq.active != nil && rq.active.ID == q.ID && rq.active.Status == domain.QuestionEnded
	graded := domain.GradedAnswer{
		ID:              uuid.NewString(),
		RoomCode:        code,
		QuestionID:      q.ID,
		ParticipantID:   participantID,
		ParticipantName: participantName,
		Answer:          answer,
		IsCorrect:       domain.Grade(answer, q.CorrectAnswer),
		Locked:          superseded || closed || q.LockedAt(now),
		ResponseTimeMs:  max(0, now.Sub(q.SentAt).Milliseconds()),
		AnsweredAt:      now,
	}

	if err := e.store.InsertAnswer(ctx, graded); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			return domain.AnswerResult{}, domain.ErrDuplicateSubmission
		}
		e.logger.Error("save answer failed", "room", code, "question", q.ID, "participant", participantID, "err", err)
		return domain.AnswerResult{}, fmt.Errorf("%w: save answer: %v", domain.ErrPersistence, err)
	}

	result := resultOf(graded)
	e.registry.Publish(code, Envelope{Type: EventAnswerUpdate, Payload: result})
	if !graded.Locked && e.board != nil {
		if lb, err := e.board.Leaderboard(ctx, code, 0); err == nil {
			e.registry.Publish(code, Envelope{Type: EventLeaderboard, Payload: lb})
		} else {
			e.logger.Warn("leaderboard refresh failed", "room", code, "err", err)
		}
	}
	return result, nil
}

// State evaluates the room's state machine against the clock.
func (e *QuizEngine) State(ctx context.Context, roomCode string) (domain.QuizState, *domain.Question) {
	code := NormalizeCode(roomCode)
	rq := e.room(code)
	rq.mu.Lock()
	defer rq.mu.Unlock()
	e.loadLocked(ctx, code, rq)

	if rq.active == nil {
		return domain.QuizIdle, nil
	}
	q := *rq.active
	if q.Status != domain.QuestionEnded && e.clock.Now().Before(q.EndsAt) {
		return domain.QuizActive, &q
	}
	return domain.QuizLocked, &q
}

// Stop cancels the pending deadline broadcast for a room without touching history.
func (e *QuizEngine) Stop(roomCode string) {
	code := NormalizeCode(roomCode)
	e.mu.Lock()
	rq, ok := e.rooms[code]
	e.mu.Unlock()
	if !ok {
		return
	}
	rq.mu.Lock()
	if rq.timer != nil {
		rq.timer.Stop()
		rq.timer = nil
	}
	rq.mu.Unlock()
}

// Close ends the room's active question and cancels its deadline broadcast.
// Answers that arrive afterwards are stored locked.
func (e *QuizEngine) Close(ctx context.Context, roomCode string) {
	code := NormalizeCode(roomCode)
	rq := e.room(code)
	rq.mu.Lock()
	defer rq.mu.Unlock()
	e.loadLocked(ctx, code, rq)

	if rq.timer != nil {
		rq.timer.Stop()
		rq.timer = nil
	}
	if rq.active == nil || rq.active.Status == domain.QuestionEnded {
		return
	}
	if err := e.store.EndQuestion(ctx, rq.active.ID); err != nil {
		e.logger.Warn("end question failed", "room", code, "question", rq.active.ID, "err", err)
	}
	rq.active.Status = domain.QuestionEnded
}

// Teardown drops all quiz state for a room, including stored history.
func (e *QuizEngine) Teardown(ctx context.Context, roomCode string) error {
	code := NormalizeCode(roomCode)
	e.Stop(code)
	e.mu.Lock()
	delete(e.rooms, code)
	e.mu.Unlock()
	if err := e.store.DeleteRoom(ctx, code); err != nil {
		return fmt.Errorf("%w: delete room history: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (e *QuizEngine) announceLock(code, questionID string) {
	e.mu.Lock()
	rq, ok := e.rooms[code]
	e.mu.Unlock()
	if !ok {
		return
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.active == nil || rq.active.ID != questionID {
		return
	}
	rq.timer = nil
	e.registry.Publish(code, Envelope{Type: EventQuestionLock, Payload: lockPayload{
		QuestionID: questionID,
		EndsAt:     rq.active.EndsAt,
	}})
}

func (e *QuizEngine) room(code string) *roomQuiz {
	e.mu.Lock()
	defer e.mu.Unlock()
	rq, ok := e.rooms[code]
	if !ok {
		rq = &roomQuiz{}
		e.rooms[code] = rq
	}
	return rq
}

// loadLocked restores the active question pointer after a restart.
func (e *QuizEngine) loadLocked(ctx context.Context, code string, rq *roomQuiz) {
	if rq.loaded {
		return
	}
	q, err := e.store.ActiveQuestion(ctx, code)
	switch {
	case err == nil:
		rq.active = &q
	case errors.Is(err, domain.ErrQuestionNotFound):
	default:
		e.logger.Warn("restore active question failed", "room", code, "err", err)
		return
	}
	rq.loaded = true
}

func buildQuestion(roomCode, teacherID string, draft domain.QuestionDraft) (domain.Question, error) {
	text := strings.TrimSpace(draft.Text)
	if strings.TrimSpace(roomCode) == "" || teacherID == "" || text == "" ||
		strings.TrimSpace(draft.Type) == "" || strings.TrimSpace(draft.CorrectAnswer) == "" || draft.DurationSec <= 0 {
		return domain.Question{}, domain.Invalid(domain.ReasonMissingFields)
	}
	if draft.DurationSec > MaxDurationSec {
		return domain.Question{}, domain.Invalid(domain.ReasonDurationTooLong)
	}
	qType, ok := domain.ParseQuestionType(draft.Type)
	if !ok {
		return domain.Question{}, domain.Invalid(domain.ReasonUnsupportedType)
	}

	options := []string{}
	if qType == domain.QuestionMCQ {
		for _, opt := range draft.Options {
			if trimmed := strings.TrimSpace(opt); trimmed != "" {
				if !domain.IsOneToken(trimmed) {
					return domain.Question{}, domain.Invalid(domain.ReasonOptionsOneWord)
				}
				options = append(options, trimmed)
			}
		}
		if len(options) == 0 {
			return domain.Question{}, domain.Invalid(domain.ReasonMissingOptions)
		}
	}

	correct, err := domain.ValidateAnswerShape(qType, draft.CorrectAnswer, options)
	if err != nil {
		return domain.Question{}, err
	}

	return domain.Question{
		TeacherID:     teacherID,
		Text:          text,
		Type:          qType,
		Options:       options,
		CorrectAnswer: domain.Normalize(correct),
		DurationSec:   draft.DurationSec,
	}, nil
}

func resultOf(a domain.GradedAnswer) domain.AnswerResult {
	result := domain.AnswerResult{
		OK:              !a.Locked,
		Locked:          a.Locked,
		QuestionID:      a.QuestionID,
		ParticipantID:   a.ParticipantID,
		ParticipantName: a.ParticipantName,
		Answer:          a.Answer,
		IsCorrect:       a.IsCorrect,
		ResponseTimeMs:  a.ResponseTimeMs,
		AnsweredAt:      a.AnsweredAt,
	}
	if a.Locked {
		result.Message = "Time is up."
	}
	return result
}
