package postgres

import (
	"context"
	"errors"
	"fmt"

	"classroom-live/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizStore persists questions and graded answers in Postgres.
// The UNIQUE(question_id, participant_id) constraint decides which
// submission wins when several race.
type QuizStore struct {
	pool *pgxpool.Pool
}

func NewQuizStore(pool *pgxpool.Pool) *QuizStore {
	return &QuizStore{pool: pool}
}

const questionColumns = `id, room_code, teacher_id, question_text, type, options, correct_answer, duration_sec, sent_at, ends_at, status`

func (s *QuizStore) SaveQuestion(ctx context.Context, q domain.Question) error {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questions (`+questionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		q.ID, q.RoomCode, q.TeacherID, q.Text, string(q.Type), options, q.CorrectAnswer,
		q.DurationSec, q.SentAt, q.EndsAt, string(q.Status))
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *QuizStore) EndQuestion(ctx context.Context, questionID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE questions SET status = $2 WHERE id = $1`, questionID, string(domain.QuestionEnded))
	if err != nil {
		return fmt.Errorf("end question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (s *QuizStore) Question(ctx context.Context, questionID string) (domain.Question, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, questionID)
	return scanQuestion(row)
}

func (s *QuizStore) ActiveQuestion(ctx context.Context, roomCode string) (domain.Question, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE room_code = $1 AND status = $2
		ORDER BY sent_at DESC LIMIT 1`, roomCode, string(domain.QuestionActive))
	return scanQuestion(row)
}

// InsertAnswer reports domain.ErrDuplicateSubmission when the pair already has a row.
func (s *QuizStore) InsertAnswer(ctx context.Context, a domain.GradedAnswer) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO answers (id, room_code, question_id, participant_id, participant_name, answer, is_correct, locked, response_time_ms, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (question_id, participant_id) DO NOTHING`,
		a.ID, a.RoomCode, a.QuestionID, a.ParticipantID, a.ParticipantName, a.Answer,
		a.IsCorrect, a.Locked, a.ResponseTimeMs, a.AnsweredAt)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateSubmission
	}
	return nil
}

func (s *QuizStore) RoomAnswers(ctx context.Context, roomCode string) ([]domain.GradedAnswer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_code, question_id, participant_id, participant_name, answer, is_correct, locked, response_time_ms, answered_at
		FROM answers WHERE room_code = $1
		ORDER BY answered_at, id`, roomCode)
	if err != nil {
		return nil, fmt.Errorf("room answers: %w", err)
	}
	defer rows.Close()

	out := []domain.GradedAnswer{}
	for rows.Next() {
		var a domain.GradedAnswer
		if err := rows.Scan(&a.ID, &a.RoomCode, &a.QuestionID, &a.ParticipantID, &a.ParticipantName,
			&a.Answer, &a.IsCorrect, &a.Locked, &a.ResponseTimeMs, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *QuizStore) DeleteRoom(ctx context.Context, roomCode string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM answers WHERE room_code = $1`, roomCode); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE room_code = $1`, roomCode); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	return tx.Commit(ctx)
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q              domain.Question
		qType, qStatus string
	)
	err := row.Scan(&q.ID, &q.RoomCode, &q.TeacherID, &q.Text, &qType, &q.Options, &q.CorrectAnswer,
		&q.DurationSec, &q.SentAt, &q.EndsAt, &qStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	q.Type = domain.QuestionType(qType)
	q.Status = domain.QuestionStatus(qStatus)
	return q, nil
}
