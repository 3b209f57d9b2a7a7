package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"classroom-live/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QuizStore keeps questions and graded answers in Redis so several instances
// can share quiz history.
//
//	question:{id}            JSON question
//	room:{code}:questions    list of question IDs in send order
//	room:{code}:active       ID of the open question
//	quiz:{id}:answers        hash participantID -> JSON answer (HSETNX keeps the first)
type QuizStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQuizStore builds a store; ttl bounds how long room history survives (0 keeps it).
func NewQuizStore(client *redis.Client, ttl time.Duration) *QuizStore {
	return &QuizStore{client: client, ttl: ttl}
}

func (s *QuizStore) SaveQuestion(ctx context.Context, q domain.Question) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode question: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, questionKey(q.ID), raw, s.ttl)
	pipe.RPush(ctx, roomQuestionsKey(q.RoomCode), q.ID)
	if q.Status == domain.QuestionActive {
		pipe.Set(ctx, activeKey(q.RoomCode), q.ID, s.ttl)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, roomQuestionsKey(q.RoomCode), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *QuizStore) EndQuestion(ctx context.Context, questionID string) error {
	q, err := s.Question(ctx, questionID)
	if err != nil {
		return err
	}
	q.Status = domain.QuestionEnded
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode question: %w", err)
	}
	if err := s.client.Set(ctx, questionKey(q.ID), raw, redis.KeepTTL).Err(); err != nil {
		return err
	}
	active, err := s.client.Get(ctx, activeKey(q.RoomCode)).Result()
	if err == nil && active == q.ID {
		return s.client.Del(ctx, activeKey(q.RoomCode)).Err()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *QuizStore) Question(ctx context.Context, questionID string) (domain.Question, error) {
	raw, err := s.client.Get(ctx, questionKey(questionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, err
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("decode question %s: %w", questionID, err)
	}
	return q, nil
}

func (s *QuizStore) ActiveQuestion(ctx context.Context, roomCode string) (domain.Question, error) {
	id, err := s.client.Get(ctx, activeKey(roomCode)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, err
	}
	q, err := s.Question(ctx, id)
	if err != nil {
		return domain.Question{}, err
	}
	if q.Status != domain.QuestionActive {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

// InsertAnswer relies on HSETNX so the first answer per participant wins
// even across instances.
func (s *QuizStore) InsertAnswer(ctx context.Context, answer domain.GradedAnswer) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	key := answersKey(answer.QuestionID)
	ok, err := s.client.HSetNX(ctx, key, answer.ParticipantID, raw).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrDuplicateSubmission
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return nil
}

func (s *QuizStore) RoomAnswers(ctx context.Context, roomCode string) ([]domain.GradedAnswer, error) {
	ids, err := s.client.LRange(ctx, roomQuestionsKey(roomCode), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.GradedAnswer{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, answersKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := []domain.GradedAnswer{}
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var a domain.GradedAnswer
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				return nil, fmt.Errorf("decode answer: %w", err)
			}
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AnsweredAt.Equal(out[j].AnsweredAt) {
			return out[i].AnsweredAt.Before(out[j].AnsweredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *QuizStore) DeleteRoom(ctx context.Context, roomCode string) error {
	ids, err := s.client.LRange(ctx, roomQuestionsKey(roomCode), 0, -1).Result()
	if err != nil {
		return err
	}
	keys := []string{roomQuestionsKey(roomCode), activeKey(roomCode)}
	for _, id := range ids {
		keys = append(keys, questionKey(id), answersKey(id))
	}
	return s.client.Del(ctx, keys...).Err()
}

func questionKey(id string) string {
	return "question:" + id
}

func answersKey(questionID string) string {
	return "quiz:" + questionID + ":answers"
}

func roomQuestionsKey(code string) string {
	return "room:" + code + ":questions"
}

func activeKey(code string) string {
	return "room:" + code + ":active"
}
