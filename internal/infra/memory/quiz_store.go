package memory

import (
	"context"
	"sort"
	"sync"

	"classroom-live/internal/domain"
)

// QuizStore keeps questions and graded answers in process memory.
type QuizStore struct {
	mu        sync.RWMutex
	questions map[string]domain.Question
	answers   map[string]map[string]domain.GradedAnswer // questionID -> participantID -> answer
	byRoom    map[string][]string                       // roomCode -> question IDs in send order
}

func NewQuizStore() *QuizStore {
	return &QuizStore{
		questions: make(map[string]domain.Question),
		answers:   make(map[string]map[string]domain.GradedAnswer),
		byRoom:    make(map[string][]string),
	}
}

func (s *QuizStore) SaveQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[q.ID]; !ok {
		s.byRoom[q.RoomCode] = append(s.byRoom[q.RoomCode], q.ID)
	}
	q.Options = append([]string(nil), q.Options...)
	s.questions[q.ID] = q
	return nil
}

func (s *QuizStore) EndQuestion(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	q.Status = domain.QuestionEnded
	s.questions[questionID] = q
	return nil
}

func (s *QuizStore) Question(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *QuizStore) ActiveQuestion(_ context.Context, roomCode string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRoom[roomCode]
	for i := len(ids) - 1; i >= 0; i-- {
		if q := s.questions[ids[i]]; q.Status == domain.QuestionActive {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

// InsertAnswer stores the first answer per (question, participant) pair.
func (s *QuizStore) InsertAnswer(_ context.Context, answer domain.GradedAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perQuestion, ok := s.answers[answer.QuestionID]
	if !ok {
		perQuestion = make(map[string]domain.GradedAnswer)
		s.answers[answer.QuestionID] = perQuestion
	}
	if _, exists := perQuestion[answer.ParticipantID]; exists {
		return domain.ErrDuplicateSubmission
	}
	perQuestion[answer.ParticipantID] = answer
	return nil
}

// Answer returns the stored answer for a pair.
func (s *QuizStore) Answer(_ context.Context, questionID, participantID string) (domain.GradedAnswer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[questionID][participantID]
	return a, ok
}

func (s *QuizStore) RoomAnswers(_ context.Context, roomCode string) ([]domain.GradedAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.GradedAnswer{}
	for _, qid := range s.byRoom[roomCode] {
		for _, a := range s.answers[qid] {
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

func (s *QuizStore) DeleteRoom(_ context.Context, roomCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, qid := range s.byRoom[roomCode] {
		delete(s.questions, qid)
		delete(s.answers, qid)
	}
	delete(s.byRoom, roomCode)
	return nil
}
