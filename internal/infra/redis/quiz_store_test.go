package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"classroom-live/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuizStoreKeepsFirstAnswer(t *testing.T) {
	mr := startMiniredis(t)
	store := NewQuizStore(newClient(mr), time.Hour)
	ctx := context.Background()

	if err := store.SaveQuestion(ctx, sampleQuestion("q1")); err != nil {
		t.Fatalf("save question: %v", err)
	}

	first := domain.GradedAnswer{ID: "a1", RoomCode: "ROOM01", QuestionID: "q1", ParticipantID: "s1", Answer: "paris", IsCorrect: true}
	if err := store.InsertAnswer(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := first
	second.ID, second.Answer = "a2", "lyon"
	if err := store.InsertAnswer(ctx, second); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	answers, err := store.RoomAnswers(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("room answers: %v", err)
	}
	if len(answers) != 1 || answers[0].ID != "a1" {
		t.Fatalf("expected only the first answer, got %+v", answers)
	}
}

func TestQuizStoreConcurrentInserts(t *testing.T) {
	mr := startMiniredis(t)
	store := NewQuizStore(newClient(mr), 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.InsertAnswer(ctx, domain.GradedAnswer{ID: fmt.Sprintf("a%d", i), QuestionID: "q1", ParticipantID: "s1"})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected one accepted answer, got %d", accepted)
	}
}

func TestQuizStoreActiveQuestionLifecycle(t *testing.T) {
	mr := startMiniredis(t)
	store := NewQuizStore(newClient(mr), time.Hour)
	ctx := context.Background()

	if _, err := store.ActiveQuestion(ctx, "ROOM01"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected no active question, got %v", err)
	}
	_ = store.SaveQuestion(ctx, sampleQuestion("q1"))
	active, err := store.ActiveQuestion(ctx, "ROOM01")
	if err != nil || active.ID != "q1" {
		t.Fatalf("expected q1 active, got %+v err=%v", active, err)
	}
	if len(active.Options) != 4 || active.CorrectAnswer != "paris" {
		t.Fatalf("question did not round-trip: %+v", active)
	}

	if err := store.EndQuestion(ctx, "q1"); err != nil {
		t.Fatalf("end question: %v", err)
	}
	if _, err := store.ActiveQuestion(ctx, "ROOM01"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ended question to be inactive, got %v", err)
	}
	q, _ := store.Question(ctx, "q1")
	if q.Status != domain.QuestionEnded {
		t.Fatalf("expected ended status, got %s", q.Status)
	}

	_ = store.InsertAnswer(ctx, domain.GradedAnswer{ID: "a1", RoomCode: "ROOM01", QuestionID: "q1", ParticipantID: "s1"})
	if err := store.DeleteRoom(ctx, "ROOM01"); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if mr.Exists("question:q1") || mr.Exists("quiz:q1:answers") {
		t.Fatalf("expected room keys removed")
	}
}

func startMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func sampleQuestion(id string) domain.Question {
	sent := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	return domain.Question{
		ID:            id,
		RoomCode:      "ROOM01",
		TeacherID:     "t1",
		Text:          "Capital of France?",
		Type:          domain.QuestionMCQ,
		Options:       []string{"Paris", "Lyon", "Nice", "Rome"},
		CorrectAnswer: "paris",
		DurationSec:   20,
		SentAt:        sent,
		EndsAt:        sent.Add(20 * time.Second),
		Status:        domain.QuestionActive,
	}
}
