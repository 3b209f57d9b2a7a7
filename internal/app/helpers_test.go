package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"classroom-live/internal/domain"
	"classroom-live/internal/infra/memory"
)

// fakeClock only moves when Advance is called. Due timers fire synchronously.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// recordingSink captures every envelope delivered to a connection.
type recordingSink struct {
	mu     sync.Mutex
	events []Envelope
	closed bool
	full   bool
}

func (s *recordingSink) Send(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.full {
		return false
	}
	s.events = append(s.events, env)
	return true
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.events {
		if env.Type == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) last(kind string) (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == kind {
			return s.events[i], true
		}
	}
	return Envelope{}, false
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testRoom struct {
	classroom *Classroom
	clock     *fakeClock
	store     *memory.QuizStore
	code      string
	teacher   *recordingSink
}

// newTestRoom provisions a session and connects its teacher as t1.
func newTestRoom(t *testing.T, opts QuizOptions) *testRoom {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewQuizStore()
	classroom := NewClassroom(Deps{
		Sessions:    memory.NewSessionStore(),
		Quiz:        store,
		Clock:       clock,
		Logger:      discardLogger(),
		QuizOptions: opts,
	})
	session, err := classroom.Sessions.Create(context.Background(), "t1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	teacher := &recordingSink{}
	if _, _, err := classroom.Connect(context.Background(), session.Code, "t1", "Ms T", domain.RoleTeacher, teacher); err != nil {
		t.Fatalf("connect teacher: %v", err)
	}
	return &testRoom{classroom: classroom, clock: clock, store: store, code: session.Code, teacher: teacher}
}

func (r *testRoom) connectStudent(t *testing.T, id, name string) (*Member, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	member, _, err := r.classroom.Connect(context.Background(), r.code, id, name, domain.RoleStudent, sink)
	if err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	return member, sink
}

func (r *testRoom) ask(t *testing.T, draft domain.QuestionDraft) domain.Question {
	t.Helper()
	q, err := r.classroom.Quiz.SubmitQuestion(context.Background(), r.code, "t1", draft)
	if err != nil {
		t.Fatalf("submit question: %v", err)
	}
	return q
}

func mcqDraft() domain.QuestionDraft {
	return domain.QuestionDraft{
		Text:          "Capital of France?",
		Type:          "MCQ",
		Options:       []string{"Paris", "Lyon", "Nice"},
		CorrectAnswer: "Paris",
		DurationSec:   30,
	}
}
