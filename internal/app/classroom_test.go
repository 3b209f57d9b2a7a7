package app

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"classroom-live/internal/domain"
	"classroom-live/internal/infra/memory"
)

func TestConnectSendsPeerListAndAnnounces(t *testing.T) {
	room := newTestRoom(t, QuizOptions{})
	room.teacher.reset()

	member, peers, err := room.classroom.Connect(context.Background(), room.code, "s1", "Sam", domain.RoleStudent, &recordingSink{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if member.Room != room.code || !reflect.DeepEqual(peers, []string{"t1"}) {
		t.Fatalf("unexpected connect result: %+v %v", member, peers)
	}
	sink := member.Sink().(*recordingSink)
	env, ok := sink.last(EventAllUsers)
	if !ok || !reflect.DeepEqual(env.Payload, []string{"t1"}) {
		t.Fatalf("newcomer should receive all-users, got %+v", env)
	}
	if room.teacher.count(EventUserJoined) != 1 || room.teacher.count(EventPresence) != 1 {
		t.Fatalf("teacher should see user-joined and presence once")
	}
	if sink.count(EventFocusSnapshot) != 0 {
		t.Fatalf("students do not receive focus snapshots")
	}
}

func TestConnectEphemeralRoomAllowsSignalingOnly(t *testing.T) {
	room := newTestRoom(t, QuizOptions{})
	ctx := context.Background()
	a, b := &recordingSink{}, &recordingSink{}
	if _, _, err := room.classroom.Connect(ctx, "mesh01", "a", "Ann", domain.RoleTeacher, a); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if _, _, err := room.classroom.Connect(ctx, "MESH01", "b", "Ben", domain.RoleStudent, b); err != nil {
		t.Fatalf("connect b: %v", err)
	}
	if !room.classroom.Relay.RelayOffer("MESH01", "b", "a", []byte(`{}`)) {
		t.Fatalf("offers should flow in ephemeral rooms")
	}
	if _, err := room.classroom.Quiz.SubmitQuestion(ctx, "MESH01", "a", mcqDraft()); err == nil {
		t.Fatalf("quiz operations need a provisioned session")
	}
}

func TestConnectSupersedesPriorConnection(t *testing.T) {
	room := newTestRoom(t, QuizOptions{})
	ctx := context.Background()
	first, firstSink := room.connectStudent(t, "s1", "Sam")
	room.teacher.reset()

	second, secondSink := room.connectStudent(t, "s1", "Sam")
	if !firstSink.isClosed() || firstSink.count(EventSuperseded) != 1 {
		t.Fatalf("prior connection should be told and closed")
	}
	if secondSink.isClosed() {
		t.Fatalf("new connection must stay open")
	}
	if room.teacher.count(EventUserLeft) != 1 || room.teacher.count(EventUserJoined) != 1 {
		t.Fatalf("peers should tear down and rebuild the link once")
	}

	if room.classroom.Disconnect(ctx, first) {
		t.Fatalf("stale connection must not remove the identity")
	}
	if _, ok := room.classroom.Registry.Member(room.code, "s1"); !ok {
		t.Fatalf("s1 should still be connected")
	}
	if !room.classroom.Disconnect(ctx, second) {
		t.Fatalf("current connection should disconnect")
	}
}

func TestDisconnectNotifiesOnce(t *testing.T) {
	room := newTestRoom(t, QuizOptions{})
	ctx := context.Background()
	member, _ := room.connectStudent(t, "s1", "Sam")
	room.classroom.Presence.ReportFocus(room.code, "s1", "DISTRACTED")
	room.teacher.reset()

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = room.classroom.Disconnect(ctx, member)
		}(i)
	}
	wg.Wait()

	removed := 0
	for _, ok := range results {
		if ok {
			removed++
		}
	}
	if removed != 1 {
		t.Fatalf("expected a single effective disconnect, got %d", removed)
	}
	if room.teacher.count(EventUserLeft) != 1 || room.teacher.count(EventPresence) != 1 {
		t.Fatalf("teacher should be notified exactly once")
	}
	if got := room.classroom.Presence.FocusOf(room.code, "s1"); got != domain.FocusUnknown {
		t.Fatalf("focus should be forgotten, got %s", got)
	}
	if room.classroom.Disconnect(ctx, nil) {
		t.Fatalf("nil member is a no-op")
	}
}

func TestDisconnectRacingReconnectKeepsFreshFocus(t *testing.T) {
	room := newTestRoom(t, QuizOptions{})
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		old, _ := room.connectStudent(t, "s1", "Sam")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			room.classroom.Disconnect(ctx, old)
		}()
		go func() {
			defer wg.Done()
			if _, _, err := room.classroom.Connect(ctx, room.code, "s1", "Sam", domain.RoleStudent, &recordingSink{}); err != nil {
				t.Errorf("reconnect: %v", err)
				return
			}
			if err := room.classroom.Presence.ReportFocus(room.code, "s1", "DISTRACTED"); err != nil {
				t.Errorf("report: %v", err)
			}
		}()
		wg.Wait()

		if got := room.classroom.Presence.FocusOf(room.code, "s1"); got != domain.FocusDistracted {
			t.Fatalf("iteration %d: fresh focus report was lost, got %s", i, got)
		}
	}
}

func TestConnectRefusesEndedSessionCode(t *testing.T) {
	sessions := memory.NewSessionStore()
	deps := Deps{
		Sessions: sessions,
		Quiz:     memory.NewQuizStore(),
		Clock:    newFakeClock(),
		Logger:   discardLogger(),
	}
	classroom := NewClassroom(deps)
	ctx := context.Background()
	session, err := classroom.Sessions.Create(ctx, "t1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := classroom.Sessions.Teardown(ctx, session.Code, "t1"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if _, _, err := classroom.Connect(ctx, session.Code, "s1", "Sam", domain.RoleStudent, &recordingSink{}); !errors.Is(err, domain.ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed after teardown, got %v", err)
	}

	restarted := NewClassroom(deps)
	if _, _, err := restarted.Connect(ctx, session.Code, "s1", "Sam", domain.RoleStudent, &recordingSink{}); !errors.Is(err, domain.ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed after restart, got %v", err)
	}
	if _, _, err := restarted.Connect(ctx, "MESH01", "a", "Ann", domain.RoleStudent, &recordingSink{}); err != nil {
		t.Fatalf("unknown codes stay usable for signaling: %v", err)
	}
}

type recordingTracker struct {
	mu       sync.Mutex
	touched  map[string]int
	released []string
}

func (r *recordingTracker) Touch(_ context.Context, code string, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touched == nil {
		r.touched = make(map[string]int)
	}
	r.touched[code] = members
}

func (r *recordingTracker) Release(_ context.Context, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, code)
}

func (r *recordingTracker) Live(_ context.Context, code string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.touched[code]
	return n, ok
}

func TestClassroomReportsLiveness(t *testing.T) {
	tracker := &recordingTracker{}
	classroom := NewClassroom(Deps{
		Quiz:    memory.NewQuizStore(),
		Clock:   newFakeClock(),
		Logger:  discardLogger(),
		Tracker: tracker,
	})
	ctx := context.Background()

	a, _, _ := classroom.Connect(ctx, "MESH01", "a", "Ann", domain.RoleStudent, &recordingSink{})
	b, _, _ := classroom.Connect(ctx, "MESH01", "b", "Ben", domain.RoleStudent, &recordingSink{})
	if tracker.touched["MESH01"] != 2 {
		t.Fatalf("expected two members tracked, got %d", tracker.touched["MESH01"])
	}
	if n := classroom.LiveMembers(ctx, "mesh01"); n != 2 {
		t.Fatalf("expected tracker count of two, got %d", n)
	}
	classroom.Disconnect(ctx, a)
	if tracker.touched["MESH01"] != 1 || len(tracker.released) != 0 {
		t.Fatalf("expected one member left, got %v %v", tracker.touched, tracker.released)
	}
	classroom.Disconnect(ctx, b)
	if !reflect.DeepEqual(tracker.released, []string{"MESH01"}) {
		t.Fatalf("empty room should be released, got %v", tracker.released)
	}
}

func TestLiveMembersFallsBackToRegistry(t *testing.T) {
	room := newTestRoom(t, QuizOptions{})
	room.connectStudent(t, "s1", "Sam")
	if n := room.classroom.LiveMembers(context.Background(), room.code); n != 2 {
		t.Fatalf("expected two local members, got %d", n)
	}
}
