package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"classroom-live/internal/app"
	"classroom-live/internal/infra/memory"
	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func TestWebSocketQuizFlow(t *testing.T) {
	classroom, server := newTestServer(t)
	code := createSession(t, classroom, "t1")

	teacher := dial(t, server, code, "t1", "Ms T", "teacher")
	readUntil(t, teacher, app.EventAllUsers)

	student := dial(t, server, code, "s1", "Sam", "student")
	peers := readUntil(t, student, app.EventAllUsers)
	var ids []string
	_ = json.Unmarshal(peers.Payload, &ids)
	if len(ids) != 1 || ids[0] != "t1" {
		t.Fatalf("expected student to see teacher as peer, got %v", ids)
	}
	readUntil(t, teacher, app.EventUserJoined)

	send(t, teacher, app.EventQuestionSend, map[string]any{
		"questionText":  "Capital of France?",
		"type":          "MCQ",
		"options":       []string{"Paris", "Lyon"},
		"correctAnswer": "Paris",
		"durationSec":   "30",
	})

	q := readUntil(t, student, app.EventQuestionNew)
	var question map[string]any
	_ = json.Unmarshal(q.Payload, &question)
	if _, leaked := question["correctAnswer"]; leaked {
		t.Fatalf("question broadcast must not carry the correct answer: %s", q.Payload)
	}
	qid, _ := question["id"].(string)

	send(t, student, app.EventAnswerSubmit, map[string]any{"questionId": qid, "answer": " paris "})
	res := readUntil(t, student, app.EventAnswerResult)
	var result struct {
		OK        bool   `json:"ok"`
		IsCorrect bool   `json:"isCorrect"`
		Answer    string `json:"answer"`
	}
	_ = json.Unmarshal(res.Payload, &result)
	if !result.OK || !result.IsCorrect || result.Answer != "paris" {
		t.Fatalf("unexpected answer result: %s", res.Payload)
	}

	readUntil(t, teacher, app.EventAnswerUpdate)
	lb := readUntil(t, teacher, app.EventLeaderboard)
	var board struct {
		Entries []struct {
			StudentID string `json:"studentId"`
			Score     int    `json:"score"`
		} `json:"entries"`
	}
	_ = json.Unmarshal(lb.Payload, &board)
	if len(board.Entries) != 1 || board.Entries[0].StudentID != "s1" || board.Entries[0].Score != 10 {
		t.Fatalf("unexpected leaderboard: %s", lb.Payload)
	}

	send(t, student, app.EventAnswerSubmit, map[string]any{"questionId": qid, "answer": "lyon"})
	dup := readUntil(t, student, app.EventAnswerResult)
	var dupResult answerErrorPayload
	_ = json.Unmarshal(dup.Payload, &dupResult)
	if dupResult.OK || dupResult.Message != msgAlreadyAnswered {
		t.Fatalf("expected duplicate rejection, got %s", dup.Payload)
	}
}

func TestWebSocketQuestionErrorsGoToSenderOnly(t *testing.T) {
	classroom, server := newTestServer(t)
	code := createSession(t, classroom, "t1")

	teacher := dial(t, server, code, "t1", "Ms T", "teacher")
	readUntil(t, teacher, app.EventAllUsers)

	send(t, teacher, app.EventQuestionSend, map[string]any{
		"questionText":  "Pick one",
		"type":          "MCQ",
		"options":       []string{"red", "dark blue"},
		"correctAnswer": "red",
		"durationSec":   10,
	})
	msg := readUntil(t, teacher, app.EventQuestionError)
	var p errorPayload
	_ = json.Unmarshal(msg.Payload, &p)
	if p.Message != "MCQ options must be one word." {
		t.Fatalf("unexpected error message: %q", p.Message)
	}

	student := dial(t, server, code, "s1", "Sam", "student")
	readUntil(t, student, app.EventAllUsers)
	send(t, student, app.EventQuestionSend, map[string]any{
		"questionText":  "Hijack",
		"type":          "ONE_WORD",
		"correctAnswer": "x",
		"durationSec":   10,
	})
	msg = readUntil(t, student, app.EventQuestionError)
	_ = json.Unmarshal(msg.Payload, &p)
	if p.Message != msgNotTeacher {
		t.Fatalf("expected not-teacher rejection, got %q", p.Message)
	}
}

func TestWebSocketRelaysOfferToTarget(t *testing.T) {
	_, server := newTestServer(t)

	first := dial(t, server, "MESH01", "a", "Ann", "student")
	readUntil(t, first, app.EventAllUsers)
	second := dial(t, server, "MESH01", "b", "Ben", "student")
	readUntil(t, second, app.EventAllUsers)
	readUntil(t, first, app.EventUserJoined)

	send(t, second, app.EventOffer, map[string]any{"userToCall": "a", "offer": map[string]string{"sdp": "v=0"}})
	offer := readUntil(t, first, app.EventOffer)
	var p struct {
		CallerID string          `json:"callerId"`
		Offer    json.RawMessage `json:"offer"`
	}
	_ = json.Unmarshal(offer.Payload, &p)
	if p.CallerID != "b" || !bytes.Contains(p.Offer, []byte("v=0")) {
		t.Fatalf("unexpected offer: %s", offer.Payload)
	}

	second.Close()
	left := readUntil(t, first, app.EventUserLeft)
	var id string
	_ = json.Unmarshal(left.Payload, &id)
	if id != "b" {
		t.Fatalf("expected b to leave, got %q", id)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	_, server := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws?roomId=ROOM01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestClientSendDropsOldest(t *testing.T) {
	c := newClient(nil, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 1; i <= 3; i++ {
		if !c.Send(app.Envelope{Type: "n", Payload: i}) {
			t.Fatalf("send %d should be queued", i)
		}
	}
	if c.droppedCount() != 1 {
		t.Fatalf("expected one dropped message, got %d", c.droppedCount())
	}
	if first := <-c.send; first.Payload != 2 {
		t.Fatalf("expected oldest to be evicted, head is %v", first.Payload)
	}

	c.Close()
	c.Close()
	if c.Send(app.Envelope{Type: "late"}) {
		t.Fatalf("send after close must fail")
	}
}

func newTestServer(t *testing.T) (*app.Classroom, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	classroom := app.NewClassroom(app.Deps{
		Sessions: memory.NewSessionStore(),
		Quiz:     memory.NewQuizStore(),
		Logger:   logger,
	})
	server := httptest.NewServer(NewRouter(classroom, nil, logger))
	t.Cleanup(server.Close)
	return classroom, server
}

func createSession(t *testing.T, classroom *app.Classroom, teacher string) string {
	t.Helper()
	session, err := classroom.Sessions.Create(context.Background(), teacher)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.Code
}

func dial(t *testing.T, server *httptest.Server, room, id, name, role string) *websocket.Conn {
	t.Helper()
	q := url.Values{"roomId": {room}, "userId": {id}, "name": {name}, "role": {role}}
	u := "ws" + server.URL[len("http"):] + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": kind, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", kind, err)
	}
}

// readUntil skips unrelated events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) wsMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestFlexIntSaturates(t *testing.T) {
	cases := []struct {
		raw  string
		want flexInt
	}{
		{`30`, 30},
		{`"45"`, 45},
		{`null`, 0},
		{`10000000000`, math.MaxInt32},
		{`"-1e12"`, math.MinInt32},
	}
	for _, tc := range cases {
		var got flexInt
		if err := json.Unmarshal([]byte(tc.raw), &got); err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.raw, tc.want, got)
		}
	}
}
