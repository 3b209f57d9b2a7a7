package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"classroom-live/internal/app"
	"classroom-live/internal/domain"
	"github.com/gorilla/websocket"
)

// User-facing failure messages that do not come from validation.
const (
	msgQuestionNotFound = "Question not found."
	msgAlreadyAnswered  = "Answer already submitted."
	msgSubmitFailed     = "Failed to submit answer."
	msgSendFailed       = "Failed to send question."
	msgNotTeacher       = "Only the teacher can send questions."
	msgRoomNotFound     = "Session not found."
	msgRoomClosed       = "Session has ended."
	msgNotInRoom        = "Join a room first."
	msgUnsupported      = "unsupported message type"
)

type WSHandler struct {
	classroom  *app.Classroom
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	sendBuffer int
}

func NewWSHandler(classroom *app.Classroom, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		classroom: classroom,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sendBuffer: defaultSendBuffer,
	}
}

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type signalPayload struct {
	Target     string          `json:"target"`
	UserToCall string          `json:"userToCall"`
	CallerID   string          `json:"callerId"`
	Offer      json.RawMessage `json:"offer"`
	Answer     json.RawMessage `json:"answer"`
	Candidate  json.RawMessage `json:"candidate"`
}

type focusUpdatePayload struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

type questionSendPayload struct {
	RoomID        string   `json:"roomId"`
	QuestionText  string   `json:"questionText"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	DurationSec   flexInt  `json:"durationSec"`
}

type answerSubmitPayload struct {
	RoomID     string `json:"roomId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type answerErrorPayload struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	QuestionID string `json:"questionId,omitempty"`
}

// flexInt accepts 30 as well as "30". Out-of-range values saturate so the
// engine rejects them as too long rather than wrapping around.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	switch {
	case math.IsNaN(n):
		*f = 0
	case n > math.MaxInt32:
		*f = math.MaxInt32
	case n < math.MinInt32:
		*f = math.MinInt32
	default:
		*f = flexInt(n)
	}
	return nil
}

// ServeWS upgrades HTTP requests to websockets and wires them into the classroom.
// Identity (userId, name, role) is trusted as given; roomId may be supplied
// here or later through a join-room event.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		name = userID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newClient(conn, h.sendBuffer, h.logger.With("participant", userID))
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	s := &connection{
		classroom: h.classroom,
		client:    c,
		logger:    h.logger,
		identity:  userID,
		name:      name,
		role:      domain.ParseRole(q.Get("role")),
	}
	ctx := r.Context()
	if room := q.Get("roomId"); room != "" {
		s.join(ctx, room)
	}

	c.readPump(func(msg inboundMessage) { s.dispatch(ctx, msg) })

	s.leave(context.WithoutCancel(ctx))
	c.Close()
	<-writerDone
	if n := c.droppedCount(); n > 0 {
		h.logger.Info("slow consumer dropped messages", "participant", userID, "dropped", n)
	}
}

// connection is the per-socket state. It is only touched from the read goroutine.
type connection struct {
	classroom *app.Classroom
	client    *client
	logger    *slog.Logger
	identity  string
	name      string
	role      domain.Role
	member    *app.Member
}

func (s *connection) dispatch(ctx context.Context, msg inboundMessage) {
	switch msg.Type {
	case app.EventJoinRoom:
		s.handleJoinRoom(ctx, msg.Payload)
	case app.EventPresenceJoin:
		s.handlePresenceJoin(ctx, msg.Payload)
	case app.EventOffer, app.EventAnswer, app.EventICECandidate:
		s.handleSignal(msg.Type, msg.Payload)
	case app.EventFocusUpdate:
		s.handleFocus(msg.Payload)
	case app.EventQuestionSend:
		s.handleQuestion(ctx, msg.Payload)
	case app.EventAnswerSubmit:
		s.handleAnswer(ctx, msg.Payload)
	default:
		s.reply(app.EventError, errorPayload{Message: msgUnsupported})
	}
}

func (s *connection) handleJoinRoom(ctx context.Context, raw json.RawMessage) {
	var room string
	if err := json.Unmarshal(raw, &room); err != nil {
		var p joinRoomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.reply(app.EventError, errorPayload{Message: domain.ReasonMissingFields})
			return
		}
		room = p.RoomID
		if p.Username != "" {
			s.name = p.Username
		}
		if p.Role != "" {
			s.role = domain.ParseRole(p.Role)
		}
	}
	s.join(ctx, room)
}

// handlePresenceJoin joins the room if needed, otherwise re-announces presence.
func (s *connection) handlePresenceJoin(ctx context.Context, raw json.RawMessage) {
	var p struct {
		RoomID      string `json:"roomId"`
		StudentName string `json:"studentName"`
	}
	_ = json.Unmarshal(raw, &p)
	if s.member == nil || (p.RoomID != "" && app.NormalizeCode(p.RoomID) != s.member.Room) {
		if p.StudentName != "" {
			s.name = p.StudentName
		}
		s.join(ctx, p.RoomID)
		return
	}
	s.classroom.Presence.AnnounceJoin(s.member.Room, s.identity, s.member.Name, s.member.Role)
}

func (s *connection) handleSignal(kind string, raw json.RawMessage) {
	if s.member == nil {
		return
	}
	var p signalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	room := s.member.Room
	switch kind {
	case app.EventOffer:
		s.classroom.Relay.RelayOffer(room, s.identity, firstNonEmpty(p.Target, p.UserToCall), p.Offer)
	case app.EventAnswer:
		s.classroom.Relay.RelayAnswer(room, s.identity, firstNonEmpty(p.Target, p.CallerID), p.Answer)
	case app.EventICECandidate:
		s.classroom.Relay.RelayICECandidate(room, s.identity, p.Target, p.Candidate)
	}
}

func (s *connection) handleFocus(raw json.RawMessage) {
	if s.member == nil {
		return
	}
	var p focusUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if err := s.classroom.Presence.ReportFocus(s.member.Room, s.identity, p.Status); err != nil {
		s.reply(app.EventError, errorPayload{Message: reasonFor(err, err.Error())})
	}
}

func (s *connection) handleQuestion(ctx context.Context, raw json.RawMessage) {
	var p questionSendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.reply(app.EventQuestionError, errorPayload{Message: domain.ReasonMissingFields})
		return
	}
	room := s.boundRoom(p.RoomID)
	if room == "" {
		s.reply(app.EventQuestionError, errorPayload{Message: msgNotInRoom})
		return
	}
	_, err := s.classroom.Quiz.SubmitQuestion(ctx, room, s.identity, domain.QuestionDraft{
		Text:          p.QuestionText,
		Type:          p.Type,
		Options:       p.Options,
		CorrectAnswer: p.CorrectAnswer,
		DurationSec:   int(p.DurationSec),
	})
	if err != nil {
		s.reply(app.EventQuestionError, errorPayload{Message: reasonFor(err, msgSendFailed)})
	}
}

func (s *connection) handleAnswer(ctx context.Context, raw json.RawMessage) {
	var p answerSubmitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.reply(app.EventAnswerResult, answerErrorPayload{Message: domain.ReasonMissingFields})
		return
	}
	result, err := s.classroom.Quiz.SubmitAnswer(ctx, s.boundRoom(p.RoomID), p.QuestionID, s.identity, s.name, p.Answer)
	if err != nil {
		s.reply(app.EventAnswerResult, answerErrorPayload{
			Message:    reasonFor(err, msgSubmitFailed),
			QuestionID: p.QuestionID,
		})
		return
	}
	s.reply(app.EventAnswerResult, result)
}

func (s *connection) join(ctx context.Context, room string) {
	if strings.TrimSpace(room) == "" {
		s.reply(app.EventError, errorPayload{Message: domain.ReasonMissingFields})
		return
	}
	if s.member != nil {
		if s.member.Room == app.NormalizeCode(room) {
			return
		}
		s.classroom.Disconnect(ctx, s.member)
		s.member = nil
	}
	member, _, err := s.classroom.Connect(ctx, room, s.identity, s.name, s.role, s.client)
	if err != nil {
		s.reply(app.EventError, errorPayload{Message: reasonFor(err, err.Error())})
		return
	}
	s.member = member
}

func (s *connection) leave(ctx context.Context) {
	if s.member != nil {
		s.classroom.Disconnect(ctx, s.member)
		s.member = nil
	}
}

// boundRoom prefers the room this socket joined over a client-supplied one.
func (s *connection) boundRoom(fallback string) string {
	if s.member != nil {
		return s.member.Room
	}
	return app.NormalizeCode(fallback)
}

func (s *connection) reply(kind string, payload any) {
	s.client.Send(app.Envelope{Type: kind, Payload: payload})
}

// reasonFor maps an error onto the message shown to the acting participant.
func reasonFor(err error, fallback string) string {
	var v *domain.ValidationError
	switch {
	case errors.As(err, &v):
		return v.Reason
	case errors.Is(err, domain.ErrQuestionNotFound):
		return msgQuestionNotFound
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return msgAlreadyAnswered
	case errors.Is(err, domain.ErrNotTeacher):
		return msgNotTeacher
	case errors.Is(err, domain.ErrRoomNotFound):
		return msgRoomNotFound
	case errors.Is(err, domain.ErrRoomClosed):
		return msgRoomClosed
	default:
		return fallback
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
