package app

import (
	"encoding/json"
	"time"

	"classroom-live/internal/domain"
)

// Event names shared with browser clients.
const (
	EventJoinRoom      = "join-room"
	EventAllUsers      = "all-users"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventOffer         = "offer"
	EventAnswer        = "answer"
	EventICECandidate  = "ice-candidate"
	EventPresenceJoin  = "presence:join"
	EventPresence      = "presence:update"
	EventFocusUpdate   = "focus:update"
	EventFocusReceive  = "focus:receive"
	EventFocusSnapshot = "focus:snapshot"
	EventQuestionSend  = "question:send"
	EventQuestionNew   = "question:new"
	EventQuestionError = "question:error"
	EventQuestionLock  = "question:locked"
	EventAnswerSubmit  = "answer:submit"
	EventAnswerResult  = "answer:result"
	EventAnswerUpdate  = "answer:update"
	EventLeaderboard   = "leaderboard:update"
	EventSessionEnded  = "session:ended"
	EventSuperseded    = "session:superseded"
	EventJoined        = "joined"
	EventError         = "error"
)

// Presence statuses carried by presence:update.
const (
	PresenceJoined = "JOINED"
	PresenceLeft   = "LEFT"
)

// Envelope is the unit of fan-out to a connection.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sink is a live connection handle. Send must not block; it reports false
// when the message could not be queued.
type Sink interface {
	Send(Envelope) bool
	Close()
}

type presencePayload struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Role        string    `json:"role,omitempty"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

type focusPayload struct {
	StudentID string             `json:"studentId"`
	Status    domain.FocusStatus `json:"status"`
}

type peerPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type offerPayload struct {
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName,omitempty"`
	Offer      json.RawMessage `json:"offer"`
}

type answerPayload struct {
	ResponderID string          `json:"responderId"`
	Answer      json.RawMessage `json:"answer"`
}

type candidatePayload struct {
	SenderID  string          `json:"senderId"`
	Candidate json.RawMessage `json:"candidate"`
}

type lockPayload struct {
	QuestionID string    `json:"questionId"`
	EndsAt     time.Time `json:"endsAt"`
}

type sessionEndedPayload struct {
	Code    string    `json:"code"`
	EndedAt time.Time `json:"endedAt"`
}
