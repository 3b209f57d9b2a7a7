package domain

import (
	"strings"
	"time"
)

// Role distinguishes the session owner from the audience.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole maps a transport value onto a Role, defaulting to student.
func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleTeacher)) {
		return RoleTeacher
	}
	return RoleStudent
}

// Participant is a member of a room as seen by other members.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// FocusStatus is the coarse attention classification reported per participant.
type FocusStatus string

const (
	FocusFocused     FocusStatus = "FOCUSED"
	FocusDistracted  FocusStatus = "DISTRACTED"
	FocusCalibrating FocusStatus = "CALIBRATING"
	// FocusUnknown is never reported; listeners use it for identities without a report.
	FocusUnknown FocusStatus = "UNKNOWN"
)

// ParseFocusStatus accepts only the reportable statuses.
func ParseFocusStatus(raw string) (FocusStatus, bool) {
	switch s := FocusStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case FocusFocused, FocusDistracted, FocusCalibrating:
		return s, true
	default:
		return "", false
	}
}

// QuestionType is either a fixed option set or free one-word text.
type QuestionType string

const (
	QuestionMCQ     QuestionType = "MCQ"
	QuestionOneWord QuestionType = "ONE_WORD"
)

// ParseQuestionType accepts MANUAL as a legacy alias for ONE_WORD.
func ParseQuestionType(raw string) (QuestionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(QuestionMCQ):
		return QuestionMCQ, true
	case string(QuestionOneWord), "MANUAL", "ONE-WORD", "ONEWORD":
		return QuestionOneWord, true
	default:
		return "", false
	}
}

// QuestionStatus records whether a question is the room's current one.
type QuestionStatus string

const (
	QuestionActive QuestionStatus = "ACTIVE"
	QuestionEnded  QuestionStatus = "ENDED"
)

// QuizState is the per-room quiz state machine position.
type QuizState string

const (
	QuizIdle   QuizState = "IDLE"
	QuizActive QuizState = "ACTIVE"
	QuizLocked QuizState = "LOCKED"
)

// QuestionDraft is a teacher-issued question before validation.
type QuestionDraft struct {
	Text          string
	Type          string
	Options       []string
	CorrectAnswer string
	DurationSec   int
}

// Question is a validated, stored question. EndsAt is fixed at creation.
type Question struct {
	ID            string         `json:"id" bson:"_id"`
	RoomCode      string         `json:"roomCode" bson:"roomCode"`
	TeacherID     string         `json:"teacherId" bson:"teacherId"`
	Text          string         `json:"questionText" bson:"questionText"`
	Type          QuestionType   `json:"type" bson:"type"`
	Options       []string       `json:"options" bson:"options"`
	CorrectAnswer string         `json:"correctAnswer" bson:"correctAnswer"`
	DurationSec   int            `json:"durationSec" bson:"durationSec"`
	SentAt        time.Time      `json:"sentAt" bson:"sentAt"`
	EndsAt        time.Time      `json:"endsAt" bson:"endsAt"`
	Status        QuestionStatus `json:"status" bson:"status"`
}

// LockedAt reports whether an answer received at now misses the deadline.
func (q Question) LockedAt(now time.Time) bool {
	return q.Status == QuestionEnded || now.After(q.EndsAt)
}

// Broadcast is the participant-facing view; it never carries the correct answer.
type Broadcast struct {
	ID          string       `json:"id"`
	Text        string       `json:"questionText"`
	Type        QuestionType `json:"type"`
	Options     []string     `json:"options"`
	DurationSec int          `json:"durationSec"`
	SentAt      time.Time    `json:"sentAt"`
	EndsAt      time.Time    `json:"endsAt"`
}

// Public strips grading data from the question.
func (q Question) Public() Broadcast {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	return Broadcast{
		ID:          q.ID,
		Text:        q.Text,
		Type:        q.Type,
		Options:     options,
		DurationSec: q.DurationSec,
		SentAt:      q.SentAt,
		EndsAt:      q.EndsAt,
	}
}

// GradedAnswer is the single stored answer of a participant to a question.
type GradedAnswer struct {
	ID              string    `json:"id" bson:"answerId"`
	RoomCode        string    `json:"roomCode" bson:"roomCode"`
	QuestionID      string    `json:"questionId" bson:"questionId"`
	ParticipantID   string    `json:"studentId" bson:"studentId"`
	ParticipantName string    `json:"studentName" bson:"studentName"`
	Answer          string    `json:"answer" bson:"answer"`
	IsCorrect       bool      `json:"isCorrect" bson:"isCorrect"`
	Locked          bool      `json:"locked" bson:"locked"`
	ResponseTimeMs  int64     `json:"responseTimeMs" bson:"responseTimeMs"`
	AnsweredAt      time.Time `json:"answeredAt" bson:"answeredAt"`
}

// AnswerResult is what the submitter and the room observe for a stored answer.
type AnswerResult struct {
	OK              bool      `json:"ok"`
	Locked          bool      `json:"locked"`
	Message         string    `json:"message,omitempty"`
	QuestionID      string    `json:"questionId"`
	ParticipantID   string    `json:"studentId"`
	ParticipantName string    `json:"studentName"`
	Answer          string    `json:"answer"`
	IsCorrect       bool      `json:"isCorrect"`
	ResponseTimeMs  int64     `json:"responseTimeMs"`
	AnsweredAt      time.Time `json:"answeredAt"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	ParticipantID string `json:"studentId"`
	DisplayName   string `json:"name"`
	Score         int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomCode  string             `json:"roomCode"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// QuestionStats aggregates answers to one question for dashboards.
type QuestionStats struct {
	QuestionID string `json:"questionId"`
	Total      int    `json:"total"`
	Correct    int    `json:"correct"`
	Locked     int    `json:"locked"`
}

// Session is the provisioned classroom owned by a teacher.
type Session struct {
	Code         string    `json:"code"`
	TeacherID    string    `json:"teacherId"`
	StartTime    time.Time `json:"startTime"`
	Participants []string  `json:"participants"`
	Active       bool      `json:"isActive"`
}
