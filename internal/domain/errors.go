package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code is not provisioned.
	ErrRoomNotFound = errors.New("session not found")
	// ErrRoomClosed is returned for rooms whose session has ended.
	ErrRoomClosed = errors.New("session has ended")
	// ErrParticipantNotFound is returned when an identity is not a member of the room.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNotTeacher is returned when a student attempts a teacher-only action.
	ErrNotTeacher = errors.New("only the teacher can do this")
	// ErrQuestionNotFound indicates an unknown question or one from another room.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrDuplicateSubmission is returned for a second answer to the same question.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrCodeTaken is returned by session stores when a generated code collides.
	ErrCodeTaken = errors.New("session code already in use")
	// ErrPersistence marks storage failures that must not be reported as success.
	ErrPersistence = errors.New("storage failure")
)

// ValidationError carries a user-facing reason for a rejected question or answer.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Invalid builds a ValidationError.
func Invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
