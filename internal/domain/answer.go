package domain

import (
	"strings"
	"unicode"
)

const (
	ReasonMissingFields   = "Missing required fields."
	ReasonEmptyAnswer     = "Empty answer"
	ReasonOneWord         = "One word only"
	ReasonNotInOptions    = "Answer not in options"
	ReasonOptionsOneWord  = "MCQ options must be one word."
	ReasonUnsupportedType = "Unsupported question type."
	ReasonMissingOptions  = "MCQ questions need options."
	ReasonDurationTooLong = "Duration must be at most 24 hours."
)

// Normalize case-folds and trims an answer for comparison.
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// IsOneToken reports whether value is non-empty and free of whitespace.
func IsOneToken(value string) bool {
	if value == "" {
		return false
	}
	return strings.IndexFunc(value, unicode.IsSpace) < 0
}

// ValidateAnswerShape trims answer and checks it against the question type.
// The trimmed answer is returned on success.
func ValidateAnswerShape(qType QuestionType, answer string, options []string) (string, error) {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return "", Invalid(ReasonEmptyAnswer)
	}
	if !IsOneToken(trimmed) {
		return "", Invalid(ReasonOneWord)
	}
	if qType == QuestionMCQ {
		want := Normalize(trimmed)
		for _, opt := range options {
			if Normalize(opt) == want {
				return trimmed, nil
			}
		}
		return "", Invalid(ReasonNotInOptions)
	}
	return trimmed, nil
}

// Grade compares a raw answer with the correct answer after normalization.
func Grade(raw, correct string) bool {
	return Normalize(raw) == Normalize(correct)
}
