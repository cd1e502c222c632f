package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateCommandText validates the text of a human command.
func ValidateCommandText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if len(text) > 10000 {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateEventID validates an event id.
func ValidateEventID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid event ID format")
	}
	return nil
}
