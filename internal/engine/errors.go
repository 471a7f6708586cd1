package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure inside the session loop.
//
// Runtime errors are logged and processing continues; they never stop Run.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// SessionID identifies the affected session.
	SessionID string

	// Seq identifies the message, 0 when not message specific.
	Seq int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeSessionStart indicates the journal could not record the session.
	ErrCodeSessionStart RuntimeErrorCode = "SESSION_START"

	// ErrCodeJournalWrite indicates a message could not be journaled.
	ErrCodeJournalWrite RuntimeErrorCode = "JOURNAL_WRITE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Seq != 0 {
		msg = fmt.Sprintf("%s (session=%s, seq=%d)", msg, e.SessionID, e.Seq)
	} else if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session=%s)", msg, e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsJournalError reports whether err is a journal failure of either kind.
// Uses errors.As to handle wrapped errors.
func IsJournalError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeJournalWrite || re.Code == ErrCodeSessionStart
	}
	return false
}
