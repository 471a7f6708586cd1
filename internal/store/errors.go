package store

import (
	"errors"
	"fmt"

	"github.com/roach88/deltaview/internal/model"
)

// ErrorCode categorizes store anomalies.
type ErrorCode string

const (
	// ErrCodeUnknownID indicates an update referenced an id not in the store.
	ErrCodeUnknownID ErrorCode = "UNKNOWN_ID"

	// ErrCodeMissingID indicates a record arrived without an id field.
	ErrCodeMissingID ErrorCode = "MISSING_ID"

	// ErrCodeUnknownType indicates an operation named an invalid entity type.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeTypeMismatch indicates an id was reused for a different entity type.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeUnknownParent indicates a job arrived for a task that was
	// already pruned.
	ErrCodeUnknownParent ErrorCode = "UNKNOWN_PARENT"
)

// StoreError describes one record the store could not apply as given.
type StoreError struct {
	Code ErrorCode
	Type model.EntityType
	ID   string
	Op   string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s %s %s", e.Code, e.Op, e.Type, e.ID)
	}
	return fmt.Sprintf("%s: %s %s", e.Code, e.Op, e.Type)
}

// IsUnknownID reports whether err is an update for an unknown id.
// Uses errors.As to handle wrapped errors.
func IsUnknownID(err error) bool {
	return hasCode(err, ErrCodeUnknownID)
}

// IsMissingID reports whether err is a record without an id.
func IsMissingID(err error) bool {
	return hasCode(err, ErrCodeMissingID)
}

// IsUnknownType reports whether err names an invalid entity type.
func IsUnknownType(err error) bool {
	return hasCode(err, ErrCodeUnknownType)
}

// IsUnknownParent reports whether err is a job whose task was pruned.
func IsUnknownParent(err error) bool {
	return hasCode(err, ErrCodeUnknownParent)
}

func hasCode(err error, code ErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
