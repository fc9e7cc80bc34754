package models

import "errors"

var (
	ErrSubscriberNotFound     = errors.New("subscriber not found")
	ErrAlertNotFound          = errors.New("alert not found")
	ErrAlertInactive          = errors.New("alert is not active")
	ErrNotificationNotPending = errors.New("notification is not pending")
)

// ValidationError is a caller mistake. Msg is safe to return to the client as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(msg string) error {
	return &ValidationError{Msg: msg}
}
