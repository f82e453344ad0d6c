// Package chaterr holds the error taxonomy shared by the conversation
// components. Callers branch on kind with the Is* helpers; the concrete
// types carry enough detail for user-visible messages.
package chaterr

import (
	"errors"
	"fmt"
)

// ValidationError is returned for input that can never succeed as sent
// (empty message without attachment, oversized file). Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError is returned when a referenced conversation or message does
// not exist.
type NotFoundError struct {
	Kind string // "conversation" | "message"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// TransientIOError wraps a store failure that is safe to retry.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// ForbiddenError is returned when the caller is not a participant of the
// conversation it addresses.
type ForbiddenError struct {
	UserID         string
	ConversationID string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %s is not a participant of conversation %s", e.UserID, e.ConversationID)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

func Forbidden(userID, conversationID string) error {
	return &ForbiddenError{UserID: userID, ConversationID: conversationID}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var v *TransientIOError
	return errors.As(err, &v)
}

func IsForbidden(err error) bool {
	var v *ForbiddenError
	return errors.As(err, &v)
}
