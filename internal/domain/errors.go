package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated is returned when an operation needs a signed-in caller.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrPermissionDenied is returned when the caller lacks the admin attribute.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidCredentials is returned when sign-in fails.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidArgument is the parent of every validation failure.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUserNotFound indicates no user exists for the given email or id.
	ErrUserNotFound = errors.New("no user found for the provided email address")
	// ErrBetNotFound indicates a bet id is unknown.
	ErrBetNotFound = errors.New("bet not found")
	// ErrEmailTaken is returned on sign-up with a registered address.
	ErrEmailTaken = errors.New("email already registered")

	// ErrMissingAnswerKey is returned when scoring is requested without an answer key.
	ErrMissingAnswerKey = errors.New("no answer key found")
	// ErrNoBets is returned when answers are submitted before any bet exists.
	ErrNoBets = errors.New("no active bets")
)

// ValidationError lists per-field problems of a rejected input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records another field problem.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// Empty reports whether no problem was recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}
