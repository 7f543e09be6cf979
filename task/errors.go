// Package task defines the enrichment task contract: payloads, the task
// registry, job status tracking, and the runner that drives a task through
// its callback lifecycle.
package task

import (
	"errors"
	"fmt"
)

// Kind classifies task errors for status mapping and retry decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindAuth       Kind = "auth"
	KindRetryable  Kind = "retryable"
	KindProvider   Kind = "provider"
	KindPartial    Kind = "partial"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
	KindParse      Kind = "parse"
)

// EntityError records a per-entity failure inside a partially successful
// batch task.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// Error is the task-level error type. Kind drives how the runner reports the
// failure and whether the job remains retryable.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Partial lists per-entity failures when Kind is KindPartial.
	Partial []EntityError
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a task error of the given kind.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, or KindProvider for unclassified errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindProvider
}

// Retryable reports whether a failed job with this error may be re-enqueued.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindAuth, KindParse, KindCancelled:
		return false
	}
	return true
}
