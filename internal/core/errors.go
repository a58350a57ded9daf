// Package core provides the domain model and the tool-augmented chat loop.
// This file contains the domain error taxonomy and retry classification.

package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorCode is the stable machine-readable error classification carried
// across the daemon boundary.
type ErrorCode string

const (
	// Not found.
	CodeConversationNotFound ErrorCode = "conversation_not_found"
	CodeModelNotFound        ErrorCode = "model_not_found"
	CodeBookmarkNotFound     ErrorCode = "bookmark_not_found"

	// Conflict.
	CodeBookmarkExists ErrorCode = "bookmark_exists"

	// Precondition.
	CodeNoActiveConversation  ErrorCode = "no_active_conversation"
	CodeInvalidConversationID ErrorCode = "invalid_conversation_id"
	CodeAmbiguousShortHash    ErrorCode = "ambiguous_short_hash"

	// Provider.
	CodeAuthentication     ErrorCode = "authentication"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	CodeInvalidRequest     ErrorCode = "invalid_request"
	CodeModelError         ErrorCode = "model_error"
	CodeSerialization      ErrorCode = "serialization"

	// Core.
	CodeMaxTurnsExceeded    ErrorCode = "max_turns_exceeded"
	CodeUserQuit            ErrorCode = "user_quit"
	CodeToolUnknown         ErrorCode = "tool_unknown"
	CodeToolExecutionFailed ErrorCode = "tool_execution_failed"

	CodeStorage  ErrorCode = "storage"
	CodeConfig   ErrorCode = "config"
	CodeInternal ErrorCode = "internal"
)

// Error wraps a cause with its domain classification. RetryAfter is set
// only when the provider supplied a Retry-After hint.
type Error struct {
	Code       ErrorCode
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error with a formatted message.
func E(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the domain code from an error chain. Unclassified
// errors report CodeInternal.
func CodeOf(err error) ErrorCode {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether a provider error is transient. Only
// rate-limited, service-unavailable and transport/timeout failures are
// retried; authentication, invalid-request and serialization failures
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeRateLimited, CodeServiceUnavailable:
		return true
	}
	var derr *Error
	if errors.As(err, &derr) {
		return false
	}
	// Bare transport errors arrive unclassified.
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryAfterOf returns the provider-supplied Retry-After hint, or zero.
func RetryAfterOf(err error) time.Duration {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.RetryAfter
	}
	return 0
}
