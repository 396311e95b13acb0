package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error for retry and reporting decisions.
// This is the taxonomy the agent runtime uses end to end: tool execution,
// queue operations, context compression, and provider streaming all
// produce errors tagged with one of these kinds.
type Kind string

const (
	KindPermissionDenied  Kind = "PermissionDenied"
	KindInvalidInput      Kind = "InvalidInput"
	KindToolNotFound      Kind = "ToolNotFound"
	KindTimeout           Kind = "Timeout"
	KindCancelled         Kind = "Cancelled"
	KindUnmetDependency   Kind = "UnmetDependency"
	KindProviderTransient Kind = "ProviderTransient"
	KindProviderFatal     Kind = "ProviderFatal"
	KindParseError        Kind = "ParseError"
	KindQueueClosed       Kind = "QueueClosed"
	KindQueueRejected     Kind = "QueueRejected"
	KindCompressionError  Kind = "CompressionError"
	KindBug               Kind = "Bug"
)

// retryableKinds are the kinds the loop and stream adapters may retry.
var retryableKinds = map[Kind]bool{
	KindProviderTransient: true,
}

// RuntimeError is a structured, classified error carried through every
// runtime component. It wraps an underlying cause and supports errors.Is/As.
type RuntimeError struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates a RuntimeError of the given kind with no wrapped cause.
func New(kind Kind, message string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message}
}

// Wrap creates a RuntimeError of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message, Cause: cause}
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the loop may retry the operation that
// produced this error (only ProviderTransient, per spec §7).
func (e *RuntimeError) IsRetryable() bool {
	return retryableKinds[e.Kind]
}

// KindOf extracts the Kind from err, defaulting to KindBug when err is
// not a *RuntimeError (the fallthrough kind named in spec §7).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindBug
}

// Is reports whether err is a RuntimeError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
