package ir

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode categorizes store and replication errors.
type ErrorCode string

const (
	// ErrCodeConflict: a direct write named a parent that is not the current winner,
	// or created a document that already exists.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeNotFound: unknown document or revision.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidTree: a revision's parent is missing from the target tree.
	ErrCodeInvalidTree ErrorCode = "INVALID_TREE"

	// ErrCodeRegression: a checkpoint would move backward.
	ErrCodeRegression ErrorCode = "REGRESSION"

	// ErrCodeTransientIO: network or storage failure; safe to retry.
	ErrCodeTransientIO ErrorCode = "TRANSIENT_IO"

	// ErrCodeStructural: malformed payload; never retried.
	ErrCodeStructural ErrorCode = "STRUCTURAL"
)

// Error is the error type returned by the revision store, the checkpoint
// tracker and peers. Use the Is* helpers to classify wrapped errors.
type Error struct {
	Code    ErrorCode
	Message string
	DocID   string
	RevID   string
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.DocID != "" && e.RevID != "":
		msg = fmt.Sprintf("%s (doc=%s, rev=%s)", msg, e.DocID, e.RevID)
	case e.DocID != "":
		msg = fmt.Sprintf("%s (doc=%s)", msg, e.DocID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsInvalidTree reports whether err is an InvalidTreeError.
func IsInvalidTree(err error) bool { return hasCode(err, ErrCodeInvalidTree) }

// IsRegression reports whether err is a RegressionError.
func IsRegression(err error) bool { return hasCode(err, ErrCodeRegression) }

// IsTransient reports whether err is a TransientIOError.
func IsTransient(err error) bool { return hasCode(err, ErrCodeTransientIO) }

// IsStructural reports whether err is a StructuralError.
func IsStructural(err error) bool { return hasCode(err, ErrCodeStructural) }

// IsRetryable reports whether an operation that failed with err may succeed
// when repeated unchanged. Untyped errors (driver and I/O failures) count as
// retryable; typed domain errors and context cancellation do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code := CodeOf(err)
	return code == "" || code == ErrCodeTransientIO
}

// NewConflictError creates a ConflictError.
func NewConflictError(docID, revID, message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message, DocID: docID, RevID: revID}
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(docID, revID, message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message, DocID: docID, RevID: revID}
}

// NewInvalidTreeError creates an InvalidTreeError for a revision whose parent is absent.
func NewInvalidTreeError(docID, revID, parentRevID string) *Error {
	return &Error{
		Code:    ErrCodeInvalidTree,
		Message: "parent revision not present in tree",
		DocID:   docID,
		RevID:   revID,
		Details: map[string]string{"parent_rev_id": parentRevID},
	}
}

// NewRegressionError creates a RegressionError for a checkpoint moving backward.
func NewRegressionError(peerID string, current, requested int64) *Error {
	return &Error{
		Code:    ErrCodeRegression,
		Message: fmt.Sprintf("checkpoint for peer %q would move backward (%d < %d)", peerID, requested, current),
		Details: map[string]string{
			"peer_id":   peerID,
			"current":   fmt.Sprintf("%d", current),
			"requested": fmt.Sprintf("%d", requested),
		},
	}
}

// NewTransientError wraps a network or storage failure.
func NewTransientError(message string, err error) *Error {
	return &Error{Code: ErrCodeTransientIO, Message: message, Err: err}
}

// NewStructuralError creates a StructuralError for a malformed payload.
func NewStructuralError(docID, revID, message string) *Error {
	return &Error{Code: ErrCodeStructural, Message: message, DocID: docID, RevID: revID}
}
