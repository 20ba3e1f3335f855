package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrStaleState marks a mutation whose target is no longer in the cache.
	// Callers treat it as a no-op.
	ErrStaleState = errors.New("stale state")
	// ErrNotInitialized is returned by a notification service used before Init.
	ErrNotInitialized = errors.New("notification service not initialized")
)

// TransportError is a network, timeout or auth failure talking to the remote
// store. It is always retryable by user action.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError for op.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// RejectionError is a structured {success:false, message} answer from the
// remote store. Message is user-facing and surfaced verbatim.
type RejectionError struct {
	Op      string
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected", e.Op)
	}
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Message)
}

// Rejected builds a RejectionError.
func Rejected(op, message string) error {
	return &RejectionError{Op: op, Message: message}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err is (or wraps) a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsRetryable reports whether a user-triggered retry can succeed.
func IsRetryable(err error) bool {
	return IsTransport(err)
}

// UserMessage returns the text shown to the user for a failed operation:
// a rejection's own message when it has one, fallback otherwise.
func UserMessage(err error, fallback string) string {
	var re *RejectionError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return fallback
}
