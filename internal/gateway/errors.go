package gateway

import (
	"errors"
	"fmt"
)

// FrameError is an error that is reported to the client as an error frame.
type FrameError struct {
	Code    string
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

var (
	ErrParse                = &FrameError{Code: "parse_error", Message: "invalid message format"}
	ErrUnsupportedType      = &FrameError{Code: "unsupported_type", Message: "unsupported message type"}
	ErrInvalidFrame         = &FrameError{Code: "invalid_message", Message: "invalid message payload"}
	ErrAuthRequired         = &FrameError{Code: "auth_required", Message: "Authentication required"}
	ErrAlreadyAuthenticated = &FrameError{Code: "already_authenticated", Message: "connection is already authenticated"}
	ErrEmptyContent         = &FrameError{Code: "invalid_message", Message: "message content is empty"}
	ErrContentTooLong       = &FrameError{Code: "invalid_message", Message: fmt.Sprintf("message exceeds %d character limit", MaxContentChars)}
	ErrContentEncoding      = &FrameError{Code: "invalid_message", Message: "message contains invalid UTF-8"}
	ErrNotMember            = &FrameError{Code: "not_a_member", Message: "not a member"}
	ErrUnknownRecipient     = &FrameError{Code: "unknown_recipient", Message: "recipient does not exist"}
	ErrPersistence          = &FrameError{Code: "persistence_failed", Message: "failed to store message"}
	ErrRateLimited          = &FrameError{Code: "rate_limited", Message: "too many messages, slow down"}
	ErrUnavailable          = &FrameError{Code: "unavailable", Message: "service temporarily unavailable"}
	ErrSessionReplaced      = &FrameError{Code: "session_replaced", Message: "signed in from another connection"}
)

// frameErrorFor returns the FrameError carried by err, falling back to
// ErrUnavailable for errors that have no client-facing code.
func frameErrorFor(err error) *FrameError {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe
	}
	return ErrUnavailable
}

// wrap attaches cause to a client-facing error so it can be logged while
// the client only sees fe.
func wrap(fe *FrameError, cause error) error {
	return fmt.Errorf("%w: %v", fe, cause)
}
