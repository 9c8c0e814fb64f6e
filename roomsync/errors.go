package roomsync

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Connectivity errors (network layer)
	ErrorConnection
	ErrorFetch
	ErrorChannelOpen
	ErrorPublish
	ErrorTimeout
	ErrorClosed

	// Validation errors (resolved locally)
	ErrorEmptyMessage
	ErrorSendInFlight
	ErrorMessageTooLong
	ErrorMalformedPayload
	ErrorInvalidConfig
	ErrorNoActiveRoom
	ErrorInvalidRoom

	// Not-found errors (resolved with a fallback)
	ErrorAuthorNotFound
	ErrorRoomNotFound
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnection:
		return "connection_error"
	case ErrorFetch:
		return "fetch_error"
	case ErrorChannelOpen:
		return "channel_open_error"
	case ErrorPublish:
		return "publish_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorClosed:
		return "closed"
	case ErrorEmptyMessage:
		return "empty_message"
	case ErrorSendInFlight:
		return "send_in_flight"
	case ErrorMessageTooLong:
		return "message_too_long"
	case ErrorMalformedPayload:
		return "malformed_payload"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNoActiveRoom:
		return "no_active_room"
	case ErrorInvalidRoom:
		return "invalid_room"
	case ErrorAuthorNotFound:
		return "author_not_found"
	case ErrorRoomNotFound:
		return "room_not_found"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// SyncError is a structured error with code and context.
type SyncError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *SyncError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new SyncError with the given code and message.
func NewError(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a SyncError.
func WrapError(code ErrorCode, message string, err error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// Sentinels usable with errors.Is; comparison is by code only.
var (
	ErrEmptyMessage = NewError(ErrorEmptyMessage, "message content is empty")
	ErrSendInFlight = NewError(ErrorSendInFlight, "a send is already in flight")
	ErrNoActiveRoom = NewError(ErrorNoActiveRoom, "no room is active")
	ErrClosed       = NewError(ErrorClosed, "client is closed")
)

// CodeOf returns the code carried by err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrorUnknown
}

// IsConnectivityError checks if an error is a network-layer error.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code >= ErrorConnection && code <= ErrorClosed
}

// IsValidationError checks if an error was raised by local validation.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code >= ErrorEmptyMessage && code <= ErrorInvalidRoom
}

// IsNotFound checks if an error reports a missing author or room.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code == ErrorAuthorNotFound || code == ErrorRoomNotFound
}
