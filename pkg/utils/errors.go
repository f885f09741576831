package utils

import (
	"errors"
	"fmt"
	"time"
)

// Error categories
const (
	CategoryUnknown    = "unknown"
	CategoryValidation = "validation"
	CategoryNetwork    = "network"
	CategoryResource   = "resource"
	CategoryLifecycle  = "lifecycle"
	CategoryCodec      = "codec"
	CategoryStorage    = "storage"
	CategoryInternal   = "internal"
)

// Base error codes
const (
	CodeUnknown          = "UNKNOWN"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodePeerDisconnected = "PEER_DISCONNECTED"
	CodeQueueFull        = "QUEUE_FULL"
	CodeQueueClosed      = "QUEUE_CLOSED"
	CodeWriteFailure     = "WRITE_FAILURE"
	CodeDecodeFailure    = "DECODE_FAILURE"
	CodeFrameTooLarge    = "FRAME_TOO_LARGE"
	CodeStorage          = "STORAGE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorCode represents a machine-readable error identifier
type ErrorCode string

// ErrorCategory groups related errors
type ErrorCategory string

// Error provides structured error information. Two errors match under
// errors.Is when their codes are equal, so package-level sentinels built with
// NewError can be compared against wrapped instances.
type Error struct {
	Code       ErrorCode
	Category   ErrorCategory
	Message    string
	Underlying error
	Temporary  bool
	Timestamp  time.Time
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is implements error comparison
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new structured error
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  getCategory(code),
		Message:   message,
		Temporary: isTemporaryCode(code),
		Timestamp: time.Now(),
	}
}

// NewErrorf creates a new structured error with formatting
func NewErrorf(code ErrorCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with structured information
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Category:   getCategory(code),
		Message:    message,
		Underlying: err,
		Temporary:  isTemporaryCode(code),
		Timestamp:  time.Now(),
	}
}

// WrapErrorf wraps an existing error with formatted message
func WrapErrorf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return WrapError(err, code, fmt.Sprintf(format, args...))
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeUnknown
}

// GetErrorCategory extracts the error category from an error
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}

	return CategoryUnknown
}

// IsTemporary returns whether an error is temporary
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Temporary
	}

	return false
}

func getCategory(code ErrorCode) ErrorCategory {
	switch code {
	case CodeInvalidInput, CodeConfigInvalid:
		return CategoryValidation
	case CodePeerDisconnected, CodeWriteFailure:
		return CategoryNetwork
	case CodeQueueFull:
		return CategoryResource
	case CodeQueueClosed:
		return CategoryLifecycle
	case CodeDecodeFailure, CodeFrameTooLarge:
		return CategoryCodec
	case CodeStorage:
		return CategoryStorage
	case CodeInternal:
		return CategoryInternal
	default:
		return CategoryUnknown
	}
}

// Backpressure and transient write errors clear up on their own; a closed
// queue or a missing peer does not.
func isTemporaryCode(code ErrorCode) bool {
	switch code {
	case CodeQueueFull, CodeWriteFailure:
		return true
	default:
		return false
	}
}
