package engine

import (
	"errors"
	"fmt"
)

// ErrorClass says why an execution failed.
type ErrorClass string

const (
	// Failures the retry policy retries.
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassThrottled ErrorClass = "throttled"

	ErrorClassPermanent ErrorClass = "permanent"
	ErrorClassTimeout   ErrorClass = "timeout"
	ErrorClassCanceled  ErrorClass = "canceled"
	// The binary could not be started or its output could not be read.
	ErrorClassSpawn ErrorClass = "spawn"
	// Output did not have the expected shape.
	ErrorClassParse ErrorClass = "parse"
	// Every retry of a transient failure failed.
	ErrorClassExhausted ErrorClass = "exhausted"
	// Unknown operation or options that cannot be combined.
	ErrorClassInvalid ErrorClass = "invalid"
)

// Retryable reports whether a failure of this class was, or could have
// been, retried.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassExhausted:
		return true
	}
	return false
}

// Error codes carried by EngineError.
const (
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCanceled         = "CANCELED"
	ErrCodeSpawnFailed      = "SPAWN_FAILED"
	ErrCodeParseFailed      = "PARSE_FAILED"
	ErrCodeToolFailed       = "TOOL_FAILED"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeUnknownOperation = "UNKNOWN_OPERATION"
	ErrCodeInvalidOptions   = "INVALID_OPTIONS"
)

// EngineError is a classified execution error. Two EngineErrors match
// under errors.Is when class and code agree.
//
//nolint:revive
type EngineError struct {
	Class     ErrorClass     `json:"class"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Operation string         `json:"operation,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

func (e *EngineError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		s += " (operation=" + e.Operation + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

// WithOperation sets the operation and returns e.
func (e *EngineError) WithOperation(op string) *EngineError {
	e.Operation = op
	return e
}

// WithDetail records key=value in Details and returns e.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

func NewTimeoutError(message string, err error) *EngineError {
	return newError(ErrorClassTimeout, ErrCodeTimeout, message, err)
}

func NewSpawnError(message string, err error) *EngineError {
	return newError(ErrorClassSpawn, ErrCodeSpawnFailed, message, err)
}

func NewParseError(message string, err error) *EngineError {
	return newError(ErrorClassParse, ErrCodeParseFailed, message, err)
}

// NewExhaustedError wraps the last failure of a retry loop that gave up.
func NewExhaustedError(message string, err error) *EngineError {
	return newError(ErrorClassExhausted, ErrCodeRetriesExhausted, message, err)
}

func NewInvalidError(code, message string, err error) *EngineError {
	return newError(ErrorClassInvalid, code, message, err)
}

// ClassOf returns the class of the first EngineError in err's chain, or ""
// when there is none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsExhausted reports whether err means retries ran out.
func IsExhausted(err error) bool { return ClassOf(err) == ErrorClassExhausted }

// IsInvalid reports an unknown operation or invalid options.
func IsInvalid(err error) bool { return ClassOf(err) == ErrorClassInvalid }

// IsTimeout reports whether the child process timed out.
func IsTimeout(err error) bool { return ClassOf(err) == ErrorClassTimeout }
