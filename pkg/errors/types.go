// Package errors defines the structured error taxonomy shared by the engine.
// Every failure crossing a package boundary carries an ErrorCode so callers
// (the embedder surface in particular) can classify it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Orchestration errors
	ErrCodeStaleHandle       ErrorCode = "STALE_HANDLE"
	ErrCodeTransportBroken   ErrorCode = "TRANSPORT_BROKEN"
	ErrCodeLoadTimeout       ErrorCode = "LOAD_TIMEOUT"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeHistoryOutOfRange ErrorCode = "HISTORY_OUT_OF_RANGE"
	ErrCodeScriptFault       ErrorCode = "SCRIPT_FAULT"
	ErrCodeTraversalAborted  ErrorCode = "TRAVERSAL_ABORTED"
	ErrCodeSuperseded        ErrorCode = "SUPERSEDED"
	ErrCodeClosed            ErrorCode = "CLOSED"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Generic errors
	ErrCodeInternal       ErrorCode = "INTERNAL"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// retryable codes describe conditions that can clear on their own: a worker
// host coming back, capacity freeing up, a slow document finishing.
var retryable = map[ErrorCode]bool{
	ErrCodeTransportBroken:   true,
	ErrCodeLoadTimeout:       true,
	ErrCodeResourceExhausted: true,
	ErrCodeStorageRead:       true,
	ErrCodeStorageWrite:      true,
}

// Error is a coded engine error. Context holds the identifiers involved,
// keyed by kind ("pipeline", "context", "url").
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates an error. Retryable defaults from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Retryable: retryable[code],
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to err. It returns nil for a nil err.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Underlying = err
	return e
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable overrides the retryable default of the code.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error renders "[CODE] message {k: v, ...}: underlying" with context keys
// sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches a sentinel by code, so errors.Is(err, ErrStaleHandle) holds for
// any stale handle error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Underlying == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrStaleHandle       = &Error{Code: ErrCodeStaleHandle}
	ErrTransportBroken   = &Error{Code: ErrCodeTransportBroken}
	ErrLoadTimeout       = &Error{Code: ErrCodeLoadTimeout}
	ErrResourceExhausted = &Error{Code: ErrCodeResourceExhausted}
	ErrHistoryOutOfRange = &Error{Code: ErrCodeHistoryOutOfRange}
	ErrClosed            = &Error{Code: ErrCodeClosed}
)

// IsCode reports whether err, or anything it wraps, is an *Error with code.
// The outermost *Error decides.
func IsCode(err error, code ErrorCode) bool {
	var engineErr *Error
	if !stderrors.As(err, &engineErr) {
		return false
	}
	return engineErr.Code == code
}

// GetCode returns the code of the outermost *Error in err's chain. Foreign
// errors are INTERNAL; nil has no code.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var engineErr *Error
	if !stderrors.As(err, &engineErr) {
		return ErrCodeInternal
	}
	return engineErr.Code
}

// IsRetryable reports whether the embedder may repeat the command that
// produced err.
func IsRetryable(err error) bool {
	var engineErr *Error
	if !stderrors.As(err, &engineErr) {
		return false
	}
	return engineErr.Retryable
}

// StaleHandle reports an operation on an identifier that no longer names a
// live context or pipeline.
func StaleHandle(kind string, id fmt.Stringer) *Error {
	return New(ErrCodeStaleHandle, "stale "+kind+" handle").WithContext(kind, id.String())
}

// Superseded reports work abandoned because a newer command replaced it.
func Superseded(reason string) *Error {
	return New(ErrCodeSuperseded, "superseded by "+reason)
}
