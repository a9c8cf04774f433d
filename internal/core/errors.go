package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindPermission
	KindNotFound
	KindConflict
	KindRateLimit
	KindTransient
	KindSanitization
	KindIntegrity
	KindPipelineStage
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindSanitization:
		return "sanitization"
	case KindIntegrity:
		return "integrity"
	case KindPipelineStage:
		return "pipeline_stage"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error is the service-wide error envelope. Handlers unwrap it to pick a
// status code; everything else treats it as a normal error value.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, defaulting to fatal for
// errors that never passed through the taxonomy.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsRetryable reports whether the job runtime should re-enqueue the task.
// Only connection-level and timeout failures qualify; logic errors are
// surfaced once and dead-lettered.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatus maps an error kind to its response code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindSanitization:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
