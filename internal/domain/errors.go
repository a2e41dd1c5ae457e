package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies failures so the API layer can map them to a status
// code without inspecting messages.
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindQuota
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuota:
		return "quota_exceeded"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error is a classified error. Sentinels below are compared with errors.Is.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// ErrKind reports the classification of e.
func (e *Error) ErrKind() ErrorKind {
	return e.Kind
}

var (
	ErrSessionNotFound      = &Error{Kind: KindNotFound, Message: "invalid or inactive session"}
	ErrSessionMismatch      = &Error{Kind: KindUnauthorized, Message: "invalid session or unauthorized access"}
	ErrUnauthenticated      = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrInitSuppressed       = &Error{Kind: KindConflict, Message: "session initialization suppressed due to recent attempt"}
	ErrReconnecting         = &Error{Kind: KindTransient, Message: "session is reconnecting, retry shortly"}
	ErrSessionUnrecoverable = &Error{Kind: KindFatal, Message: "session could not be recovered, initialize a new session"}
	ErrSessionEnded         = &Error{Kind: KindNotFound, Message: "session has ended, initialize a new session"}
	ErrProfileInUse         = &Error{Kind: KindConflict, Message: "another session is active for this profile"}
	ErrFatalCredential      = &Error{Kind: KindFatal, Message: "AI provider rejected the configured credentials"}
	ErrSendFailed           = &Error{Kind: KindFatal, Message: "failed to send input to AI session"}
	ErrUserNotFound         = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrEmailTaken           = &Error{Kind: KindConflict, Message: "email already registered"}
	ErrInvalidCredentials   = &Error{Kind: KindUnauthorized, Message: "invalid credentials"}
)

// ValidationError rejects malformed input before any quota or transport call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) ErrKind() ErrorKind {
	return KindValidation
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// QuotaExceededError is returned when a monthly ceiling or the per-minute
// window rejects a unit of work. It is never retried internally.
type QuotaExceededError struct {
	Dimension  string
	Current    float64
	Ceiling    float64
	Unit       string
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	unit := ""
	if e.Unit != "" {
		unit = " " + e.Unit
	}
	return fmt.Sprintf("%s limit exceeded. Current: %s/%s%s",
		e.Dimension, formatAmount(e.Current), formatAmount(e.Ceiling), unit)
}

func (e *QuotaExceededError) ErrKind() ErrorKind {
	return KindQuota
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

type kinded interface {
	ErrKind() ErrorKind
}

// KindOf returns the classification of the first classified error in err's
// chain. Unclassified errors are fatal.
func KindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrKind()
	}
	return KindFatal
}

// HTTPStatus maps err to the status code the API returns for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuota:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
