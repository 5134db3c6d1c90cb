// Package apperr defines the service error taxonomy and its HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes carried in responses and SSE error events.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeBudgetExceeded = "BUDGET_EXCEEDED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUnavailable    = "UPSTREAM_UNAVAILABLE"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the error code for err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message for err. Unclassified
// errors get a generic message so internals never leak.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Internal server error"
}

// As extracts an *Error from err when present.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

func RateLimited(operation string) *Error {
	return &Error{
		Code:    CodeRateLimited,
		Status:  http.StatusTooManyRequests,
		Message: fmt.Sprintf("Rate limit exceeded for %s", operation),
	}
}

func Unavailable(message string, cause error) *Error {
	return &Error{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Message: message, cause: cause}
}

func Upstream(message string, cause error) *Error {
	return &Error{Code: CodeUpstream, Status: http.StatusInternalServerError, Message: message, cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: message, cause: cause}
}

// BudgetExceededError reports a reservation that would breach the daily cap.
type BudgetExceededError struct {
	Used     int64
	Reserved int64
	Limit    int64
	ResetsAt time.Time
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("daily token limit reached: used=%d reserved=%d limit=%d", e.Used, e.Reserved, e.Limit)
}

// Remaining is the budget still available, never negative.
func (e *BudgetExceededError) Remaining() int64 {
	r := e.Limit - (e.Used + e.Reserved)
	if r < 0 {
		return 0
	}
	return r
}

// HTTP converts the budget failure into the 402 response contract.
func (e *BudgetExceededError) HTTP() *Error {
	return &Error{
		Code:    CodeBudgetExceeded,
		Status:  http.StatusPaymentRequired,
		Message: "Daily token limit reached for this workspace",
		Details: map[string]any{
			"used":      e.Used,
			"reserved":  e.Reserved,
			"limit":     e.Limit,
			"remaining": e.Remaining(),
			"resets_at": e.ResetsAt.UTC().Format(time.RFC3339),
		},
		cause: e,
	}
}

// ErrInvalidReservation marks commit/release amounts that exceed the
// outstanding reservation, and double-release programmer errors.
var ErrInvalidReservation = errors.New("invalid reservation")

// InvalidReservation wraps ErrInvalidReservation with context.
func InvalidReservation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReservation, fmt.Sprintf(format, args...))
}
