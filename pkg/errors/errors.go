package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stockflow/stockflow-backend/pkg/i18n"
)

// Standard error types
var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("resource conflict")
	ErrInternal      = errors.New("internal server error")
	ErrValidation    = errors.New("validation error")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("invalid token")
)

// Stock ledger error types
var (
	ErrDuplicateReference   = errors.New("duplicate stock reference")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrShortageNotJustified = errors.New("shortage not justified")

	// ErrConcurrentUpdate is returned by version-checked writes that lost a race.
	// Services retry on it; it never reaches the HTTP layer unwrapped.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"` // i18n key for localization
	Params     map[string]string `json:"-"` // Parameters for i18n interpolation
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Localize returns a localized version of the error message
func (e *AppError) Localize(ctx context.Context) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return i18n.TFromContext(ctx, e.MessageKey, e.Params)
}

// LocalizeWith returns a localized version using a specific localizer
func (e *AppError) LocalizeWith(l *i18n.Localizer) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return l.T(e.MessageKey, e.Params)
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		MessageKey: "errors.not_found",
		Params:     map[string]string{"resource": resource},
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"resource": resource},
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		MessageKey: "errors.unauthorized",
		StatusCode: http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		MessageKey: "errors.forbidden",
		StatusCode: http.StatusForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		MessageKey: "errors.bad_request",
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		MessageKey: "errors.conflict",
		Params:     map[string]string{"reason": message},
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		MessageKey: "errors.internal",
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		MessageKey: "errors.validation_failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Err:        ErrTokenExpired,
		Code:       "TOKEN_EXPIRED",
		Message:    "token has expired",
		MessageKey: "errors.token_expired",
		StatusCode: http.StatusUnauthorized,
	}
}

func TokenInvalid() *AppError {
	return &AppError{
		Err:        ErrTokenInvalid,
		Code:       "TOKEN_INVALID",
		Message:    "invalid token",
		MessageKey: "errors.token_invalid",
		StatusCode: http.StatusUnauthorized,
	}
}

// Stock ledger constructors

// DuplicateReference reports a stock item reference that is already taken.
func DuplicateReference(reference string) *AppError {
	return &AppError{
		Err:        ErrDuplicateReference,
		Code:       "DUPLICATE_REFERENCE",
		Message:    fmt.Sprintf("stock reference %q already exists", reference),
		MessageKey: "errors.duplicate_reference",
		Params:     map[string]string{"reference": reference},
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"reference": reference},
	}
}

// InsufficientStock reports a decrease that would drive on-hand quantity below zero.
// The shortfall is surfaced so the operator can reduce the quantity or justify it.
func InsufficientStock(requested, available, shortfall string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock: requested %s, available %s", requested, available),
		MessageKey: "errors.insufficient_stock",
		Params: map[string]string{
			"requested": requested,
			"available": available,
			"shortfall": shortfall,
		},
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"requested": requested,
			"available": available,
			"shortfall": shortfall,
		},
	}
}

// InvalidQuantity reports a negative or over-limit quantity on the given field.
func InvalidQuantity(field, reason string) *AppError {
	return &AppError{
		Err:        ErrInvalidQuantity,
		Code:       "INVALID_QUANTITY",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		MessageKey: "errors.invalid_quantity",
		Params:     map[string]string{"field": field, "reason": reason},
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{field: reason},
	}
}

// ShortageNotJustified blocks settlement of a flagged allocation.
func ShortageNotJustified(shortfall string) *AppError {
	return &AppError{
		Err:        ErrShortageNotJustified,
		Code:       "SHORTAGE_NOT_JUSTIFIED",
		Message:    fmt.Sprintf("stock shortage of %s must be justified before settlement", shortfall),
		MessageKey: "errors.shortage_not_justified",
		Params:     map[string]string{"shortfall": shortfall},
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"shortfall": shortfall},
	}
}

// ConcurrentUpdate reports a change that kept losing the race for a row.
// err must wrap ErrConcurrentUpdate.
func ConcurrentUpdate(err error) *AppError {
	return &AppError{
		Err:        err,
		Code:       "CONCURRENT_UPDATE",
		Message:    "the resource was modified concurrently, retry later",
		MessageKey: "errors.concurrent_update",
		StatusCode: http.StatusConflict,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
