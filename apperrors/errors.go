package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindCapacity   Kind = "capacity"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindInternal   Kind = "internal"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Reason so that copies made by WithDetail/Wrap still compare
// equal to the package-level sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// WithDetail returns a copy of e whose message carries extra context.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// New creates a new Error
func New(code int, kind Kind, reason, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// Validation
var (
	ErrEmptyOrder      = New(http.StatusBadRequest, KindValidation, "EMPTY_ORDER", "order must contain at least one item", nil)
	ErrInvalidQuantity = New(http.StatusBadRequest, KindValidation, "INVALID_QUANTITY", "quantity must be at least 1", nil)
	ErrInvalidInput    = New(http.StatusBadRequest, KindValidation, "INVALID_INPUT", "invalid input", nil)
)

// Capacity
var (
	ErrInsufficientInventory = New(http.StatusConflict, KindCapacity, "INSUFFICIENT_INVENTORY", "insufficient inventory", nil)
	ErrOverRelease           = New(http.StatusConflict, KindCapacity, "OVER_RELEASE", "cannot release more tickets than sold", nil)
)

// Lookup
var (
	ErrTicketTypeNotFound = New(http.StatusNotFound, KindNotFound, "TICKET_TYPE_NOT_FOUND", "ticket type not found", nil)
	ErrOrderNotFound      = New(http.StatusNotFound, KindNotFound, "ORDER_NOT_FOUND", "order not found", nil)
)

// State conflict
var (
	ErrOrderNotCancellable  = New(http.StatusConflict, KindConflict, "ORDER_NOT_CANCELLABLE", "order cannot be cancelled", nil)
	ErrOrderAlreadyResolved = New(http.StatusConflict, KindConflict, "ORDER_ALREADY_RESOLVED", "order is no longer pending", nil)
	ErrTicketIssuance       = New(http.StatusConflict, KindConflict, "TICKET_ISSUANCE_FAILED", "tickets could not be issued", nil)
	ErrAlreadyRefunded      = New(http.StatusConflict, KindConflict, "ALREADY_REFUNDED", "order was already refunded", nil)
)

// External
var (
	ErrRateLimited = New(http.StatusTooManyRequests, KindTransient, "RATE_LIMITED", "ledger rate limit exceeded", nil)
	ErrInternal    = New(http.StatusInternalServerError, KindInternal, "INTERNAL", "internal server error", nil)
)

// From converts any error to an *Error, defaulting to ErrInternal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.Wrap(err)
}

// ErrorMiddleware renders the last error attached to the gin context.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := From(c.Errors.Last().Err)
			c.JSON(appErr.Code, gin.H{"error": appErr.Message, "reason": appErr.Reason})
			c.Abort()
		}
	}
}
