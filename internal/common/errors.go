package common

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one member of the error taxonomy callers branch on.
type ErrorCode int

const (
	CodeInvalidOrder ErrorCode = iota
	CodeMarketNotFound
	CodeMarketInactive
	CodeOrderNotFound
	CodeInvalidStatus
	CodeTooManyOrders
	CodeInsufficientBalance
	CodeArithmeticOverflow
	CodeQueueFull
	CodeStorageError
	CodeDependencyError
)

// Error is the single error type every component of the engine returns.
// Callers branch on Code, or use errors.Is/errors.As against the sentinel
// values below and against the wrapped inner error.
type Error struct {
	Code    ErrorCode
	Message string
	Inner   error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Inner)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Inner }

// Is lets errors.Is(err, ErrOrderNotFound) work against a constructed
// *Error that shares a code, even when messages differ.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newErr(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Sentinel values for errors.Is comparisons against fixed conditions.
var (
	ErrMarketNotFound       = newErr(CodeMarketNotFound, "market not found")
	ErrMarketInactive       = newErr(CodeMarketInactive, "market is not active")
	ErrOrderNotFound        = newErr(CodeOrderNotFound, "order not found")
	ErrInvalidStatus        = newErr(CodeInvalidStatus, "order cannot transition from its current status")
	ErrTooManyOrders        = newErr(CodeTooManyOrders, "too many open orders for user")
	ErrInsufficientBalance  = newErr(CodeInsufficientBalance, "insufficient balance")
	ErrArithmeticOverflow   = newErr(CodeArithmeticOverflow, "arithmetic overflow")
	ErrQueueFull            = newErr(CodeQueueFull, "settlement queue is full")
)

// NewInvalidOrder builds an InvalidOrder(reason) error.
func NewInvalidOrder(reason string) *Error {
	return newErr(CodeInvalidOrder, "invalid order: "+reason)
}

// NewStorageError wraps a lower-layer storage adapter failure.
func NewStorageError(err error) *Error {
	return &Error{Code: CodeStorageError, Message: "storage error", Inner: err}
}

// NewDependencyError wraps a lower-layer dependency (settlement executor,
// cache, etc.) failure.
func NewDependencyError(err error) *Error {
	return &Error{Code: CodeDependencyError, Message: "dependency error", Inner: err}
}

// Code extracts the ErrorCode from err if it is (or wraps) an *Error.
func Code(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
