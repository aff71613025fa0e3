// Package fault defines the error taxonomy shared by every ledger component.
//
// Every failure returned by the settlement engine is a *Error carrying a
// Code. None of them is retried by the engine: each one names a
// precondition the caller has to fix (wait for a time gate, top up a
// balance, reduce an amount, wait for unpause) before trying again.
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes ledger errors.
type Code string

const (
	// CodeArithmeticOverflow indicates a fixed-point result exceeded the representable range.
	CodeArithmeticOverflow Code = "ARITHMETIC_OVERFLOW"

	// CodeArithmeticUnderflow indicates a subtraction would go below zero.
	CodeArithmeticUnderflow Code = "ARITHMETIC_UNDERFLOW"

	// CodeInvalidAmount indicates a zero or otherwise unusable amount.
	CodeInvalidAmount Code = "INVALID_AMOUNT"

	// CodeInsufficientBalance indicates a holder does not own enough units.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// CodeCapExceeded indicates a deposit would push lifetime deposits past the issuance cap.
	CodeCapExceeded Code = "CAP_EXCEEDED"

	// CodeTooSoon indicates a snapshot was requested before the interval elapsed.
	CodeTooSoon Code = "TOO_SOON"

	// CodeNothingPending indicates every recorded snapshot has already been distributed.
	CodeNothingPending Code = "NOTHING_PENDING"

	// CodeAmountMismatch indicates a coupon payment differs from the computed due amount.
	CodeAmountMismatch Code = "AMOUNT_MISMATCH"

	// CodeNothingToClaim indicates the holder has no coupon entitlement.
	CodeNothingToClaim Code = "NOTHING_TO_CLAIM"

	// CodeNotMatured indicates redemption before maturity outside emergency mode.
	CodeNotMatured Code = "NOT_MATURED"

	// CodeExceedsWithdrawable indicates an owner withdrawal would breach the reserve.
	CodeExceedsWithdrawable Code = "EXCEEDS_WITHDRAWABLE"

	// CodePaused indicates the operation is gated while the series is paused.
	CodePaused Code = "PAUSED"

	// CodeUnauthorized indicates the caller lacks the required role.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeTransferFailed indicates the backing-asset collaborator rejected a transfer.
	CodeTransferFailed Code = "TRANSFER_FAILED"

	// CodeNotFound indicates a lookup outside the recorded range.
	CodeNotFound Code = "NOT_FOUND"
)

// Error is a ledger failure with a stable code and diagnostic details.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Details contains additional context (amounts, holders, timestamps).
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code, so the
// sentinel values below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key, value string) *Error {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details, Err: e.Err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrArithmeticOverflow  = &Error{Code: CodeArithmeticOverflow}
	ErrArithmeticUnderflow = &Error{Code: CodeArithmeticUnderflow}
	ErrInvalidAmount       = &Error{Code: CodeInvalidAmount}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrCapExceeded         = &Error{Code: CodeCapExceeded}
	ErrTooSoon             = &Error{Code: CodeTooSoon}
	ErrNothingPending      = &Error{Code: CodeNothingPending}
	ErrAmountMismatch      = &Error{Code: CodeAmountMismatch}
	ErrNothingToClaim      = &Error{Code: CodeNothingToClaim}
	ErrNotMatured          = &Error{Code: CodeNotMatured}
	ErrExceedsWithdrawable = &Error{Code: CodeExceedsWithdrawable}
	ErrPaused              = &Error{Code: CodePaused}
	ErrUnauthorized        = &Error{Code: CodeUnauthorized}
	ErrTransferFailed      = &Error{Code: CodeTransferFailed}
	ErrNotFound            = &Error{Code: CodeNotFound}
)

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from err. Returns "" if err is not a ledger error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Codes lists every code in declaration order.
func Codes() []Code {
	return []Code{
		CodeArithmeticOverflow,
		CodeArithmeticUnderflow,
		CodeInvalidAmount,
		CodeInsufficientBalance,
		CodeCapExceeded,
		CodeTooSoon,
		CodeNothingPending,
		CodeAmountMismatch,
		CodeNothingToClaim,
		CodeNotMatured,
		CodeExceedsWithdrawable,
		CodePaused,
		CodeUnauthorized,
		CodeTransferFailed,
		CodeNotFound,
	}
}

// ParseCode maps a code string back to a Code.
func ParseCode(s string) (Code, bool) {
	for _, c := range Codes() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
