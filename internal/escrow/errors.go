package escrow

import (
	"errors"
	"fmt"
)

// Code classifies settlement errors for callers and the HTTP layer.
type Code string

const (
	// Validation: bad input, rejected before any side effect.
	CodeInvalidParty  Code = "invalid_party"
	CodeInvalidAmount Code = "invalid_amount"
	CodeInvalidFee    Code = "invalid_fee"

	CodeNotFound     Code = "not_found"
	CodeWrongState   Code = "wrong_state"
	CodeUnauthorized Code = "unauthorized"

	// StateConflict: a concurrent transition already happened. Not retried
	// automatically; the caller re-fetches and decides.
	CodeStateConflict Code = "state_conflict"

	// LedgerFailure: the transfer could not complete. The registry was not
	// advanced, so the operation is safely retryable.
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeLedgerFailure     Code = "ledger_failure"

	// Reconciliation: ledger and registry disagree. Fatal for the escrow
	// until repaired; never silently swallowed.
	CodeReconciliation Code = "reconciliation"
)

// Error is the settlement core's error type. Every error crossing the
// package boundary carries a Code.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("escrow: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("escrow: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a coded error.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError creates a coded error wrapping an underlying cause.
func WrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the Code from an error chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether the error was rejected before any side effect.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidParty, CodeInvalidAmount, CodeInvalidFee:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the caller may retry the same operation with
// the same idempotency key. Only ledger failures qualify: the registry was
// not advanced.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeInsufficientFunds, CodeLedgerFailure:
		return true
	default:
		return false
	}
}
