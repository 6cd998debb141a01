package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Every kind is scoped to the single
// requested operation.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindInvalidState        Kind = "invalid_state"
	KindNotFound            Kind = "not_found"
	KindLimitExceeded       Kind = "limit_exceeded"
	KindInvalidAccountState Kind = "invalid_account_state"
	KindQuoteUnavailable    Kind = "quote_unavailable"
	KindPersistence         Kind = "persistence_failure"
)

// Error is returned by every engine operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors that did not come from the
// engine are reported as persistence failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func validationErr(op, format string, args ...any) *Error {
	return newError(KindValidation, op, fmt.Sprintf(format, args...), nil)
}

// wrapTx turns the error returned by a store transaction into an *Error.
// Domain errors raised inside the transaction pass through unchanged.
func wrapTx(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindPersistence, op, "transaction failed", err)
}
