package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can map them to responses.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindInactive              ErrorKind = "inactive"
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindCreditLimitExceeded   ErrorKind = "credit_limit_exceeded"
	KindInvalidAmount         ErrorKind = "invalid_amount"
	KindInvalidInput          ErrorKind = "invalid_input"
	KindInvalidAccountPair    ErrorKind = "invalid_account_pair"
	KindTransferLimitExceeded ErrorKind = "transfer_limit_exceeded"
	KindConflict              ErrorKind = "conflict"
	KindBudgetUpdateFailed    ErrorKind = "budget_update_failed"
	KindAborted               ErrorKind = "aborted"
)

// DomainError is a typed engine failure. Two DomainErrors match under
// errors.Is when their kinds are equal, so the sentinels below can be used
// as targets regardless of field or message.
type DomainError struct {
	Kind    ErrorKind
	Field   string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is reports kind equality.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound              = &DomainError{Kind: KindNotFound}
	ErrInactive              = &DomainError{Kind: KindInactive}
	ErrInsufficientFunds     = &DomainError{Kind: KindInsufficientFunds}
	ErrCreditLimitExceeded   = &DomainError{Kind: KindCreditLimitExceeded}
	ErrInvalidAmount         = &DomainError{Kind: KindInvalidAmount}
	ErrInvalidInput          = &DomainError{Kind: KindInvalidInput}
	ErrInvalidAccountPair    = &DomainError{Kind: KindInvalidAccountPair}
	ErrTransferLimitExceeded = &DomainError{Kind: KindTransferLimitExceeded}
	ErrConflict              = &DomainError{Kind: KindConflict}
	ErrBudgetUpdateFailed    = &DomainError{Kind: KindBudgetUpdateFailed}
	ErrAborted               = &DomainError{Kind: KindAborted}
)

// NewError builds a DomainError of the given kind.
func NewError(kind ErrorKind, field, message string) error {
	return &DomainError{Kind: kind, Field: field, Message: message}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return &DomainError{Kind: KindNotFound, Field: entity, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Conflict reports an optimistic version mismatch on an entity.
func Conflict(entity, id string) error {
	return &DomainError{Kind: KindConflict, Field: entity, Message: fmt.Sprintf("%s %q was modified concurrently", entity, id)}
}

// Aborted wraps an infrastructure failure that rolled back an atomic unit.
func Aborted(op string, err error) error {
	return &DomainError{Kind: KindAborted, Message: op, Err: err}
}

// KindOf returns the kind of the first DomainError in err's chain, or
// KindAborted for untyped failures. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindAborted
}

// IsDomain reports whether err carries a DomainError other than Aborted.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind != KindAborted
}
