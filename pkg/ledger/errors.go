package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrDuplicateGrant        = errors.New("duplicate grant")
	ErrUserNotFound          = errors.New("user not found")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrReconciliationDrift   = errors.New("reconciliation drift")
	ErrEntryNotFound         = errors.New("entry not found")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidEntryID        = errors.New("invalid entry id")
	ErrInvalidEntryType      = errors.New("invalid entry type")
	ErrInvalidSource         = errors.New("invalid source")
	ErrInvalidSequence       = errors.New("invalid sequence")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidDescription    = errors.New("invalid description")
	ErrInvalidListQuery      = errors.New("invalid list query")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// MarkUnavailable tags an infrastructure failure so that it matches ErrStoreUnavailable
// while the original cause stays reachable through errors.Is and errors.As.
func MarkUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return unavailableError{cause: err}
}

type unavailableError struct {
	cause error
}

func (unavailable unavailableError) Error() string {
	return unavailable.cause.Error()
}

func (unavailable unavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, unavailable.cause}
}

// DuplicateError reports an idempotency key that was already consumed by Entry.
type DuplicateError struct {
	Entry Entry
}

// Error returns the formatted error message.
func (duplicate DuplicateError) Error() string {
	return fmt.Sprintf("%v: key %q consumed by entry %s", ErrDuplicateGrant, duplicate.Entry.IdempotencyKey().String(), duplicate.Entry.EntryID().String())
}

// Unwrap returns ErrDuplicateGrant.
func (duplicate DuplicateError) Unwrap() error {
	return ErrDuplicateGrant
}
