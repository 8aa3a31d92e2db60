package domain

import (
	"errors"
	"fmt"
)

// ErrLedgerUnavailable marks failures of the notification ledger backend.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ValidationError rejects a single malformed record.
type ValidationError struct {
	Kind   string
	Ref    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Ref, e.Reason)
}

// LedgerError wraps a backend failure with the ledger operation that hit it.
// It matches ErrLedgerUnavailable via errors.Is.
type LedgerError struct {
	Op  string
	Err error
}

// NewLedgerError wraps err for operation op.
func NewLedgerError(op string, err error) error {
	return &LedgerError{Op: op, Err: err}
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func (e *LedgerError) Is(target error) bool {
	return target == ErrLedgerUnavailable
}

// PartialDeliveryError is returned by senders that delivered only part of a
// batch. Delivered holds the external ids that did reach the subscriber.
type PartialDeliveryError struct {
	Delivered []string
	Err       error
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("partial delivery (%d delivered): %v", len(e.Delivered), e.Err)
}

func (e *PartialDeliveryError) Unwrap() error {
	return e.Err
}

// TransientError represents a delivery failure that may succeed on a later run.
type TransientError struct {
	err error
}

// NewTransientError wraps an error as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// IsTransient reports whether err is marked as transient.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
