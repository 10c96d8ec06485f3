// Package fault defines the error taxonomy shared by the order services:
// caller mistakes, storage failures and missing entities.
package fault

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationError indicates malformed caller input. It is user-correctable
// and never reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid returns a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError indicates a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StorageError wraps a failure of an external store or catalog call.
// Step names the workflow step that failed; Entity optionally identifies
// the rows involved. Retryable is set for transient causes (timeouts,
// dropped connections, serialization conflicts).
type StorageError struct {
	Step      string
	Entity    string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s (%s): %v", e.Step, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// transient is implemented by errors that know whether retrying may help.
type transient interface {
	Transient() bool
}

// Storage wraps err as a StorageError for step. An err that already is a
// StorageError is returned unchanged so the innermost step is kept.
func Storage(step string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Step: step, Retryable: IsTransient(err), Err: err}
}

// StorageFor is Storage with an entity reference attached.
func StorageFor(step, entity string, err error) error {
	err = Storage(step, err)
	var se *StorageError
	if errors.As(err, &se) && se.Entity == "" {
		se.Entity = entity
	}
	return err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// IsRetryable reports whether err is a StorageError marked retryable.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Retryable
}
