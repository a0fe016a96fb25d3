// ABOUTME: Error taxonomy for the layout model store: validation, not-found, and storage failures.
// ABOUTME: Each error type matches its sentinel via errors.Is so the HTTP layer can map it to a status code.
package layout

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("invalid model")

	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("model not found")

	// ErrStorage is matched by every StorageError.
	ErrStorage = errors.New("model storage failure")
)

// ValidationError indicates the caller supplied a document or key the store cannot accept.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError indicates no stored model exists for the key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps an I/O or serialization failure. Op names the step that failed.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}
