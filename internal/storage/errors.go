package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an operation runs before Open completes.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrEmptyChunks rejects documents with no chunks before any I/O.
	ErrEmptyChunks = errors.New("document requires a non-empty chunk list")

	// ErrMissingOwner rejects operations with no owner id before any I/O.
	ErrMissingOwner = errors.New("owner id required")
)

// StorageError wraps a backend read/write/delete failure. Write-path failures
// surface to the caller with no automatic retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
