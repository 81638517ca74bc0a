package library

import "errors"

var (
	// ErrStorageUnavailable means the database could not be opened or its schema created.
	// It stays in effect until the process restarts.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("storage error")

	ErrNotFound             = errors.New("not found")
	ErrDuplicateUsername    = errors.New("username already exists")
	ErrDuplicateEmail       = errors.New("email already exists")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidDays          = errors.New("days of week must be a non-empty subset of 0..6")
	ErrInvalidTime          = errors.New("time must be HH:mm")
	ErrInvalidStatus        = errors.New("invalid status")
)

// StorageError reports a single statement that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
