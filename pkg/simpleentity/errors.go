package simpleentity

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service matches exactly one of
// these through errors.Is.
var (
	// ErrNotFound indicates a requested item does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a duplicate id, name or identifier
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidParameter indicates blank or malformed input, or an operation
	// that is illegal in the current state
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrConflict indicates the entity changed between read and write
	ErrConflict = errors.New("concurrent modification")

	// ErrIO indicates an external store failed
	ErrIO = errors.New("i/o failure")

	// ErrPermissionDenied indicates the caller lacks the required right
	ErrPermissionDenied = errors.New("permission denied")
)

var (
	ErrEntityNotFound       = fmt.Errorf("entity %w", ErrNotFound)
	ErrBinaryNotFound       = fmt.Errorf("binary %w", ErrNotFound)
	ErrMetadataNotFound     = fmt.Errorf("metadata %w", ErrNotFound)
	ErrContentModelNotFound = fmt.Errorf("content model %w", ErrNotFound)
	ErrSchemaNotFound       = fmt.Errorf("schema %w", ErrNotFound)
	ErrVersionNotFound      = fmt.Errorf("version %w", ErrNotFound)
	ErrRelationNotFound     = fmt.Errorf("relation %w", ErrNotFound)
	ErrIdentifierNotFound   = fmt.Errorf("identifier %w", ErrNotFound)
	ErrBlobNotFound         = fmt.Errorf("blob %w", ErrNotFound)

	// ErrInvalidState indicates the entity state forbids the operation
	ErrInvalidState = fmt.Errorf("%w: invalid state", ErrInvalidParameter)
)

// EntityError represents an error related to an entity operation
type EntityError struct {
	EntityID string
	Op       string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("entity operation %s failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure of an external store. It always matches
// ErrIO in addition to whatever the underlying error matches.
type StorageError struct {
	Store string
	Key   string
	Op    string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on %s: %v", e.Op, e.Key, e.Store, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrIO
}

// invalidf builds an ErrInvalidParameter error with a formatted reason
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// isKind reports whether err already carries one of the service error kinds
func isKind(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrIO)
}

// storeErr passes through classified errors and wraps anything else as an
// I/O failure of the named store.
func storeErr(store, op, key string, err error) error {
	if err == nil || isKind(err) {
		return err
	}
	return &StorageError{Store: store, Key: key, Op: op, Err: err}
}
