package updates

import (
	"errors"
	"fmt"
)

// Error kinds reported by dbupdater. Match them with errors.Is.
var (
	// ErrConfigRead indicates that the backing store is missing and could not
	// be created, or that it could not be read
	ErrConfigRead = errors.New("couldn't read database updates config")

	// ErrOutdatedConfig indicates that the stored config version is newer than
	// the version this build understands
	ErrOutdatedConfig = errors.New("database updates config version is not supported")

	// ErrInvalidConfig indicates a structurally invalid update definition or
	// duplicate update IDs
	ErrInvalidConfig = errors.New("invalid database updates config")

	// ErrDuplicateID indicates that a new update reuses an existing ID
	ErrDuplicateID = errors.New("update ID already exists")

	// ErrTableSetup indicates that the tracking table is missing and could not
	// be created, or that a ledger write did not affect exactly one row
	ErrTableSetup = errors.New("database updates table setup failed")

	// ErrUpdateFailure indicates that an update could not be executed
	ErrUpdateFailure = errors.New("update failed")

	// ErrLocked indicates that another runner holds the update lock
	ErrLocked = errors.New("database updates are locked by another runner")
)

// UpdateFailureError reports a failed update together with its ID.
type UpdateFailureError struct {
	ID  string // ID of the failing update
	Err error  // Underlying cause
}

// NewUpdateFailureError wraps err as the failure of update id.
func NewUpdateFailureError(id string, err error) *UpdateFailureError {
	return &UpdateFailureError{ID: id, Err: err}
}

// Error implements the error interface
func (e *UpdateFailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("couldn't execute update with ID %s", e.ID)
	}
	return fmt.Sprintf("couldn't execute update with ID %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying cause
func (e *UpdateFailureError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpdateFailure.
func (e *UpdateFailureError) Is(target error) bool {
	return target == ErrUpdateFailure
}

// DatabaseError wraps a driver error with the statement and operation that
// produced it.
type DatabaseError struct {
	UpdateID  string // Update being executed (if applicable)
	Query     string // SQL that failed (if applicable)
	Operation string // Operation being performed
	Err       error  // Underlying driver error
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(updateID, query, operation string, err error) *DatabaseError {
	return &DatabaseError{
		UpdateID:  updateID,
		Query:     query,
		Operation: operation,
		Err:       err,
	}
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.UpdateID != "" {
		return fmt.Sprintf("database error in update %s during %s: %v", e.UpdateID, e.Operation, e.Err)
	}
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// FileSystemError wraps file system errors raised by update sources.
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, write, ...)
	Err       error  // Underlying error
}

// NewFileSystemError creates a new FileSystemError
func NewFileSystemError(path, operation string, err error) *FileSystemError {
	return &FileSystemError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// Error implements the error interface
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// Kind maps an error to a stable label for structured logs.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUpdateFailure):
		return "update_failure"
	case errors.Is(err, ErrConfigRead):
		return "config_read"
	case errors.Is(err, ErrOutdatedConfig):
		return "outdated_config"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrTableSetup):
		return "table_setup"
	case errors.Is(err, ErrLocked):
		return "locked"
	}
	return "unexpected"
}
