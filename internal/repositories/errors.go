package repositories

import (
	"errors"
	"fmt"
)

// Error is a store-agnostic RepositoryError used by in-process implementations.
type Error struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

var _ RepositoryError = (*Error)(nil)

// NewNotFound reports a missing entity.
func NewNotFound(op, entity, id string) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%s %q not found", entity, id), notFound: true}
}

// NewConflict reports a concurrent modification or precondition mismatch.
func NewConflict(op string, err error) *Error {
	return &Error{Op: op, Err: err, conflict: true}
}

// NewUnavailable reports a transient store failure such as a timeout.
func NewUnavailable(op string, err error) *Error {
	return &Error{Op: op, Err: err, unavailable: true}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// IsNotFound reports whether err carries a not-found repository error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
