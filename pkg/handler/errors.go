package handler

import (
	"errors"
	"fmt"
)

// Failure is a business rule violation whose message is shown to the user.
type Failure struct {
	Message string
}

func (f *Failure) Error() string { return f.Message }

func fail(format string, args ...any) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// errInvalidData marks a payload that is missing fields or has the wrong
// shape. Its details are logged, the client only sees "Invalid data".
var errInvalidData = errors.New("invalid data")

func invalidData(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidData, fmt.Sprintf(format, args...))
}

// DatabaseError wraps a persistence failure. Details stay in the server log.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *DatabaseError) Unwrap() error { return e.Err }

func dbError(op string, err error) error {
	return &DatabaseError{Op: op, Err: err}
}
