package patient

import "fmt"

// ValidationError reports rejected input before any mutation has happened.
type ValidationError struct {
	Msg     string
	Details []string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(msg string, details ...string) *ValidationError {
	return &ValidationError{Msg: msg, Details: details}
}

// NotFoundError reports a missing patient, file or insurance row.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// PersistenceError wraps a database failure that happened after validation
// passed. Clients get a generic message; the cause is logged server-side.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
