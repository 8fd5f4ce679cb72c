package usecase

import "fmt"

// ValidationError reports malformed or missing required input, including a
// classifier payload that fails normalization. Maps to a 4xx response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// PersistenceError reports a store write or read failure. The Op field tells
// the two-write failure modes apart: a failed append leaves an orphaned
// result row, a failed create leaves nothing.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
