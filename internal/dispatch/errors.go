package dispatch

import "github.com/hyperengineering/studysync/internal/types"

// RetrievalError is a failed Fetch for one entry. Its message is the
// collaborator's diagnostic, unchanged.
type RetrievalError struct {
	Identity types.Identity
	Attempt  int
	Output   string
	Err      error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the collaborator error.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}
