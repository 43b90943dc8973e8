package store

import (
	"errors"
	"strings"
)

var (
	// ErrUnavailable indicates the metadata store could not be reached.
	ErrUnavailable = errors.New("metadata store unavailable")

	// ErrQuery indicates the catalog query failed after connecting.
	ErrQuery = errors.New("metadata store query failed")

	// ErrInvalidTable indicates the configured table name cannot be used as an identifier.
	ErrInvalidTable = errors.New("invalid table name")
)

// QueryError reports a failed catalog query against a table.
type QueryError struct {
	Table string
	Err   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString("query ")
	b.WriteString(e.Table)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns ErrQuery for errors.Is() compatibility, plus the cause.
func (e *QueryError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrQuery, e.Err}
	}
	return []error{ErrQuery}
}
