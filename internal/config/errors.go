package config

import "errors"

// ErrInvalid is the sentinel wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Error reports a missing or malformed configuration value.
type Error struct {
	Key     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "config: " + e.Key + " " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrInvalid for errors.Is() compatibility, plus the cause.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalid, e.Err}
	}
	return []error{ErrInvalid}
}
