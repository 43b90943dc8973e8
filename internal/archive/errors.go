package archive

import "errors"

var (
	// ErrConnectivity indicates the archive could not be associated with or queried.
	ErrConnectivity = errors.New("archive connectivity failure")

	// ErrMalformedResponse indicates the query responses could not be decoded.
	ErrMalformedResponse = errors.New("malformed archive response")
)

// ConnectivityError reports a failed association or query against the archive.
type ConnectivityError struct {
	Host       string
	Port       int
	AETitle    string
	Diagnostic string
	Err        error
}

// Error implements the error interface.
func (e *ConnectivityError) Error() string {
	msg := "archive " + e.AETitle + "@" + e.Host + ": "
	if e.Err != nil {
		msg += e.Err.Error()
	} else {
		msg += ErrConnectivity.Error()
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

// Unwrap returns ErrConnectivity for errors.Is() compatibility, plus the cause.
func (e *ConnectivityError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConnectivity, e.Err}
	}
	return []error{ErrConnectivity}
}
