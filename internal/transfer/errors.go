package transfer

import "fmt"

// InvalidRequestError is returned when a transfer request cannot be built from
// the given input.
type InvalidRequestError struct {
	Field  string // Request field that failed validation
	Reason string // Human-readable explanation
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid transfer request field %s: %s", e.Field, e.Reason)
}

// RemoteError represents failures talking to the remote file store, including
// unexpected HTTP status codes and SDK errors.
type RemoteError struct {
	Operation  string // The operation that failed (e.g., "fetch", "store", "mkcol")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Error message from the remote or network layer
	Err        error  // Underlying error, if any
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("remote error during %s: %s", e.Operation, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// LocalFileError represents failures reading or writing the local copy of a
// file: missing upload sources, permission problems, full disks.
type LocalFileError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("local file error for '%s': %s", e.Path, e.Reason)
}

func (e *LocalFileError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents authentication and authorization failures
// including 401 Unauthorized and 403 Forbidden responses.
type AuthenticationError struct {
	Operation string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
