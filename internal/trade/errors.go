package trade

import "fmt"

// Stable error codes returned to callers of the executor.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeSessionInvalid   = "SESSION_INVALID"
	CodeNoRouteFound     = "NO_ROUTE_FOUND"
	CodeRouteError       = "ROUTE_ERROR"
	CodeSubmissionError  = "SUBMISSION_ERROR"
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
)

// Error carries a stable code alongside the underlying cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the stable code from an executor error, or empty string.
func CodeOf(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
