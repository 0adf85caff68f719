package datasift

import (
	"fmt"
)

// Error is a string that satisfies the error interface, so that sentinel
// errors can be constants.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrInvalidData is the cause of every misuse error: stopping a consumer
	// which is not running, constructing one without a handler, starting a
	// historic which was never prepared, and so on.
	ErrInvalidData = Error("invalid data")

	// ErrCompileFailed is the cause of errors returned when DataSift refuses
	// to compile a definition.
	ErrCompileFailed = Error("compile failed")

	// ErrAccessDenied is the cause of errors returned when DataSift rejects
	// the user's credentials.
	ErrAccessDenied = Error("access denied")

	// ErrRateLimited is the cause of errors returned when the user has run
	// out of API calls.
	ErrRateLimited = Error("rate limit exceeded")
)

// StreamError is a fatal streaming failure. It is returned from Consume when
// the API rejects the stream outright, or when the retry budget for
// reconnecting has been used up.
type StreamError struct {
	// Op is what was being attempted, e.g. "connect" or "read".
	Op string

	// StatusCode is the HTTP status of the streaming response, if one was
	// received.
	StatusCode int

	// Message is the API's explanation, if it sent one.
	Message string

	// Err is the underlying error, if any.
	Err error
}

func (e *StreamError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Message != "":
		return fmt.Sprintf("stream %s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("stream %s failed with status %d", e.Op, e.StatusCode)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("stream %s failed: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("stream %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("stream %s failed: %s", e.Op, e.Message)
	}
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error { return e.Err }

// APIError is a failed call to the REST API. Err is ErrAccessDenied or
// ErrRateLimited when the failure was one of those.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api error %d: %v: %s", e.StatusCode, e.Err, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the sentinel error, if any.
func (e *APIError) Unwrap() error { return e.Err }
