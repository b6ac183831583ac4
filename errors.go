package weir

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a status-carrying error that the default error terminator
// turns into the JSON body `{error, statusCode, code?}`.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Err        error
}

// NewHTTPError returns an *HTTPError with the given status and message.
func NewHTTPError(statusCode int, message string) *HTTPError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &HTTPError{StatusCode: statusCode, Message: message}
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// statusCoder is satisfied by any error exposing a numeric HTTP status.
type statusCoder interface {
	httpStatusCode() int
}

func (e *HTTPError) httpStatusCode() int { return e.StatusCode }

// ErrNotFound is returned by the default not-found terminal handler.
var ErrNotFound = NewHTTPError(http.StatusNotFound, "Route Not Found")

// ErrMethodNotAllowed is returned when a path matches but the method does
// not.
var ErrMethodNotAllowed = NewHTTPError(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))

// ErrBodyTooLarge is a 413 HTTPError for a request body over its read cap
// (default 10 MiB). Request.Body does not return it: an over-cap read there
// fails with *http.MaxBytesError.
var ErrBodyTooLarge = NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// statusFromError extracts the numeric status to use for the default error
// terminator, defaulting to 500.
func statusFromError(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		if c := sc.httpStatusCode(); c != 0 {
			return c
		}
	}
	return http.StatusInternalServerError
}

// errorJSONBody is the wire shape of the default error terminator's body.
type errorJSONBody struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code,omitempty"`
	Stack      string `json:"stack,omitempty"`
}
