// Package httperror defines an error that carries the HTTP status an
// inbound handler should answer with.
package httperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error with an HTTP status code.
type Error struct {
	Status  int    `json:"httpCode"`
	Message string `json:"message"`
}

// New creates an Error.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// StatusOf returns the status carried by err, or 500 for any other error.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) {
		return he.Status
	}
	return http.StatusInternalServerError
}

// UnsupportedMediaType reports a MIME type no producer can handle.
func UnsupportedMediaType(mime string) *Error {
	return Newf(http.StatusUnsupportedMediaType, "unsupported media type %q", mime)
}

// BadRequest reports invalid input.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}
