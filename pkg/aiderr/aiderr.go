// Package aiderr implements the single tagged error variant that replaces
// the thin per-case error subclasses a naive port of the core would carry.
package aiderr

import "net/http"

// Code is one of the Aid API's error code enum values.
type Code string

const (
	EncoderNotAuthorized Code = "ENCODER_NOT_AUTHORIZED"
	EncoderInactive      Code = "ENCODER_INACTIVE"
	JobNotFound          Code = "JOB_NOT_FOUND"
	JobAlreadyAssigned   Code = "JOB_ALREADY_ASSIGNED"
	JobAlreadyCompleted  Code = "JOB_ALREADY_COMPLETED"
	JobNotOwned          Code = "JOB_NOT_OWNED"
	InvalidCID           Code = "INVALID_CID"
	InvalidRequest       Code = "INVALID_REQUEST"
	InternalError        Code = "INTERNAL_ERROR"
)

var httpStatus = map[Code]int{
	EncoderNotAuthorized: http.StatusForbidden,
	EncoderInactive:      http.StatusForbidden,
	JobNotFound:          http.StatusNotFound,
	JobAlreadyAssigned:   http.StatusConflict,
	JobAlreadyCompleted:  http.StatusConflict,
	JobNotOwned:          http.StatusNotFound,
	InvalidCID:           http.StatusBadRequest,
	InvalidRequest:       http.StatusBadRequest,
	InternalError:        http.StatusInternalServerError,
}

// retryable codes are transient-store-error shaped; everything else is terminal
// for the calling attempt per the propagation policy.
var retryable = map[Code]bool{
	InternalError: true,
}

// Error is Aid's single error type: every failure surfaced across a package
// boundary carries a code, a human message, and its HTTP status.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// HTTPStatus returns the status code the Aid API maps this error to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether the caller is expected to retry the request.
func (e *Error) IsRetryable() bool {
	return retryable[e.Code]
}

// New constructs a tagged error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// As extracts an *Error from err, if it is one.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
