// Package apierr defines the error taxonomy used throughout Pixyard and the
// mapping from internal failures to JSON API responses.
//
// Every failure in the pipeline or the service layer falls into one of a
// small set of classes:
//
//   - Transient: infrastructure hiccups (network, storage throttling) that
//     are worth retrying with backoff.
//   - InvalidInput: malformed or unsupported input (corrupt image, rejected
//     by the recognition engine). Retrying cannot succeed.
//   - Unauthorized / Forbidden: missing identity or namespace mismatch,
//     surfaced to the caller, never retried.
//   - NotFound: the idempotent outcome of repeated deletes; not a fault.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Class identifies a failure class. The class decides retry behavior and the
// HTTP status a failure maps to.
type Class int

const (
	// ClassInternal is the default for unclassified failures.
	ClassInternal Class = iota
	// ClassTransient marks retryable infrastructure failures.
	ClassTransient
	// ClassInvalidInput marks permanent bad-input failures.
	ClassInvalidInput
	// ClassUnauthorized marks missing or invalid credentials.
	ClassUnauthorized
	// ClassForbidden marks authenticated but out-of-namespace access.
	ClassForbidden
	// ClassNotFound marks absent resources.
	ClassNotFound
)

// Error is a classified error. It wraps an underlying cause so call sites can
// use errors.Is/As while the pipeline inspects only the class.
type Error struct {
	Class Class
	// Op names the failing operation, e.g. "derivative.generate".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalidInput:
		return "invalid_input"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassForbidden:
		return "forbidden"
	case ClassNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Transient wraps err as a retryable infrastructure failure.
func Transient(op string, err error) error {
	return &Error{Class: ClassTransient, Op: op, Err: err}
}

// InvalidInput wraps err as a permanent bad-input failure.
func InvalidInput(op string, err error) error {
	return &Error{Class: ClassInvalidInput, Op: op, Err: err}
}

// Unauthorized wraps err as an authentication failure.
func Unauthorized(op string, err error) error {
	return &Error{Class: ClassUnauthorized, Op: op, Err: err}
}

// Forbidden wraps err as a namespace-mismatch failure.
func Forbidden(op string, err error) error {
	return &Error{Class: ClassForbidden, Op: op, Err: err}
}

// NotFound wraps err as an absent-resource outcome.
func NotFound(op string, err error) error {
	return &Error{Class: ClassNotFound, Op: op, Err: err}
}

// ClassOf returns the class of err, unwrapping as needed.
// Unclassified errors are ClassInternal.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return ClassOf(err) == ClassTransient }

// IsNotFound reports whether err is an absent-resource outcome.
func IsNotFound(err error) bool { return ClassOf(err) == ClassNotFound }

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	switch ClassOf(err) {
	case ClassInvalidInput, ClassUnauthorized, ClassForbidden:
		return true
	}
	return false
}

// apiResponse is the JSON body written for API errors.
type apiResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HTTPStatus maps an error to the status code returned to the API caller.
func HTTPStatus(err error) int {
	switch ClassOf(err) {
	case ClassInvalidInput:
		return http.StatusBadRequest
	case ClassUnauthorized:
		return http.StatusUnauthorized
	case ClassForbidden:
		return http.StatusForbidden
	case ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes err as a JSON error response. Internal and transient
// failures collapse to a generic 500 body so no internal detail leaks.
func WriteJSON(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	resp := apiResponse{Error: ClassOf(err).String()}
	switch ClassOf(err) {
	case ClassInternal, ClassTransient:
		resp.Error = "internal"
		resp.Message = "internal error"
	default:
		resp.Message = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
