package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by what the caller can do about it.
type Kind string

const (
	BadRequest     Kind = "bad_request"
	Authentication Kind = "authentication"
	Authorization  Kind = "authorization"
	NotFound       Kind = "not_found"
	Conflict       Kind = "conflict"
	Configuration  Kind = "configuration"
	Internal       Kind = "internal"
)

// Error is the error type returned across the attendance boundary.
// Reason is safe to show to the end user.
type Error struct {
	Kind      Kind
	Reason    string
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and reason, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap attaches an underlying cause without exposing it in Reason.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func NewBadRequest(reason string) *Error { return New(BadRequest, reason) }
func NewAuthorization(reason string) *Error { return New(Authorization, reason) }
func NewNotFound(reason string) *Error { return New(NotFound, reason) }
func NewConflict(reason string) *Error { return New(Conflict, reason) }
func NewConfiguration(reason string) *Error { return New(Configuration, reason) }
func NewInternal(reason string, err error) *Error {
	return Wrap(Internal, reason, err)
}

// NewAuthentication builds a credential failure. Retriable means a freshly
// issued credential may succeed.
func NewAuthentication(reason string, retriable bool) *Error {
	return &Error{Kind: Authentication, Reason: reason, Retriable: retriable}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ReasonOf returns the user facing reason of err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal error"
}

func IsRetriable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retriable
}

// HTTPStatus maps a kind onto the status code used by the HTTP layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case BadRequest:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body written for a failed request.
type Response struct {
	Error     string `json:"error"`
	Kind      Kind   `json:"kind"`
	Retriable bool   `json:"retriable"`
}

// ResponseOf renders err for the wire. Causes are never included.
func ResponseOf(err error) Response {
	return Response{Error: ReasonOf(err), Kind: KindOf(err), Retriable: IsRetriable(err)}
}
