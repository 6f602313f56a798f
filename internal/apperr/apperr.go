// Package apperr defines the error kinds surfaced to HTTP and socket callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	NotFound     Kind = "not_found"
	Forbidden    Kind = "forbidden"
	BadRequest   Kind = "bad_request"
	Conflict     Kind = "conflict"
	Unauthorized Kind = "unauthorized"
	Internal     Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFoundf(format string, args ...any) *Error { return New(NotFound, format, args...) }

func Forbiddenf(format string, args ...any) *Error { return New(Forbidden, format, args...) }

func BadRequestf(format string, args ...any) *Error { return New(BadRequest, format, args...) }

func Conflictf(format string, args ...any) *Error { return New(Conflict, format, args...) }

func Unauthorizedf(format string, args ...any) *Error { return New(Unauthorized, format, args...) }

// KindOf reports the kind of err, Internal for anything that is not an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human message of err. Internal causes are hidden.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case BadRequest:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
