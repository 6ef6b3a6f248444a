package authgate

import (
	"errors"
	"fmt"
	"net/http"
)

// Store level sentinels. Directory and challenge store implementations
// return (or wrap) these so the core can tell them apart from backend
// failures.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Kind classifies an authentication failure
type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindNotFound
	KindUnauthorized
	KindBadGateway
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadGateway:
		return "bad_gateway"
	case KindBadRequest:
		return "bad_request"
	}
	return "internal"
}

// Error is the error type returned by Authenticator operations
type Error struct {
	Kind    Kind
	Message string // user facing
	Field   string // optional form field the error refers to
	Err     error  // underlying cause, never shown to users
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error of the given kind
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// NewFieldError creates a BadRequest error bound to a form field
func NewFieldError(field, message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Field: field}
}

// KindOf returns the kind of err. Errors that are not *Error are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of kind k
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// StatusFor maps an error to the HTTP status the handlers respond with
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadGateway:
		return http.StatusBadGateway
	case KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// publicMessage returns the message safe to show for err
func publicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Internal server error"
}
