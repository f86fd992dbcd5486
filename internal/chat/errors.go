package chat

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindPersistence    ErrorKind = "persistence"
)

// Error is the typed failure every chat operation returns. Validation and
// authorization failures are handled where they occur and never reach the
// broadcast stage.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.cause }

func Validation(msg string) *Error    { return &Error{Kind: KindValidation, Message: msg} }
func Authorization(msg string) *Error { return &Error{Kind: KindAuthorization, Message: msg} }
func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }

func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Message: "storage error", cause: err}
}

// KindOf classifies an arbitrary error; anything untyped is treated as a
// persistence failure.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPersistence
}

// HTTPStatus maps an operation error to the REST status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return fiber.StatusUnauthorized
	case KindAuthorization:
		return fiber.StatusForbidden
	case KindValidation:
		return fiber.StatusBadRequest
	case KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// PublicMessage is what goes into the {success:false, message} envelope or
// the realtime error event. Persistence details stay in the logs.
func PublicMessage(err error) string {
	if KindOf(err) == KindPersistence {
		return "Internal server error"
	}
	return err.Error()
}
