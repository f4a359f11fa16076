package broker

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/stashbox/stashbox/internal/api"
	"github.com/stashbox/stashbox/internal/broker/records"
)

// Error is a failure reported to the caller with a wire code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(format string, args ...interface{}) *Error {
	return &Error{Code: api.CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound(what string) *Error {
	return &Error{Code: api.CodeNotFound, Message: what + " not found"}
}

// asError maps repository errors to wire errors. Anything unrecognized
// becomes internal and its details stay in the log.
func asError(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, records.ErrNotFound):
		return notFound("record")
	case errors.Is(err, records.ErrConflict):
		return &Error{Code: api.CodeRecordConflict, Message: "a file or folder with that name already exists"}
	default:
		return &Error{Code: api.CodeInternal, Message: "internal error"}
	}
}

func writeError(c echo.Context, e *Error) error {
	return c.JSON(api.StatusForCode(e.Code), api.ErrorBody{Error: e.Message, Code: e.Code})
}
