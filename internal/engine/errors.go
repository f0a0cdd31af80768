package engine

import (
	"errors"
	"fmt"
)

const (
	CodeDataSourceNotFound = "DATA_SOURCE_NOT_FOUND"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeInvalidRequest     = "INVALID_REQUEST"
)

// Error is a fatal condition that aborts a call. Code is stable and meant
// for clients; Message is for humans.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
