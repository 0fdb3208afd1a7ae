package session

import (
	"errors"
	"fmt"
)

const (
	CodeSession     = "SESSION"
	CodeMultiplex   = "MULTIPLEX"
	CodeOrdering    = "ORDERING"
	CodeTimeout     = "TIMEOUT"
	CodeUnsupported = "UNSUPPORTED"
	CodeClosed      = "CLOSED"
	CodeValidation  = "VALIDATION"
	CodeNotFound    = "NOT_FOUND"
)

// CodedError is a typed error used across the harness so callers can tell a
// timeout from an ordering mistake from a failing browser.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of the outermost CodedError in err's chain, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
