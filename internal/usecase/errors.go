package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

// Failure kinds. Remote failures are always one of the first four; the last
// two are request-level and never become an Outcome.
const (
	ErrorValidation ErrorCode = "VALIDATION_ERROR"
	ErrorExtraction ErrorCode = "EXTRACTION_ERROR"
	ErrorDispatch   ErrorCode = "DISPATCH_ERROR"
	ErrorUnknown    ErrorCode = "UNKNOWN_ERROR"
	ErrorInFlight   ErrorCode = "SUBMISSION_IN_FLIGHT"
	ErrorInternal   ErrorCode = "INTERNAL_ERROR"
)

const unknownErrorMessage = "An unknown error occurred."

type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, message string, err error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Err: err}
}

// AsError converts any failure into an *Error. Errors that did not originate
// from a known stage become ErrorUnknown with the generic message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(ErrorUnknown, "unexpected_error", unknownErrorMessage, err)
}

// CodeOf returns the failure kind of err, or "" for nil.
func CodeOf(err error) ErrorCode {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

// UserMessage is the text shown in place of the expected result.
func UserMessage(err error) string {
	e := AsError(err)
	if e == nil || e.Message == "" {
		return unknownErrorMessage
	}
	return e.Message
}
