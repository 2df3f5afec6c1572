package spooler

import (
	"errors"
	"fmt"
)

// ErrorCode classifies spooler failures.
type ErrorCode string

const (
	CodeStorageUnavailable      ErrorCode = "STORAGE_UNAVAILABLE"
	CodeRecordCorrupt           ErrorCode = "RECORD_CORRUPT"
	CodeTransportFailure        ErrorCode = "TRANSPORT_FAILURE"
	CodeConfirmationReadFailure ErrorCode = "CONFIRMATION_READ_FAILURE"
	CodeInvalidConfig           ErrorCode = "INVALID_CONFIG"
)

// Error is a coded spooler error. Err, when set, is the underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether any error in err's chain is an *Error with code.
func IsCode(err error, code ErrorCode) bool {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

func newStorageUnavailable(dir string, err error) *Error {
	return &Error{Code: CodeStorageUnavailable, Message: fmt.Sprintf("crash directory %q not accessible", dir), Err: err}
}

func newRecordCorrupt(id string, err error) *Error {
	return &Error{Code: CodeRecordCorrupt, Message: fmt.Sprintf("record %s has no readable trace", id), Err: err}
}

func newTransportFailure(url string, err error) *Error {
	return &Error{Code: CodeTransportFailure, Message: fmt.Sprintf("post %s", url), Err: err}
}

func newConfirmationReadFailure(err error) *Error {
	return &Error{Code: CodeConfirmationReadFailure, Message: "confirmed record list unreadable", Err: err}
}

func newInvalidConfig(msg string) *Error {
	return &Error{Code: CodeInvalidConfig, Message: msg}
}
