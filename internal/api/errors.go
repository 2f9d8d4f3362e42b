package api

import (
	"errors"
	"fmt"
)

// Code classifies an Error.
type Code string

const (
	UnknownCommand     Code = "UnknownCommand"
	Forbidden          Code = "Forbidden"
	UnknownPartition   Code = "UnknownPartition"
	BackendUnavailable Code = "BackendUnavailable"
	BackendError       Code = "BackendError"
	Timeout            Code = "Timeout"
	ResourceExhausted  Code = "ResourceExhausted"
	RebuildInProgress  Code = "RebuildInProgress"
	InvalidParams      Code = "InvalidParams"
	Internal           Code = "Internal"
)

// Error is the structured error carried in responses.
type Error struct {
	Code Code
	Msg  string
}

// Error returns a string version of the error.
func (e *Error) Error() string {
	return fmt.Sprintf("mympd: %s - %s", e.Code, e.Msg)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CanonicalCode returns the Code of err, or Internal if err does not wrap an
// *Error.
func CanonicalCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// AsError converts err into an *Error. Errors that do not wrap one are
// reported as Internal with the original message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Msg: err.Error()}
}

// Recoverable reports whether the caller may simply retry or correct the
// request without the partition changing state.
func (c Code) Recoverable() bool {
	switch c {
	case UnknownCommand, Forbidden, UnknownPartition, BackendUnavailable, RebuildInProgress, InvalidParams:
		return true
	default:
		return false
	}
}
