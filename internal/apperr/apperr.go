// Package apperr defines the error taxonomy shared by the store, the
// management API, and the transports that sit on top of it.
//
// Every error carries a Kind (coarse class, used for errors.Is and status
// mapping) and a Code (stable, enumerable reason that transports can surface
// without parsing messages).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse class of an error.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindPersistence Kind = "persistence"
	KindValidation  Kind = "validation"
)

// Code is a stable reason code.
type Code string

const (
	InvalidSiteToken             Code = "InvalidSiteToken"
	InvalidZoneToken             Code = "InvalidZoneToken"
	InvalidHardwareID            Code = "InvalidHardwareId"
	InvalidDeviceAssignmentToken Code = "InvalidDeviceAssignmentToken"
	InvalidEventID               Code = "InvalidEventId"
	DuplicateHardwareID          Code = "DuplicateHardwareId"
	DeviceAlreadyAssigned        Code = "DeviceAlreadyAssigned"
	InvalidAssignmentState       Code = "InvalidAssignmentState"
	HardwareIDCanNotBeChanged    Code = "HardwareIdCanNotBeChanged"
	DuplicateKey                 Code = "DuplicateKey"
	WriteFailed                  Code = "WriteFailed"
	StoreUnavailable             Code = "StoreUnavailable"
	MalformedDocument            Code = "MalformedDocument"
	InvalidRequest               Code = "InvalidRequest"
	InvalidScriptID              Code = "InvalidScriptId"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind Kind
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind when the target carries no Code,
// and requires the Code to match otherwise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNotFound    = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict    = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrPersistence = &Error{Kind: KindPersistence, Msg: "persistence failure"}
	ErrValidation  = &Error{Kind: KindValidation, Msg: "validation failed"}
)

// NotFound builds a not-found error.
func NotFound(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error.
func Conflict(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a validation error.
func Validation(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store failure. Errors that already carry a Kind are
// returned unchanged so domain errors raised inside a transaction survive.
func Persistence(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindPersistence, Code: code, Msg: op, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// CodeOf returns the Code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
