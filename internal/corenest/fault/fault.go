// Package fault defines the domain error taxonomy of the vault.
//
// Every failure an operation can report to a caller is one of the package
// level errors below.  Each carries a stable numeric code that external
// callers branch on; codes are never renumbered or reused.
package fault

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier surfaced to callers.
type Code uint32

const (
	CodeNoPermission Code = 101
	CodeNotFound     Code = 102
	CodeInvalidInput Code = 103
)

// Error is a domain failure.  Two *Error values match under errors.Is when
// their codes are equal, so wrapped copies with extra detail still compare
// equal to the package sentinels.
type Error struct {
	Code    Code
	Kind    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// keep in code order
var (
	ErrNoPermission = &Error{Code: CodeNoPermission, Kind: "no_permission", Message: "caller lacks permission"}
	ErrNotFound     = &Error{Code: CodeNotFound, Kind: "not_found", Message: "record not found"}
	ErrInvalidInput = &Error{Code: CodeInvalidInput, Kind: "invalid_input", Message: "invalid input"}
)

// Invalid returns an InvalidInput error with a specific message.
func Invalid(format string, args ...any) error {
	return &Error{
		Code:    CodeInvalidInput,
		Kind:    ErrInvalidInput.Kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// As extracts the domain error from err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// CodeOf returns the stable code for err, or 0 when err is not a domain fault.
func CodeOf(err error) Code {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return 0
}

// KindOf returns the kind string for err, or "" when err is not a domain fault.
func KindOf(err error) string {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// FromCode rebuilds a domain error received over the wire.  ok is false
// for codes this package does not define.
func FromCode(c Code, message string) (err *Error, ok bool) {
	for _, e := range []*Error{ErrNoPermission, ErrNotFound, ErrInvalidInput} {
		if e.Code == c {
			if message == "" {
				message = e.Message
			}
			return &Error{Code: c, Kind: e.Kind, Message: message}, true
		}
	}
	return nil, false
}
