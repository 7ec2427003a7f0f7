// Package storeerr defines the error taxonomy shared by every bookmark store
// operation.
//
// Errors carry a machine-readable Code and an optional remediation hint and
// can be matched with errors.Is against the package sentinels:
//
//	if errors.Is(err, storeerr.ErrLocked) {
//	    // ask the user to close the browser
//	}
package storeerr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Code is a machine-readable error category
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeLocked           Code = "locked"
	CodeCorrupt          Code = "corrupt"
	CodeInvalidStructure Code = "invalid_structure"
	CodePermissionDenied Code = "permission_denied"
	CodeValidation       Code = "validation_error"
	CodeUnsupported      Code = "unsupported"
	CodeInternal         Code = "internal"
)

// HintCloseOwner is the remediation for Locked errors
const HintCloseOwner = "close the owning process and retry"

// Error is a categorized store error
type Error struct {
	Code    Code
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrLocked           = &Error{Code: CodeLocked}
	ErrCorrupt          = &Error{Code: CodeCorrupt}
	ErrInvalidStructure = &Error{Code: CodeInvalidStructure}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrValidation       = &Error{Code: CodeValidation}
	ErrUnsupported      = &Error{Code: CodeUnsupported}
)

func newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not_found error
func NotFound(format string, args ...interface{}) *Error {
	return newf(CodeNotFound, format, args...)
}

// Locked returns a locked error carrying the close-the-owner hint
func Locked(format string, args ...interface{}) *Error {
	e := newf(CodeLocked, format, args...)
	e.Hint = HintCloseOwner
	return e
}

// Corrupt wraps a parse failure
func Corrupt(err error, format string, args ...interface{}) *Error {
	e := newf(CodeCorrupt, format, args...)
	e.Err = err
	return e
}

// InvalidStructure returns an invalid_structure error
func InvalidStructure(format string, args ...interface{}) *Error {
	return newf(CodeInvalidStructure, format, args...)
}

// Validation returns a validation_error
func Validation(format string, args ...interface{}) *Error {
	return newf(CodeValidation, format, args...)
}

// Unsupported returns an unsupported error
func Unsupported(format string, args ...interface{}) *Error {
	return newf(CodeUnsupported, format, args...)
}

// Wrap attaches a code to an arbitrary error
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	e := newf(code, format, args...)
	e.Err = err
	if code == CodeLocked {
		e.Hint = HintCloseOwner
	}
	return e
}

// FromFS classifies an error returned by the os package for path
func FromFS(err error, path string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Wrap(CodeNotFound, err, "store file not found: %s", path)
	case errors.Is(err, fs.ErrPermission), os.IsPermission(err):
		return Wrap(CodePermissionDenied, err, "access denied: %s", path)
	default:
		return Wrap(CodeInternal, err, "i/o error on %s", path)
	}
}

// CodeOf returns the code of err, CodeInternal for uncategorized errors and
// the empty code for nil
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// HintOf returns the remediation hint attached to err, if any
func HintOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Hint
	}
	return ""
}
