package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNetwork = errors.New("network error")
	ErrFormat  = errors.New("format error")
	ErrFile    = errors.New("file error")
)

// Error ties a failed operation to one of the error kinds above.
type Error struct {
	Kind error  // One of ErrNetwork, ErrFormat, ErrFile
	Op   string // What was being done, e.g. "fetch events"
	Err  error  // Underlying cause
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NetworkError reports a request or response transport failure.
func NetworkError(op string, err error) error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

// FormatError reports data that could not be parsed.
func FormatError(op string, err error) error {
	return &Error{Kind: ErrFormat, Op: op, Err: err}
}

// FileError reports a local file that could not be read or written.
func FileError(op string, err error) error {
	return &Error{Kind: ErrFile, Op: op, Err: err}
}
