// Package errors provides shared error helpers for toolwire; it does not depend on internal packages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Raising is reserved for programmer errors; everything the
// model produces is reported as a diagnostic instead.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidArg    = errors.New("invalid argument")
	ErrNilSchema     = errors.New("nil tool schema")
	ErrNilInvocation = errors.New("nil tool invocation")
	ErrUnrepairable  = errors.New("unrepairable json")
)

// Wrap annotates err with msg. Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
