package protocol

import (
	"errors"
	"fmt"
)

// ViolationError marks data that breaks the fabric's own contract: a
// duplicated ReadyForNext inside one slice, a missing required field, an
// empty entry point where one is guaranteed. Violations are fatal and are
// never retried.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return "protocol violation: " + e.Reason
}

// Violation builds a ViolationError.
func Violation(format string, args ...any) error {
	return &ViolationError{Reason: fmt.Sprintf(format, args...)}
}

// IsViolation reports whether err is (or wraps) a ViolationError.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}
