package models

import (
	"errors"
	"fmt"
)

// ErrInvalidMonitor is matched by every monitor configuration error.
var ErrInvalidMonitor = errors.New("invalid monitor configuration")

// ValidationError describes a monitor field that violates an invariant
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid monitor: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is makes every ValidationError match ErrInvalidMonitor.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidMonitor
}
