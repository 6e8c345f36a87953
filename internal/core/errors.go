package core

import (
	"errors"
	"fmt"
)

// Failure kinds shared across the whole service. Callers classify failures
// with errors.Is against these sentinels; the concrete message carries the
// operation detail.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Wrapf attaches an operation-specific message to a failure kind.
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, kind)...)
}
