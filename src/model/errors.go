package model

import "github.com/pkg/errors"

// Error classes. Concrete failures wrap one of these so callers can branch with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrPrecondition = errors.New("precondition failed")
	ErrExternal     = errors.New("external service error")

	// ErrExecution marks a transaction that landed but failed on-chain.
	ErrExecution = errors.New("transaction execution failed")

	ErrFeeBatchFailed = errors.New("fee transaction failed after maximum retries")
	ErrCancelled      = errors.New("airdrop cancelled")
)

// Validationf returns an ErrValidation carrying a formatted message.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Preconditionf returns an ErrPrecondition carrying a formatted message.
func Preconditionf(format string, args ...any) error {
	return errors.Wrapf(ErrPrecondition, format, args...)
}
