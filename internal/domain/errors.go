package domain

import (
	"errors"
	"fmt"
)

// Fault categories. Specific errors wrap one of these so callers classify with errors.Is.
var (
	ErrValidation    = errors.New("validation fault")
	ErrDataIntegrity = errors.New("data integrity fault")
	ErrTransient     = errors.New("transient fault")
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrUnbalancedTransfer = fmt.Errorf("%w: unbalanced transfer", ErrValidation)
	ErrEmptyTransfer      = fmt.Errorf("%w: transfer has no legs", ErrValidation)
	ErrCurrencyMismatch   = fmt.Errorf("%w: currency mismatch", ErrValidation)
	ErrAmountPrecision    = fmt.Errorf("%w: amount exceeds %d decimal places", ErrValidation, Scale)
	ErrMissingTransferID  = fmt.Errorf("%w: transfer id required", ErrValidation)
	ErrMalformedCommand   = fmt.Errorf("%w: malformed command", ErrValidation)
)

// MissingAccount reports an account that must exist but does not.
func MissingAccount(what string, id any) error {
	return fmt.Errorf("%w: %s %v: %w", ErrDataIntegrity, what, id, ErrAccountNotFound)
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
