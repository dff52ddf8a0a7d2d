package domain

import "errors"

var (
	// Rehydration errors
	ErrUnknownEvent   = errors.New("unknown event kind in stored history")
	ErrUnknownCommand = errors.New("unknown command kind")

	// Business rule rejections
	ErrAlreadyOpened          = errors.New("account is already opened")
	ErrAccountNotOpened       = errors.New("account is not opened")
	ErrInsufficientBalance    = errors.New("insufficient balance for transfer")
	ErrBelowMinimumTransfer   = errors.New("transfer amount is below the configured minimum")
	ErrNonPositiveTransfer    = errors.New("transfer amount must be positive")
	ErrTransferToSameAccount  = errors.New("cannot transfer to the same account")
	ErrNegativeOpeningBalance = errors.New("opening balance cannot be negative")
)

// IsRuleRejection reports whether err is a business rule rejection: the
// command was understood but emitted no events. Rejections are not transport
// or storage failures, so a dispatcher may still acknowledge the command as
// handled.
func IsRuleRejection(err error) bool {
	switch {
	case errors.Is(err, ErrAlreadyOpened),
		errors.Is(err, ErrAccountNotOpened),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrBelowMinimumTransfer),
		errors.Is(err, ErrNonPositiveTransfer),
		errors.Is(err, ErrTransferToSameAccount),
		errors.Is(err, ErrNegativeOpeningBalance):
		return true
	}
	return false
}
