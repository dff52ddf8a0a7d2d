package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rules holds the configured business rule parameters for account commands.
type Rules struct {
	// MinTransferAmount is the smallest amount TransferMoney accepts.
	MinTransferAmount decimal.Decimal
	// TransferFee is the flat fee deducted from the sender on every
	// accepted transfer.
	TransferFee decimal.Decimal
}

// DefaultRules returns the standard rule parameters: transfers of at least
// one currency unit, with a flat 0.25 fee.
func DefaultRules() Rules {
	return Rules{
		MinTransferAmount: decimal.NewFromInt(1),
		TransferFee:       decimal.RequireFromString("0.25"),
	}
}

// Plain predicates over state and command, composed with && in Decide.

func accountIsNew(s AccountState) bool {
	return !s.Opened
}

func hasEnoughBalance(s AccountState, amount decimal.Decimal) bool {
	return s.Balance.GreaterThanOrEqual(amount)
}

func (r Rules) meetsMinimumAmount(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.MinTransferAmount)
}

// Decide is the pure decision function of the account aggregate: given
// current state and a command it returns the events to emit, or a rejection
// error and no events. It performs no I/O and has no side effects; the same
// (state, command) pair always decides the same way.
func (r Rules) Decide(s AccountState, cmd Command) ([]Event, error) {
	switch c := cmd.(type) {
	case OpenNewAccount:
		if !accountIsNew(s) {
			return nil, ErrAlreadyOpened
		}
		if c.OpeningBalance.IsNegative() {
			return nil, ErrNegativeOpeningBalance
		}

		return []Event{AccountOpened{OpeningBalance: c.OpeningBalance}}, nil

	case TransferMoney:
		tx := c.Transaction
		if !s.Opened {
			return nil, ErrAccountNotOpened
		}
		if tx.SenderID == tx.ReceiverID {
			return nil, ErrTransferToSameAccount
		}
		if !tx.Amount.IsPositive() {
			return nil, ErrNonPositiveTransfer
		}
		if !r.meetsMinimumAmount(tx.Amount) {
			return nil, ErrBelowMinimumTransfer
		}
		if !hasEnoughBalance(s, tx.Amount) {
			return nil, ErrInsufficientBalance
		}

		// The fee event must directly follow the sent event; the
		// revenue projection depends on this order.
		return []Event{
			MoneySent{Transaction: tx},
			FeesDeducted{Amount: r.TransferFee},
		}, nil

	case ReceiveMoney:
		// No precondition on the credit leg: the saga is the sole
		// originator and the debit leg was already validated.
		return []Event{MoneyReceived{Transaction: c.Transaction}}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}
