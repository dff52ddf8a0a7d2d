package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountState is the current state of an account, derived only by folding
// its event history in log order. No balance is ever stored outside this
// fold.
type AccountState struct {
	Balance decimal.Decimal
	Opened  bool
	Version int64
}

// NewAccountState returns the empty state an account folds up from.
func NewAccountState() AccountState {
	return AccountState{Balance: decimal.Zero}
}

// Apply folds one event into the state. Applying is total for every known
// event kind; it never inspects preconditions, those belong to Decide.
func (s AccountState) Apply(e Event) (AccountState, error) {
	switch ev := e.(type) {
	case AccountOpened:
		s.Opened = true
		s.Balance = ev.OpeningBalance
	case MoneySent:
		s.Balance = s.Balance.Sub(ev.Transaction.Amount)
	case FeesDeducted:
		s.Balance = s.Balance.Sub(ev.Amount)
	case MoneyReceived:
		s.Balance = s.Balance.Add(ev.Transaction.Amount)
	default:
		return s, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}

	s.Version++

	return s, nil
}

// Rehydrate rebuilds state from an ordered event history. Folding the same
// history always yields the same state.
func Rehydrate(events []Event) (AccountState, error) {
	state := NewAccountState()

	for _, e := range events {
		next, err := state.Apply(e)
		if err != nil {
			return state, err
		}

		state = next
	}

	return state, nil
}
