package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event kinds
const (
	EventAccountOpened = "account.opened"
	EventMoneySent     = "money.sent"
	EventFeesDeducted  = "fees.deducted"
	EventMoneyReceived = "money.received"
)

// Event is an immutable fact emitted by the account aggregate.
type Event interface {
	Kind() string
}

// AccountOpened records that an account was opened with a starting balance.
type AccountOpened struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

func (AccountOpened) Kind() string { return EventAccountOpened }

// MoneySent records the debit leg of a transfer on the sender account.
type MoneySent struct {
	Transaction Transaction `json:"transaction"`
}

func (MoneySent) Kind() string { return EventMoneySent }

// FeesDeducted records the flat fee taken from the sender. It always directly
// follows the MoneySent event of the same command; consumers rely on that
// order.
type FeesDeducted struct {
	Amount decimal.Decimal `json:"amount"`
}

func (FeesDeducted) Kind() string { return EventFeesDeducted }

// MoneyReceived records the credit leg of a transfer on the receiver account.
type MoneyReceived struct {
	Transaction Transaction `json:"transaction"`
}

func (MoneyReceived) Kind() string { return EventMoneyReceived }

// MarshalEvent serializes an event payload for storage.
func MarshalEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}

	return payload, nil
}

// UnmarshalEvent deserializes a stored event payload. A kind that is not
// recognized fails with ErrUnknownEvent; stored history must never be
// silently skipped.
func UnmarshalEvent(kind string, payload []byte) (Event, error) {
	var (
		e   Event
		err error
	)

	switch kind {
	case EventAccountOpened:
		var ev AccountOpened
		err = json.Unmarshal(payload, &ev)
		e = ev
	case EventMoneySent:
		var ev MoneySent
		err = json.Unmarshal(payload, &ev)
		e = ev
	case EventFeesDeducted:
		var ev FeesDeducted
		err = json.Unmarshal(payload, &ev)
		e = ev
	case EventMoneyReceived:
		var ev MoneyReceived
		err = json.Unmarshal(payload, &ev)
		e = ev
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}

	return e, nil
}
