package domain

import (
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// NewAccountID generates a new account identifier.
func NewAccountID() string {
	return ulid.Make().String()
}

// NewTransactionID generates a new transaction identifier.
func NewTransactionID() string {
	return ulid.Make().String()
}

// Transaction correlates the debit and credit legs of one transfer, plus its
// fee. It is created once when the transfer is initiated and never mutated.
type Transaction struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// NewTransaction creates a transaction with a fresh identifier.
func NewTransaction(senderID, receiverID string, amount decimal.Decimal) Transaction {
	return Transaction{
		ID:         NewTransactionID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amount,
	}
}
