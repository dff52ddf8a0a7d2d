package dto

import (
	"github.com/shopspring/decimal"
)

// OpenAccountRequest represents a request to open an account.
type OpenAccountRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// TransferRequest represents a request to move money between accounts.
type TransferRequest struct {
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
}
