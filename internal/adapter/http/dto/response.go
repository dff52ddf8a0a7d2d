package dto

import (
	"github.com/shopspring/decimal"

	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/projection"
)

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Opened  bool            `json:"opened"`
	Version int64           `json:"version"`
}

// AccountFromState converts a rehydrated account state to a response.
func AccountFromState(id string, s domain.AccountState) *AccountResponse {
	return &AccountResponse{
		ID:      id,
		Balance: s.Balance,
		Opened:  s.Opened,
		Version: s.Version,
	}
}

// TransferResponse represents an initiated transfer in API responses. The
// credit leg settles asynchronously, so acceptance means the debit was
// recorded, not that the receiver has the money yet.
type TransferResponse struct {
	TransactionID string          `json:"transaction_id"`
	SenderID      string          `json:"sender_id"`
	ReceiverID    string          `json:"receiver_id"`
	Amount        decimal.Decimal `json:"amount"`
	Accepted      bool            `json:"accepted"`
	Reason        string          `json:"reason,omitempty"`
}

// RevenueResponse represents the projected fee income.
type RevenueResponse struct {
	Total decimal.Decimal `json:"total"`
	Count int64           `json:"count"`
}

// RevenueFromProjection converts the projection read model to a response.
func RevenueFromProjection(r projection.Revenue) *RevenueResponse {
	return &RevenueResponse{Total: r.Total, Count: r.Count}
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
