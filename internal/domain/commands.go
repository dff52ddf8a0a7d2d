package domain

import "github.com/shopspring/decimal"

// Command kinds
const (
	CommandOpenNewAccount = "open_new_account"
	CommandTransferMoney  = "transfer_money"
	CommandReceiveMoney   = "receive_money"
)

// Command is an intent addressed to a single account aggregate. Commands are
// never persisted; only the events they emit are. The set is closed and
// dispatched with an exhaustive type switch.
type Command interface {
	AggregateID() string
	CommandKind() string
}

// OpenNewAccount opens an account with an opening balance.
type OpenNewAccount struct {
	AccountID      string          `json:"account_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

func (c OpenNewAccount) AggregateID() string { return c.AccountID }
func (c OpenNewAccount) CommandKind() string { return CommandOpenNewAccount }

// TransferMoney initiates the debit leg of a transfer on the sender account.
type TransferMoney struct {
	AccountID   string      `json:"account_id"`
	Transaction Transaction `json:"transaction"`
}

func (c TransferMoney) AggregateID() string { return c.AccountID }
func (c TransferMoney) CommandKind() string { return CommandTransferMoney }

// ReceiveMoney applies the credit leg of a transfer on the receiver account.
// Only the transfer saga issues this command.
type ReceiveMoney struct {
	AccountID   string      `json:"account_id"`
	Transaction Transaction `json:"transaction"`
}

func (c ReceiveMoney) AggregateID() string { return c.AccountID }
func (c ReceiveMoney) CommandKind() string { return CommandReceiveMoney }
