package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRehydrate(t *testing.T) {
	tx := Transaction{
		ID:         "tx-1",
		SenderID:   "acc-a",
		ReceiverID: "acc-b",
		Amount:     dec("125.23"),
	}

	tests := []struct {
		name        string
		events      []Event
		wantBalance decimal.Decimal
		wantOpened  bool
		wantVersion int64
	}{
		{
			name:        "empty history",
			events:      nil,
			wantBalance: decimal.Zero,
			wantOpened:  false,
			wantVersion: 0,
		},
		{
			name:        "opened account",
			events:      []Event{AccountOpened{OpeningBalance: dec("509.23")}},
			wantBalance: dec("509.23"),
			wantOpened:  true,
			wantVersion: 1,
		},
		{
			name: "sender after transfer and fee",
			events: []Event{
				AccountOpened{OpeningBalance: dec("509.23")},
				MoneySent{Transaction: tx},
				FeesDeducted{Amount: dec("0.25")},
			},
			wantBalance: dec("383.75"),
			wantOpened:  true,
			wantVersion: 3,
		},
		{
			name: "receiver after credit",
			events: []Event{
				AccountOpened{OpeningBalance: dec("30.45")},
				MoneyReceived{Transaction: tx},
			},
			wantBalance: dec("155.68"),
			wantOpened:  true,
			wantVersion: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := Rehydrate(tt.events)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !state.Balance.Equal(tt.wantBalance) {
				t.Errorf("balance = %s, want %s", state.Balance, tt.wantBalance)
			}

			if state.Opened != tt.wantOpened {
				t.Errorf("opened = %v, want %v", state.Opened, tt.wantOpened)
			}

			if state.Version != tt.wantVersion {
				t.Errorf("version = %d, want %d", state.Version, tt.wantVersion)
			}
		})
	}
}

func TestRehydrate_ReplayIsIdempotent(t *testing.T) {
	events := []Event{
		AccountOpened{OpeningBalance: dec("100")},
		MoneyReceived{Transaction: Transaction{ID: "tx-1", Amount: dec("10")}},
		MoneySent{Transaction: Transaction{ID: "tx-2", Amount: dec("5")}},
		FeesDeducted{Amount: dec("0.25")},
	}

	first, err := Rehydrate(events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := Rehydrate(events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.Balance.Equal(second.Balance) || first.Opened != second.Opened || first.Version != second.Version {
		t.Errorf("replay diverged: %+v vs %+v", first, second)
	}
}

type bogusEvent struct{}

func (bogusEvent) Kind() string { return "bogus" }

func TestApply_UnknownEventFails(t *testing.T) {
	state := NewAccountState()

	if _, err := state.Apply(bogusEvent{}); err == nil {
		t.Fatal("expected error for unknown event, got nil")
	}
}

func TestUnmarshalEvent_UnknownKind(t *testing.T) {
	_, err := UnmarshalEvent("account.frozen", []byte(`{}`))
	if err == nil {
		t.Fatal("expected ErrUnknownEvent, got nil")
	}
}
