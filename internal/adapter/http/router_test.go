package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/shardbank/internal/adapter/http/dto"
	"github.com/iho/shardbank/internal/adapter/http/handler"
	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
	redisinfra "github.com/iho/shardbank/internal/infrastructure/redis"
	"github.com/iho/shardbank/internal/projection"
	"github.com/iho/shardbank/internal/shard"
)

// logDispatcher decides commands against the in-memory log, standing in for
// the full shard router.
type logDispatcher struct {
	log   eventlog.Log
	rules domain.Rules
}

func (d *logDispatcher) execute(ctx context.Context, cmd domain.Command) (shard.Ack, error) {
	records, err := d.log.ReadFrom(ctx, cmd.AggregateID(), 1)
	if err != nil {
		return shard.Ack{}, err
	}

	events, err := eventlog.DecodeAll(records)
	if err != nil {
		return shard.Ack{}, err
	}

	state, err := domain.Rehydrate(events)
	if err != nil {
		return shard.Ack{}, err
	}

	emitted, err := d.rules.Decide(state, cmd)
	if err != nil {
		if domain.IsRuleRejection(err) {
			return shard.Ack{Handled: true, Reason: err.Error()}, nil
		}

		return shard.Ack{}, err
	}

	if _, err := d.log.Append(ctx, cmd.AggregateID(), state.Version, emitted); err != nil {
		return shard.Ack{}, err
	}

	return shard.Ack{Handled: true, Accepted: true}, nil
}

func (d *logDispatcher) Dispatch(ctx context.Context, cmd domain.Command) (shard.Ack, error) {
	return d.execute(ctx, cmd)
}

func (d *logDispatcher) DispatchLocal(ctx context.Context, cmd domain.Command) (shard.Ack, error) {
	return d.execute(ctx, cmd)
}

type projectorStub struct {
	revenue projection.Revenue
	leading bool
}

func (s *projectorStub) Revenue() (projection.Revenue, bool) {
	return s.revenue, s.leading
}

func (s *projectorStub) HolderAddr(context.Context) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T) (*httptest.Server, eventlog.Log) {
	t.Helper()

	log := eventlog.NewMemoryLog()
	dispatcher := &logDispatcher{log: log, rules: domain.DefaultRules()}

	mr := miniredis.RunT(t)
	acks := redisinfra.NewAckStore(redislib.NewClient(&redislib.Options{Addr: mr.Addr()}))

	router := NewRouter(RouterConfig{
		AccountHandler:  handler.NewAccountHandler(dispatcher, log, false),
		TransferHandler: handler.NewTransferHandler(dispatcher, false),
		RevenueHandler: handler.NewRevenueHandler(&projectorStub{
			revenue: projection.Revenue{Total: decimal.RequireFromString("0.25"), Count: 1},
			leading: true,
		}, "http://node-a:8080"),
		CommandHandler: handler.NewCommandHandler(dispatcher, acks, zerolog.Nop()),
		HealthHandler:  nil,
		Metrics:        metrics.NewWith(prometheus.NewRegistry()),
		Logger:         zerolog.Nop(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, log
}

func TestRouter_OpenTransferAndQueryFlow(t *testing.T) {
	server, _ := newTestServer(t)

	openBody, _ := json.Marshal(dto.OpenAccountRequest{
		OpeningBalance: decimal.RequireFromString("509.23"),
	})

	resp, err := http.Post(server.URL+"/api/v1/accounts", "application/json", bytes.NewReader(openBody))
	if err != nil {
		t.Fatalf("open sender: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var sender dto.AccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&sender); err != nil {
		t.Fatalf("decode sender: %v", err)
	}

	openBody, _ = json.Marshal(dto.OpenAccountRequest{
		OpeningBalance: decimal.RequireFromString("30.45"),
	})

	resp2, err := http.Post(server.URL+"/api/v1/accounts", "application/json", bytes.NewReader(openBody))
	if err != nil {
		t.Fatalf("open receiver: %v", err)
	}
	defer resp2.Body.Close()

	var receiver dto.AccountResponse
	if err := json.NewDecoder(resp2.Body).Decode(&receiver); err != nil {
		t.Fatalf("decode receiver: %v", err)
	}

	transferBody, _ := json.Marshal(dto.TransferRequest{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Amount:     decimal.RequireFromString("125.23"),
	})

	resp3, err := http.Post(server.URL+"/api/v1/transfers", "application/json", bytes.NewReader(transferBody))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	defer resp3.Body.Close()

	if resp3.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp3.StatusCode)
	}

	var transfer dto.TransferResponse
	if err := json.NewDecoder(resp3.Body).Decode(&transfer); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if !transfer.Accepted {
		t.Fatalf("expected transfer accepted, got reason %q", transfer.Reason)
	}

	resp4, err := http.Get(server.URL + "/api/v1/accounts/" + sender.ID)
	if err != nil {
		t.Fatalf("get sender: %v", err)
	}
	defer resp4.Body.Close()

	var state dto.AccountResponse
	if err := json.NewDecoder(resp4.Body).Decode(&state); err != nil {
		t.Fatalf("decode sender state: %v", err)
	}
	if !state.Balance.Equal(decimal.RequireFromString("383.75")) {
		t.Fatalf("expected sender balance 383.75, got %s", state.Balance)
	}
}

func TestRouter_RevenueEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/revenue")
	if err != nil {
		t.Fatalf("get revenue: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var revenue dto.RevenueResponse
	if err := json.NewDecoder(resp.Body).Decode(&revenue); err != nil {
		t.Fatalf("decode revenue: %v", err)
	}
	if revenue.Count != 1 {
		t.Fatalf("expected 1 fee event, got %d", revenue.Count)
	}
}

func TestRouter_InternalCommandEndpoint(t *testing.T) {
	server, log := newTestServer(t)

	id := domain.NewAccountID()
	_, err := log.Append(context.Background(), id, 0, []domain.Event{
		domain.AccountOpened{OpeningBalance: decimal.RequireFromString("30.45")},
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	env, err := domain.EncodeCommand(domain.ReceiveMoney{
		AccountID: id,
		Transaction: domain.NewTransaction(
			domain.NewAccountID(), id, decimal.RequireFromString("125.23"),
		),
	})
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}

	body, _ := json.Marshal(env)

	resp, err := http.Post(server.URL+"/internal/v1/commands", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("forward command: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var ack shard.Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Accepted {
		t.Fatalf("expected accepted ack, got %+v", ack)
	}

	records, err := log.ReadFrom(context.Background(), id, 1)
	if err != nil {
		t.Fatalf("read receiver: %v", err)
	}
	if len(records) != 2 || records[1].Kind != domain.EventMoneyReceived {
		t.Fatalf("expected money.received appended, got %d records", len(records))
	}
}
