package shard_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/shardbank/internal/adapter/http/handler"
	"github.com/iho/shardbank/internal/cluster"
	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
	redisinfra "github.com/iho/shardbank/internal/infrastructure/redis"
	"github.com/iho/shardbank/internal/shard"
	"github.com/iho/shardbank/internal/shard/mocks"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func singleNodeCluster(t *testing.T) *cluster.Context {
	t.Helper()

	ctx, err := cluster.New(cluster.Config{
		SelfAddr: "http://127.0.0.1:8080",
		Members: []cluster.Node{
			{Name: "node-1", Addr: "http://127.0.0.1:8080"},
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	return ctx
}

func newTestRouter(t *testing.T, cc *cluster.Context, log eventlog.Log, transport shard.CommandTransport) *shard.Router {
	t.Helper()

	router := shard.NewRouter(shard.Config{
		Cluster:         cc,
		Log:             log,
		Rules:           domain.DefaultRules(),
		Transport:       transport,
		Metrics:         metrics.NewWith(prometheus.NewRegistry()),
		IdleTimeout:     time.Minute,
		DispatchTimeout: 100 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = router.Run(runCtx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return router
}

func TestRouter_OpenThenReopenIsRejected(t *testing.T) {
	log := eventlog.NewMemoryLog()
	router := newTestRouter(t, singleNodeCluster(t), log, nil)
	ctx := context.Background()

	ack, err := router.Dispatch(ctx, domain.OpenNewAccount{
		AccountID:      "acc-1",
		OpeningBalance: dec("509.23"),
	})
	require.NoError(t, err)
	require.True(t, ack.Handled)
	require.True(t, ack.Accepted)

	// The is-new precondition: a second open is handled but emits nothing.
	ack, err = router.Dispatch(ctx, domain.OpenNewAccount{
		AccountID:      "acc-1",
		OpeningBalance: dec("1.00"),
	})
	require.NoError(t, err)
	require.True(t, ack.Handled)
	require.False(t, ack.Accepted)
	require.NotEmpty(t, ack.Reason)

	records, err := log.ReadFrom(ctx, "acc-1", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestRouter_TransferEmitsSentThenFee(t *testing.T) {
	log := eventlog.NewMemoryLog()
	router := newTestRouter(t, singleNodeCluster(t), log, nil)
	ctx := context.Background()

	_, err := router.Dispatch(ctx, domain.OpenNewAccount{
		AccountID:      "acc-a",
		OpeningBalance: dec("509.23"),
	})
	require.NoError(t, err)

	ack, err := router.Dispatch(ctx, domain.TransferMoney{
		AccountID: "acc-a",
		Transaction: domain.Transaction{
			ID:         "tx-1",
			SenderID:   "acc-a",
			ReceiverID: "acc-b",
			Amount:     dec("125.23"),
		},
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	records, err := log.ReadFrom(ctx, "acc-a", 1)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, domain.EventMoneySent, records[1].Kind)
	require.Equal(t, domain.EventFeesDeducted, records[2].Kind)

	events, err := eventlog.DecodeAll(records)
	require.NoError(t, err)

	state, err := domain.Rehydrate(events)
	require.NoError(t, err)
	require.True(t, state.Balance.Equal(dec("383.75")), "balance = %s", state.Balance)
}

func TestRouter_RehydratesFromStoredHistory(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()

	// History written by a previous (evicted) incarnation.
	_, err := log.Append(ctx, "acc-a", 0, []domain.Event{
		domain.AccountOpened{OpeningBalance: dec("50")},
	})
	require.NoError(t, err)

	router := newTestRouter(t, singleNodeCluster(t), log, nil)

	// Rejecting an overdraw proves the instance folded the stored
	// balance instead of starting empty.
	ack, err := router.Dispatch(ctx, domain.TransferMoney{
		AccountID: "acc-a",
		Transaction: domain.Transaction{
			ID:         "tx-1",
			SenderID:   "acc-a",
			ReceiverID: "acc-b",
			Amount:     dec("60"),
		},
	})
	require.NoError(t, err)
	require.True(t, ack.Handled)
	require.False(t, ack.Accepted)

	ack, err = router.Dispatch(ctx, domain.TransferMoney{
		AccountID: "acc-a",
		Transaction: domain.Transaction{
			ID:         "tx-2",
			SenderID:   "acc-a",
			ReceiverID: "acc-b",
			Amount:     dec("40"),
		},
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)
}

func TestRouter_ConcurrentTransfersAreSerialized(t *testing.T) {
	log := eventlog.NewMemoryLog()
	router := newTestRouter(t, singleNodeCluster(t), log, nil)
	ctx := context.Background()

	_, err := router.Dispatch(ctx, domain.OpenNewAccount{
		AccountID:      "acc-a",
		OpeningBalance: dec("100"),
	})
	require.NoError(t, err)

	// Each transfer fits alone but together they exceed the balance.
	// Per-id serialization must accept exactly one.
	const workers = 2

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ack, err := router.Dispatch(ctx, domain.TransferMoney{
				AccountID: "acc-a",
				Transaction: domain.Transaction{
					ID:         fmt.Sprintf("tx-%d", i),
					SenderID:   "acc-a",
					ReceiverID: "acc-b",
					Amount:     dec("70"),
				},
			})

			mu.Lock()
			defer mu.Unlock()

			require.NoError(t, err)
			if ack.Accepted {
				accepted++
			} else {
				rejected++
			}
		}(i)
	}

	wg.Wait()

	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)

	records, err := log.ReadFrom(ctx, "acc-a", 1)
	require.NoError(t, err)
	// open + one accepted transfer's two events
	require.Len(t, records, 3)
}

func twoNodeCluster(t *testing.T) *cluster.Context {
	t.Helper()

	ctx, err := cluster.New(cluster.Config{
		SelfAddr: "http://127.0.0.1:8081",
		Members: []cluster.Node{
			{Name: "node-a", Addr: "http://127.0.0.1:8081"},
			{Name: "node-b", Addr: "http://127.0.0.1:8082"},
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	return ctx
}

// remoteAccountID finds an aggregate id this node does not own.
func remoteAccountID(t *testing.T, cc *cluster.Context) string {
	t.Helper()

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("acc-%d", i)
		if !cc.IsLocal(id) {
			return id
		}
	}

	t.Fatal("no remote aggregate id found")
	return ""
}

func TestRouter_ForwardsToOwningNode(t *testing.T) {
	ctrl := gomock.NewController(t)
	cc := twoNodeCluster(t)
	id := remoteAccountID(t, cc)

	transport := mocks.NewMockCommandTransport(ctrl)
	transport.EXPECT().
		Forward(gomock.Any(), cluster.Node{Name: "node-b", Addr: "http://127.0.0.1:8082"}, gomock.Any()).
		Return(shard.Ack{Handled: true, Accepted: true}, nil)

	router := newTestRouter(t, cc, eventlog.NewMemoryLog(), transport)

	ack, err := router.Dispatch(context.Background(), domain.OpenNewAccount{
		AccountID:      id,
		OpeningBalance: dec("10"),
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)
}

func TestRouter_UnreachableOwnerIsRoutingUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	cc := twoNodeCluster(t)
	id := remoteAccountID(t, cc)

	transport := mocks.NewMockCommandTransport(ctrl)
	transport.EXPECT().
		Forward(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(shard.Ack{}, errors.New("connection refused")).
		MinTimes(1)

	router := newTestRouter(t, cc, eventlog.NewMemoryLog(), transport)

	_, err := router.Dispatch(context.Background(), domain.OpenNewAccount{
		AccountID:      id,
		OpeningBalance: dec("10"),
	})
	require.ErrorIs(t, err, shard.ErrRoutingUnavailable)
}

func TestRouter_EvictsIdleInstancesSafely(t *testing.T) {
	log := eventlog.NewMemoryLog()
	cc := singleNodeCluster(t)

	router := shard.NewRouter(shard.Config{
		Cluster:     cc,
		Log:         log,
		Rules:       domain.DefaultRules(),
		Metrics:     metrics.NewWith(prometheus.NewRegistry()),
		IdleTimeout: 10 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = router.Run(runCtx)
	}()

	defer func() {
		cancel()
		<-done
	}()

	ctx := context.Background()

	_, err := router.Dispatch(ctx, domain.OpenNewAccount{
		AccountID:      "acc-a",
		OpeningBalance: dec("100"),
	})
	require.NoError(t, err)

	// The sweep runs at a 1s floor; wait for it to pass.
	time.Sleep(1200 * time.Millisecond)

	// Eviction lost nothing: the next command rehydrates and still sees
	// the opened state.
	ack, err := router.Dispatch(ctx, domain.OpenNewAccount{
		AccountID:      "acc-a",
		OpeningBalance: dec("1"),
	})
	require.NoError(t, err)
	require.True(t, ack.Handled)
	require.False(t, ack.Accepted)
}

// lossyTransport delivers envelopes to a real remote command endpoint but
// drops the first response for every command id, the failure mode where the
// remote already executed and the forwarder cannot know.
type lossyTransport struct {
	mu        sync.Mutex
	remote    *handler.CommandHandler
	calls     int
	responded map[string]bool
}

func (l *lossyTransport) Forward(_ context.Context, _ cluster.Node, env domain.CommandEnvelope) (shard.Ack, error) {
	l.mu.Lock()
	l.calls++
	drop := !l.responded[env.CommandID]
	l.responded[env.CommandID] = true
	l.mu.Unlock()

	body, err := json.Marshal(env)
	if err != nil {
		return shard.Ack{}, err
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/commands", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	l.remote.Receive(rec, req)

	if rec.Code != http.StatusOK {
		return shard.Ack{}, fmt.Errorf("remote returned %d", rec.Code)
	}

	if drop {
		return shard.Ack{}, errors.New("response lost")
	}

	var ack shard.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		return shard.Ack{}, err
	}

	return ack, nil
}

func (l *lossyTransport) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.calls
}

func TestRouter_RetriedForwardDoesNotReexecute(t *testing.T) {
	log := eventlog.NewMemoryLog()
	cc := twoNodeCluster(t)
	id := remoteAccountID(t, cc)
	ctx := context.Background()

	remoteCC, err := cluster.New(cluster.Config{
		SelfAddr: "http://127.0.0.1:8082",
		Members: []cluster.Node{
			{Name: "node-a", Addr: "http://127.0.0.1:8081"},
			{Name: "node-b", Addr: "http://127.0.0.1:8082"},
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	remoteRouter := newTestRouter(t, remoteCC, log, nil)

	mr := miniredis.RunT(t)
	acks := redisinfra.NewAckStore(redislib.NewClient(&redislib.Options{Addr: mr.Addr()}))
	remote := handler.NewCommandHandler(remoteRouter, acks, zerolog.Nop())

	transport := &lossyTransport{remote: remote, responded: make(map[string]bool)}

	// The default backoff waits around half a second before the first
	// retry; the helper's short dispatch timeout would give up before
	// then.
	router := shard.NewRouter(shard.Config{
		Cluster:         cc,
		Log:             log,
		Rules:           domain.DefaultRules(),
		Transport:       transport,
		Metrics:         metrics.NewWith(prometheus.NewRegistry()),
		IdleTimeout:     time.Minute,
		DispatchTimeout: 3 * time.Second,
		Logger:          zerolog.Nop(),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	routerDone := make(chan struct{})

	go func() {
		defer close(routerDone)
		_ = router.Run(runCtx)
	}()

	t.Cleanup(func() {
		cancel()
		<-routerDone
	})

	_, err = remoteRouter.DispatchLocal(ctx, domain.OpenNewAccount{
		AccountID:      id,
		OpeningBalance: dec("100"),
	})
	require.NoError(t, err)

	ack, err := router.Dispatch(ctx, domain.TransferMoney{
		AccountID: id,
		Transaction: domain.Transaction{
			ID:         "tx-1",
			SenderID:   id,
			ReceiverID: "acc-receiver",
			Amount:     dec("40"),
		},
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	require.GreaterOrEqual(t, transport.callCount(), 2)

	// One open, one money.sent, one fees.deducted; the redelivered
	// transfer must not have debited again.
	records, err := log.ReadFrom(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, records, 3)

	sent := 0
	for _, rec := range records {
		if rec.Kind == domain.EventMoneySent {
			sent++
		}
	}
	require.Equal(t, 1, sent)
}
