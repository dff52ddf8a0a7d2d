// Package saga coordinates the two legs of a money transfer. The
// orchestrator owns no balances and mutates nothing itself: it reacts to
// MoneySent events by issuing the matching ReceiveMoney command, and retires
// its state when the MoneyReceived event for the same transaction arrives.
// Consistency across the two accounts is eventual, never atomic.
package saga

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
	"github.com/iho/shardbank/internal/shard"
)

// ConsumerName identifies the saga's stream checkpoint.
const ConsumerName = "transfer-saga"

// Phase is the lifecycle of one in-flight transfer.
type Phase string

const (
	PhaseAwaitingSent     Phase = "awaiting_sent"
	PhaseAwaitingReceived Phase = "awaiting_received"
	PhaseCompleted        Phase = "completed"
)

// Dispatcher issues follow-up commands; the shard router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) (shard.Ack, error)
}

// CheckpointStore persists the saga's stream offset across restarts.
type CheckpointStore interface {
	Get(ctx context.Context, consumer string) (int64, error)
	Set(ctx context.Context, consumer string, offset int64) error
}

// transferState is the saga state for one TransactionId. It exists from the
// first MoneySent observation until completion.
type transferState struct {
	transaction domain.Transaction
	phase       Phase
	enteredAt   time.Time
	dispatched  bool
}

// Config configures the Orchestrator.
type Config struct {
	Log         eventlog.Reader
	Dispatcher  Dispatcher
	Checkpoints CheckpointStore
	Metrics     *metrics.Metrics

	PollInterval time.Duration
	// StuckAfter is how long a transfer may sit awaiting its credit leg
	// before it counts as stuck. Stuck transfers are reported, not
	// auto-resolved; there is no compensation path.
	StuckAfter time.Duration

	Logger zerolog.Logger
}

// Orchestrator is the money transfer saga: one logical state machine per
// in-flight TransactionId, driven by the domain event stream.
type Orchestrator struct {
	cfg Config

	mu        sync.Mutex
	transfers map[string]*transferState
	live      bool
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.StuckAfter == 0 {
		cfg.StuckAfter = time.Minute
	}

	return &Orchestrator{
		cfg:       cfg,
		transfers: make(map[string]*transferState),
	}
}

// Run consumes the event stream until the context is cancelled. On start it
// replays from the last checkpoint to rebuild in-flight state; no commands
// are issued during that catch-up, so a restart never double-credits a
// transfer that already completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	offset, err := o.cfg.Checkpoints.Get(ctx, ConsumerName)
	if err != nil {
		return err
	}

	sub := eventlog.NewSubscription(o.cfg.Log, eventlog.SubscriptionConfig{
		Name:           ConsumerName,
		Kinds:          []string{domain.EventMoneySent, domain.EventMoneyReceived},
		AfterGlobalSeq: offset,
		PollInterval:   o.cfg.PollInterval,
		OnCaughtUp: func() {
			o.goLive(ctx)
		},
		Logger: o.cfg.Logger,
	})

	go o.sweepStuck(ctx)

	return sub.Run(ctx, o.handle)
}

func (o *Orchestrator) handle(ctx context.Context, rec eventlog.Record) error {
	event, err := rec.Decode()
	if err != nil {
		// A payload that does not decode will not decode on redelivery
		// either; returning the error would pin the subscription to
		// this offset forever. Skip it and let the counter surface it.
		o.cfg.Metrics.SagaPoisonRecords.Inc()
		o.cfg.Logger.Error().Err(err).
			Int64("global_seq", rec.GlobalSeq).
			Str("kind", rec.Kind).
			Str("aggregate_id", rec.AggregateID).
			Msg("undecodable record skipped")
	}

	switch e := event.(type) {
	case domain.MoneySent:
		o.onMoneySent(ctx, e.Transaction)
	case domain.MoneyReceived:
		o.onMoneyReceived(e.Transaction)
	}

	if err := o.cfg.Checkpoints.Set(ctx, ConsumerName, rec.GlobalSeq); err != nil {
		// Losing a checkpoint write only widens the replay window;
		// duplicate observations are already tolerated.
		o.cfg.Logger.Warn().Err(err).Msg("saga checkpoint write failed")
	}

	return nil
}

// onMoneySent starts a saga for an unseen transaction. Redelivered MoneySent
// events are detected by TransactionId and ignored: once the saga is past
// AwaitingSent it never issues ReceiveMoney again.
func (o *Orchestrator) onMoneySent(ctx context.Context, tx domain.Transaction) {
	o.mu.Lock()

	if _, ok := o.transfers[tx.ID]; ok {
		o.mu.Unlock()
		o.cfg.Logger.Debug().
			Str("transaction_id", tx.ID).
			Msg("duplicate money.sent ignored")

		return
	}

	// A saga conceptually starts at AwaitingSent; observing the sent event
	// is what creates it, so it moves on immediately.
	st := &transferState{
		transaction: tx,
		phase:       PhaseAwaitingReceived,
		enteredAt:   time.Now(),
	}

	o.transfers[tx.ID] = st
	o.cfg.Metrics.SagasActive.Set(float64(len(o.transfers)))

	live := o.live
	o.mu.Unlock()

	if live {
		o.issueReceive(ctx, st)
	}
}

func (o *Orchestrator) onMoneyReceived(tx domain.Transaction) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.transfers[tx.ID]
	if !ok {
		// Completed in a previous incarnation; the checkpoint just
		// had not advanced past the sent event yet.
		return
	}

	st.phase = PhaseCompleted
	delete(o.transfers, tx.ID)

	o.cfg.Metrics.SagasActive.Set(float64(len(o.transfers)))
	o.cfg.Metrics.SagasCompleted.Inc()

	o.cfg.Logger.Info().
		Str("transaction_id", tx.ID).
		Str("receiver_id", tx.ReceiverID).
		Msg("transfer completed")
}

// goLive runs once catch-up ends: transfers still awaiting their credit leg
// get their ReceiveMoney issued now, unless the log shows the credit already
// happened while we were replaying.
func (o *Orchestrator) goLive(ctx context.Context) {
	o.mu.Lock()
	o.live = true

	var pending []*transferState
	for _, st := range o.transfers {
		if st.phase == PhaseAwaitingReceived && !st.dispatched {
			pending = append(pending, st)
		}
	}
	o.mu.Unlock()

	for _, st := range pending {
		if o.creditExists(ctx, st.transaction) {
			o.onMoneyReceived(st.transaction)
			continue
		}

		o.issueReceive(ctx, st)
	}
}

// creditExists checks the receiver's history for an already-applied credit
// leg, closing the race between catch-up and an in-flight MoneyReceived.
func (o *Orchestrator) creditExists(ctx context.Context, tx domain.Transaction) bool {
	records, err := o.cfg.Log.ReadFrom(ctx, tx.ReceiverID, 1)
	if err != nil {
		return false
	}

	for _, rec := range records {
		if rec.Kind != domain.EventMoneyReceived {
			continue
		}

		event, err := rec.Decode()
		if err != nil {
			continue
		}

		if received, ok := event.(domain.MoneyReceived); ok && received.Transaction.ID == tx.ID {
			return true
		}
	}

	return false
}

// issueReceive dispatches the credit leg. A failed dispatch parks the
// transfer in AwaitingReceived; the stuck-transfer gauge reports it.
func (o *Orchestrator) issueReceive(ctx context.Context, st *transferState) {
	tx := st.transaction

	o.mu.Lock()
	if st.dispatched {
		o.mu.Unlock()
		return
	}
	st.dispatched = true
	o.mu.Unlock()

	o.cfg.Metrics.SagaCommandsIssued.Inc()

	_, err := o.cfg.Dispatcher.Dispatch(ctx, domain.ReceiveMoney{
		AccountID:   tx.ReceiverID,
		Transaction: tx,
	})
	if err != nil {
		o.cfg.Logger.Error().Err(err).
			Str("transaction_id", tx.ID).
			Str("receiver_id", tx.ReceiverID).
			Msg("receive_money dispatch failed, transfer parked awaiting credit")

		return
	}

	o.cfg.Logger.Info().
		Str("transaction_id", tx.ID).
		Str("receiver_id", tx.ReceiverID).
		Msg("credit leg issued")
}

// sweepStuck keeps the stuck-transfer gauge current.
func (o *Orchestrator) sweepStuck(ctx context.Context) {
	interval := o.cfg.StuckAfter / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.updateStuckGauge()
		}
	}
}

// updateStuckGauge recounts transfers that have sat awaiting their credit
// leg for longer than StuckAfter.
func (o *Orchestrator) updateStuckGauge() {
	o.mu.Lock()
	stuck := 0
	for _, st := range o.transfers {
		if st.phase == PhaseAwaitingReceived && time.Since(st.enteredAt) >= o.cfg.StuckAfter {
			stuck++
		}
	}
	o.mu.Unlock()

	o.cfg.Metrics.TransfersStuck.Set(float64(stuck))
}

// Active returns the number of in-flight transfers.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.transfers)
}
