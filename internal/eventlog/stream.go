package eventlog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Handler processes one record from a subscription. Returning an error keeps
// the subscription at the same offset, so the record is redelivered;
// handlers must tolerate at-least-once delivery.
type Handler func(ctx context.Context, rec Record) error

// SubscriptionConfig configures a Subscription.
type SubscriptionConfig struct {
	// Name identifies the consumer in logs.
	Name string
	// Kinds filters the feed; empty means every kind.
	Kinds []string
	// AfterGlobalSeq is the offset to resume after, 0 for the beginning.
	AfterGlobalSeq int64
	// PollInterval is the idle wait between catch-up passes.
	PollInterval time.Duration
	// BatchSize bounds one read.
	BatchSize int
	// OnCaughtUp is invoked once, the first time the subscription reaches
	// the live head of the feed.
	OnCaughtUp func()

	Logger zerolog.Logger
}

// Subscription is a lazy, ordered, restartable-by-offset consumer of the
// event feed, built by polling ReadGlobal the same way the outbox publisher
// polls unpublished events.
type Subscription struct {
	reader   Reader
	cfg      SubscriptionConfig
	offset   int64
	caughtUp bool
}

// NewSubscription creates a subscription positioned after cfg.AfterGlobalSeq.
func NewSubscription(reader Reader, cfg SubscriptionConfig) *Subscription {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &Subscription{
		reader: reader,
		cfg:    cfg,
		offset: cfg.AfterGlobalSeq,
	}
}

// Offset returns the global sequence of the last handled record.
func (s *Subscription) Offset() int64 {
	return s.offset
}

// Run delivers records to h until the context is cancelled. The offset only
// advances after h returns nil, so a failed handler sees the record again.
func (s *Subscription) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.drain(ctx, h); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.cfg.Logger.Info().Str("consumer", s.cfg.Name).Msg("subscription stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain processes batches until the feed's live head is reached.
func (s *Subscription) drain(ctx context.Context, h Handler) error {
	for {
		records, err := s.read(ctx)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if err := h(ctx, rec); err != nil {
				s.cfg.Logger.Error().Err(err).
					Str("consumer", s.cfg.Name).
					Int64("global_seq", rec.GlobalSeq).
					Str("kind", rec.Kind).
					Msg("handler failed, record will be redelivered")

				return nil
			}

			s.offset = rec.GlobalSeq
		}

		if len(records) < s.cfg.BatchSize {
			s.markCaughtUp()
			return nil
		}
	}
}

// read fetches the next batch, retrying transient reader failures with
// exponential backoff.
func (s *Subscription) read(ctx context.Context) ([]Record, error) {
	var records []Record

	op := func() error {
		var err error
		records, err = s.reader.ReadGlobal(ctx, s.offset, s.cfg.Kinds, s.cfg.BatchSize)
		return err
	}

	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}

	return records, nil
}

func (s *Subscription) markCaughtUp() {
	if s.caughtUp {
		return
	}

	s.caughtUp = true
	if s.cfg.OnCaughtUp != nil {
		s.cfg.OnCaughtUp()
	}
}
