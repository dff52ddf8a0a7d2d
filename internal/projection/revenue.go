// Package projection holds read models derived from the event stream. The
// revenue projection is a cluster singleton: exactly one node folds fee
// events at a time, its placement decided by a lease rather than by any
// fixed assignment.
package projection

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
)

// LeaseKey is the cluster-wide lease guarding the revenue singleton.
const LeaseKey = "singleton:revenue"

// Elector signals whether this node currently holds the singleton lease.
// cluster.Lease satisfies it.
type Elector interface {
	Keep(ctx context.Context) <-chan bool
	Holder(ctx context.Context) (string, error)
}

// Revenue is the projected fee income.
type Revenue struct {
	Total decimal.Decimal `json:"total"`
	Count int64           `json:"count"`
}

// Config configures the revenue projector.
type Config struct {
	Log     eventlog.Reader
	Elector Elector
	Metrics *metrics.Metrics

	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Projector maintains the revenue read model on whichever node holds the
// lease. The model lives in memory only: a newly promoted node rebuilds it
// by replaying every fee event from the start of the log, so a failover
// loses no revenue.
type Projector struct {
	cfg Config

	mu      sync.RWMutex
	total   decimal.Decimal
	count   int64
	leading bool

	subCancel context.CancelFunc
	subDone   chan struct{}
}

// New creates a Projector.
func New(cfg Config) *Projector {
	return &Projector{
		cfg:   cfg,
		total: decimal.Zero,
	}
}

// Run follows lease ownership until the context is cancelled, folding fee
// events while this node is the holder and standing idle otherwise.
func (p *Projector) Run(ctx context.Context) error {
	transitions := p.cfg.Elector.Keep(ctx)

	defer p.demote()

	for {
		select {
		case <-ctx.Done():
			return nil
		case leading, ok := <-transitions:
			if !ok {
				return nil
			}

			if leading {
				p.promote(ctx)
			} else {
				p.demote()
			}
		}
	}
}

// promote resets the model and starts a full replay of fee events. The
// projector reports totals while still catching up; they converge once the
// subscription reaches the live head.
func (p *Projector) promote(ctx context.Context) {
	p.mu.Lock()
	if p.leading {
		p.mu.Unlock()
		return
	}

	p.total = decimal.Zero
	p.count = 0
	p.leading = true
	p.mu.Unlock()

	p.cfg.Metrics.ProjectionFailovers.Inc()
	p.cfg.Logger.Info().Msg("revenue projection promoted, replaying fee history")

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.subCancel = cancel
	p.subDone = done

	sub := eventlog.NewSubscription(p.cfg.Log, eventlog.SubscriptionConfig{
		Name:         "revenue-projection",
		Kinds:        []string{domain.EventFeesDeducted},
		PollInterval: p.cfg.PollInterval,
		Logger:       p.cfg.Logger,
	})

	go func() {
		defer close(done)

		if err := sub.Run(subCtx, p.apply); err != nil && subCtx.Err() == nil {
			p.cfg.Logger.Error().Err(err).Msg("revenue projection stream stopped")
		}
	}()
}

func (p *Projector) demote() {
	if p.subCancel != nil {
		p.subCancel()
		<-p.subDone
		p.subCancel = nil
		p.subDone = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.leading {
		return
	}

	p.leading = false
	p.total = decimal.Zero
	p.count = 0

	p.cfg.Logger.Info().Msg("revenue projection demoted")
}

func (p *Projector) apply(_ context.Context, rec eventlog.Record) error {
	event, err := rec.Decode()
	if err != nil {
		return err
	}

	fee, ok := event.(domain.FeesDeducted)
	if !ok {
		return nil
	}

	p.mu.Lock()
	p.total = p.total.Add(fee.Amount)
	p.count++
	p.mu.Unlock()

	p.cfg.Metrics.ProjectionFeeEvents.Inc()

	return nil
}

// Revenue returns the projected totals and whether this node is the
// singleton holder. Callers on non-holder nodes forward the query instead
// of serving the zero value.
func (p *Projector) Revenue() (Revenue, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Revenue{Total: p.total, Count: p.count}, p.leading
}

// HolderAddr returns the advertised address of the current singleton
// holder, or "" when the lease is free.
func (p *Projector) HolderAddr(ctx context.Context) (string, error) {
	return p.cfg.Elector.Holder(ctx)
}
