package shard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/shardbank/internal/cluster"
	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
)

// Config configures a Router.
type Config struct {
	Cluster   *cluster.Context
	Log       eventlog.Log
	Rules     domain.Rules
	Transport CommandTransport
	Metrics   *metrics.Metrics

	// IdleTimeout evicts instances that have not seen a command for this
	// long. Eviction never loses state: everything is derivable from the
	// event log.
	IdleTimeout time.Duration

	// DispatchTimeout bounds the retries of a proxy-mode forward.
	DispatchTimeout time.Duration

	Logger zerolog.Logger
}

// Router is the aggregate manager: the sole authority keeping one live
// instance per aggregate id, cluster-wide. Instances never talk to each
// other.
type Router struct {
	cfg Config

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool

	wg sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(cfg Config) *Router {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 5 * time.Second
	}

	return &Router{
		cfg:       cfg,
		instances: make(map[string]*instance),
	}
}

// Dispatch routes a command to the owning node and returns its
// acknowledgment. Delivery is at-least-once: a forward whose response was
// lost is retried under the same envelope command id, and the owning node
// answers the redelivery from its ack cache instead of executing twice.
func (r *Router) Dispatch(ctx context.Context, cmd domain.Command) (Ack, error) {
	owner := r.cfg.Cluster.OwnerOf(cmd.AggregateID())

	if owner.Addr == r.cfg.Cluster.Self().Addr {
		return r.DispatchLocal(ctx, cmd)
	}

	return r.forward(ctx, owner, cmd)
}

// DispatchLocal delivers a command to an instance on this node. Forwarded
// commands land here on the owning node.
func (r *Router) DispatchLocal(ctx context.Context, cmd domain.Command) (Ack, error) {
	for {
		inst, err := r.instanceFor(cmd.AggregateID())
		if err != nil {
			return Ack{}, err
		}

		ack, ok, err := inst.deliver(ctx, cmd)
		if err != nil {
			r.observe(cmd, "error")
			return Ack{}, err
		}

		if !ok {
			// The instance terminated before taking the command;
			// retry against a fresh one.
			continue
		}

		switch {
		case ack.Accepted:
			r.observe(cmd, "accepted")
		case ack.Handled:
			r.observe(cmd, "rejected")
		}

		return ack, nil
	}
}

// forward proxies the command to its owning node, retrying transient
// transport failures with exponential backoff until DispatchTimeout. The
// envelope is encoded once, so every retry carries the same command id and
// the receiver can tell a redelivery from a new command.
func (r *Router) forward(ctx context.Context, owner cluster.Node, cmd domain.Command) (Ack, error) {
	env, err := domain.EncodeCommand(cmd)
	if err != nil {
		return Ack{}, err
	}

	var ack Ack

	op := func() error {
		var ferr error
		ack, ferr = r.cfg.Transport.Forward(ctx, owner, env)
		return ferr
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.cfg.DispatchTimeout

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		r.cfg.Metrics.RoutingErrors.Inc()
		r.cfg.Logger.Warn().Err(err).
			Str("aggregate_id", cmd.AggregateID()).
			Str("node", owner.Name).
			Msg("forward failed")

		return Ack{}, fmt.Errorf("%w: %s: %v", ErrRoutingUnavailable, owner.Name, err)
	}

	r.cfg.Metrics.CommandsForwarded.Inc()

	return ack, nil
}

// Run sweeps idle instances until the context is cancelled, then shuts every
// instance down.
func (r *Router) Run(ctx context.Context) error {
	interval := r.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Router) instanceFor(id string) (*instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}

	if inst, ok := r.instances[id]; ok {
		return inst, nil
	}

	inst := newInstance(id, r)
	r.instances[id] = inst
	r.cfg.Metrics.AggregatesLive.Set(float64(len(r.instances)))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		inst.run()
	}()

	return inst, nil
}

// remove drops an instance from the table; called by the instance itself on
// the way out.
func (r *Router) remove(id string, inst *instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.instances[id]; ok && current == inst {
		delete(r.instances, id)
		r.cfg.Metrics.AggregatesLive.Set(float64(len(r.instances)))
	}
}

func (r *Router) evictIdle() {
	r.mu.Lock()
	var idle []*instance
	for _, inst := range r.instances {
		if inst.idleFor(r.cfg.IdleTimeout) {
			idle = append(idle, inst)
		}
	}
	r.mu.Unlock()

	for _, inst := range idle {
		inst.stop()
		r.cfg.Metrics.AggregatesEvicted.Inc()
		r.cfg.Logger.Debug().Str("aggregate_id", inst.id).Msg("evicted idle aggregate")
	}
}

func (r *Router) shutdown() {
	r.mu.Lock()
	r.closed = true
	instances := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.Unlock()

	for _, inst := range instances {
		inst.stop()
	}

	r.wg.Wait()
}

func (r *Router) observe(cmd domain.Command, outcome string) {
	r.cfg.Metrics.CommandsDispatched.WithLabelValues(cmd.CommandKind(), outcome).Inc()
}
