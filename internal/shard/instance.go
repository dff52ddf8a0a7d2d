package shard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
)

const mailboxSize = 64

type dispatchResult struct {
	ack Ack
	err error
}

type envelope struct {
	ctx    context.Context
	cmd    domain.Command
	result chan dispatchResult
}

// instance hosts one live aggregate: a single goroutine consuming a mailbox,
// so commands for this id are processed strictly one at a time. That
// serialization is what makes the check-then-emit decision safe without
// locks.
type instance struct {
	id     string
	router *Router

	mailbox chan envelope
	stopCh  chan struct{}
	// terminated closes only after the final mailbox drain; a sender
	// observing it retries against a fresh instance.
	terminated chan struct{}
	stopOnce   sync.Once

	lastActive atomic.Int64
}

func newInstance(id string, router *Router) *instance {
	inst := &instance{
		id:         id,
		router:     router,
		mailbox:    make(chan envelope, mailboxSize),
		stopCh:     make(chan struct{}),
		terminated: make(chan struct{}),
	}

	inst.touch()

	return inst
}

// deliver hands a command to the instance and waits for its acknowledgment.
// The boolean reports whether the instance took the command; false means it
// terminated underneath the caller, who should retry.
func (inst *instance) deliver(ctx context.Context, cmd domain.Command) (Ack, bool, error) {
	env := envelope{
		ctx:    ctx,
		cmd:    cmd,
		result: make(chan dispatchResult, 1),
	}

	select {
	case inst.mailbox <- env:
	case <-inst.terminated:
		return Ack{}, false, nil
	case <-ctx.Done():
		return Ack{}, false, ctx.Err()
	}

	select {
	case res := <-env.result:
		return res.ack, true, res.err
	case <-inst.terminated:
		// The instance may have answered just before exiting.
		select {
		case res := <-env.result:
			return res.ack, true, res.err
		default:
			return Ack{}, false, nil
		}
	case <-ctx.Done():
		return Ack{}, false, ctx.Err()
	}
}

func (inst *instance) stop() {
	inst.stopOnce.Do(func() {
		close(inst.stopCh)
	})
}

func (inst *instance) touch() {
	inst.lastActive.Store(time.Now().UnixNano())
}

func (inst *instance) idleFor(timeout time.Duration) bool {
	return time.Since(time.Unix(0, inst.lastActive.Load())) >= timeout
}

// run is the instance loop: rehydrate once, then process the mailbox until
// stopped. A rehydration failure (an unknown stored event kind) is fatal for
// the aggregate; every command is answered with the error until eviction.
func (inst *instance) run() {
	state, rehydrateErr := inst.rehydrate(context.Background())
	if rehydrateErr == nil {
		inst.router.cfg.Metrics.AggregatesRehydrated.Inc()
	} else {
		inst.router.cfg.Logger.Error().Err(rehydrateErr).
			Str("aggregate_id", inst.id).
			Msg("aggregate rehydration failed")
	}

	for {
		select {
		case env := <-inst.mailbox:
			inst.touch()
			state = inst.handle(env, state, rehydrateErr)
		case <-inst.stopCh:
			inst.router.remove(inst.id, inst)
			inst.drain(state, rehydrateErr)
			close(inst.terminated)
			return
		}
	}
}

// drain answers whatever is still buffered before the instance goes away.
func (inst *instance) drain(state domain.AccountState, rehydrateErr error) {
	for {
		select {
		case env := <-inst.mailbox:
			state = inst.handle(env, state, rehydrateErr)
		default:
			return
		}
	}
}

func (inst *instance) handle(env envelope, state domain.AccountState, rehydrateErr error) domain.AccountState {
	if rehydrateErr != nil {
		env.result <- dispatchResult{err: rehydrateErr}
		return state
	}

	ack, next, err := inst.execute(env.ctx, state, env.cmd)
	env.result <- dispatchResult{ack: ack, err: err}

	return next
}

// execute decides the command against current state and appends the emitted
// events with the optimistic expected-version check. A conflict means the
// single-instance guarantee was violated somewhere (split-brain); the
// decision is retried once against freshly rehydrated state.
func (inst *instance) execute(ctx context.Context, state domain.AccountState, cmd domain.Command) (Ack, domain.AccountState, error) {
	cfg := inst.router.cfg

	for attempt := 0; ; attempt++ {
		events, err := cfg.Rules.Decide(state, cmd)
		if err != nil {
			if domain.IsRuleRejection(err) {
				return Ack{Handled: true, Reason: err.Error()}, state, nil
			}

			return Ack{}, state, err
		}

		_, err = cfg.Log.Append(ctx, inst.id, state.Version, events)
		if err == nil {
			for _, e := range events {
				next, applyErr := state.Apply(e)
				if applyErr != nil {
					return Ack{}, state, applyErr
				}

				state = next
			}

			cfg.Metrics.EventsAppended.Add(float64(len(events)))

			return Ack{Handled: true, Accepted: true}, state, nil
		}

		if !errors.Is(err, eventlog.ErrVersionConflict) || attempt >= 1 {
			return Ack{}, state, err
		}

		cfg.Metrics.VersionConflicts.Inc()
		cfg.Logger.Warn().
			Str("aggregate_id", inst.id).
			Int64("version", state.Version).
			Msg("version conflict, rehydrating and retrying")

		state, err = inst.rehydrate(ctx)
		if err != nil {
			return Ack{}, state, err
		}
	}
}

func (inst *instance) rehydrate(ctx context.Context) (domain.AccountState, error) {
	records, err := inst.router.cfg.Log.ReadFrom(ctx, inst.id, 1)
	if err != nil {
		return domain.NewAccountState(), err
	}

	events, err := eventlog.DecodeAll(records)
	if err != nil {
		return domain.NewAccountState(), err
	}

	return domain.Rehydrate(events)
}
