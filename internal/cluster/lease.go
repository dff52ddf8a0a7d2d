package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Compare-and-mutate scripts so a node can only extend or release a lease it
// still holds.
var (
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)

	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// Lease is a TTL-bound exclusivity claim used for cluster-singleton
// placement. At most one holder exists at a time; a crashed holder's claim
// expires and a replacement takes over. The lease value carries the holder's
// advertised address so other nodes can locate the singleton.
type Lease struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewLease creates a lease claim for the given holder value.
func NewLease(client *redis.Client, key, value string, ttl time.Duration, logger zerolog.Logger) *Lease {
	return &Lease{
		client: client,
		key:    key,
		value:  value,
		ttl:    ttl,
		logger: logger,
	}
}

// TryAcquire attempts to claim or extend the lease. It returns true when
// this holder owns the lease afterwards.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}

	if ok {
		return true, nil
	}

	// Not free: extend if we were already the holder.
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", l.key, err)
	}

	return n == 1, nil
}

// Holder returns the current lease value, or "" when the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", l.key, err)
	}

	return value, nil
}

// Release gives the lease up if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}

	return nil
}

// Keep renews the lease until the context is cancelled, signalling ownership
// transitions on the returned channel: true when acquired, false when lost.
// The holder must stop acting as the singleton as soon as it reads false.
func (l *Lease) Keep(ctx context.Context) <-chan bool {
	transitions := make(chan bool, 1)

	go func() {
		defer close(transitions)

		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()

		holding := false

		check := func() {
			ok, err := l.TryAcquire(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				l.logger.Error().Err(err).Str("lease", l.key).Msg("lease renewal failed")
				ok = false
			}

			if ok != holding {
				holding = ok
				select {
				case transitions <- holding:
				case <-ctx.Done():
				}
			}
		}

		check()

		for {
			select {
			case <-ctx.Done():
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()

				if holding {
					if err := l.Release(releaseCtx); err != nil {
						l.logger.Warn().Err(err).Str("lease", l.key).Msg("lease release failed")
					}
				}

				return
			case <-ticker.C:
				check()
			}
		}
	}()

	return transitions
}
