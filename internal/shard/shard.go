// Package shard hosts account aggregates: it routes every command to the one
// node that owns the aggregate id, runs exactly one instance per id with a
// strictly sequential mailbox, rehydrates instances from the event log on
// first use and evicts them when idle. Commands for different ids run fully
// in parallel; commands for the same id never do.
package shard

import (
	"context"
	"errors"

	"github.com/iho/shardbank/internal/cluster"
	"github.com/iho/shardbank/internal/domain"
)

var (
	// ErrRoutingUnavailable is returned when the owning node is down or
	// mid-rebalance. No event was emitted, so callers retry with backoff.
	ErrRoutingUnavailable = errors.New("owning node unavailable")

	// ErrRouterClosed is returned for dispatches after shutdown began.
	ErrRouterClosed = errors.New("shard router is closed")
)

// Ack acknowledges a dispatched command. Handled means the command reached
// an aggregate instance and was decided; Accepted means events were emitted.
// A rejected command is still handled, with the rule it failed in Reason.
type Ack struct {
	Handled  bool   `json:"handled"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// CommandTransport forwards a command to another node in proxy mode: one
// extra hop, identical semantics.
type CommandTransport interface {
	Forward(ctx context.Context, node cluster.Node, env domain.CommandEnvelope) (Ack, error)
}
