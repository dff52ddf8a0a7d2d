package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/shard"
)

// LocalDispatcher executes a command on this node, bypassing owner routing.
type LocalDispatcher interface {
	DispatchLocal(ctx context.Context, cmd domain.Command) (shard.Ack, error)
}

// AckCache remembers the acknowledgment each command id produced, so a
// redelivered forward is answered with the original ack instead of executed
// a second time.
type AckCache interface {
	Get(ctx context.Context, commandID string) (shard.Ack, bool, error)
	Put(ctx context.Context, commandID string, ack shard.Ack) error
}

// CommandHandler receives commands forwarded from peer nodes. It is the
// server side of the inter-node command transport and is not part of the
// public API.
type CommandHandler struct {
	dispatcher LocalDispatcher
	acks       AckCache
	logger     zerolog.Logger
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(dispatcher LocalDispatcher, acks AckCache, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{dispatcher: dispatcher, acks: acks, logger: logger}
}

// Receive executes a forwarded command envelope locally. The forwarding node
// already resolved ownership; re-routing here would loop on membership
// disagreement, so the command runs on this node unconditionally.
//
// The forwarder retries on any transport failure, including a response lost
// after the command already executed here. The envelope's command id is
// stable across those retries, so a redelivery is answered from the ack
// cache rather than re-decided against state the first execution changed.
func (h *CommandHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var env domain.CommandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command envelope", err.Error())
		return
	}

	cmd, err := domain.DecodeCommand(env)
	if err != nil {
		writeError(w, http.StatusBadRequest, "undecodable command", err.Error())
		return
	}

	if env.CommandID != "" {
		cached, found, err := h.acks.Get(r.Context(), env.CommandID)
		if err != nil {
			// Executing without the dedup check could double-apply a
			// command the cache already holds an ack for. Fail the
			// delivery instead; the forwarder retries.
			writeError(w, http.StatusInternalServerError, "ack cache unavailable", err.Error())
			return
		}
		if found {
			h.logger.Debug().
				Str("command_id", env.CommandID).
				Str("kind", env.Kind).
				Msg("redelivered command answered from ack cache")

			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	ack, err := h.dispatcher.DispatchLocal(r.Context(), cmd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "command execution failed", err.Error())
		return
	}

	if env.CommandID != "" {
		if err := h.acks.Put(r.Context(), env.CommandID, ack); err != nil {
			// The ack still goes back; a lost cache write only matters
			// if this response is also lost, and the warn leaves a
			// trace for that case.
			h.logger.Warn().Err(err).
				Str("command_id", env.CommandID).
				Msg("ack cache write failed")
		}
	}

	writeJSON(w, http.StatusOK, ack)
}
