package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/shardbank/internal/adapter/http/dto"
	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/eventlog"
	"github.com/iho/shardbank/internal/shard"
)

// CommandDispatcher routes commands to the owning aggregate instance,
// locally or on another node.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) (shard.Ack, error)
}

// AccountHandler handles account-related HTTP requests.
type AccountHandler struct {
	dispatcher CommandDispatcher
	log        eventlog.Reader
	strictAcks bool
}

// NewAccountHandler creates a new AccountHandler. With strictAcks set,
// rejected commands surface as 422 instead of being silently acknowledged.
func NewAccountHandler(dispatcher CommandDispatcher, log eventlog.Reader, strictAcks bool) *AccountHandler {
	return &AccountHandler{
		dispatcher: dispatcher,
		log:        log,
		strictAcks: strictAcks,
	}
}

// Open opens a new account with a server-assigned ID.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req dto.OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	id := domain.NewAccountID()

	ack, err := h.dispatcher.Dispatch(r.Context(), domain.OpenNewAccount{
		AccountID:      id,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		writeError(w, mapDispatchError(err), "failed to open account", err.Error())
		return
	}

	if !ack.Accepted && h.strictAcks {
		writeError(w, http.StatusUnprocessableEntity, "command rejected", ack.Reason)
		return
	}

	writeJSON(w, http.StatusCreated, dto.AccountResponse{
		ID:      id,
		Balance: req.OpeningBalance,
		Opened:  ack.Accepted,
		Version: 1,
	})
}

// Get returns an account's current state, folded from its event history.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account ID", "")
		return
	}

	records, err := h.log.ReadFrom(r.Context(), id, 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read account", err.Error())
		return
	}

	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "account not found", "")
		return
	}

	events, err := eventlog.DecodeAll(records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to decode account history", err.Error())
		return
	}

	state, err := domain.Rehydrate(events)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rebuild account state", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.AccountFromState(id, state))
}
