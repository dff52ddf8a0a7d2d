package handler

import (
	"encoding/json"
	"net/http"

	"github.com/iho/shardbank/internal/adapter/http/dto"
	"github.com/iho/shardbank/internal/domain"
)

// TransferHandler handles transfer-related HTTP requests.
type TransferHandler struct {
	dispatcher CommandDispatcher
	strictAcks bool
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(dispatcher CommandDispatcher, strictAcks bool) *TransferHandler {
	return &TransferHandler{
		dispatcher: dispatcher,
		strictAcks: strictAcks,
	}
}

// Create initiates a transfer. Only the debit leg happens in-request; the
// receiver is credited by the saga, so a 202 means accepted, not settled.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.SenderID == "" || req.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, "missing account ID", "sender_id and receiver_id are required")
		return
	}

	tx := domain.NewTransaction(req.SenderID, req.ReceiverID, req.Amount)

	ack, err := h.dispatcher.Dispatch(r.Context(), domain.TransferMoney{
		AccountID:   req.SenderID,
		Transaction: tx,
	})
	if err != nil {
		writeError(w, mapDispatchError(err), "failed to dispatch transfer", err.Error())
		return
	}

	resp := dto.TransferResponse{
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Amount:        tx.Amount,
		Accepted:      ack.Accepted,
		Reason:        ack.Reason,
	}

	if !ack.Accepted && h.strictAcks {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}
