package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iho/shardbank/internal/adapter/http/dto"
	"github.com/iho/shardbank/internal/domain"
	"github.com/iho/shardbank/internal/shard"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// mapDispatchError maps routing errors to HTTP status codes.
func mapDispatchError(err error) int {
	switch {
	case errors.Is(err, shard.ErrRoutingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, shard.ErrRouterClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
