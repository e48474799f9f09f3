package handler

import (
	"context"
	"net/http"
)

// BacklogCounter reports how many outbox records still await dispatch.
type BacklogCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// OutboxHandler exposes relay state.
type OutboxHandler struct {
	outbox BacklogCounter
}

// NewOutboxHandler creates a new OutboxHandler.
func NewOutboxHandler(outbox BacklogCounter) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// BacklogResponse is the body of GET /outbox.
type BacklogResponse struct {
	Pending int64 `json:"pending"`
}

// Backlog returns the number of unprocessed outbox records.
func (h *OutboxHandler) Backlog(w http.ResponseWriter, r *http.Request) {
	pending, err := h.outbox.CountPending(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "outbox unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BacklogResponse{Pending: pending})
}
