package api

import (
	"log/slog"
	"net/http"

	"github.com/fitmenthq/eventpipe/internal/poller"
	"github.com/fitmenthq/eventpipe/internal/store"
)

// CursorHandler exposes the poll position for operators: inspect it, reset
// it (the one sanctioned way of moving the cursor backwards), or trigger an
// immediate poll cycle.
type CursorHandler struct {
	store  *store.PostgresStore
	poller *poller.Poller
	logger *slog.Logger
}

func NewCursorHandler(s *store.PostgresStore, p *poller.Poller, logger *slog.Logger) *CursorHandler {
	return &CursorHandler{store: s, poller: p, logger: logger}
}

func (h *CursorHandler) Get(w http.ResponseWriter, r *http.Request) {
	cur, err := h.store.GetCursor(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get cursor")
		return
	}
	respondJSON(w, http.StatusOK, cur)
}

func (h *CursorHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetCursor(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reset cursor")
		return
	}

	h.logger.Info("event cursor reset by operator")
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// TriggerPoll runs one poll cycle immediately and returns its result.
func (h *CursorHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	result, err := h.poller.Poll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "poll cycle failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
