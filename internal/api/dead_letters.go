package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/store"
	"github.com/go-chi/chi/v5"
)

// DeadLetterHandler is the operator remediation surface. The pipeline only
// ever writes dead letters; resolving and retrying are manual actions.
type DeadLetterHandler struct {
	store  *store.PostgresStore
	queues *engine.Queues
	logger *slog.Logger
}

func NewDeadLetterHandler(s *store.PostgresStore, queues *engine.Queues, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{store: s, queues: queues, logger: logger}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	resolvedStr := r.URL.Query().Get("resolved")
	limitStr := r.URL.Query().Get("limit")

	resolved := false
	if resolvedStr == "true" {
		resolved = true
	}

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := h.store.ListDeadLetters(r.Context(), entityType, resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *DeadLetterHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy); err != nil {
		respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// Retry re-enqueues a retryable dead letter. A failed sync goes back into
// the sync queue as a fresh attempt-1 job, keeping the original workflow ID
// so the attempts stay correlated; a dead-lettered polled event goes back
// through the intake queue and the full processing pipeline.
func (h *DeadLetterHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if letter.ResolvedAt != nil {
		respondError(w, http.StatusConflict, "dead letter already resolved")
		return
	}
	if !letter.Retryable {
		respondError(w, http.StatusConflict, "dead letter is not retryable")
		return
	}

	var dlCtx struct {
		Op      engine.SyncOp   `json:"op"`
		Payload json.RawMessage `json:"payload"`
	}
	if len(letter.Context) > 0 {
		if err := json.Unmarshal(letter.Context, &dlCtx); err != nil {
			respondError(w, http.StatusInternalServerError, "dead letter context is unreadable")
			return
		}
	}

	if letter.EntityType == domain.EntityEvent {
		job := engine.IntakeJob{
			EventID: letter.EntityID,
			Event:   dlCtx.Payload,
			Source:  domain.SourcePoll,
		}
		if err := h.queues.EnqueueIntake(r.Context(), job); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to requeue event")
			return
		}
	} else {
		if dlCtx.Op == "" {
			dlCtx.Op = engine.OpUpsert
		}

		job := engine.SyncJob{
			WorkflowID: letter.WorkflowID,
			EntityType: letter.EntityType,
			EntityID:   letter.EntityID,
			Op:         dlCtx.Op,
			Payload:    dlCtx.Payload,
			Attempt:    1,
			MaxRetries: engine.MaxSyncRetries,
		}
		if err := h.queues.EnqueueSync(r.Context(), job, 0); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to requeue sync")
			return
		}
	}

	h.logger.Info("dead letter requeued",
		"dead_letter_id", id,
		"workflow_id", letter.WorkflowID,
		"entity_type", letter.EntityType,
		"entity_id", letter.EntityID,
	)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}
