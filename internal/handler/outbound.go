package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arviso/client-pulse/internal/middleware"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/outbound"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
)

// OutboundHandler handles outbound draft endpoints.
type OutboundHandler struct {
	scheduler *outbound.Scheduler
	drafts    store.DraftStore
	profiles  store.ProfileStore
	logger    *logger.Logger
}

// NewOutboundHandler creates a new outbound handler.
func NewOutboundHandler(sched *outbound.Scheduler, drafts store.DraftStore, profiles store.ProfileStore, log *logger.Logger) *OutboundHandler {
	return &OutboundHandler{
		scheduler: sched,
		drafts:    drafts,
		profiles:  profiles,
		logger:    log,
	}
}

// List handles GET /api/v1/clients/{id}/drafts
func (h *OutboundHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "id")

	if err := middleware.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	drafts, err := h.drafts.ListDrafts(ctx, clientID)
	if err != nil {
		h.logger.Error("failed to list drafts")
		writeError(w, http.StatusInternalServerError, "failed to list drafts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id": clientID,
		"drafts":    drafts,
	})
}

// Evaluate handles POST /api/v1/clients/{id}/drafts/evaluate
// It runs the cadence rules for one client immediately instead of waiting
// for the next scheduler sweep.
func (h *OutboundHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "id")

	if err := middleware.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, conversationID, err := h.profiles.GetProfile(ctx, clientID)
	if err != nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	if err := h.scheduler.EvaluateClient(ctx, profile, conversationID); err != nil {
		h.logger.Error("outbound evaluation failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	drafts, err := h.drafts.ListDrafts(ctx, clientID)
	if err != nil {
		h.logger.Error("failed to list drafts")
		writeError(w, http.StatusInternalServerError, "failed to list drafts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id": clientID,
		"drafts":    drafts,
	})
}

// resolveRequest marks a draft sent or cancelled.
type resolveRequest struct {
	Status model.DraftStatus `json:"status"`
}

// Resolve handles POST /api/v1/drafts/{id}/resolve
func (h *OutboundHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draftID := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch req.Status {
	case model.DraftSent:
		err = h.scheduler.MarkSent(ctx, draftID)
	case model.DraftCancelled:
		err = h.scheduler.MarkCancelled(ctx, draftID)
	default:
		writeError(w, http.StatusBadRequest, "status must be sent or cancelled")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "draft not found")
		case errors.Is(err, store.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "draft is not pending")
		default:
			h.logger.Error("failed to resolve draft")
			writeError(w, http.StatusInternalServerError, "failed to resolve draft")
		}
		return
	}

	draft, err := h.drafts.GetDraft(ctx, draftID)
	if err != nil {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// CaseStatus handles POST /api/v1/signals/case-status
func (h *OutboundHandler) CaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sig model.CaseStatusSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateClientID(sig.ClientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sig.OccurredAt.IsZero() {
		sig.OccurredAt = time.Now()
	}

	if err := h.scheduler.HandleCaseStatusChange(ctx, &sig); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "client not found")
			return
		}
		h.logger.Error("case status handling failed")
		writeError(w, http.StatusInternalServerError, "failed to process case status")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
