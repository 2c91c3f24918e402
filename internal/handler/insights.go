package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arviso/client-pulse/internal/insights"
	"github.com/arviso/client-pulse/internal/middleware"
	"github.com/arviso/client-pulse/internal/model"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
)

// InsightHandler handles insight generation and retrieval endpoints.
type InsightHandler struct {
	engine   *insights.Engine
	insights store.InsightStore
	logger   *logger.Logger
}

// NewInsightHandler creates a new insight handler.
func NewInsightHandler(engine *insights.Engine, insightStore store.InsightStore, log *logger.Logger) *InsightHandler {
	return &InsightHandler{
		engine:   engine,
		insights: insightStore,
		logger:   log,
	}
}

// Micro handles POST /api/v1/clients/{id}/insights/micro
func (h *InsightHandler) Micro(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "id")

	if err := middleware.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in, err := h.engine.Micro(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no analysis history for client")
			return
		}
		h.logger.Error("micro insight generation failed")
		writeError(w, http.StatusInternalServerError, "insight generation failed")
		return
	}

	writeJSON(w, http.StatusOK, in)
}

// Summary handles POST /api/v1/clients/{id}/insights/summary
func (h *InsightHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "id")

	if err := middleware.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in, err := h.engine.Summary(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no analysis history in window")
			return
		}
		h.logger.Error("summary insight generation failed")
		writeError(w, http.StatusInternalServerError, "insight generation failed")
		return
	}

	writeJSON(w, http.StatusOK, in)
}

// Latest handles GET /api/v1/clients/{id}/insights/{kind}
func (h *InsightHandler) Latest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "id")
	kind := model.InsightKind(chi.URLParam(r, "kind"))

	if err := middleware.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if kind != model.InsightMicro && kind != model.InsightSummary {
		writeError(w, http.StatusBadRequest, "unknown insight kind")
		return
	}

	in, err := h.insights.LatestInsight(ctx, clientID, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no insight for client")
			return
		}
		h.logger.Error("failed to load insight")
		writeError(w, http.StatusInternalServerError, "failed to load insight")
		return
	}

	writeJSON(w, http.StatusOK, in)
}

// HighLevel handles POST /api/v1/firms/{id}/insights/high-level
func (h *InsightHandler) HighLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	firmID := chi.URLParam(r, "id")

	if err := middleware.ValidateFirmID(firmID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "recent"
	}

	in, err := h.engine.HighLevel(ctx, firmID, period)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no summaries for firm")
			return
		}
		h.logger.Error("high-level insight generation failed")
		writeError(w, http.StatusServiceUnavailable, "insight generation failed")
		return
	}

	writeJSON(w, http.StatusOK, in)
}
