package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arviso/client-pulse/internal/analysis"
	"github.com/arviso/client-pulse/internal/middleware"
	"github.com/arviso/client-pulse/internal/model"
	natsclient "github.com/arviso/client-pulse/internal/nats"
	"github.com/arviso/client-pulse/internal/outbound"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
)

// AnalyzeHandler handles the message analysis endpoints.
type AnalyzeHandler struct {
	orchestrator *analysis.Orchestrator
	stages       *analysis.Stages
	scheduler    *outbound.Scheduler
	results      store.ResultStore
	messages     store.MessageStore
	stream       *natsclient.StreamManager
	logger       *logger.Logger
}

// NewAnalyzeHandler creates a new analysis handler.
func NewAnalyzeHandler(
	orch *analysis.Orchestrator,
	stages *analysis.Stages,
	sched *outbound.Scheduler,
	results store.ResultStore,
	messages store.MessageStore,
	stream *natsclient.StreamManager,
	log *logger.Logger,
) *AnalyzeHandler {
	return &AnalyzeHandler{
		orchestrator: orch,
		stages:       stages,
		scheduler:    sched,
		results:      results,
		messages:     messages,
		stream:       stream,
		logger:       log,
	}
}

// Analyze handles POST /api/v1/conversations/{id}/analyze
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ConversationID = conversationID

	if err := middleware.ValidateMessageBody(req.Message.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateClientID(req.Profile.ClientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if firmID := middleware.GetFirmID(ctx); firmID != "" && req.Profile.FirmID == "" {
		req.Profile.FirmID = firmID
	}

	res, err := h.orchestrator.Analyze(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "message body cannot be empty")
		case errors.Is(err, analysis.ErrContextLoad):
			h.logger.Error("conversation context load failed")
			writeError(w, http.StatusFailedDependency, "failed to load conversation context")
		case errors.Is(err, analysis.ErrAllStagesFailed):
			h.logger.Error("all analysis stages failed")
			writeError(w, http.StatusServiceUnavailable, "analysis service unavailable")
		default:
			h.logger.Error("analysis failed")
			writeError(w, http.StatusInternalServerError, "analysis failed")
		}
		return
	}

	// Detected events feed the outbound scheduler as reminder candidates.
	if h.scheduler != nil && len(res.Events) > 0 {
		if err := h.scheduler.HandleAnalysis(ctx, res); err != nil {
			h.logger.Warn("failed to schedule reminders from detected events")
		}
	}

	writeJSON(w, http.StatusOK, res)
}

// Results handles GET /api/v1/conversations/{id}/results
func (h *AnalyzeHandler) Results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.results.ByConversation(ctx, conversationID)
	if err != nil {
		h.logger.Error("failed to list results")
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"results":         results,
	})
}

// Messages handles GET /api/v1/conversations/{id}/messages
// It replays the conversation from the durable stream, supporting cursor
// pagination with after_sequence.
func (h *AnalyzeHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	firmID := middleware.GetFirmID(ctx)
	if err := middleware.ValidateFirmID(firmID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	afterSequence := uint64(0)
	limit := 50
	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	messages, lastSequence, hasMore, err := h.stream.GetMessages(ctx, firmID, conversationID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to replay messages")
		writeError(w, http.StatusInternalServerError, "failed to replay messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"messages":        messages,
		"last_sequence":   lastSequence,
		"has_more":        hasMore,
	})
}

// Summarize handles POST /api/v1/conversations/{id}/summarize
func (h *AnalyzeHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.messages.RecentMessages(ctx, conversationID, 0)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if len(messages) == 0 {
		writeError(w, http.StatusNotFound, "conversation has no messages")
		return
	}

	summary, err := h.stages.Summarize(ctx, messages)
	if err != nil {
		h.logger.Error("summarization failed")
		writeError(w, http.StatusServiceUnavailable, "summarization failed")
		return
	}

	writeJSON(w, http.StatusOK, model.SummarizeResponse{Summary: summary})
}
