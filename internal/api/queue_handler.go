package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/contractwatch/contract-indexer/internal/api/shared"
	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/queue"
	"github.com/contractwatch/contract-indexer/internal/service"
)

// QueueHandler exposes the queue service and controller over HTTP.
type QueueHandler struct {
	service        *service.QueueService
	controller     *queue.Controller
	stuckThreshold time.Duration
	validator      *validator.Validate
	logger         *slog.Logger
}

// NewQueueHandler wires the handler.
func NewQueueHandler(svc *service.QueueService, ctrl *queue.Controller, cfg config.QueueConfig, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{
		service:        svc,
		controller:     ctrl,
		stuckThreshold: time.Duration(cfg.StuckThresholdMinutes) * time.Minute,
		validator:      validator.New(),
		logger:         logger.With(slog.String("component", "queue_handler")),
	}
}

// EnqueueRequest is the enqueue endpoint's body.
type EnqueueRequest struct {
	Documents []service.EnqueueRequest `json:"documents" validate:"required,min=1,dive"`
}

// EnqueueDocuments handles POST /admin/documents.
func (h *QueueHandler) EnqueueDocuments(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "documents list is required and entries need contract_id and a valid document_url")
		return
	}

	report, err := h.service.EnqueueDocuments(r.Context(), req.Documents)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, report)
}

// GetStatus handles GET /admin/queue/status.
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.controller.Status(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// StartProcessing handles POST /admin/queue/start.
func (h *QueueHandler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Start(r.Context()); err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Message: "processing started"})
}

// StopProcessing handles POST /admin/queue/stop.
func (h *QueueHandler) StopProcessing(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Stop(r.Context()); err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Message: "processing stopped, in-flight records requeued"})
}

// PauseProcessing handles POST /admin/queue/pause.
func (h *QueueHandler) PauseProcessing(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Pause(); err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Message: "processing paused"})
}

// ResumeProcessing handles POST /admin/queue/resume.
func (h *QueueHandler) ResumeProcessing(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Resume(); err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Message: "processing resumed"})
}

// ListRecords handles GET /admin/queue/records?status=failed&limit=50.
func (h *QueueHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	status := domain.ProcessingStatus(r.URL.Query().Get("status"))
	if !status.IsValid() {
		shared.RespondWithError(w, r, http.StatusBadRequest, "status must be one of queued, processing, completed, failed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := h.service.ListRecords(r.Context(), status, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}

	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, NewRecordResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// GetRecord handles GET /admin/queue/records/{id}.
func (h *QueueHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid record ID")
		return
	}

	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewRecordResponse(rec))
}

// ListStuck handles GET /admin/queue/stuck.
func (h *QueueHandler) ListStuck(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.StuckRecords(r.Context(), h.stuckThreshold)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}

	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, NewRecordResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// ResetRecord handles POST /admin/queue/records/{id}/reset.
func (h *QueueHandler) ResetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid record ID")
		return
	}

	if err := h.service.ResetRecord(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Message: "record reset to queued"})
}

// ResetAllStuck handles POST /admin/queue/stuck/reset.
func (h *QueueHandler) ResetAllStuck(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ResetAllStuck(r.Context(), h.stuckThreshold)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}

// RetryFailed handles POST /admin/queue/retry-failed.
func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RetryFailed(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}

// Purge handles DELETE /admin/queue.
func (h *QueueHandler) Purge(w http.ResponseWriter, r *http.Request) {
	status, err := h.controller.Status(r.Context())
	if err == nil && status.State == queue.StateRunning {
		shared.RespondWithError(w, r, http.StatusConflict, "stop processing before purging the queue")
		return
	}

	n, err := h.service.Purge(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, statusForError(err), userMessageForError(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CountResponse{Count: n})
}
