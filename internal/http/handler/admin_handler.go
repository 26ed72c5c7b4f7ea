package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/straye-as/quotation-api/internal/jobs"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

// JobRunner triggers scheduled sweeps on demand
type JobRunner interface {
	RunNow(name string) error
	JobNames() []string
}

// EmailDeliveryRequest is the provider's delivery receipt for one message
type EmailDeliveryRequest struct {
	MessageID string `json:"messageId" validate:"required,max=255"`
}

// AdminHandler serves operational endpoints for system callers
type AdminHandler struct {
	jobs   JobRunner
	email  *service.EmailDeliveryService
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler instance. runner may be nil when jobs are disabled.
func NewAdminHandler(runner JobRunner, email *service.EmailDeliveryService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		jobs:   runner,
		email:  email,
		logger: logger,
	}
}

// ListJobs godoc
// @Summary List scheduled jobs
// @Tags Admin
// @Produce json
// @Success 200 {array} string
// @Security ApiKeyAuth
// @Router /admin/jobs [get]
func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondJSON(w, http.StatusOK, []string{})
		return
	}
	respondJSON(w, http.StatusOK, h.jobs.JobNames())
}

// RunJob godoc
// @Summary Run a scheduled job now
// @Description Runs the named sweep synchronously and returns when it finishes
// @Tags Admin
// @Produce json
// @Param name path string true "Job name" Enums(quotation_expiry, quotation_expiring_soon, email_retry)
// @Success 202 {object} map[string]string
// @Failure 404 {object} domain.APIError
// @Security ApiKeyAuth
// @Router /admin/jobs/{name}/run [post]
func (h *AdminHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Scheduled jobs are disabled")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.jobs.RunNow(name); err != nil {
		if errors.Is(err, jobs.ErrUnknownJob) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to run job", zap.Error(err), zap.String("job_name", name))
		respondError(w, err)
		return
	}

	h.logger.Info("job run on demand", zap.String("job_name", name))
	respondJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "completed"})
}

// EmailDelivered godoc
// @Summary Email delivery receipt
// @Description Marks the email log for messageId as delivered. Repeated receipts are accepted.
// @Tags Webhooks
// @Accept json
// @Param request body EmailDeliveryRequest true "Receipt"
// @Success 204 "No Content"
// @Failure 404 {object} domain.APIError
// @Security ApiKeyAuth
// @Router /webhooks/email/delivered [post]
func (h *AdminHandler) EmailDelivered(w http.ResponseWriter, r *http.Request) {
	var req EmailDeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.email.MarkDelivered(r.Context(), req.MessageID); err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.Error("failed to record email delivery", zap.Error(err))
		}
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
