package handler

import (
	"net/http"

	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

// AdjustmentHandler handles HTTP requests for quotation adjustments
type AdjustmentHandler struct {
	adjustmentService *service.AdjustmentService
	logger            *zap.Logger
}

// NewAdjustmentHandler creates a new AdjustmentHandler instance
func NewAdjustmentHandler(adjustmentService *service.AdjustmentService, logger *zap.Logger) *AdjustmentHandler {
	return &AdjustmentHandler{
		adjustmentService: adjustmentService,
		logger:            logger,
	}
}

// Create godoc
// @Summary Request adjustment
// @Description Proposes a discount, amount or tax correction. Nothing changes until it is approved and applied.
// @Tags Adjustments
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.CreateAdjustmentRequest true "Adjustment"
// @Success 201 {object} domain.AdjustmentDTO
// @Failure 409 {object} domain.APIError
// @Failure 422 {object} domain.APIError "Would drop the total below the amount paid"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/adjustments [post]
func (h *AdjustmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	quotationID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.CreateAdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	adjustment, err := h.adjustmentService.Create(r.Context(), quotationID, &req)
	if err != nil {
		h.logger.Error("failed to create adjustment", zap.Error(err), zap.String("quotation_id", quotationID.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, adjustment)
}

// List godoc
// @Summary List adjustments
// @Tags Adjustments
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {array} domain.AdjustmentDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/adjustments [get]
func (h *AdjustmentHandler) List(w http.ResponseWriter, r *http.Request) {
	quotationID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	adjustments, err := h.adjustmentService.List(r.Context(), quotationID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, adjustments)
}

// GetByID godoc
// @Summary Get adjustment
// @Tags Adjustments
// @Produce json
// @Param adjustmentId path string true "Adjustment ID"
// @Success 200 {object} domain.AdjustmentDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /adjustments/{adjustmentId} [get]
func (h *AdjustmentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "adjustmentId")
	if !ok {
		return
	}

	adjustment, err := h.adjustmentService.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, adjustment)
}

// Timeline godoc
// @Summary Adjustment timeline
// @Tags Adjustments
// @Produce json
// @Param adjustmentId path string true "Adjustment ID"
// @Success 200 {array} domain.AdjustmentTimelineDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /adjustments/{adjustmentId}/timeline [get]
func (h *AdjustmentHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "adjustmentId")
	if !ok {
		return
	}

	events, err := h.adjustmentService.Timeline(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, events)
}

// Approve godoc
// @Summary Approve adjustment
// @Tags Adjustments
// @Produce json
// @Param adjustmentId path string true "Adjustment ID"
// @Success 200 {object} domain.AdjustmentDTO
// @Failure 409 {object} domain.APIError "Adjustment is not pending"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /adjustments/{adjustmentId}/approve [post]
func (h *AdjustmentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "adjustmentId")
	if !ok {
		return
	}

	adjustment, err := h.adjustmentService.Approve(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to approve adjustment", zap.Error(err), zap.String("adjustment_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, adjustment)
}

// Reject godoc
// @Summary Reject adjustment
// @Tags Adjustments
// @Accept json
// @Produce json
// @Param adjustmentId path string true "Adjustment ID"
// @Param request body domain.RejectRequest true "Reason"
// @Success 200 {object} domain.AdjustmentDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /adjustments/{adjustmentId}/reject [post]
func (h *AdjustmentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "adjustmentId")
	if !ok {
		return
	}

	var req domain.RejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	adjustment, err := h.adjustmentService.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Error("failed to reject adjustment", zap.Error(err), zap.String("adjustment_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, adjustment)
}

// Apply godoc
// @Summary Apply adjustment
// @Description Writes an approved adjustment into the quotation totals
// @Tags Adjustments
// @Produce json
// @Param adjustmentId path string true "Adjustment ID"
// @Success 200 {object} domain.AdjustmentDTO
// @Failure 409 {object} domain.APIError "Adjustment is not approved"
// @Failure 422 {object} domain.APIError "Would drop the total below the amount paid"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /adjustments/{adjustmentId}/apply [post]
func (h *AdjustmentHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "adjustmentId")
	if !ok {
		return
	}

	adjustment, err := h.adjustmentService.Apply(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to apply adjustment", zap.Error(err), zap.String("adjustment_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, adjustment)
}
