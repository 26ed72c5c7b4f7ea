package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

// RefundHandler handles HTTP requests for the refund approval workflow
type RefundHandler struct {
	refundService *service.RefundService
	logger        *zap.Logger
}

// NewRefundHandler creates a new RefundHandler instance
func NewRefundHandler(refundService *service.RefundService, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{
		refundService: refundService,
		logger:        logger,
	}
}

var validRefundStatuses = map[domain.RefundStatus]bool{
	domain.RefundStatusPending:    true,
	domain.RefundStatusApproved:   true,
	domain.RefundStatusRejected:   true,
	domain.RefundStatusProcessing: true,
	domain.RefundStatusCompleted:  true,
	domain.RefundStatusFailed:     true,
	domain.RefundStatusReversed:   true,
}

// Initiate godoc
// @Summary Request refund
// @Description Creates a PENDING refund. Omitting amount refunds the whole remaining balance of the payment.
// @Tags Refunds
// @Accept json
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Param request body domain.InitiateRefundRequest true "Refund"
// @Success 201 {object} domain.RefundDTO
// @Failure 409 {object} domain.APIError "Payment not refundable"
// @Failure 422 {object} domain.APIError "Amount exceeds refundable balance"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /payments/{paymentId}/refunds [post]
func (h *RefundHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := urlUUID(w, r, "paymentId")
	if !ok {
		return
	}

	var req domain.InitiateRefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	refund, err := h.refundService.Initiate(r.Context(), paymentID, &req)
	if err != nil {
		h.logger.Error("failed to initiate refund", zap.Error(err), zap.String("payment_id", paymentID.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, refund)
}

// List godoc
// @Summary List refunds
// @Tags Refunds
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param status query string false "Filter by status" Enums(PENDING, APPROVED, REJECTED, PROCESSING, COMPLETED, FAILED, REVERSED)
// @Param quotationId query string false "Filter by quotation"
// @Param paymentId query string false "Filter by payment"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.RefundDTO}
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds [get]
func (h *RefundHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	query := r.URL.Query()

	var filters repository.RefundFilters
	if s := query.Get("status"); s != "" {
		status := domain.RefundStatus(s)
		if !validRefundStatuses[status] {
			respondWithError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filters.Status = &status
	}
	for param, target := range map[string]**uuid.UUID{
		"quotationId": &filters.QuotationID,
		"paymentId":   &filters.PaymentID,
	} {
		raw := query.Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid "+param)
			return
		}
		*target = &id
	}

	result, err := h.refundService.List(r.Context(), page, pageSize, filters)
	if err != nil {
		h.logger.Error("failed to list refunds", zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetByID godoc
// @Summary Get refund
// @Tags Refunds
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} domain.RefundDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id} [get]
func (h *RefundHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	refund, err := h.refundService.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

// Timeline godoc
// @Summary Refund timeline
// @Tags Refunds
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {array} domain.RefundTimelineDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/timeline [get]
func (h *RefundHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	events, err := h.refundService.Timeline(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, events)
}

// Approve godoc
// @Summary Approve refund
// @Tags Refunds
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} domain.RefundDTO
// @Failure 403 {object} domain.APIError "Approval level above caller's role"
// @Failure 409 {object} domain.APIError "Refund is not pending"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/approve [post]
func (h *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.refundService.Approve)
}

// Reject godoc
// @Summary Reject refund
// @Tags Refunds
// @Accept json
// @Produce json
// @Param id path string true "Refund ID"
// @Param request body domain.RejectRequest true "Reason"
// @Success 200 {object} domain.RefundDTO
// @Failure 409 {object} domain.APIError "Refund is not pending"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/reject [post]
func (h *RefundHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.RejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	refund, err := h.refundService.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Error("failed to reject refund", zap.Error(err), zap.String("refund_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

// Process godoc
// @Summary Process refund with the gateway
// @Description On a gateway failure the refund is returned in FAILED state with status 502
// @Tags Refunds
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} domain.RefundDTO
// @Failure 409 {object} domain.APIError "Refund is not approved"
// @Failure 502 {object} domain.RefundDTO "Gateway failure"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/process [post]
func (h *RefundHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "process", h.refundService.Process)
}

// Retry godoc
// @Summary Retry failed refund
// @Description Sends a FAILED refund again. A refund stuck in PROCESSING is resumed with the same idempotency key.
// @Tags Refunds
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} domain.RefundDTO
// @Failure 409 {object} domain.APIError "Refund is neither failed nor processing"
// @Failure 502 {object} domain.RefundDTO "Gateway failure"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/retry [post]
func (h *RefundHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "retry", h.refundService.Retry)
}

// Reverse godoc
// @Summary Reverse completed refund
// @Tags Refunds
// @Accept json
// @Produce json
// @Param id path string true "Refund ID"
// @Param request body domain.ReverseRefundRequest true "Reason"
// @Success 200 {object} domain.RefundDTO
// @Failure 409 {object} domain.APIError "Refund is not completed"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/reverse [post]
func (h *RefundHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.ReverseRefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	refund, err := h.refundService.Reverse(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Error("failed to reverse refund", zap.Error(err), zap.String("refund_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

// BulkProcess godoc
// @Summary Process refunds in bulk
// @Description Processes each refund independently and reports per-item outcomes
// @Tags Refunds
// @Accept json
// @Produce json
// @Param request body domain.BulkProcessRefundsRequest true "Refund IDs"
// @Success 200 {object} domain.BulkRefundResult
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/bulk-process [post]
func (h *RefundHandler) BulkProcess(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkProcessRefundsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := h.refundService.BulkProcess(r.Context(), req.RefundIDs)
	respondJSON(w, http.StatusOK, result)
}

// GatewayStatus godoc
// @Summary Provider refund status
// @Tags Refunds
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} domain.RefundGatewayStatusDTO
// @Failure 502 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /refunds/{id}/gateway-status [get]
func (h *RefundHandler) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	status, err := h.refundService.GatewayStatus(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to query refund gateway status", zap.Error(err), zap.String("refund_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// transition runs a body-less refund state change. A gateway failure that still
// produced a refund record is reported with that record so the client sees FAILED.
func (h *RefundHandler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, uuid.UUID) (*domain.RefundDTO, error)) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	refund, err := fn(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to "+action+" refund", zap.Error(err), zap.String("refund_id", id.String()))
		if refund != nil && errors.Is(err, domain.ErrGateway) {
			respondJSON(w, http.StatusBadGateway, refund)
			return
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}
