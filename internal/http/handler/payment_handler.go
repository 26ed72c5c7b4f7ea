package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

// webhookSignatureHeader carries the provider's HMAC of the raw body
const webhookSignatureHeader = "X-Webhook-Signature"

// PaymentHandler handles HTTP requests for payments against quotations
type PaymentHandler struct {
	paymentService *service.PaymentService
	logger         *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler instance
func NewPaymentHandler(paymentService *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		logger:         logger,
	}
}

// Summary godoc
// @Summary Payment summary
// @Description Total, paid, net of refunds and outstanding balance for a quotation
// @Tags Payments
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {object} domain.PaymentSummary
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/payments/summary [get]
func (h *PaymentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	summary, err := h.paymentService.Summary(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {array} domain.PaymentDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/payments [get]
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	payments, err := h.paymentService.ListPayments(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, payments)
}

// RecordManual godoc
// @Summary Record manual payment
// @Description Records a cash, cheque or bank transfer payment. The amount may not exceed the outstanding balance.
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.RecordPaymentRequest true "Payment"
// @Success 201 {object} domain.PaymentDTO
// @Failure 409 {object} domain.APIError "Quotation cannot receive payments"
// @Failure 422 {object} domain.APIError "Amount not positive or exceeds outstanding"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/payments [post]
func (h *PaymentHandler) RecordManual(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.RecordPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, err := h.paymentService.RecordManualPayment(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to record payment", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, payment)
}

// UpdateManual godoc
// @Summary Edit manual payment
// @Description The balance check excludes the payment being edited
// @Tags Payments
// @Accept json
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Param request body domain.UpdatePaymentRequest true "Payment"
// @Success 200 {object} domain.PaymentDTO
// @Failure 409 {object} domain.APIError "Not a manual payment"
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /payments/{paymentId} [put]
func (h *PaymentHandler) UpdateManual(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "paymentId")
	if !ok {
		return
	}

	var req domain.UpdatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, err := h.paymentService.UpdateManualPayment(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to update payment", zap.Error(err), zap.String("payment_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, payment)
}

// InitiateGateway godoc
// @Summary Start gateway payment
// @Description Opens a checkout for the outstanding balance of an accepted quotation
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.InitiateGatewayPaymentRequest false "Provider"
// @Success 201 {object} domain.GatewayCheckoutDTO
// @Failure 502 {object} domain.APIError "Provider error"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/payments/gateway [post]
func (h *PaymentHandler) InitiateGateway(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.InitiateGatewayPaymentRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	payment, checkoutURL, err := h.paymentService.InitiateGatewayPayment(r.Context(), id, req.Provider)
	if err != nil {
		h.logger.Error("failed to initiate gateway payment", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, domain.GatewayCheckoutDTO{Payment: payment, CheckoutURL: checkoutURL})
}

// Sync godoc
// @Summary Sync gateway payment
// @Description Pulls the provider's current state for a pending gateway payment
// @Tags Payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} domain.PaymentDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /payments/{paymentId}/sync [post]
func (h *PaymentHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "paymentId")
	if !ok {
		return
	}

	payment, err := h.paymentService.SyncGatewayPayment(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to sync payment", zap.Error(err), zap.String("payment_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, payment)
}

// Webhook godoc
// @Summary Payment provider webhook
// @Description Verifies the signature and settles the matching payment. Repeated deliveries are no-ops.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Param X-Webhook-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {object} domain.PaymentDTO
// @Failure 401 {object} domain.APIError "Bad signature"
// @Router /webhooks/payments/{provider} [post]
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.paymentService.HandleWebhook(r.Context(), provider, payload, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err), zap.String("provider", provider))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, payment)
}
