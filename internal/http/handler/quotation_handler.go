package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

// QuotationHandler handles HTTP requests for quotations and their lifecycle
type QuotationHandler struct {
	quotationService *service.QuotationService
	logger           *zap.Logger
}

// NewQuotationHandler creates a new QuotationHandler instance
func NewQuotationHandler(quotationService *service.QuotationService, logger *zap.Logger) *QuotationHandler {
	return &QuotationHandler{
		quotationService: quotationService,
		logger:           logger,
	}
}

// List godoc
// @Summary List quotations
// @Description Paginated quotations visible to the caller. Sales reps only see their own.
// @Tags Quotations
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param status query string false "Filter by status" Enums(DRAFT, SENT, VIEWED, ACCEPTED, REJECTED, EXPIRED, CANCELLED)
// @Param clientId query string false "Filter by client ID"
// @Param search query string false "Search in number and title"
// @Param sortBy query string false "Sort field" default(createdAt)
// @Param sortOrder query string false "Sort order" Enums(asc, desc) default(desc)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.QuotationDTO}
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations [get]
func (h *QuotationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	query := r.URL.Query()

	var filters repository.QuotationFilters
	if s := query.Get("status"); s != "" {
		status := domain.QuotationStatus(s)
		if !status.IsValid() {
			respondWithError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filters.Status = &status
	}
	if c := query.Get("clientId"); c != "" {
		clientID, err := uuid.Parse(c)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid clientId")
			return
		}
		filters.ClientID = &clientID
	}
	filters.Search = query.Get("search")

	sort := repository.DefaultSortConfig()
	if field := query.Get("sortBy"); field != "" {
		sort.Field = field
	}
	sort.Order = repository.ParseSortOrder(query.Get("sortOrder"))

	result, err := h.quotationService.List(r.Context(), page, pageSize, filters, sort)
	if err != nil {
		h.logger.Error("failed to list quotations", zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create godoc
// @Summary Create quotation
// @Description Creates a draft quotation. Totals and GST are computed server side.
// @Tags Quotations
// @Accept json
// @Produce json
// @Param request body domain.CreateQuotationRequest true "Quotation"
// @Success 201 {object} domain.QuotationDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError "Client not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations [post]
func (h *QuotationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateQuotationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create quotation", zap.Error(err), zap.String("client_id", req.ClientID.String()))
		respondError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/quotations/"+quotation.ID.String())
	respondJSON(w, http.StatusCreated, quotation)
}

// GetByID godoc
// @Summary Get quotation
// @Tags Quotations
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {object} domain.QuotationDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id} [get]
func (h *QuotationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	quotation, err := h.quotationService.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quotation)
}

// Update godoc
// @Summary Update draft quotation
// @Description Replaces the header and line items of a draft and recomputes totals
// @Tags Quotations
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.UpdateQuotationRequest true "Quotation"
// @Success 200 {object} domain.QuotationDTO
// @Failure 409 {object} domain.APIError "Quotation is not a draft"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id} [put]
func (h *QuotationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.UpdateQuotationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.Update(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to update quotation", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quotation)
}

// Delete godoc
// @Summary Delete quotation
// @Description Only draft or cancelled quotations can be deleted
// @Tags Quotations
// @Param id path string true "Quotation ID"
// @Success 204
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id} [delete]
func (h *QuotationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.quotationService.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete quotation", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Send godoc
// @Summary Send quotation to client
// @Description Moves a draft to SENT, issues a client access link and emails it
// @Tags Quotations
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.SendQuotationRequest false "Recipient override and message"
// @Success 200 {object} domain.SendQuotationResultDTO
// @Failure 403 {object} domain.APIError "Only the creator may send"
// @Failure 409 {object} domain.APIError "Quotation is not a draft"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/send [post]
func (h *QuotationHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.SendQuotationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.quotationService.Send(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to send quotation", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Resend godoc
// @Summary Resend quotation
// @Description Issues a fresh access link, optionally deactivating earlier ones
// @Tags Quotations
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.ResendQuotationRequest false "Resend options"
// @Success 200 {object} domain.SendQuotationResultDTO
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/resend [post]
func (h *QuotationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.ResendQuotationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.quotationService.Resend(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to resend quotation", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Cancel godoc
// @Summary Cancel quotation
// @Tags Quotations
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param request body domain.CancelQuotationRequest false "Reason"
// @Success 200 {object} domain.QuotationDTO
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/cancel [post]
func (h *QuotationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.CancelQuotationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.Cancel(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to cancel quotation", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quotation)
}

// Expire godoc
// @Summary Expire quotation now
// @Description Expires a SENT or VIEWED quotation whose validity has ended. Returns whether anything changed.
// @Tags Quotations
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {object} map[string]bool
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/expire [post]
func (h *QuotationHandler) Expire(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	expired, err := h.quotationService.MarkExpired(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to expire quotation", zap.Error(err), zap.String("quotation_id", id.String()))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"expired": expired})
}

// GetStatusHistory godoc
// @Summary Quotation status history
// @Tags Quotations
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {array} domain.StatusHistoryDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/history [get]
func (h *QuotationHandler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	history, err := h.quotationService.GetStatusHistory(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// ListAccessLinks godoc
// @Summary Quotation access links
// @Description Lists the client links issued for a quotation. Tokens are never returned.
// @Tags Quotations
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {array} domain.AccessLinkDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/links [get]
func (h *QuotationHandler) ListAccessLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	links, err := h.quotationService.ListAccessLinks(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, links)
}

// GetResponse godoc
// @Summary Client response
// @Tags Quotations
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {object} domain.QuotationResponseDTO
// @Failure 404 {object} domain.APIError "No response yet"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotations/{id}/response [get]
func (h *QuotationHandler) GetResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	response, err := h.quotationService.GetResponse(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, response)
}
