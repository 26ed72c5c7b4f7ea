package handler

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

const maxUserAgentLength = 500

// PortalHandler serves the public client portal. Requests authenticate with the access token in the path.
type PortalHandler struct {
	quotationService *service.QuotationService
	logger           *zap.Logger
}

// NewPortalHandler creates a new PortalHandler instance
func NewPortalHandler(quotationService *service.QuotationService, logger *zap.Logger) *PortalHandler {
	return &PortalHandler{
		quotationService: quotationService,
		logger:           logger,
	}
}

// clientAccessInfo captures where a portal request came from. Forwarding headers
// are only honoured through RealIP, which the router installs for trusted proxies.
func clientAccessInfo(r *http.Request) domain.ClientAccessInfo {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	ua := r.UserAgent()
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return domain.ClientAccessInfo{IPAddress: ip, UserAgent: ua}
}

// View godoc
// @Summary View quotation through an access link
// @Description Records the view and returns the client-facing quotation. The first view moves SENT to VIEWED.
// @Tags Portal
// @Produce json
// @Param token path string true "Access token"
// @Success 200 {object} domain.PortalQuotationDTO
// @Failure 404 {object} domain.APIError "Unknown token"
// @Failure 410 {object} domain.APIError "Link expired or deactivated"
// @Router /portal/quotations/{token} [get]
func (h *PortalHandler) View(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "Missing token")
		return
	}

	quotation, err := h.quotationService.MarkViewed(r.Context(), token, clientAccessInfo(r))
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.Error("failed to record portal view", zap.Error(err))
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quotation)
}

// Respond godoc
// @Summary Submit client response
// @Description Accepts or rejects the quotation. Any other responseType is recorded without a status change.
// @Tags Portal
// @Accept json
// @Produce json
// @Param token path string true "Access token"
// @Param request body domain.SubmitResponseRequest true "Response"
// @Success 201 {object} domain.QuotationResponseDTO
// @Failure 409 {object} domain.APIError "Already responded"
// @Failure 410 {object} domain.APIError "Link expired or deactivated"
// @Router /portal/quotations/{token}/response [post]
func (h *PortalHandler) Respond(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "Missing token")
		return
	}

	var req domain.SubmitResponseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.quotationService.SubmitResponse(r.Context(), token, &req, clientAccessInfo(r))
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.Error("failed to record client response", zap.Error(err))
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, response)
}
