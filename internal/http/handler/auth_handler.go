package handler

import (
	"net/http"

	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
)

var approvalLevels = []domain.ApprovalLevel{
	domain.ApprovalLevelAuto,
	domain.ApprovalLevelManager,
	domain.ApprovalLevelAdmin,
}

type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me godoc
// @Summary Get current authenticated user
// @Description Returns the caller's roles and the refund and adjustment approval levels they may decide
// @Tags Auth
// @Produce json
// @Success 200 {object} domain.AuthUserDTO
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, service.ErrUserContextRequired)
		return
	}

	levels := make([]domain.ApprovalLevel, 0, len(approvalLevels))
	for _, level := range approvalLevels {
		if userCtx.CanApprove(level) {
			levels = append(levels, level)
		}
	}

	respondJSON(w, http.StatusOK, domain.AuthUserDTO{
		ID:             userCtx.UserID,
		Name:           userCtx.DisplayName,
		Email:          userCtx.Email,
		Roles:          userCtx.RolesAsStrings(),
		IsAdmin:        userCtx.IsAdmin(),
		ApprovalLevels: levels,
	})
}
