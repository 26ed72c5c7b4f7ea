package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
	"go.uber.org/zap"
)

// LiveSessions upgrades a request to a real-time push connection for a user
type LiveSessions interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID)
}

// NotificationHandler handles HTTP requests for the notification inbox, preferences and live stream
type NotificationHandler struct {
	notificationService *service.NotificationService
	sessions            LiveSessions
	logger              *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler instance. sessions may be nil.
func NewNotificationHandler(notificationService *service.NotificationService, sessions LiveSessions, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		sessions:            sessions,
		logger:              logger,
	}
}

// List godoc
// @Summary List notifications
// @Description Get paginated list of notifications for the current user
// @Tags Notifications
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param unreadOnly query bool false "Only unread notifications" default(false)
// @Param includeArchived query bool false "Include archived notifications" default(false)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.NotificationDTO}
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	unreadOnly := r.URL.Query().Get("unreadOnly") == "true"
	includeArchived := r.URL.Query().Get("includeArchived") == "true"

	result, err := h.notificationService.List(r.Context(), page, pageSize, unreadOnly, includeArchived)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetUnreadCount godoc
// @Summary Get unread notification count
// @Tags Notifications
// @Produce json
// @Success 200 {object} domain.UnreadCountDTO
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/count [get]
func (h *NotificationHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notificationService.GetUnreadCount(r.Context())
	if err != nil {
		h.logger.Error("failed to get unread count", zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, domain.UnreadCountDTO{Count: count})
}

// GetByID godoc
// @Summary Get notification by ID
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID" format(uuid)
// @Success 200 {object} domain.NotificationDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	notification, err := h.notificationService.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, notification)
}

// MarkAsRead godoc
// @Summary Mark notification as read
// @Tags Notifications
// @Param id path string true "Notification ID" format(uuid)
// @Success 204 "No Content"
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkAsRead(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllAsRead godoc
// @Summary Mark all notifications as read
// @Tags Notifications
// @Produce json
// @Success 200 {object} map[string]int64
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/read-all [put]
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.notificationService.MarkAllAsRead(r.Context())
	if err != nil {
		h.logger.Error("failed to mark all notifications as read", zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// Archive godoc
// @Summary Archive notification
// @Tags Notifications
// @Param id path string true "Notification ID" format(uuid)
// @Success 204 "No Content"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/{id}/archive [put]
func (h *NotificationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.notificationService.Archive(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences godoc
// @Summary Get notification preferences
// @Description Users without stored preferences get in-app only
// @Tags Notifications
// @Produce json
// @Success 200 {object} domain.NotificationPreferenceDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/preferences [get]
func (h *NotificationHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.notificationService.GetPreferences(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences godoc
// @Summary Update notification preferences
// @Tags Notifications
// @Accept json
// @Produce json
// @Param request body domain.UpdateNotificationPreferenceRequest true "Preferences"
// @Success 200 {object} domain.NotificationPreferenceDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /notifications/preferences [put]
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateNotificationPreferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	prefs, err := h.notificationService.UpdatePreferences(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to update notification preferences", zap.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, prefs)
}

// Stream godoc
// @Summary Live notification stream
// @Description Upgrades to a WebSocket that receives notifications as they are published. Browsers pass the JWT as access_token.
// @Tags Notifications
// @Param access_token query string false "JWT when headers cannot be set"
// @Success 101 "Switching Protocols"
// @Security BearerAuth
// @Router /ws/notifications [get]
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Live notifications are disabled")
		return
	}
	userCtx, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, service.ErrUserContextRequired)
		return
	}
	h.sessions.ServeWS(w, r, userCtx.UserID)
}
