package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/mapper"
	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultDedupWindow = 5 * time.Minute

// DedupGuard is a fast-path claim on a dedup key, e.g. a Redis SETNX.
// The database window check still runs when the guard is absent or unavailable.
type DedupGuard interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Pusher delivers a payload to a user's live sessions
type Pusher interface {
	SendToUser(ctx context.Context, userID uuid.UUID, payload interface{}) error
}

// Publisher is what workflows use to raise notifications
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// PublishRequest describes one notification to one recipient
type PublishRequest struct {
	RecipientID uuid.UUID
	EventType   domain.NotificationEventType
	EntityType  string
	EntityID    uuid.UUID
	Title       string
	Message     string
	Metadata    domain.JSONMap
	// Channels defaults to in-app and email when empty
	Channels []domain.NotificationChannel
}

// PublishOutcome distinguishes what Publish did
type PublishOutcome string

const (
	// PublishSuppressedDuplicate means the same event reached the recipient inside the dedup window
	PublishSuppressedDuplicate PublishOutcome = "suppressed_duplicate"
	// PublishSuppressedPreference means every requested channel is disabled or muted
	PublishSuppressedPreference PublishOutcome = "suppressed_preference"
	// PublishDispatched means the notification was stored and every enabled channel succeeded
	PublishDispatched PublishOutcome = "dispatched"
	// PublishPersistedChannelFailed means the notification was stored but at least one channel failed
	PublishPersistedChannelFailed PublishOutcome = "persisted_channel_failed"
)

// PublishResult is the outcome of one Publish call. NotificationID is uuid.Nil when suppressed.
type PublishResult struct {
	Outcome        PublishOutcome
	NotificationID uuid.UUID
	Channels       []domain.NotificationChannel
	FailedChannels []domain.NotificationChannel
}

// Suppressed reports whether nothing was persisted
func (r PublishResult) Suppressed() bool {
	return r.Outcome == PublishSuppressedDuplicate || r.Outcome == PublishSuppressedPreference
}

// Err returns domain.ErrDuplicateNotification for duplicates so callers that want an error can have one
func (r PublishResult) Err() error {
	if r.Outcome == PublishSuppressedDuplicate {
		return domain.ErrDuplicateNotification
	}
	return nil
}

// BulkPublishResult is the per-recipient outcome of BulkPublish
type BulkPublishResult struct {
	RecipientID uuid.UUID
	Result      PublishResult
	Err         error
}

// NotificationService orchestrates notifications: dedup, preferences, persistence and channel dispatch.
// It also serves the recipient's inbox.
type NotificationService struct {
	notificationRepo *repository.NotificationRepository
	preferenceRepo   *repository.NotificationPreferenceRepository
	userRepo         *repository.UserRepository
	email            *EmailDeliveryService
	pusher           Pusher
	guard            DedupGuard
	window           time.Duration
	logger           *zap.Logger
	now              func() time.Time
}

// NewNotificationService creates a new NotificationService. guard and pusher may be nil.
func NewNotificationService(
	notificationRepo *repository.NotificationRepository,
	preferenceRepo *repository.NotificationPreferenceRepository,
	userRepo *repository.UserRepository,
	email *EmailDeliveryService,
	pusher Pusher,
	guard DedupGuard,
	cfg *config.NotificationConfig,
	logger *zap.Logger,
) *NotificationService {
	window := defaultDedupWindow
	if cfg != nil && cfg.DedupWindowSeconds > 0 {
		window = time.Duration(cfg.DedupWindowSeconds) * time.Second
	}
	return &NotificationService{
		notificationRepo: notificationRepo,
		preferenceRepo:   preferenceRepo,
		userRepo:         userRepo,
		email:            email,
		pusher:           pusher,
		guard:            guard,
		window:           window,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service clock
func (s *NotificationService) SetClock(now func() time.Time) {
	s.now = now
}

func dedupKey(req PublishRequest) string {
	return fmt.Sprintf("%s:%s:%s:%s", req.RecipientID, req.EntityType, req.EntityID, req.EventType)
}

// Publish stores and dispatches one notification unless it is a duplicate or every channel is turned off.
// Channel failures are logged and reported in the result, never returned as an error.
func (s *NotificationService) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if req.RecipientID == uuid.Nil {
		return PublishResult{}, errors.New("notification recipient is required")
	}
	if req.EventType == "" {
		return PublishResult{}, errors.New("notification event type is required")
	}

	now := s.now()
	log := s.logger.With(
		zap.String("recipient_id", req.RecipientID.String()),
		zap.String("event_type", string(req.EventType)),
		zap.String("entity_id", req.EntityID.String()))

	key := dedupKey(req)
	claimed := false
	if s.guard != nil {
		ok, err := s.guard.Claim(ctx, key, s.window)
		switch {
		case err != nil:
			log.Warn("dedup guard unavailable, falling back to database check", zap.Error(err))
		case !ok:
			log.Debug("notification suppressed as duplicate")
			return PublishResult{Outcome: PublishSuppressedDuplicate}, nil
		default:
			claimed = true
		}
	}
	release := func() {
		if claimed {
			if err := s.guard.Release(ctx, key); err != nil {
				log.Warn("failed to release dedup key", zap.Error(err))
			}
		}
	}

	exists, err := s.notificationRepo.ExistsSince(ctx, req.RecipientID, req.EntityID, req.EventType, now.Add(-s.window))
	if err != nil {
		release()
		return PublishResult{}, fmt.Errorf("failed to check for duplicate notification: %w", err)
	}
	if exists {
		log.Debug("notification suppressed as duplicate")
		return PublishResult{Outcome: PublishSuppressedDuplicate}, nil
	}

	pref, err := s.preferencesFor(ctx, req.RecipientID)
	if err != nil {
		release()
		return PublishResult{}, err
	}

	requested := req.Channels
	if len(requested) == 0 {
		requested = domain.DefaultChannels()
	}
	var enabled domain.ChannelSet
	for _, ch := range requested {
		if ch.IsValid() && !enabled.Contains(ch) && pref.Allows(req.EventType, ch, now) {
			enabled = append(enabled, ch)
		}
	}
	if len(enabled) == 0 {
		release()
		log.Debug("notification suppressed by preferences")
		return PublishResult{Outcome: PublishSuppressedPreference}, nil
	}

	notification := &domain.Notification{
		RecipientID:       req.RecipientID,
		RelatedEntityType: req.EntityType,
		RelatedEntityID:   req.EntityID,
		EventType:         req.EventType,
		Title:             req.Title,
		Message:           req.Message,
		Channels:          enabled,
		DeliveryStatus:    domain.NotificationDeliveryPending,
		Metadata:          req.Metadata,
	}
	notification.CreatedAt = now
	notification.UpdatedAt = now

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		release()
		return PublishResult{}, fmt.Errorf("failed to create notification: %w", err)
	}

	failed := s.dispatch(ctx, notification, log)

	status := domain.NotificationDeliveryDelivered
	switch {
	case len(failed) == len(enabled):
		status = domain.NotificationDeliveryFailed
	case len(failed) > 0:
		status = domain.NotificationDeliveryPartial
	}
	if err := s.notificationRepo.UpdateDeliveryStatus(ctx, notification.ID, status); err != nil {
		log.Warn("failed to update delivery status", zap.Error(err))
	}

	result := PublishResult{
		Outcome:        PublishDispatched,
		NotificationID: notification.ID,
		Channels:       enabled,
		FailedChannels: failed,
	}
	if len(failed) > 0 {
		result.Outcome = PublishPersistedChannelFailed
	}
	return result, nil
}

// dispatch sends n on each of its channels and returns the channels that failed.
// Channels are independent: one failing never skips another.
func (s *NotificationService) dispatch(ctx context.Context, n *domain.Notification, log *zap.Logger) []domain.NotificationChannel {
	var failed []domain.NotificationChannel
	for _, ch := range n.Channels {
		var err error
		switch ch {
		case domain.ChannelInApp:
			err = s.pushInApp(ctx, n)
		case domain.ChannelEmail:
			err = s.sendEmail(ctx, n)
		}
		if err != nil {
			log.Warn("notification channel failed",
				zap.String("notification_id", n.ID.String()),
				zap.String("channel", string(ch)),
				zap.Error(err))
			failed = append(failed, ch)
		}
	}
	return failed
}

func (s *NotificationService) pushInApp(ctx context.Context, n *domain.Notification) error {
	if s.pusher == nil {
		return nil
	}
	return s.pusher.SendToUser(ctx, n.RecipientID, mapper.ToNotificationDTO(n))
}

func (s *NotificationService) sendEmail(ctx context.Context, n *domain.Notification) error {
	if s.email == nil {
		return errors.New("email delivery is not configured")
	}
	user, err := s.userRepo.GetByID(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient email: %w", err)
	}
	if user.Email == "" {
		return errors.New("recipient has no email address")
	}
	id := n.ID
	_, err = s.email.Send(ctx, &id, user.Email, n.Title, n.Message)
	return err
}

// BulkPublish publishes the same notification to each recipient in turn.
// A failure for one recipient does not stop the others.
func (s *NotificationService) BulkPublish(ctx context.Context, recipients []uuid.UUID, req PublishRequest) []BulkPublishResult {
	results := make([]BulkPublishResult, 0, len(recipients))
	seen := make(map[uuid.UUID]bool, len(recipients))
	for _, recipientID := range recipients {
		if recipientID == uuid.Nil || seen[recipientID] {
			continue
		}
		seen[recipientID] = true

		r := req
		r.RecipientID = recipientID
		res, err := s.Publish(ctx, r)
		if err != nil {
			s.logger.Warn("failed to publish notification",
				zap.String("recipient_id", recipientID.String()),
				zap.String("event_type", string(req.EventType)),
				zap.Error(err))
		}
		results = append(results, BulkPublishResult{RecipientID: recipientID, Result: res, Err: err})
	}
	return results
}

func (s *NotificationService) preferencesFor(ctx context.Context, userID uuid.UUID) (*domain.NotificationPreference, error) {
	pref, err := s.preferenceRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DefaultNotificationPreference(userID), nil
		}
		return nil, fmt.Errorf("failed to load notification preferences: %w", err)
	}
	return pref, nil
}

// ============================================================================
// Inbox
// ============================================================================

// List returns the current user's notifications, newest first
func (s *NotificationService) List(ctx context.Context, page, pageSize int, unreadOnly, includeArchived bool) (*domain.PaginatedResponse, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	page, pageSize = repository.NormalizePage(page, pageSize)
	notifications, total, err := s.notificationRepo.ListByRecipient(ctx, userCtx.UserID, page, pageSize, unreadOnly, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	dtos := make([]domain.NotificationDTO, len(notifications))
	for i := range notifications {
		dtos[i] = mapper.ToNotificationDTO(&notifications[i])
	}

	return &domain.PaginatedResponse{
		Data:       dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// GetByID returns one of the current user's notifications
func (s *NotificationService) GetByID(ctx context.Context, id uuid.UUID) (*domain.NotificationDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	notification, err := s.notificationRepo.GetForRecipient(ctx, id, userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	dto := mapper.ToNotificationDTO(notification)
	return &dto, nil
}

func (s *NotificationService) GetUnreadCount(ctx context.Context) (int64, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return 0, ErrUserContextRequired
	}
	count, err := s.notificationRepo.CountUnread(ctx, userCtx.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}
	n, err := s.notificationRepo.MarkAsRead(ctx, id, userCtx.UserID, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllAsRead returns how many notifications were flipped
func (s *NotificationService) MarkAllAsRead(ctx context.Context) (int64, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return 0, ErrUserContextRequired
	}
	n, err := s.notificationRepo.MarkAllAsRead(ctx, userCtx.UserID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	s.logger.Debug("marked notifications as read",
		zap.String("user_id", userCtx.UserID.String()),
		zap.Int64("count", n))
	return n, nil
}

func (s *NotificationService) Archive(ctx context.Context, id uuid.UUID) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}
	n, err := s.notificationRepo.Archive(ctx, id, userCtx.UserID, s.now())
	if err != nil {
		return fmt.Errorf("failed to archive notification: %w", err)
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// GetPreferences returns the current user's preferences, or the defaults when none are stored
func (s *NotificationService) GetPreferences(ctx context.Context) (*domain.NotificationPreferenceDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	pref, err := s.preferencesFor(ctx, userCtx.UserID)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToNotificationPreferenceDTO(pref)
	return &dto, nil
}

// UpdatePreferences merges req into the current user's preferences.
// Event settings in req replace the stored settings for the events they name.
func (s *NotificationService) UpdatePreferences(ctx context.Context, req *domain.UpdateNotificationPreferenceRequest) (*domain.NotificationPreferenceDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	pref, err := s.preferencesFor(ctx, userCtx.UserID)
	if err != nil {
		return nil, err
	}

	if req.InAppEnabled != nil {
		pref.InAppEnabled = *req.InAppEnabled
	}
	if req.EmailEnabled != nil {
		pref.EmailEnabled = *req.EmailEnabled
	}
	if len(req.EventSettings) > 0 {
		if pref.EventSettings == nil {
			pref.EventSettings = domain.PreferenceSettings{}
		}
		for event, channels := range req.EventSettings {
			pref.EventSettings[event] = channels
		}
	}
	pref.UpdatedAt = s.now()

	if err := s.preferenceRepo.Upsert(ctx, pref); err != nil {
		return nil, fmt.Errorf("failed to save notification preferences: %w", err)
	}

	s.logger.Info("notification preferences updated", zap.String("user_id", userCtx.UserID.String()))

	dto := mapper.ToNotificationPreferenceDTO(pref)
	return &dto, nil
}
