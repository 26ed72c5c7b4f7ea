package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, notification *domain.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// GetForRecipient loads a notification only if it belongs to recipientID
func (r *NotificationRepository) GetForRecipient(ctx context.Context, id, recipientID uuid.UUID) (*domain.Notification, error) {
	var notification domain.Notification
	err := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		First(&notification).Error
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

// ExistsSince reports whether the same recipient already got eventType for the entity at or after since
func (r *NotificationRepository) ExistsSince(ctx context.Context, recipientID, entityID uuid.UUID, eventType domain.NotificationEventType, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND related_entity_id = ? AND event_type = ?", recipientID, entityID, eventType).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count > 0, err
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, page, pageSize int, unreadOnly, includeArchived bool) ([]domain.Notification, int64, error) {
	var notifications []domain.Notification
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Notification{}).Where("recipient_id = ?", recipientID)

	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&notifications).Error

	return notifications, total, err
}

// MarkAsRead flags one notification read; the returned count is 0 when it does not belong to recipientID
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) Archive(ctx context.Context, id, recipientID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]interface{}{
			"archived":    true,
			"archived_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND read = ? AND archived = ?", recipientID, false, false).
		Count(&count).Error
	return count, err
}

func (r *NotificationRepository) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status domain.NotificationDeliveryStatus) error {
	return r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("delivery_status", status).Error
}
