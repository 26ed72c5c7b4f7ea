package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
)

type EmailLogRepository struct {
	db *gorm.DB
}

func NewEmailLogRepository(db *gorm.DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

func (r *EmailLogRepository) Create(ctx context.Context, log *domain.EmailDeliveryLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *EmailLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailDeliveryLog, error) {
	var log domain.EmailDeliveryLog
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *EmailLogRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.EmailDeliveryLog, error) {
	var log domain.EmailDeliveryLog
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *EmailLogRepository) Update(ctx context.Context, log *domain.EmailDeliveryLog) error {
	return r.db.WithContext(ctx).Save(log).Error
}

// ListRetryable returns FAILED logs that have been retried fewer than maxRetries times, oldest attempt first
func (r *EmailLogRepository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]domain.EmailDeliveryLog, error) {
	var logs []domain.EmailDeliveryLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", domain.EmailStatusFailed, maxRetries).
		Order("last_attempt_at ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (r *EmailLogRepository) ListByNotification(ctx context.Context, notificationID uuid.UUID) ([]domain.EmailDeliveryLog, error) {
	var logs []domain.EmailDeliveryLog
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
