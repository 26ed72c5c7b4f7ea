package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/mailer"
	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultEmailMaxRetries = 3
	defaultEmailRetryBatch = 50
)

// EmailRetryReport summarizes one retry sweep
type EmailRetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// EmailDeliveryService sends email through the mailer and keeps a delivery log per message.
// Failed sends are retried by RetryFailed until the log has been retried maxRetries times.
type EmailDeliveryService struct {
	logs       *repository.EmailLogRepository
	sender     mailer.Sender
	maxRetries int
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

func NewEmailDeliveryService(logs *repository.EmailLogRepository, sender mailer.Sender, maxRetries, batchSize int, logger *zap.Logger) *EmailDeliveryService {
	if maxRetries <= 0 {
		maxRetries = defaultEmailMaxRetries
	}
	if batchSize <= 0 {
		batchSize = defaultEmailRetryBatch
	}
	return &EmailDeliveryService{
		logs:       logs,
		sender:     sender,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// MaxRetries is the retry cap per log
func (s *EmailDeliveryService) MaxRetries() int {
	return s.maxRetries
}

// Send attempts delivery once and records the attempt. The log is persisted even when the send fails,
// in which case the send error is returned alongside it.
func (s *EmailDeliveryService) Send(ctx context.Context, notificationID *uuid.UUID, to, subject, body string) (*domain.EmailDeliveryLog, error) {
	entry := &domain.EmailDeliveryLog{
		NotificationID: notificationID,
		Recipient:      to,
		Subject:        subject,
		Body:           body,
	}

	sendErr := s.attempt(ctx, entry)

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record email delivery",
			zap.String("recipient", to),
			zap.Error(err))
		if sendErr != nil {
			return nil, sendErr
		}
		return nil, fmt.Errorf("failed to record email delivery: %w", err)
	}

	return entry, sendErr
}

// attempt sends entry and stamps the outcome on it without persisting
func (s *EmailDeliveryService) attempt(ctx context.Context, entry *domain.EmailDeliveryLog) error {
	entry.LastAttemptAt = s.now()

	result, err := s.sender.Send(ctx, entry.Recipient, entry.Subject, entry.Body)
	if err != nil {
		entry.Status = domain.EmailStatusFailed
		entry.LastError = err.Error()
		s.logger.Warn("email send failed",
			zap.String("recipient", entry.Recipient),
			zap.Int("retry_count", entry.RetryCount),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	entry.Status = domain.EmailStatusSent
	entry.LastError = ""
	if result != nil {
		entry.MessageID = result.MessageID
	}
	return nil
}

// RetryFailed resends FAILED logs whose retry count is under the cap
func (s *EmailDeliveryService) RetryFailed(ctx context.Context) (*EmailRetryReport, error) {
	logs, err := s.logs.ListRetryable(ctx, s.maxRetries, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable emails: %w", err)
	}

	report := &EmailRetryReport{}
	for i := range logs {
		if ctx.Err() != nil {
			break
		}
		entry := &logs[i]
		report.Attempted++

		entry.RetryCount++
		sendErr := s.attempt(ctx, entry)
		if err := s.logs.Update(ctx, entry); err != nil {
			s.logger.Error("failed to update email delivery log",
				zap.String("email_log_id", entry.ID.String()),
				zap.Error(err))
		}

		if sendErr != nil {
			report.Failed++
			if entry.RetryCount >= s.maxRetries {
				s.logger.Warn("email retries exhausted",
					zap.String("email_log_id", entry.ID.String()),
					zap.String("recipient", entry.Recipient))
			}
			continue
		}
		report.Succeeded++
	}

	if report.Attempted > 0 {
		s.logger.Info("email retry sweep finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// RetryFailedEmails runs RetryFailed and reports only the counts
func (s *EmailDeliveryService) RetryFailedEmails(ctx context.Context) (succeeded int, failed int, err error) {
	report, err := s.RetryFailed(ctx)
	if err != nil {
		return 0, 0, err
	}
	return report.Succeeded, report.Failed, nil
}

// MarkDelivered records the provider's delivery confirmation for messageID
func (s *EmailDeliveryService) MarkDelivered(ctx context.Context, messageID string) error {
	entry, err := s.logs.GetByMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEmailLogNotFound
		}
		return fmt.Errorf("failed to get email log: %w", err)
	}
	if entry.Status == domain.EmailStatusDelivered {
		return nil
	}

	now := s.now()
	entry.Status = domain.EmailStatusDelivered
	entry.DeliveredAt = &now
	if err := s.logs.Update(ctx, entry); err != nil {
		return fmt.Errorf("failed to update email log: %w", err)
	}
	return nil
}
