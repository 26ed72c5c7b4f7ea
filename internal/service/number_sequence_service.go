package service

import (
	"context"
	"fmt"
	"time"

	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NumberSequenceService generates quotation numbers.
//
// Format: {PREFIX}-{YEAR}-{SEQUENCE}
// Example: QT-2026-0042
type NumberSequenceService struct {
	repo   *repository.NumberSequenceRepository
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewNumberSequenceService creates a new NumberSequenceService
func NewNumberSequenceService(repo *repository.NumberSequenceRepository, prefix string, logger *zap.Logger) *NumberSequenceService {
	if prefix == "" {
		prefix = "QT"
	}
	return &NumberSequenceService{
		repo:   repo,
		prefix: prefix,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GenerateQuotationNumber returns the next quotation number for the current year.
// Pass a non-nil tx to take the number inside a caller's transaction.
func (s *NumberSequenceService) GenerateQuotationNumber(ctx context.Context, tx *gorm.DB) (string, error) {
	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}

	year := s.now().Year()
	next, err := repo.GetNextNumber(ctx, s.prefix, year)
	if err != nil {
		s.logger.Error("failed to get next sequence number",
			zap.String("prefix", s.prefix),
			zap.Int("year", year),
			zap.Error(err))
		return "", fmt.Errorf("failed to generate quotation number: %w", err)
	}

	number := fmt.Sprintf("%s-%d-%04d", s.prefix, year, next)
	s.logger.Debug("generated number", zap.String("number", number))
	return number, nil
}

// GetCurrentSequence returns the last issued sequence for year without incrementing it
func (s *NumberSequenceService) GetCurrentSequence(ctx context.Context, year int) (int, error) {
	return s.repo.GetCurrentSequence(ctx, s.prefix, year)
}
