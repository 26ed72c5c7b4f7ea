package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
)

// StatusHistoryRepository is append-only: there is no update or delete
type StatusHistoryRepository struct {
	db *gorm.DB
}

func NewStatusHistoryRepository(db *gorm.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *StatusHistoryRepository) WithTx(tx *gorm.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: tx}
}

func (r *StatusHistoryRepository) Create(ctx context.Context, entry *domain.QuotationStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *StatusHistoryRepository) ListByQuotation(ctx context.Context, quotationID uuid.UUID) ([]domain.QuotationStatusHistory, error) {
	var entries []domain.QuotationStatusHistory
	err := r.db.WithContext(ctx).
		Where("quotation_id = ?", quotationID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
