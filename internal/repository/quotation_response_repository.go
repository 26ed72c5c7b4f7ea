package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
)

type QuotationResponseRepository struct {
	db *gorm.DB
}

func NewQuotationResponseRepository(db *gorm.DB) *QuotationResponseRepository {
	return &QuotationResponseRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *QuotationResponseRepository) WithTx(tx *gorm.DB) *QuotationResponseRepository {
	return &QuotationResponseRepository{db: tx}
}

// Create inserts the response. The unique index on quotation_id rejects a second one.
func (r *QuotationResponseRepository) Create(ctx context.Context, resp *domain.QuotationResponse) error {
	return r.db.WithContext(ctx).Create(resp).Error
}

func (r *QuotationResponseRepository) GetByQuotationID(ctx context.Context, quotationID uuid.UUID) (*domain.QuotationResponse, error) {
	var resp domain.QuotationResponse
	err := r.db.WithContext(ctx).Where("quotation_id = ?", quotationID).First(&resp).Error
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *QuotationResponseRepository) CountByQuotation(ctx context.Context, quotationID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.QuotationResponse{}).
		Where("quotation_id = ?", quotationID).
		Count(&count).Error
	return count, err
}
