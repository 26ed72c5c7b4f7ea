package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccessLinkRepository struct {
	db *gorm.DB
}

func NewAccessLinkRepository(db *gorm.DB) *AccessLinkRepository {
	return &AccessLinkRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *AccessLinkRepository) WithTx(tx *gorm.DB) *AccessLinkRepository {
	return &AccessLinkRepository{db: tx}
}

func (r *AccessLinkRepository) Create(ctx context.Context, link *domain.QuotationAccessLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

// GetByTokenHashForUpdate loads and locks the link matching the hashed token
func (r *AccessLinkRepository) GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*domain.QuotationAccessLink, error) {
	var link domain.QuotationAccessLink
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", tokenHash).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *AccessLinkRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.QuotationAccessLink, error) {
	var link domain.QuotationAccessLink
	err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *AccessLinkRepository) Update(ctx context.Context, link *domain.QuotationAccessLink) error {
	return r.db.WithContext(ctx).Save(link).Error
}

// DeactivateActive retires every active link of a quotation and returns how many changed
func (r *AccessLinkRepository) DeactivateActive(ctx context.Context, quotationID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.QuotationAccessLink{}).
		Where("quotation_id = ? AND is_active = ?", quotationID, true).
		Updates(map[string]interface{}{
			"is_active":      false,
			"deactivated_at": at,
			"updated_at":     at,
		})
	return result.RowsAffected, result.Error
}

func (r *AccessLinkRepository) ListByQuotation(ctx context.Context, quotationID uuid.UUID) ([]domain.QuotationAccessLink, error) {
	var links []domain.QuotationAccessLink
	err := r.db.WithContext(ctx).
		Where("quotation_id = ?", quotationID).
		Order("created_at DESC").
		Find(&links).Error
	return links, err
}
