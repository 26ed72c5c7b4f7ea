package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AdjustmentRepository struct {
	db *gorm.DB
}

func NewAdjustmentRepository(db *gorm.DB) *AdjustmentRepository {
	return &AdjustmentRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *AdjustmentRepository) WithTx(tx *gorm.DB) *AdjustmentRepository {
	return &AdjustmentRepository{db: tx}
}

func (r *AdjustmentRepository) Create(ctx context.Context, adj *domain.Adjustment) error {
	return r.db.WithContext(ctx).Create(adj).Error
}

func (r *AdjustmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Adjustment, error) {
	var adj domain.Adjustment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&adj).Error
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (r *AdjustmentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Adjustment, error) {
	var adj domain.Adjustment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&adj).Error
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (r *AdjustmentRepository) Update(ctx context.Context, adj *domain.Adjustment) error {
	return r.db.WithContext(ctx).Save(adj).Error
}

func (r *AdjustmentRepository) ListByQuotation(ctx context.Context, quotationID uuid.UUID) ([]domain.Adjustment, error) {
	var adjustments []domain.Adjustment
	err := r.db.WithContext(ctx).
		Where("quotation_id = ?", quotationID).
		Order("created_at DESC").
		Find(&adjustments).Error
	return adjustments, err
}

// AdjustmentTimelineRepository is append-only
type AdjustmentTimelineRepository struct {
	db *gorm.DB
}

func NewAdjustmentTimelineRepository(db *gorm.DB) *AdjustmentTimelineRepository {
	return &AdjustmentTimelineRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *AdjustmentTimelineRepository) WithTx(tx *gorm.DB) *AdjustmentTimelineRepository {
	return &AdjustmentTimelineRepository{db: tx}
}

func (r *AdjustmentTimelineRepository) Append(ctx context.Context, entry *domain.AdjustmentTimeline) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AdjustmentTimelineRepository) ListByAdjustment(ctx context.Context, adjustmentID uuid.UUID) ([]domain.AdjustmentTimeline, error) {
	var entries []domain.AdjustmentTimeline
	err := r.db.WithContext(ctx).
		Where("adjustment_id = ?", adjustmentID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
