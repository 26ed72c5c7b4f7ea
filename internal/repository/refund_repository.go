package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefundFilters narrows List results
type RefundFilters struct {
	Status      *domain.RefundStatus
	QuotationID *uuid.UUID
	PaymentID   *uuid.UUID
}

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *RefundRepository) WithTx(tx *gorm.DB) *RefundRepository {
	return &RefundRepository{db: tx}
}

func (r *RefundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	return r.db.WithContext(ctx).Omit("Payment").Create(refund).Error
}

func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	var refund domain.Refund
	err := r.db.WithContext(ctx).Preload("Payment").Where("id = ?", id).First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetByIDForUpdate locks the refund row; the payment is not preloaded
func (r *RefundRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	var refund domain.Refund
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *RefundRepository) Update(ctx context.Context, refund *domain.Refund) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(refund).Error
}

func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error) {
	var refunds []domain.Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

func (r *RefundRepository) List(ctx context.Context, page, pageSize int, filters RefundFilters) ([]domain.Refund, int64, error) {
	var refunds []domain.Refund
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Refund{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.QuotationID != nil {
		query = query.Where("quotation_id = ?", *filters.QuotationID)
	}
	if filters.PaymentID != nil {
		query = query.Where("payment_id = ?", *filters.PaymentID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&refunds).Error

	return refunds, total, err
}

// RefundTimelineRepository is append-only
type RefundTimelineRepository struct {
	db *gorm.DB
}

func NewRefundTimelineRepository(db *gorm.DB) *RefundTimelineRepository {
	return &RefundTimelineRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *RefundTimelineRepository) WithTx(tx *gorm.DB) *RefundTimelineRepository {
	return &RefundTimelineRepository{db: tx}
}

func (r *RefundTimelineRepository) Append(ctx context.Context, entry *domain.RefundTimeline) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *RefundTimelineRepository) ListByRefund(ctx context.Context, refundID uuid.UUID) ([]domain.RefundTimeline, error) {
	var entries []domain.RefundTimeline
	err := r.db.WithContext(ctx).
		Where("refund_id = ?", refundID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
