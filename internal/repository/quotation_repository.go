package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotationFilters narrows List results
type QuotationFilters struct {
	Status   *domain.QuotationStatus
	ClientID *uuid.UUID
	Search   string
}

var quotationSortFields = map[string]string{
	"createdAt":       "created_at",
	"updatedAt":       "updated_at",
	"quotationDate":   "quotation_date",
	"validUntil":      "valid_until",
	"totalAmount":     "total_amount",
	"quotationNumber": "quotation_number",
}

type QuotationRepository struct {
	db *gorm.DB
}

func NewQuotationRepository(db *gorm.DB) *QuotationRepository {
	return &QuotationRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *QuotationRepository) WithTx(tx *gorm.DB) *QuotationRepository {
	return &QuotationRepository{db: tx}
}

// Create inserts the quotation together with its line items
func (r *QuotationRepository) Create(ctx context.Context, q *domain.Quotation) error {
	return r.db.WithContext(ctx).Omit("Client").Create(q).Error
}

func (r *QuotationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Quotation, error) {
	var q domain.Quotation
	err := r.db.WithContext(ctx).
		Preload("Client").
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_no ASC")
		}).
		Where("id = ?", id).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetByIDForUpdate loads the quotation row with a row lock; line items are loaded too
func (r *QuotationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Quotation, error) {
	var q domain.Quotation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("quotation_id = ?", id).
		Order("sequence_no ASC").
		Find(&q.Items).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// Update saves the quotation's own columns; line items are handled by ReplaceItems
func (r *QuotationRepository) Update(ctx context.Context, q *domain.Quotation) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(q).Error
}

// ReplaceItems makes items the complete line item set of the quotation.
// Items with an id are updated in place, items without one are inserted, and
// stored items missing from the set are deleted.
func (r *QuotationRepository) ReplaceItems(ctx context.Context, quotationID uuid.UUID, items []domain.LineItem) error {
	db := r.db.WithContext(ctx)

	keep := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.ID != uuid.Nil {
			keep = append(keep, item.ID)
		}
	}

	del := db.Where("quotation_id = ?", quotationID)
	if len(keep) > 0 {
		del = del.Where("id NOT IN ?", keep)
	}
	if err := del.Delete(&domain.LineItem{}).Error; err != nil {
		return err
	}

	for i := range items {
		items[i].QuotationID = quotationID
		if items[i].ID == uuid.Nil {
			if err := db.Create(&items[i]).Error; err != nil {
				return err
			}
			continue
		}
		if err := db.Save(&items[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *QuotationRepository) List(ctx context.Context, page, pageSize int, filters QuotationFilters, sort SortConfig) ([]domain.Quotation, int64, error) {
	var quotations []domain.Quotation
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Quotation{})
	query = ApplyOwnerScope(ctx, query, "owner_id")

	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.ClientID != nil {
		query = query.Where("client_id = ?", *filters.ClientID)
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(quotation_number) LIKE ?", pattern, pattern)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	err := query.Preload("Client").
		Order(BuildOrderClause(sort, quotationSortFields, "created_at")).
		Offset(offset).Limit(pageSize).
		Find(&quotations).Error

	return quotations, total, err
}

// ListAwaitingClientBefore returns Sent/Viewed quotations whose validity ended before cutoff
func (r *QuotationRepository) ListAwaitingClientBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Quotation, error) {
	var quotations []domain.Quotation
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.QuotationStatus{domain.QuotationStatusSent, domain.QuotationStatusViewed}).
		Where("valid_until < ?", cutoff).
		Order("valid_until ASC").
		Limit(limit).
		Find(&quotations).Error
	return quotations, err
}

// ListExpiringBetween returns Sent/Viewed quotations with validity ending in [from, to)
func (r *QuotationRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Quotation, error) {
	var quotations []domain.Quotation
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.QuotationStatus{domain.QuotationStatusSent, domain.QuotationStatusViewed}).
		Where("valid_until >= ? AND valid_until < ?", from, to).
		Order("valid_until ASC").
		Find(&quotations).Error
	return quotations, err
}
