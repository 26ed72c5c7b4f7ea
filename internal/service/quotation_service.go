package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/mapper"
	"github.com/straye-as/quotation-api/internal/pricing"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QuotationRepositories groups the repositories the quotation service works with
type QuotationRepositories struct {
	Quotations  *repository.QuotationRepository
	Clients     *repository.ClientRepository
	AccessLinks *repository.AccessLinkRepository
	Responses   *repository.QuotationResponseRepository
	History     *repository.StatusHistoryRepository
	Users       *repository.UserRepository
}

// QuotationService handles quotation editing and the quotation lifecycle.
// Lifecycle methods live in quotation_lifecycle_service.go.
type QuotationService struct {
	db             *gorm.DB
	repos          QuotationRepositories
	numbers        *NumberSequenceService
	calculator     *pricing.Calculator
	archive        storage.Storage
	email          *EmailDeliveryService
	notify         *notifier
	cfg            *config.QuotationConfig
	snapshotPrefix string
	logger         *zap.Logger
	now            func() time.Time
}

// NewQuotationService creates a new QuotationService. archive, email and publisher may be nil.
func NewQuotationService(
	db *gorm.DB,
	repos QuotationRepositories,
	numbers *NumberSequenceService,
	calculator *pricing.Calculator,
	archive storage.Storage,
	email *EmailDeliveryService,
	publisher Publisher,
	cfg *config.QuotationConfig,
	snapshotPrefix string,
	logger *zap.Logger,
) *QuotationService {
	return &QuotationService{
		db:             db,
		repos:          repos,
		numbers:        numbers,
		calculator:     calculator,
		archive:        archive,
		email:          email,
		notify:         newNotifier(publisher, repos.Users, logger),
		cfg:            cfg,
		snapshotPrefix: snapshotPrefix,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service clock
func (s *QuotationService) SetClock(now func() time.Time) {
	s.now = now
}

// dateOnly truncates t to midnight UTC
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Create creates a draft quotation for a client the caller owns
func (s *QuotationService) Create(ctx context.Context, req *domain.CreateQuotationRequest) (*domain.QuotationDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	client, err := s.repos.Clients.GetByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if !userCtx.CanManage(client.OwnerID) {
		return nil, ErrNotOwner
	}

	quotationDate := dateOnly(req.QuotationDate)
	validUntil := dateOnly(req.ValidUntil)
	if validUntil.Before(quotationDate) {
		return nil, ErrInvalidValidityPeriod
	}

	currency := "INR"
	if s.cfg != nil && s.cfg.DefaultCurrency != "" {
		currency = s.cfg.DefaultCurrency
	}

	quotation := &domain.Quotation{
		Title:              req.Title,
		OwnerID:            userCtx.UserID,
		ClientID:           client.ID,
		Status:             domain.QuotationStatusDraft,
		QuotationDate:      quotationDate,
		ValidUntil:         validUntil,
		Currency:           currency,
		BuyerStateCode:     client.StateCode,
		DiscountPercentage: req.DiscountPercentage,
		Notes:              req.Notes,
		Terms:              req.Terms,
		Items:              buildLineItems(nil, req.Items),
	}
	if err := s.price(quotation); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.numbers.GenerateQuotationNumber(ctx, tx)
		if err != nil {
			return err
		}
		quotation.QuotationNumber = number

		if err := s.repos.Quotations.WithTx(tx).Create(ctx, quotation); err != nil {
			return fmt.Errorf("failed to create quotation: %w", err)
		}
		return s.recordTransition(ctx, tx, quotation.ID, "", domain.QuotationStatusDraft, &userCtx.UserID, "Quotation created", "")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation created",
		zap.String("quotation_id", quotation.ID.String()),
		zap.String("quotation_number", quotation.QuotationNumber),
		zap.String("total", quotation.TotalAmount.StringFixed(2)))

	return s.reload(ctx, quotation.ID)
}

// Update replaces the draft's fields and line items and recomputes totals
func (s *QuotationService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateQuotationRequest) (*domain.QuotationDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	quotationDate := dateOnly(req.QuotationDate)
	validUntil := dateOnly(req.ValidUntil)
	if validUntil.Before(quotationDate) {
		return nil, ErrInvalidValidityPeriod
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotations := s.repos.Quotations.WithTx(tx)
		quotation, err := s.loadForUpdate(ctx, quotations, id)
		if err != nil {
			return err
		}
		if !userCtx.CanManage(quotation.OwnerID) {
			return ErrNotOwner
		}
		if !quotation.Status.IsEditable() {
			return ErrQuotationNotEditable
		}

		quotation.Title = req.Title
		quotation.QuotationDate = quotationDate
		quotation.ValidUntil = validUntil
		quotation.DiscountPercentage = req.DiscountPercentage
		quotation.Notes = req.Notes
		quotation.Terms = req.Terms
		quotation.Items = buildLineItems(quotation.Items, req.Items)
		if err := s.price(quotation); err != nil {
			return err
		}

		if err := quotations.ReplaceItems(ctx, quotation.ID, quotation.Items); err != nil {
			return fmt.Errorf("failed to replace line items: %w", err)
		}
		if err := quotations.Update(ctx, quotation); err != nil {
			return fmt.Errorf("failed to update quotation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation updated", zap.String("quotation_id", id.String()))
	return s.reload(ctx, id)
}

// buildLineItems turns inputs into line items. Inputs naming an id of an existing item keep
// that item's id and sequence number; everything else gets a fresh sequence number.
func buildLineItems(existing []domain.LineItem, inputs []domain.LineItemInput) []domain.LineItem {
	byID := make(map[uuid.UUID]domain.LineItem, len(existing))
	nextSeq := 0
	for _, item := range existing {
		byID[item.ID] = item
		if item.SequenceNo > nextSeq {
			nextSeq = item.SequenceNo
		}
	}

	items := make([]domain.LineItem, 0, len(inputs))
	used := make(map[uuid.UUID]bool)
	for _, in := range inputs {
		item := domain.LineItem{
			Name:        in.Name,
			Description: in.Description,
			HSNCode:     in.HSNCode,
			Unit:        in.Unit,
			Quantity:    in.Quantity,
			UnitRate:    in.UnitRate,
		}
		if in.ID != nil {
			if prev, ok := byID[*in.ID]; ok && !used[prev.ID] {
				used[prev.ID] = true
				item.ID = prev.ID
				item.QuotationID = prev.QuotationID
				item.SequenceNo = prev.SequenceNo
				item.CreatedAt = prev.CreatedAt
			}
		}
		if item.SequenceNo == 0 {
			nextSeq++
			item.SequenceNo = nextSeq
		}
		items = append(items, item)
	}
	return items
}

// price recomputes line amounts, totals and the tax split of q in full
func (s *QuotationService) price(q *domain.Quotation) error {
	lines := make([]pricing.Line, len(q.Items))
	for i, item := range q.Items {
		lines[i] = pricing.Line{Quantity: item.Quantity, UnitRate: item.UnitRate}
	}

	result, err := s.calculator.Price(lines, q.DiscountPercentage, q.BuyerStateCode)
	if err != nil {
		return err
	}

	for i := range q.Items {
		q.Items[i].Amount = result.LineAmounts[i]
	}
	q.TaxRate = result.Tax.Rate
	q.Subtotal = result.Subtotal
	q.DiscountAmount = result.DiscountAmount
	q.CGSTAmount = result.Tax.CGST
	q.SGSTAmount = result.Tax.SGST
	q.IGSTAmount = result.Tax.IGST
	q.TaxAmount = result.Tax.TotalTax
	q.TotalAmount = result.Tax.Total
	return nil
}

// GetByID returns a quotation the caller may see
func (s *QuotationService) GetByID(ctx context.Context, id uuid.UUID) (*domain.QuotationDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	quotation, err := s.repos.Quotations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotationNotFound
		}
		return nil, fmt.Errorf("failed to get quotation: %w", err)
	}
	if !userCtx.CanManage(quotation.OwnerID) {
		return nil, ErrNotOwner
	}

	dto := mapper.ToQuotationDTO(quotation)
	return &dto, nil
}

// List returns the caller's quotations; admins see all of them
func (s *QuotationService) List(ctx context.Context, page, pageSize int, filters repository.QuotationFilters, sort repository.SortConfig) (*domain.PaginatedResponse, error) {
	if _, ok := auth.FromContext(ctx); !ok {
		return nil, ErrUserContextRequired
	}

	page, pageSize = repository.NormalizePage(page, pageSize)
	quotations, total, err := s.repos.Quotations.List(ctx, page, pageSize, filters, sort)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotations: %w", err)
	}

	dtos := make([]domain.QuotationDTO, len(quotations))
	for i := range quotations {
		dtos[i] = mapper.ToQuotationDTO(&quotations[i])
	}

	return &domain.PaginatedResponse{
		Data:       dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// GetStatusHistory returns the audit trail of a quotation, oldest first
func (s *QuotationService) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]domain.StatusHistoryDTO, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.repos.History.ListByQuotation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	dtos := make([]domain.StatusHistoryDTO, len(rows))
	for i := range rows {
		dtos[i] = mapper.ToStatusHistoryDTO(&rows[i])
	}
	return dtos, nil
}

// ListAccessLinks returns every link ever issued for a quotation, newest first
func (s *QuotationService) ListAccessLinks(ctx context.Context, id uuid.UUID) ([]domain.AccessLinkDTO, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	links, err := s.repos.AccessLinks.ListByQuotation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list access links: %w", err)
	}
	dtos := make([]domain.AccessLinkDTO, len(links))
	for i := range links {
		dtos[i] = mapper.ToAccessLinkDTO(&links[i], "")
	}
	return dtos, nil
}

// GetResponse returns the client response for a quotation, if any
func (s *QuotationService) GetResponse(ctx context.Context, id uuid.UUID) (*domain.QuotationResponseDTO, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	resp, err := s.repos.Responses.GetByQuotationID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: quotation response", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get quotation response: %w", err)
	}
	dto := mapper.ToQuotationResponseDTO(resp)
	return &dto, nil
}

// Delete soft-deletes a quotation by cancelling it. Only drafts and already cancelled
// quotations qualify; deleting a cancelled quotation is a no-op.
func (s *QuotationService) Delete(ctx context.Context, id uuid.UUID) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotation, err := s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), id)
		if err != nil {
			return err
		}
		if !userCtx.CanManage(quotation.OwnerID) {
			return ErrNotOwner
		}

		switch quotation.Status {
		case domain.QuotationStatusCancelled:
			return nil
		case domain.QuotationStatusDraft:
			return s.cancelLocked(ctx, tx, quotation, &userCtx.UserID, "Quotation deleted")
		default:
			return ErrQuotationNotDeletable
		}
	})
}

// Cancel moves a draft, open or expired quotation to Cancelled and retires its access links
func (s *QuotationService) Cancel(ctx context.Context, id uuid.UUID, req *domain.CancelQuotationRequest) (*domain.QuotationDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	reason := "Quotation cancelled"
	if req != nil && req.Reason != "" {
		reason = req.Reason
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotation, err := s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), id)
		if err != nil {
			return err
		}
		if !userCtx.CanManage(quotation.OwnerID) {
			return ErrNotOwner
		}
		if !quotation.Status.CanTransitionTo(domain.QuotationStatusCancelled) {
			return ErrQuotationNotCancelable
		}
		return s.cancelLocked(ctx, tx, quotation, &userCtx.UserID, reason)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation cancelled",
		zap.String("quotation_id", id.String()),
		zap.String("user_id", userCtx.UserID.String()))

	return s.reload(ctx, id)
}

// cancelLocked flips a locked quotation to Cancelled inside tx
func (s *QuotationService) cancelLocked(ctx context.Context, tx *gorm.DB, q *domain.Quotation, actor *uuid.UUID, reason string) error {
	now := s.now()
	previous := q.Status
	q.Status = domain.QuotationStatusCancelled
	q.CancelledAt = &now

	if err := s.repos.Quotations.WithTx(tx).Update(ctx, q); err != nil {
		return fmt.Errorf("failed to cancel quotation: %w", err)
	}
	if _, err := s.repos.AccessLinks.WithTx(tx).DeactivateActive(ctx, q.ID, now); err != nil {
		return fmt.Errorf("failed to deactivate access links: %w", err)
	}
	return s.recordTransition(ctx, tx, q.ID, previous, domain.QuotationStatusCancelled, actor, reason, "")
}

// recordTransition appends the audit row for a status change. It must run in the
// same transaction as the change so neither lands without the other.
func (s *QuotationService) recordTransition(ctx context.Context, tx *gorm.DB, quotationID uuid.UUID, from, to domain.QuotationStatus, actor *uuid.UUID, reason, ip string) error {
	entry := &domain.QuotationStatusHistory{
		QuotationID:    quotationID,
		PreviousStatus: string(from),
		NewStatus:      string(to),
		ChangedBy:      actor,
		Reason:         reason,
		IPAddress:      ip,
		CreatedAt:      s.now(),
	}
	if err := s.repos.History.WithTx(tx).Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

func (s *QuotationService) loadForUpdate(ctx context.Context, repo *repository.QuotationRepository, id uuid.UUID) (*domain.Quotation, error) {
	quotation, err := repo.GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotationNotFound
		}
		return nil, fmt.Errorf("failed to get quotation: %w", err)
	}
	return quotation, nil
}

func (s *QuotationService) reload(ctx context.Context, id uuid.UUID) (*domain.QuotationDTO, error) {
	quotation, err := s.repos.Quotations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload quotation: %w", err)
	}
	dto := mapper.ToQuotationDTO(quotation)
	return &dto, nil
}
