package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/mapper"
	"github.com/straye-as/quotation-api/internal/pricing"
	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdjustmentService runs the adjustment approval workflow. Applying an adjustment
// changes quotation totals; no money moves.
type AdjustmentService struct {
	db             *gorm.DB
	adjustmentRepo *repository.AdjustmentRepository
	timelineRepo   *repository.AdjustmentTimelineRepository
	quotationRepo  *repository.QuotationRepository
	paymentRepo    *repository.PaymentRepository
	tax            *pricing.TaxCalculator
	notify         *notifier
	logger         *zap.Logger
	now            func() time.Time
}

func NewAdjustmentService(
	db *gorm.DB,
	adjustmentRepo *repository.AdjustmentRepository,
	timelineRepo *repository.AdjustmentTimelineRepository,
	quotationRepo *repository.QuotationRepository,
	paymentRepo *repository.PaymentRepository,
	userRepo *repository.UserRepository,
	tax *pricing.TaxCalculator,
	publisher Publisher,
	logger *zap.Logger,
) *AdjustmentService {
	return &AdjustmentService{
		db:             db,
		adjustmentRepo: adjustmentRepo,
		timelineRepo:   timelineRepo,
		quotationRepo:  quotationRepo,
		paymentRepo:    paymentRepo,
		tax:            tax,
		notify:         newNotifier(publisher, userRepo, logger),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// currentAmount is the quotation field an adjustment of type t changes
func currentAmount(q *domain.Quotation, t domain.AdjustmentType) decimal.Decimal {
	switch t {
	case domain.AdjustmentTypeDiscountChange:
		return q.DiscountAmount
	case domain.AdjustmentTypeTaxCorrection:
		return q.TaxAmount
	default:
		return q.Subtotal
	}
}

// ApplyAdjustment moves the field selected by adj.Type by the adjustment's delta
// and recomputes the total. Tax corrections are split across CGST and SGST for
// intra-state quotations and land on IGST otherwise.
func ApplyAdjustment(q *domain.Quotation, adj *domain.Adjustment, intraState bool) {
	delta := adj.Delta()
	switch adj.Type {
	case domain.AdjustmentTypeDiscountChange:
		q.DiscountAmount = q.DiscountAmount.Add(delta)
	case domain.AdjustmentTypeAmountCorrection:
		q.Subtotal = q.Subtotal.Add(delta)
	case domain.AdjustmentTypeTaxCorrection:
		if intraState {
			half := delta.Div(decimal.NewFromInt(2)).Round(2)
			q.CGSTAmount = q.CGSTAmount.Add(half)
			q.SGSTAmount = q.SGSTAmount.Add(delta.Sub(half))
		} else {
			q.IGSTAmount = q.IGSTAmount.Add(delta)
		}
		q.TaxAmount = q.TaxAmount.Add(delta)
	}
	q.TotalAmount = q.Subtotal.Add(q.TaxAmount).Sub(q.DiscountAmount)
}

// quotationFigures is the ledger snapshot recorded when an adjustment is applied
func quotationFigures(q *domain.Quotation) domain.JSONMap {
	return domain.JSONMap{
		"subtotal":       q.Subtotal.StringFixed(2),
		"discountAmount": q.DiscountAmount.StringFixed(2),
		"taxAmount":      q.TaxAmount.StringFixed(2),
		"totalAmount":    q.TotalAmount.StringFixed(2),
	}
}

// checkAgainstPaid fails when applying adj would push the total under what has been paid
func (s *AdjustmentService) checkAgainstPaid(ctx context.Context, payments *repository.PaymentRepository, q *domain.Quotation, adj *domain.Adjustment) error {
	list, err := payments.ListByQuotation(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	summary := ComputePaymentSummary(q.ID, q.TotalAmount, list)

	preview := *q
	ApplyAdjustment(&preview, adj, s.tax.IsIntraState(q.BuyerStateCode))
	if preview.TotalAmount.LessThan(summary.PaidNetTotal) {
		return ErrAdjustmentBelowPaid
	}
	return nil
}

func (s *AdjustmentService) appendTimeline(ctx context.Context, timeline *repository.AdjustmentTimelineRepository, adj *domain.Adjustment, event domain.AdjustmentEvent, actor uuid.UUID, note string, metadata domain.JSONMap) error {
	entry := &domain.AdjustmentTimeline{
		AdjustmentID: adj.ID,
		Event:        event,
		Status:       string(adj.Status),
		ActorID:      &actor,
		Note:         note,
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}
	if err := timeline.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append adjustment timeline: %w", err)
	}
	return nil
}

func translateAdjustmentErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAdjustmentNotFound
	}
	return fmt.Errorf("failed to get adjustment: %w", err)
}

// Create requests an adjustment. OriginalAmount is captured from the quotation as it stands now.
func (s *AdjustmentService) Create(ctx context.Context, quotationID uuid.UUID, req *domain.CreateAdjustmentRequest) (*domain.AdjustmentDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	if !req.Type.IsValid() {
		return nil, ErrAdjustmentInvalidType
	}
	if req.AdjustedAmount.IsNegative() {
		return nil, ErrAdjustmentNegativeAmount
	}

	var (
		adj       *domain.Adjustment
		quotation *domain.Quotation
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		quotation, err = s.quotationRepo.WithTx(tx).GetByIDForUpdate(ctx, quotationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuotationNotFound
			}
			return fmt.Errorf("failed to get quotation: %w", err)
		}
		if !canSeeFinancials(userCtx, quotation.OwnerID) {
			return ErrNotOwner
		}
		if quotation.Status == domain.QuotationStatusCancelled {
			return ErrAdjustmentOnCancelled
		}

		original := currentAmount(quotation, req.Type)
		if original.Equal(req.AdjustedAmount) {
			return ErrAdjustmentNoChange
		}

		adj = &domain.Adjustment{
			QuotationID:    quotation.ID,
			Type:           req.Type,
			OriginalAmount: original,
			AdjustedAmount: req.AdjustedAmount,
			Reason:         req.Reason,
			Status:         domain.AdjustmentStatusPending,
			RequestedBy:    userCtx.UserID,
		}
		adj.ApprovalLevel = domain.ApprovalLevelFor(adj.Delta())
		adj.CreatedAt = s.now()

		if err := s.checkAgainstPaid(ctx, s.paymentRepo.WithTx(tx), quotation, adj); err != nil {
			return err
		}
		if err := s.adjustmentRepo.WithTx(tx).Create(ctx, adj); err != nil {
			return fmt.Errorf("failed to create adjustment: %w", err)
		}
		return s.appendTimeline(ctx, s.timelineRepo.WithTx(tx), adj, domain.AdjustmentEventRequested, userCtx.UserID, adj.Reason,
			domain.JSONMap{"originalAmount": adj.OriginalAmount.StringFixed(2), "adjustedAmount": adj.AdjustedAmount.StringFixed(2)})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("adjustment requested",
		zap.String("adjustment_id", adj.ID.String()),
		zap.String("quotation_id", quotationID.String()),
		zap.String("type", string(adj.Type)),
		zap.String("delta", adj.Delta().StringFixed(2)))

	s.notify.publishToOwnerAndAdmins(ctx, quotation.OwnerID, PublishRequest{
		EventType:  domain.NotificationEventAdjustmentPending,
		EntityType: domain.EntityTypeAdjustment,
		EntityID:   adj.ID,
		Title:      fmt.Sprintf("Adjustment requested on %s", quotation.QuotationNumber),
		Message: fmt.Sprintf("%s adjustment of %s needs %s approval",
			adj.Type, formatAmount(quotation.Currency, adj.Delta()), adj.ApprovalLevel),
		Metadata: domain.JSONMap{"quotationId": quotation.ID.String(), "type": string(adj.Type)},
	})

	dto := mapper.ToAdjustmentDTO(adj)
	return &dto, nil
}

// List returns the adjustments of a quotation, oldest first
func (s *AdjustmentService) List(ctx context.Context, quotationID uuid.UUID) ([]domain.AdjustmentDTO, error) {
	adjustments, err := s.adjustmentRepo.ListByQuotation(ctx, quotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	dtos := make([]domain.AdjustmentDTO, len(adjustments))
	for i := range adjustments {
		dtos[i] = mapper.ToAdjustmentDTO(&adjustments[i])
	}
	return dtos, nil
}

// Timeline returns the audit trail of an adjustment, oldest first
func (s *AdjustmentService) Timeline(ctx context.Context, id uuid.UUID) ([]domain.AdjustmentTimelineDTO, error) {
	if _, err := s.adjustmentRepo.GetByID(ctx, id); err != nil {
		return nil, translateAdjustmentErr(err)
	}
	entries, err := s.timelineRepo.ListByAdjustment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustment timeline: %w", err)
	}
	dtos := make([]domain.AdjustmentTimelineDTO, len(entries))
	for i := range entries {
		dtos[i] = mapper.ToAdjustmentTimelineDTO(&entries[i])
	}
	return dtos, nil
}

// GetByID returns one adjustment
func (s *AdjustmentService) GetByID(ctx context.Context, id uuid.UUID) (*domain.AdjustmentDTO, error) {
	adj, err := s.adjustmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, translateAdjustmentErr(err)
	}
	dto := mapper.ToAdjustmentDTO(adj)
	return &dto, nil
}

func (s *AdjustmentService) Approve(ctx context.Context, id uuid.UUID) (*domain.AdjustmentDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	adj, err := s.transition(ctx, id, userCtx.UserID, domain.AdjustmentEventApproved, "", func(adj *domain.Adjustment) error {
		if !adj.Status.CanBeApproved() {
			return ErrAdjustmentNotApprovable
		}
		now := s.now()
		actor := userCtx.UserID
		adj.Status = domain.AdjustmentStatusApproved
		adj.ApprovedBy = &actor
		adj.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("adjustment approved", zap.String("adjustment_id", id.String()))
	s.notifyRequester(ctx, adj, domain.NotificationEventAdjustmentApproved, "Adjustment approved")

	dto := mapper.ToAdjustmentDTO(adj)
	return &dto, nil
}

func (s *AdjustmentService) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.AdjustmentDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	adj, err := s.transition(ctx, id, userCtx.UserID, domain.AdjustmentEventRejected, reason, func(adj *domain.Adjustment) error {
		if !adj.Status.CanBeRejected() {
			return ErrAdjustmentNotApprovable
		}
		now := s.now()
		actor := userCtx.UserID
		adj.Status = domain.AdjustmentStatusRejected
		adj.RejectedBy = &actor
		adj.RejectedAt = &now
		adj.RejectionReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("adjustment rejected", zap.String("adjustment_id", id.String()))
	s.notifyRequester(ctx, adj, domain.NotificationEventAdjustmentRejected, "Adjustment rejected")

	dto := mapper.ToAdjustmentDTO(adj)
	return &dto, nil
}

// transition locks the adjustment, lets mutate change it, saves it and records event
func (s *AdjustmentService) transition(ctx context.Context, id, actor uuid.UUID, event domain.AdjustmentEvent, note string, mutate func(*domain.Adjustment) error) (*domain.Adjustment, error) {
	var adj *domain.Adjustment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.adjustmentRepo.WithTx(tx)
		var err error
		adj, err = repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateAdjustmentErr(err)
		}
		if err := mutate(adj); err != nil {
			return err
		}
		if err := repo.Update(ctx, adj); err != nil {
			return fmt.Errorf("failed to update adjustment: %w", err)
		}
		return s.appendTimeline(ctx, s.timelineRepo.WithTx(tx), adj, event, actor, note, nil)
	})
	return adj, err
}

// Apply writes an approved adjustment into the quotation totals
func (s *AdjustmentService) Apply(ctx context.Context, id uuid.UUID) (*domain.AdjustmentDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	var (
		adj       *domain.Adjustment
		quotation *domain.Quotation
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adjustments := s.adjustmentRepo.WithTx(tx)
		quotations := s.quotationRepo.WithTx(tx)

		var err error
		adj, err = adjustments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateAdjustmentErr(err)
		}
		if !adj.Status.CanBeApplied() {
			return ErrAdjustmentNotApplicable
		}

		quotation, err = quotations.GetByIDForUpdate(ctx, adj.QuotationID)
		if err != nil {
			return fmt.Errorf("failed to get quotation: %w", err)
		}
		if quotation.Status == domain.QuotationStatusCancelled {
			return ErrAdjustmentOnCancelled
		}
		if err := s.checkAgainstPaid(ctx, s.paymentRepo.WithTx(tx), quotation, adj); err != nil {
			return err
		}

		before := quotationFigures(quotation)
		ApplyAdjustment(quotation, adj, s.tax.IsIntraState(quotation.BuyerStateCode))
		if err := quotations.Update(ctx, quotation); err != nil {
			return fmt.Errorf("failed to update quotation: %w", err)
		}

		now := s.now()
		actor := userCtx.UserID
		adj.Status = domain.AdjustmentStatusApplied
		adj.AppliedBy = &actor
		adj.AppliedAt = &now
		if err := adjustments.Update(ctx, adj); err != nil {
			return fmt.Errorf("failed to update adjustment: %w", err)
		}
		return s.appendTimeline(ctx, s.timelineRepo.WithTx(tx), adj, domain.AdjustmentEventApplied, actor, "",
			domain.JSONMap{"before": before, "after": quotationFigures(quotation)})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("adjustment applied",
		zap.String("adjustment_id", id.String()),
		zap.String("quotation_id", quotation.ID.String()),
		zap.String("total_amount", quotation.TotalAmount.StringFixed(2)))

	s.notify.publish(ctx, PublishRequest{
		EventType:  domain.NotificationEventAdjustmentApplied,
		EntityType: domain.EntityTypeAdjustment,
		EntityID:   adj.ID,
		Title:      fmt.Sprintf("Adjustment applied to %s", quotation.QuotationNumber),
		Message: fmt.Sprintf("New total is %s",
			formatAmount(quotation.Currency, quotation.TotalAmount)),
		Metadata: domain.JSONMap{"quotationId": quotation.ID.String()},
	}, distinctIDs(adj.RequestedBy, quotation.OwnerID)...)

	dto := mapper.ToAdjustmentDTO(adj)
	return &dto, nil
}

func (s *AdjustmentService) notifyRequester(ctx context.Context, adj *domain.Adjustment, event domain.NotificationEventType, title string) {
	message := fmt.Sprintf("%s adjustment of %s", adj.Type, adj.Delta().StringFixed(2))
	if adj.RejectionReason != "" {
		message += ": " + adj.RejectionReason
	}
	s.notify.publish(ctx, PublishRequest{
		EventType:  event,
		EntityType: domain.EntityTypeAdjustment,
		EntityID:   adj.ID,
		Title:      title,
		Message:    message,
	}, adj.RequestedBy)
}
