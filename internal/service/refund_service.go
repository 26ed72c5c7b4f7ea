package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/straye-as/quotation-api/internal/mapper"
	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundRepositories groups the stores the refund workflow writes to
type RefundRepositories struct {
	Refunds    *repository.RefundRepository
	Timeline   *repository.RefundTimelineRepository
	Payments   *repository.PaymentRepository
	Quotations *repository.QuotationRepository
	Users      *repository.UserRepository
}

// RefundService runs the refund approval workflow and its gateway round-trips
type RefundService struct {
	db       *gorm.DB
	repos    RefundRepositories
	gateways *gateway.Registry
	notify   *notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewRefundService(db *gorm.DB, repos RefundRepositories, gateways *gateway.Registry, publisher Publisher, logger *zap.Logger) *RefundService {
	return &RefundService{
		db:       db,
		repos:    repos,
		gateways: gateways,
		notify:   newNotifier(publisher, repos.Users, logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *RefundService) SetClock(now func() time.Time) {
	s.now = now
}

// refundableBalance is what remains of the payment once sibling refunds holding
// part of it are subtracted. exclude is left out of the sum.
func refundableBalance(payment *domain.Payment, siblings []domain.Refund, exclude uuid.UUID) decimal.Decimal {
	reserved := decimal.Zero
	for _, r := range siblings {
		if r.ID == exclude || !r.Status.ReservesBalance() {
			continue
		}
		reserved = reserved.Add(r.Amount)
	}
	remaining := payment.AmountPaid.Sub(reserved)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// gatewayFor picks the provider that captured payment; manual payments go through the default provider
func gatewayFor(registry *gateway.Registry, payment *domain.Payment) (gateway.Gateway, error) {
	if registry == nil {
		return nil, gateway.ErrUnknownProvider
	}
	if payment.Method == domain.PaymentMethodManual {
		return registry.Default()
	}
	return registry.Get(payment.Provider)
}

func paymentReference(p *domain.Payment) string {
	if p.GatewayReference != "" {
		return p.GatewayReference
	}
	return p.ID.String()
}

func (s *RefundService) appendTimeline(ctx context.Context, timeline *repository.RefundTimelineRepository, refund *domain.Refund, event domain.RefundEvent, actor *uuid.UUID, note string, metadata domain.JSONMap) error {
	entry := &domain.RefundTimeline{
		RefundID:  refund.ID,
		Event:     event,
		Status:    string(refund.Status),
		ActorID:   actor,
		Note:      note,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	if err := timeline.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append refund timeline: %w", err)
	}
	return nil
}

func translateRefundErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRefundNotFound
	}
	return fmt.Errorf("failed to get refund: %w", err)
}

// Initiate requests a refund against a settled payment. A nil amount refunds
// the whole remaining balance.
func (s *RefundService) Initiate(ctx context.Context, paymentID uuid.UUID, req *domain.InitiateRefundRequest) (*domain.RefundDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	var (
		refund    *domain.Refund
		quotation *domain.Quotation
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repos.Payments.WithTx(tx).GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("failed to get payment: %w", err)
		}
		quotation, err = s.repos.Quotations.WithTx(tx).GetByID(ctx, payment.QuotationID)
		if err != nil {
			return fmt.Errorf("failed to get quotation: %w", err)
		}
		if !canSeeFinancials(userCtx, quotation.OwnerID) {
			return ErrNotOwner
		}
		if !payment.Status.IsRefundable() {
			return ErrPaymentNotRefundable
		}

		refunds := s.repos.Refunds.WithTx(tx)
		siblings, err := refunds.ListByPayment(ctx, payment.ID)
		if err != nil {
			return fmt.Errorf("failed to list refunds: %w", err)
		}
		remaining := refundableBalance(payment, siblings, uuid.Nil)

		amount := remaining
		if req.Amount != nil {
			amount = *req.Amount
		}
		if !amount.IsPositive() {
			return ErrNonPositiveAmount
		}
		if amount.GreaterThan(remaining) {
			return ErrRefundExceedsBalance
		}

		refund = &domain.Refund{
			PaymentID:     payment.ID,
			QuotationID:   payment.QuotationID,
			Amount:        amount,
			Reason:        req.Reason,
			Status:        domain.RefundStatusPending,
			ApprovalLevel: domain.ApprovalLevelFor(amount),
			RequestedBy:   userCtx.UserID,
		}
		refund.CreatedAt = s.now()
		if err := refunds.Create(ctx, refund); err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}
		actor := userCtx.UserID
		return s.appendTimeline(ctx, s.repos.Timeline.WithTx(tx), refund, domain.RefundEventRequested, &actor, req.Reason,
			domain.JSONMap{"amount": amount.StringFixed(2), "approvalLevel": string(refund.ApprovalLevel)})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund requested",
		zap.String("refund_id", refund.ID.String()),
		zap.String("payment_id", paymentID.String()),
		zap.String("amount", refund.Amount.StringFixed(2)),
		zap.String("approval_level", string(refund.ApprovalLevel)))

	s.notify.publishToOwnerAndAdmins(ctx, quotation.OwnerID, PublishRequest{
		EventType:  domain.NotificationEventRefundRequested,
		EntityType: domain.EntityTypeRefund,
		EntityID:   refund.ID,
		Title:      fmt.Sprintf("Refund requested on %s", quotation.QuotationNumber),
		Message: fmt.Sprintf("A refund of %s needs %s approval",
			formatAmount(quotation.Currency, refund.Amount), refund.ApprovalLevel),
		Metadata: domain.JSONMap{"approvalLevel": string(refund.ApprovalLevel)},
	})

	dto := mapper.ToRefundDTO(refund)
	return &dto, nil
}

// GetByID returns one refund
func (s *RefundService) GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundDTO, error) {
	refund, err := s.repos.Refunds.GetByID(ctx, id)
	if err != nil {
		return nil, translateRefundErr(err)
	}
	dto := mapper.ToRefundDTO(refund)
	return &dto, nil
}

// List returns a page of refunds matching filters
func (s *RefundService) List(ctx context.Context, page, pageSize int, filters repository.RefundFilters) (*domain.PaginatedResponse, error) {
	refunds, total, err := s.repos.Refunds.List(ctx, page, pageSize, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	page, pageSize = repository.NormalizePage(page, pageSize)

	dtos := make([]domain.RefundDTO, len(refunds))
	for i := range refunds {
		dtos[i] = mapper.ToRefundDTO(&refunds[i])
	}
	return &domain.PaginatedResponse{
		Data:       dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// Timeline returns the refund's events in order
func (s *RefundService) Timeline(ctx context.Context, id uuid.UUID) ([]domain.RefundTimelineDTO, error) {
	if _, err := s.repos.Refunds.GetByID(ctx, id); err != nil {
		return nil, translateRefundErr(err)
	}
	entries, err := s.repos.Timeline.ListByRefund(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund timeline: %w", err)
	}
	dtos := make([]domain.RefundTimelineDTO, len(entries))
	for i := range entries {
		dtos[i] = mapper.ToRefundTimelineDTO(&entries[i])
	}
	return dtos, nil
}

// Approve moves a pending refund to approved after re-checking the remaining balance
func (s *RefundService) Approve(ctx context.Context, id uuid.UUID) (*domain.RefundDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	var refund *domain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.repos.Refunds.WithTx(tx).GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateRefundErr(err)
		}
		if !refund.Status.CanBeApproved() {
			return ErrRefundNotApprovable
		}
		if err := s.checkBalance(ctx, tx, refund); err != nil {
			return err
		}

		now := s.now()
		actor := userCtx.UserID
		refund.Status = domain.RefundStatusApproved
		refund.ApprovedBy = &actor
		refund.ApprovedAt = &now
		if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		return s.appendTimeline(ctx, s.repos.Timeline.WithTx(tx), refund, domain.RefundEventApproved, &actor, "", nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund approved",
		zap.String("refund_id", id.String()),
		zap.String("approved_by", userCtx.UserID.String()))
	s.notifyRequester(ctx, refund, domain.NotificationEventRefundApproved, "Refund approved",
		fmt.Sprintf("Your refund of %s was approved", formatAmount("", refund.Amount)))

	dto := mapper.ToRefundDTO(refund)
	return &dto, nil
}

// checkBalance fails when refund no longer fits within its payment's remaining balance
func (s *RefundService) checkBalance(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error {
	payment, err := s.repos.Payments.WithTx(tx).GetByIDForUpdate(ctx, refund.PaymentID)
	if err != nil {
		return fmt.Errorf("failed to get payment: %w", err)
	}
	siblings, err := s.repos.Refunds.WithTx(tx).ListByPayment(ctx, refund.PaymentID)
	if err != nil {
		return fmt.Errorf("failed to list refunds: %w", err)
	}
	if refund.Amount.GreaterThan(refundableBalance(payment, siblings, refund.ID)) {
		return ErrRefundExceedsBalance
	}
	return nil
}

// Reject closes a pending refund with a reason
func (s *RefundService) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.RefundDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	var refund *domain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.repos.Refunds.WithTx(tx).GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateRefundErr(err)
		}
		if !refund.Status.CanBeRejected() {
			return ErrRefundNotApprovable
		}

		now := s.now()
		actor := userCtx.UserID
		refund.Status = domain.RefundStatusRejected
		refund.RejectedBy = &actor
		refund.RejectedAt = &now
		refund.RejectionReason = reason
		if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		return s.appendTimeline(ctx, s.repos.Timeline.WithTx(tx), refund, domain.RefundEventRejected, &actor, reason, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund rejected", zap.String("refund_id", id.String()))
	s.notifyRequester(ctx, refund, domain.NotificationEventRefundRejected, "Refund rejected", reason)

	dto := mapper.ToRefundDTO(refund)
	return &dto, nil
}

// Process sends an approved refund to the gateway. The payment is only touched
// after the provider confirms; a provider failure leaves the refund FAILED and
// returns the gateway error.
func (s *RefundService) Process(ctx context.Context, id uuid.UUID) (*domain.RefundDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	actor := userCtx.UserID

	var (
		refund  *domain.Refund
		payment *domain.Payment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.repos.Refunds.WithTx(tx).GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateRefundErr(err)
		}
		if !refund.Status.CanBeProcessed() {
			return ErrRefundNotProcessable
		}
		if err := s.checkBalance(ctx, tx, refund); err != nil {
			return err
		}
		payment, err = s.repos.Payments.WithTx(tx).GetByID(ctx, refund.PaymentID)
		if err != nil {
			return fmt.Errorf("failed to get payment: %w", err)
		}
		if !payment.Status.IsRefundable() {
			return ErrPaymentNotRefundable
		}

		refund.Status = domain.RefundStatusProcessing
		refund.ProcessedBy = &actor
		if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		return s.appendTimeline(ctx, s.repos.Timeline.WithTx(tx), refund, domain.RefundEventProcessing, &actor, "", nil)
	})
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, refund, payment, actor)
}

// settle calls the provider and records its answer. The answer is written on a
// context detached from the caller: once the provider has paid out, a dropped
// request must not leave the refund unrecorded. A refund another caller already
// settled is returned as it stands.
func (s *RefundService) settle(ctx context.Context, refund *domain.Refund, payment *domain.Payment, actor uuid.UUID) (*domain.RefundDTO, error) {
	id := refund.ID

	// No locks are held across the provider call; PROCESSING keeps other callers out.
	result, gwErr := s.callGateway(ctx, refund, payment)

	ctx = context.WithoutCancel(ctx)
	settled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.repos.Refunds.WithTx(tx).GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateRefundErr(err)
		}
		if refund.Status != domain.RefundStatusProcessing {
			return nil
		}
		settled = true
		timeline := s.repos.Timeline.WithTx(tx)

		if gwErr != nil {
			refund.Status = domain.RefundStatusFailed
			refund.FailureReason = gwErr.Error()
			if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
				return fmt.Errorf("failed to update refund: %w", err)
			}
			return s.appendTimeline(ctx, timeline, refund, domain.RefundEventFailed, &actor, gwErr.Error(), nil)
		}

		payment, err = s.repos.Payments.WithTx(tx).GetByIDForUpdate(ctx, refund.PaymentID)
		if err != nil {
			return fmt.Errorf("failed to get payment: %w", err)
		}
		payment.ApplyRefund(refund.Amount)
		if err := s.repos.Payments.WithTx(tx).Update(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		now := s.now()
		refund.Status = domain.RefundStatusCompleted
		refund.ProcessedAt = &now
		refund.GatewayReference = result.Reference
		refund.FailureReason = ""
		if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		return s.appendTimeline(ctx, timeline, refund, domain.RefundEventCompleted, &actor, "",
			domain.JSONMap{"gatewayReference": result.Reference})
	})
	if err != nil {
		s.logger.Error("failed to record refund outcome; refund stays PROCESSING until retried",
			zap.String("refund_id", id.String()),
			zap.Bool("gateway_succeeded", gwErr == nil),
			zap.Error(err))
		return nil, err
	}

	dto := mapper.ToRefundDTO(refund)
	if !settled {
		s.logger.Info("refund already settled by another caller",
			zap.String("refund_id", id.String()),
			zap.String("status", string(refund.Status)))
		return &dto, nil
	}
	if gwErr != nil {
		s.logger.Error("refund processing failed",
			zap.String("refund_id", id.String()),
			zap.Error(gwErr))
		s.notifyRequester(ctx, refund, domain.NotificationEventRefundFailed, "Refund failed", refund.FailureReason)
		return &dto, gwErr
	}

	s.logger.Info("refund completed",
		zap.String("refund_id", id.String()),
		zap.String("gateway_reference", refund.GatewayReference),
		zap.String("payment_status", string(payment.Status)))
	s.notifyRequester(ctx, refund, domain.NotificationEventRefundCompleted, "Refund completed",
		fmt.Sprintf("%s was refunded", formatAmount("", refund.Amount)))
	return &dto, nil
}

// callGateway performs the provider refund. Every failure comes back wrapping domain.ErrGateway.
func (s *RefundService) callGateway(ctx context.Context, refund *domain.Refund, payment *domain.Payment) (*gateway.RefundResult, error) {
	gw, err := gatewayFor(s.gateways, payment)
	if err != nil {
		return nil, gateway.NewError(payment.Provider, "refund_payment", err.Error())
	}
	result, err := gw.RefundPayment(ctx, gateway.RefundRequest{
		PaymentReference: paymentReference(payment),
		Amount:           refund.Amount,
		Reason:           refund.Reason,
		IdempotencyKey:   refund.ID.String(),
	})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			return nil, err
		}
		return nil, gateway.NewError(gw.Name(), "refund_payment", err.Error())
	}
	if !result.Success {
		return nil, gateway.NewError(gw.Name(), "refund_payment", "provider declined the refund")
	}
	return result, nil
}

// Retry returns a failed refund to APPROVED and processes it again. A refund left
// PROCESSING, because its outcome could not be recorded, is resumed instead: the
// provider is asked again under the same idempotency key and the answer recorded.
func (s *RefundService) Retry(ctx context.Context, id uuid.UUID) (*domain.RefundDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	actor := userCtx.UserID

	var (
		refund  *domain.Refund
		payment *domain.Payment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.repos.Refunds.WithTx(tx).GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateRefundErr(err)
		}
		timeline := s.repos.Timeline.WithTx(tx)

		if refund.Status.CanBeResumed() {
			payment, err = s.repos.Payments.WithTx(tx).GetByID(ctx, refund.PaymentID)
			if err != nil {
				return fmt.Errorf("failed to get payment: %w", err)
			}
			return s.appendTimeline(ctx, timeline, refund, domain.RefundEventRetryRequested, &actor,
				"Resuming a refund whose outcome was not recorded", domain.JSONMap{"resumed": true})
		}

		if !refund.Status.CanBeRetried() {
			return ErrRefundNotRetryable
		}
		previous := refund.FailureReason
		refund.Status = domain.RefundStatusApproved
		refund.FailureReason = ""
		if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		return s.appendTimeline(ctx, timeline, refund, domain.RefundEventRetryRequested, &actor, "",
			domain.JSONMap{"previousFailure": previous})
	})
	if err != nil {
		return nil, err
	}

	if payment != nil {
		s.logger.Warn("resuming refund stuck in PROCESSING", zap.String("refund_id", id.String()))
		return s.settle(ctx, refund, payment, actor)
	}

	s.logger.Info("refund retry requested", zap.String("refund_id", id.String()))
	return s.Process(ctx, id)
}

// Reverse undoes a completed refund. A provider that cannot reverse is logged and
// the local reversal still happens, with GatewayReversed left false.
func (s *RefundService) Reverse(ctx context.Context, id uuid.UUID, reason string) (*domain.RefundDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	actor := userCtx.UserID

	refund, err := s.repos.Refunds.GetByID(ctx, id)
	if err != nil {
		return nil, translateRefundErr(err)
	}
	if !refund.Status.CanBeReversed() {
		return nil, ErrRefundNotReversible
	}
	if refund.Payment == nil {
		return nil, fmt.Errorf("refund %s has no payment", id)
	}

	gatewayReversed := true
	gw, err := gatewayFor(s.gateways, refund.Payment)
	if err == nil {
		err = gw.ReverseRefund(ctx, refund.GatewayReference, reason)
	}
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrUnsupported):
		gatewayReversed = false
		s.logger.Warn("gateway cannot reverse refund; reversing locally only",
			zap.String("refund_id", id.String()),
			zap.String("provider", refund.Payment.Provider))
	default:
		s.logger.Error("refund reversal failed", zap.String("refund_id", id.String()), zap.Error(err))
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			return nil, err
		}
		return nil, gateway.NewError(refund.Payment.Provider, "reverse_refund", err.Error())
	}

	var quotationOwner uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.repos.Refunds.WithTx(tx).GetByIDForUpdate(ctx, id)
		if err != nil {
			return translateRefundErr(err)
		}
		if !refund.Status.CanBeReversed() {
			return ErrRefundNotReversible
		}

		payment, err := s.repos.Payments.WithTx(tx).GetByIDForUpdate(ctx, refund.PaymentID)
		if err != nil {
			return fmt.Errorf("failed to get payment: %w", err)
		}
		payment.RevertRefund(refund.Amount)
		if err := s.repos.Payments.WithTx(tx).Update(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		quotation, err := s.repos.Quotations.WithTx(tx).GetByID(ctx, refund.QuotationID)
		if err == nil {
			quotationOwner = quotation.OwnerID
		}

		now := s.now()
		refund.Status = domain.RefundStatusReversed
		refund.ReversedBy = &actor
		refund.ReversedAt = &now
		refund.ReversalReason = reason
		refund.GatewayReversed = gatewayReversed
		if err := s.repos.Refunds.WithTx(tx).Update(ctx, refund); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}

		note := reason
		if !gatewayReversed {
			note = "Reversed locally; provider does not support reversal"
		}
		return s.appendTimeline(ctx, s.repos.Timeline.WithTx(tx), refund, domain.RefundEventReversed, &actor, note,
			domain.JSONMap{"gatewayReversed": gatewayReversed, "reason": reason})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund reversed",
		zap.String("refund_id", id.String()),
		zap.Bool("gateway_reversed", gatewayReversed))
	s.notify.publish(ctx, PublishRequest{
		EventType:  domain.NotificationEventRefundReversed,
		EntityType: domain.EntityTypeRefund,
		EntityID:   refund.ID,
		Title:      "Refund reversed",
		Message:    fmt.Sprintf("A refund of %s was reversed", formatAmount("", refund.Amount)),
		Metadata:   domain.JSONMap{"gatewayReversed": gatewayReversed},
	}, distinctIDs(refund.RequestedBy, quotationOwner)...)

	dto := mapper.ToRefundDTO(refund)
	return &dto, nil
}

// BulkProcess processes each refund in turn. One failure never stops the batch.
func (s *RefundService) BulkProcess(ctx context.Context, ids []uuid.UUID) *domain.BulkRefundResult {
	result := &domain.BulkRefundResult{
		Total:   len(ids),
		Results: make([]domain.BulkRefundItemResult, 0, len(ids)),
	}
	for _, id := range ids {
		item := domain.BulkRefundItemResult{RefundID: id}
		dto, err := s.Process(ctx, id)
		if dto != nil {
			item.Status = dto.Status
		}
		if err != nil {
			item.Message = err.Error()
			result.Failure++
		} else {
			item.Success = true
			result.Success++
		}
		result.Results = append(result.Results, item)
	}

	s.logger.Info("bulk refund processing finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failure", result.Failure))
	return result
}

// GatewayStatus asks the provider for its view of a processed refund
func (s *RefundService) GatewayStatus(ctx context.Context, id uuid.UUID) (*domain.RefundGatewayStatusDTO, error) {
	refund, err := s.repos.Refunds.GetByID(ctx, id)
	if err != nil {
		return nil, translateRefundErr(err)
	}
	if refund.GatewayReference == "" || refund.Payment == nil {
		return nil, fmt.Errorf("%w: refund has not reached the gateway", domain.ErrInvalidState)
	}
	gw, err := gatewayFor(s.gateways, refund.Payment)
	if err != nil {
		return nil, err
	}
	status, err := gw.GetRefundStatus(ctx, refund.GatewayReference)
	if err != nil {
		return nil, err
	}
	return &domain.RefundGatewayStatusDTO{
		RefundID:       refund.ID,
		Reference:      status.Reference,
		ProviderStatus: status.Status,
		Amount:         status.Amount,
	}, nil
}

func (s *RefundService) notifyRequester(ctx context.Context, refund *domain.Refund, event domain.NotificationEventType, title, message string) {
	s.notify.publish(ctx, PublishRequest{
		EventType:  event,
		EntityType: domain.EntityTypeRefund,
		EntityID:   refund.ID,
		Title:      title,
		Message:    message,
		Metadata:   domain.JSONMap{"status": string(refund.Status)},
	}, refund.RequestedBy)
}
