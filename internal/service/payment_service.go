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
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/straye-as/quotation-api/internal/mapper"
	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const manualProvider = "manual"

// ComputePaymentSummary aggregates payments into the quotation balance.
// Only settled payments count; each contributes its amount minus refunds.
func ComputePaymentSummary(quotationID uuid.UUID, total decimal.Decimal, payments []domain.Payment) domain.PaymentSummary {
	paid := decimal.Zero
	net := decimal.Zero
	for i := range payments {
		p := &payments[i]
		if !p.Status.CountsTowardBalance() {
			continue
		}
		paid = paid.Add(p.AmountPaid)
		net = net.Add(p.NetAmount())
	}

	outstanding := total.Sub(net)
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	return domain.PaymentSummary{
		QuotationID:  quotationID,
		TotalAmount:  total,
		PaidTotal:    paid,
		PaidNetTotal: net,
		Outstanding:  outstanding,
	}
}

// validatePaymentAmount rejects non-positive amounts and amounts above outstanding
func validatePaymentAmount(amount, outstanding decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if amount.GreaterThan(outstanding) {
		return domain.ErrAmountExceedsOutstanding
	}
	return nil
}

// reservedByRefunds is the part of payment held by approved, processing and completed refunds.
// Completed refunds are also in RefundAmount, so the larger of the two is taken.
func reservedByRefunds(payment *domain.Payment, refunds []domain.Refund) decimal.Decimal {
	reserved := decimal.Zero
	for _, r := range refunds {
		if r.Status.ReservesBalance() {
			reserved = reserved.Add(r.Amount)
		}
	}
	return decimal.Max(reserved, payment.RefundAmount)
}

// PaymentService aggregates payments per quotation and records manual and gateway payments
type PaymentService struct {
	db            *gorm.DB
	quotationRepo *repository.QuotationRepository
	paymentRepo   *repository.PaymentRepository
	refundRepo    *repository.RefundRepository
	gateways      *gateway.Registry
	notify        *notifier
	logger        *zap.Logger
	now           func() time.Time
}

func NewPaymentService(
	db *gorm.DB,
	quotationRepo *repository.QuotationRepository,
	paymentRepo *repository.PaymentRepository,
	userRepo *repository.UserRepository,
	gateways *gateway.Registry,
	publisher Publisher,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		db:            db,
		quotationRepo: quotationRepo,
		paymentRepo:   paymentRepo,
		refundRepo:    repository.NewRefundRepository(db),
		gateways:      gateways,
		notify:        newNotifier(publisher, userRepo, logger),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// canSeeFinancials allows the owner, admins, managers and accountants
func canSeeFinancials(user *auth.UserContext, ownerID uuid.UUID) bool {
	return user.CanManage(ownerID) || user.HasAnyRole(domain.RoleManager, domain.RoleAccountant)
}

func (s *PaymentService) authorizedQuotation(ctx context.Context, quotationID uuid.UUID) (*domain.Quotation, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	quotation, err := s.quotationRepo.GetByID(ctx, quotationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotationNotFound
		}
		return nil, fmt.Errorf("failed to get quotation: %w", err)
	}
	if !canSeeFinancials(userCtx, quotation.OwnerID) {
		return nil, ErrNotOwner
	}
	return quotation, nil
}

func (s *PaymentService) summary(ctx context.Context, payments *repository.PaymentRepository, q *domain.Quotation) (domain.PaymentSummary, []domain.Payment, error) {
	list, err := payments.ListByQuotation(ctx, q.ID)
	if err != nil {
		return domain.PaymentSummary{}, nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return ComputePaymentSummary(q.ID, q.TotalAmount, list), list, nil
}

// Summary returns the balance of a quotation
func (s *PaymentService) Summary(ctx context.Context, quotationID uuid.UUID) (*domain.PaymentSummary, error) {
	quotation, err := s.authorizedQuotation(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	summary, _, err := s.summary(ctx, s.paymentRepo, quotation)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListPayments returns every payment recorded against a quotation
func (s *PaymentService) ListPayments(ctx context.Context, quotationID uuid.UUID) ([]domain.PaymentDTO, error) {
	if _, err := s.authorizedQuotation(ctx, quotationID); err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.ListByQuotation(ctx, quotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	dtos := make([]domain.PaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = mapper.ToPaymentDTO(&payments[i])
	}
	return dtos, nil
}

// ValidateManualPayment checks a new manual payment against the outstanding balance
func (s *PaymentService) ValidateManualPayment(ctx context.Context, quotationID uuid.UUID, amount decimal.Decimal) error {
	quotation, err := s.authorizedQuotation(ctx, quotationID)
	if err != nil {
		return err
	}
	summary, _, err := s.summary(ctx, s.paymentRepo, quotation)
	if err != nil {
		return err
	}
	return validatePaymentAmount(amount, summary.Outstanding)
}

// outstandingExcluding is the balance as if payment had never been recorded
func outstandingExcluding(summary domain.PaymentSummary, payment *domain.Payment) decimal.Decimal {
	net := summary.PaidNetTotal.Sub(payment.NetAmount())
	outstanding := summary.TotalAmount.Sub(net)
	if outstanding.IsNegative() {
		return decimal.Zero
	}
	return outstanding
}

// ValidateManualPaymentEdit checks a new amount for an existing manual payment,
// ignoring that payment's own prior contribution
func (s *PaymentService) ValidateManualPaymentEdit(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal) error {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("failed to get payment: %w", err)
	}
	quotation, err := s.authorizedQuotation(ctx, payment.QuotationID)
	if err != nil {
		return err
	}
	summary, _, err := s.summary(ctx, s.paymentRepo, quotation)
	if err != nil {
		return err
	}
	return validatePaymentAmount(amount, outstandingExcluding(summary, payment))
}

// RecordManualPayment records money received outside a gateway
func (s *PaymentService) RecordManualPayment(ctx context.Context, quotationID uuid.UUID, req *domain.RecordPaymentRequest) (*domain.PaymentDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	var (
		payment   *domain.Payment
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
		if quotation.Status == domain.QuotationStatusDraft || quotation.Status == domain.QuotationStatusCancelled {
			return ErrQuotationNotPayable
		}

		payments := s.paymentRepo.WithTx(tx)
		summary, _, err := s.summary(ctx, payments, quotation)
		if err != nil {
			return err
		}
		if err := validatePaymentAmount(req.Amount, summary.Outstanding); err != nil {
			return err
		}

		paidAt := s.now()
		if req.PaidAt != nil {
			paidAt = req.PaidAt.UTC()
		}
		actor := userCtx.UserID
		payment = &domain.Payment{
			QuotationID:      quotation.ID,
			Method:           domain.PaymentMethodManual,
			Provider:         manualProvider,
			GatewayReference: req.Reference,
			AmountPaid:       req.Amount,
			RefundAmount:     decimal.Zero,
			Status:           domain.PaymentStatusSuccess,
			PaidAt:           &paidAt,
			Notes:            req.Notes,
			RecordedBy:       &actor,
		}
		if err := payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual payment recorded",
		zap.String("quotation_id", quotationID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("amount", payment.AmountPaid.StringFixed(2)))
	s.notifyReceived(ctx, quotation, payment)

	dto := mapper.ToPaymentDTO(payment)
	return &dto, nil
}

// UpdateManualPayment changes the amount or notes of a manual payment
func (s *PaymentService) UpdateManualPayment(ctx context.Context, paymentID uuid.UUID, req *domain.UpdatePaymentRequest) (*domain.PaymentDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	var payment *domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)
		var err error
		payment, err = payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("failed to get payment: %w", err)
		}
		if payment.Method != domain.PaymentMethodManual {
			return ErrPaymentNotManual
		}

		quotation, err := s.quotationRepo.WithTx(tx).GetByIDForUpdate(ctx, payment.QuotationID)
		if err != nil {
			return fmt.Errorf("failed to get quotation: %w", err)
		}
		if !canSeeFinancials(userCtx, quotation.OwnerID) {
			return ErrNotOwner
		}

		summary, _, err := s.summary(ctx, payments, quotation)
		if err != nil {
			return err
		}
		if err := validatePaymentAmount(req.Amount, outstandingExcluding(summary, payment)); err != nil {
			return err
		}
		refunds, err := s.refundRepo.WithTx(tx).ListByPayment(ctx, payment.ID)
		if err != nil {
			return fmt.Errorf("failed to list refunds: %w", err)
		}
		if req.Amount.LessThan(reservedByRefunds(payment, refunds)) {
			return ErrPaymentBelowRefunds
		}

		payment.AmountPaid = req.Amount
		payment.Notes = req.Notes
		if payment.RefundAmount.IsPositive() {
			// re-derive refund status against the new amount
			payment.ApplyRefund(decimal.Zero)
		}
		if err := payments.Update(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual payment updated",
		zap.String("payment_id", paymentID.String()),
		zap.String("amount", payment.AmountPaid.StringFixed(2)))

	dto := mapper.ToPaymentDTO(payment)
	return &dto, nil
}

// InitiateGatewayPayment opens a checkout with the provider for the outstanding balance
// and records a pending payment that a webhook later settles
func (s *PaymentService) InitiateGatewayPayment(ctx context.Context, quotationID uuid.UUID, provider string) (*domain.PaymentDTO, string, error) {
	quotation, err := s.authorizedQuotation(ctx, quotationID)
	if err != nil {
		return nil, "", err
	}
	if quotation.Status != domain.QuotationStatusAccepted {
		return nil, "", ErrQuotationNotPayable
	}

	gw, err := s.resolveGateway(provider)
	if err != nil {
		return nil, "", err
	}

	summary, _, err := s.summary(ctx, s.paymentRepo, quotation)
	if err != nil {
		return nil, "", err
	}
	if !summary.Outstanding.IsPositive() {
		return nil, "", domain.ErrAmountExceedsOutstanding
	}

	session, err := gw.InitiatePayment(ctx, gateway.PaymentRequest{
		QuotationID: quotation.ID,
		Amount:      summary.Outstanding,
		Currency:    quotation.Currency,
		Description: fmt.Sprintf("Quotation %s", quotation.QuotationNumber),
	})
	if err != nil {
		s.logger.Error("gateway payment initiation failed",
			zap.String("quotation_id", quotationID.String()),
			zap.String("provider", gw.Name()),
			zap.Error(err))
		return nil, "", err
	}

	payment := &domain.Payment{
		QuotationID:      quotation.ID,
		Method:           domain.PaymentMethodGateway,
		Provider:         gw.Name(),
		GatewayReference: session.Reference,
		AmountPaid:       summary.Outstanding,
		RefundAmount:     decimal.Zero,
		Status:           domain.PaymentStatusPending,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, "", fmt.Errorf("failed to record pending payment: %w", err)
	}

	dto := mapper.ToPaymentDTO(payment)
	return &dto, session.CheckoutURL, nil
}

func (s *PaymentService) resolveGateway(provider string) (gateway.Gateway, error) {
	if s.gateways == nil {
		return nil, gateway.ErrUnknownProvider
	}
	if provider == "" {
		return s.gateways.Default()
	}
	return s.gateways.Get(provider)
}

// HandleWebhook verifies and applies a provider payment notification.
// Deliveries are idempotent by gateway reference: a repeat of an applied event changes nothing.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*domain.PaymentDTO, error) {
	gw, err := s.resolveGateway(provider)
	if err != nil {
		return nil, err
	}
	if !gw.VerifyWebhookSignature(payload, signature) {
		s.logger.Warn("rejected webhook with invalid signature", zap.String("provider", gw.Name()))
		return nil, ErrInvalidWebhookSignature
	}
	event, err := gw.ParseWebhook(payload)
	if err != nil {
		return nil, err
	}

	var (
		payment   *domain.Payment
		quotation *domain.Quotation
		settled   bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)

		existing, err := payments.GetByGatewayReference(ctx, gw.Name(), event.Reference)
		switch {
		case err == nil:
			payment = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to look up payment: %w", err)
		}

		quotationID := event.QuotationID
		if payment != nil {
			quotationID = payment.QuotationID
		}
		quotation, err = s.quotationRepo.WithTx(tx).GetByIDForUpdate(ctx, quotationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuotationNotFound
			}
			return fmt.Errorf("failed to get quotation: %w", err)
		}

		if payment == nil {
			payment = &domain.Payment{
				QuotationID:      quotation.ID,
				Method:           domain.PaymentMethodGateway,
				Provider:         gw.Name(),
				GatewayReference: event.Reference,
				AmountPaid:       event.Amount,
				RefundAmount:     decimal.Zero,
				Status:           domain.PaymentStatusPending,
			}
			if err := payments.Create(ctx, payment); err != nil {
				return fmt.Errorf("failed to record payment: %w", err)
			}
		}

		settled, err = s.applyGatewayStatus(ctx, payments, quotation, payment, event.Status, event.Amount, &event.OccurredAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	if settled {
		s.notifyReceived(ctx, quotation, payment)
	}
	dto := mapper.ToPaymentDTO(payment)
	return &dto, nil
}

// applyGatewayStatus moves a payment to the provider's status. Only a pending payment changes;
// it returns true when the payment became settled.
func (s *PaymentService) applyGatewayStatus(ctx context.Context, payments *repository.PaymentRepository, q *domain.Quotation, p *domain.Payment, status domain.PaymentStatus, amount decimal.Decimal, paidAt *time.Time) (bool, error) {
	if p.Status != domain.PaymentStatusPending || status == domain.PaymentStatusPending {
		s.logger.Debug("gateway payment event already applied",
			zap.String("payment_id", p.ID.String()),
			zap.String("status", string(p.Status)))
		return false, nil
	}

	switch status {
	case domain.PaymentStatusSuccess:
		summary, _, err := s.summary(ctx, payments, q)
		if err != nil {
			return false, err
		}
		if amount.IsPositive() {
			p.AmountPaid = amount
		}
		if p.AmountPaid.GreaterThan(summary.Outstanding) {
			// captured money is recorded regardless; the overpayment is surfaced for follow-up
			s.logger.Warn("gateway payment exceeds outstanding balance",
				zap.String("quotation_id", q.ID.String()),
				zap.String("amount", p.AmountPaid.StringFixed(2)),
				zap.String("outstanding", summary.Outstanding.StringFixed(2)))
		}
		p.Status = domain.PaymentStatusSuccess
		at := s.now()
		if paidAt != nil && !paidAt.IsZero() {
			at = paidAt.UTC()
		}
		p.PaidAt = &at
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
		p.Status = status
	default:
		return false, nil
	}

	if err := payments.Update(ctx, p); err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}
	s.logger.Info("gateway payment updated",
		zap.String("payment_id", p.ID.String()),
		zap.String("status", string(p.Status)))
	return p.Status == domain.PaymentStatusSuccess, nil
}

// SyncGatewayPayment asks the provider for the current state of a pending payment
func (s *PaymentService) SyncGatewayPayment(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentDTO, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if _, err := s.authorizedQuotation(ctx, payment.QuotationID); err != nil {
		return nil, err
	}
	if payment.Method != domain.PaymentMethodGateway {
		dto := mapper.ToPaymentDTO(payment)
		return &dto, nil
	}

	gw, err := s.resolveGateway(payment.Provider)
	if err != nil {
		return nil, err
	}
	verification, err := gw.VerifyPayment(ctx, payment.GatewayReference)
	if err != nil {
		return nil, err
	}

	var (
		quotation *domain.Quotation
		settled   bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)
		var err error
		quotation, err = s.quotationRepo.WithTx(tx).GetByIDForUpdate(ctx, payment.QuotationID)
		if err != nil {
			return fmt.Errorf("failed to get quotation: %w", err)
		}
		payment, err = payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to get payment: %w", err)
		}
		settled, err = s.applyGatewayStatus(ctx, payments, quotation, payment, verification.Status, verification.Amount, verification.PaidAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	if settled {
		s.notifyReceived(ctx, quotation, payment)
	}
	dto := mapper.ToPaymentDTO(payment)
	return &dto, nil
}

func (s *PaymentService) notifyReceived(ctx context.Context, q *domain.Quotation, p *domain.Payment) {
	s.notify.publishToOwnerAndAdmins(ctx, q.OwnerID, PublishRequest{
		EventType:  domain.NotificationEventPaymentReceived,
		EntityType: domain.EntityTypePayment,
		EntityID:   p.ID,
		Title:      fmt.Sprintf("Payment received for %s", q.QuotationNumber),
		Message: fmt.Sprintf("%s received against quotation %s",
			formatAmount(q.Currency, p.AmountPaid), q.QuotationNumber),
		Metadata: domain.JSONMap{"quotationId": q.ID.String(), "method": string(p.Method)},
	})
}
