package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refundFixture struct {
	env       *testEnv
	owner     *domain.User
	manager   *domain.User
	quotation *domain.Quotation
	payment   *domain.Payment
}

func newRefundFixture(t *testing.T, paid string) *refundFixture {
	t.Helper()
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	manager := testutil.CreateTestUser(t, env.db, domain.RoleManager)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec(paid))
	p := testutil.CreateTestPayment(t, env.db, q.ID, dec(paid))
	return &refundFixture{env: env, owner: owner, manager: manager, quotation: q, payment: p}
}

func (f *refundFixture) initiate(t *testing.T, amount string) *domain.RefundDTO {
	t.Helper()
	a := dec(amount)
	r, err := f.env.refunds.Initiate(userContext(f.owner), f.payment.ID, &domain.InitiateRefundRequest{Amount: &a, Reason: "customer request"})
	require.NoError(t, err)
	return r
}

func (f *refundFixture) approved(t *testing.T, amount string) *domain.RefundDTO {
	t.Helper()
	r := f.initiate(t, amount)
	approved, err := f.env.refunds.Approve(userContext(f.manager), r.ID)
	require.NoError(t, err)
	return approved
}

func (f *refundFixture) reloadPayment(t *testing.T) *domain.Payment {
	t.Helper()
	p, err := f.env.paymentRepo.GetByID(userContext(f.owner), f.payment.ID)
	require.NoError(t, err)
	return p
}

func TestRefundService_FullLifecycle(t *testing.T) {
	f := newRefundFixture(t, "100000")
	ctx := userContext(f.manager)

	refund := f.initiate(t, "60000")
	assert.Equal(t, domain.RefundStatusPending, refund.Status)
	assert.Equal(t, domain.ApprovalLevelManager, refund.ApprovalLevel)

	_, err := f.env.refunds.Process(ctx, refund.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "pending refunds are not processable")

	approved, err := f.env.refunds.Approve(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, f.manager.ID, *approved.ApprovedBy)

	_, err = f.env.refunds.Approve(ctx, refund.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	payment := f.reloadPayment(t)
	assert.Equal(t, domain.PaymentStatusSuccess, payment.Status, "approval does not touch the payment")

	completed, err := f.env.refunds.Process(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, completed.Status)
	assert.NotEmpty(t, completed.GatewayReference)
	assert.NotNil(t, completed.ProcessedAt)

	payment = f.reloadPayment(t)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, payment.Status)
	assert.True(t, payment.RefundAmount.Equal(dec("60000")))

	summary, err := f.env.payments.Summary(ctx, f.quotation.ID)
	require.NoError(t, err)
	assert.True(t, summary.PaidNetTotal.Equal(dec("40000")), "net %s", summary.PaidNetTotal)
	assert.True(t, summary.Outstanding.Equal(dec("60000")), "outstanding %s", summary.Outstanding)

	timeline, err := f.env.refunds.Timeline(ctx, refund.ID)
	require.NoError(t, err)
	assert.Len(t, timeline, 4)
	events := make([]domain.RefundEvent, len(timeline))
	for i, e := range timeline {
		events[i] = e.Event
	}
	assert.ElementsMatch(t, []domain.RefundEvent{
		domain.RefundEventRequested,
		domain.RefundEventApproved,
		domain.RefundEventProcessing,
		domain.RefundEventCompleted,
	}, events)

	status, err := f.env.refunds.GatewayStatus(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, "processed", status.ProviderStatus)
	assert.True(t, status.Amount.Equal(dec("60000")))

	t.Run("requester is told about each step", func(t *testing.T) {
		var count int64
		require.NoError(t, f.env.db.Model(&domain.Notification{}).
			Where("recipient_id = ? AND related_entity_id = ?", f.owner.ID, refund.ID).
			Count(&count).Error)
		// requested, approved, completed
		assert.Equal(t, int64(3), count)
	})
}

func TestRefundService_Initiate(t *testing.T) {
	f := newRefundFixture(t, "1000")
	ctx := userContext(f.owner)

	t.Run("non-positive amount", func(t *testing.T) {
		zero := decimal.Zero
		_, err := f.env.refunds.Initiate(ctx, f.payment.ID, &domain.InitiateRefundRequest{Amount: &zero, Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("more than paid", func(t *testing.T) {
		over := dec("1000.01")
		_, err := f.env.refunds.Initiate(ctx, f.payment.ID, &domain.InitiateRefundRequest{Amount: &over, Reason: "x"})
		assert.ErrorIs(t, err, service.ErrRefundExceedsBalance)
	})

	t.Run("unknown payment", func(t *testing.T) {
		_, err := f.env.refunds.Initiate(ctx, uuid.New(), &domain.InitiateRefundRequest{Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("other sales reps cannot refund", func(t *testing.T) {
		stranger := testutil.CreateTestUser(t, f.env.db, domain.RoleSalesRep)
		_, err := f.env.refunds.Initiate(userContext(stranger), f.payment.ID, &domain.InitiateRefundRequest{Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("nil amount takes the remaining balance", func(t *testing.T) {
		f.approved(t, "300")
		full, err := f.env.refunds.Initiate(ctx, f.payment.ID, &domain.InitiateRefundRequest{Reason: "rest"})
		require.NoError(t, err)
		assert.True(t, full.Amount.Equal(dec("700")), "amount %s", full.Amount)
		assert.Equal(t, domain.ApprovalLevelAuto, full.ApprovalLevel)
	})
}

func TestRefundService_ApprovalRechecksBalance(t *testing.T) {
	f := newRefundFixture(t, "100000")
	ctx := userContext(f.manager)

	first := f.initiate(t, "60000")
	second := f.initiate(t, "60000")

	_, err := f.env.refunds.Approve(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.env.refunds.Approve(ctx, second.ID)
	assert.ErrorIs(t, err, service.ErrRefundExceedsBalance)

	rejected, err := f.env.refunds.Reject(ctx, second.ID, "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusRejected, rejected.Status)
	assert.Equal(t, "duplicate request", rejected.RejectionReason)

	_, err = f.env.refunds.Reject(ctx, first.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "approved refunds cannot be rejected")
}

func TestRefundService_BulkProcess(t *testing.T) {
	f := newRefundFixture(t, "50000")
	ctx := userContext(f.manager)

	a := f.approved(t, "10000")
	b := f.approved(t, "10000")
	c := f.approved(t, "10000")
	f.env.gateway.failRefund(b.ID)

	result := f.env.refunds.BulkProcess(ctx, []uuid.UUID{a.ID, b.ID, c.ID})
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Failure)
	require.Len(t, result.Results, 3)
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)
	assert.Equal(t, domain.RefundStatusFailed, result.Results[1].Status)
	assert.True(t, result.Results[2].Success)

	failed, err := f.env.refunds.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "insufficient balance")

	payment := f.reloadPayment(t)
	assert.True(t, payment.RefundAmount.Equal(dec("20000")), "only completed refunds reach the payment")

	t.Run("failed refunds can be retried", func(t *testing.T) {
		f.env.gateway.allowRefund(b.ID)
		retried, err := f.env.refunds.Retry(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RefundStatusCompleted, retried.Status)
		assert.Empty(t, retried.FailureReason)

		payment := f.reloadPayment(t)
		assert.True(t, payment.RefundAmount.Equal(dec("30000")))

		_, err = f.env.refunds.Retry(ctx, b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("gateway failure surfaces as a gateway error", func(t *testing.T) {
		d := f.approved(t, "5000")
		f.env.gateway.failRefund(d.ID)
		dto, err := f.env.refunds.Process(ctx, d.ID)
		assert.ErrorIs(t, err, domain.ErrGateway)
		require.NotNil(t, dto)
		assert.Equal(t, domain.RefundStatusFailed, dto.Status)
	})
}

func TestRefundService_Reverse(t *testing.T) {
	f := newRefundFixture(t, "2000")
	ctx := userContext(f.manager)

	r := f.approved(t, "2000")
	_, err := f.env.refunds.Reverse(ctx, r.ID, "not yet processed")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.env.refunds.Process(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, f.reloadPayment(t).Status)

	reversed, err := f.env.refunds.Reverse(ctx, r.ID, "customer kept the goods")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusReversed, reversed.Status)
	assert.False(t, reversed.GatewayReversed, "sandbox cannot reverse at the provider")
	assert.NotNil(t, reversed.ReversedAt)

	payment := f.reloadPayment(t)
	assert.Equal(t, domain.PaymentStatusSuccess, payment.Status)
	assert.True(t, payment.RefundAmount.IsZero())

	timeline, err := f.env.refunds.Timeline(ctx, r.ID)
	require.NoError(t, err)
	var note string
	for _, e := range timeline {
		if e.Event == domain.RefundEventReversed {
			note = e.Note
		}
	}
	assert.Contains(t, note, "locally")

	_, err = f.env.refunds.Reverse(ctx, r.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRefundService_List(t *testing.T) {
	f := newRefundFixture(t, "5000")
	ctx := userContext(f.manager)

	f.initiate(t, "100")
	f.approved(t, "200")

	all, err := f.env.refunds.List(ctx, 1, 20, repository.RefundFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)
	assert.Equal(t, 1, all.TotalPages)

	pending := domain.RefundStatusPending
	onlyPending, err := f.env.refunds.List(ctx, 1, 20, repository.RefundFilters{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), onlyPending.Total)

	_, err = f.env.refunds.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefundService_ProcessOutlivesCancelledRequest(t *testing.T) {
	f := newRefundFixture(t, "100000")
	refund := f.approved(t, "25000")

	ctx, cancel := context.WithCancel(userContext(f.manager))
	defer cancel()
	f.env.gateway.afterRefund = func(gateway.RefundRequest) { cancel() }
	defer func() { f.env.gateway.afterRefund = nil }()

	processed, err := f.env.refunds.Process(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, processed.Status)
	assert.NotEmpty(t, processed.GatewayReference)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	payment := f.reloadPayment(t)
	assert.True(t, dec("25000").Equal(payment.RefundAmount))
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, payment.Status)
}

func TestRefundService_RetryResumesUnrecordedRefund(t *testing.T) {
	f := newRefundFixture(t, "100000")
	ctx := userContext(f.manager)
	refund := f.approved(t, "40000")

	// The provider paid out but the outcome never reached the database
	paid, err := f.env.gateway.RefundPayment(ctx, gateway.RefundRequest{
		PaymentReference: f.payment.GatewayReference,
		Amount:           dec("40000"),
		IdempotencyKey:   refund.ID.String(),
	})
	require.NoError(t, err)
	require.NoError(t, f.env.db.Model(&domain.Refund{}).
		Where("id = ?", refund.ID).
		Update("status", domain.RefundStatusProcessing).Error)

	_, err = f.env.refunds.Process(ctx, refund.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "an in-flight refund is not processed twice")

	resumed, err := f.env.refunds.Retry(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, resumed.Status)
	assert.Equal(t, paid.Reference, resumed.GatewayReference, "the provider answers with the refund it already issued")

	payment := f.reloadPayment(t)
	assert.True(t, dec("40000").Equal(payment.RefundAmount), "the refund is applied once")

	_, err = f.env.refunds.Retry(ctx, refund.ID)
	assert.ErrorIs(t, err, service.ErrRefundNotRetryable)

	timeline, err := f.env.refunds.Timeline(ctx, refund.ID)
	require.NoError(t, err)
	var resumedEntries int
	for _, entry := range timeline {
		if entry.Event == domain.RefundEventRetryRequested && entry.Metadata["resumed"] == true {
			resumedEntries++
		}
	}
	assert.Equal(t, 1, resumedEntries)
}
