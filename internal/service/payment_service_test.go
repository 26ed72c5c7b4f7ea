package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePaymentSummary(t *testing.T) {
	id := uuid.New()
	payments := []domain.Payment{
		{AmountPaid: dec("4000"), RefundAmount: decimal.Zero, Status: domain.PaymentStatusSuccess},
		{AmountPaid: dec("3000"), RefundAmount: dec("1000"), Status: domain.PaymentStatusPartiallyRefunded},
		{AmountPaid: dec("500"), RefundAmount: dec("500"), Status: domain.PaymentStatusRefunded},
		{AmountPaid: dec("9999"), RefundAmount: decimal.Zero, Status: domain.PaymentStatusPending},
		{AmountPaid: dec("9999"), RefundAmount: decimal.Zero, Status: domain.PaymentStatusFailed},
	}

	summary := service.ComputePaymentSummary(id, dec("10000"), payments)
	assert.Equal(t, id, summary.QuotationID)
	assert.True(t, summary.PaidTotal.Equal(dec("7500")), "paid %s", summary.PaidTotal)
	assert.True(t, summary.PaidNetTotal.Equal(dec("6000")), "net %s", summary.PaidNetTotal)
	assert.True(t, summary.Outstanding.Equal(dec("4000")), "outstanding %s", summary.Outstanding)

	t.Run("outstanding never goes negative", func(t *testing.T) {
		over := service.ComputePaymentSummary(id, dec("1000"), payments)
		assert.True(t, over.Outstanding.IsZero())
	})
}

func TestPaymentService_ManualPayments(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec("10000"))

	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{"zero", "0", domain.ErrInvalidAmount},
		{"negative", "-5", domain.ErrInvalidAmount},
		{"above outstanding", "10000.01", domain.ErrAmountExceedsOutstanding},
		{"exactly outstanding", "10000", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.payments.ValidateManualPayment(ctx, q.ID, dec(tt.amount))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	first, err := env.payments.RecordManualPayment(ctx, q.ID, &domain.RecordPaymentRequest{Amount: dec("6000"), Reference: "NEFT-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodManual, first.Method)
	assert.Equal(t, domain.PaymentStatusSuccess, first.Status)

	_, err = env.payments.RecordManualPayment(ctx, q.ID, &domain.RecordPaymentRequest{Amount: dec("4000.01")})
	assert.ErrorIs(t, err, domain.ErrAmountExceedsOutstanding)

	summary, err := env.payments.Summary(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, summary.Outstanding.Equal(dec("4000")))

	t.Run("edit excludes the payment's own contribution", func(t *testing.T) {
		assert.NoError(t, env.payments.ValidateManualPaymentEdit(ctx, first.ID, dec("10000")))
		assert.ErrorIs(t, env.payments.ValidateManualPaymentEdit(ctx, first.ID, dec("10001")), domain.ErrAmountExceedsOutstanding)

		updated, err := env.payments.UpdateManualPayment(ctx, first.ID, &domain.UpdatePaymentRequest{Amount: dec("7000"), Notes: "corrected"})
		require.NoError(t, err)
		assert.True(t, updated.AmountPaid.Equal(dec("7000")))

		summary, err := env.payments.Summary(ctx, q.ID)
		require.NoError(t, err)
		assert.True(t, summary.Outstanding.Equal(dec("3000")))
	})

	t.Run("gateway payments cannot be edited", func(t *testing.T) {
		p := testutil.CreateTestPayment(t, env.db, q.ID, dec("100"))
		_, err := env.payments.UpdateManualPayment(ctx, p.ID, &domain.UpdatePaymentRequest{Amount: dec("50")})
		assert.ErrorIs(t, err, service.ErrPaymentNotManual)
	})

	t.Run("drafts cannot receive payments", func(t *testing.T) {
		draft := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusDraft, dec("100"))
		_, err := env.payments.RecordManualPayment(ctx, draft.ID, &domain.RecordPaymentRequest{Amount: dec("10")})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("payment notifies the owner", func(t *testing.T) {
		var count int64
		require.NoError(t, env.db.Model(&domain.Notification{}).
			Where("recipient_id = ? AND event_type = ?", owner.ID, domain.NotificationEventPaymentReceived).
			Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestPaymentService_Webhook(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec("10000"))

	payload := []byte(fmt.Sprintf(
		`{"event":"payment.captured","reference":"pay_webhook_1","quotationId":%q,"amount":"2500","status":"success"}`, q.ID))
	signature := env.gateway.Sign(payload)

	t.Run("bad signature", func(t *testing.T) {
		_, err := env.payments.HandleWebhook(context.Background(), "sandbox", payload, "deadbeef")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	first, err := env.payments.HandleWebhook(context.Background(), "sandbox", payload, signature)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, first.Status)
	assert.True(t, first.AmountPaid.Equal(dec("2500")))

	again, err := env.payments.HandleWebhook(context.Background(), "sandbox", payload, signature)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	payments, err := env.payments.ListPayments(ctx, q.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	summary, err := env.payments.Summary(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, summary.Outstanding.Equal(dec("7500")))
}

func TestPaymentService_InitiateAndSync(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec("1200"))

	pending, checkoutURL, err := env.payments.InitiateGatewayPayment(ctx, q.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, checkoutURL)
	assert.Equal(t, domain.PaymentStatusPending, pending.Status)

	summary, err := env.payments.Summary(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, summary.Outstanding.Equal(dec("1200")), "pending payments do not count")

	synced, err := env.payments.SyncGatewayPayment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, synced.Status)

	summary, err = env.payments.Summary(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, summary.Outstanding.IsZero())
}

func TestPaymentService_EditKeepsRefundsCovered(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	manager := testutil.CreateTestUser(t, env.db, domain.RoleManager)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec("100000"))

	payment, err := env.payments.RecordManualPayment(ctx, q.ID, &domain.RecordPaymentRequest{Amount: dec("100000"), Reference: "RTGS-77"})
	require.NoError(t, err)

	amount := dec("60000")
	refund, err := env.refunds.Initiate(ctx, payment.ID, &domain.InitiateRefundRequest{Amount: &amount, Reason: "scope reduced"})
	require.NoError(t, err)
	_, err = env.refunds.Approve(userContext(manager), refund.ID)
	require.NoError(t, err)

	t.Run("cannot drop below an approved refund", func(t *testing.T) {
		_, err := env.payments.UpdateManualPayment(ctx, payment.ID, &domain.UpdatePaymentRequest{Amount: dec("30000")})
		assert.ErrorIs(t, err, service.ErrPaymentBelowRefunds)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)

		stored, err := env.paymentRepo.GetByID(ctx, payment.ID)
		require.NoError(t, err)
		assert.True(t, stored.AmountPaid.Equal(dec("100000")), "amount %s", stored.AmountPaid)
	})

	t.Run("down to the approved refund is allowed", func(t *testing.T) {
		updated, err := env.payments.UpdateManualPayment(ctx, payment.ID, &domain.UpdatePaymentRequest{Amount: dec("60000")})
		require.NoError(t, err)
		assert.True(t, updated.AmountPaid.Equal(dec("60000")))
	})

	t.Run("the approved refund still processes in full", func(t *testing.T) {
		processed, err := env.refunds.Process(userContext(manager), refund.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RefundStatusCompleted, processed.Status)
	})
}
