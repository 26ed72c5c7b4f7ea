package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSandbox() *gateway.Sandbox {
	return gateway.NewSandbox(gateway.Credentials{WebhookSecret: "whsec_test"}, zap.NewNop())
}

func TestError_WrapsGatewayKind(t *testing.T) {
	err := gateway.NewError("razorpay", "refund_payment", "BAD_REQUEST_ERROR: amount too large")
	assert.True(t, errors.Is(err, domain.ErrGateway))
	assert.Contains(t, err.Error(), "BAD_REQUEST_ERROR: amount too large")

	var gwErr *gateway.Error
	require.True(t, errors.As(error(err), &gwErr))
	assert.Equal(t, "razorpay", gwErr.Provider)
}

func TestRegistry(t *testing.T) {
	sb := newSandbox()
	reg := gateway.NewRegistry(gateway.SandboxName, sb)

	g, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, gateway.SandboxName, g.Name())

	_, err = reg.Get("stripe")
	assert.ErrorIs(t, err, gateway.ErrUnknownProvider)
	assert.Equal(t, []string{gateway.SandboxName}, reg.Names())
}

func TestSandbox_PaymentAndRefund(t *testing.T) {
	sb := newSandbox()
	ctx := context.Background()

	session, err := sb.InitiatePayment(ctx, gateway.PaymentRequest{QuotationID: uuid.New(), Amount: decimal.NewFromInt(1000), Currency: "INR"})
	require.NoError(t, err)

	v, err := sb.VerifyPayment(ctx, session.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, v.Status)

	req := gateway.RefundRequest{PaymentReference: session.Reference, Amount: decimal.NewFromInt(600), IdempotencyKey: "r1"}
	first, err := sb.RefundPayment(ctx, req)
	require.NoError(t, err)
	again, err := sb.RefundPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, again.Reference)

	_, err = sb.RefundPayment(ctx, gateway.RefundRequest{PaymentReference: session.Reference, Amount: decimal.NewFromInt(500), IdempotencyKey: "r2"})
	assert.ErrorIs(t, err, domain.ErrGateway)

	status, err := sb.GetRefundStatus(ctx, first.Reference)
	require.NoError(t, err)
	assert.Equal(t, "processed", status.Status)

	assert.ErrorIs(t, sb.ReverseRefund(ctx, first.Reference, "mistake"), gateway.ErrUnsupported)
}

func TestSandbox_Webhook(t *testing.T) {
	sb := newSandbox()
	qid := uuid.New()
	payload := []byte(`{"event":"payment.captured","reference":"pay_1","quotationId":"` + qid.String() + `","amount":"2500.00","status":"success"}`)

	sig := sb.Sign(payload)
	assert.True(t, sb.VerifyWebhookSignature(payload, sig))
	assert.True(t, sb.VerifyWebhookSignature(payload, "sha256="+sig))
	assert.False(t, sb.VerifyWebhookSignature(payload, "deadbeef"))
	assert.False(t, sb.VerifyWebhookSignature([]byte(`{}`), sig))

	event, err := sb.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", event.Reference)
	assert.Equal(t, qid, event.QuotationID)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, domain.PaymentStatusSuccess, event.Status)
}
