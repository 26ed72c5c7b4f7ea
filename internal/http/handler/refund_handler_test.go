package handler_test

import (
	"net/http"
	"testing"

	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundHandler_Workflow(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)
	manager := env.user(t, domain.RoleManager)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	quotation := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec("100000"))
	payment := testutil.CreateTestPayment(t, env.db, quotation.ID, dec("100000"))
	refundsPath := "/payments/" + payment.ID.String() + "/refunds"

	t.Run("amount above the payment is unprocessable", func(t *testing.T) {
		amount := dec("100000.01")
		rr := env.do(t, owner, http.MethodPost, refundsPath, domain.InitiateRefundRequest{Amount: &amount, Reason: "duplicate charge"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

		var apiErr domain.APIError
		decodeBody(t, rr, &apiErr)
		assert.Equal(t, domain.ErrorTypeInvalidAmount, apiErr.Type)
	})

	amount := dec("40000")
	rr := env.do(t, owner, http.MethodPost, refundsPath, domain.InitiateRefundRequest{Amount: &amount, Reason: "partial cancellation"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var refund domain.RefundDTO
	decodeBody(t, rr, &refund)
	assert.Equal(t, domain.RefundStatusPending, refund.Status)
	refundPath := "/refunds/" + refund.ID.String()

	t.Run("pending refunds cannot be processed", func(t *testing.T) {
		rr := env.do(t, manager, http.MethodPost, refundPath+"/process", nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	rr = env.do(t, manager, http.MethodPost, refundPath+"/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	t.Run("gateway failure returns the failed refund", func(t *testing.T) {
		env.gateway.setDecline(true)
		defer env.gateway.setDecline(false)

		rr := env.do(t, manager, http.MethodPost, refundPath+"/process", nil)
		require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())

		var failed domain.RefundDTO
		decodeBody(t, rr, &failed)
		assert.Equal(t, refund.ID, failed.ID)
		assert.Equal(t, domain.RefundStatusFailed, failed.Status)
		assert.Contains(t, failed.FailureReason, "insufficient balance")
	})

	t.Run("retry completes once the gateway recovers", func(t *testing.T) {
		rr := env.do(t, manager, http.MethodPost, refundPath+"/retry", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var completed domain.RefundDTO
		decodeBody(t, rr, &completed)
		assert.Equal(t, domain.RefundStatusCompleted, completed.Status)
		assert.NotEmpty(t, completed.GatewayReference)
	})

	t.Run("summary reflects the refund", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodGet, "/quotations/"+quotation.ID.String()+"/payments/summary", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var summary domain.PaymentSummary
		decodeBody(t, rr, &summary)
		assert.True(t, summary.PaidNetTotal.Equal(dec("60000")), "net %s", summary.PaidNetTotal)
		assert.True(t, summary.Outstanding.Equal(dec("40000")), "outstanding %s", summary.Outstanding)
	})
}

func TestRefundHandler_List(t *testing.T) {
	env := newHandlerEnv(t)
	manager := env.user(t, domain.RoleManager)

	t.Run("rejects an unknown status", func(t *testing.T) {
		rr := env.do(t, manager, http.MethodGet, "/refunds?status=SETTLED", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects a malformed quotation filter", func(t *testing.T) {
		rr := env.do(t, manager, http.MethodGet, "/refunds?quotationId=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty page", func(t *testing.T) {
		rr := env.do(t, manager, http.MethodGet, "/refunds?status=PENDING", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var page domain.PaginatedResponse
		decodeBody(t, rr, &page)
		assert.Equal(t, int64(0), page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 20, page.PageSize)
	})
}

func TestNotificationHandler_RequiresCaller(t *testing.T) {
	env := newHandlerEnv(t)

	t.Run("count needs a user", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodGet, "/notifications/count", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("stream is unavailable without a hub", func(t *testing.T) {
		user := env.user(t, domain.RoleViewer)
		rr := env.do(t, user, http.MethodGet, "/ws/notifications", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
