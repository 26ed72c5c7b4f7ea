package handler_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func createQuotationRequest(clientID uuid.UUID) domain.CreateQuotationRequest {
	return domain.CreateQuotationRequest{
		ClientID:           clientID,
		Title:              "Office fit-out",
		QuotationDate:      today(),
		ValidUntil:         today().AddDate(0, 0, 30),
		DiscountPercentage: dec("10"),
		Items: []domain.LineItemInput{
			{Name: "Partition walls", Quantity: dec("4"), UnitRate: dec("2500")},
		},
	}
}

// portalToken extracts the raw access token from the portal URL returned by send
func portalToken(t *testing.T, result domain.SendQuotationResultDTO) string {
	t.Helper()
	url := result.Link.PortalURL
	require.NotEmpty(t, url)
	return url[strings.LastIndex(url, "/")+1:]
}

func TestQuotationHandler_Create(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")

	t.Run("prices the draft", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodPost, "/quotations", createQuotationRequest(client.ID))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var q domain.QuotationDTO
		decodeBody(t, rr, &q)
		assert.Equal(t, domain.QuotationStatusDraft, q.Status)
		assert.Equal(t, "/api/v1/quotations/"+q.ID.String(), rr.Header().Get("Location"))
		assert.True(t, q.Subtotal.Equal(dec("10000")), "subtotal %s", q.Subtotal)
		assert.True(t, q.DiscountAmount.Equal(dec("1000")))
		assert.True(t, q.CGSTAmount.Equal(dec("810")))
		assert.True(t, q.SGSTAmount.Equal(dec("810")))
		assert.True(t, q.IGSTAmount.IsZero(), "intra-state sale carries no IGST")
		assert.True(t, q.TotalAmount.Equal(dec("10620")), "total %s", q.TotalAmount)
	})

	t.Run("rejects a request without items", func(t *testing.T) {
		req := createQuotationRequest(client.ID)
		req.Items = nil
		rr := env.do(t, owner, http.MethodPost, "/quotations", req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		var apiErr domain.APIError
		decodeBody(t, rr, &apiErr)
		assert.Equal(t, domain.ErrorTypeValidation, apiErr.Type)
		assert.Contains(t, apiErr.Errors, "items")
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodPost, "/quotations", "not an object")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown client is not found", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodPost, "/quotations", createQuotationRequest(uuid.New()))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("another rep's client is forbidden", func(t *testing.T) {
		other := env.user(t, domain.RoleSalesRep)
		rr := env.do(t, other, http.MethodPost, "/quotations", createQuotationRequest(client.ID))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("anonymous callers are unauthorized", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodPost, "/quotations", createQuotationRequest(client.ID))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestQuotationHandler_GetByID(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)

	t.Run("invalid id", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodGet, "/quotations/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing quotation", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodGet, "/quotations/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		var apiErr domain.APIError
		decodeBody(t, rr, &apiErr)
		assert.Equal(t, domain.ErrorTypeNotFound, apiErr.Type)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
	})
}

func TestQuotationHandler_SendAndCancel(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")

	rr := env.do(t, owner, http.MethodPost, "/quotations", createQuotationRequest(client.ID))
	require.Equal(t, http.StatusCreated, rr.Code)
	var draft domain.QuotationDTO
	decodeBody(t, rr, &draft)

	rr = env.do(t, owner, http.MethodPost, "/quotations/"+draft.ID.String()+"/send", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var sent domain.SendQuotationResultDTO
	decodeBody(t, rr, &sent)
	assert.Equal(t, domain.QuotationStatusSent, sent.Quotation.Status)
	assert.Equal(t, client.Email, sent.Link.RecipientEmail)
	assert.True(t, sent.Link.IsActive)
	assert.True(t, strings.HasPrefix(sent.Link.PortalURL, "https://portal.example.com/q/"))

	t.Run("sending twice conflicts", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodPost, "/quotations/"+draft.ID.String()+"/send", nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("cancel with a reason", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodPost, "/quotations/"+draft.ID.String()+"/cancel",
			domain.CancelQuotationRequest{Reason: "client withdrew"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var cancelled domain.QuotationDTO
		decodeBody(t, rr, &cancelled)
		assert.Equal(t, domain.QuotationStatusCancelled, cancelled.Status)
	})

	t.Run("history records every transition", func(t *testing.T) {
		rr := env.do(t, owner, http.MethodGet, "/quotations/"+draft.ID.String()+"/history", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var history []domain.StatusHistoryDTO
		decodeBody(t, rr, &history)
		statuses := make([]string, len(history))
		for i, h := range history {
			statuses[i] = h.NewStatus
		}
		assert.Contains(t, statuses, string(domain.QuotationStatusSent))
		assert.Contains(t, statuses, string(domain.QuotationStatusCancelled))
	})

	t.Run("links die with the quotation", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodGet, "/portal/quotations/"+portalToken(t, sent)+"/", nil)
		assert.Equal(t, http.StatusGone, rr.Code)
	})
}
