package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentQuotation creates and sends a quotation, returning it with its raw access token
func sentQuotation(t *testing.T, env *handlerEnv, owner *domain.User) (domain.QuotationDTO, string) {
	t.Helper()
	client := testutil.CreateTestClient(t, env.db, owner.ID, "29")

	rr := env.do(t, owner, http.MethodPost, "/quotations", createQuotationRequest(client.ID))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var draft domain.QuotationDTO
	decodeBody(t, rr, &draft)

	rr = env.do(t, owner, http.MethodPost, "/quotations/"+draft.ID.String()+"/send", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sent domain.SendQuotationResultDTO
	decodeBody(t, rr, &sent)
	return sent.Quotation, portalToken(t, sent)
}

func TestPortalHandler_View(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)
	quotation, token := sentQuotation(t, env, owner)

	t.Run("first view marks the quotation viewed", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodGet, "/portal/quotations/"+token+"/", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var view domain.PortalQuotationDTO
		decodeBody(t, rr, &view)
		assert.Equal(t, quotation.QuotationNumber, view.QuotationNumber)
		assert.Equal(t, domain.QuotationStatusViewed, view.Status)
		assert.True(t, view.IGSTAmount.Equal(dec("1620")), "inter-state sale is taxed as IGST, got %s", view.IGSTAmount)
		assert.True(t, view.CGSTAmount.IsZero())
	})

	t.Run("repeat views keep the status", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodGet, "/portal/quotations/"+token+"/", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var view domain.PortalQuotationDTO
		decodeBody(t, rr, &view)
		assert.Equal(t, domain.QuotationStatusViewed, view.Status)

		var link domain.QuotationAccessLink
		require.NoError(t, env.db.Where("quotation_id = ?", quotation.ID).First(&link).Error)
		assert.Equal(t, 2, link.ViewCount)
		assert.NotNil(t, link.FirstViewedAt)
	})

	t.Run("unknown token", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodGet, "/portal/quotations/not-a-real-token/", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestPortalHandler_Respond(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)
	quotation, token := sentQuotation(t, env, owner)

	t.Run("response type is required", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodPost, "/portal/quotations/"+token+"/response", domain.SubmitResponseRequest{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("acceptance moves the quotation to accepted", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodPost, "/portal/quotations/"+token+"/response", domain.SubmitResponseRequest{
			ResponseType: "accept",
			ClientName:   "Priya Shah",
			Message:      "Please proceed",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var response domain.QuotationResponseDTO
		decodeBody(t, rr, &response)
		assert.Equal(t, domain.ResponseDecisionAccepted, response.Decision)
		assert.Equal(t, quotation.ID, response.QuotationID)

		rr = env.do(t, owner, http.MethodGet, "/quotations/"+quotation.ID.String(), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var reloaded domain.QuotationDTO
		decodeBody(t, rr, &reloaded)
		assert.Equal(t, domain.QuotationStatusAccepted, reloaded.Status)
	})

	t.Run("a second response conflicts", func(t *testing.T) {
		rr := env.do(t, nil, http.MethodPost, "/portal/quotations/"+token+"/response", domain.SubmitResponseRequest{
			ResponseType: "reject",
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("the client header is recorded", func(t *testing.T) {
		var stored domain.QuotationResponse
		require.NoError(t, env.db.Where("quotation_id = ?", quotation.ID).First(&stored).Error)
		assert.NotEmpty(t, stored.IPAddress)
	})
}

func TestPortalHandler_RecordsSocketAddress(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.user(t, domain.RoleSalesRep)
	quotation, token := sentQuotation(t, env, owner)

	raw, err := json.Marshal(domain.SubmitResponseRequest{ResponseType: "accept", ClientName: "Priya Shah"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/portal/quotations/"+token+"/response", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "198.51.100.77, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.78")
	req.RemoteAddr = "203.0.113.20:41234"

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var stored domain.QuotationResponse
	require.NoError(t, env.db.Where("quotation_id = ?", quotation.ID).First(&stored).Error)
	assert.Equal(t, "203.0.113.20", stored.IPAddress, "forwarding headers from the client are not trusted")
}
