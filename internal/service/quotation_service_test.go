package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenFrom(t *testing.T, result *domain.SendQuotationResultDTO) string {
	t.Helper()
	i := strings.LastIndex(result.Link.PortalURL, "/")
	require.True(t, i >= 0, "portal url %q has no token", result.Link.PortalURL)
	token := result.Link.PortalURL[i+1:]
	require.NotEmpty(t, token)
	return token
}

func countHistory(rows []domain.StatusHistoryDTO, to domain.QuotationStatus) int {
	n := 0
	for _, r := range rows {
		if r.NewStatus == string(to) {
			n++
		}
	}
	return n
}

func TestQuotationService_Create(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)

	t.Run("same state buyer gets CGST and SGST", func(t *testing.T) {
		client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
		q := createDraft(t, env, ctx, client.ID)

		assert.Equal(t, domain.QuotationStatusDraft, q.Status)
		assert.True(t, q.Subtotal.Equal(dec("10000")), "subtotal %s", q.Subtotal)
		assert.True(t, q.DiscountAmount.Equal(dec("1000")), "discount %s", q.DiscountAmount)
		assert.True(t, q.CGSTAmount.Equal(dec("810")), "cgst %s", q.CGSTAmount)
		assert.True(t, q.SGSTAmount.Equal(dec("810")), "sgst %s", q.SGSTAmount)
		assert.True(t, q.IGSTAmount.IsZero(), "igst %s", q.IGSTAmount)
		assert.True(t, q.TotalAmount.Equal(dec("10620")), "total %s", q.TotalAmount)
		assert.True(t, strings.HasPrefix(q.QuotationNumber, fmt.Sprintf("QT-%d-", time.Now().UTC().Year())), q.QuotationNumber)

		history, err := env.quotations.GetStatusHistory(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "", history[0].PreviousStatus)
		assert.Equal(t, string(domain.QuotationStatusDraft), history[0].NewStatus)
	})

	t.Run("other state buyer gets IGST", func(t *testing.T) {
		client := testutil.CreateTestClient(t, env.db, owner.ID, "29")
		q := createDraft(t, env, ctx, client.ID)

		assert.True(t, q.IGSTAmount.Equal(dec("1620")), "igst %s", q.IGSTAmount)
		assert.True(t, q.CGSTAmount.IsZero())
		assert.True(t, q.SGSTAmount.IsZero())
		assert.True(t, q.TotalAmount.Equal(dec("10620")))
	})

	t.Run("missing client", func(t *testing.T) {
		_, err := env.quotations.Create(ctx, &domain.CreateQuotationRequest{
			ClientID:      uuid.New(),
			Title:         "Nothing",
			QuotationDate: today(),
			ValidUntil:    today(),
			Items:         []domain.LineItemInput{{Name: "x", Quantity: dec("1"), UnitRate: dec("1")}},
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("client owned by someone else", func(t *testing.T) {
		other := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
		client := testutil.CreateTestClient(t, env.db, other.ID, "27")
		_, err := env.quotations.Create(ctx, &domain.CreateQuotationRequest{
			ClientID:      client.ID,
			Title:         "Not mine",
			QuotationDate: today(),
			ValidUntil:    today(),
			Items:         []domain.LineItemInput{{Name: "x", Quantity: dec("1"), UnitRate: dec("1")}},
		})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("validity before quotation date", func(t *testing.T) {
		client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
		_, err := env.quotations.Create(ctx, &domain.CreateQuotationRequest{
			ClientID:      client.ID,
			Title:         "Backwards",
			QuotationDate: today(),
			ValidUntil:    today().AddDate(0, 0, -1),
			Items:         []domain.LineItemInput{{Name: "x", Quantity: dec("1"), UnitRate: dec("1")}},
		})
		assert.ErrorIs(t, err, service.ErrInvalidValidityPeriod)
	})
}

func TestQuotationService_Update(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := createDraft(t, env, ctx, client.ID)
	require.Len(t, q.Items, 1)

	keep := q.Items[0].ID
	updated, err := env.quotations.Update(ctx, q.ID, &domain.UpdateQuotationRequest{
		Title:              "Office fit-out, phase 2",
		QuotationDate:      today(),
		ValidUntil:         today().AddDate(0, 0, 15),
		DiscountPercentage: decimal.Zero,
		Items: []domain.LineItemInput{
			{ID: &keep, Name: "Partition walls", Quantity: dec("2"), UnitRate: dec("2500")},
			{Name: "Paint", Quantity: dec("10"), UnitRate: dec("100")},
		},
	})
	require.NoError(t, err)

	require.Len(t, updated.Items, 2)
	assert.Equal(t, keep, updated.Items[0].ID)
	assert.Equal(t, 1, updated.Items[0].SequenceNo)
	assert.Equal(t, 2, updated.Items[1].SequenceNo)
	assert.True(t, updated.Subtotal.Equal(dec("6000")), "subtotal %s", updated.Subtotal)
	assert.True(t, updated.TotalAmount.Equal(updated.Subtotal.Sub(updated.DiscountAmount).Add(updated.TaxAmount)))
	assert.True(t, updated.TotalAmount.Equal(dec("7080")), "total %s", updated.TotalAmount)

	_, err = env.quotations.Send(ctx, q.ID, nil)
	require.NoError(t, err)

	_, err = env.quotations.Update(ctx, q.ID, &domain.UpdateQuotationRequest{
		Title:         "Too late",
		QuotationDate: today(),
		ValidUntil:    today().AddDate(0, 0, 15),
		Items:         []domain.LineItemInput{{Name: "x", Quantity: dec("1"), UnitRate: dec("1")}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestQuotationService_Send(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	admin := testutil.CreateTestUser(t, env.db, domain.RoleAdmin)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")

	t.Run("draft is sent with a fresh link", func(t *testing.T) {
		q := createDraft(t, env, ctx, client.ID)

		result, err := env.quotations.Send(ctx, q.ID, &domain.SendQuotationRequest{})
		require.NoError(t, err)
		assert.Equal(t, domain.QuotationStatusSent, result.Quotation.Status)
		assert.NotNil(t, result.Quotation.SentAt)
		assert.Equal(t, client.Email, result.Link.RecipientEmail)
		assert.True(t, result.Link.IsActive)
		assert.True(t, strings.HasPrefix(result.Link.PortalURL, "https://portal.example.com/q/"))
		assert.Equal(t, 1, env.mailer.count())

		var stored domain.QuotationAccessLink
		require.NoError(t, env.db.Where("id = ?", result.Link.ID).First(&stored).Error)
		assert.Equal(t, service.HashAccessToken(tokenFrom(t, result)), stored.TokenHash)

		_, err = env.quotations.Send(ctx, q.ID, nil)
		assert.ErrorIs(t, err, service.ErrQuotationNotSendable)
	})

	t.Run("only the creator may send", func(t *testing.T) {
		q := createDraft(t, env, ctx, client.ID)
		_, err := env.quotations.Send(userContext(admin), q.ID, nil)
		assert.ErrorIs(t, err, service.ErrNotCreator)
	})

	t.Run("rejected quotation cannot be sent", func(t *testing.T) {
		q := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusRejected, dec("500"))
		_, err := env.quotations.Send(ctx, q.ID, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = env.quotations.Resend(ctx, q.ID, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("validity already ended", func(t *testing.T) {
		q := createDraft(t, env, ctx, client.ID)
		env.quotations.SetClock(func() time.Time { return time.Now().UTC().AddDate(0, 0, 40) })
		defer env.quotations.SetClock(func() time.Time { return time.Now().UTC() })

		_, err := env.quotations.Send(ctx, q.ID, nil)
		assert.ErrorIs(t, err, service.ErrQuotationValidityEnded)
	})

	t.Run("owner and admins are notified", func(t *testing.T) {
		q := createDraft(t, env, ctx, client.ID)
		_, err := env.quotations.Send(ctx, q.ID, nil)
		require.NoError(t, err)

		for _, recipient := range []uuid.UUID{owner.ID, admin.ID} {
			exists, err := env.notificationRepo.ExistsSince(context.Background(), recipient, q.ID,
				domain.NotificationEventQuotationSent, time.Now().UTC().Add(-time.Minute))
			require.NoError(t, err)
			assert.True(t, exists, "recipient %s", recipient)
		}
	})
}

func TestQuotationService_Resend(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := createDraft(t, env, ctx, client.ID)

	first, err := env.quotations.Send(ctx, q.ID, nil)
	require.NoError(t, err)
	firstToken := tokenFrom(t, first)

	second, err := env.quotations.Resend(ctx, q.ID, &domain.ResendQuotationRequest{RecipientEmail: "cfo@acme.example"})
	require.NoError(t, err)
	assert.Equal(t, "cfo@acme.example", second.Link.RecipientEmail)

	// earlier link still works
	_, err = env.quotations.MarkViewed(context.Background(), firstToken, domain.ClientAccessInfo{})
	require.NoError(t, err)

	third, err := env.quotations.Resend(ctx, q.ID, &domain.ResendQuotationRequest{DeactivatePrevious: true})
	require.NoError(t, err)

	_, err = env.quotations.MarkViewed(context.Background(), firstToken, domain.ClientAccessInfo{})
	assert.ErrorIs(t, err, domain.ErrAccessLinkExpired)
	_, err = env.quotations.MarkViewed(context.Background(), tokenFrom(t, second), domain.ClientAccessInfo{})
	assert.ErrorIs(t, err, domain.ErrAccessLinkExpired)
	_, err = env.quotations.MarkViewed(context.Background(), tokenFrom(t, third), domain.ClientAccessInfo{})
	assert.NoError(t, err)

	links, err := env.quotations.ListAccessLinks(ctx, q.ID)
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func TestQuotationService_MarkViewed(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")
	q := createDraft(t, env, ctx, client.ID)
	sent, err := env.quotations.Send(ctx, q.ID, nil)
	require.NoError(t, err)
	token := tokenFrom(t, sent)

	for i := 0; i < 3; i++ {
		view, err := env.quotations.MarkViewed(context.Background(), token, domain.ClientAccessInfo{IPAddress: "203.0.113.7"})
		require.NoError(t, err)
		assert.Equal(t, domain.QuotationStatusViewed, view.Status)
		assert.True(t, view.CanRespond)
	}

	history, err := env.quotations.GetStatusHistory(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countHistory(history, domain.QuotationStatusViewed))

	links, err := env.quotations.ListAccessLinks(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 3, links[0].ViewCount)
	assert.NotNil(t, links[0].FirstViewedAt)

	t.Run("unknown token", func(t *testing.T) {
		_, err := env.quotations.MarkViewed(context.Background(), "not-a-token", domain.ClientAccessInfo{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("expired link", func(t *testing.T) {
		env.quotations.SetClock(func() time.Time { return time.Now().UTC().Add(721 * time.Hour) })
		defer env.quotations.SetClock(func() time.Time { return time.Now().UTC() })

		_, err := env.quotations.MarkViewed(context.Background(), token, domain.ClientAccessInfo{})
		assert.ErrorIs(t, err, domain.ErrAccessLinkExpired)
	})
}

func TestQuotationService_SubmitResponse(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")

	send := func(t *testing.T) (*domain.QuotationDTO, string) {
		q := createDraft(t, env, ctx, client.ID)
		sent, err := env.quotations.Send(ctx, q.ID, nil)
		require.NoError(t, err)
		return q, tokenFrom(t, sent)
	}

	t.Run("accept is single shot", func(t *testing.T) {
		q, token := send(t)

		resp, err := env.quotations.SubmitResponse(context.Background(), token,
			&domain.SubmitResponseRequest{ResponseType: "accept", ClientName: "Priya"}, domain.ClientAccessInfo{})
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseDecisionAccepted, resp.Decision)

		got, err := env.quotations.GetByID(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QuotationStatusAccepted, got.Status)

		// responding while Sent records the implicit view first
		history, err := env.quotations.GetStatusHistory(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, countHistory(history, domain.QuotationStatusViewed))
		assert.Equal(t, 1, countHistory(history, domain.QuotationStatusAccepted))

		_, err = env.quotations.SubmitResponse(context.Background(), token,
			&domain.SubmitResponseRequest{ResponseType: "REJECTED"}, domain.ClientAccessInfo{})
		assert.ErrorIs(t, err, domain.ErrDuplicateResponse)

		var count int64
		require.NoError(t, env.db.Model(&domain.QuotationResponse{}).Where("quotation_id = ?", q.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		exists, err := env.notificationRepo.ExistsSince(context.Background(), owner.ID, q.ID,
			domain.NotificationEventQuotationAccepted, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("reject", func(t *testing.T) {
		q, token := send(t)
		_, err := env.quotations.SubmitResponse(context.Background(), token,
			&domain.SubmitResponseRequest{ResponseType: "Rejected"}, domain.ClientAccessInfo{})
		require.NoError(t, err)

		got, err := env.quotations.GetByID(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QuotationStatusRejected, got.Status)
	})

	t.Run("other response leaves the quotation viewed", func(t *testing.T) {
		q, token := send(t)
		resp, err := env.quotations.SubmitResponse(context.Background(), token,
			&domain.SubmitResponseRequest{ResponseType: "question", Message: "Can you do 5 walls?"}, domain.ClientAccessInfo{})
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseDecisionOther, resp.Decision)

		got, err := env.quotations.GetByID(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QuotationStatusViewed, got.Status)
	})
}

func TestQuotationService_Expiry(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")

	t.Run("mark expired is idempotent", func(t *testing.T) {
		q := createDraft(t, env, ctx, client.ID)

		expired, err := env.quotations.MarkExpired(context.Background(), q.ID)
		require.NoError(t, err)
		assert.False(t, expired, "drafts do not expire")

		sent, err := env.quotations.Send(ctx, q.ID, nil)
		require.NoError(t, err)

		expired, err = env.quotations.MarkExpired(context.Background(), q.ID)
		require.NoError(t, err)
		assert.True(t, expired)

		expired, err = env.quotations.MarkExpired(context.Background(), q.ID)
		require.NoError(t, err)
		assert.False(t, expired)

		got, err := env.quotations.GetByID(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QuotationStatusExpired, got.Status)

		_, err = env.quotations.MarkViewed(context.Background(), tokenFrom(t, sent), domain.ClientAccessInfo{})
		assert.ErrorIs(t, err, domain.ErrAccessLinkExpired)
	})

	t.Run("sweep expires overdue open quotations", func(t *testing.T) {
		overdue := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusSent, dec("100"))
		current := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusViewed, dec("100"))
		accepted := testutil.CreateTestQuotation(t, env.db, owner.ID, client.ID, domain.QuotationStatusAccepted, dec("100"))
		past := today().AddDate(0, 0, -2)
		require.NoError(t, env.db.Model(&domain.Quotation{}).
			Where("id IN ?", []uuid.UUID{overdue.ID, accepted.ID}).
			Update("valid_until", past).Error)

		count, err := env.quotations.ExpireOverdue(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		for id, want := range map[uuid.UUID]domain.QuotationStatus{
			overdue.ID:  domain.QuotationStatusExpired,
			current.ID:  domain.QuotationStatusViewed,
			accepted.ID: domain.QuotationStatusAccepted,
		} {
			got, err := env.quotations.GetByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got.Status)
		}
	})
}

func TestQuotationService_DeleteAndCancel(t *testing.T) {
	env := newTestEnv(t)
	owner := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(owner)
	client := testutil.CreateTestClient(t, env.db, owner.ID, "27")

	draft := createDraft(t, env, ctx, client.ID)
	require.NoError(t, env.quotations.Delete(ctx, draft.ID))
	got, err := env.quotations.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotationStatusCancelled, got.Status)
	require.NoError(t, env.quotations.Delete(ctx, draft.ID), "deleting a cancelled quotation is a no-op")

	sentQ := createDraft(t, env, ctx, client.ID)
	sent, err := env.quotations.Send(ctx, sentQ.ID, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, env.quotations.Delete(ctx, sentQ.ID), service.ErrQuotationNotDeletable)

	cancelled, err := env.quotations.Cancel(ctx, sentQ.ID, &domain.CancelQuotationRequest{Reason: "Client went quiet"})
	require.NoError(t, err)
	assert.Equal(t, domain.QuotationStatusCancelled, cancelled.Status)

	_, err = env.quotations.MarkViewed(context.Background(), tokenFrom(t, sent), domain.ClientAccessInfo{})
	assert.ErrorIs(t, err, domain.ErrAccessLinkExpired)

	_, err = env.quotations.Cancel(ctx, sentQ.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
