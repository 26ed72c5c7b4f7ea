package service_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/straye-as/quotation-api/internal/cache"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func viewedEvent(recipient, quotationID uuid.UUID) service.PublishRequest {
	return service.PublishRequest{
		RecipientID: recipient,
		EventType:   domain.NotificationEventQuotationViewed,
		EntityType:  domain.EntityTypeQuotation,
		EntityID:    quotationID,
		Title:       "Quotation viewed",
		Message:     "Acme Traders opened QT-2026-00001",
	}
}

func countNotifications(t *testing.T, env *testEnv, recipient uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, env.db.Model(&domain.Notification{}).Where("recipient_id = ?", recipient).Count(&count).Error)
	return count
}

func TestNotificationService_Dedup(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := context.Background()
	quotationID := uuid.New()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	env.notifications.SetClock(func() time.Time { return now })

	first, err := env.notifications.Publish(ctx, viewedEvent(user.ID, quotationID))
	require.NoError(t, err)
	assert.Equal(t, service.PublishDispatched, first.Outcome)
	assert.NotEqual(t, uuid.Nil, first.NotificationID)

	now = now.Add(4 * time.Minute)
	second, err := env.notifications.Publish(ctx, viewedEvent(user.ID, quotationID))
	require.NoError(t, err)
	assert.Equal(t, service.PublishSuppressedDuplicate, second.Outcome)
	assert.True(t, second.Suppressed())
	assert.ErrorIs(t, second.Err(), domain.ErrDuplicateNotification)
	assert.Equal(t, int64(1), countNotifications(t, env, user.ID))

	t.Run("other entities are not duplicates", func(t *testing.T) {
		res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
		require.NoError(t, err)
		assert.Equal(t, service.PublishDispatched, res.Outcome)
	})

	t.Run("window elapses", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, quotationID))
		require.NoError(t, err)
		assert.Equal(t, service.PublishDispatched, res.Outcome)
	})

	t.Run("missing recipient", func(t *testing.T) {
		_, err := env.notifications.Publish(ctx, viewedEvent(uuid.Nil, quotationID))
		assert.Error(t, err)
	})
}

func TestNotificationService_Preferences(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(user)

	t.Run("defaults are in-app only", func(t *testing.T) {
		res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
		require.NoError(t, err)
		assert.Equal(t, []domain.NotificationChannel{domain.ChannelInApp}, []domain.NotificationChannel(res.Channels))
		assert.Equal(t, 0, env.mailer.count())
	})

	enabled := true
	_, err := env.notifications.UpdatePreferences(ctx, &domain.UpdateNotificationPreferenceRequest{EmailEnabled: &enabled})
	require.NoError(t, err)

	t.Run("email once enabled", func(t *testing.T) {
		res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
		require.NoError(t, err)
		assert.Len(t, res.Channels, 2)
		assert.Equal(t, 1, env.mailer.count())
	})

	muteUntil := time.Now().UTC().Add(time.Hour)
	_, err = env.notifications.UpdatePreferences(ctx, &domain.UpdateNotificationPreferenceRequest{
		EventSettings: domain.PreferenceSettings{
			domain.NotificationEventQuotationViewed: {
				domain.ChannelInApp: {Enabled: true, MutedUntil: &muteUntil},
				domain.ChannelEmail: {Enabled: false},
			},
		},
	})
	require.NoError(t, err)

	t.Run("muted and disabled channels suppress the event", func(t *testing.T) {
		res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
		require.NoError(t, err)
		assert.Equal(t, service.PublishSuppressedPreference, res.Outcome)
		assert.Equal(t, uuid.Nil, res.NotificationID)
	})

	t.Run("other events still go out", func(t *testing.T) {
		req := viewedEvent(user.ID, uuid.New())
		req.EventType = domain.NotificationEventQuotationAccepted
		res, err := env.notifications.Publish(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, service.PublishDispatched, res.Outcome)
	})

	prefs, err := env.notifications.GetPreferences(ctx)
	require.NoError(t, err)
	assert.True(t, prefs.EmailEnabled)
	assert.Contains(t, prefs.EventSettings, domain.NotificationEventQuotationViewed)
}

func TestNotificationService_ChannelFailures(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(user)

	enabled := true
	_, err := env.notifications.UpdatePreferences(ctx, &domain.UpdateNotificationPreferenceRequest{EmailEnabled: &enabled})
	require.NoError(t, err)

	env.pusher.fail = true
	res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
	require.NoError(t, err, "channel failures are not errors")
	assert.Equal(t, service.PublishPersistedChannelFailed, res.Outcome)
	assert.Equal(t, []domain.NotificationChannel{domain.ChannelInApp}, res.FailedChannels)
	assert.Equal(t, 1, env.mailer.count(), "email still went out")

	stored, err := env.notifications.GetByID(ctx, res.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDeliveryPartial, stored.DeliveryStatus)

	env.mailer.setFail(true)
	res, err = env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
	require.NoError(t, err)
	assert.Len(t, res.FailedChannels, 2)
	stored, err = env.notifications.GetByID(ctx, res.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDeliveryFailed, stored.DeliveryStatus)

	var failedLogs int64
	require.NoError(t, env.db.Model(&domain.EmailDeliveryLog{}).Where("status = ?", domain.EmailStatusFailed).Count(&failedLogs).Error)
	assert.Equal(t, int64(1), failedLogs)
}

func TestNotificationService_BulkPublish(t *testing.T) {
	env := newTestEnv(t)
	a := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	b := testutil.CreateTestUser(t, env.db, domain.RoleAdmin)
	entity := uuid.New()

	_, err := env.notifications.Publish(context.Background(), viewedEvent(b.ID, entity))
	require.NoError(t, err)

	results := env.notifications.BulkPublish(context.Background(), []uuid.UUID{a.ID, b.ID, a.ID, uuid.Nil}, viewedEvent(uuid.Nil, entity))
	require.Len(t, results, 2, "nil and repeated recipients are dropped")
	assert.Equal(t, a.ID, results[0].RecipientID)
	assert.Equal(t, service.PublishDispatched, results[0].Result.Outcome)
	assert.Equal(t, b.ID, results[1].RecipientID)
	assert.Equal(t, service.PublishSuppressedDuplicate, results[1].Result.Outcome)
	assert.NoError(t, results[1].Err)
}

func TestNotificationService_Inbox(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	other := testutil.CreateTestUser(t, env.db, domain.RoleSalesRep)
	ctx := userContext(user)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := env.notifications.Publish(ctx, viewedEvent(user.ID, uuid.New()))
		require.NoError(t, err)
		ids = append(ids, res.NotificationID)
	}
	foreign, err := env.notifications.Publish(ctx, viewedEvent(other.ID, uuid.New()))
	require.NoError(t, err)

	unread, err := env.notifications.GetUnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	require.NoError(t, env.notifications.MarkAsRead(ctx, ids[0]))
	assert.ErrorIs(t, env.notifications.MarkAsRead(ctx, foreign.NotificationID), domain.ErrNotFound)
	_, err = env.notifications.GetByID(ctx, foreign.NotificationID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	page, err := env.notifications.List(ctx, 1, 20, true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	require.NoError(t, env.notifications.Archive(ctx, ids[1]))
	page, err = env.notifications.List(ctx, 1, 20, false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	page, err = env.notifications.List(ctx, 1, 20, false, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	flipped, err := env.notifications.MarkAllAsRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped)

	unread, err = env.notifications.GetUnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, unread)

	_, err = env.notifications.List(context.Background(), 1, 20, false, false)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNotificationService_RedisGuard(t *testing.T) {
	db := testutil.SetupTestDB(t)
	user := testutil.CreateTestUser(t, db, domain.RoleSalesRep)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := service.NewNotificationService(
		repository.NewNotificationRepository(db),
		repository.NewNotificationPreferenceRepository(db),
		repository.NewUserRepository(db),
		nil,
		&fakePusher{},
		cache.NewRedisDedupGuard(client),
		&config.NotificationConfig{DedupWindowSeconds: 300},
		zap.NewNop(),
	)
	ctx := context.Background()
	entity := uuid.New()

	res, err := svc.Publish(ctx, viewedEvent(user.ID, entity))
	require.NoError(t, err)
	assert.Equal(t, service.PublishDispatched, res.Outcome)

	res, err = svc.Publish(ctx, viewedEvent(user.ID, entity))
	require.NoError(t, err)
	assert.Equal(t, service.PublishSuppressedDuplicate, res.Outcome)

	t.Run("database check still applies when redis is down", func(t *testing.T) {
		mr.Close()
		res, err := svc.Publish(ctx, viewedEvent(user.ID, entity))
		require.NoError(t, err)
		assert.Equal(t, service.PublishSuppressedDuplicate, res.Outcome)

		res, err = svc.Publish(ctx, viewedEvent(user.ID, uuid.New()))
		require.NoError(t, err)
		assert.Equal(t, service.PublishDispatched, res.Outcome)
	})
}

func TestEmailDeliveryService_RetryCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mailer.setFail(true)
	entry, err := env.email.Send(ctx, nil, "buyer@acme.example", "Quotation QT-1", "body")
	require.Error(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EmailStatusFailed, entry.Status)
	assert.Zero(t, entry.RetryCount)

	for i := 1; i <= 3; i++ {
		report, err := env.email.RetryFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Attempted, "sweep %d", i)
		assert.Equal(t, 1, report.Failed)
	}

	report, err := env.email.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted, "retries stop at the cap")

	var stored domain.EmailDeliveryLog
	require.NoError(t, env.db.First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, domain.EmailStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.LastError)
}

func TestEmailDeliveryService_RetryRecovers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mailer.setFail(true)
	entry, err := env.email.Send(ctx, nil, "buyer@acme.example", "Quotation QT-1", "body")
	require.Error(t, err)

	env.mailer.setFail(false)
	report, err := env.email.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	var stored domain.EmailDeliveryLog
	require.NoError(t, env.db.First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, domain.EmailStatusSent, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotEmpty(t, stored.MessageID)

	require.NoError(t, env.email.MarkDelivered(ctx, stored.MessageID))
	require.NoError(t, env.db.First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, domain.EmailStatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)

	assert.NoError(t, env.email.MarkDelivered(ctx, stored.MessageID), "idempotent")
	assert.ErrorIs(t, env.email.MarkDelivered(ctx, "<unknown@test>"), domain.ErrNotFound)
}
