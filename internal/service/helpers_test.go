package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/straye-as/quotation-api/internal/mailer"
	"github.com/straye-as/quotation-api/internal/pricing"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test"

// fakeMailer records messages and fails while fail is set
type fakeMailer struct {
	mu   sync.Mutex
	fail bool
	sent []string
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) (*mailer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("smtp: connection refused")
	}
	m.sent = append(m.sent, to)
	return &mailer.Result{MessageID: "<" + uuid.NewString() + "@test>"}, nil
}

func (m *fakeMailer) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakePusher records pushes per user and fails while fail is set
type fakePusher struct {
	mu     sync.Mutex
	fail   bool
	pushes map[uuid.UUID]int
}

func (p *fakePusher) SendToUser(ctx context.Context, userID uuid.UUID, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("no live session")
	}
	if p.pushes == nil {
		p.pushes = make(map[uuid.UUID]int)
	}
	p.pushes[userID]++
	return nil
}

// flakyGateway is the sandbox with refunds failing for chosen refund ids
type flakyGateway struct {
	*gateway.Sandbox
	mu      sync.Mutex
	failFor map[string]bool
	// afterRefund runs once the sandbox has paid a refund out
	afterRefund func(gateway.RefundRequest)
}

func (g *flakyGateway) failRefund(refundID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failFor[refundID.String()] = true
}

func (g *flakyGateway) allowRefund(refundID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failFor, refundID.String())
}

func (g *flakyGateway) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.mu.Lock()
	fail := g.failFor[req.IdempotencyKey]
	g.mu.Unlock()
	if fail {
		return nil, gateway.NewError(gateway.SandboxName, "refund_payment", "BAD_REQUEST_ERROR: insufficient balance")
	}
	result, err := g.Sandbox.RefundPayment(ctx, req)
	if err == nil && g.afterRefund != nil {
		g.afterRefund(req)
	}
	return result, err
}

// testEnv wires every service against one in-memory database
type testEnv struct {
	db      *gorm.DB
	mailer  *fakeMailer
	pusher  *fakePusher
	gateway *flakyGateway

	email         *service.EmailDeliveryService
	notifications *service.NotificationService
	quotations    *service.QuotationService
	payments      *service.PaymentService
	refunds       *service.RefundService
	adjustments   *service.AdjustmentService

	notificationRepo *repository.NotificationRepository
	paymentRepo      *repository.PaymentRepository
	emailLogRepo     *repository.EmailLogRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	env := &testEnv{
		db:     db,
		mailer: &fakeMailer{},
		pusher: &fakePusher{},
		gateway: &flakyGateway{
			Sandbox: gateway.NewSandbox(gateway.Credentials{WebhookSecret: testWebhookSecret}, logger),
			failFor: make(map[string]bool),
		},
	}

	users := repository.NewUserRepository(db)
	quotationRepo := repository.NewQuotationRepository(db)
	env.notificationRepo = repository.NewNotificationRepository(db)
	env.paymentRepo = repository.NewPaymentRepository(db)
	env.emailLogRepo = repository.NewEmailLogRepository(db)

	env.email = service.NewEmailDeliveryService(env.emailLogRepo, env.mailer, 3, 50, logger)
	env.notifications = service.NewNotificationService(
		env.notificationRepo,
		repository.NewNotificationPreferenceRepository(db),
		users,
		env.email,
		env.pusher,
		nil,
		&config.NotificationConfig{DedupWindowSeconds: 300},
		logger,
	)

	calculator := pricing.NewCalculator(pricing.NewTaxCalculator("27", decimal.NewFromInt(18)))
	numbers := service.NewNumberSequenceService(repository.NewNumberSequenceRepository(db), "QT", logger)
	env.quotations = service.NewQuotationService(
		db,
		service.QuotationRepositories{
			Quotations:  quotationRepo,
			Clients:     repository.NewClientRepository(db),
			AccessLinks: repository.NewAccessLinkRepository(db),
			Responses:   repository.NewQuotationResponseRepository(db),
			History:     repository.NewStatusHistoryRepository(db),
			Users:       users,
		},
		numbers,
		calculator,
		nil,
		env.email,
		env.notifications,
		&config.QuotationConfig{
			NumberPrefix:       "QT",
			DefaultCurrency:    "INR",
			AccessLinkTTLHours: 720,
			PortalBaseURL:      "https://portal.example.com/q",
			ExpiringSoonDays:   3,
		},
		"snapshots",
		logger,
	)

	registry := gateway.NewRegistry(gateway.SandboxName, env.gateway)
	env.payments = service.NewPaymentService(db, quotationRepo, env.paymentRepo, users, registry, env.notifications, logger)
	env.refunds = service.NewRefundService(db, service.RefundRepositories{
		Refunds:    repository.NewRefundRepository(db),
		Timeline:   repository.NewRefundTimelineRepository(db),
		Payments:   env.paymentRepo,
		Quotations: quotationRepo,
		Users:      users,
	}, registry, env.notifications, logger)
	env.adjustments = service.NewAdjustmentService(db, repository.NewAdjustmentRepository(db), repository.NewAdjustmentTimelineRepository(db),
		quotationRepo, env.paymentRepo, users, calculator.Tax(), env.notifications, logger)

	return env
}

func userContext(user *domain.User) context.Context {
	return auth.WithUserContext(context.Background(), &auth.UserContext{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Roles:       []domain.UserRoleType{user.Role},
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// createDraft creates a priced draft through the service: one line of 10,000 with a 10% discount
func createDraft(t *testing.T, env *testEnv, ctx context.Context, clientID uuid.UUID) *domain.QuotationDTO {
	t.Helper()
	q, err := env.quotations.Create(ctx, &domain.CreateQuotationRequest{
		ClientID:           clientID,
		Title:              "Office fit-out",
		QuotationDate:      today(),
		ValidUntil:         today().AddDate(0, 0, 30),
		DiscountPercentage: dec("10"),
		Items: []domain.LineItemInput{
			{Name: "Partition walls", Quantity: dec("4"), UnitRate: dec("2500")},
		},
	})
	require.NoError(t, err)
	return q
}
