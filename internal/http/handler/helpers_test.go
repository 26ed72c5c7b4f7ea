package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/straye-as/quotation-api/internal/http/handler"
	"github.com/straye-as/quotation-api/internal/mailer"
	"github.com/straye-as/quotation-api/internal/pricing"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// outboxMailer accepts every message
type outboxMailer struct {
	mu   sync.Mutex
	sent int
}

func (m *outboxMailer) Send(ctx context.Context, to, subject, body string) (*mailer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	return &mailer.Result{MessageID: "<" + uuid.NewString() + "@test>"}, nil
}

// decliningGateway is the sandbox with refunds refused while decline is set
type decliningGateway struct {
	*gateway.Sandbox
	mu      sync.Mutex
	decline bool
}

func (g *decliningGateway) setDecline(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decline = v
}

func (g *decliningGateway) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.mu.Lock()
	decline := g.decline
	g.mu.Unlock()
	if decline {
		return nil, gateway.NewError(gateway.SandboxName, "refund_payment", "BAD_REQUEST_ERROR: insufficient balance")
	}
	return g.Sandbox.RefundPayment(ctx, req)
}

// handlerEnv serves the handlers under test through a chi router. Protected routes
// take the caller from the X-Test-User header so each request can act as a different user.
type handlerEnv struct {
	db      *gorm.DB
	gateway *decliningGateway
	users   map[uuid.UUID]*domain.User
	router  chi.Router
}

const testUserHeader = "X-Test-User"

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	env := &handlerEnv{
		db: db,
		gateway: &decliningGateway{
			Sandbox: gateway.NewSandbox(gateway.Credentials{WebhookSecret: "whsec_test"}, logger),
		},
		users: make(map[uuid.UUID]*domain.User),
	}

	users := repository.NewUserRepository(db)
	quotationRepo := repository.NewQuotationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	email := service.NewEmailDeliveryService(repository.NewEmailLogRepository(db), &outboxMailer{}, 3, 50, logger)
	notifications := service.NewNotificationService(
		repository.NewNotificationRepository(db),
		repository.NewNotificationPreferenceRepository(db),
		users,
		email,
		nil,
		nil,
		&config.NotificationConfig{DedupWindowSeconds: 300},
		logger,
	)
	quotations := service.NewQuotationService(
		db,
		service.QuotationRepositories{
			Quotations:  quotationRepo,
			Clients:     repository.NewClientRepository(db),
			AccessLinks: repository.NewAccessLinkRepository(db),
			Responses:   repository.NewQuotationResponseRepository(db),
			History:     repository.NewStatusHistoryRepository(db),
			Users:       users,
		},
		service.NewNumberSequenceService(repository.NewNumberSequenceRepository(db), "QT", logger),
		pricing.NewCalculator(pricing.NewTaxCalculator("27", decimal.NewFromInt(18))),
		nil,
		email,
		notifications,
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
	payments := service.NewPaymentService(db, quotationRepo, paymentRepo, users, registry, notifications, logger)
	refunds := service.NewRefundService(db, service.RefundRepositories{
		Refunds:    repository.NewRefundRepository(db),
		Timeline:   repository.NewRefundTimelineRepository(db),
		Payments:   paymentRepo,
		Quotations: quotationRepo,
		Users:      users,
	}, registry, notifications, logger)

	quotationHandler := handler.NewQuotationHandler(quotations, logger)
	portalHandler := handler.NewPortalHandler(quotations, logger)
	paymentHandler := handler.NewPaymentHandler(payments, logger)
	refundHandler := handler.NewRefundHandler(refunds, logger)
	notificationHandler := handler.NewNotificationHandler(notifications, nil, logger)

	r := chi.NewRouter()
	r.Route("/portal/quotations/{token}", func(r chi.Router) {
		r.Get("/", portalHandler.View)
		r.Post("/response", portalHandler.Respond)
	})
	r.Group(func(r chi.Router) {
		r.Use(env.identify)
		r.Get("/ws/notifications", notificationHandler.Stream)
		r.Post("/quotations", quotationHandler.Create)
		r.Get("/quotations/{id}", quotationHandler.GetByID)
		r.Post("/quotations/{id}/send", quotationHandler.Send)
		r.Post("/quotations/{id}/cancel", quotationHandler.Cancel)
		r.Get("/quotations/{id}/history", quotationHandler.GetStatusHistory)
		r.Get("/quotations/{id}/payments/summary", paymentHandler.Summary)
		r.Post("/payments/{paymentId}/refunds", refundHandler.Initiate)
		r.Get("/refunds", refundHandler.List)
		r.Post("/refunds/{id}/approve", refundHandler.Approve)
		r.Post("/refunds/{id}/process", refundHandler.Process)
		r.Post("/refunds/{id}/retry", refundHandler.Retry)
		r.Get("/notifications/count", notificationHandler.GetUnreadCount)
	})
	env.router = r

	return env
}

func (e *handlerEnv) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(testUserHeader))
		if err == nil {
			if user, ok := e.users[id]; ok {
				r = r.WithContext(auth.WithUserContext(r.Context(), &auth.UserContext{
					UserID:      user.ID,
					DisplayName: user.DisplayName,
					Email:       user.Email,
					Roles:       []domain.UserRoleType{user.Role},
				}))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (e *handlerEnv) user(t *testing.T, role domain.UserRoleType) *domain.User {
	t.Helper()
	u := testutil.CreateTestUser(t, e.db, role)
	e.users[u.ID] = u
	return u
}

// do sends a request as user (nil for anonymous) with body encoded as JSON
func (e *handlerEnv) do(t *testing.T, user *domain.User, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != nil {
		req.Header.Set(testUserHeader, user.ID.String())
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
