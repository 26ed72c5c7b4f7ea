package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/database"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/http/handler"
	"github.com/straye-as/quotation-api/internal/http/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Pinger is an optional dependency checked by /health/ready, e.g. the Redis dedup cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth         *handler.AuthHandler
	Quotation    *handler.QuotationHandler
	Portal       *handler.PortalHandler
	Payment      *handler.PaymentHandler
	Refund       *handler.RefundHandler
	Adjustment   *handler.AdjustmentHandler
	Notification *handler.NotificationHandler
	Admin        *handler.AdminHandler
}

type Router struct {
	cfg            *config.Config
	logger         *zap.Logger
	db             *gorm.DB
	authMiddleware *auth.Middleware
	rateLimiter    *middleware.RateLimiter
	handlers       Handlers
	dependencies   map[string]Pinger
}

// NewRouter creates a router. dependencies are extra readiness checks keyed by name and may be nil.
func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	handlers Handlers,
	dependencies map[string]Pinger,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		handlers:       handlers,
		dependencies:   dependencies,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if rt.cfg.Server.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, middleware.OriginOf(rt.cfg.Quotation.PortalBaseURL), rt.logger))

	// Health check (basic liveness probe)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Database health check (readiness probe with detailed stats)
	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		stats, err := database.HealthCheckWithStats(r.Context(), rt.db)
		if err != nil {
			rt.logger.Error("Database health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"error":   err.Error(),
				"service": "database",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"service": "database",
			"stats": map[string]interface{}{
				"max_open_connections": stats.MaxOpenConnections,
				"open_connections":     stats.OpenConnections,
				"in_use":               stats.InUse,
				"idle":                 stats.Idle,
				"wait_count":           stats.WaitCount,
				"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
			},
		})
	})

	// Combined readiness check (checks all dependencies)
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]interface{})
		allHealthy := true

		record := func(name string, err error) {
			if err != nil {
				rt.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
				checks[name] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
				allHealthy = false
				return
			}
			checks[name] = map[string]interface{}{"status": "healthy"}
		}

		record("database", database.HealthCheck(r.Context(), rt.db))
		for name, dep := range rt.dependencies {
			record(name, dep.Ping(r.Context()))
		}

		status, code := "healthy", http.StatusOK
		if !allHealthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status": status,
			"checks": checks,
		})
	})

	h := rt.handlers

	// Provider callbacks authenticate by signature, not by session
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(rt.rateLimiter.LimitByIP)
		r.Post("/payments/{provider}", h.Payment.Webhook)
		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware.Authenticate)
			r.Use(rt.authMiddleware.RequireAdmin)
			r.Post("/email/delivered", h.Admin.EmailDelivered)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public client portal, addressed by access token
		r.Route("/portal/quotations/{token}", func(r chi.Router) {
			r.Use(rt.rateLimiter.LimitPortal)
			r.Get("/", h.Portal.View)
			r.Post("/response", h.Portal.Respond)
		})

		// Browsers cannot set headers on websocket upgrades
		r.With(rt.authMiddleware.AuthenticateQueryToken).Get("/ws/notifications", h.Notification.Stream)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware.Authenticate)
			r.Use(rt.rateLimiter.Limit)

			r.Get("/auth/me", h.Auth.Me)

			r.Route("/quotations", func(r chi.Router) {
				r.Get("/", h.Quotation.List)
				r.Post("/", h.Quotation.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Quotation.GetByID)
					r.Put("/", h.Quotation.Update)
					r.Delete("/", h.Quotation.Delete)

					// Lifecycle
					r.Post("/send", h.Quotation.Send)
					r.Post("/resend", h.Quotation.Resend)
					r.Post("/cancel", h.Quotation.Cancel)
					r.With(rt.authMiddleware.RequireRole(domain.RoleManager)).Post("/expire", h.Quotation.Expire)
					r.Get("/history", h.Quotation.GetStatusHistory)
					r.Get("/links", h.Quotation.ListAccessLinks)
					r.Get("/response", h.Quotation.GetResponse)

					// Payments
					r.Get("/payments", h.Payment.List)
					r.Post("/payments", h.Payment.RecordManual)
					r.Get("/payments/summary", h.Payment.Summary)
					r.Post("/payments/gateway", h.Payment.InitiateGateway)

					// Adjustments
					r.Get("/adjustments", h.Adjustment.List)
					r.Post("/adjustments", h.Adjustment.Create)
				})
			})

			r.Route("/payments/{paymentId}", func(r chi.Router) {
				r.Put("/", h.Payment.UpdateManual)
				r.Post("/sync", h.Payment.Sync)
				r.Post("/refunds", h.Refund.Initiate)
			})

			// Money-moving decisions need a finance role; the amount-based level stays advisory
			financeOnly := rt.authMiddleware.RequireRole(domain.RoleManager, domain.RoleAccountant)

			r.Route("/refunds", func(r chi.Router) {
				r.Get("/", h.Refund.List)
				r.With(financeOnly).Post("/bulk-process", h.Refund.BulkProcess)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Refund.GetByID)
					r.Get("/timeline", h.Refund.Timeline)
					r.Get("/gateway-status", h.Refund.GatewayStatus)
					r.Group(func(r chi.Router) {
						r.Use(financeOnly)
						r.Post("/approve", h.Refund.Approve)
						r.Post("/reject", h.Refund.Reject)
						r.Post("/process", h.Refund.Process)
						r.Post("/retry", h.Refund.Retry)
						r.Post("/reverse", h.Refund.Reverse)
					})
				})
			})

			r.Route("/adjustments/{adjustmentId}", func(r chi.Router) {
				r.Get("/", h.Adjustment.GetByID)
				r.Get("/timeline", h.Adjustment.Timeline)
				r.With(financeOnly).Post("/approve", h.Adjustment.Approve)
				r.With(financeOnly).Post("/reject", h.Adjustment.Reject)
				r.With(financeOnly).Post("/apply", h.Adjustment.Apply)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.Notification.List)
				r.Get("/count", h.Notification.GetUnreadCount)
				r.Put("/read-all", h.Notification.MarkAllAsRead)
				r.Get("/preferences", h.Notification.GetPreferences)
				r.Put("/preferences", h.Notification.UpdatePreferences)
				r.Get("/{id}", h.Notification.GetByID)
				r.Put("/{id}/read", h.Notification.MarkAsRead)
				r.Put("/{id}/archive", h.Notification.Archive)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(rt.authMiddleware.RequireAdmin)
				r.Get("/jobs", h.Admin.ListJobs)
				r.Post("/jobs/{name}/run", h.Admin.RunJob)
			})
		})
	})

	return r
}
